package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/testutils/unittest"
)

const testSuffix = "20250301_120000"

func testCtx() context.Context {
	return now.TimeTravelingContext(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
}

func dryRunConfig() *config.InstanceConfig {
	return &config.InstanceConfig{
		Project: "fermata",
		Sources: config.SourcesConfig{
			Github: config.GithubConfig{
				Enabled:  true,
				Repos:    []string{"fermata-io/fermata"},
				MaxItems: 10,
				PerPage:  100,
			},
			StackExchange: config.StackExchangeConfig{
				Enabled:  true,
				Site:     "stackoverflow",
				Tags:     []string{"fermata"},
				MaxItems: 10,
				PerPage:  100,
			},
			Reddit: config.RedditConfig{
				Enabled:    true,
				Subreddits: []string{"fermata", "selfhosted"},
				Keywords:   []string{"fermata"},
				MaxItems:   10,
				PerPage:    100,
			},
			HackerNews: config.HackerNewsConfig{
				Enabled:  true,
				Queries:  []string{"fermata"},
				MaxItems: 10,
				PerPage:  50,
			},
			GoogleGroups: config.GoogleGroupsConfig{
				Enabled:  true,
				Groups:   []string{"fermata-users"},
				MaxItems: 10,
			},
		},
	}
}

func TestRun_DryRun(t *testing.T) {
	unittest.SmallTest(t)
	outDir := t.TempDir()

	stats, err := Run(testCtx(), dryRunConfig(), outDir, true)
	require.NoError(t, err)
	require.NotEmpty(t, stats.RunID)
	require.Equal(t, "2025-03-01T12:00:00Z", stats.Started)
	require.Equal(t, 50, stats.TotalRecords)
	require.Equal(t, 0, stats.TotalErrors)

	require.Len(t, stats.Sources, 5)
	families := []types.SourceFamily{}
	for _, s := range stats.Sources {
		families = append(families, s.Source)
		require.Equal(t, types.CollectionOK, s.Status)
		require.Equal(t, 10, s.Records)
		require.Equal(t, 0, s.Errors)
	}
	require.Equal(t, types.AllFamilies, families)

	records, err := types.ReadRecords(filepath.Join(outDir, "raw", "all_records_"+testSuffix+".csv"))
	require.NoError(t, err)
	require.Len(t, records, 50)
	perFamily := map[types.SourceFamily]int{}
	for _, r := range records {
		perFamily[r.Source.Family()]++
	}
	for _, fam := range types.AllFamilies {
		require.Equal(t, 10, perFamily[fam])
		famRecords, err := types.ReadRecords(filepath.Join(outDir, "raw", fmt.Sprintf("%s_%s.csv", fam, testSuffix)))
		require.NoError(t, err)
		require.Len(t, famRecords, 10)
	}

	b, err := os.ReadFile(filepath.Join(outDir, "collection_stats.json"))
	require.NoError(t, err)
	onDisk := types.CollectionStats{}
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.Equal(t, stats.RunID, onDisk.RunID)
	require.Equal(t, 50, onDisk.TotalRecords)

	report, err := os.ReadFile(filepath.Join(outDir, "collection_report.md"))
	require.NoError(t, err)
	require.Contains(t, string(report), "# Collection Report: fermata")
	for _, fam := range types.AllFamilies {
		require.Contains(t, string(report), string(fam))
	}
}

func TestRun_LanguageFilter(t *testing.T) {
	unittest.SmallTest(t)
	outDir := t.TempDir()
	cfg := dryRunConfig()
	// The synthetic dry-run text is all English, so a Japanese-only filter
	// drops everything.
	cfg.Languages = []string{"jpn"}

	stats, err := Run(testCtx(), cfg, outDir, true)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalRecords)
	for _, s := range stats.Sources {
		require.Equal(t, types.CollectionOK, s.Status)
		require.Equal(t, 0, s.Records)
	}

	records, err := types.ReadRecords(filepath.Join(outDir, "raw", "all_records_"+testSuffix+".csv"))
	require.NoError(t, err)
	require.Empty(t, records)
	_, err = os.Stat(filepath.Join(outDir, "raw", "github_"+testSuffix+".csv"))
	require.True(t, os.IsNotExist(err))
}

func TestRun_NoSourcesEnabled(t *testing.T) {
	unittest.SmallTest(t)
	_, err := Run(testCtx(), &config.InstanceConfig{Project: "fermata"}, t.TempDir(), true)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no sources are enabled")
}

type fakeSource struct {
	name    types.SourceFamily
	records []types.Record
	errs    []types.ErrorEntry
	err     error
}

func (f *fakeSource) Name() types.SourceFamily { return f.name }

func (f *fakeSource) Search(ctx context.Context) ([]types.Record, []types.ErrorEntry, error) {
	return f.records, f.errs, f.err
}

func TestRunSources_FailureIsolation(t *testing.T) {
	unittest.SmallTest(t)
	outDir := t.TempDir()
	good := &fakeSource{
		name: types.GithubFamily,
		records: []types.Record{
			{
				Source:    types.GithubIssueSource,
				DataID:    "gh_issue_1",
				Timestamp: "2023-05-01T00:00:00Z",
				RawText:   "Crashes on startup",
				AuthorID:  "c0ffee",
				URL:       "https://github.com/fermata-io/fermata/issues/1",
				Metadata:  map[string]interface{}{},
			},
		},
	}
	failed := &fakeSource{name: types.RedditFamily, err: errors.New("boom")}
	blocked := &fakeSource{name: types.GoogleGroupsFamily, err: sources.ErrBlocked}

	cfg := &config.InstanceConfig{Project: "fermata"}
	srcs := []sources.DiscussionSource{good, failed, blocked}
	stats, err := runSources(testCtx(), cfg, srcs, outDir)
	require.NoError(t, err)
	require.Len(t, stats.Sources, 3)

	require.Equal(t, types.CollectionOK, stats.Sources[0].Status)
	require.Equal(t, 1, stats.Sources[0].Records)
	require.Equal(t, 0, stats.Sources[0].Errors)

	require.Equal(t, types.CollectionFailed, stats.Sources[1].Status)
	require.Equal(t, 0, stats.Sources[1].Records)
	require.Equal(t, 1, stats.Sources[1].Errors)
	require.Equal(t, "reddit", stats.Sources[1].ErrorDetails[0].Endpoint)
	require.Equal(t, "boom", stats.Sources[1].ErrorDetails[0].Error)

	// A robots.txt block is a skip, not a failure.
	require.Equal(t, types.CollectionSkipped, stats.Sources[2].Status)
	require.Equal(t, 0, stats.Sources[2].Errors)

	require.Equal(t, 1, stats.TotalRecords)
	require.Equal(t, 1, stats.TotalErrors)

	// Partial results are still written, and the failure makes the report.
	records, err := types.ReadRecords(filepath.Join(outDir, "raw", "all_records_"+testSuffix+".csv"))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "gh_issue_1", records[0].DataID)
	report, err := os.ReadFile(filepath.Join(outDir, "collection_report.md"))
	require.NoError(t, err)
	require.Contains(t, string(report), "boom")
	require.Contains(t, string(report), "skipped")
}

func TestRunSources_ErrorDetailsCapped(t *testing.T) {
	unittest.SmallTest(t)
	errs := []types.ErrorEntry{}
	for i := 0; i < 8; i++ {
		errs = append(errs, types.NewErrorEntry(fmt.Sprintf("endpoint-%d", i), errors.New("timeout"), time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	}
	src := &fakeSource{name: types.HackerNewsFamily, errs: errs}

	cfg := &config.InstanceConfig{Project: "fermata"}
	stats, err := runSources(testCtx(), cfg, []sources.DiscussionSource{src}, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 8, stats.Sources[0].Errors)
	require.Len(t, stats.Sources[0].ErrorDetails, maxErrorDetails)
	require.Equal(t, 8, stats.TotalErrors)
}
