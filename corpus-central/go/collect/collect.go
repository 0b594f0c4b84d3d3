// Package collect runs the enabled discussion sources sequentially and
// persists their combined output.
package collect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hako/durafmt"
	"github.com/olekukonko/tablewriter"

	"go.afterglow.org/research/corpus-central/go/anonymize"
	"go.afterglow.org/research/corpus-central/go/config"
	"go.afterglow.org/research/corpus-central/go/langfilter"
	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/sources/github"
	"go.afterglow.org/research/corpus-central/go/sources/groups"
	"go.afterglow.org/research/corpus-central/go/sources/hackernews"
	"go.afterglow.org/research/corpus-central/go/sources/reddit"
	"go.afterglow.org/research/corpus-central/go/sources/stackexchange"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/now"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/util"
)

const (
	// Number of error details kept per source in the stats, enough for the
	// collection report without flooding it.
	maxErrorDetails = 5

	// Length cap for one error message in the report. Upstream HTTP errors
	// quote response bodies and can run very long.
	maxErrorLen = 200

	// Artifact filename suffix layout.
	fileSuffixFormat = "20060102_150405"
)

// Run executes one collection run: every enabled source in order, language
// filtering, and all artifacts written under outDir. A failing source is
// recorded and never aborts the run; partial results are always saved.
func Run(ctx context.Context, cfg *config.InstanceConfig, outDir string, dryRun bool) (*types.CollectionStats, error) {
	anon := anonymize.New(anonymize.SaltFromEnv(cfg.Anonymization.SaltEnvVar))
	srcs, err := buildSources(ctx, cfg, anon, dryRun)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(srcs) == 0 {
		return nil, skerr.Fmt("no sources are enabled")
	}
	return runSources(ctx, cfg, srcs, outDir)
}

func runSources(ctx context.Context, cfg *config.InstanceConfig, srcs []sources.DiscussionSource, outDir string) (*types.CollectionStats, error) {
	runStart := now.Now(ctx)
	filter := langfilter.New(cfg.Languages)
	rawDir := filepath.Join(outDir, "raw")
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		return nil, skerr.Wrap(err)
	}

	stats := &types.CollectionStats{
		RunID:   uuid.New().String(),
		Started: runStart.UTC().Format(time.RFC3339),
	}
	suffix := runStart.UTC().Format(fileSuffixFormat)
	allRecords := []types.Record{}
	allErrors := []types.ErrorEntry{}
	droppedByLanguage := 0
	for _, src := range srcs {
		sklog.Infof("Collecting %s.", src.Name())
		srcStart := now.Now(ctx)
		records, errorLog, err := src.Search(ctx)
		srcStats := types.SourceStats{
			Source:         src.Name(),
			Status:         types.CollectionOK,
			ElapsedSeconds: now.Now(ctx).Sub(srcStart).Seconds(),
		}
		if err != nil {
			if errors.Is(err, sources.ErrBlocked) {
				sklog.Warningf("%s disallows crawling; skipping.", src.Name())
				srcStats.Status = types.CollectionSkipped
			} else {
				sklog.Errorf("Collection from %s failed: %s", src.Name(), err)
				srcStats.Status = types.CollectionFailed
				errorLog = append(errorLog, types.NewErrorEntry(string(src.Name()), err, now.Now(ctx)))
			}
		}
		kept := records
		if len(cfg.Languages) > 0 {
			kept = make([]types.Record, 0, len(records))
			for _, r := range records {
				if filter.Include(r.RawText) {
					kept = append(kept, r)
				} else {
					droppedByLanguage++
				}
			}
		}
		srcStats.Records = len(kept)
		srcStats.Errors = len(errorLog)
		srcStats.ErrorDetails = errorLog
		if len(srcStats.ErrorDetails) > maxErrorDetails {
			srcStats.ErrorDetails = srcStats.ErrorDetails[:maxErrorDetails]
		}
		stats.Sources = append(stats.Sources, srcStats)
		allErrors = append(allErrors, errorLog...)
		if len(kept) > 0 {
			famFile := filepath.Join(rawDir, fmt.Sprintf("%s_%s.csv", src.Name(), suffix))
			if err := types.WriteRecords(famFile, kept); err != nil {
				return nil, skerr.Wrap(err)
			}
			sklog.Infof("Wrote %d %s records to %s.", len(kept), src.Name(), famFile)
		}
		allRecords = append(allRecords, kept...)
	}
	if droppedByLanguage > 0 {
		sklog.Infof("Language filter dropped %d records.", droppedByLanguage)
	}
	stats.TotalRecords = len(allRecords)
	stats.TotalErrors = len(allErrors)
	stats.ElapsedSeconds = now.Now(ctx).Sub(runStart).Seconds()

	allFile := filepath.Join(rawDir, fmt.Sprintf("all_records_%s.csv", suffix))
	if err := types.WriteRecords(allFile, allRecords); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeStats(filepath.Join(outDir, "collection_stats.json"), stats); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeReport(filepath.Join(outDir, "collection_report.md"), cfg.Project, stats, allErrors); err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("Collection run %s done: %d records, %d errors.", stats.RunID, stats.TotalRecords, stats.TotalErrors)
	return stats, nil
}

// buildSources constructs a DiscussionSource per enabled config section, in
// the fixed collection order.
func buildSources(ctx context.Context, cfg *config.InstanceConfig, anon *anonymize.Anonymizer, dryRun bool) ([]sources.DiscussionSource, error) {
	srcs := []sources.DiscussionSource{}
	if cfg.Sources.Github.Enabled {
		s, err := github.New(ctx, cfg.Sources.Github, anon, dryRun)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		srcs = append(srcs, s)
	}
	if cfg.Sources.StackExchange.Enabled {
		s, err := stackexchange.New(ctx, cfg.Sources.StackExchange, cfg.DateRange, anon, dryRun)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		srcs = append(srcs, s)
	}
	if cfg.Sources.Reddit.Enabled {
		s, err := reddit.New(ctx, cfg.Sources.Reddit, anon, dryRun)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		srcs = append(srcs, s)
	}
	if cfg.Sources.HackerNews.Enabled {
		s, err := hackernews.New(ctx, cfg.Sources.HackerNews, cfg.DateRange, anon, dryRun)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		srcs = append(srcs, s)
	}
	if cfg.Sources.GoogleGroups.Enabled {
		s, err := groups.New(ctx, cfg.Sources.GoogleGroups, anon, dryRun)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		srcs = append(srcs, s)
	}
	return srcs, nil
}

func writeStats(path string, stats *types.CollectionStats) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		b, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return skerr.Wrap(err)
		}
		_, err = w.Write(b)
		return skerr.Wrap(err)
	})
}

func writeReport(path, project string, stats *types.CollectionStats, errs []types.ErrorEntry) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		fmt.Fprintf(w, "# Collection Report: %s\n\n", project)
		fmt.Fprintf(w, "- Run id: `%s`\n", stats.RunID)
		fmt.Fprintf(w, "- Started: %s\n", stats.Started)
		fmt.Fprintf(w, "- Elapsed: %s\n", humanDuration(stats.ElapsedSeconds))
		fmt.Fprintf(w, "- Total records: %d\n", stats.TotalRecords)
		fmt.Fprintf(w, "- Total errors: %d\n\n", stats.TotalErrors)
		fmt.Fprintf(w, "## Per-source results\n\n")
		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"Source", "Status", "Records", "Errors", "Elapsed"})
		for _, s := range stats.Sources {
			table.Append([]string{
				string(s.Source),
				string(s.Status),
				strconv.Itoa(s.Records),
				strconv.Itoa(s.Errors),
				humanDuration(s.ElapsedSeconds),
			})
		}
		table.Render()
		if len(errs) > 0 {
			fmt.Fprintf(w, "\n## Errors\n\n")
			for _, e := range errs {
				fmt.Fprintf(w, "- `%s`: %s (%s)\n", e.Endpoint, util.Truncate(e.Error, maxErrorLen), e.Timestamp)
			}
		}
		return nil
	})
}

func humanDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return durafmt.Parse(d).LimitFirstN(2).String()
}
