package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/corpus-central/go/sources"
	"go.afterglow.org/research/corpus-central/go/tagging"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/testutils/unittest"
)

func taggedRecord(id string, source types.Source, ts, text, primary, period, status, cause string) types.TaggedRecord {
	return types.TaggedRecord{
		CodedRecord: types.CodedRecord{
			Record: types.Record{
				Source:    source,
				DataID:    id,
				Timestamp: ts,
				RawText:   text,
				AuthorID:  "c0ffee",
				URL:       "https://example.com/" + id,
				Metadata:  map[string]interface{}{},
			},
			Coder1: types.CoderColumns{PrimaryCode: primary},
		},
		TemporalPeriod:    period,
		ResolutionStatus:  status,
		RootCauseCategory: cause,
	}
}

// testCorpus pairs two primary codes with two resolution statuses so the
// default chi-square table is [[3,1],[1,3]].
func testCorpus() []types.TaggedRecord {
	const (
		arch = "DESIGN_ARCHITECTURE.SYNC"
		usab = "USABILITY_DX.CONFIG"
	)
	records := []types.TaggedRecord{}
	add := func(source types.Source, ts, primary, status, cause string) {
		id := fmt.Sprintf("rec_%d", len(records))
		text := fmt.Sprintf("Sync fails on large folders, report %d. The database locks up. More detail follows here.", len(records))
		records = append(records, taggedRecord(id, source, ts, text, primary, tagging.PeriodEarlyAdoption, status, cause))
	}
	add(types.GithubIssueSource, "2023-04-05T10:00:00Z", arch, tagging.StatusFixed, tagging.CauseArchitecturalLimitation)
	add(types.GithubIssueSource, "2023-04-12T10:00:00Z", arch, tagging.StatusFixed, tagging.CauseArchitecturalLimitation)
	add(types.GithubIssueSource, "2023-04-19T10:00:00Z", arch, tagging.StatusFixed, tagging.CauseArchitecturalLimitation)
	add(types.GithubIssueSource, "2023-05-03T10:00:00Z", arch, tagging.StatusUnknown, tagging.CauseArchitecturalLimitation)
	add(types.StackOverflowQuestion, "2023-05-10T10:00:00Z", usab, tagging.StatusFixed, tagging.CauseResourceConstraint)
	add(types.StackOverflowQuestion, "2023-05-17T10:00:00Z", usab, tagging.StatusUnknown, tagging.CauseResourceConstraint)
	add(types.StackOverflowQuestion, "2023-05-24T10:00:00Z", usab, tagging.StatusUnknown, tagging.CauseResourceConstraint)
	add(types.StackOverflowQuestion, "2023-04-26T10:00:00Z", usab, tagging.StatusUnknown, tagging.CauseResourceConstraint)
	return records
}

func TestFrequency(t *testing.T) {
	unittest.SmallTest(t)
	records := testCorpus()

	freq, err := frequency(records, "root_cause_category")
	require.NoError(t, err)
	require.Equal(t, []LabelCount{
		{Label: tagging.CauseArchitecturalLimitation, Count: 4},
		{Label: tagging.CauseResourceConstraint, Count: 4},
	}, freq)

	freq, err = frequency(records, "resolution_status")
	require.NoError(t, err)
	require.Equal(t, []LabelCount{
		{Label: tagging.StatusFixed, Count: 4},
		{Label: tagging.StatusUnknown, Count: 4},
	}, freq)

	_, err = frequency(records, "author_id")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown column")
}

func TestContingency(t *testing.T) {
	unittest.SmallTest(t)
	rows, cols, observed, err := contingency(testCorpus(), "primary_code", "resolution_status")
	require.NoError(t, err)
	require.Equal(t, []string{"DESIGN_ARCHITECTURE.SYNC", "USABILITY_DX.CONFIG"}, rows)
	require.Equal(t, []string{tagging.StatusFixed, tagging.StatusUnknown}, cols)
	require.Equal(t, [][]int{{3, 1}, {1, 3}}, observed)
}

func TestChiSquare(t *testing.T) {
	unittest.SmallTest(t)
	cs, err := chiSquare(testCorpus(), Options{}.withDefaults())
	require.NoError(t, err)
	require.NotNil(t, cs)
	require.Equal(t, "primary_code", cs.RowColumn)
	require.Equal(t, "resolution_status", cs.ColColumn)
	require.InDelta(t, 2.0, cs.Statistic, 1e-9)
	require.Equal(t, 1, cs.DegreesOfFreedom)
	require.InDelta(t, 0.1573, cs.PValue, 1e-3)
	require.False(t, cs.Significant)
}

func TestChiSquare_Degenerate(t *testing.T) {
	unittest.SmallTest(t)
	records := testCorpus()
	for i := range records {
		records[i].ResolutionStatus = tagging.StatusUnknown
	}
	cs, err := chiSquare(records, Options{}.withDefaults())
	require.NoError(t, err)
	require.Nil(t, cs)
}

func TestBuildQuote(t *testing.T) {
	unittest.SmallTest(t)

	// Whole sentences up to the cap.
	require.Equal(t, "First sentence. Second one! Third?",
		buildQuote("First sentence. Second one! Third? Fourth.", 100))

	// Decimals and version numbers do not end sentences.
	require.Equal(t, "Upgrade to 1.2.3 breaks sync. Next.",
		buildQuote("Upgrade to 1.2.3 breaks sync. Next.", 100))

	// Appended comment tails are not quotable.
	withComments := sources.AppendComments("Top post text. More.", []string{"Noise."})
	require.Equal(t, "Top post text. More.", buildQuote(withComments, 100))

	// A single overlong sentence is hard-truncated.
	long := ""
	for i := 0; i < 120; i++ {
		long += fmt.Sprintf("w%d ", i)
	}
	quote := buildQuote(long, 100)
	require.Contains(t, quote, "w99")
	require.NotContains(t, quote, "w100")
	require.Contains(t, quote, "...")

	require.Equal(t, "", buildQuote("   \n\t ", 100))
}

func TestQualitativeExamples(t *testing.T) {
	unittest.SmallTest(t)
	quotes := qualitativeExamples(testCorpus())
	// Three per category at most, architectural causes first.
	require.Len(t, quotes, 6)
	for i := 0; i < 3; i++ {
		require.Equal(t, tagging.CauseArchitecturalLimitation, quotes[i].Category)
	}
	for i := 3; i < 6; i++ {
		require.Equal(t, tagging.CauseResourceConstraint, quotes[i].Category)
	}
	require.Equal(t, "rec_0", quotes[0].DataID)
	require.Contains(t, quotes[0].Quote, "Sync fails on large folders")
}

func TestRender(t *testing.T) {
	unittest.SmallTest(t)
	outDir := t.TempDir()

	results, err := Render(context.Background(), testCorpus(), outDir, Options{})
	require.NoError(t, err)
	require.Equal(t, 8, results.TotalRecords)
	require.NotNil(t, results.ChiSquare)
	require.Len(t, results.TopPrimaryCodes, 2)

	b, err := os.ReadFile(filepath.Join(outDir, ResultsFile))
	require.NoError(t, err)
	onDisk := Results{}
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.Equal(t, 8, onDisk.TotalRecords)
	require.InDelta(t, 2.0, onDisk.ChiSquare.Statistic, 1e-9)

	md, err := os.ReadFile(filepath.Join(outDir, ReportFile))
	require.NoError(t, err)
	report := string(md)
	require.Contains(t, report, "# Analysis Report")
	require.Contains(t, report, "## Chi-square: primary_code x resolution_status")
	require.Contains(t, report, "architectural_limitation")
	require.Contains(t, report, "50.0%")

	for _, name := range []string{TimelineFile, HeatmapFile, MatrixFile} {
		svg, err := os.ReadFile(filepath.Join(outDir, VisualizationsDir, name))
		require.NoError(t, err)
		require.Contains(t, string(svg), "<svg")
	}
	timeline, err := os.ReadFile(filepath.Join(outDir, VisualizationsDir, TimelineFile))
	require.NoError(t, err)
	require.Contains(t, string(timeline), "2023-04")
	require.Contains(t, string(timeline), "2023-05")
	matrix, err := os.ReadFile(filepath.Join(outDir, VisualizationsDir, MatrixFile))
	require.NoError(t, err)
	require.Contains(t, string(matrix), tagging.PeriodPreLaunch)

	quotesMD, err := os.ReadFile(filepath.Join(outDir, QuotesMarkdownFile))
	require.NoError(t, err)
	require.Contains(t, string(quotesMD), "## architectural_limitation")
	quotesJSON, err := os.ReadFile(filepath.Join(outDir, QuotesJSONFile))
	require.NoError(t, err)
	quotes := []QuoteExample{}
	require.NoError(t, json.Unmarshal(quotesJSON, &quotes))
	require.Len(t, quotes, 6)
}

func TestRender_EmptyCorpus(t *testing.T) {
	unittest.SmallTest(t)
	outDir := t.TempDir()

	results, err := Render(context.Background(), nil, outDir, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, results.TotalRecords)
	require.Nil(t, results.ChiSquare)

	timeline, err := os.ReadFile(filepath.Join(outDir, VisualizationsDir, TimelineFile))
	require.NoError(t, err)
	require.Contains(t, string(timeline), "no data")
	quotesMD, err := os.ReadFile(filepath.Join(outDir, QuotesMarkdownFile))
	require.NoError(t, err)
	require.Contains(t, string(quotesMD), "No records with usable text")
}
