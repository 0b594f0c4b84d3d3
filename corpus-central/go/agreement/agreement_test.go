package agreement

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/testutils/unittest"
)

func coderRow(id, primary string) types.CoderRow {
	return types.CoderRow{
		Source:    types.RedditPost,
		DataID:    id,
		Timestamp: "2023-06-01T00:00:00Z",
		RawText:   "text " + id,
		URL:       "https://www.reddit.com/r/fermata/comments/" + id,
		Coding: types.CoderColumns{
			PrimaryCode: primary,
			Confidence:  "high",
		},
	}
}

func TestMerge(t *testing.T) {
	unittest.SmallTest(t)
	coder1 := []types.CoderRow{
		coderRow("a", "BUG"),
		coderRow("b", "BUG"),
		coderRow("c", "FEATURE"),
	}
	coder2 := []types.CoderRow{
		coderRow("c", "FEATURE"),
		coderRow("b", "FEATURE"),
		coderRow("d", "DOCS"),
	}

	merged, dropped1, dropped2 := Merge(coder1, coder2)
	require.Equal(t, 1, dropped1)
	require.Equal(t, 1, dropped2)
	require.Len(t, merged, 2)

	// Coder1's row order is preserved and both codings are carried.
	require.Equal(t, "b", merged[0].DataID)
	require.Equal(t, "BUG", merged[0].Coder1.PrimaryCode)
	require.Equal(t, "FEATURE", merged[0].Coder2.PrimaryCode)
	require.Equal(t, "c", merged[1].DataID)
	require.Equal(t, "text b", merged[0].RawText)
}

func TestScore(t *testing.T) {
	unittest.SmallTest(t)
	pair := func(id, c1, c2 string) types.PilotRecord {
		return types.PilotRecord{
			DataID: id,
			Coder1: types.CoderColumns{PrimaryCode: c1},
			Coder2: types.CoderColumns{PrimaryCode: c2},
		}
	}
	merged := []types.PilotRecord{
		pair("a", "BUG", "BUG"),
		pair("b", "BUG", "FEATURE"),
		pair("c", "FEATURE", "FEATURE"),
		pair("d", "BUG", "BUG"),
		// Blank primaries never count as pairs.
		pair("e", "", "BUG"),
	}

	r := Score(merged, DefaultThreshold)
	require.Equal(t, 4, r.TotalPairs)
	require.Equal(t, 3, r.TotalAgreements)
	require.InDelta(t, 0.75, r.AgreementRate, 1e-9)
	// po=0.75, pe=(3*2+1*2)/16=0.5, kappa=(0.75-0.5)/(1-0.5).
	require.InDelta(t, 0.5, r.CohenKappa, 1e-9)
	require.Equal(t, "Moderate", r.Interpretation)
	require.False(t, r.MeetsThreshold)

	require.Equal(t, []string{"BUG", "FEATURE"}, r.Labels)
	require.Equal(t, [][]int{{2, 1}, {0, 1}}, r.Matrix)
	require.Equal(t, []Disagreement{{Coder1: "BUG", Coder2: "FEATURE", Count: 1}}, r.TopDisagreements)
}

func TestScore_PerfectAgreement(t *testing.T) {
	unittest.SmallTest(t)
	merged := []types.PilotRecord{}
	for _, id := range []string{"a", "b", "c"} {
		merged = append(merged, types.PilotRecord{
			DataID: id,
			Coder1: types.CoderColumns{PrimaryCode: "BUG"},
			Coder2: types.CoderColumns{PrimaryCode: "BUG"},
		})
	}

	r := Score(merged, DefaultThreshold)
	require.Equal(t, 1.0, r.CohenKappa)
	require.Equal(t, "Almost Perfect", r.Interpretation)
	require.True(t, r.MeetsThreshold)
	require.Empty(t, r.TopDisagreements)
}

func TestRun(t *testing.T) {
	unittest.SmallTest(t)
	dir := t.TempDir()
	coder1Path := filepath.Join(dir, "pilot_coder1.csv")
	coder2Path := filepath.Join(dir, "pilot_coder2.csv")
	require.NoError(t, types.WriteCoderRows(coder1Path, []types.CoderRow{
		coderRow("a", "BUG"),
		coderRow("b", "BUG"),
		coderRow("c", "FEATURE"),
		coderRow("d", "BUG"),
		coderRow("e", ""),
		coderRow("f", "BUG"),
	}))
	require.NoError(t, types.WriteCoderRows(coder2Path, []types.CoderRow{
		coderRow("a", "BUG"),
		coderRow("b", "FEATURE"),
		coderRow("c", "FEATURE"),
		coderRow("d", "BUG"),
		coderRow("e", "BUG"),
		coderRow("g", "DOCS"),
	}))
	outDir := filepath.Join(dir, "agreement")

	results, err := Run(coder1Path, coder2Path, outDir, DefaultThreshold)
	require.NoError(t, err)
	require.InDelta(t, 0.5, results.CohenKappa, 1e-9)
	require.Equal(t, 4, results.TotalPairs)
	require.Equal(t, 1, results.DroppedCoder1)
	require.Equal(t, 1, results.DroppedCoder2)
	require.False(t, results.MeetsThreshold)

	merged, err := types.ReadPilotRecords(filepath.Join(outDir, MergedFile))
	require.NoError(t, err)
	require.Len(t, merged, 5)
	require.Equal(t, "a", merged[0].DataID)
	require.Equal(t, "e", merged[4].DataID)

	review, err := types.ReadPilotRecords(filepath.Join(outDir, DisagreementsFile))
	require.NoError(t, err)
	require.Len(t, review, 1)
	require.Equal(t, "b", review[0].DataID)

	b, err := os.ReadFile(filepath.Join(outDir, ResultsFile))
	require.NoError(t, err)
	onDisk := Results{}
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.InDelta(t, 0.5, onDisk.CohenKappa, 1e-9)
	require.Equal(t, "Moderate", onDisk.Interpretation)
	require.Equal(t, 0.70, onDisk.Threshold)
	require.Equal(t, 1, onDisk.DroppedCoder1)
	require.Len(t, onDisk.TopDisagreements, 1)
	// The confusion matrix stays out of the serialized results.
	require.Empty(t, onDisk.Labels)

	// A lower bar flips the verdict.
	relaxed, err := Run(coder1Path, coder2Path, outDir, 0.40)
	require.NoError(t, err)
	require.True(t, relaxed.MeetsThreshold)
}
