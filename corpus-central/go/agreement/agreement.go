// Package agreement joins two coders' completed pilot sheets and scores
// inter-rater reliability on the primary code.
package agreement

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.afterglow.org/research/corpus-central/go/stats"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/util"
)

const (
	// DefaultThreshold is the kappa value the pilot must reach before coding
	// proceeds to the full corpus.
	DefaultThreshold = 0.70

	// Number of disagreement pairs kept in the results summary.
	maxTopDisagreements = 10
)

// Agreement artifact filenames, written under the output directory.
const (
	MergedFile        = "pilot_merged.csv"
	ResultsFile       = "cohen_kappa_results.json"
	DisagreementsFile = "disagreements_to_review.csv"
)

// Disagreement is one ordered label pair the coders disagreed on, with how
// often it occurred.
type Disagreement struct {
	Coder1 string `json:"coder1"`
	Coder2 string `json:"coder2"`
	Count  int    `json:"count"`
}

// Results is the agreement summary serialized to cohen_kappa_results.json.
// The confusion matrix is logged and rendered by the CLI but not serialized.
type Results struct {
	CohenKappa       float64        `json:"cohen_kappa"`
	Interpretation   string         `json:"interpretation"`
	AgreementRate    float64        `json:"agreement_rate"`
	TotalAgreements  int            `json:"total_agreements"`
	TotalPairs       int            `json:"total_pairs"`
	Threshold        float64        `json:"threshold"`
	MeetsThreshold   bool           `json:"meets_threshold"`
	DroppedCoder1    int            `json:"dropped_coder1"`
	DroppedCoder2    int            `json:"dropped_coder2"`
	TopDisagreements []Disagreement `json:"top_disagreements"`

	// Confusion matrix over the sorted union of observed primary codes,
	// coder1 on rows and coder2 on columns.
	Labels []string `json:"-"`
	Matrix [][]int  `json:"-"`
}

// Merge inner-joins the two sheets on data_id, preserving coder1's row order.
// Rows present on only one side are dropped and counted, never silently
// discarded.
func Merge(coder1, coder2 []types.CoderRow) (merged []types.PilotRecord, dropped1, dropped2 int) {
	byID := make(map[string]types.CoderRow, len(coder2))
	for _, r := range coder2 {
		byID[r.DataID] = r
	}
	merged = []types.PilotRecord{}
	for _, r1 := range coder1 {
		r2, ok := byID[r1.DataID]
		if !ok {
			dropped1++
			continue
		}
		delete(byID, r1.DataID)
		merged = append(merged, types.PilotRecord{
			Source:    r1.Source,
			DataID:    r1.DataID,
			Timestamp: r1.Timestamp,
			RawText:   r1.RawText,
			URL:       r1.URL,
			Coder1:    r1.Coding,
			Coder2:    r2.Coding,
		})
	}
	dropped2 = len(byID)
	return merged, dropped1, dropped2
}

// Score computes kappa, the raw agreement rate, the confusion matrix and the
// disagreement list over the merged pairs. Pairs where either primary code is
// blank are discarded. DroppedCoder1/DroppedCoder2 are left for the caller.
func Score(merged []types.PilotRecord, threshold float64) *Results {
	labels1 := []string{}
	labels2 := []string{}
	for _, m := range merged {
		c1 := strings.TrimSpace(m.Coder1.PrimaryCode)
		c2 := strings.TrimSpace(m.Coder2.PrimaryCode)
		if c1 == "" || c2 == "" {
			continue
		}
		labels1 = append(labels1, c1)
		labels2 = append(labels2, c2)
	}

	agreements := 0
	disagreements := map[Disagreement]int{}
	for i := range labels1 {
		if labels1[i] == labels2[i] {
			agreements++
		} else {
			disagreements[Disagreement{Coder1: labels1[i], Coder2: labels2[i]}]++
		}
	}

	kappa := stats.CohenKappa(labels1, labels2)
	r := &Results{
		CohenKappa:      kappa,
		Interpretation:  stats.KappaInterpretation(kappa),
		TotalAgreements: agreements,
		TotalPairs:      len(labels1),
		Threshold:       threshold,
		MeetsThreshold:  kappa >= threshold,
	}
	if r.TotalPairs > 0 {
		r.AgreementRate = float64(agreements) / float64(r.TotalPairs)
	}

	r.TopDisagreements = []Disagreement{}
	for d, count := range disagreements {
		d.Count = count
		r.TopDisagreements = append(r.TopDisagreements, d)
	}
	sort.Slice(r.TopDisagreements, func(i, j int) bool {
		a, b := r.TopDisagreements[i], r.TopDisagreements[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.Coder1 != b.Coder1 {
			return a.Coder1 < b.Coder1
		}
		return a.Coder2 < b.Coder2
	})
	r.TopDisagreements = r.TopDisagreements[:util.MinInt(len(r.TopDisagreements), maxTopDisagreements)]

	r.Labels, r.Matrix = confusionMatrix(labels1, labels2)
	return r
}

func confusionMatrix(labels1, labels2 []string) ([]string, [][]int) {
	seen := map[string]bool{}
	for _, l := range labels1 {
		seen[l] = true
	}
	for _, l := range labels2 {
		seen[l] = true
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	matrix := make([][]int, len(labels))
	for i := range matrix {
		matrix[i] = make([]int, len(labels))
	}
	for i := range labels1 {
		matrix[index[labels1[i]]][index[labels2[i]]]++
	}
	return labels, matrix
}

// Run reads the two coder sheets, scores them, and writes the three agreement
// artifacts under outDir.
func Run(coder1Path, coder2Path, outDir string, threshold float64) (*Results, error) {
	coder1, err := types.ReadCoderRows(coder1Path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", coder1Path)
	}
	coder2, err := types.ReadCoderRows(coder2Path)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", coder2Path)
	}

	merged, dropped1, dropped2 := Merge(coder1, coder2)
	if dropped1 > 0 || dropped2 > 0 {
		sklog.Warningf("Dropped %d rows only in %s and %d rows only in %s.", dropped1, coder1Path, dropped2, coder2Path)
	}
	results := Score(merged, threshold)
	results.DroppedCoder1 = dropped1
	results.DroppedCoder2 = dropped2

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := types.WritePilotRecords(filepath.Join(outDir, MergedFile), merged); err != nil {
		return nil, skerr.Wrap(err)
	}
	review := []types.PilotRecord{}
	for _, m := range merged {
		c1 := strings.TrimSpace(m.Coder1.PrimaryCode)
		c2 := strings.TrimSpace(m.Coder2.PrimaryCode)
		if c1 != "" && c2 != "" && c1 != c2 {
			review = append(review, m)
		}
	}
	if err := types.WritePilotRecords(filepath.Join(outDir, DisagreementsFile), review); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeResults(filepath.Join(outDir, ResultsFile), results); err != nil {
		return nil, skerr.Wrap(err)
	}

	sklog.Infof("Cohen's kappa %.4f (%s) over %d pairs; agreement rate %.2f.", results.CohenKappa, results.Interpretation, results.TotalPairs, results.AgreementRate)
	if !results.MeetsThreshold {
		sklog.Warningf("Kappa %.4f is below the %.2f threshold; refine the codebook and re-pilot.", results.CohenKappa, threshold)
	}
	return results, nil
}

func writeResults(path string, results *Results) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		b, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return skerr.Wrap(err)
		}
		_, err = w.Write(b)
		return skerr.Wrap(err)
	})
}
