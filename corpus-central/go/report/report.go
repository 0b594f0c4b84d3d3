// Package report computes summary statistics over the tagged corpus and
// renders the written, statistical and visual analysis artifacts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"go.afterglow.org/research/corpus-central/go/stats"
	"go.afterglow.org/research/corpus-central/go/tagging"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/sklog"
	"go.afterglow.org/research/go/util"
)

// Artifact names written under the output directory.
const (
	ReportFile         = "analysis_report.md"
	ResultsFile        = "statistical_results.json"
	QuotesMarkdownFile = "qualitative_examples.md"
	QuotesJSONFile     = "qualitative_examples.json"
	VisualizationsDir  = "visualizations"
)

// Default chi-square column pair.
const (
	DefaultRowColumn = "primary_code"
	DefaultColColumn = "resolution_status"
)

const (
	// Significance level of the chi-square test.
	alpha = 0.05

	topPrimaryCodes = 10
)

// Frequency tables rendered in the written report, in order.
var frequencyColumns = []string{"source", "temporal_period", "resolution_status", "root_cause_category"}

var columnTitles = map[string]string{
	"source":              "Source",
	"temporal_period":     "Temporal period",
	"resolution_status":   "Resolution status",
	"root_cause_category": "Root cause category",
	"primary_code":        "Primary code",
}

// Options selects the chi-square columns. Zero values mean the defaults.
type Options struct {
	RowColumn string
	ColColumn string
}

func (o Options) withDefaults() Options {
	if o.RowColumn == "" {
		o.RowColumn = DefaultRowColumn
	}
	if o.ColColumn == "" {
		o.ColColumn = DefaultColColumn
	}
	return o
}

// LabelCount is one label's count in a frequency table, most frequent first.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// ChiSquareResult holds the independence test between two categorical
// columns.
type ChiSquareResult struct {
	RowColumn        string  `json:"row_column"`
	ColColumn        string  `json:"col_column"`
	Statistic        float64 `json:"statistic"`
	DegreesOfFreedom int     `json:"degrees_of_freedom"`
	PValue           float64 `json:"p_value"`
	Alpha            float64 `json:"alpha"`
	Significant      bool    `json:"significant"`
}

// Results is the machine-readable summary written to
// statistical_results.json. ChiSquare is nil when the observed table is too
// degenerate to test.
type Results struct {
	TotalRecords    int                     `json:"total_records"`
	Frequencies     map[string][]LabelCount `json:"frequencies"`
	TopPrimaryCodes []LabelCount            `json:"top_primary_codes"`
	ChiSquare       *ChiSquareResult        `json:"chi_square,omitempty"`
}

// Run reads a tagged CSV and writes every analysis artifact under outDir.
func Run(ctx context.Context, inputPath, outDir string, opts Options) (*Results, error) {
	tagged, err := types.ReadTaggedRecords(inputPath)
	if err != nil {
		return nil, skerr.Wrapf(err, "reading %s", inputPath)
	}
	return Render(ctx, tagged, outDir, opts)
}

// Render computes the statistics for an already-loaded corpus and writes the
// artifacts.
func Render(ctx context.Context, tagged []types.TaggedRecord, outDir string, opts Options) (*Results, error) {
	opts = opts.withDefaults()
	results := &Results{
		TotalRecords: len(tagged),
		Frequencies:  map[string][]LabelCount{},
	}
	for _, column := range frequencyColumns {
		freq, err := frequency(tagged, column)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		results.Frequencies[column] = freq
	}
	primary, err := frequency(tagged, "primary_code")
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	results.TopPrimaryCodes = primary[:util.MinInt(len(primary), topPrimaryCodes)]
	results.ChiSquare, err = chiSquare(tagged, opts)
	if err != nil {
		return nil, skerr.Wrap(err)
	}

	vizDir := filepath.Join(outDir, VisualizationsDir)
	if err := os.MkdirAll(vizDir, 0755); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeResults(filepath.Join(outDir, ResultsFile), results); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeReport(filepath.Join(outDir, ReportFile), results); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeVisualizations(ctx, tagged, vizDir); err != nil {
		return nil, skerr.Wrap(err)
	}
	quotes := qualitativeExamples(tagged)
	if err := writeQuotesMarkdown(filepath.Join(outDir, QuotesMarkdownFile), quotes); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := writeQuotesJSON(filepath.Join(outDir, QuotesJSONFile), quotes); err != nil {
		return nil, skerr.Wrap(err)
	}
	sklog.Infof("Analysis artifacts for %d records written to %s.", len(tagged), outDir)
	return results, nil
}

// columnValue extracts a record's value for a categorical column. Blank
// values are returned as-is; callers skip them.
func columnValue(r types.TaggedRecord, column string) (string, error) {
	switch column {
	case "source":
		return string(r.Source), nil
	case "temporal_period":
		return r.TemporalPeriod, nil
	case "resolution_status":
		return r.ResolutionStatus, nil
	case "root_cause_category":
		return r.RootCauseCategory, nil
	case "primary_code":
		primary, _ := tagging.EffectiveCoding(r.CodedRecord)
		return primary, nil
	}
	columns := make([]string, 0, len(columnTitles))
	for c := range columnTitles {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return "", skerr.Fmt("unknown column %q, expected one of %s", column, strings.Join(columns, ", "))
}

// frequency counts the non-blank values of one column.
func frequency(records []types.TaggedRecord, column string) ([]LabelCount, error) {
	counts := map[string]int{}
	for _, r := range records {
		v, err := columnValue(r, column)
		if err != nil {
			return nil, skerr.Wrap(err)
		}
		if v == "" {
			continue
		}
		counts[v]++
	}
	return sortCounts(counts), nil
}

func sortCounts(counts map[string]int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, LabelCount{Label: label, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// contingency builds the observed count table over records where both
// columns are non-blank, with sorted label sets.
func contingency(records []types.TaggedRecord, rowColumn, colColumn string) ([]string, []string, [][]int, error) {
	type cell struct {
		row string
		col string
	}
	cells := []cell{}
	rowSet := map[string]bool{}
	colSet := map[string]bool{}
	for _, r := range records {
		rv, err := columnValue(r, rowColumn)
		if err != nil {
			return nil, nil, nil, skerr.Wrap(err)
		}
		cv, err := columnValue(r, colColumn)
		if err != nil {
			return nil, nil, nil, skerr.Wrap(err)
		}
		if rv == "" || cv == "" {
			continue
		}
		cells = append(cells, cell{row: rv, col: cv})
		rowSet[rv] = true
		colSet[cv] = true
	}
	rowLabels := sortedKeys(rowSet)
	colLabels := sortedKeys(colSet)
	rowIndex := indexOf(rowLabels)
	colIndex := indexOf(colLabels)
	observed := make([][]int, len(rowLabels))
	for i := range observed {
		observed[i] = make([]int, len(colLabels))
	}
	for _, c := range cells {
		observed[rowIndex[c.row]][colIndex[c.col]]++
	}
	return rowLabels, colLabels, observed, nil
}

// chiSquare runs the independence test over the configured column pair.
// A degenerate table (fewer than two observed labels on either side) is
// logged and reported as nil, not an error.
func chiSquare(records []types.TaggedRecord, opts Options) (*ChiSquareResult, error) {
	rowLabels, colLabels, observed, err := contingency(records, opts.RowColumn, opts.ColColumn)
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if len(rowLabels) < 2 || len(colLabels) < 2 {
		sklog.Warningf("Chi-square needs at least two observed labels per side; %s x %s is %dx%d.", opts.RowColumn, opts.ColColumn, len(rowLabels), len(colLabels))
		return nil, nil
	}
	statistic, dof, p, err := stats.ChiSquare(observed)
	if err != nil {
		sklog.Warningf("Chi-square test on %s x %s failed: %s", opts.RowColumn, opts.ColColumn, err)
		return nil, nil
	}
	return &ChiSquareResult{
		RowColumn:        opts.RowColumn,
		ColColumn:        opts.ColColumn,
		Statistic:        statistic,
		DegreesOfFreedom: dof,
		PValue:           p,
		Alpha:            alpha,
		Significant:      p < alpha,
	}, nil
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

func writeReport(path string, results *Results) error {
	return util.WithWriteFile(path, func(w io.Writer) error {
		fmt.Fprintf(w, "# Analysis Report\n\n")
		fmt.Fprintf(w, "Total records: %d\n", results.TotalRecords)
		for _, column := range frequencyColumns {
			fmt.Fprintf(w, "\n## %s\n\n", columnTitles[column])
			renderCounts(w, columnTitles[column], results.Frequencies[column], results.TotalRecords)
		}
		fmt.Fprintf(w, "\n## Top primary codes\n\n")
		renderCounts(w, "Primary code", results.TopPrimaryCodes, results.TotalRecords)

		cs := results.ChiSquare
		if cs == nil {
			fmt.Fprintf(w, "\n## Chi-square\n\nNot computed: fewer than two observed labels per side.\n")
			return nil
		}
		fmt.Fprintf(w, "\n## Chi-square: %s x %s\n\n", cs.RowColumn, cs.ColColumn)
		fmt.Fprintf(w, "- Statistic: %.4f\n", cs.Statistic)
		fmt.Fprintf(w, "- Degrees of freedom: %d\n", cs.DegreesOfFreedom)
		fmt.Fprintf(w, "- P-value: %.4g\n", cs.PValue)
		verdict := "no"
		if cs.Significant {
			verdict = "yes"
		}
		fmt.Fprintf(w, "- Significant at the %g level: %s\n", cs.Alpha, verdict)
		return nil
	})
}

func renderCounts(w io.Writer, title string, counts []LabelCount, total int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{title, "Count", "Share"})
	for _, c := range counts {
		share := ""
		if total > 0 {
			share = fmt.Sprintf("%.1f%%", 100*float64(c.Count)/float64(total))
		}
		table.Append([]string{c.Label, strconv.Itoa(c.Count), share})
	}
	table.Render()
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func indexOf(labels []string) map[string]int {
	index := make(map[string]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	return index
}
