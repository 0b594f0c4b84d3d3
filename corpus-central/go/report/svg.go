package report

import (
	"context"
	"fmt"
	"html"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.afterglow.org/research/corpus-central/go/tagging"
	"go.afterglow.org/research/corpus-central/go/types"
	"go.afterglow.org/research/go/skerr"
	"go.afterglow.org/research/go/util"
)

// Visualization filenames under the visualizations directory.
const (
	TimelineFile = "monthly_timeline.svg"
	HeatmapFile  = "resolution_heatmap.svg"
	MatrixFile   = "temporal_matrix.svg"
)

// Display orders for the plot axes.
var causeOrder = []string{
	tagging.CauseArchitecturalLimitation,
	tagging.CauseCommunityMismatch,
	tagging.CauseTechnicalDebt,
	tagging.CauseResourceConstraint,
	tagging.CauseUnclear,
}

var periodOrder = []string{
	tagging.PeriodPreLaunch,
	tagging.PeriodEarlyAdoption,
	tagging.PeriodPlateau,
	tagging.PeriodDecline,
	tagging.PeriodPostDiscontinuation,
}

// Line colors, the matplotlib tab10 palette.
var palette = []string{"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b"}

// writeVisualizations emits the three SVG plots under dir.
func writeVisualizations(ctx context.Context, records []types.TaggedRecord, dir string) error {
	plots := []struct {
		file string
		svg  string
	}{
		{TimelineFile, timelineSVG(buildTimeline(ctx, records))},
		{HeatmapFile, heatmapSVG(records)},
		{MatrixFile, matrixSVG(records)},
	}
	for _, p := range plots {
		svg := p.svg
		if err := util.WithWriteFile(filepath.Join(dir, p.file), func(w io.Writer) error {
			_, err := io.WriteString(w, svg)
			return skerr.Wrap(err)
		}); err != nil {
			return skerr.Wrap(err)
		}
	}
	return nil
}

type timelineData struct {
	months     []string
	categories []string
	counts     map[string][]int
	maxCount   int
}

// buildTimeline buckets records into calendar months per root cause, filling
// gap months with zero so the x axis is continuous.
func buildTimeline(ctx context.Context, records []types.TaggedRecord) timelineData {
	perMonth := map[string]map[string]int{}
	seen := map[string]bool{}
	first := time.Time{}
	last := time.Time{}
	for _, r := range records {
		ts, _ := tagging.ParseTimestamp(ctx, r.Timestamp)
		month := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		if first.IsZero() || month.Before(first) {
			first = month
		}
		if last.IsZero() || month.After(last) {
			last = month
		}
		key := month.Format("2006-01")
		if perMonth[key] == nil {
			perMonth[key] = map[string]int{}
		}
		perMonth[key][r.RootCauseCategory]++
		seen[r.RootCauseCategory] = true
	}
	d := timelineData{counts: map[string][]int{}}
	if len(perMonth) == 0 {
		return d
	}
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		d.months = append(d.months, m.Format("2006-01"))
	}
	d.categories = orderedCauses(seen)
	for _, cause := range d.categories {
		row := make([]int, len(d.months))
		for i, month := range d.months {
			row[i] = perMonth[month][cause]
			d.maxCount = util.MaxInt(d.maxCount, row[i])
		}
		d.counts[cause] = row
	}
	return d
}

// orderedCauses returns the observed categories in display order, with any
// unexpected labels sorted at the end.
func orderedCauses(seen map[string]bool) []string {
	rest := map[string]bool{}
	for c := range seen {
		rest[c] = true
	}
	out := []string{}
	for _, c := range causeOrder {
		if rest[c] {
			out = append(out, c)
			delete(rest, c)
		}
	}
	return append(out, sortedKeys(rest)...)
}

const (
	tlWidth        = 960
	tlHeight       = 420
	tlMarginLeft   = 60
	tlMarginRight  = 230
	tlMarginTop    = 50
	tlMarginBottom = 70
)

func timelineSVG(d timelineData) string {
	b := &strings.Builder{}
	openSVG(b, tlWidth, tlHeight, "Monthly records by root cause")
	if len(d.months) == 0 || d.maxCount == 0 {
		noData(b, tlWidth, tlHeight)
		return closeSVG(b)
	}
	plotW := float64(tlWidth - tlMarginLeft - tlMarginRight)
	plotH := float64(tlHeight - tlMarginTop - tlMarginBottom)
	x := func(i int) float64 {
		if len(d.months) == 1 {
			return tlMarginLeft + plotW/2
		}
		return tlMarginLeft + plotW*float64(i)/float64(len(d.months)-1)
	}
	y := func(count int) float64 {
		return tlMarginTop + plotH - plotH*float64(count)/float64(d.maxCount)
	}

	for i := 0; i <= 4; i++ {
		v := d.maxCount * i / 4
		fmt.Fprintf(b, `<line x1="%d" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#ddd"/>`+"\n", tlMarginLeft, y(v), tlMarginLeft+plotW, y(v))
		fmt.Fprintf(b, `<text x="%d" y="%.1f" font-size="11" text-anchor="end">%d</text>`+"\n", tlMarginLeft-6, y(v)+4, v)
	}
	fmt.Fprintf(b, `<line x1="%d" y1="%.1f" x2="%.1f" y2="%.1f" stroke="#333"/>`+"\n", tlMarginLeft, tlMarginTop+plotH, tlMarginLeft+plotW, tlMarginTop+plotH)
	fmt.Fprintf(b, `<line x1="%d" y1="%d" x2="%d" y2="%.1f" stroke="#333"/>`+"\n", tlMarginLeft, tlMarginTop, tlMarginLeft, tlMarginTop+plotH)

	// Thin the month labels so long ranges stay readable.
	step := (len(d.months) + 11) / 12
	for i := 0; i < len(d.months); i += step {
		fmt.Fprintf(b, `<text x="%.1f" y="%d" font-size="10" text-anchor="end" transform="rotate(-45 %.1f %d)">%s</text>`+"\n",
			x(i), tlHeight-tlMarginBottom+22, x(i), tlHeight-tlMarginBottom+22, d.months[i])
	}

	for ci, cause := range d.categories {
		color := palette[ci%len(palette)]
		points := make([]string, 0, len(d.months))
		for i := range d.months {
			points = append(points, fmt.Sprintf("%.1f,%.1f", x(i), y(d.counts[cause][i])))
		}
		fmt.Fprintf(b, `<polyline points="%s" fill="none" stroke="%s" stroke-width="2"/>`+"\n", strings.Join(points, " "), color)
		ly := tlMarginTop + ci*22
		fmt.Fprintf(b, `<rect x="%d" y="%d" width="12" height="12" fill="%s"/>`+"\n", tlWidth-tlMarginRight+20, ly, color)
		fmt.Fprintf(b, `<text x="%d" y="%d" font-size="11">%s</text>`+"\n", tlWidth-tlMarginRight+38, ly+10, html.EscapeString(cause))
	}
	return closeSVG(b)
}

// heatmapSVG renders resolution status by root cause, each row normalized to
// a percentage of that status.
func heatmapSVG(records []types.TaggedRecord) string {
	counts := map[string]map[string]int{}
	rowSeen := map[string]bool{}
	colSeen := map[string]bool{}
	for _, r := range records {
		if r.ResolutionStatus == "" || r.RootCauseCategory == "" {
			continue
		}
		if counts[r.ResolutionStatus] == nil {
			counts[r.ResolutionStatus] = map[string]int{}
		}
		counts[r.ResolutionStatus][r.RootCauseCategory]++
		rowSeen[r.ResolutionStatus] = true
		colSeen[r.RootCauseCategory] = true
	}
	rows := sortedKeys(rowSeen)
	cols := orderedCauses(colSeen)
	return gridSVG("Resolution status by root cause (% of status)", rows, cols, func(i, j int) (string, float64) {
		rowTotal := 0
		for _, c := range counts[rows[i]] {
			rowTotal += c
		}
		if rowTotal == 0 {
			return "0%", 0
		}
		pct := 100 * float64(counts[rows[i]][cols[j]]) / float64(rowTotal)
		return fmt.Sprintf("%.0f%%", pct), pct / 100
	})
}

// matrixSVG renders raw counts of root cause by temporal period over the
// full lifecycle, including periods with no records.
func matrixSVG(records []types.TaggedRecord) string {
	counts := map[string]map[string]int{}
	rowSeen := map[string]bool{}
	max := 0
	for _, r := range records {
		if r.RootCauseCategory == "" || r.TemporalPeriod == "" {
			continue
		}
		if counts[r.RootCauseCategory] == nil {
			counts[r.RootCauseCategory] = map[string]int{}
		}
		counts[r.RootCauseCategory][r.TemporalPeriod]++
		max = util.MaxInt(max, counts[r.RootCauseCategory][r.TemporalPeriod])
		rowSeen[r.RootCauseCategory] = true
	}
	rows := orderedCauses(rowSeen)
	return gridSVG("Root cause by temporal period (count)", rows, periodOrder, func(i, j int) (string, float64) {
		count := counts[rows[i]][periodOrder[j]]
		shade := 0.0
		if max > 0 {
			shade = float64(count) / float64(max)
		}
		return strconv.Itoa(count), shade
	})
}

const (
	gridMarginLeft = 190
	gridMarginTop  = 90
	gridCellW      = 130
	gridCellH      = 44
)

// gridSVG renders a labeled matrix; cell supplies each cell's text and a
// 0..1 shade.
func gridSVG(title string, rowLabels, colLabels []string, cell func(i, j int) (string, float64)) string {
	if len(rowLabels) == 0 || len(colLabels) == 0 {
		b := &strings.Builder{}
		openSVG(b, 480, 200, title)
		noData(b, 480, 200)
		return closeSVG(b)
	}
	width := gridMarginLeft + gridCellW*len(colLabels) + 30
	height := gridMarginTop + gridCellH*len(rowLabels) + 30
	b := &strings.Builder{}
	openSVG(b, width, height, title)
	for j, col := range colLabels {
		fmt.Fprintf(b, `<text x="%d" y="%d" font-size="10" text-anchor="middle">%s</text>`+"\n",
			gridMarginLeft+j*gridCellW+gridCellW/2, gridMarginTop-10, html.EscapeString(col))
	}
	for i, row := range rowLabels {
		fmt.Fprintf(b, `<text x="%d" y="%d" font-size="11" text-anchor="end">%s</text>`+"\n",
			gridMarginLeft-8, gridMarginTop+i*gridCellH+gridCellH/2+4, html.EscapeString(row))
		for j := range colLabels {
			label, shade := cell(i, j)
			x := gridMarginLeft + j*gridCellW
			y := gridMarginTop + i*gridCellH
			fmt.Fprintf(b, `<rect x="%d" y="%d" width="%d" height="%d" fill="#1f77b4" fill-opacity="%.2f" stroke="#ccc"/>`+"\n",
				x, y, gridCellW, gridCellH, shade)
			textFill := "#000"
			if shade > 0.6 {
				textFill = "#fff"
			}
			fmt.Fprintf(b, `<text x="%d" y="%d" font-size="11" text-anchor="middle" fill="%s">%s</text>`+"\n",
				x+gridCellW/2, y+gridCellH/2+4, textFill, html.EscapeString(label))
		}
	}
	return closeSVG(b)
}

func openSVG(b *strings.Builder, width, height int, title string) {
	fmt.Fprintf(b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif">`+"\n", width, height, width, height)
	fmt.Fprintf(b, `<rect width="%d" height="%d" fill="white"/>`+"\n", width, height)
	fmt.Fprintf(b, `<text x="%d" y="28" font-size="16" text-anchor="middle">%s</text>`+"\n", width/2, html.EscapeString(title))
}

func closeSVG(b *strings.Builder) string {
	b.WriteString("</svg>\n")
	return b.String()
}

func noData(b *strings.Builder, width, height int) {
	fmt.Fprintf(b, `<text x="%d" y="%d" font-size="14" text-anchor="middle" fill="#666">no data</text>`+"\n", width/2, height/2)
}
