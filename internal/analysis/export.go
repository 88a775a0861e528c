package analysis

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vigil-data/activity.report/internal/classify"
)

// ExportFormat selects the serialization of a completed job.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatHTML ExportFormat = "html"
)

// ValidExportFormat reports whether f is a supported export format.
func ValidExportFormat(f ExportFormat) bool {
	switch f {
	case FormatJSON, FormatCSV, FormatHTML:
		return true
	}
	return false
}

// Export writes the job in the requested format.
func Export(w io.Writer, job Job, format ExportFormat) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, job)
	case FormatCSV:
		return WriteCSV(w, job)
	case FormatHTML:
		return WriteHTML(w, job)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// jsonExport is the document shape written by WriteJSON.
type jsonExport struct {
	JobID     string            `json:"job_id"`
	Source    string            `json:"source"`
	IntervalS float64           `json:"interval_s"`
	StartedAt time.Time         `json:"started_at"`
	Results   []classify.Result `json:"results"`
	Gaps      []Gap             `json:"gaps"`
}

// WriteJSON writes the job's results and gaps as an indented JSON document
// that reloads into the same results.
func WriteJSON(w io.Writer, job Job) error {
	doc := jsonExport{
		JobID:     job.ID,
		Source:    job.Source,
		IntervalS: job.Interval.Seconds(),
		StartedAt: job.StartedAt,
		Results:   job.Results,
		Gaps:      job.Gaps,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// csvHeader matches the rows produced by WriteCSV. Gap steps appear as rows
// with activity "gap" and the failure reason in the note column.
var csvHeader = []string{
	"position_s", "timestamp", "date_time", "activity", "confidence",
	"mode", "motion", "skin_ratio", "brightness", "audio_level",
	"dominant_freq_hz", "speech", "note",
}

// WriteCSV writes one row per result plus one per gap, ordered by media
// position.
func WriteCSV(w io.Writer, job Job) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range exportRows(job) {
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type exportRow struct {
	pos time.Duration
	rec []string
}

func exportRows(job Job) [][]string {
	rows := make([]exportRow, 0, len(job.Results)+len(job.Gaps))
	for _, r := range job.Results {
		pos := r.Timestamp.Sub(job.StartedAt)
		rows = append(rows, exportRow{pos, []string{
			formatSeconds(pos),
			strconv.FormatInt(r.Timestamp.Unix(), 10),
			r.Timestamp.Format("2006-01-02 15:04:05"),
			string(r.Activity),
			strconv.FormatFloat(r.Confidence(), 'f', 4, 64),
			string(r.Mode),
			strconv.FormatFloat(r.Features.Motion, 'f', 2, 64),
			strconv.FormatFloat(r.Features.SkinRatio, 'f', 2, 64),
			strconv.FormatFloat(r.Features.Brightness, 'f', 2, 64),
			strconv.FormatFloat(r.Features.AudioLevel, 'f', 4, 64),
			strconv.FormatFloat(r.Features.DominantFreqHz, 'f', 1, 64),
			strconv.FormatBool(r.Features.Speech),
			"",
		}})
	}
	for _, g := range job.Gaps {
		ts := job.StartedAt.Add(g.Position)
		rows = append(rows, exportRow{g.Position, []string{
			formatSeconds(g.Position),
			strconv.FormatInt(ts.Unix(), 10),
			ts.Format("2006-01-02 15:04:05"),
			"gap",
			"", "", "", "", "", "", "", "",
			g.Reason,
		}})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].pos < rows[j].pos })

	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64)
}

// WriteHTML renders a self-contained page with the step-by-step activity
// timeline and a per-label step count bar.
func WriteHTML(w io.Writer, job Job) error {
	labels := classify.Labels()
	index := make(map[classify.Label]int, len(labels))
	names := make([]string, len(labels))
	for i, l := range labels {
		index[l] = i
		names[i] = string(l)
	}

	x := make([]string, 0, len(job.Results))
	lineData := make([]opts.LineData, 0, len(job.Results))
	counts := make(map[classify.Label]int, len(labels))
	for _, r := range job.Results {
		pos := r.Timestamp.Sub(job.StartedAt)
		x = append(x, formatSeconds(pos)+"s")
		lineData = append(lineData, opts.LineData{Value: index[r.Activity]})
		counts[r.Activity]++
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Activity Timeline", Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Activity timeline",
			Subtitle: fmt.Sprintf("source=%s interval=%s results=%d gaps=%d", job.Source, job.Interval, len(job.Results), len(job.Gaps)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: len(labels) - 1, Name: "label index"}),
	)
	line.SetXAxis(x).AddSeries("activity", lineData)

	barData := make([]opts.BarData, len(labels))
	for i, l := range labels {
		barData[i] = opts.BarData{Value: counts[l]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Steps per label"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("steps", barData,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}
