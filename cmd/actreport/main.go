// Command actreport summarizes the activity log: it prints a per-label
// breakdown of a reporting window to stdout and renders a duration bar
// chart plus an activity timeline as PNG files.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	_ "modernc.org/sqlite"

	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/db"
)

var (
	dbPath = flag.String("db", "activity.db", "Path to activity database")
	hours  = flag.Int("hours", 24, "Reporting window in hours")
	outDir = flag.String("out", ".", "Directory for the PNG charts")
	noPNG  = flag.Bool("text-only", false, "Skip chart rendering")
)

func main() {
	flag.Parse()

	if *hours < 1 {
		log.Fatalf("Invalid window: %d hours", *hours)
	}

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	end := time.Now()
	start := end.Add(-time.Duration(*hours) * time.Hour)

	stats, err := store.Statistics(start, end)
	if err != nil {
		log.Fatalf("Failed to aggregate activities: %v", err)
	}
	printSummary(os.Stdout, stats)

	if *noPNG || stats.Total == 0 {
		return
	}

	recs, err := store.Range(start, end, 0)
	if err != nil {
		log.Fatalf("Failed to read activities: %v", err)
	}

	barFile := filepath.Join(*outDir, "activity_durations.png")
	if err := saveDurationChart(stats, barFile); err != nil {
		log.Fatalf("Failed to render %s: %v", barFile, err)
	}
	timelineFile := filepath.Join(*outDir, "activity_timeline.png")
	if err := saveTimeline(recs, start, timelineFile); err != nil {
		log.Fatalf("Failed to render %s: %v", timelineFile, err)
	}
	fmt.Printf("\nCharts written to %s and %s\n", barFile, timelineFile)
}

func printSummary(w *os.File, stats *db.Statistics) {
	fmt.Fprintf(w, "Activity report %s — %s\n",
		stats.Start.Format("2006-01-02 15:04"), stats.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "%d records, %s observed", stats.Total, time.Duration(stats.DurationMS)*time.Millisecond)
	if stats.Unsynced > 0 {
		fmt.Fprintf(w, " (%d unsynced)", stats.Unsynced)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "\n%-16s %6s %10s %7s %6s\n", "label", "count", "duration", "share", "conf")
	for _, ls := range stats.Labels {
		fmt.Fprintf(w, "%-16s %6d %10s %6.1f%% %6.2f\n",
			ls.Label, ls.Count,
			(time.Duration(ls.DurationMS) * time.Millisecond).Round(time.Second),
			ls.Share*100, ls.MeanConfidence)
	}
}

// saveDurationChart renders observed minutes per label as a bar chart.
func saveDurationChart(stats *db.Statistics, path string) error {
	values := make(plotter.Values, 0, len(stats.Labels))
	names := make([]string, 0, len(stats.Labels))
	for _, ls := range stats.Labels {
		values = append(values, float64(ls.DurationMS)/60000)
		names = append(names, string(ls.Label))
	}

	p := plot.New()
	p.Title.Text = "Observed duration per activity"
	p.Y.Label.Text = "minutes"
	p.NominalX(names...)

	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)

	return p.Save(10*vg.Inch, 5*vg.Inch, path)
}

// saveTimeline renders each record as a point at (hours into window, label
// row), making activity transitions over the day visible at a glance.
func saveTimeline(recs []db.Record, start time.Time, path string) error {
	labels := classify.Labels()
	row := make(map[classify.Label]int, len(labels))
	ticks := make([]plot.Tick, len(labels))
	for i, l := range labels {
		row[l] = i
		ticks[i] = plot.Tick{Value: float64(i), Label: string(l)}
	}

	pts := make(plotter.XYs, 0, len(recs))
	for _, r := range recs {
		y, ok := row[r.Activity]
		if !ok {
			continue
		}
		pts = append(pts, plotter.XY{
			X: r.Timestamp.Sub(start).Hours(),
			Y: float64(y),
		})
	}

	p := plot.New()
	p.Title.Text = "Activity timeline"
	p.X.Label.Text = "hours into window"
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Min, p.Y.Max = -0.5, float64(len(labels))-0.5

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyle.Shape = draw.BoxGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)

	return p.Save(12*vg.Inch, 4*vg.Inch, path)
}
