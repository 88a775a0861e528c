package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/monitoring"
)

// chartActivity renders the recent activity mix as a self-contained echarts
// page: classification counts per label and the observed time share.
func (s *Server) chartActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'hours' parameter")
			return
		}
		hours = n
	}

	end := s.clock.Now()
	stats, err := s.store.Statistics(end.Add(-time.Duration(hours)*time.Hour), end)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to aggregate activities: %v", err))
		return
	}

	names := make([]string, 0, len(stats.Labels))
	counts := make([]opts.BarData, 0, len(stats.Labels))
	shares := make([]opts.PieData, 0, len(stats.Labels))
	for _, ls := range stats.Labels {
		names = append(names, string(ls.Label))
		counts = append(counts, opts.BarData{Value: ls.Count})
		if ls.DurationMS > 0 {
			shares = append(shares, opts.PieData{Name: string(ls.Label), Value: ls.DurationMS})
		}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Activity Report", Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Classifications per label",
			Subtitle: fmt.Sprintf("last %dh, %d records", hours, stats.Total),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("count", counts,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Observed time share"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("duration", shares)

	page := components.NewPage()
	page.AddCharts(bar, pie)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		monitoring.Logf("api: write chart: %v", err)
	}
}
