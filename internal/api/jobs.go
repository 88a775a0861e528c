package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vigil-data/activity.report/internal/analysis"
	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/monitoring"
)

type videoAnalysisRequest struct {
	Source    string  `json:"source"`
	IntervalS float64 `json:"interval_s"`
}

func (s *Server) startVideoAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req videoAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	// The job outlives this request, so it must not inherit its context.
	id, err := s.jobs.Analyze(context.Background(), req.Source, time.Duration(req.IntervalS*float64(time.Second)))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// showAnalysis routes GET /api/analysis/{id} and /api/analysis/{id}/export.
func (s *Server) showAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/analysis/"), "/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		s.showAnalysisJob(w, parts[0])
	case len(parts) == 2 && parts[1] == "export":
		s.exportAnalysisJob(w, r, parts[0])
	default:
		httputil.NotFound(w, "unknown analysis path")
	}
}

func (s *Server) showAnalysisJob(w http.ResponseWriter, id string) {
	job, ok := s.jobs.Job(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no job %s", id))
		return
	}
	httputil.WriteJSONOK(w, job)
}

func (s *Server) exportAnalysisJob(w http.ResponseWriter, r *http.Request, id string) {
	job, ok := s.jobs.Job(id)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no job %s", id))
		return
	}

	format := analysis.FormatJSON
	if v := r.URL.Query().Get("format"); v != "" {
		format = analysis.ExportFormat(strings.ToLower(v))
	}
	if !analysis.ValidExportFormat(format) {
		httputil.BadRequest(w, fmt.Sprintf("unknown export format %q", format))
		return
	}

	switch format {
	case analysis.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case analysis.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(id, format)))
	case analysis.FormatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	}

	// Headers are out the door; export failures can only be logged.
	if err := analysis.Export(w, job, format); err != nil {
		monitoring.Logf("api: export job %s: %v", id, err)
	}
}

func exportFilename(id string, format analysis.ExportFormat) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("analysis_%s.%s", short, format)
}
