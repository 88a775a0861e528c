package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vigil-data/activity.report/internal/db"
	"github.com/vigil-data/activity.report/internal/httputil"
)

func (s *Server) showCurrentActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	res, ok := s.loop.Current()
	if !ok {
		httputil.NotFound(w, "no classification yet")
		return
	}
	httputil.WriteJSONOK(w, res)
}

func (s *Server) classifyNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	res, err := s.loop.RunOnce(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("classification failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, res)
}

// startLoopRequest is the optional body for POST /api/loop/start. A missing
// body keeps the configured interval.
type startLoopRequest struct {
	IntervalS float64 `json:"interval_s"`
}

func (s *Server) startLoop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req startLoopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.IntervalS < 0 {
		httputil.BadRequest(w, "interval_s must not be negative")
		return
	}

	started := s.loop.Start(time.Duration(req.IntervalS * float64(time.Second)))
	httputil.WriteJSONOK(w, map[string]interface{}{
		"started": started,
		"state":   s.loop.State(),
	})
}

func (s *Server) stopLoop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	stopped := s.loop.Stop()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"stopped": stopped,
		"state":   s.loop.State(),
	})
}

func (s *Server) listActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	q := r.URL.Query()
	end := s.clock.Now()
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'end' parameter: %v", err))
			return
		}
		end = t
	}
	start := end.Add(-24 * time.Hour)
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid 'start' parameter: %v", err))
			return
		}
		start = t
	}
	if end.Before(start) {
		httputil.BadRequest(w, "'start' must not be after 'end'")
		return
	}

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.BadRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	recs, err := s.store.Range(start, end, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to query activities: %v", err))
		return
	}
	if recs == nil {
		recs = []db.Record{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"start":      start,
		"end":        end,
		"count":      len(recs),
		"activities": recs,
	})
}

func (s *Server) showStatistics(w http.ResponseWriter, r *http.Request) {
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
	httputil.WriteJSONOK(w, stats)
}
