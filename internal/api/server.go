// Package api serves the pipeline's HTTP control surface: status and health
// probes, live classification control, history queries, capture source
// management, and batch analysis jobs.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vigil-data/activity.report/internal/analysis"
	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/db"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/notify"
	"github.com/vigil-data/activity.report/internal/timeutil"
	"github.com/vigil-data/activity.report/internal/version"
)

// ANSI escape codes for request log coloring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// FrameController is the capture surface the API drives.
type FrameController interface {
	ListSources(ctx context.Context) ([]capture.SourceDescriptor, error)
	SetSource(name string) error
	ActiveSource() string
	MediaStatus(ctx context.Context, name string) (capture.MediaStatus, error)
	ControlMedia(ctx context.Context, name string, action capture.MediaAction, position time.Duration) error
	Health() capture.SourceHealth
}

// AudioController is the audio surface the API drives.
type AudioController interface {
	Devices() ([]capture.DeviceDescriptor, error)
	SetDevice(ctx context.Context, index int) error
	Health() capture.AudioHealth
}

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	Loop       *analysis.Loop
	Jobs       *analysis.JobManager
	Frames     FrameController
	Audio      AudioController
	Store      *db.DB
	Sink       *notify.Sink
	Bus        *events.Bus
	Classifier *classify.Classifier
	Clock      timeutil.Clock
}

type Server struct {
	loop       *analysis.Loop
	jobs       *analysis.JobManager
	frames     FrameController
	audio      AudioController
	store      *db.DB
	sink       *notify.Sink
	bus        *events.Bus
	classifier *classify.Classifier
	clock      timeutil.Clock
}

func NewServer(cfg ServerConfig) *Server {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		loop:       cfg.Loop,
		jobs:       cfg.Jobs,
		frames:     cfg.Frames,
		audio:      cfg.Audio,
		store:      cfg.Store,
		sink:       cfg.Sink,
		bus:        cfg.Bus,
		classifier: cfg.Classifier,
		clock:      clock,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/activity/current", s.showCurrentActivity)
	mux.HandleFunc("/api/activity/classify", s.classifyNow)
	mux.HandleFunc("/api/loop/start", s.startLoop)
	mux.HandleFunc("/api/loop/stop", s.stopLoop)
	mux.HandleFunc("/api/activities", s.listActivities)
	mux.HandleFunc("/api/statistics", s.showStatistics)
	mux.HandleFunc("/api/media/sources", s.listMediaSources)
	mux.HandleFunc("/api/media/select", s.selectMediaSource)
	mux.HandleFunc("/api/media/status", s.showMediaStatus)
	mux.HandleFunc("/api/media/control", s.controlMedia)
	mux.HandleFunc("/api/audio/devices", s.listAudioDevices)
	mux.HandleFunc("/api/audio/device", s.selectAudioDevice)
	mux.HandleFunc("/api/analysis/video", s.startVideoAnalysis)
	mux.HandleFunc("/api/analysis/", s.showAnalysis)
	mux.HandleFunc("/api/chart/activity", s.chartActivity)
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/readyz", s.readyz)
	return mux
}

// statusResponse is the /api/status document.
type statusResponse struct {
	Service   string          `json:"service"`
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Scoring   classify.Mode   `json:"scoring"`
	Loop      analysis.Status `json:"loop"`
	Sink      notify.Status   `json:"sink"`
	Events    events.Stats    `json:"events"`
	Records   int             `json:"records"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Service:   "activity.report",
		Version:   version.String(),
		Timestamp: s.clock.Now(),
		Loop:      s.loop.Status(),
	}
	if s.classifier != nil {
		resp.Scoring = s.classifier.Mode()
	}
	if s.sink != nil {
		resp.Sink = s.sink.Status()
	}
	if s.bus != nil {
		resp.Events = s.bus.Stats()
	}
	if n, err := s.store.Count(); err == nil {
		resp.Records = n
	} else {
		monitoring.Logf("api: count records: %v", err)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

// readiness is the /readyz document: one line per dependency.
type readiness struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, 4)
	ready := true

	fail := func(name, msg string) {
		checks[name] = msg
		ready = false
	}

	if err := s.store.Ping(); err != nil {
		fail("db", err.Error())
	} else {
		checks["db"] = "ok"
	}

	if s.frames != nil {
		if h := s.frames.Health(); h.Down {
			fail("frames", fmt.Sprintf("down after %d failures: %s", h.ConsecutiveFailures, h.LastError))
		} else {
			checks["frames"] = "ok"
		}
	}

	if s.audio != nil {
		if h := s.audio.Health(); h.Down {
			fail("audio", "down: "+h.LastError)
		} else {
			checks["audio"] = "ok"
		}
	}

	if s.sink != nil {
		if err := s.sink.Probe(r.Context()); err != nil {
			fail("notify", err.Error())
		} else {
			checks["notify"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, readiness{Ready: ready, Checks: checks})
}
