package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// SourceDescriptor describes one capturable source on the remote service.
type SourceDescriptor struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

// MediaStatus reports playback state for a media source.
type MediaStatus struct {
	Name     string        `json:"name"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration"`
	Position time.Duration `json:"position"`
}

// MediaAction is a playback control command.
type MediaAction string

const (
	MediaPlay    MediaAction = "play"
	MediaPause   MediaAction = "pause"
	MediaRestart MediaAction = "restart"
	MediaSeek    MediaAction = "seek"
)

// ValidMediaAction reports whether a is a known playback command.
func ValidMediaAction(a MediaAction) bool {
	switch a {
	case MediaPlay, MediaPause, MediaRestart, MediaSeek:
		return true
	}
	return false
}

// SourceHealth is a point-in-time view of the frame source's state for the
// status API and readiness checks.
type SourceHealth struct {
	Connected           bool      `json:"connected"`
	Down                bool      `json:"down"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCapture         time.Time `json:"last_capture"`
	LastError           string    `json:"last_error,omitempty"`
	ActiveSource        string    `json:"active_source,omitempty"`
}

// FrameSource captures frames from the remote service. Capture failures are
// absorbed: the source reconnects with bounded exponential backoff, marks
// itself DOWN after enough consecutive failures, and serves the
// deterministic placeholder frame when test-frame mode is on so callers
// never block on a dead source.
type FrameSource struct {
	cfg    config.Capture
	tr     Transport
	bus    *events.Bus
	clock  timeutil.Clock
	logf   func(string, ...interface{})

	// opMu serializes remote operations; mu guards state so health reads
	// never wait on the wire.
	opMu sync.Mutex
	mu   sync.Mutex

	connected bool
	down      bool
	failures  int
	lastGood  time.Time
	lastErr   error
	active    string
	seq       int

	backoff time.Duration
	retryAt time.Time
}

// NewFrameSource wires a frame source over the given transport.
func NewFrameSource(cfg config.Capture, tr Transport, bus *events.Bus, clock timeutil.Clock) *FrameSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FrameSource{
		cfg:    cfg,
		tr:     tr,
		bus:    bus,
		clock:  clock,
		logf:   monitoring.Scoped("frames"),
		active: cfg.Source,
	}
}

// Connect establishes the initial connection. Failure is not fatal: the
// source keeps retrying from the capture path.
func (s *FrameSource) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.ensureConnected(ctx)
}

// ensureConnected dials if needed, honoring the backoff window. Callers
// hold opMu.
func (s *FrameSource) ensureConnected(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	now := s.clock.Now()
	if now.Before(s.retryAt) {
		wait := s.retryAt.Sub(now)
		s.mu.Unlock()
		return errkind.Newf(errkind.Connection, "capture.connect", "reconnect backoff active for %v", wait.Round(time.Millisecond))
	}
	s.mu.Unlock()

	err := s.tr.Connect(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if s.backoff == 0 {
			s.backoff = s.cfg.ReconnectMin
		} else {
			s.backoff *= 2
			if s.backoff > s.cfg.ReconnectMax {
				s.backoff = s.cfg.ReconnectMax
			}
		}
		s.retryAt = s.clock.Now().Add(s.backoff)
		s.lastErr = err
		s.logf("connect failed, next attempt in %v: %v", s.backoff, err)
		return errkind.Wrap(errkind.Connection, "capture.connect", err)
	}
	s.connected = true
	s.backoff = 0
	s.retryAt = time.Time{}
	s.logf("connected to %s:%d", s.cfg.Host, s.cfg.Port)
	s.bus.Publish(events.Event{Type: events.FrameSourceUp, Detail: fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)})
	return nil
}

// Capture grabs one frame from the named source; an empty name uses the
// active source. On failure the placeholder frame is returned instead when
// test-frame mode is on, so the degraded pipeline keeps producing.
func (s *FrameSource) Capture(ctx context.Context, source string) (Frame, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if source == "" {
		source = s.ActiveSource()
	}

	frame, err := s.captureOnce(ctx, source)
	if err == nil {
		s.recordSuccess()
		return frame, nil
	}
	s.recordFailure(err)

	if s.cfg.TestFrames {
		return s.placeholder(), nil
	}
	return Frame{}, err
}

func (s *FrameSource) captureOnce(ctx context.Context, source string) (Frame, error) {
	if err := s.ensureConnected(ctx); err != nil {
		return Frame{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var payload screenshotPayload
	err := s.tr.Call(ctx, opGetScreenshot, screenshotParams{
		Source:  source,
		Format:  "png",
		Width:   s.cfg.Width,
		Height:  s.cfg.Height,
		Quality: 75,
	}, &payload)
	if err != nil {
		// A failed call may mean the connection died; force a redial on
		// the next attempt.
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		return Frame{}, errkind.Wrap(errkind.Capture, "capture.screenshot", err)
	}

	frame, err := decodeScreenshot(payload, s.clock.Now())
	if err != nil {
		return Frame{}, errkind.Wrap(errkind.Capture, "capture.decode", err)
	}
	return frame, nil
}

func (s *FrameSource) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
	s.lastErr = nil
	s.lastGood = s.clock.Now()
	if s.down {
		s.down = false
		s.logf("source recovered")
		s.bus.Publish(events.Event{Type: events.FrameSourceUp, Detail: "recovered"})
	}
}

func (s *FrameSource) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	s.lastErr = err
	if s.failures >= s.cfg.DownAfter && !s.down {
		s.down = true
		s.logf("source DOWN after %d consecutive failures: %v", s.failures, err)
		s.bus.Publish(events.Event{Type: events.FrameSourceDown, Detail: err.Error()})
	}
}

// placeholder returns the next synthetic frame and flags the degraded mode.
func (s *FrameSource) placeholder() Frame {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	s.bus.Publish(events.Event{Type: events.CaptureDegraded, Detail: "serving placeholder frame"})
	return TestPattern(seq, s.cfg.Width, s.cfg.Height, s.clock.Now())
}

// ListSources enumerates the capturable sources on the service.
func (s *FrameSource) ListSources(ctx context.Context) ([]SourceDescriptor, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var payload sourcesPayload
	if err := s.tr.Call(ctx, opListSources, nil, &payload); err != nil {
		return nil, errkind.Wrap(errkind.Capture, "capture.sources", err)
	}
	active := s.ActiveSource()
	for i := range payload.Sources {
		payload.Sources[i].Active = payload.Sources[i].Name == active
	}
	return payload.Sources, nil
}

// MediaStatus reports playback state for the named media source.
func (s *FrameSource) MediaStatus(ctx context.Context, name string) (MediaStatus, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureConnected(ctx); err != nil {
		return MediaStatus{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	var payload mediaStatusPayload
	if err := s.tr.Call(ctx, opMediaStatus, mediaStatusParams{Source: name}, &payload); err != nil {
		return MediaStatus{}, errkind.Wrap(errkind.Capture, "capture.mediastatus", err)
	}
	return MediaStatus{
		Name:     name,
		State:    payload.State,
		Duration: time.Duration(payload.DurationMS) * time.Millisecond,
		Position: time.Duration(payload.PositionMS) * time.Millisecond,
	}, nil
}

// ControlMedia sends a playback command. position applies to seek only.
func (s *FrameSource) ControlMedia(ctx context.Context, name string, action MediaAction, position time.Duration) error {
	if !ValidMediaAction(action) {
		return errkind.Newf(errkind.Capture, "capture.mediacontrol", "unknown media action %q", action)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	params := mediaControlParams{Source: name, Action: string(action)}
	if action == MediaSeek {
		params.PositionMS = position.Milliseconds()
	}
	if err := s.tr.Call(ctx, opMediaControl, params, nil); err != nil {
		return errkind.Wrap(errkind.Capture, "capture.mediacontrol", err)
	}
	return nil
}

// SetSource switches the active capture source.
func (s *FrameSource) SetSource(name string) error {
	if name == "" {
		return errkind.New(errkind.Capture, "capture.setsource", "source name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = name
	return nil
}

// ActiveSource returns the current capture source name.
func (s *FrameSource) ActiveSource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Health snapshots the source state.
func (s *FrameSource) Health() SourceHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := SourceHealth{
		Connected:           s.connected,
		Down:                s.down,
		ConsecutiveFailures: s.failures,
		LastCapture:         s.lastGood,
		ActiveSource:        s.active,
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	return h
}

// Close tears down the transport.
func (s *FrameSource) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return s.tr.Close()
}
