// Package analysis drives the capture pipeline. The loop pairs the freshest
// frame with synchronized audio on a fixed cadence, extracts features,
// classifies, persists the result, and hands it to the notification sink.
// Degraded sources shrink the sample but never skip a tick: continuity of
// the activity log wins over sample completeness.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/db"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/features"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/notify"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// State is the loop lifecycle phase.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateError    State = "error"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// FrameGrabber is the frame-source surface the loop pulls from.
type FrameGrabber interface {
	Capture(ctx context.Context, source string) (capture.Frame, error)
	Health() capture.SourceHealth
}

// AudioMonitor reports audio-source health for the status snapshot.
type AudioMonitor interface {
	Health() capture.AudioHealth
}

// Status is a point-in-time view of the loop for the status API.
type Status struct {
	State      State                `json:"state"`
	SessionID  string               `json:"session_id"`
	IntervalS  float64              `json:"interval_s"`
	Iterations uint64               `json:"iterations"`
	Appended   uint64               `json:"appended"`
	LastTick   time.Time            `json:"last_tick"`
	LastError  string               `json:"last_error,omitempty"`
	LastResult *classify.Result     `json:"last_result,omitempty"`
	Frames     capture.SourceHealth `json:"frames"`
	Audio      capture.AudioHealth  `json:"audio"`
}

// LoopConfig wires the loop's collaborators.
type LoopConfig struct {
	Frames     FrameGrabber
	Audio      AudioMonitor
	Buffer     *capture.SyncBuffer
	Extractor  *features.Extractor
	Classifier *classify.Classifier
	Store      *db.DB
	Sink       *notify.Sink
	Bus        *events.Bus
	Clock      timeutil.Clock

	// Interval is the tick cadence; non-positive selects the 300s default.
	Interval time.Duration

	// Retention bounds record age; the loop sweeps daily. Zero disables.
	Retention time.Duration
}

// Loop owns the periodic classification goroutine. It is the single writer
// of the activity log: scheduled ticks and on-demand RunOnce calls are
// serialized on one mutex, so results land in strictly increasing
// timestamp order.
type Loop struct {
	frames     FrameGrabber
	audio      AudioMonitor
	buf        *capture.SyncBuffer
	extractor  *features.Extractor
	classifier *classify.Classifier
	store      *db.DB
	sink       *notify.Sink
	bus        *events.Bus
	clock      timeutil.Clock
	logf       func(string, ...interface{})
	retention  time.Duration

	// iterMu serializes pipeline iterations; mu guards snapshot state so
	// status reads never wait on a capture in flight.
	iterMu sync.Mutex
	mu     sync.Mutex

	state      State
	sessionID  string
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
	prev       capture.Frame
	iterations uint64
	appended   uint64
	lastTick   time.Time
	lastErr    error
	lastResult *classify.Result
}

// NewLoop builds an idle loop; Start launches it.
func NewLoop(cfg LoopConfig) *Loop {
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Loop{
		frames:     cfg.Frames,
		audio:      cfg.Audio,
		buf:        cfg.Buffer,
		extractor:  cfg.Extractor,
		classifier: cfg.Classifier,
		store:      cfg.Store,
		sink:       cfg.Sink,
		bus:        cfg.Bus,
		clock:      clock,
		logf:       monitoring.Scoped("loop"),
		retention:  cfg.Retention,
		interval:   interval,
		state:      StateIdle,
		sessionID:  uuid.NewString(),
	}
}

// Start launches the tick goroutine under a fresh session. A positive
// interval overrides the configured cadence. Calling Start on a running
// loop is a no-op returning false.
func (l *Loop) Start(interval time.Duration) bool {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return false
	}
	if interval > 0 {
		l.interval = interval
	}
	l.sessionID = uuid.NewString()
	l.prev = capture.Frame{}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	iv := l.interval
	sess := l.sessionID
	l.mu.Unlock()

	l.setState(StateRunning, "session "+sess)
	go l.run(ctx, iv, done)
	return true
}

// Stop halts the loop before its next scheduled tick and waits for the
// goroutine to exit, so no appends follow a returned Stop. Stopping an
// idle or already stopped loop is a no-op returning false.
func (l *Loop) Stop() bool {
	l.mu.Lock()
	if l.cancel == nil {
		l.mu.Unlock()
		return false
	}
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()

	l.setState(StateStopping, "stop requested")
	cancel()
	<-done
	l.setState(StateStopped, "loop exited")
	return true
}

func (l *Loop) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()
	sweep := l.clock.NewTicker(24 * time.Hour)
	defer sweep.Stop()

	l.logf("classifying every %s", interval)
	l.sweepRetention()
	l.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if ctx.Err() != nil {
				return
			}
			l.tick(ctx)
		case <-sweep.C():
			l.sweepRetention()
		}
	}
}

// tick runs one scheduled iteration. A persistence failure flips the loop
// into the error state; the next clean tick recovers it.
func (l *Loop) tick(ctx context.Context) {
	if _, err := l.iterate(ctx); err != nil {
		l.logf("ALERT: iteration failed: %v", err)
		l.setState(StateError, err.Error())
		return
	}
	if l.State() == StateError {
		l.setState(StateRunning, "recovered")
	}
}

// RunOnce performs one synchronous on-demand classification, serialized
// with the scheduled ticks so the log keeps its single writer.
func (l *Loop) RunOnce(ctx context.Context) (classify.Result, error) {
	return l.iterate(ctx)
}

// iterate executes one capture, classify, persist pass.
func (l *Loop) iterate(ctx context.Context) (classify.Result, error) {
	l.iterMu.Lock()
	defer l.iterMu.Unlock()

	now := l.clock.Now()

	if l.frames != nil {
		frame, err := l.frames.Capture(ctx, "")
		if err != nil {
			l.logf("capture failed, continuing with buffered frames: %v", err)
		} else if !frame.Empty() {
			l.buf.PushFrame(frame)
		}
	}

	sample, err := l.buf.BestSample()
	if err != nil {
		// No frame has ever arrived. Classify a fully degraded sample
		// rather than skip the tick.
		l.logf("no sample available, classifying degraded: %v", err)
		sample = capture.SyncedSample{Unsynced: true}
	}

	vec := l.extractor.Extract(sample, l.prevFrame())
	res := l.classifier.Classify(now, vec, sample.Unsynced)
	l.setPrevFrame(sample.Frame)

	l.mu.Lock()
	l.iterations++
	l.lastTick = now
	sess := l.sessionID
	l.mu.Unlock()

	if _, err := l.store.AppendResult(sess, res); err != nil {
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		return res, err
	}

	l.mu.Lock()
	l.appended++
	l.lastErr = nil
	r := res
	l.lastResult = &r
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Enqueue(res)
	}
	if l.bus != nil {
		l.bus.Publish(events.Event{Type: events.ResultPublished, At: now, Detail: string(res.Activity)})
	}
	return res, nil
}

func (l *Loop) sweepRetention() {
	if l.retention <= 0 {
		return
	}
	cutoff := l.clock.Now().Add(-l.retention)
	n, err := l.store.DeleteOlderThan(cutoff)
	if err != nil {
		l.logf("retention sweep failed: %v", err)
		return
	}
	if n > 0 {
		l.logf("retention sweep removed %d records older than %s", n, cutoff.Format(time.RFC3339))
	}
}

// Current returns the most recent result, false when none exists yet.
func (l *Loop) Current() (classify.Result, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lastResult == nil {
		return classify.Result{}, false
	}
	return *l.lastResult, true
}

// State reports the current lifecycle phase.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status snapshots the loop and its sources.
func (l *Loop) Status() Status {
	l.mu.Lock()
	st := Status{
		State:      l.state,
		SessionID:  l.sessionID,
		IntervalS:  l.interval.Seconds(),
		Iterations: l.iterations,
		Appended:   l.appended,
		LastTick:   l.lastTick,
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	if l.lastResult != nil {
		r := *l.lastResult
		st.LastResult = &r
	}
	l.mu.Unlock()

	if l.frames != nil {
		st.Frames = l.frames.Health()
	}
	if l.audio != nil {
		st.Audio = l.audio.Health()
	}
	return st
}

func (l *Loop) setState(s State, detail string) {
	l.mu.Lock()
	if l.state == s {
		l.mu.Unlock()
		return
	}
	l.state = s
	l.mu.Unlock()
	l.logf("state %s (%s)", s, detail)
	if l.bus != nil {
		l.bus.Publish(events.Event{Type: events.LoopStateChanged, At: l.clock.Now(), Detail: string(s)})
	}
}

func (l *Loop) prevFrame() capture.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prev
}

func (l *Loop) setPrevFrame(f capture.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prev = f
}
