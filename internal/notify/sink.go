// Package notify delivers classification results to an external HTTP
// service. Results represent auditable activity events, so delivery is
// at-least-once for everything queued: transient failures are retried with
// backoff and a result is only lost when the bounded queue overflows, which
// is counted and alerted.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/monitoring"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// payload is the wire shape the external service expects.
type payload struct {
	Timestamp  int64                      `json:"timestamp"`
	DateTime   string                     `json:"date_time"`
	Activity   classify.Label             `json:"activity"`
	Confidence float64                    `json:"confidence"`
	Scores     map[classify.Label]float64 `json:"scores"`
	Mode       classify.Mode              `json:"mode"`
}

func newPayload(r classify.Result) payload {
	return payload{
		Timestamp:  r.Timestamp.Unix(),
		DateTime:   r.Timestamp.Format("2006-01-02 15:04:05"),
		Activity:   r.Activity,
		Confidence: r.Confidence(),
		Scores:     r.Scores,
		Mode:       r.Mode,
	}
}

// Status is a snapshot of sink counters for the status API.
type Status struct {
	Enabled   bool      `json:"enabled"`
	Queued    int       `json:"queued"`
	Delivered uint64    `json:"delivered"`
	Retried   uint64    `json:"retried"`
	Dropped   uint64    `json:"dropped"`
	LastSent  time.Time `json:"last_sent"`
	LastError string    `json:"last_error,omitempty"`
}

// Sink posts results to the configured URL through a bounded in-memory
// queue. Enqueue never blocks the caller; a worker goroutine started by Run
// drains the queue.
type Sink struct {
	cfg    config.Notify
	client httputil.HTTPClient
	clock  timeutil.Clock
	bus    *events.Bus
	logf   func(format string, v ...interface{})

	queue chan classify.Result

	mu        sync.Mutex
	delivered uint64
	retried   uint64
	dropped   uint64
	lastSent  time.Time
	lastErr   error
}

// NewSink builds a sink. A nil client uses http.DefaultClient, a nil clock
// uses real time, and a nil bus disables event publication.
func NewSink(cfg config.Notify, client httputil.HTTPClient, clock timeutil.Clock, bus *events.Bus) *Sink {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		clock:  clock,
		bus:    bus,
		logf:   monitoring.Scoped("notify"),
		queue:  make(chan classify.Result, size),
	}
}

// Enabled reports whether a delivery URL is configured.
func (s *Sink) Enabled() bool { return s.cfg.URL != "" }

// Enqueue queues r for delivery without blocking. When the queue is full the
// oldest queued result is dropped to make room, keeping the newest. Enqueue
// on a disabled sink is a no-op.
func (s *Sink) Enqueue(r classify.Result) {
	if !s.Enabled() {
		return
	}
	s.offer(r)
}

// offer is the drop-oldest insert shared by Enqueue and the worker's
// re-queue path.
func (s *Sink) offer(r classify.Result) {
	select {
	case s.queue <- r:
		return
	default:
	}
	select {
	case old := <-s.queue:
		s.drop(old, "queue full")
	default:
	}
	select {
	case s.queue <- r:
	default:
		// Lost the slot to a concurrent producer; the incoming result
		// gives way instead of the queued ones.
		s.drop(r, "queue full")
	}
}

func (s *Sink) drop(r classify.Result, reason string) {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
	s.logf("ALERT: dropping %s result from %s: %s", r.Activity, r.Timestamp.Format(time.RFC3339), reason)
	s.publish(events.DeliveryDropped, fmt.Sprintf("%s: %s", r.Activity, reason))
}

func (s *Sink) publish(t events.Type, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{Type: t, At: s.clock.Now(), Detail: detail})
}

func (s *Sink) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// Run drains the queue until ctx is cancelled. A result whose attempts are
// exhausted is re-queued at the tail, so it is retried after everything
// already waiting and lost only to queue overflow. Run on a disabled sink
// returns immediately.
func (s *Sink) Run(ctx context.Context) {
	if !s.Enabled() {
		s.logf("no URL configured, deliveries disabled")
		return
	}
	s.logf("delivering to %s (queue capacity %d)", s.cfg.URL, cap(s.queue))
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.queue:
			err := s.deliver(ctx, r)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.setLastErr(err)
			s.logf("ALERT: %v, re-queueing %s result", err, r.Activity)
			s.offer(r)
		}
	}
}

// deliver posts r, retrying failures with doubling backoff until the
// attempt budget is spent or ctx ends.
func (s *Sink) deliver(ctx context.Context, r classify.Result) error {
	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := s.cfg.RetryMin
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for attempt := 1; ; attempt++ {
		err := s.post(ctx, r)
		if err == nil {
			s.mu.Lock()
			s.delivered++
			s.lastSent = s.clock.Now()
			s.lastErr = nil
			s.mu.Unlock()
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt >= attempts {
			return errkind.Newf(errkind.Delivery, "notify.deliver", "%d attempts failed: %v", attempt, err)
		}

		s.mu.Lock()
		s.retried++
		s.mu.Unlock()
		s.logf("push failed (attempt %d/%d), retrying in %s: %v", attempt, attempts, delay, err)
		s.publish(events.DeliveryRetried, fmt.Sprintf("attempt %d: %v", attempt, err))

		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C():
		}
		delay *= 2
		if s.cfg.RetryMax > 0 && delay > s.cfg.RetryMax {
			delay = s.cfg.RetryMax
		}
	}
}

// post sends one result. Any non-200 status is a delivery error so the
// retry policy treats it like a transport failure.
func (s *Sink) post(ctx context.Context, r classify.Result) error {
	body, err := json.Marshal(newPayload(r))
	if err != nil {
		return errkind.Wrap(errkind.Delivery, "notify.post", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return errkind.Wrap(errkind.Delivery, "notify.post", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Delivery, "notify.post", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errkind.Newf(errkind.Delivery, "notify.post", "status %d", resp.StatusCode)
	}
	return nil
}

// Probe checks the service /status endpoint for readiness. A disabled sink
// reports ready without a request.
func (s *Sink) Probe(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	url := strings.TrimRight(s.cfg.URL, "/") + "/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errkind.Wrap(errkind.Delivery, "notify.probe", err)
	}
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.Delivery, "notify.probe", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return errkind.Newf(errkind.Delivery, "notify.probe", "status %d", resp.StatusCode)
	}
	return nil
}

// Status returns a snapshot of sink state.
func (s *Sink) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Enabled:   s.Enabled(),
		Queued:    len(s.queue),
		Delivered: s.delivered,
		Retried:   s.retried,
		Dropped:   s.dropped,
		LastSent:  s.lastSent,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
