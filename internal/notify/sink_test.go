package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-data/activity.report/internal/classify"
	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/httputil"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

var sinkEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func sinkConfig(url string) config.Notify {
	return config.Notify{
		URL:         url,
		Token:       "tok-123",
		QueueSize:   4,
		MaxAttempts: 5,
		RetryMin:    500 * time.Millisecond,
		RetryMax:    30 * time.Second,
		Timeout:     10 * time.Second,
	}
}

func sinkResult(offset time.Duration) classify.Result {
	scores := map[classify.Label]float64{classify.Sleeping: 0.70}
	for _, l := range classify.Labels() {
		if l != classify.Sleeping {
			scores[l] = 0.05
		}
	}
	return classify.Result{
		Timestamp: sinkEpoch.Add(offset),
		Activity:  classify.Sleeping,
		Scores:    scores,
		Mode:      classify.ModeRules,
	}
}

func newQuietSink(cfg config.Notify, client httputil.HTTPClient, clock timeutil.Clock, bus *events.Bus) *Sink {
	s := NewSink(cfg, client, clock, bus)
	s.logf = func(string, ...interface{}) {}
	return s
}

// drainEvents counts buffered events of the given type without blocking.
func drainEvents(ch <-chan events.Event, want events.Type) int {
	n := 0
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				n++
			}
		default:
			return n
		}
	}
}

// waitForDelivered polls until the sink reports n deliveries or times out.
func waitForDelivered(t *testing.T, s *Sink, n uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().Delivered >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Delivered = %d, want %d", s.Status().Delivered, n)
}

func TestPostPayload(t *testing.T) {
	t.Parallel()

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusOK, `{"status":"ok"}`)
	s := newQuietSink(sinkConfig("http://svc.example/api/activity"), client, timeutil.NewMockClock(sinkEpoch), nil)

	err := s.post(context.Background(), sinkResult(0))
	require.NoError(t, err)
	require.Equal(t, 1, client.RequestCount())

	req := client.Request(0)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://svc.example/api/activity", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))

	var got payload
	require.NoError(t, json.Unmarshal([]byte(client.Body(0)), &got))
	assert.Equal(t, sinkEpoch.Unix(), got.Timestamp)
	assert.Equal(t, "2025-06-01 12:00:00", got.DateTime)
	assert.Equal(t, classify.Sleeping, got.Activity)
	assert.InDelta(t, 0.70, got.Confidence, 1e-9)
	assert.Equal(t, classify.ModeRules, got.Mode)
	assert.Len(t, got.Scores, len(classify.Labels()))
}

func TestPostWithoutToken(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig("http://svc.example/api/activity")
	cfg.Token = ""
	client := httputil.NewMockHTTPClient()
	s := newQuietSink(cfg, client, timeutil.NewMockClock(sinkEpoch), nil)

	require.NoError(t, s.post(context.Background(), sinkResult(0)))
	assert.Empty(t, client.Request(0).Header.Get("Authorization"))
}

func TestPostRejectedStatus(t *testing.T) {
	t.Parallel()

	client := httputil.NewMockHTTPClient()
	client.AddResponse(http.StatusBadGateway, "upstream broken")
	s := newQuietSink(sinkConfig("http://svc.example/api/activity"), client, timeutil.NewMockClock(sinkEpoch), nil)

	err := s.post(context.Background(), sinkResult(0))
	require.Error(t, err)
	assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
}

func TestDeliverRetriesWithBackoff(t *testing.T) {
	t.Parallel()

	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection refused"))
	client.AddErrorResponse(errors.New("connection refused"))
	client.AddResponse(http.StatusOK, "")

	clock := timeutil.NewMockClock(sinkEpoch)
	bus := events.NewBus()
	id, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(id)

	s := newQuietSink(sinkConfig("http://svc.example/api/activity"), client, clock, bus)

	done := make(chan error, 1)
	go func() { done <- s.deliver(context.Background(), sinkResult(0)) }()

	// Backoff doubles from 500ms: the first wait is 500ms, the second 1s.
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not finish after backoff")
	}

	assert.Equal(t, 3, client.RequestCount())

	st := s.Status()
	assert.Equal(t, uint64(1), st.Delivered)
	assert.Equal(t, uint64(2), st.Retried)
	assert.Equal(t, uint64(0), st.Dropped)
	assert.Equal(t, sinkEpoch.Add(1500*time.Millisecond), st.LastSent)
	assert.Empty(t, st.LastError)

	assert.Equal(t, 2, drainEvents(ch, events.DeliveryRetried))
}

func TestDeliverExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig("http://svc.example/api/activity")
	cfg.MaxAttempts = 3
	client := httputil.NewMockHTTPClient()
	client.DefaultError = errors.New("connection refused")

	clock := timeutil.NewMockClock(sinkEpoch)
	s := newQuietSink(cfg, client, clock, nil)

	done := make(chan error, 1)
	go func() { done <- s.deliver(context.Background(), sinkResult(0)) }()

	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("deliver did not give up after max attempts")
	}

	assert.Equal(t, 3, client.RequestCount())
	assert.Equal(t, uint64(2), s.Status().Retried)
}

func TestDeliverBackoffCapped(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig("http://svc.example/api/activity")
	cfg.MaxAttempts = 4
	cfg.RetryMax = time.Second
	client := httputil.NewMockHTTPClient()
	client.DefaultError = errors.New("connection refused")

	clock := timeutil.NewMockClock(sinkEpoch)
	s := newQuietSink(cfg, client, clock, nil)

	done := make(chan error, 1)
	go func() { done <- s.deliver(context.Background(), sinkResult(0)) }()

	// Delays double from 500ms but cap at 1s: 500ms, 1s, 1s.
	clock.BlockUntil(1)
	clock.Advance(500 * time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(time.Second)
	clock.BlockUntil(3)
	clock.Advance(time.Second)

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("third backoff was not capped at retry_max")
	}
	assert.Equal(t, 4, client.RequestCount())
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig("http://svc.example/api/activity")
	cfg.QueueSize = 2
	bus := events.NewBus()
	id, ch := bus.Subscribe(4)
	defer bus.Unsubscribe(id)

	s := newQuietSink(cfg, httputil.NewMockHTTPClient(), timeutil.NewMockClock(sinkEpoch), bus)

	s.Enqueue(sinkResult(0))
	s.Enqueue(sinkResult(time.Minute))
	s.Enqueue(sinkResult(2 * time.Minute))

	st := s.Status()
	assert.Equal(t, 2, st.Queued)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, 1, drainEvents(ch, events.DeliveryDropped))

	// The oldest result gave way; the two newest remain in order.
	first := <-s.queue
	second := <-s.queue
	assert.Equal(t, sinkEpoch.Add(time.Minute), first.Timestamp)
	assert.Equal(t, sinkEpoch.Add(2*time.Minute), second.Timestamp)
}

func TestEnqueueDisabledSink(t *testing.T) {
	t.Parallel()

	s := newQuietSink(config.Notify{QueueSize: 4}, httputil.NewMockHTTPClient(), timeutil.NewMockClock(sinkEpoch), nil)

	s.Enqueue(sinkResult(0))

	st := s.Status()
	assert.False(t, st.Enabled)
	assert.Equal(t, 0, st.Queued)
}

func TestRunDisabledReturns(t *testing.T) {
	t.Parallel()

	s := newQuietSink(config.Notify{QueueSize: 4}, httputil.NewMockHTTPClient(), timeutil.NewMockClock(sinkEpoch), nil)

	done := make(chan struct{})
	go func() { s.Run(context.Background()); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled sink")
	}
}

func TestRunDeliversQueued(t *testing.T) {
	t.Parallel()

	client := httputil.NewMockHTTPClient()
	s := newQuietSink(sinkConfig("http://svc.example/api/activity"), client, timeutil.RealClock{}, nil)

	s.Enqueue(sinkResult(0))
	s.Enqueue(sinkResult(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	waitForDelivered(t, s, 2)
	cancel()
	<-done

	assert.Equal(t, 2, client.RequestCount())
	assert.Equal(t, uint64(0), s.Status().Dropped)
}

func TestRunRequeuesExhaustedResult(t *testing.T) {
	t.Parallel()

	cfg := sinkConfig("http://svc.example/api/activity")
	cfg.MaxAttempts = 1
	client := httputil.NewMockHTTPClient()
	client.AddErrorResponse(errors.New("connection refused"))
	client.AddResponse(http.StatusOK, "")

	s := newQuietSink(cfg, client, timeutil.RealClock{}, nil)
	s.Enqueue(sinkResult(0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	waitForDelivered(t, s, 1)
	cancel()
	<-done

	// First attempt failed, so the result went back to the tail and was
	// delivered whole on the next pass.
	assert.Equal(t, 2, client.RequestCount())
	assert.Equal(t, uint64(0), s.Status().Dropped)
	assert.Empty(t, s.Status().LastError)

	var got payload
	require.NoError(t, json.Unmarshal([]byte(client.Body(1)), &got))
	assert.Equal(t, classify.Sleeping, got.Activity)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	t.Run("disabled reports ready", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		s := newQuietSink(config.Notify{}, client, timeutil.NewMockClock(sinkEpoch), nil)

		assert.NoError(t, s.Probe(context.Background()))
		assert.Equal(t, 0, client.RequestCount())
	})

	t.Run("GETs the status endpoint", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		client.AddResponse(http.StatusOK, `{"status":"ok"}`)
		s := newQuietSink(sinkConfig("http://svc.example/api/activity/"), client, timeutil.NewMockClock(sinkEpoch), nil)

		require.NoError(t, s.Probe(context.Background()))
		req := client.Request(0)
		require.NotNil(t, req)
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "http://svc.example/api/activity/status", req.URL.String())
		assert.Equal(t, "Bearer tok-123", req.Header.Get("Authorization"))
	})

	t.Run("non-200 fails readiness", func(t *testing.T) {
		t.Parallel()
		client := httputil.NewMockHTTPClient()
		client.AddResponse(http.StatusServiceUnavailable, "down")
		s := newQuietSink(sinkConfig("http://svc.example/api/activity"), client, timeutil.NewMockClock(sinkEpoch), nil)

		err := s.Probe(context.Background())
		require.Error(t, err)
		assert.Equal(t, errkind.Delivery, errkind.KindOf(err))
	})
}
