package capture

import (
	"context"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// fakeTransport scripts the remote service for frame source tests.
type fakeTransport struct {
	connectErr error
	connects   int
	callErr    error
	calls      []string

	screenshot screenshotPayload
	sources    []SourceDescriptor
	media      mediaStatusPayload
	controls   []mediaControlParams
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Call(ctx context.Context, op string, params, result any) error {
	f.calls = append(f.calls, op)
	if f.callErr != nil {
		return f.callErr
	}
	switch op {
	case opGetScreenshot:
		*(result.(*screenshotPayload)) = f.screenshot
	case opListSources:
		*(result.(*sourcesPayload)) = sourcesPayload{Sources: f.sources}
	case opMediaStatus:
		*(result.(*mediaStatusPayload)) = f.media
	case opMediaControl:
		f.controls = append(f.controls, params.(mediaControlParams))
	}
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func testFrameConfig() config.Capture {
	cfg := config.Default().Capture
	cfg.Width = 8
	cfg.Height = 6
	cfg.Source = "camera"
	return cfg
}

func newTestSource(t *testing.T, cfg config.Capture, tr *fakeTransport) (*FrameSource, *timeutil.MockClock, *events.Bus) {
	t.Helper()
	clock := timeutil.NewMockClock(syncEpoch)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return NewFrameSource(cfg, tr, bus, clock), clock, bus
}

func TestCaptureSuccess(t *testing.T) {
	tr := &fakeTransport{screenshot: screenshotPayload{
		ImageData: pngBase64(t, solidImage(8, 6, color.RGBA{R: 100, A: 255})),
	}}
	src, _, _ := newTestSource(t, testFrameConfig(), tr)

	frame, err := src.Capture(context.Background(), "")
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if frame.Synthetic {
		t.Error("Synthetic = true for live capture")
	}
	if frame.Width != 8 || frame.Height != 6 {
		t.Errorf("dimensions = %dx%d, want 8x6", frame.Width, frame.Height)
	}
	h := src.Health()
	if !h.Connected || h.Down || h.ConsecutiveFailures != 0 {
		t.Errorf("health after success = %+v", h)
	}
	if h.LastCapture.IsZero() {
		t.Error("LastCapture not recorded")
	}
}

func TestCaptureMarksDownAfterConsecutiveFailures(t *testing.T) {
	cfg := testFrameConfig()
	cfg.TestFrames = true
	tr := &fakeTransport{callErr: errors.New("screenshot refused")}
	src, _, bus := newTestSource(t, cfg, tr)
	_, eventsCh := bus.Subscribe(16)

	// Each failed capture returns the placeholder instead of an error.
	for i := 1; i <= cfg.DownAfter; i++ {
		frame, err := src.Capture(context.Background(), "")
		if err != nil {
			t.Fatalf("capture %d: error = %v, want placeholder", i, err)
		}
		if !frame.Synthetic {
			t.Fatalf("capture %d: Synthetic = false, want placeholder frame", i)
		}
	}

	h := src.Health()
	if !h.Down {
		t.Errorf("Down = false after %d failures", cfg.DownAfter)
	}
	if h.ConsecutiveFailures != cfg.DownAfter {
		t.Errorf("ConsecutiveFailures = %d, want %d", h.ConsecutiveFailures, cfg.DownAfter)
	}

	var sawDown bool
	for len(eventsCh) > 0 {
		if ev := <-eventsCh; ev.Type == events.FrameSourceDown {
			sawDown = true
		}
	}
	if !sawDown {
		t.Error("no FrameSourceDown event published")
	}
}

func TestCaptureFailureWithoutTestFramesReturnsError(t *testing.T) {
	cfg := testFrameConfig()
	cfg.TestFrames = false
	tr := &fakeTransport{callErr: errors.New("screenshot refused")}
	src, _, _ := newTestSource(t, cfg, tr)

	_, err := src.Capture(context.Background(), "")
	if err == nil {
		t.Fatal("expected error without test-frame mode")
	}
	if kind := errkind.KindOf(err); kind != errkind.Capture {
		t.Errorf("error kind = %v, want %v", kind, errkind.Capture)
	}
}

func TestCaptureRecoversAfterDown(t *testing.T) {
	cfg := testFrameConfig()
	cfg.TestFrames = true
	tr := &fakeTransport{callErr: errors.New("flaky")}
	src, _, bus := newTestSource(t, cfg, tr)
	_, eventsCh := bus.Subscribe(32)

	for i := 0; i < cfg.DownAfter; i++ {
		src.Capture(context.Background(), "")
	}
	if !src.Health().Down {
		t.Fatal("source should be down")
	}

	tr.callErr = nil
	tr.screenshot = screenshotPayload{ImageData: pngBase64(t, solidImage(8, 6, color.RGBA{A: 255}))}
	frame, err := src.Capture(context.Background(), "")
	if err != nil {
		t.Fatalf("Capture() after recovery error = %v", err)
	}
	if frame.Synthetic {
		t.Error("recovered capture still synthetic")
	}
	h := src.Health()
	if h.Down || h.ConsecutiveFailures != 0 {
		t.Errorf("health after recovery = %+v", h)
	}

	var ups int
	for len(eventsCh) > 0 {
		if ev := <-eventsCh; ev.Type == events.FrameSourceUp {
			ups++
		}
	}
	// One for connect, one for recovery.
	if ups < 2 {
		t.Errorf("FrameSourceUp events = %d, want >= 2", ups)
	}
}

func TestConnectBackoffGatesRedial(t *testing.T) {
	cfg := testFrameConfig()
	tr := &fakeTransport{connectErr: errors.New("refused")}
	src, clock, _ := newTestSource(t, cfg, tr)

	if _, err := src.Capture(context.Background(), ""); err == nil {
		t.Fatal("expected connect failure")
	}
	if tr.connects != 1 {
		t.Fatalf("connects = %d, want 1", tr.connects)
	}

	// Inside the backoff window nothing redials.
	_, err := src.Capture(context.Background(), "")
	if err == nil {
		t.Fatal("expected backoff error")
	}
	if kind := errkind.KindOf(err); kind != errkind.Connection {
		t.Errorf("error kind = %v, want %v", kind, errkind.Connection)
	}
	if tr.connects != 1 {
		t.Errorf("connects = %d, want 1 (gated by backoff)", tr.connects)
	}

	// Past the first backoff the dial is retried; the window doubles.
	clock.Advance(cfg.ReconnectMin)
	src.Capture(context.Background(), "")
	if tr.connects != 2 {
		t.Errorf("connects = %d, want 2", tr.connects)
	}
	clock.Advance(cfg.ReconnectMin)
	src.Capture(context.Background(), "")
	if tr.connects != 2 {
		t.Errorf("connects = %d, want 2 (doubled window not yet elapsed)", tr.connects)
	}
	clock.Advance(cfg.ReconnectMin)
	src.Capture(context.Background(), "")
	if tr.connects != 3 {
		t.Errorf("connects = %d, want 3", tr.connects)
	}
}

func TestBackoffCapsAtReconnectMax(t *testing.T) {
	cfg := testFrameConfig()
	cfg.ReconnectMin = 5 * time.Second
	cfg.ReconnectMax = 8 * time.Second
	tr := &fakeTransport{connectErr: errors.New("refused")}
	src, clock, _ := newTestSource(t, cfg, tr)

	for i := 0; i < 6; i++ {
		src.Capture(context.Background(), "")
		clock.Advance(cfg.ReconnectMax)
	}
	src.mu.Lock()
	backoff := src.backoff
	src.mu.Unlock()
	if backoff != cfg.ReconnectMax {
		t.Errorf("backoff = %v, want capped at %v", backoff, cfg.ReconnectMax)
	}
}

func TestListSourcesFlagsActive(t *testing.T) {
	tr := &fakeTransport{sources: []SourceDescriptor{
		{Name: "camera", Kind: "camera"},
		{Name: "desk recording", Kind: "media"},
	}}
	src, _, _ := newTestSource(t, testFrameConfig(), tr)

	sources, err := src.ListSources(context.Background())
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("len(sources) = %d, want 2", len(sources))
	}
	if !sources[0].Active {
		t.Error("active source not flagged")
	}
	if sources[1].Active {
		t.Error("inactive source flagged active")
	}
}

func TestSetSource(t *testing.T) {
	src, _, _ := newTestSource(t, testFrameConfig(), &fakeTransport{})

	if err := src.SetSource("desk recording"); err != nil {
		t.Fatalf("SetSource() error = %v", err)
	}
	if got := src.ActiveSource(); got != "desk recording" {
		t.Errorf("ActiveSource() = %q, want %q", got, "desk recording")
	}
	if err := src.SetSource(""); err == nil {
		t.Error("expected error for empty source name")
	}
}

func TestMediaStatus(t *testing.T) {
	tr := &fakeTransport{media: mediaStatusPayload{State: "playing", DurationMS: 60000, PositionMS: 1500}}
	src, _, _ := newTestSource(t, testFrameConfig(), tr)

	st, err := src.MediaStatus(context.Background(), "desk recording")
	if err != nil {
		t.Fatalf("MediaStatus() error = %v", err)
	}
	if st.State != "playing" {
		t.Errorf("State = %q, want %q", st.State, "playing")
	}
	if st.Duration != time.Minute {
		t.Errorf("Duration = %v, want 1m", st.Duration)
	}
	if st.Position != 1500*time.Millisecond {
		t.Errorf("Position = %v, want 1.5s", st.Position)
	}
}

func TestControlMedia(t *testing.T) {
	tr := &fakeTransport{}
	src, _, _ := newTestSource(t, testFrameConfig(), tr)

	if err := src.ControlMedia(context.Background(), "rec", MediaSeek, 5*time.Second); err != nil {
		t.Fatalf("ControlMedia() error = %v", err)
	}
	if len(tr.controls) != 1 {
		t.Fatalf("controls sent = %d, want 1", len(tr.controls))
	}
	sent := tr.controls[0]
	if sent.Action != "seek" || sent.PositionMS != 5000 {
		t.Errorf("control = %+v, want seek at 5000ms", sent)
	}

	if err := src.ControlMedia(context.Background(), "rec", MediaAction("rewind"), 0); err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestControlMediaOmitsPositionForPlay(t *testing.T) {
	tr := &fakeTransport{}
	src, _, _ := newTestSource(t, testFrameConfig(), tr)

	if err := src.ControlMedia(context.Background(), "rec", MediaPlay, 9*time.Second); err != nil {
		t.Fatalf("ControlMedia() error = %v", err)
	}
	if got := tr.controls[0].PositionMS; got != 0 {
		t.Errorf("PositionMS = %d, want 0 for play", got)
	}
}
