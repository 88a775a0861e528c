package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
	"github.com/vigil-data/activity.report/internal/events"
	"github.com/vigil-data/activity.report/internal/testutil"
	"github.com/vigil-data/activity.report/internal/timeutil"
)

// scriptedBackend controls open failures per device for probe tests.
type scriptedBackend struct {
	mu      sync.Mutex
	devices []DeviceDescriptor
	failing map[int]bool
	opened  []int
}

func newScriptedBackend(names ...string) *scriptedBackend {
	b := &scriptedBackend{failing: make(map[int]bool)}
	for i, name := range names {
		b.devices = append(b.devices, DeviceDescriptor{
			Index:        i,
			Name:         name,
			IsDefault:    i == 0,
			ChannelCount: 1,
		})
	}
	return b
}

func (b *scriptedBackend) fail(index int, failing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failing[index] = failing
}

func (b *scriptedBackend) Devices() ([]DeviceDescriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeviceDescriptor, len(b.devices))
	copy(out, b.devices)
	return out, nil
}

func (b *scriptedBackend) Open(index int, cfg StreamConfig) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index < 0 || index >= len(b.devices) {
		return nil, errors.New("bad index")
	}
	if b.failing[index] {
		return nil, errors.New("device busy")
	}
	b.opened = append(b.opened, index)
	return &scriptedStream{chunks: make(chan AudioChunk, 8)}, nil
}

type scriptedStream struct {
	chunks chan AudioChunk
}

func (s *scriptedStream) ReadChunk(ctx context.Context) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case c := <-s.chunks:
		return c, nil
	}
}

func (s *scriptedStream) Close() error { return nil }

func testAudioConfig() config.Audio {
	cfg := config.Default().Audio
	cfg.ChunkFrames = 128
	cfg.SampleRate = 8000
	return cfg
}

func newTestAudio(t *testing.T, cfg config.Audio, backend Backend) (*AudioSource, *SyncBuffer, *events.Bus, *timeutil.MockClock) {
	t.Helper()
	sc, _ := testSyncConfig()
	buf := NewSyncBuffer(sc, cfg)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	clock := timeutil.NewMockClock(syncEpoch)
	return NewAudioSource(cfg, backend, buf, bus, clock), buf, bus, clock
}

func TestOpenPicksFirstInputWhenUnset(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	cfg := testAudioConfig()
	cfg.DeviceIndex = -1
	src, _, _, _ := newTestAudio(t, cfg, backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	h := src.Health()
	if h.DeviceIndex != 0 {
		t.Errorf("DeviceIndex = %d, want 0", h.DeviceIndex)
	}
	if !h.Open {
		t.Error("Open = false after successful open")
	}
}

func TestOpenHonorsConfiguredDevice(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	cfg := testAudioConfig()
	cfg.DeviceIndex = 1
	src, _, _, _ := newTestAudio(t, cfg, backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := src.Health().DeviceIndex; got != 1 {
		t.Errorf("DeviceIndex = %d, want 1", got)
	}
}

func TestOpenProbesRemainingDevices(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b", "mic-c")
	backend.fail(0, true)
	backend.fail(1, true)
	cfg := testAudioConfig()
	cfg.DeviceIndex = 0
	src, _, _, _ := newTestAudio(t, cfg, backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := src.Health().DeviceIndex; got != 2 {
		t.Errorf("DeviceIndex = %d, want probed fallback 2", got)
	}
}

func TestOpenFailsWhenAllDevicesFail(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	backend.fail(0, true)
	backend.fail(1, true)
	src, _, _, _ := newTestAudio(t, testAudioConfig(), backend)

	err := src.Open(context.Background())
	if err == nil {
		t.Fatal("expected error when every device fails")
	}
	if kind := errkind.KindOf(err); kind != errkind.Device {
		t.Errorf("error kind = %v, want %v", kind, errkind.Device)
	}
}

func TestSetDeviceHotSwap(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	src, _, bus, _ := newTestAudio(t, testAudioConfig(), backend)
	_, eventsCh := bus.Subscribe(8)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.SetDevice(context.Background(), 1); err != nil {
		t.Fatalf("SetDevice() error = %v", err)
	}
	h := src.Health()
	if h.DeviceIndex != 1 || h.DeviceName != "mic-b" {
		t.Errorf("health after swap = %+v", h)
	}

	var switched bool
	for len(eventsCh) > 0 {
		if ev := <-eventsCh; ev.Type == events.AudioDeviceSwitched {
			switched = true
		}
	}
	if !switched {
		t.Error("no AudioDeviceSwitched event published")
	}
}

func TestSetDeviceKeepsStreamOnFailure(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	backend.fail(1, true)
	src, _, _, _ := newTestAudio(t, testAudioConfig(), backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := src.SetDevice(context.Background(), 1); err == nil {
		t.Fatal("expected swap failure")
	}
	h := src.Health()
	if h.DeviceIndex != 0 || !h.Open {
		t.Errorf("health after failed swap = %+v, want device 0 still open", h)
	}
}

func TestSetDeviceRejectsUnknownIndex(t *testing.T) {
	backend := newScriptedBackend("mic-a")
	src, _, _, _ := newTestAudio(t, testAudioConfig(), backend)

	if err := src.SetDevice(context.Background(), 9); err == nil {
		t.Error("expected error for unknown device index")
	}
}

func TestDevicesFlagsActive(t *testing.T) {
	backend := newScriptedBackend("mic-a", "mic-b")
	src, _, _, _ := newTestAudio(t, testAudioConfig(), backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	devices, err := src.Devices()
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if !devices[0].Active {
		t.Error("open device not flagged active")
	}
	if devices[1].Active {
		t.Error("closed device flagged active")
	}
}

func TestRunProducesChunksIntoBuffer(t *testing.T) {
	cfg := testAudioConfig()
	cfg.DeviceIndex = -1
	backend := NewSimBackend(timeutil.RealClock{}, SimDevice{
		Name: "sim", Channels: 1, Signal: Tone(150, 0.5),
	})
	sc, _ := testSyncConfig()
	buf := NewSyncBuffer(sc, cfg)
	bus := events.NewBus()
	defer bus.Close()
	src := NewAudioSource(cfg, backend, buf, bus, timeutil.RealClock{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.Run(ctx)
		close(done)
	}()

	testutil.WaitFor(t, 2*time.Second, func() bool { return buf.ChunkCount() >= 3 })
	cancel()
	<-done

	h := src.Health()
	if h.LastChunk.IsZero() {
		t.Error("LastChunk not recorded")
	}
	if h.Down {
		t.Error("Down = true for healthy stream")
	}
	src.Close()
}

func TestCheckLivenessRestartsSilentStream(t *testing.T) {
	backend := newScriptedBackend("mic-a")
	cfg := testAudioConfig()
	src, _, _, clock := newTestAudio(t, cfg, backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	src.mu.Lock()
	src.lastChunk = clock.Now()
	src.mu.Unlock()

	// Within the timeout nothing happens.
	clock.Advance(cfg.SilenceTimeout / 2)
	src.checkLiveness(context.Background())
	if got := len(backend.opened); got != 1 {
		t.Fatalf("opens = %d, want 1 (no restart yet)", got)
	}

	// Past the timeout the stream is reopened.
	clock.Advance(cfg.SilenceTimeout)
	src.checkLiveness(context.Background())
	if got := len(backend.opened); got != 2 {
		t.Errorf("opens = %d, want 2 (restart)", got)
	}
	if src.Health().Down {
		t.Error("Down = true after successful restart")
	}
}

func TestCheckLivenessMarksDownWhenRestartFails(t *testing.T) {
	backend := newScriptedBackend("mic-a")
	cfg := testAudioConfig()
	src, _, bus, clock := newTestAudio(t, cfg, backend)
	_, eventsCh := bus.Subscribe(8)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	src.mu.Lock()
	src.lastChunk = clock.Now()
	src.mu.Unlock()

	backend.fail(0, true)
	clock.Advance(2 * cfg.SilenceTimeout)
	src.checkLiveness(context.Background())

	if !src.Health().Down {
		t.Error("Down = false after failed restart")
	}
	var sawDown bool
	for len(eventsCh) > 0 {
		if ev := <-eventsCh; ev.Type == events.AudioSourceDown {
			sawDown = true
		}
	}
	if !sawDown {
		t.Error("no AudioSourceDown event published")
	}
}

func TestRunLivenessTicks(t *testing.T) {
	backend := newScriptedBackend("mic-a")
	cfg := testAudioConfig()
	src, _, _, clock := newTestAudio(t, cfg, backend)

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	src.mu.Lock()
	src.lastChunk = clock.Now()
	src.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		src.RunLiveness(ctx)
		close(done)
	}()
	clock.BlockUntil(1)

	// Advance far enough that the tick fires and the silence timeout has
	// long passed; the goroutine must reopen the device.
	clock.Advance(cfg.SilenceTimeout + cfg.LivenessEvery)
	testutil.WaitFor(t, 2*time.Second, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.opened) >= 2
	})

	cancel()
	<-done
}
