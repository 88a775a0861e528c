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

// DeviceDescriptor describes one audio input device.
type DeviceDescriptor struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	IsDefault    bool   `json:"is_default"`
	ChannelCount int    `json:"channel_count"`
	Active       bool   `json:"active"`
}

// StreamConfig is the fixed capture format requested from a device.
type StreamConfig struct {
	SampleRate  int
	Channels    int
	ChunkFrames int
}

// Backend opens audio input streams. The daemon ships with the simulated
// backend; a real device binding implements the same two methods.
type Backend interface {
	Devices() ([]DeviceDescriptor, error)
	Open(deviceIndex int, cfg StreamConfig) (Stream, error)
}

// Stream is one open audio input. ReadChunk blocks until the next chunk is
// available or ctx is done.
type Stream interface {
	ReadChunk(ctx context.Context) (AudioChunk, error)
	Close() error
}

// AudioHealth snapshots the audio source state for status and readiness.
type AudioHealth struct {
	Open        bool      `json:"open"`
	Down        bool      `json:"down"`
	DeviceIndex int       `json:"device_index"`
	DeviceName  string    `json:"device_name,omitempty"`
	LastChunk   time.Time `json:"last_chunk"`
	LastError   string    `json:"last_error,omitempty"`
}

// AudioSource reads chunks from an input device into the sync buffer. If
// the configured device fails to open it probes the remaining inputs in
// listed order and adopts the first that works. A liveness check restarts
// the stream when it goes silent and marks the source DOWN when the
// restart fails too.
type AudioSource struct {
	cfg     config.Audio
	backend Backend
	buf     *SyncBuffer
	bus     *events.Bus
	clock   timeutil.Clock
	logf    func(string, ...interface{})

	mu          sync.Mutex
	preferred   int
	stream      Stream
	deviceIndex int
	deviceName  string
	down        bool
	lastChunk   time.Time
	lastErr     error
}

// NewAudioSource wires an audio source over the given backend, producing
// into buf.
func NewAudioSource(cfg config.Audio, backend Backend, buf *SyncBuffer, bus *events.Bus, clock timeutil.Clock) *AudioSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &AudioSource{
		cfg:         cfg,
		backend:     backend,
		buf:         buf,
		bus:         bus,
		clock:       clock,
		logf:        monitoring.Scoped("audio"),
		preferred:   cfg.DeviceIndex,
		deviceIndex: -1,
	}
}

// Devices enumerates input devices, flagging the one currently open.
func (a *AudioSource) Devices() ([]DeviceDescriptor, error) {
	devices, err := a.backend.Devices()
	if err != nil {
		return nil, errkind.Wrap(errkind.Device, "audio.devices", err)
	}
	a.mu.Lock()
	active := a.deviceIndex
	open := a.stream != nil
	a.mu.Unlock()
	for i := range devices {
		devices[i].Active = open && devices[i].Index == active
	}
	return devices, nil
}

// Open opens the preferred device, probing the other inputs when it
// fails. Any previously open stream is replaced.
func (a *AudioSource) Open(ctx context.Context) error {
	devices, err := a.backend.Devices()
	if err != nil {
		return errkind.Wrap(errkind.Device, "audio.open", err)
	}

	a.mu.Lock()
	preferred := a.preferred
	a.mu.Unlock()

	order := candidateOrder(devices, preferred)
	if len(order) == 0 {
		return errkind.New(errkind.Device, "audio.open", "no input-capable audio devices")
	}

	var firstErr error
	for i, dev := range order {
		stream, err := a.backend.Open(dev.Index, a.streamConfig())
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.logf("device %d (%s) failed to open: %v", dev.Index, dev.Name, err)
			continue
		}
		if i > 0 || (preferred >= 0 && dev.Index != preferred) {
			a.logf("substituted device %d (%s) for requested %d", dev.Index, dev.Name, preferred)
		}
		a.adopt(stream, dev)
		return nil
	}
	a.mu.Lock()
	a.lastErr = firstErr
	a.mu.Unlock()
	return errkind.Wrap(errkind.Device, "audio.open", fmt.Errorf("all %d input devices failed: %w", len(order), firstErr))
}

// candidateOrder lists input-capable devices starting with the requested
// index (or the first input when unset), followed by the probe fallbacks in
// listed order.
func candidateOrder(devices []DeviceDescriptor, requested int) []DeviceDescriptor {
	var inputs []DeviceDescriptor
	for _, d := range devices {
		if d.ChannelCount > 0 {
			inputs = append(inputs, d)
		}
	}
	if requested < 0 {
		return inputs
	}
	ordered := make([]DeviceDescriptor, 0, len(inputs))
	for _, d := range inputs {
		if d.Index == requested {
			ordered = append(ordered, d)
		}
	}
	for _, d := range inputs {
		if d.Index != requested {
			ordered = append(ordered, d)
		}
	}
	return ordered
}

func (a *AudioSource) streamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:  a.cfg.SampleRate,
		Channels:    a.cfg.Channels,
		ChunkFrames: a.cfg.ChunkFrames,
	}
}

// adopt installs a newly opened stream, closing the previous one.
func (a *AudioSource) adopt(stream Stream, dev DeviceDescriptor) {
	a.mu.Lock()
	old := a.stream
	a.stream = stream
	a.deviceIndex = dev.Index
	a.deviceName = dev.Name
	wasDown := a.down
	a.down = false
	a.lastErr = nil
	a.mu.Unlock()

	if old != nil {
		old.Close()
	}
	a.logf("opened device %d (%s)", dev.Index, dev.Name)
	if wasDown {
		a.bus.Publish(events.Event{Type: events.AudioSourceUp, Detail: dev.Name})
	}
}

// SetDevice hot-swaps to the device at index. The new stream is opened
// before the old one is closed so a failed swap leaves capture running.
func (a *AudioSource) SetDevice(ctx context.Context, index int) error {
	devices, err := a.backend.Devices()
	if err != nil {
		return errkind.Wrap(errkind.Device, "audio.setdevice", err)
	}
	var target *DeviceDescriptor
	for i := range devices {
		if devices[i].Index == index {
			target = &devices[i]
			break
		}
	}
	if target == nil {
		return errkind.Newf(errkind.Device, "audio.setdevice", "no device with index %d", index)
	}
	if target.ChannelCount < 1 {
		return errkind.Newf(errkind.Device, "audio.setdevice", "device %d (%s) has no input channels", index, target.Name)
	}

	stream, err := a.backend.Open(index, a.streamConfig())
	if err != nil {
		return errkind.Wrap(errkind.Device, "audio.setdevice", err)
	}
	a.adopt(stream, *target)
	a.mu.Lock()
	a.preferred = index
	a.mu.Unlock()
	a.bus.Publish(events.Event{Type: events.AudioDeviceSwitched, Detail: target.Name})
	return nil
}

// Run is the background reader: it keeps a stream open and pushes chunks
// into the sync buffer until ctx is done.
func (a *AudioSource) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		stream := a.currentStream()
		if stream == nil {
			if err := a.Open(ctx); err != nil {
				a.markDown(err)
				select {
				case <-ctx.Done():
					return
				case <-a.clock.After(time.Second):
				}
			}
			continue
		}

		chunk, err := stream.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logf("read failed: %v", err)
			a.dropStream(stream, err)
			continue
		}
		a.record(chunk)
	}
}

// RunLiveness periodically verifies the stream still produces chunks.
func (a *AudioSource) RunLiveness(ctx context.Context) {
	ticker := a.clock.NewTicker(a.cfg.LivenessEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.checkLiveness(ctx)
		}
	}
}

// checkLiveness restarts the stream when it has gone silent past the
// timeout, marking the source DOWN when the restart fails too.
func (a *AudioSource) checkLiveness(ctx context.Context) {
	a.mu.Lock()
	last := a.lastChunk
	open := a.stream != nil
	a.mu.Unlock()
	if !open || last.IsZero() {
		return
	}
	silent := a.clock.Since(last)
	if silent <= a.cfg.SilenceTimeout {
		return
	}

	a.logf("no chunks for %v, restarting stream", silent.Round(time.Second))
	if err := a.Open(ctx); err != nil {
		a.markDown(err)
	}
}

func (a *AudioSource) currentStream() Stream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream
}

// dropStream clears the failed stream so Run reopens. A stream swapped out
// by SetDevice mid-read is left alone.
func (a *AudioSource) dropStream(failed Stream, err error) {
	a.mu.Lock()
	if a.stream == failed {
		a.stream = nil
		a.lastErr = err
	}
	a.mu.Unlock()
	failed.Close()
}

func (a *AudioSource) record(chunk AudioChunk) {
	a.buf.PushAudio(chunk)
	a.mu.Lock()
	a.lastChunk = a.clock.Now()
	wasDown := a.down
	a.down = false
	name := a.deviceName
	a.mu.Unlock()
	if wasDown {
		a.bus.Publish(events.Event{Type: events.AudioSourceUp, Detail: name})
	}
}

func (a *AudioSource) markDown(err error) {
	a.mu.Lock()
	already := a.down
	a.down = true
	a.lastErr = err
	a.mu.Unlock()
	if !already {
		a.logf("source DOWN: %v", err)
		a.bus.Publish(events.Event{Type: events.AudioSourceDown, Detail: err.Error()})
	}
}

// Health snapshots the audio source state.
func (a *AudioSource) Health() AudioHealth {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := AudioHealth{
		Open:        a.stream != nil,
		Down:        a.down,
		DeviceIndex: a.deviceIndex,
		DeviceName:  a.deviceName,
		LastChunk:   a.lastChunk,
	}
	if a.lastErr != nil {
		h.LastError = a.lastErr.Error()
	}
	return h
}

// Close releases the open stream.
func (a *AudioSource) Close() error {
	a.mu.Lock()
	stream := a.stream
	a.stream = nil
	a.mu.Unlock()
	if stream == nil {
		return nil
	}
	return stream.Close()
}
