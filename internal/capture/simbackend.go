package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/vigil-data/activity.report/internal/timeutil"
)

// Signal produces the PCM sample at absolute sample index i for the given
// rate. Signals are deterministic so test assertions on extracted features
// hold exactly.
type Signal func(i, rate int) int16

// Silence returns an all-zero signal.
func Silence() Signal {
	return func(int, int) int16 { return 0 }
}

// Tone returns a sine wave at freqHz with amplitude in 0..1.
func Tone(freqHz, amplitude float64) Signal {
	return func(i, rate int) int16 {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(rate))
		return int16(v * math.MaxInt16)
	}
}

// Noise returns seeded pseudo-random samples with amplitude in 0..1.
func Noise(seed uint64, amplitude float64) Signal {
	return func(i, rate int) int16 {
		x := seed + uint64(i)*0x9e3779b97f4a7c15
		x ^= x >> 33
		x *= 0xff51afd7ed558ccd
		x ^= x >> 33
		// Map to -1..1.
		v := (float64(x>>11)/float64(1<<53))*2 - 1
		return int16(v * amplitude * math.MaxInt16)
	}
}

// SimDevice describes one simulated input device.
type SimDevice struct {
	Name      string
	IsDefault bool
	Channels  int
	Signal    Signal
	FailOpen  bool
}

// SimBackend is a deterministic audio backend used in dev mode and tests.
// Streams pace themselves at the chunk duration through the clock.
type SimBackend struct {
	clock   timeutil.Clock
	devices []SimDevice
}

// NewSimBackend builds a backend serving the given devices, indexed in
// order.
func NewSimBackend(clock timeutil.Clock, devices ...SimDevice) *SimBackend {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if len(devices) == 0 {
		devices = DefaultSimDevices()
	}
	return &SimBackend{clock: clock, devices: devices}
}

// DefaultSimDevices returns the dev-mode device set: a voice-band tone mic
// and a silent line input.
func DefaultSimDevices() []SimDevice {
	return []SimDevice{
		{Name: "sim-mic", IsDefault: true, Channels: 1, Signal: Tone(150, 0.4)},
		{Name: "sim-line", Channels: 1, Signal: Silence()},
	}
}

// Devices lists the simulated devices.
func (b *SimBackend) Devices() ([]DeviceDescriptor, error) {
	out := make([]DeviceDescriptor, len(b.devices))
	for i, d := range b.devices {
		out[i] = DeviceDescriptor{
			Index:        i,
			Name:         d.Name,
			IsDefault:    d.IsDefault,
			ChannelCount: d.Channels,
		}
	}
	return out, nil
}

// Open starts a stream on the device at index.
func (b *SimBackend) Open(index int, cfg StreamConfig) (Stream, error) {
	if index < 0 || index >= len(b.devices) {
		return nil, fmt.Errorf("no device with index %d", index)
	}
	dev := b.devices[index]
	if dev.FailOpen {
		return nil, fmt.Errorf("device %q refused to open", dev.Name)
	}
	sig := dev.Signal
	if sig == nil {
		sig = Silence()
	}
	return &simStream{clock: b.clock, cfg: cfg, signal: sig}, nil
}

type simStream struct {
	clock  timeutil.Clock
	cfg    StreamConfig
	signal Signal

	mu     sync.Mutex
	pos    int
	closed bool
}

// ReadChunk generates the next chunk, pacing at the chunk duration.
func (s *simStream) ReadChunk(ctx context.Context) (AudioChunk, error) {
	if err := ctx.Err(); err != nil {
		return AudioChunk{}, err
	}

	frames := s.cfg.ChunkFrames
	rate := s.cfg.SampleRate
	pace := time.Duration(frames) * time.Second / time.Duration(rate)
	s.clock.Sleep(pace)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return AudioChunk{}, fmt.Errorf("stream closed")
	}

	samples := make([]int16, frames*s.cfg.Channels)
	for f := 0; f < frames; f++ {
		v := s.signal(s.pos+f, rate)
		for c := 0; c < s.cfg.Channels; c++ {
			samples[f*s.cfg.Channels+c] = v
		}
	}
	s.pos += frames

	return AudioChunk{
		Samples:    samples,
		SampleRate: rate,
		Channels:   s.cfg.Channels,
		Timestamp:  s.clock.Now(),
	}, nil
}

// Close stops the stream; subsequent reads fail.
func (s *simStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
