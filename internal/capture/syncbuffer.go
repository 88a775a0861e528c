package capture

import (
	"sync"
	"time"

	"github.com/vigil-data/activity.report/internal/config"
	"github.com/vigil-data/activity.report/internal/errkind"
)

// SyncedSample pairs one frame with a temporally adjacent window of audio
// chunks. When no audio lands within the skew bound, Audio is empty and
// Unsynced is set; SyncOffset still records the distance to the nearest
// chunk when one exists.
type SyncedSample struct {
	Frame      Frame
	Audio      []AudioChunk
	SyncOffset time.Duration
	Unsynced   bool
}

// Samples concatenates the audio window into one contiguous buffer.
func (s SyncedSample) Samples() []int16 {
	if len(s.Audio) == 0 {
		return nil
	}
	total := 0
	for _, c := range s.Audio {
		total += len(c.Samples)
	}
	out := make([]int16, 0, total)
	for _, c := range s.Audio {
		out = append(out, c.Samples...)
	}
	return out
}

// SampleRate returns the rate of the audio window, zero when empty.
func (s SyncedSample) SampleRate() int {
	if len(s.Audio) == 0 {
		return 0
	}
	return s.Audio[0].SampleRate
}

// SyncBuffer holds the two bounded rings written by the acquisition paths
// and read by the analysis loop. Frames and chunks must be pushed in
// timestamp order; eviction is oldest-first.
type SyncBuffer struct {
	mu sync.Mutex

	frames     []Frame
	frameStart int
	frameLen   int

	chunks     []AudioChunk
	chunkStart int
	chunkLen   int

	maxSkew time.Duration
	window  time.Duration
}

// NewSyncBuffer sizes the rings from configuration: FrameCapacity frames
// and enough chunks to cover the audio buffer window.
func NewSyncBuffer(sc config.Sync, ac config.Audio) *SyncBuffer {
	var chunkDur time.Duration
	if ac.SampleRate > 0 {
		chunkDur = time.Duration(ac.ChunkFrames) * time.Second / time.Duration(ac.SampleRate)
	}
	chunkCap := 1
	if chunkDur > 0 {
		chunkCap = int(ac.BufferWindow/chunkDur) + 1
	}
	if chunkCap < 1 {
		chunkCap = 1
	}
	return &SyncBuffer{
		frames:  make([]Frame, sc.FrameCapacity),
		chunks:  make([]AudioChunk, chunkCap),
		maxSkew: sc.MaxSkew,
		window:  sc.AudioWindow,
	}
}

// PushFrame appends a frame, evicting the oldest when full.
func (b *SyncBuffer) PushFrame(f Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.frames)
	b.frames[(b.frameStart+b.frameLen)%n] = f
	if b.frameLen < n {
		b.frameLen++
	} else {
		b.frameStart = (b.frameStart + 1) % n
	}
}

// PushAudio appends a chunk, evicting the oldest when full.
func (b *SyncBuffer) PushAudio(c AudioChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.chunks)
	b.chunks[(b.chunkStart+b.chunkLen)%n] = c
	if b.chunkLen < n {
		b.chunkLen++
	} else {
		b.chunkStart = (b.chunkStart + 1) % n
	}
}

func (b *SyncBuffer) frameAt(i int) Frame {
	return b.frames[(b.frameStart+i)%len(b.frames)]
}

func (b *SyncBuffer) chunkAt(i int) AudioChunk {
	return b.chunks[(b.chunkStart+i)%len(b.chunks)]
}

// FrameCount returns the number of buffered frames.
func (b *SyncBuffer) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameLen
}

// ChunkCount returns the number of buffered audio chunks.
func (b *SyncBuffer) ChunkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunkLen
}

// LatestFrame returns the newest buffered frame.
func (b *SyncBuffer) LatestFrame() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameLen == 0 {
		return Frame{}, false
	}
	return b.frameAt(b.frameLen - 1), true
}

// Clear drops all buffered data.
func (b *SyncBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameStart, b.frameLen = 0, 0
	b.chunkStart, b.chunkLen = 0, 0
}

// BestSample pairs the newest frame with a contiguous audio window. The
// scan starts at the newest chunk at or before the frame timestamp and
// walks backward until the minimum window is met, extending forward past
// the frame only when older audio runs out. The error is of kind Sync and
// occurs only with no frame at all; missing audio degrades to an unsynced
// sample instead.
func (b *SyncBuffer) BestSample() (SyncedSample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frameLen == 0 {
		return SyncedSample{}, errkind.New(errkind.Sync, "sync.sample", "no frames buffered")
	}
	frame := b.frameAt(b.frameLen - 1)

	n := b.chunkLen
	if n == 0 {
		return SyncedSample{Frame: frame, Unsynced: true}, nil
	}

	// Newest chunk at or before the frame; -1 when all chunks are newer.
	anchor := -1
	for i := n - 1; i >= 0; i-- {
		if !b.chunkAt(i).Timestamp.After(frame.Timestamp) {
			anchor = i
			break
		}
	}

	lo, hi := anchor, anchor
	var total time.Duration
	if anchor >= 0 {
		total = b.chunkAt(anchor).Duration()
		for lo > 0 && total < b.window {
			lo--
			total += b.chunkAt(lo).Duration()
		}
	} else {
		lo, hi = 0, -1
	}
	for hi+1 < n && total < b.window {
		hi++
		total += b.chunkAt(hi).Duration()
	}

	window := make([]AudioChunk, 0, hi-lo+1)
	offset := time.Duration(-1)
	for i := lo; i <= hi; i++ {
		c := b.chunkAt(i)
		window = append(window, c)
		d := frame.Timestamp.Sub(c.Timestamp)
		if d < 0 {
			d = -d
		}
		if offset < 0 || d < offset {
			offset = d
		}
	}

	if offset > b.maxSkew {
		return SyncedSample{Frame: frame, SyncOffset: offset, Unsynced: true}, nil
	}
	return SyncedSample{Frame: frame, Audio: window, SyncOffset: offset}, nil
}
