// Package capture acquires video frames from a remote capture service and
// audio chunks from a local device, and pairs them into synchronized
// samples for feature extraction.
package capture

import (
	"image"
	"time"
)

// Frame is one decoded video frame. Pix holds tightly packed RGB, three
// bytes per pixel, row-major. Frames are not mutated after construction.
type Frame struct {
	Width     int
	Height    int
	Pix       []uint8
	Timestamp time.Time
	Synthetic bool
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Pix) == 0
}

// FromImage converts a decoded image into a Frame stamped with ts.
func FromImage(img image.Image, ts time.Time) Frame {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pix := make([]uint8, 0, w*h*3)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			pix = append(pix, uint8(r>>8), uint8(g>>8), uint8(b>>8))
		}
	}
	return Frame{Width: w, Height: h, Pix: pix, Timestamp: ts}
}

// AudioChunk is one block of interleaved PCM samples read from a device.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// Duration returns the wall time the chunk spans.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}
