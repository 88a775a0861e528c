package features

import (
	"math"
	"testing"
	"time"

	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/config"
)

func solidFrame(w, h int, r, g, b uint8) capture.Frame {
	pix := make([]uint8, w*h*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
	return capture.Frame{Width: w, Height: h, Pix: pix, Timestamp: time.Unix(0, 0)}
}

// toneChunk synthesizes a sine wave at freqHz with the given normalized
// amplitude.
func toneChunk(freqHz float64, amplitude float64, rate, n int) capture.AudioChunk {
	samples := make([]int16, n)
	for i := range samples {
		v := amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/float64(rate))
		samples[i] = int16(v * math.MaxInt16)
	}
	return capture.AudioChunk{Samples: samples, SampleRate: rate, Channels: 1}
}

func testExtractor() *Extractor {
	return NewExtractor(config.Default().Features)
}

func TestExtractIsPure(t *testing.T) {
	sample := capture.SyncedSample{
		Frame: solidFrame(16, 12, 120, 80, 60),
		Audio: []capture.AudioChunk{toneChunk(150, 0.5, 16000, 1600)},
	}
	prev := solidFrame(16, 12, 0, 0, 0)

	e := testExtractor()
	a := e.Extract(sample, prev)
	b := e.Extract(sample, prev)
	if a != b {
		t.Errorf("Extract not pure:\n first = %+v\nsecond = %+v", a, b)
	}
}

func TestExtractAllZeroInput(t *testing.T) {
	// Solid black frame, silent audio, no previous frame.
	silence := capture.AudioChunk{Samples: make([]int16, 1600), SampleRate: 16000, Channels: 1}
	sample := capture.SyncedSample{
		Frame: solidFrame(64, 48, 0, 0, 0),
		Audio: []capture.AudioChunk{silence},
	}

	v := testExtractor().Extract(sample, capture.Frame{})
	if v.Motion != 0 {
		t.Errorf("Motion = %v, want 0 (no previous frame)", v.Motion)
	}
	if v.SkinRatio != 0 {
		t.Errorf("SkinRatio = %v, want 0", v.SkinRatio)
	}
	if v.Brightness != 0 {
		t.Errorf("Brightness = %v, want 0", v.Brightness)
	}
	if v.AudioLevel != 0 {
		t.Errorf("AudioLevel = %v, want 0", v.AudioLevel)
	}
	if v.DominantFreqHz != 0 {
		t.Errorf("DominantFreqHz = %v, want 0", v.DominantFreqHz)
	}
	if v.Speech {
		t.Error("Speech = true for silence")
	}
}

func TestExtractEmptyAudioWindow(t *testing.T) {
	sample := capture.SyncedSample{Frame: solidFrame(8, 8, 100, 100, 100), Unsynced: true}

	v := testExtractor().Extract(sample, capture.Frame{})
	if v.AudioLevel != 0 || v.AudioPeak != 0 || v.DominantFreqHz != 0 {
		t.Errorf("audio features = %v/%v/%v, want zeros for empty window",
			v.AudioLevel, v.AudioPeak, v.DominantFreqHz)
	}
	if v.Speech {
		t.Error("Speech = true with no audio")
	}
}

func TestMotionHalfChangedPixels(t *testing.T) {
	w, h := 10, 10
	prev := solidFrame(w, h, 0, 0, 0)
	cur := solidFrame(w, h, 0, 0, 0)
	// Flip the top half to white: mean |delta| = 255/2 -> motion 50.
	for i := 0; i < w*h*3/2; i++ {
		cur.Pix[i] = 255
	}

	got := Motion(prev, cur)
	if math.Abs(got-50) > 0.01 {
		t.Errorf("Motion = %v, want 50", got)
	}
}

func TestMotionNoPreviousFrame(t *testing.T) {
	if got := Motion(capture.Frame{}, solidFrame(4, 4, 200, 0, 0)); got != 0 {
		t.Errorf("Motion = %v, want 0 with empty previous", got)
	}
}

func TestMotionDimensionMismatch(t *testing.T) {
	if got := Motion(solidFrame(4, 4, 0, 0, 0), solidFrame(8, 8, 255, 255, 255)); got != 0 {
		t.Errorf("Motion = %v, want 0 on dimension mismatch", got)
	}
}

func TestBrightness(t *testing.T) {
	cases := []struct {
		name    string
		frame   capture.Frame
		want    float64
		epsilon float64
	}{
		{"black", solidFrame(8, 8, 0, 0, 0), 0, 0},
		{"white", solidFrame(8, 8, 255, 255, 255), 255, 0.01},
		{"mid gray", solidFrame(8, 8, 128, 128, 128), 128, 0.01},
		{"empty", capture.Frame{}, 0, 0},
	}
	for _, tc := range cases {
		if got := Brightness(tc.frame); math.Abs(got-tc.want) > tc.epsilon {
			t.Errorf("%s: Brightness = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSkinRatio(t *testing.T) {
	// (200,150,125) lands inside the chroma box; pure blue far outside.
	skin := solidFrame(10, 10, 200, 150, 125)
	if got := SkinRatio(skin); got != 100 {
		t.Errorf("SkinRatio(skin frame) = %v, want 100", got)
	}
	blue := solidFrame(10, 10, 0, 0, 255)
	if got := SkinRatio(blue); got != 0 {
		t.Errorf("SkinRatio(blue frame) = %v, want 0", got)
	}

	// Half the pixels skin-toned.
	half := solidFrame(10, 10, 0, 0, 255)
	for i := 0; i < len(half.Pix)/2; i += 3 {
		half.Pix[i], half.Pix[i+1], half.Pix[i+2] = 200, 150, 125
	}
	if got := SkinRatio(half); math.Abs(got-50) > 0.01 {
		t.Errorf("SkinRatio(half) = %v, want 50", got)
	}
}

func TestRMSAndPeak(t *testing.T) {
	// Constant half-scale amplitude.
	samples := make([]int16, 1000)
	for i := range samples {
		samples[i] = 16384
	}
	if got := RMS(samples); math.Abs(got-0.5) > 0.001 {
		t.Errorf("RMS = %v, want 0.5", got)
	}
	if got := Peak(samples); math.Abs(got-0.5) > 0.001 {
		t.Errorf("Peak = %v, want 0.5", got)
	}

	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
	if got := Peak(nil); got != 0 {
		t.Errorf("Peak(nil) = %v, want 0", got)
	}
}

func TestRMSSineWave(t *testing.T) {
	// RMS of a sine wave is amplitude / sqrt(2).
	chunk := toneChunk(150, 0.5, 16000, 8000)
	want := 0.5 / math.Sqrt2
	if got := RMS(chunk.Samples); math.Abs(got-want) > 0.005 {
		t.Errorf("RMS = %v, want %v", got, want)
	}
}

func TestDominantFrequency(t *testing.T) {
	// 150 Hz over 8000 samples at 16 kHz lands exactly on bin 75.
	chunk := toneChunk(150, 0.5, 16000, 8000)
	got := DominantFrequency(chunk.Samples, 16000)
	if math.Abs(got-150) > 0.5 {
		t.Errorf("DominantFrequency = %v, want 150", got)
	}

	high := toneChunk(440, 0.5, 16000, 8000)
	got = DominantFrequency(high.Samples, 16000)
	if math.Abs(got-440) > 0.5 {
		t.Errorf("DominantFrequency = %v, want 440", got)
	}
}

func TestDominantFrequencyEdgeCases(t *testing.T) {
	if got := DominantFrequency(nil, 16000); got != 0 {
		t.Errorf("DominantFrequency(nil) = %v, want 0", got)
	}
	if got := DominantFrequency(make([]int16, 1024), 16000); got != 0 {
		t.Errorf("DominantFrequency(silence) = %v, want 0", got)
	}
	if got := DominantFrequency([]int16{1, 2, 3}, 0); got != 0 {
		t.Errorf("DominantFrequency(rate 0) = %v, want 0", got)
	}
}

func TestSpeechHeuristic(t *testing.T) {
	e := testExtractor()
	frame := solidFrame(8, 8, 100, 100, 100)

	cases := []struct {
		name  string
		chunk capture.AudioChunk
		want  bool
	}{
		{"voice band loud", toneChunk(150, 0.5, 16000, 8000), true},
		{"voice band quiet", toneChunk(150, 0.05, 16000, 8000), false},
		{"above band loud", toneChunk(440, 0.5, 16000, 8000), false},
		{"below band loud", toneChunk(40, 0.5, 16000, 8000), false},
	}
	for _, tc := range cases {
		sample := capture.SyncedSample{Frame: frame, Audio: []capture.AudioChunk{tc.chunk}}
		v := e.Extract(sample, capture.Frame{})
		if v.Speech != tc.want {
			t.Errorf("%s: Speech = %v, want %v (level %.3f, freq %.1f)",
				tc.name, v.Speech, tc.want, v.AudioLevel, v.DominantFreqHz)
		}
	}
}
