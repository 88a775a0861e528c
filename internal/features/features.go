// Package features turns synchronized samples into the fixed-shape numeric
// vector the classifier consumes. Extraction is pure: the same input always
// yields the identical vector, and malformed input degrades to zeros rather
// than failing.
package features

import (
	"github.com/vigil-data/activity.report/internal/capture"
	"github.com/vigil-data/activity.report/internal/config"
)

// Vector is the numeric summary of one synchronized sample.
type Vector struct {
	// Motion is the mean absolute luma change versus the previous frame,
	// scaled to 0..100. Zero when no previous frame exists.
	Motion float64 `json:"motion"`
	// SkinRatio is the percentage of pixels inside the skin-tone chroma
	// box, 0..100.
	SkinRatio float64 `json:"skin_ratio"`
	// Brightness is the mean luma, 0..255.
	Brightness float64 `json:"brightness"`
	// AudioLevel is the RMS amplitude with int16 samples normalized to
	// 0..1.
	AudioLevel float64 `json:"audio_level"`
	// AudioPeak is the maximum absolute amplitude, normalized like
	// AudioLevel. Kept for the speech heuristic; level reporting uses RMS.
	AudioPeak float64 `json:"audio_peak"`
	// DominantFreqHz is the frequency bin with maximum energy, DC
	// excluded.
	DominantFreqHz float64 `json:"dominant_freq_hz"`
	// Speech is a coarse heuristic (level above threshold and dominant
	// frequency inside the voice band), not voice-activity detection.
	Speech bool `json:"speech"`
}

// Extractor computes feature vectors using the configured thresholds.
type Extractor struct {
	cfg config.Features
}

// NewExtractor builds an extractor with the given thresholds.
func NewExtractor(cfg config.Features) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract computes the vector for one sample. prev is the previous frame
// for motion; pass a zero Frame for the first sample of a session. Empty
// audio yields zero level and frequency with Speech false.
func (e *Extractor) Extract(sample capture.SyncedSample, prev capture.Frame) Vector {
	v := Vector{
		Motion:     Motion(prev, sample.Frame),
		SkinRatio:  SkinRatio(sample.Frame),
		Brightness: Brightness(sample.Frame),
	}

	samples := sample.Samples()
	v.AudioLevel = RMS(samples)
	v.AudioPeak = Peak(samples)
	v.DominantFreqHz = DominantFrequency(samples, sample.SampleRate())
	v.Speech = v.AudioLevel > e.cfg.SpeechLevel &&
		v.DominantFreqHz >= e.cfg.VoiceBandLowHz &&
		v.DominantFreqHz <= e.cfg.VoiceBandHighHz
	return v
}
