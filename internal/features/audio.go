package features

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// RMS is the root mean square amplitude of the samples, with int16 values
// normalized to 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak is the maximum absolute amplitude, normalized like RMS.
func Peak(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		v := math.Abs(float64(s) / 32768)
		if v > peak {
			peak = v
		}
	}
	return peak
}

// DominantFrequency returns the frequency with maximum spectral energy in
// Hz, excluding the DC bin. Silence and empty input yield 0.
func DominantFrequency(samples []int16, rate int) float64 {
	if len(samples) < 2 || rate <= 0 {
		return 0
	}
	seq := make([]float64, len(samples))
	for i, s := range samples {
		seq[i] = float64(s) / 32768
	}

	fft := fourier.NewFFT(len(seq))
	coeffs := fft.Coefficients(nil, seq)

	maxIdx := 0
	maxPower := 0.0
	for i := 1; i < len(coeffs); i++ {
		if p := cmplx.Abs(coeffs[i]); p > maxPower {
			maxPower = p
			maxIdx = i
		}
	}
	if maxPower == 0 {
		return 0
	}
	return fft.Freq(maxIdx) * float64(rate)
}
