package features

import "github.com/vigil-data/activity.report/internal/capture"

// luma returns the Rec. 601 luma of an RGB pixel, 0..255.
func luma(r, g, b uint8) float64 {
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// Motion is the mean absolute luma difference between two frames, scaled to
// 0..100. It returns zero when either frame is empty or the dimensions
// differ (a live frame following a placeholder of another size).
func Motion(prev, cur capture.Frame) float64 {
	if prev.Empty() || cur.Empty() {
		return 0
	}
	if prev.Width != cur.Width || prev.Height != cur.Height {
		return 0
	}
	n := len(cur.Pix) / 3
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*3; i += 3 {
		a := luma(prev.Pix[i], prev.Pix[i+1], prev.Pix[i+2])
		b := luma(cur.Pix[i], cur.Pix[i+1], cur.Pix[i+2])
		d := a - b
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(n) / 255 * 100
}

// Skin-tone chroma box, empirically tuned; tunable policy, not verified
// optimal.
const (
	skinCbMin = 77
	skinCbMax = 127
	skinCrMin = 133
	skinCrMax = 173
)

// SkinRatio is the percentage of pixels whose chroma falls inside the
// skin-tone box, 0..100.
func SkinRatio(f capture.Frame) float64 {
	if f.Empty() {
		return 0
	}
	n := len(f.Pix) / 3
	if n == 0 {
		return 0
	}
	skin := 0
	for i := 0; i < n*3; i += 3 {
		cb, cr := chroma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
		if cb >= skinCbMin && cb <= skinCbMax && cr >= skinCrMin && cr <= skinCrMax {
			skin++
		}
	}
	return float64(skin) / float64(n) * 100
}

// chroma converts RGB to the Cb/Cr plane (JFIF full range).
func chroma(r, g, b uint8) (cb, cr float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	cb = 128 - 0.168736*rf - 0.331264*gf + 0.5*bf
	cr = 128 + 0.5*rf - 0.418688*gf - 0.081312*bf
	return cb, cr
}

// Brightness is the mean luma of the frame, 0..255. Empty frames yield 0.
func Brightness(f capture.Frame) float64 {
	if f.Empty() {
		return 0
	}
	n := len(f.Pix) / 3
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n*3; i += 3 {
		sum += luma(f.Pix[i], f.Pix[i+1], f.Pix[i+2])
	}
	return sum / float64(n)
}
