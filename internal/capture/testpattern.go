package capture

import "time"

// Placeholder frame backgrounds cycle through a fixed palette so
// consecutive synthetic frames show visible motion downstream.
var testPalette = [][3]uint8{
	{40, 45, 60},
	{60, 40, 45},
	{45, 60, 40},
	{70, 70, 50},
}

// TestPattern generates the deterministic placeholder frame served when
// live capture is unavailable. The same seq always yields the same pixels:
// a palette background, a white grid every 40 pixels, and a bright block
// whose position is derived from seq.
func TestPattern(seq, width, height int, ts time.Time) Frame {
	if width < 1 {
		width = 640
	}
	if height < 1 {
		height = 480
	}
	bg := testPalette[seq%len(testPalette)]
	pix := make([]uint8, width*height*3)
	for i := 0; i < len(pix); i += 3 {
		pix[i] = bg[0]
		pix[i+1] = bg[1]
		pix[i+2] = bg[2]
	}

	set := func(x, y int, r, g, b uint8) {
		i := (y*width + x) * 3
		pix[i] = r
		pix[i+1] = g
		pix[i+2] = b
	}

	// Grid lines every 40 pixels.
	for y := 0; y < height; y++ {
		for x := 0; x < width; x += 40 {
			set(x, y, 255, 255, 255)
		}
	}
	for y := 0; y < height; y += 40 {
		for x := 0; x < width; x++ {
			set(x, y, 255, 255, 255)
		}
	}

	// Moving block, 32x32, position derived from seq.
	const block = 32
	bx := (seq * 13) % max(width-block, 1)
	by := (seq * 7) % max(height-block, 1)
	for y := by; y < by+block && y < height; y++ {
		for x := bx; x < bx+block && x < width; x++ {
			set(x, y, 220, 160, 60)
		}
	}

	return Frame{Width: width, Height: height, Pix: pix, Timestamp: ts, Synthetic: true}
}
