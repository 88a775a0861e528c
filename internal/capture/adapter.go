package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	// The capture service replies with PNG on current servers and JPEG on
	// legacy ones; register both decoders.
	_ "image/jpeg"
	_ "image/png"
)

// decodeScreenshot normalizes the wire shapes for a screenshot reply into a
// Frame. Callers never see which field variant the server used. Payloads
// may carry a data URI prefix (data:image/png;base64,...), which is
// stripped before decoding.
func decodeScreenshot(p screenshotPayload, ts time.Time) (Frame, error) {
	raw := p.ImageData
	if raw == "" {
		raw = p.ImgData
	}
	if raw == "" {
		raw = p.Data
	}
	if raw == "" {
		return Frame{}, errors.New("screenshot reply carries no image data")
	}

	if i := strings.Index(raw, ";base64,"); i >= 0 {
		raw = raw[i+len(";base64,"):]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Frame{}, fmt.Errorf("decode base64 image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img, ts), nil
}
