package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrImageTooLarge reports an image whose declared dimensions exceed
// Transform.MaxPixels. The pixels are never decoded.
var ErrImageTooLarge = errors.New("image dimensions too large")

// Transform bounds stored images to a maximum size. MaxPixels caps the
// decoded area; zero disables the cap.
type Transform struct {
	MaxWidth    int
	MaxHeight   int
	MaxPixels   int64
	JPEGQuality int
}

// DefaultTransform fits images inside 1200x1200. 82 stands in for the
// provider's automatic quality.
var DefaultTransform = Transform{
	MaxWidth:    1200,
	MaxHeight:   1200,
	MaxPixels:   50_000_000,
	JPEGQuality: 82,
}

// CloudinaryTransformation is the equivalent server-side transformation.
const CloudinaryTransformation = "c_limit,h_1200,w_1200/q_auto"

// Apply returns data fitted inside the bounds, preserving aspect ratio and
// format. Images already within bounds and formats that cannot be decoded
// are returned unchanged. The header is checked against MaxPixels before
// any pixel data is decoded.
func (t Transform) Apply(data []byte, contentType string) ([]byte, string, error) {
	format, ok := formatFor(contentType)
	if !ok {
		return data, contentType, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, contentType, nil
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); t.MaxPixels > 0 && pixels > t.MaxPixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return data, contentType, nil
	}

	bounds := img.Bounds()
	if bounds.Dx() <= t.MaxWidth && bounds.Dy() <= t.MaxHeight {
		return data, contentType, nil
	}

	fitted := imaging.Fit(img, t.MaxWidth, t.MaxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format, imaging.JPEGQuality(t.JPEGQuality)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), contentType, nil
}

// formatFor reports the formats that survive a decode and re-encode. GIF is
// left out since re-encoding keeps only the first frame.
func formatFor(contentType string) (imaging.Format, bool) {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return imaging.JPEG, true
	case "image/png":
		return imaging.PNG, true
	case "image/bmp":
		return imaging.BMP, true
	case "image/tiff":
		return imaging.TIFF, true
	default:
		return 0, false
	}
}
