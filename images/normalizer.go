package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"pault.ag/go/cbeff/jpeg2000"
)

const (
	DefaultMaxDimension = 500
	DefaultJPEGQuality  = 90
	// MaxSourcePixels caps the decoded size of an input image, read from its header.
	MaxSourcePixels = 40_000_000
)

// ErrImageDecode is returned when the source bytes are not a decodable raster image.
var ErrImageDecode = errors.New("image could not be decoded")

// Normalized is an image scaled down to the pixel budget and re-encoded as JPEG
// so every recognition call sees bounded input.
type Normalized struct {
	Image  image.Image
	JPEG   []byte
	Width  int
	Height int
}

// Normalizer rescales images so that the longer side never exceeds MaxDimension.
type Normalizer struct {
	maxDimension int
	quality      int
}

// NewNormalizer creates a normalizer. Non-positive arguments fall back to the defaults.
func NewNormalizer(maxDimension, quality int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Normalizer{maxDimension: maxDimension, quality: quality}
}

// MaxDimension returns the configured cap for the longer side.
func (n *Normalizer) MaxDimension() int {
	return n.maxDimension
}

// Normalize decodes raw image bytes (JPEG, JPEG 2000, PNG, GIF, BMP, WebP) and normalizes them.
func (n *Normalizer) Normalize(data []byte) (*Normalized, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	return n.NormalizeImage(img)
}

// Decode decodes raw image bytes without rescaling. Images whose header declares
// more than MaxSourcePixels are refused before any pixel buffer is allocated.
// Failures wrap ErrImageDecode.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrImageDecode)
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if int64(cfg.Width)*int64(cfg.Height) > MaxSourcePixels {
			slog.Warn("Rejecting oversized image", "format", format, "width", cfg.Width, "height", cfg.Height)
			return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageDecode, cfg.Width, cfg.Height, MaxSourcePixels)
		}
	}

	img, err := decodeImage(data)
	if err != nil {
		slog.Warn("Failed to decode image", "data_size", len(data), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrImageDecode, err)
	}
	return img, nil
}

// NormalizeImage scales an already decoded image and re-encodes it.
func (n *Normalizer) NormalizeImage(img image.Image) (*Normalized, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrImageDecode)
	}

	scaled := resizeToFit(img, n.maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: n.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	bounds := scaled.Bounds()
	slog.Debug("Image normalized",
		"source_width", img.Bounds().Dx(), "source_height", img.Bounds().Dy(),
		"width", bounds.Dx(), "height", bounds.Dy(), "jpeg_size", buf.Len())

	return &Normalized{
		Image:  scaled,
		JPEG:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// decodeImage attempts to decode an image from bytes, trying multiple formats
func decodeImage(data []byte) (image.Image, error) {
	// Try JPEG first (most common for camera photos)
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	if img, err := jpeg2000.Parse(data); err == nil {
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unsupported or invalid image format: %w", err)
	}
	return img, nil
}

// ScaledSize returns the target size for a width x height image whose longer
// side is capped at maxDimension. Images already within the cap keep their size.
func ScaledSize(width, height, maxDimension int) (int, int) {
	if width <= 0 || height <= 0 || maxDimension <= 0 {
		return width, height
	}

	if width > height {
		if width > maxDimension {
			height = int(math.Max(1, math.Round(float64(height)*float64(maxDimension)/float64(width))))
			width = maxDimension
		}
		return width, height
	}

	if height > maxDimension {
		width = int(math.Max(1, math.Round(float64(width)*float64(maxDimension)/float64(height))))
		height = maxDimension
	}
	return width, height
}

// resizeToFit scales src so that its longer side fits maxDimension (keeping aspect ratio)
func resizeToFit(src image.Image, maxDimension int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	w, h := ScaledSize(bw, bh, maxDimension)
	if w == bw && h == bh {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
