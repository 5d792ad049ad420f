// Package imagecodec decodes, validates and re-encodes uploaded images, and
// crops object regions out of generated renders for product matching.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/webp"

	"github.com/maincase/mdesign-backend/internal/domain"
)

// JPEGQuality matches the re-encode quality applied to uploads.
const JPEGQuality = 80

// Decode parses PNG, JPEG or WebP bytes and returns the image plus the
// detected format name.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	return img, format, nil
}

// CheckDimensions rejects images wider or taller than max pixels.
func CheckDimensions(img image.Image, max int) error {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || b.Dx() > max || b.Dy() > max {
		return fmt.Errorf("%w: got %dx%d, max %dx%d", domain.ErrImageTooLarge, b.Dx(), b.Dy(), max, max)
	}
	return nil
}

// EncodePNG re-encodes the image as uncompressed PNG, the format sent to the
// diffusion predictor.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJPEG re-encodes the image as JPEG, the format stored and served.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop cuts the bounding-box region out of an encoded render and returns it
// as PNG. Box coordinates are pixels; the region is clamped to the image
// bounds.
func Crop(data []byte, box domain.BoundingBox) ([]byte, error) {
	if !box.Valid() {
		return nil, fmt.Errorf("%w: empty bounding box", domain.ErrInvalidImage)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	region := image.Rect(
		clamp(box.XMin, b.Min.X, b.Max.X),
		clamp(box.YMin, b.Min.Y, b.Max.Y),
		clamp(box.XMax, b.Min.X, b.Max.X),
		clamp(box.YMax, b.Min.Y, b.Max.Y),
	)
	if region.Empty() {
		return nil, fmt.Errorf("%w: bounding box outside image", domain.ErrInvalidImage)
	}
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(dst, dst.Bounds(), img, region.Min, draw.Src)
	return EncodePNG(dst)
}

func clamp(v float64, lo, hi int) int {
	i := int(math.Round(v))
	if i < lo {
		return lo
	}
	if i > hi {
		return hi
	}
	return i
}
