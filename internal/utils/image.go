package utils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// CropBox extracts the sub-image covered by the box, clamped to the image.
// Returns nil for degenerate crops.
func CropBox(img image.Image, b Box) image.Image {
	if img == nil {
		return nil
	}
	r := b.ToRect(img.Bounds())
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return nil
	}
	return imaging.Crop(img, r)
}

// Rotate90 rotates the image 90 degrees counter-clockwise.
func Rotate90(img image.Image) image.Image { return imaging.Rotate90(img) }

// Rotate180 rotates the image 180 degrees.
func Rotate180(img image.Image) image.Image { return imaging.Rotate180(img) }

// Rotate270 rotates the image 270 degrees counter-clockwise.
func Rotate270(img image.Image) image.Image { return imaging.Rotate270(img) }

// ResizeLimit scales the image so its limiting side respects maxSide.
// limitType "max" shrinks images whose longer side exceeds maxSide;
// "min" grows images whose shorter side is below maxSide. Aspect ratio is
// preserved; images already within the limit are returned unchanged.
func ResizeLimit(img image.Image, maxSide int, limitType string) image.Image {
	if img == nil || maxSide <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longer, shorter := w, h
	if h > w {
		longer, shorter = h, w
	}
	switch limitType {
	case "min":
		if shorter >= maxSide {
			return img
		}
		scale := float64(maxSide) / float64(shorter)
		return imaging.Resize(img, int(float64(w)*scale+0.5), int(float64(h)*scale+0.5), imaging.Lanczos)
	default: // "max"
		if longer <= maxSide {
			return img
		}
		scale := float64(maxSide) / float64(longer)
		return imaging.Resize(img, int(float64(w)*scale+0.5), int(float64(h)*scale+0.5), imaging.Lanczos)
	}
}

// EncodeJPEGBase64 encodes an image as base64 JPEG with the given quality.
func EncodeJPEGBase64(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeJPEGBytes encodes an image as JPEG bytes.
func EncodeJPEGBytes(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DrawRect draws a rectangle outline with the given stroke width.
func DrawRect(dst *image.RGBA, r image.Rectangle, col color.Color, width int) {
	if dst == nil || width <= 0 {
		return
	}
	b := dst.Bounds()
	r = r.Intersect(b)
	if r.Empty() {
		return
	}
	for w := range width {
		// top and bottom edges
		for x := r.Min.X; x < r.Max.X; x++ {
			setIfInside(dst, x, r.Min.Y+w, col)
			setIfInside(dst, x, r.Max.Y-1-w, col)
		}
		// left and right edges
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIfInside(dst, r.Min.X+w, y, col)
			setIfInside(dst, r.Max.X-1-w, y, col)
		}
	}
}

func setIfInside(dst *image.RGBA, x, y int, col color.Color) {
	if image.Pt(x, y).In(dst.Bounds()) {
		dst.Set(x, y, col)
	}
}
