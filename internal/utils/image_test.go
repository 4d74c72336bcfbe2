package utils

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 0, 255}) //nolint:gosec
		}
	}
	return img
}

func TestCropBox(t *testing.T) {
	img := testImage(100, 80)
	crop := CropBox(img, NewBox(10, 10, 30, 50))
	require.NotNil(t, crop)
	assert.Equal(t, 20, crop.Bounds().Dx())
	assert.Equal(t, 40, crop.Bounds().Dy())

	assert.Nil(t, CropBox(img, NewBox(200, 200, 210, 210)))
	assert.Nil(t, CropBox(nil, NewBox(0, 0, 10, 10)))
}

func TestResizeLimitMax(t *testing.T) {
	img := testImage(200, 100)
	out := ResizeLimit(img, 100, "max")
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 50, out.Bounds().Dy())

	// already within limit: unchanged
	same := ResizeLimit(img, 400, "max")
	assert.Equal(t, img.Bounds(), same.Bounds())
}

func TestResizeLimitMin(t *testing.T) {
	img := testImage(200, 100)
	out := ResizeLimit(img, 200, "min")
	assert.Equal(t, 400, out.Bounds().Dx())
	assert.Equal(t, 200, out.Bounds().Dy())

	same := ResizeLimit(img, 50, "min")
	assert.Equal(t, img.Bounds(), same.Bounds())
}

func TestEncodeJPEGBase64(t *testing.T) {
	img := testImage(8, 8)
	j, err := EncodeJPEGBase64(img, 0) // quality falls back to default
	require.NoError(t, err)
	assert.NotEmpty(t, j)

	raw, err := EncodeJPEGBytes(img, 85)
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestDrawRect(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	red := color.RGBA{255, 0, 0, 255}
	DrawRect(dst, image.Rect(5, 5, 15, 15), red, 1)
	assert.Equal(t, red, dst.RGBAAt(5, 5))
	assert.Equal(t, red, dst.RGBAAt(14, 14))
	// interior untouched
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(10, 10))
}
