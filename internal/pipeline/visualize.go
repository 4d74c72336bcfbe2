package pipeline

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// kindColors maps region kinds to overlay stroke colors.
var kindColors = map[layout.Kind]color.RGBA{
	layout.KindText:     {R: 0x2E, G: 0x86, B: 0xDE, A: 0xFF},
	layout.KindTitle:    {R: 0x10, G: 0xAC, B: 0x84, A: 0xFF},
	layout.KindDocTitle: {R: 0x10, G: 0xAC, B: 0x84, A: 0xFF},
	layout.KindAbstract: {R: 0x2E, G: 0x86, B: 0xDE, A: 0xFF},
	layout.KindTable:    {R: 0xEE, G: 0x52, B: 0x53, A: 0xFF},
	layout.KindSeal:     {R: 0xFF, G: 0x9F, B: 0x43, A: 0xFF},
	layout.KindFormula:  {R: 0x5F, G: 0x27, B: 0xCD, A: 0xFF},
	layout.KindChart:    {R: 0x01, G: 0xA3, B: 0xA4, A: 0xFF},
	layout.KindFigure:   {R: 0x83, G: 0x95, B: 0xA7, A: 0xFF},
	layout.KindImage:    {R: 0x83, G: 0x95, B: 0xA7, A: 0xFF},
}

var defaultColor = color.RGBA{R: 0x57, G: 0x65, B: 0x74, A: 0xFF}

// renderLayout draws the pruned region boxes over a copy of the page image.
func renderLayout(img image.Image, regions []layout.Region) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	for _, r := range regions {
		col, ok := kindColors[r.Kind]
		if !ok {
			col = defaultColor
		}
		utils.DrawRect(dst, r.Box.ToRect(b), col, 3)
	}
	return dst
}
