package infer

import (
	"context"
	"fmt"
	"image"

	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// Fake is a function-backed Backend for tests. Unset fields fall back to
// benign defaults: no rotation, no detections, empty recognition output.
type Fake struct {
	OrientationFunc      func(img image.Image) (OrientationResult, error)
	UnwarpFunc           func(img image.Image) (image.Image, error)
	TextLineFunc         func(img image.Image) (OrientationResult, error)
	LayoutFunc           func(img image.Image) ([]LayoutBox, error)
	TextDetFunc          func(img image.Image, params TextDetParams) ([]DetBox, error)
	TextRecFunc          func(crops []image.Image) ([]TextResult, error)
	SealDetFunc          func(img image.Image, params TextDetParams) ([]DetBox, error)
	TableClassFunc       func(img image.Image) (TableClass, error)
	TableOrientationFunc func(img image.Image) (OrientationResult, error)
	TableCellsFunc       func(img image.Image, wired bool) ([]DetBox, error)
	TableStructureFunc   func(img image.Image, wired bool) (TableStructure, error)
	FormulaFunc          func(img image.Image) (string, error)
	ChartFunc            func(img image.Image) (string, error)
}

var _ Backend = (*Fake)(nil)

func (f *Fake) ClassifyOrientation(_ context.Context, img image.Image) (OrientationResult, error) {
	if f.OrientationFunc != nil {
		return f.OrientationFunc(img)
	}
	return OrientationResult{Angle: 0, Confidence: 1}, nil
}

func (f *Fake) Unwarp(_ context.Context, img image.Image) (image.Image, error) {
	if f.UnwarpFunc != nil {
		return f.UnwarpFunc(img)
	}
	return img, nil
}

func (f *Fake) ClassifyTextLine(_ context.Context, img image.Image) (OrientationResult, error) {
	if f.TextLineFunc != nil {
		return f.TextLineFunc(img)
	}
	return OrientationResult{Angle: 0, Confidence: 1}, nil
}

func (f *Fake) DetectLayout(_ context.Context, img image.Image) ([]LayoutBox, error) {
	if f.LayoutFunc != nil {
		return f.LayoutFunc(img)
	}
	return nil, nil
}

func (f *Fake) DetectText(_ context.Context, img image.Image, params TextDetParams) ([]DetBox, error) {
	if f.TextDetFunc != nil {
		return f.TextDetFunc(img, params)
	}
	// one line spanning the crop keeps text regions non-empty by default
	b := img.Bounds()
	return []DetBox{{Box: utils.NewBox(0, 0, float64(b.Dx()), float64(b.Dy())), Score: 0.95}}, nil
}

func (f *Fake) RecognizeText(_ context.Context, crops []image.Image) ([]TextResult, error) {
	if f.TextRecFunc != nil {
		return f.TextRecFunc(crops)
	}
	out := make([]TextResult, len(crops))
	for i := range out {
		out[i] = TextResult{Text: fmt.Sprintf("line %d", i), Score: 0.99}
	}
	return out, nil
}

func (f *Fake) DetectSealText(_ context.Context, img image.Image, params TextDetParams) ([]DetBox, error) {
	if f.SealDetFunc != nil {
		return f.SealDetFunc(img, params)
	}
	b := img.Bounds()
	return []DetBox{{Box: utils.NewBox(0, 0, float64(b.Dx()), float64(b.Dy())), Score: 0.9}}, nil
}

func (f *Fake) ClassifyTable(_ context.Context, img image.Image) (TableClass, error) {
	if f.TableClassFunc != nil {
		return f.TableClassFunc(img)
	}
	return TableClass{Wired: true, Confidence: 1}, nil
}

func (f *Fake) ClassifyTableOrientation(_ context.Context, img image.Image) (OrientationResult, error) {
	if f.TableOrientationFunc != nil {
		return f.TableOrientationFunc(img)
	}
	return OrientationResult{Angle: 0, Confidence: 1}, nil
}

func (f *Fake) DetectTableCells(_ context.Context, img image.Image, wired bool) ([]DetBox, error) {
	if f.TableCellsFunc != nil {
		return f.TableCellsFunc(img, wired)
	}
	return nil, nil
}

func (f *Fake) RecognizeTableStructure(_ context.Context, img image.Image, wired bool) (TableStructure, error) {
	if f.TableStructureFunc != nil {
		return f.TableStructureFunc(img, wired)
	}
	return TableStructure{HTML: "<table><tr><td></td></tr></table>"}, nil
}

func (f *Fake) RecognizeFormula(_ context.Context, img image.Image) (string, error) {
	if f.FormulaFunc != nil {
		return f.FormulaFunc(img)
	}
	return `x^2`, nil
}

func (f *Fake) RecognizeChart(_ context.Context, img image.Image) (string, error) {
	if f.ChartFunc != nil {
		return f.ChartFunc(img)
	}
	return "| x | y |\n|---|---|\n| 1 | 2 |", nil
}
