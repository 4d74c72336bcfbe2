// Package infer defines the contracts for the analysis models backing the
// pipeline and an HTTP client implementation. Models are external
// collaborators: every invocation is a blocking call into a capacity-bounded
// inference backend, never an in-process computation.
package infer

import (
	"context"
	"errors"
	"image"

	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// ErrUpstream marks a failed or timed-out model invocation. Handlers map it
// to the upstream-model error code; it is always request-fatal.
var ErrUpstream = errors.New("upstream model error")

// OrientationResult is a classified rotation angle with confidence.
type OrientationResult struct {
	Angle      int // 0, 90, 180 or 270
	Confidence float64
}

// DetBox is a detected box with confidence, in the coordinates of the image
// passed to the detector.
type DetBox struct {
	Box   utils.Box
	Score float64
}

// LayoutBox is a region proposal from the layout detector.
type LayoutBox struct {
	Box   utils.Box
	Label string
	Score float64
}

// TextResult is recognized text for one line crop.
type TextResult struct {
	Text  string
	Score float64
}

// TableClass describes a table crop: ruled ("wired") or borderless
// ("wireless"), plus the classifier's confidence.
type TableClass struct {
	Wired      bool
	Confidence float64
}

// TableStructure is the output of table structure recognition: an HTML
// fragment and, when available, per-cell geometry in crop coordinates.
type TableStructure struct {
	HTML      string
	CellBoxes []utils.Box
}

// TextDetParams parameterizes a text detection call. The seal sub-pipeline
// passes its own value of this struct; it never shares the text pipeline's.
type TextDetParams struct {
	LimitSideLen int
	LimitType    string // "min" or "max"
	Thresh       float64
	BoxThresh    float64
	UnclipRatio  float64
}

// OrientationClassifier predicts whole-page rotation.
type OrientationClassifier interface {
	ClassifyOrientation(ctx context.Context, img image.Image) (OrientationResult, error)
}

// Unwarper removes geometric distortion from a page image.
type Unwarper interface {
	Unwarp(ctx context.Context, img image.Image) (image.Image, error)
}

// TextLineOrienter predicts per-line rotation (0 or 180).
type TextLineOrienter interface {
	ClassifyTextLine(ctx context.Context, img image.Image) (OrientationResult, error)
}

// LayoutDetector proposes typed layout regions for a page.
type LayoutDetector interface {
	DetectLayout(ctx context.Context, img image.Image) ([]LayoutBox, error)
}

// TextDetector finds text lines inside an image or region crop.
type TextDetector interface {
	DetectText(ctx context.Context, img image.Image, params TextDetParams) ([]DetBox, error)
}

// TextRecognizer transcribes a batch of line crops.
type TextRecognizer interface {
	RecognizeText(ctx context.Context, crops []image.Image) ([]TextResult, error)
}

// SealTextDetector finds curved seal text; structurally a text detector but
// backed by its own model.
type SealTextDetector interface {
	DetectSealText(ctx context.Context, img image.Image, params TextDetParams) ([]DetBox, error)
}

// TableClassifier decides wired vs wireless for a table crop.
type TableClassifier interface {
	ClassifyTable(ctx context.Context, img image.Image) (TableClass, error)
}

// TableOrientationClassifier predicts a table crop's rotation.
type TableOrientationClassifier interface {
	ClassifyTableOrientation(ctx context.Context, img image.Image) (OrientationResult, error)
}

// TableCellDetector finds cell boxes in a table crop.
type TableCellDetector interface {
	DetectTableCells(ctx context.Context, img image.Image, wired bool) ([]DetBox, error)
}

// TableStructureRecognizer runs the end-to-end table structure model.
type TableStructureRecognizer interface {
	RecognizeTableStructure(ctx context.Context, img image.Image, wired bool) (TableStructure, error)
}

// FormulaRecognizer transcribes a formula crop into LaTeX.
type FormulaRecognizer interface {
	RecognizeFormula(ctx context.Context, img image.Image) (string, error)
}

// ChartRecognizer transcribes a chart crop into a table representation.
type ChartRecognizer interface {
	RecognizeChart(ctx context.Context, img image.Image) (string, error)
}

// Backend bundles every model contract the pipeline may need. A single
// implementation (the HTTP client, or a test fake) satisfies all of them;
// the pipeline builder only touches the interfaces for enabled stages.
type Backend interface {
	OrientationClassifier
	Unwarper
	TextLineOrienter
	LayoutDetector
	TextDetector
	TextRecognizer
	SealTextDetector
	TableClassifier
	TableOrientationClassifier
	TableCellDetector
	TableStructureRecognizer
	FormulaRecognizer
	ChartRecognizer
}
