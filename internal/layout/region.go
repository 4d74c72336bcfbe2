// Package layout defines the layout-region model and the reconciliation
// engine that turns raw detector proposals into the pruned region set.
package layout

import (
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// Kind is the semantic class of a layout region.
type Kind string

const (
	KindText     Kind = "text"
	KindTitle    Kind = "paragraph_title"
	KindDocTitle Kind = "doc_title"
	KindAbstract Kind = "abstract"
	KindTable    Kind = "table"
	KindSeal     Kind = "seal"
	KindFormula  Kind = "formula"
	KindChart    Kind = "chart"
	KindFigure   Kind = "figure"
	KindImage    Kind = "image"
	KindHeader   Kind = "header"
	KindFooter   Kind = "footer"
	KindNumber   Kind = "number"
)

// IsTextual reports whether the kind renders as flowing prose in markdown.
func (k Kind) IsTextual() bool {
	switch k {
	case KindText, KindAbstract:
		return true
	default:
		return false
	}
}

// IsGraphical reports whether the kind is emitted as an extracted sub-image.
func (k Kind) IsGraphical() bool {
	switch k {
	case KindFigure, KindImage:
		return true
	default:
		return false
	}
}

// Content is the recognized payload of a region. Each variant carries only
// the fields its recognizer produces.
type Content interface {
	isContent()
}

// TextContent is plain recognized text (text blocks, titles, seals).
type TextContent struct {
	Text  string
	Score float64
}

// TableContent is a recognized table as an HTML fragment.
type TableContent struct {
	HTML string
	// CellBoxes holds per-cell geometry in page coordinates when the table
	// was recognized via cell detection rather than end-to-end.
	CellBoxes []utils.Box
}

// FormulaContent is a recognized formula in LaTeX.
type FormulaContent struct {
	LaTeX string
}

// ChartContent is a chart transcribed into a table representation.
type ChartContent struct {
	Table string
}

// ImageContent is an extracted sub-image payload referenced from markdown.
type ImageContent struct {
	Path string
	Data []byte
}

func (TextContent) isContent()    {}
func (TableContent) isContent()   {}
func (FormulaContent) isContent() {}
func (ChartContent) isContent()   {}
func (ImageContent) isContent()   {}

// Region is a detected area on a page. Index records detection order and is
// the deterministic tie-break throughout reconciliation and reading order.
type Region struct {
	Box     utils.Box
	Kind    Kind
	Score   float64
	Index   int
	Content Content
}
