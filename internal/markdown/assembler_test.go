package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

func textRegion(kind layout.Kind, text string, x, y, w, h float64, index int) layout.Region {
	return layout.Region{
		Box:     utils.NewBox(x, y, x+w, y+h),
		Kind:    kind,
		Index:   index,
		Content: layout.TextContent{Text: text, Score: 0.9},
	}
}

func TestAssembleReadingOrder(t *testing.T) {
	regions := []layout.Region{
		textRegion(layout.KindText, "bottom.", 10, 300, 400, 40, 0),
		textRegion(layout.KindText, "Top right.", 300, 10, 200, 40, 1),
		textRegion(layout.KindText, "Top left.", 10, 12, 200, 40, 2),
	}
	res := Assemble(regions, 0, Options{})
	require.Equal(t, "Top left.\n\nTop right.\n\nbottom.", res.Text)
}

func TestAssembleHeadings(t *testing.T) {
	regions := []layout.Region{
		textRegion(layout.KindDocTitle, "Annual Report", 10, 10, 400, 60, 0),
		textRegion(layout.KindTitle, "Overview", 10, 100, 400, 40, 1),
		textRegion(layout.KindText, "Revenue grew.", 10, 160, 400, 40, 2),
	}
	res := Assemble(regions, 0, Options{})
	assert.Contains(t, res.Text, "# Annual Report")
	assert.Contains(t, res.Text, "## Overview")
	assert.Contains(t, res.Text, "Revenue grew.")
}

func TestAssembleSkipsHeaderFooterNumber(t *testing.T) {
	regions := []layout.Region{
		textRegion(layout.KindHeader, "CONFIDENTIAL", 10, 0, 400, 20, 0),
		textRegion(layout.KindText, "Body text.", 10, 100, 400, 40, 1),
		textRegion(layout.KindFooter, "footer", 10, 800, 400, 20, 2),
		textRegion(layout.KindNumber, "3", 200, 830, 20, 20, 3),
	}
	res := Assemble(regions, 0, Options{})
	assert.Equal(t, "Body text.", res.Text)
}

func TestAssembleFormulaAndTable(t *testing.T) {
	regions := []layout.Region{
		{
			Box: utils.NewBox(10, 10, 200, 60), Kind: layout.KindFormula, Index: 0,
			Content: layout.FormulaContent{LaTeX: `E = mc^2`},
		},
		{
			Box: utils.NewBox(10, 100, 400, 300), Kind: layout.KindTable, Index: 1,
			Content: layout.TableContent{HTML: "<table><tr><td>a</td></tr></table>"},
		},
	}
	res := Assemble(regions, 0, Options{})
	assert.Contains(t, res.Text, "$$E = mc^2$$")
	assert.Contains(t, res.Text, "<table>")
}

func TestAssembleTableMarkdownFallback(t *testing.T) {
	regions := []layout.Region{
		{
			Box: utils.NewBox(10, 10, 400, 300), Kind: layout.KindTable, Index: 0,
			Content: layout.TableContent{HTML: "<table><tr><td>a</td><td>b</td></tr><tr><td>1</td><td>2</td></tr></table>"},
		},
	}
	res := Assemble(regions, 0, Options{PreferMarkdownTables: true})
	assert.NotContains(t, res.Text, "<table>")
	assert.Contains(t, res.Text, "|")
}

func TestAssembleImagePayload(t *testing.T) {
	regions := []layout.Region{
		{
			Box: utils.NewBox(10, 10, 300, 200), Kind: layout.KindFigure, Index: 4,
			Content: layout.ImageContent{Data: []byte{0xFF, 0xD8}},
		},
	}
	res := Assemble(regions, 2, Options{})
	require.Len(t, res.Images, 1)
	for path := range res.Images {
		assert.True(t, strings.HasPrefix(path, "imgs/"))
		assert.Contains(t, res.Text, "![]("+path+")")
	}
}

func TestIsStartIsEnd(t *testing.T) {
	complete := Assemble([]layout.Region{
		textRegion(layout.KindText, "A complete sentence.", 10, 10, 400, 40, 0),
	}, 0, Options{})
	assert.True(t, complete.IsStart)
	assert.True(t, complete.IsEnd)

	continued := Assemble([]layout.Region{
		textRegion(layout.KindText, "continues from the previous page and then stops mid", 10, 10, 400, 40, 0),
	}, 0, Options{})
	assert.False(t, continued.IsStart)
	assert.False(t, continued.IsEnd)

	quoted := Assemble([]layout.Region{
		textRegion(layout.KindText, `He said "stop."`, 10, 10, 400, 40, 0),
	}, 0, Options{})
	assert.True(t, quoted.IsEnd, "terminal punctuation inside closing quote still ends the paragraph")
}

func TestIsEndIgnoresTrailingNonText(t *testing.T) {
	res := Assemble([]layout.Region{
		textRegion(layout.KindText, "Paragraph ends here.", 10, 10, 400, 40, 0),
		{
			Box: utils.NewBox(10, 100, 300, 200), Kind: layout.KindFigure, Index: 1,
			Content: layout.ImageContent{Data: []byte{1}},
		},
	}, 0, Options{})
	// the page's last element is a figure, so the textual handshake is moot
	assert.True(t, res.IsEnd)
}

func TestEmptyPage(t *testing.T) {
	res := Assemble(nil, 0, Options{})
	assert.Equal(t, "", res.Text)
	assert.True(t, res.IsStart)
	assert.True(t, res.IsEnd)
}

func TestConcatenateParagraphBreak(t *testing.T) {
	joined := Concatenate([]Result{
		{Text: "First page ends.", IsStart: true, IsEnd: true},
		{Text: "Second page starts.", IsStart: true, IsEnd: true},
	})
	assert.Equal(t, "First page ends.\n\nSecond page starts.", joined)
}

func TestConcatenateContinuation(t *testing.T) {
	joined := Concatenate([]Result{
		{Text: "The sentence runs onto", IsStart: true, IsEnd: false},
		{Text: "the next page.", IsStart: false, IsEnd: true},
	})
	assert.Equal(t, "The sentence runs onto the next page.", joined)
}

func TestConcatenateCJKContinuationNoSpace(t *testing.T) {
	joined := Concatenate([]Result{
		{Text: "本文跨越了页面", IsStart: true, IsEnd: false},
		{Text: "的边界。", IsStart: false, IsEnd: true},
	})
	assert.Equal(t, "本文跨越了页面的边界。", joined)
}

func TestConcatenateSkipsEmptyPages(t *testing.T) {
	joined := Concatenate([]Result{
		{Text: "Only page with content.", IsStart: true, IsEnd: true},
		{Text: "", IsStart: true, IsEnd: true},
		{Text: "Last.", IsStart: true, IsEnd: true},
	})
	assert.Equal(t, "Only page with content.\n\nLast.", joined)
}

func TestConcatenateOneSidedHandshakeKeepsBreak(t *testing.T) {
	// only one side signals continuation: the paragraph break stays
	joined := Concatenate([]Result{
		{Text: "Ends mid sentence", IsStart: true, IsEnd: false},
		{Text: "A fresh paragraph.", IsStart: true, IsEnd: true},
	})
	assert.Equal(t, "Ends mid sentence\n\nA fresh paragraph.", joined)
}
