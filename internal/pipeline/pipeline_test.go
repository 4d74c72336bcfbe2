package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

func pageImg(w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

func testPage() document.Page {
	img := pageImg(800, 1000)
	return document.Page{Index: 0, Image: img, Width: 800, Height: 1000}
}

func layoutWith(boxes ...infer.LayoutBox) func(image.Image) ([]infer.LayoutBox, error) {
	return func(image.Image) ([]infer.LayoutBox, error) { return boxes, nil }
}

func TestProcessPageTextRegion(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 200), Label: "text", Score: 0.95},
		),
		TextRecFunc: func(crops []image.Image) ([]infer.TextResult, error) {
			out := make([]infer.TextResult, len(crops))
			for i := range out {
				out[i] = infer.TextResult{Text: "Recognized sentence.", Score: 0.98}
			}
			return out, nil
		},
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	content, ok := res.Regions[0].Content.(layout.TextContent)
	require.True(t, ok)
	assert.Equal(t, "Recognized sentence.", content.Text)
	assert.Contains(t, res.Markdown.Text, "Recognized sentence.")
}

func TestOcrDetectorSeesSizeLimitedCrop(t *testing.T) {
	var textDetW, textDetH, sealDetW, sealDetH int
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(0, 0, 650, 150), Label: "text", Score: 0.95},
			infer.LayoutBox{Box: utils.NewBox(0, 400, 200, 500), Label: "seal", Score: 0.95},
		),
		TextDetFunc: func(img image.Image, _ infer.TextDetParams) ([]infer.DetBox, error) {
			b := img.Bounds()
			textDetW, textDetH = b.Dx(), b.Dy()
			return nil, nil
		},
		SealDetFunc: func(img image.Image, _ infer.TextDetParams) ([]infer.DetBox, error) {
			b := img.Bounds()
			sealDetW, sealDetH = b.Dx(), b.Dy()
			return nil, nil
		},
	}
	opts := DefaultOptions()
	opts.TextDet.LimitSideLen = 320
	opts.TextDet.LimitType = "max"
	opts.SealDet.LimitSideLen = 300
	opts.SealDet.LimitType = "min"
	p, err := New(fake, opts)
	require.NoError(t, err)

	_, err = p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)

	// 650x150 text crop shrinks so its longer side meets the limit
	assert.Equal(t, 320, textDetW)
	assert.LessOrEqual(t, textDetH, 320)
	// 200x100 seal crop grows so its shorter side meets the limit
	assert.Equal(t, 300, sealDetH)
	assert.GreaterOrEqual(t, sealDetW, 300)
}

func TestProcessPagePolymorphicRegions(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 150), Label: "doc_title", Score: 0.99},
			infer.LayoutBox{Box: utils.NewBox(50, 200, 700, 400), Label: "table", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 450, 700, 550), Label: "formula", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 600, 700, 800), Label: "figure", Score: 0.9},
		),
		TextRecFunc: func(crops []image.Image) ([]infer.TextResult, error) {
			out := make([]infer.TextResult, len(crops))
			for i := range out {
				out[i] = infer.TextResult{Text: "Title", Score: 0.99}
			}
			return out, nil
		},
		FormulaFunc: func(image.Image) (string, error) { return `a^2 + b^2 = c^2`, nil },
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 4)

	assert.IsType(t, layout.TextContent{}, res.Regions[0].Content)
	assert.IsType(t, layout.TableContent{}, res.Regions[1].Content)
	assert.IsType(t, layout.FormulaContent{}, res.Regions[2].Content)
	assert.IsType(t, layout.ImageContent{}, res.Regions[3].Content)

	assert.Contains(t, res.Markdown.Text, "# Title")
	assert.Contains(t, res.Markdown.Text, "$$a^2 + b^2 = c^2$$")
	assert.Len(t, res.Markdown.Images, 1)
}

func TestProcessPageDisabledStagesDegradeToImages(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 300), Label: "table", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 400, 700, 500), Label: "formula", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 600, 700, 700), Label: "chart", Score: 0.9},
		),
	}
	opts := DefaultOptions()
	opts.UseTableRecognition = false
	opts.UseFormulaRecognition = false
	// chart recognition is off by default
	p, err := New(fake, opts)
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 3)
	for _, r := range res.Regions {
		assert.IsType(t, layout.ImageContent{}, r.Content, "kind %s", r.Kind)
	}
}

func TestProcessPageSealDisabledDropsRegions(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 300, 300), Label: "seal", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 400, 700, 500), Label: "text", Score: 0.9},
		),
	}
	opts := DefaultOptions()
	opts.UseSealRecognition = false
	p, err := New(fake, opts)
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	assert.Equal(t, layout.KindText, res.Regions[0].Kind)
}

func TestProcessPageChartRecognitionEnabled(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 400), Label: "chart", Score: 0.9},
		),
	}
	opts := DefaultOptions()
	opts.UseChartRecognition = true
	p, err := New(fake, opts)
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	content, ok := res.Regions[0].Content.(layout.ChartContent)
	require.True(t, ok)
	assert.Contains(t, content.Table, "|")
}

func TestProcessPageOrientationCorrection(t *testing.T) {
	// a 90-degree rotated portrait page comes in as landscape
	img := pageImg(1000, 800)
	fake := &infer.Fake{
		OrientationFunc: func(image.Image) (infer.OrientationResult, error) {
			return infer.OrientationResult{Angle: 90, Confidence: 0.99}, nil
		},
		LayoutFunc: layoutWith(),
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), document.Page{Index: 0, Image: img, Width: 1000, Height: 800})
	require.NoError(t, err)
	assert.Equal(t, 90, res.Angle)
	assert.Equal(t, 800, res.Width)
	assert.Equal(t, 1000, res.Height)
}

func TestProcessPageSealUsesSealParams(t *testing.T) {
	var sealParams, textParams infer.TextDetParams
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 300, 300), Label: "seal", Score: 0.9},
			infer.LayoutBox{Box: utils.NewBox(50, 400, 700, 500), Label: "text", Score: 0.9},
		),
		SealDetFunc: func(img image.Image, params infer.TextDetParams) ([]infer.DetBox, error) {
			sealParams = params
			return nil, nil
		},
		TextDetFunc: func(img image.Image, params infer.TextDetParams) ([]infer.DetBox, error) {
			textParams = params
			return nil, nil
		},
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)

	_, err = p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	assert.Equal(t, 736, sealParams.LimitSideLen)
	assert.Equal(t, "min", sealParams.LimitType)
	assert.Equal(t, 960, textParams.LimitSideLen)
	assert.Equal(t, "max", textParams.LimitType)
	assert.NotEqual(t, sealParams, textParams)
}

func TestProcessPageRecScoreFilter(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 200), Label: "text", Score: 0.9},
		),
		TextRecFunc: func(crops []image.Image) ([]infer.TextResult, error) {
			return []infer.TextResult{{Text: "noise", Score: 0.2}}, nil
		},
	}
	opts := DefaultOptions()
	opts.TextDet.RecScoreThresh = 0.5
	p, err := New(fake, opts)
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.Len(t, res.Regions, 1)
	content := res.Regions[0].Content.(layout.TextContent)
	assert.Empty(t, content.Text)
}

func TestProcessPageUpstreamFailureIsFatal(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: func(image.Image) ([]infer.LayoutBox, error) {
			return nil, infer.ErrUpstream
		},
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)

	_, err = p.ProcessPage(context.Background(), testPage())
	require.Error(t, err)
	assert.True(t, errors.Is(err, infer.ErrUpstream))
}

func TestProcessPageVisualize(t *testing.T) {
	fake := &infer.Fake{
		LayoutFunc: layoutWith(
			infer.LayoutBox{Box: utils.NewBox(50, 50, 700, 200), Label: "text", Score: 0.9},
		),
	}
	opts := DefaultOptions()
	opts.Visualize = true
	p, err := New(fake, opts)
	require.NoError(t, err)

	res, err := p.ProcessPage(context.Background(), testPage())
	require.NoError(t, err)
	require.NotNil(t, res.InputImage)
	require.NotNil(t, res.LayoutImage)
	assert.Equal(t, res.InputImage.Bounds(), res.LayoutImage.Bounds())
}

func TestProcessDocumentOrderAndFailure(t *testing.T) {
	var calls atomic.Int64
	fake := &infer.Fake{
		LayoutFunc: func(image.Image) ([]infer.LayoutBox, error) {
			calls.Add(1)
			return nil, nil
		},
	}
	p, err := New(fake, DefaultOptions())
	require.NoError(t, err)
	p.WithWorkers(2)

	doc := &document.Document{
		Type:       document.FileTypePDF,
		TotalPages: 3,
		Pages: []document.Page{
			{Index: 0, Image: pageImg(100, 100)},
			{Index: 1, Image: pageImg(100, 100)},
			{Index: 2, Image: pageImg(100, 100)},
		},
	}
	results, err := p.ProcessDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, int64(3), calls.Load())

	failing := &infer.Fake{
		LayoutFunc: func(image.Image) ([]infer.LayoutBox, error) {
			return nil, infer.ErrUpstream
		},
	}
	p2, err := New(failing, DefaultOptions())
	require.NoError(t, err)
	_, err = p2.ProcessDocument(context.Background(), doc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, infer.ErrUpstream))
}

func TestNewRejectsNilBackend(t *testing.T) {
	_, err := New(nil, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidOption))
}

func TestGroupCellRows(t *testing.T) {
	boxes := []utils.Box{
		utils.NewBox(100, 0, 200, 50),  // row 0, col 1
		utils.NewBox(0, 0, 90, 50),     // row 0, col 0
		utils.NewBox(0, 60, 90, 110),   // row 1, col 0
		utils.NewBox(100, 62, 200, 112), // row 1, col 1
	}
	rows := groupCellRows(boxes)
	require.Len(t, rows, 2)
	assert.Equal(t, []int{1, 0}, rows[0])
	assert.Equal(t, []int{2, 3}, rows[1])
}

func TestFillCells(t *testing.T) {
	html := "<table><tr><td></td><td></td></tr></table>"
	filled := fillCells(html, []string{"a", "b & c"})
	assert.Equal(t, "<table><tr><td>a</td><td>b &amp; c</td></tr></table>", filled)

	// more slots than texts leaves the rest empty
	partial := fillCells(html, []string{"only"})
	assert.Equal(t, "<table><tr><td>only</td><td></td></tr></table>", partial)
}
