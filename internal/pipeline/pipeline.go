// Package pipeline orchestrates document layout parsing: page preprocessing,
// layout detection, region reconciliation, polymorphic region recognition and
// markdown assembly. Model invocations go through infer.Backend; the pipeline
// itself never computes model outputs.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/markdown"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// regionConcurrency bounds per-page concurrent region recognition.
const regionConcurrency = 4

// Pipeline is an immutable, request-scoped parsing configuration bound to a
// model backend. Build one per request with New and the With* methods.
type Pipeline struct {
	backend infer.Backend
	opts    Options
	log     *slog.Logger
	workers int
	mdOpts  markdown.Options
	quality int
}

// New creates a pipeline for the given backend and resolved options.
func New(backend infer.Backend, opts Options) (*Pipeline, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidOption)
	}
	return &Pipeline{
		backend: backend,
		opts:    opts,
		log:     slog.Default(),
		workers: runtime.NumCPU(),
		quality: 90,
	}, nil
}

// WithLogger sets the structured logger.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.log = l
	}
	return p
}

// WithWorkers bounds how many pages are processed concurrently.
func (p *Pipeline) WithWorkers(n int) *Pipeline {
	if n > 0 {
		p.workers = n
	}
	return p
}

// WithMarkdownOptions sets serialization options for markdown assembly.
func (p *Pipeline) WithMarkdownOptions(o markdown.Options) *Pipeline {
	p.mdOpts = o
	return p
}

// Options returns the resolved configuration the pipeline runs with.
func (p *Pipeline) Options() Options { return p.opts }

// PageResult is the full parsing output for one page.
type PageResult struct {
	Index    int
	Width    int
	Height   int
	Angle    int // page rotation corrected during preprocessing
	Regions  []layout.Region
	Markdown markdown.Result

	// InputImage is the preprocessed page; LayoutImage is the region overlay.
	// Both are populated only when visualization is requested.
	InputImage  image.Image
	LayoutImage image.Image
}

// ProcessPage runs the full per-page pipeline. Any model failure aborts the
// page; the caller treats a failed page as request-fatal.
func (p *Pipeline) ProcessPage(ctx context.Context, page document.Page) (*PageResult, error) {
	start := time.Now()

	img, angle, err := p.preprocess(ctx, page.Image)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index, err)
	}

	regions, err := p.detectRegions(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index, err)
	}

	if err := p.recognizeRegions(ctx, img, regions); err != nil {
		return nil, fmt.Errorf("page %d: %w", page.Index, err)
	}

	b := img.Bounds()
	res := &PageResult{
		Index:    page.Index,
		Width:    b.Dx(),
		Height:   b.Dy(),
		Angle:    angle,
		Regions:  regions,
		Markdown: markdown.Assemble(regions, page.Index, p.mdOpts),
	}
	if p.opts.Visualize {
		res.InputImage = img
		res.LayoutImage = renderLayout(img, regions)
	}

	p.log.Debug("page processed",
		"page", page.Index,
		"regions", len(regions),
		"angle", angle,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// preprocess applies optional orientation correction and unwarping.
func (p *Pipeline) preprocess(ctx context.Context, img image.Image) (image.Image, int, error) {
	angle := 0
	if p.opts.UseDocOrientationClassify {
		res, err := p.backend.ClassifyOrientation(ctx, img)
		if err != nil {
			return nil, 0, fmt.Errorf("classify orientation: %w", err)
		}
		angle = res.Angle
		img = correctRotation(img, angle)
	}
	if p.opts.UseDocUnwarping {
		unwarped, err := p.backend.Unwarp(ctx, img)
		if err != nil {
			return nil, 0, fmt.Errorf("unwarp: %w", err)
		}
		img = unwarped
	}
	return img, angle, nil
}

// correctRotation undoes a clockwise content rotation of the given angle.
func correctRotation(img image.Image, angle int) image.Image {
	switch angle {
	case 90:
		return utils.Rotate90(img)
	case 180:
		return utils.Rotate180(img)
	case 270:
		return utils.Rotate270(img)
	default:
		return img
	}
}

// detectRegions runs layout detection and reconciles the proposals into the
// pruned region set, dropping kinds whose stage is disabled.
func (p *Pipeline) detectRegions(ctx context.Context, img image.Image) ([]layout.Region, error) {
	if !p.opts.UseRegionDetection {
		return nil, nil
	}
	boxes, err := p.backend.DetectLayout(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect layout: %w", err)
	}

	regions := make([]layout.Region, 0, len(boxes))
	for i, b := range boxes {
		kind := layout.Kind(b.Label)
		if kind == layout.KindSeal && !p.opts.UseSealRecognition {
			continue
		}
		regions = append(regions, layout.Region{
			Box:   b.Box,
			Kind:  kind,
			Score: b.Score,
			Index: i,
		})
	}

	bounds := img.Bounds()
	params := layout.Params{
		ScoreThreshold:   p.opts.LayoutThreshold,
		NMS:              p.opts.LayoutNMS,
		NMSIoU:           layout.DefaultNMSIoU,
		UnclipRatioX:     p.opts.LayoutUnclipRatio[0],
		UnclipRatioY:     p.opts.LayoutUnclipRatio[1],
		MergeMode:        p.opts.LayoutMergeBboxesMode,
		OverlapThreshold: layout.DefaultOverlapThreshold,
		PageWidth:        float64(bounds.Dx()),
		PageHeight:       float64(bounds.Dy()),
	}
	return layout.Reconcile(regions, params), nil
}

// recognizeRegions fills each region's content concurrently. The page image
// is shared read-only across goroutines.
func (p *Pipeline) recognizeRegions(ctx context.Context, img image.Image, regions []layout.Region) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(regionConcurrency)
	for i := range regions {
		g.Go(func() error {
			content, err := p.recognizeRegion(gctx, img, &regions[i])
			if err != nil {
				return fmt.Errorf("region %d (%s): %w", regions[i].Index, regions[i].Kind, err)
			}
			regions[i].Content = content
			return nil
		})
	}
	return g.Wait()
}

// recognizeRegion dispatches to the kind-specific recognizer. Stages that are
// disabled degrade to an extracted image payload so the region keeps its
// place in the document flow.
func (p *Pipeline) recognizeRegion(ctx context.Context, img image.Image, r *layout.Region) (layout.Content, error) {
	crop := utils.CropBox(img, r.Box)
	if crop == nil {
		return layout.TextContent{}, nil
	}

	switch {
	case r.Kind == layout.KindSeal:
		return p.recognizeSeal(ctx, crop)
	case r.Kind == layout.KindTable:
		if !p.opts.UseTableRecognition {
			return p.imageContent(crop)
		}
		return p.recognizeTable(ctx, crop, r.Box)
	case r.Kind == layout.KindFormula:
		if !p.opts.UseFormulaRecognition {
			return p.imageContent(crop)
		}
		latex, err := p.backend.RecognizeFormula(ctx, crop)
		if err != nil {
			return nil, err
		}
		return layout.FormulaContent{LaTeX: latex}, nil
	case r.Kind == layout.KindChart:
		if !p.opts.UseChartRecognition {
			return p.imageContent(crop)
		}
		table, err := p.backend.RecognizeChart(ctx, crop)
		if err != nil {
			return nil, err
		}
		return layout.ChartContent{Table: table}, nil
	case r.Kind.IsGraphical():
		return p.imageContent(crop)
	default:
		// text, titles, abstracts, headers, footers, numbers
		return p.recognizeTextBlock(ctx, crop)
	}
}

func (p *Pipeline) imageContent(crop image.Image) (layout.Content, error) {
	data, err := utils.EncodeJPEGBytes(crop, p.quality)
	if err != nil {
		return nil, fmt.Errorf("encode region image: %w", err)
	}
	return layout.ImageContent{Data: data}, nil
}
