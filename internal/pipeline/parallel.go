package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/pagelens/internal/document"
)

// ProcessDocument parses every loaded page with a bounded worker pool.
// Results keep page order. Any page failure cancels the remaining pages and
// fails the whole request.
func (p *Pipeline) ProcessDocument(ctx context.Context, doc *document.Document) ([]PageResult, error) {
	start := time.Now()
	results := make([]PageResult, len(doc.Pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, page := range doc.Pages {
		g.Go(func() error {
			res, err := p.ProcessPage(gctx, page)
			if err != nil {
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.log.Info("document processed",
		"pages", len(doc.Pages),
		"total_pages", doc.TotalPages,
		"duration_ms", time.Since(start).Milliseconds())
	return results, nil
}
