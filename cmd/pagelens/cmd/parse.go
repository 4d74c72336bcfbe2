package cmd

import (
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/markdown"
	"github.com/MeKo-Tech/pagelens/internal/pipeline"
)

// parseCmd parses a single document from disk and writes markdown output.
var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Parse a document into Markdown",
	Long: `Parse a local PDF or image into structured Markdown.

Writes document.md (all pages stitched), one page_<n>.md per page, extracted
region images under imgs/, and optional layout visualizations.

Examples:
  pagelens parse scan.pdf
  pagelens parse report.pdf --output out/ --visualize
  pagelens parse invoice.png --markdown-tables`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		outputDir, _ := cmd.Flags().GetString("output")
		visualize, _ := cmd.Flags().GetBool("visualize")
		mdTables, _ := cmd.Flags().GetBool("markdown-tables")
		charts, _ := cmd.Flags().GetBool("charts")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		opts := pipeline.DefaultOptions()
		opts.UseChartRecognition = charts
		opts.Visualize = visualize

		backend, err := infer.NewClient(infer.Config{
			BaseURL:     cfg.Backend.URL,
			Token:       cfg.Backend.Token,
			Timeout:     time.Duration(cfg.Backend.TimeoutSec) * time.Second,
			MaxInflight: int64(cfg.Backend.MaxInflight),
			JPEGQuality: cfg.Backend.JPEGQuality,
		})
		if err != nil {
			return fmt.Errorf("initialize inference client: %w", err)
		}

		p, err := pipeline.New(backend, opts)
		if err != nil {
			return err
		}
		p.WithLogger(slog.Default()).
			WithMarkdownOptions(markdown.Options{PreferMarkdownTables: mdTables})
		if cfg.Pipeline.Workers > 0 {
			p.WithWorkers(cfg.Pipeline.Workers)
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		var loader document.Loader
		doc, err := loader.Load(ctx, base64.StdEncoding.EncodeToString(data), document.FileTypeAuto)
		if err != nil {
			return err
		}
		if doc.TotalPages > len(doc.Pages) {
			slog.Warn("document truncated",
				"total_pages", doc.TotalPages, "processed", len(doc.Pages))
		}

		pages, err := p.ProcessDocument(ctx, doc)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(outputDir, 0o750); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		return writeOutputs(outputDir, pages)
	},
}

// writeOutputs writes per-page markdown, the stitched document, extracted
// images and any visualizations.
func writeOutputs(dir string, pages []pipeline.PageResult) error {
	mds := make([]markdown.Result, len(pages))
	for i := range pages {
		page := &pages[i]
		mds[i] = page.Markdown

		name := filepath.Join(dir, fmt.Sprintf("page_%d.md", page.Index+1))
		if err := os.WriteFile(name, []byte(page.Markdown.Text), 0o600); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}

		for rel, payload := range page.Markdown.Images {
			target := filepath.Join(dir, filepath.Clean(rel))
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return fmt.Errorf("create image directory: %w", err)
			}
			if err := os.WriteFile(target, payload, 0o600); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
		}

		if page.LayoutImage != nil {
			name := filepath.Join(dir, fmt.Sprintf("page_%d_layout.png", page.Index+1))
			f, err := os.Create(name) //nolint:gosec // constructed from the output dir
			if err != nil {
				return fmt.Errorf("create %s: %w", name, err)
			}
			if err := png.Encode(f, page.LayoutImage); err != nil {
				_ = f.Close()
				return fmt.Errorf("encode %s: %w", name, err)
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}

	combined := filepath.Join(dir, "document.md")
	if err := os.WriteFile(combined, []byte(markdown.Concatenate(mds)), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", combined, err)
	}
	slog.Info("document written", "dir", dir, "pages", len(pages))
	return nil
}

func init() {
	rootCmd.AddCommand(parseCmd)
	parseCmd.Flags().StringP("output", "o", "output", "output directory")
	parseCmd.Flags().Bool("visualize", false, "write layout visualization images")
	parseCmd.Flags().Bool("markdown-tables", false, "convert table HTML to Markdown tables")
	parseCmd.Flags().Bool("charts", false, "enable chart-to-table recognition")
}
