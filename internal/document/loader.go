// Package document decodes a file reference into an ordered sequence of
// page images. Paged documents are capped to a bounded prefix of pages; the
// true page count is reported alongside so truncation surfaces as metadata,
// never as an error.
package document

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// MaxPages bounds how many pages of a paged document are processed.
// Admission control, not an error: excess pages are never scheduled.
const MaxPages = 10

// maxFetchBytes bounds remote file downloads.
const maxFetchBytes = 100 << 20

// ErrInvalidInput marks undecodable or contradictory file input. Handlers
// map it to the invalid-input error code.
var ErrInvalidInput = errors.New("invalid input")

// FileType declares the document kind in a request.
type FileType int

const (
	FileTypeAuto  FileType = -1 // infer from content signature
	FileTypePDF   FileType = 0
	FileTypeImage FileType = 1
)

// Page is one rasterized page.
type Page struct {
	Index  int
	Image  image.Image
	Width  int
	Height int
}

// Document is the loaded, bounded page sequence.
type Document struct {
	Type       FileType
	TotalPages int // true page count, may exceed len(Pages)
	Pages      []Page
}

// Loader resolves file references. The zero value is usable; HTTPClient is
// only consulted for locator references.
type Loader struct {
	HTTPClient *http.Client
}

// Load decodes a file reference (inline base64 content or a fetchable
// locator) into a Document. The declared kind, when present, must agree
// with the content signature.
func (l *Loader) Load(ctx context.Context, file string, declared FileType) (*Document, error) {
	if strings.TrimSpace(file) == "" {
		return nil, fmt.Errorf("%w: empty file reference", ErrInvalidInput)
	}

	data, err := l.resolve(ctx, file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file content", ErrInvalidInput)
	}

	kind, err := inferKind(data, declared)
	if err != nil {
		return nil, err
	}

	switch kind {
	case FileTypePDF:
		return loadPDF(ctx, data)
	default:
		return loadImage(data)
	}
}

// resolve turns the file reference into raw bytes: inline base64 first,
// then a URL fetch.
func (l *Loader) resolve(ctx context.Context, file string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(file); err == nil {
		return data, nil
	}
	if u, err := url.Parse(file); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return l.fetch(ctx, file)
	}
	return nil, fmt.Errorf("%w: file is neither valid base64 nor a fetchable URL", ErrInvalidInput)
}

func (l *Loader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	client := l.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrInvalidInput, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrInvalidInput, rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrInvalidInput, rawURL, err)
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("%w: fetched file exceeds %d bytes", ErrInvalidInput, maxFetchBytes)
	}
	return data, nil
}

// inferKind sniffs the content signature and reconciles it with the
// declared kind. A declaration contradicting the signature is rejected.
func inferKind(data []byte, declared FileType) (FileType, error) {
	mt := mimetype.Detect(data)
	var sniffed FileType
	switch {
	case mt.Is("application/pdf"):
		sniffed = FileTypePDF
	case strings.HasPrefix(mt.String(), "image/"):
		sniffed = FileTypeImage
	default:
		return 0, fmt.Errorf("%w: unsupported content type %s", ErrInvalidInput, mt.String())
	}
	if declared != FileTypeAuto && declared != sniffed {
		return 0, fmt.Errorf("%w: declared fileType %d contradicts content type %s",
			ErrInvalidInput, declared, mt.String())
	}
	return sniffed, nil
}

func loadImage(data []byte) (*Document, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode image: %v", ErrInvalidInput, err)
	}
	b := img.Bounds()
	return &Document{
		Type:       FileTypeImage,
		TotalPages: 1,
		Pages:      []Page{{Index: 0, Image: img, Width: b.Dx(), Height: b.Dy()}},
	}, nil
}

func loadPDF(ctx context.Context, data []byte) (*Document, error) {
	tempDir, err := os.MkdirTemp("", "pagelens-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	pdfPath := filepath.Join(tempDir, "input.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}

	total, err := api.PageCountFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf: %v", ErrInvalidInput, err)
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", ErrInvalidInput)
	}

	processed := total
	if processed > MaxPages {
		processed = MaxPages
		slog.Debug("capping paged document", "total_pages", total, "processed", processed)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Only the bounded prefix is ever extracted; excess pages are never
	// scheduled.
	selected := make([]string, processed)
	for i := range processed {
		selected[i] = strconv.Itoa(i + 1)
	}
	outDir := filepath.Join(tempDir, "pages")
	if err := os.MkdirAll(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("create extraction directory: %w", err)
	}
	if err := api.ExtractImagesFile(pdfPath, outDir, selected, nil); err != nil {
		return nil, fmt.Errorf("%w: extract pdf pages: %v", ErrInvalidInput, err)
	}

	byPage, err := collectPageImages(outDir)
	if err != nil {
		return nil, fmt.Errorf("collect extracted pages: %w", err)
	}

	pages := make([]Page, processed)
	for i := range processed {
		img := largestImage(byPage[i+1])
		if img == nil {
			// Pages without an extractable raster still occupy a slot so
			// result counts line up with the processed prefix.
			img = blankPage()
		}
		b := img.Bounds()
		pages[i] = Page{Index: i, Image: img, Width: b.Dx(), Height: b.Dy()}
	}

	return &Document{Type: FileTypePDF, TotalPages: total, Pages: pages}, nil
}

// collectPageImages walks the extraction directory and groups decoded
// images by page number. pdfcpu names files page_<num>_<id>.<ext>.
func collectPageImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil // not a page image
		}
		f, err := os.Open(path) //nolint:gosec // path comes from our own temp dir
		if err != nil {
			return nil
		}
		defer func() { _ = f.Close() }()
		img, _, err := image.Decode(f)
		if err != nil {
			return nil // skip undecodable embedded images
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func parsePageFromFilename(filename string) (int, error) {
	if !strings.HasPrefix(filename, "page_") {
		return 0, errors.New("not a page file")
	}
	parts := strings.Split(filename, "_")
	if len(parts) < 2 {
		return 0, errors.New("invalid filename format")
	}
	return strconv.Atoi(parts[1])
}

// largestImage picks the largest extracted image of a page; for scanned
// documents that is the full-page raster.
func largestImage(images []image.Image) image.Image {
	var best image.Image
	bestArea := 0
	for _, img := range images {
		b := img.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	return best
}

// blankPage is an A4-shaped white placeholder at ~150 DPI.
func blankPage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 1240, 1754))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return img
}
