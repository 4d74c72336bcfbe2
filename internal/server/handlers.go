package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/layout"
	"github.com/MeKo-Tech/pagelens/internal/pipeline"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// visualizeJPEGQuality is used for response image payloads.
const visualizeJPEGQuality = 85

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := HealthResponse{Status: "healthy", Time: nowRFC3339()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("encode health response", "error", err)
	}
}

// parseHandler processes layout-parsing requests.
func (s *Server) parseHandler(w http.ResponseWriter, r *http.Request) {
	logID := uuid.NewString()
	if r.Method != http.MethodPost {
		s.writeEnvelope(w, http.StatusMethodNotAllowed, Envelope{
			LogID: logID, ErrorCode: CodeInvalidInput, ErrorMsg: "method not allowed",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB*1024*1024)
	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.failRequest(w, logID, fmt.Errorf("%w: decode request: %v", document.ErrInvalidInput, err))
		return
	}

	start := time.Now()
	result, err := s.parse(r.Context(), logID, &req)
	if err != nil {
		s.failRequest(w, logID, err)
		return
	}

	parseRequestsTotal.WithLabelValues(result.DataInfo.FileType, "success").Inc()
	parseDuration.WithLabelValues(result.DataInfo.FileType).Observe(time.Since(start).Seconds())
	parsePagesProcessed.Observe(float64(result.DataInfo.ProcessedPages))

	s.writeEnvelope(w, http.StatusOK, Envelope{
		LogID: logID, ErrorCode: CodeSuccess, ErrorMsg: "Success", Result: result,
	})
}

// parse runs the full request: option resolution, document load, pipeline
// execution, response assembly.
func (s *Server) parse(ctx context.Context, logID string, req *ParseRequest) (*ParseResult, error) {
	opts, err := pipeline.ResolveOptions(req.RequestOptions)
	if err != nil {
		return nil, err
	}

	declared := document.FileTypeAuto
	if req.FileType != nil {
		switch *req.FileType {
		case 0:
			declared = document.FileTypePDF
		case 1:
			declared = document.FileTypeImage
		default:
			return nil, fmt.Errorf("%w: fileType must be 0 (pdf) or 1 (image), got %d",
				document.ErrInvalidInput, *req.FileType)
		}
	}

	doc, err := s.loader.Load(ctx, req.File, declared)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(s.backend, opts)
	if err != nil {
		return nil, err
	}
	p.WithLogger(s.log.With("logId", logID)).WithMarkdownOptions(s.mdOpts)
	if s.workers > 0 {
		p.WithWorkers(s.workers)
	}

	pages, err := p.ProcessDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	fileType := "image"
	if doc.Type == document.FileTypePDF {
		fileType = "pdf"
	}

	result := &ParseResult{
		LayoutParsingResults: make([]LayoutParsingResult, len(pages)),
		DataInfo: DataInfo{
			FileType:       fileType,
			TotalPages:     doc.TotalPages,
			ProcessedPages: len(pages),
			Pages:          make([]PageDataInfo, len(pages)),
		},
	}
	for i := range pages {
		pr, err := buildPageResult(&pages[i])
		if err != nil {
			return nil, err
		}
		result.LayoutParsingResults[i] = pr
		result.DataInfo.Pages[i] = PageDataInfo{Width: pages[i].Width, Height: pages[i].Height}
		parseRegionsDetected.WithLabelValues(fileType).Observe(float64(len(pages[i].Regions)))
	}
	return result, nil
}

// buildPageResult serializes one page's pipeline output into wire form.
func buildPageResult(page *pipeline.PageResult) (LayoutParsingResult, error) {
	blocks := make([]ParsingBlock, len(page.Regions))
	for i, reg := range page.Regions {
		blocks[i] = ParsingBlock{
			BlockBbox:    [4]float64{reg.Box.MinX, reg.Box.MinY, reg.Box.MaxX, reg.Box.MaxY},
			BlockLabel:   string(reg.Kind),
			BlockContent: blockContent(reg.Content),
			Score:        reg.Score,
		}
	}

	images := make(map[string]string, len(page.Markdown.Images))
	for path, data := range page.Markdown.Images {
		images[path] = base64.StdEncoding.EncodeToString(data)
	}

	res := LayoutParsingResult{
		PrunedResult: PrunedResult{
			ParsingResList: blocks,
			Width:          page.Width,
			Height:         page.Height,
			Angle:          page.Angle,
		},
		Markdown: MarkdownResult{
			Text:    page.Markdown.Text,
			Images:  images,
			IsStart: page.Markdown.IsStart,
			IsEnd:   page.Markdown.IsEnd,
		},
	}

	if page.InputImage != nil {
		encoded, err := utils.EncodeJPEGBase64(page.InputImage, visualizeJPEGQuality)
		if err != nil {
			return LayoutParsingResult{}, fmt.Errorf("encode input image: %w", err)
		}
		res.InputImage = &encoded
	}
	if page.LayoutImage != nil {
		encoded, err := utils.EncodeJPEGBase64(page.LayoutImage, visualizeJPEGQuality)
		if err != nil {
			return LayoutParsingResult{}, fmt.Errorf("encode layout image: %w", err)
		}
		res.OutputImages = map[string]string{"layout_det_res": encoded}
	}
	return res, nil
}

// blockContent extracts the serializable content of a region.
func blockContent(c layout.Content) string {
	switch v := c.(type) {
	case layout.TextContent:
		return v.Text
	case layout.TableContent:
		return v.HTML
	case layout.FormulaContent:
		return v.LaTeX
	case layout.ChartContent:
		return v.Table
	default:
		return ""
	}
}

// failRequest maps an error to its envelope code and writes the failure.
func (s *Server) failRequest(w http.ResponseWriter, logID string, err error) {
	code, status := errorCodeFor(err)
	if code == CodeUpstreamError {
		s.log.Error("request failed", "logId", logID, "error", err)
	} else {
		s.log.Warn("request rejected", "logId", logID, "error", err)
	}
	parseRequestsTotal.WithLabelValues("unknown", "error").Inc()
	s.writeEnvelope(w, status, Envelope{LogID: logID, ErrorCode: code, ErrorMsg: err.Error()})
}

// errorCodeFor maps pipeline errors to envelope codes and HTTP statuses.
func errorCodeFor(err error) (code, httpStatus int) {
	switch {
	case errors.Is(err, document.ErrInvalidInput), errors.Is(err, pipeline.ErrInvalidOption):
		return CodeInvalidInput, http.StatusUnprocessableEntity
	case errors.Is(err, infer.ErrUpstream):
		return CodeUpstreamError, http.StatusInternalServerError
	default:
		return CodeUpstreamError, http.StatusInternalServerError
	}
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Error("encode response", "error", err)
	}
}
