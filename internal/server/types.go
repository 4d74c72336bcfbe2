// Package server exposes the layout-parsing pipeline over HTTP: a
// token-authenticated JSON endpoint, a WebSocket variant that streams page
// results, health and Prometheus metrics endpoints.
package server

import (
	"time"

	"github.com/MeKo-Tech/pagelens/internal/pipeline"
)

// Error codes carried in the response envelope.
const (
	CodeSuccess       = 0
	CodeAuthError     = 401
	CodeInvalidInput  = 422
	CodeUpstreamError = 500
)

// ParseRequest is the layout-parsing request body. File is inline base64
// content or a fetchable URL; FileType declares pdf (0) or image (1) and is
// inferred when absent. The embedded options all default per the pipeline.
type ParseRequest struct {
	File     string `json:"file"`
	FileType *int   `json:"fileType,omitempty"`

	pipeline.RequestOptions
}

// Envelope is the uniform response wrapper. ErrorCode 0 means success and
// Result is present; any other code describes the failure and Result is
// omitted.
type Envelope struct {
	LogID     string       `json:"logId"`
	ErrorCode int          `json:"errorCode"`
	ErrorMsg  string       `json:"errorMsg"`
	Result    *ParseResult `json:"result,omitempty"`
}

// ParseResult is the successful parsing payload.
type ParseResult struct {
	LayoutParsingResults []LayoutParsingResult `json:"layoutParsingResults"`
	DataInfo             DataInfo              `json:"dataInfo"`
}

// LayoutParsingResult is one page's output.
type LayoutParsingResult struct {
	PrunedResult PrunedResult      `json:"prunedResult"`
	Markdown     MarkdownResult    `json:"markdown"`
	OutputImages map[string]string `json:"outputImages,omitempty"` // name -> base64 JPEG
	InputImage   *string           `json:"inputImage,omitempty"`   // base64 JPEG
}

// PrunedResult is the reconciled region set of a page.
type PrunedResult struct {
	ParsingResList []ParsingBlock `json:"parsing_res_list"`
	Width          int            `json:"width"`
	Height         int            `json:"height"`
	Angle          int            `json:"angle"`
}

// ParsingBlock is one recognized region.
type ParsingBlock struct {
	BlockBbox    [4]float64 `json:"block_bbox"`
	BlockLabel   string     `json:"block_label"`
	BlockContent string     `json:"block_content"`
	Score        float64    `json:"score"`
}

// MarkdownResult is a page's markdown fragment with the cross-page
// continuity handshake.
type MarkdownResult struct {
	Text    string            `json:"text"`
	Images  map[string]string `json:"images"` // relative path -> base64 JPEG
	IsStart bool              `json:"isStart"`
	IsEnd   bool              `json:"isEnd"`
}

// DataInfo describes the ingested document.
type DataInfo struct {
	FileType       string         `json:"fileType"` // "pdf" or "image"
	TotalPages     int            `json:"totalPages"`
	ProcessedPages int            `json:"processedPages"`
	Pages          []PageDataInfo `json:"pages"`
}

// PageDataInfo is per-page ingest metadata.
type PageDataInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HealthResponse is the health endpoint payload.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// streamMessage is one WebSocket frame: a per-page result or the terminal
// frame carrying dataInfo or an error envelope.
type streamMessage struct {
	Type      string               `json:"type"` // "page", "complete", "error"
	LogID     string               `json:"logId"`
	PageIndex int                  `json:"pageIndex,omitempty"`
	Page      *LayoutParsingResult `json:"page,omitempty"`
	DataInfo  *DataInfo            `json:"dataInfo,omitempty"`
	ErrorCode int                  `json:"errorCode,omitempty"`
	ErrorMsg  string               `json:"errorMsg,omitempty"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
