package infer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MeKo-Tech/pagelens/internal/utils"
)

// Config holds inference backend settings.
type Config struct {
	BaseURL     string
	Token       string        // bearer token forwarded to the backend, optional
	Timeout     time.Duration // per-invocation timeout
	MaxInflight int64         // concurrent invocations admitted to the backend
	JPEGQuality int           // crop encoding quality
}

// DefaultConfig returns client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     60 * time.Second,
		MaxInflight: 8,
		JPEGQuality: 90,
	}
}

// Client talks to the model-serving backend over HTTP. All model contracts
// are satisfied by one client; a weighted semaphore enforces the backend's
// inference capacity so concurrent region recognition cannot overrun it.
type Client struct {
	cfg  Config
	http *http.Client
	sem  *semaphore.Weighted
}

// NewClient creates an inference client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("inference backend URL is empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = DefaultConfig().MaxInflight
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		sem:  semaphore.NewWeighted(cfg.MaxInflight),
	}, nil
}

// boxPayload is the wire form of a detected box.
type boxPayload struct {
	Bbox  [4]float64 `json:"bbox"`
	Label string     `json:"label,omitempty"`
	Score float64    `json:"score"`
}

func (b boxPayload) toBox() utils.Box {
	return utils.NewBox(b.Bbox[0], b.Bbox[1], b.Bbox[2], b.Bbox[3])
}

// invoke posts one model call and decodes the response into out.
func (c *Client) invoke(ctx context.Context, endpoint string, payload, out any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}
	defer c.sem.Release(1)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %s: encode request: %v", ErrUpstream, endpoint, err)
	}
	url := c.cfg.BaseURL + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()
	slog.Debug("model invocation", "endpoint", endpoint, "status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: backend returned %d", ErrUpstream, endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrUpstream, endpoint, err)
	}
	return nil
}

func (c *Client) encodeImage(img image.Image) (string, error) {
	s, err := utils.EncodeJPEGBase64(img, c.cfg.JPEGQuality)
	if err != nil {
		return "", fmt.Errorf("%w: encode image: %v", ErrUpstream, err)
	}
	return s, nil
}

// ClassifyOrientation implements OrientationClassifier.
func (c *Client) ClassifyOrientation(ctx context.Context, img image.Image) (OrientationResult, error) {
	return c.classify(ctx, "/doc-orientation", img)
}

// ClassifyTextLine implements TextLineOrienter.
func (c *Client) ClassifyTextLine(ctx context.Context, img image.Image) (OrientationResult, error) {
	return c.classify(ctx, "/textline-orientation", img)
}

// ClassifyTableOrientation implements TableOrientationClassifier.
func (c *Client) ClassifyTableOrientation(ctx context.Context, img image.Image) (OrientationResult, error) {
	return c.classify(ctx, "/table-orientation", img)
}

func (c *Client) classify(ctx context.Context, endpoint string, img image.Image) (OrientationResult, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return OrientationResult{}, err
	}
	var out struct {
		Angle      int     `json:"angle"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.invoke(ctx, endpoint, map[string]any{"image": data}, &out); err != nil {
		return OrientationResult{}, err
	}
	return OrientationResult{Angle: out.Angle, Confidence: out.Confidence}, nil
}

// Unwarp implements Unwarper.
func (c *Client) Unwarp(ctx context.Context, img image.Image) (image.Image, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return nil, err
	}
	var out struct {
		Image string `json:"image"`
	}
	if err := c.invoke(ctx, "/doc-unwarping", map[string]any{"image": data}, &out); err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(out.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: doc-unwarping: decode image: %v", ErrUpstream, err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: doc-unwarping: decode image: %v", ErrUpstream, err)
	}
	return decoded, nil
}

// DetectLayout implements LayoutDetector.
func (c *Client) DetectLayout(ctx context.Context, img image.Image) ([]LayoutBox, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return nil, err
	}
	var out struct {
		Boxes []boxPayload `json:"boxes"`
	}
	if err := c.invoke(ctx, "/layout-detection", map[string]any{"image": data}, &out); err != nil {
		return nil, err
	}
	boxes := make([]LayoutBox, len(out.Boxes))
	for i, b := range out.Boxes {
		boxes[i] = LayoutBox{Box: b.toBox(), Label: b.Label, Score: b.Score}
	}
	return boxes, nil
}

// DetectText implements TextDetector.
func (c *Client) DetectText(ctx context.Context, img image.Image, params TextDetParams) ([]DetBox, error) {
	return c.detect(ctx, "/text-detection", img, params)
}

// DetectSealText implements SealTextDetector.
func (c *Client) DetectSealText(ctx context.Context, img image.Image, params TextDetParams) ([]DetBox, error) {
	return c.detect(ctx, "/seal-text-detection", img, params)
}

func (c *Client) detect(ctx context.Context, endpoint string, img image.Image, params TextDetParams) ([]DetBox, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"image":          data,
		"limit_side_len": params.LimitSideLen,
		"limit_type":     params.LimitType,
		"thresh":         params.Thresh,
		"box_thresh":     params.BoxThresh,
		"unclip_ratio":   params.UnclipRatio,
	}
	var out struct {
		Boxes []boxPayload `json:"boxes"`
	}
	if err := c.invoke(ctx, endpoint, payload, &out); err != nil {
		return nil, err
	}
	boxes := make([]DetBox, len(out.Boxes))
	for i, b := range out.Boxes {
		boxes[i] = DetBox{Box: b.toBox(), Score: b.Score}
	}
	return boxes, nil
}

// RecognizeText implements TextRecognizer.
func (c *Client) RecognizeText(ctx context.Context, crops []image.Image) ([]TextResult, error) {
	images := make([]string, len(crops))
	for i, crop := range crops {
		data, err := c.encodeImage(crop)
		if err != nil {
			return nil, err
		}
		images[i] = data
	}
	var out struct {
		Results []struct {
			Text  string  `json:"text"`
			Score float64 `json:"score"`
		} `json:"results"`
	}
	if err := c.invoke(ctx, "/text-recognition", map[string]any{"images": images}, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(crops) {
		return nil, fmt.Errorf("%w: text-recognition: got %d results for %d crops",
			ErrUpstream, len(out.Results), len(crops))
	}
	results := make([]TextResult, len(out.Results))
	for i, r := range out.Results {
		results[i] = TextResult{Text: r.Text, Score: r.Score}
	}
	return results, nil
}

// ClassifyTable implements TableClassifier.
func (c *Client) ClassifyTable(ctx context.Context, img image.Image) (TableClass, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return TableClass{}, err
	}
	var out struct {
		Wired      bool    `json:"wired"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.invoke(ctx, "/table-classification", map[string]any{"image": data}, &out); err != nil {
		return TableClass{}, err
	}
	return TableClass{Wired: out.Wired, Confidence: out.Confidence}, nil
}

// DetectTableCells implements TableCellDetector.
func (c *Client) DetectTableCells(ctx context.Context, img image.Image, wired bool) ([]DetBox, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return nil, err
	}
	var out struct {
		Boxes []boxPayload `json:"boxes"`
	}
	payload := map[string]any{"image": data, "wired": wired}
	if err := c.invoke(ctx, "/table-cell-detection", payload, &out); err != nil {
		return nil, err
	}
	boxes := make([]DetBox, len(out.Boxes))
	for i, b := range out.Boxes {
		boxes[i] = DetBox{Box: b.toBox(), Score: b.Score}
	}
	return boxes, nil
}

// RecognizeTableStructure implements TableStructureRecognizer.
func (c *Client) RecognizeTableStructure(ctx context.Context, img image.Image, wired bool) (TableStructure, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return TableStructure{}, err
	}
	var out struct {
		HTML  string       `json:"html"`
		Cells []boxPayload `json:"cells"`
	}
	payload := map[string]any{"image": data, "wired": wired}
	if err := c.invoke(ctx, "/table-structure-recognition", payload, &out); err != nil {
		return TableStructure{}, err
	}
	ts := TableStructure{HTML: out.HTML}
	for _, cell := range out.Cells {
		ts.CellBoxes = append(ts.CellBoxes, cell.toBox())
	}
	return ts, nil
}

// RecognizeFormula implements FormulaRecognizer.
func (c *Client) RecognizeFormula(ctx context.Context, img image.Image) (string, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return "", err
	}
	var out struct {
		Latex string `json:"latex"`
	}
	if err := c.invoke(ctx, "/formula-recognition", map[string]any{"image": data}, &out); err != nil {
		return "", err
	}
	return out.Latex, nil
}

// RecognizeChart implements ChartRecognizer.
func (c *Client) RecognizeChart(ctx context.Context, img image.Image) (string, error) {
	data, err := c.encodeImage(img)
	if err != nil {
		return "", err
	}
	var out struct {
		Table string `json:"table"`
	}
	if err := c.invoke(ctx, "/chart-recognition", map[string]any{"image": data}, &out); err != nil {
		return "", err
	}
	return out.Table, nil
}
