package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/pagelens/internal/config"
	"github.com/MeKo-Tech/pagelens/internal/infer"
	"github.com/MeKo-Tech/pagelens/internal/utils"
)

func testServer(t *testing.T, mutate func(*config.Config), backend infer.Backend) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	if backend == nil {
		backend = &infer.Fake{}
	}
	s, err := New(cfg, backend, nil)
	require.NoError(t, err)
	return s
}

func imageBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 300))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func postParse(t *testing.T, s *Server, body any, headers map[string]string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/layout-parsing", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAuthRequired(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.Server.AuthToken = "sesame" }, nil)

	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t)}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeAuthError, env.ErrorCode)
	assert.NotEmpty(t, env.LogID)
	assert.Nil(t, env.Result)

	rec, env = postParse(t, s, map[string]any{"file": imageBase64(t)},
		map[string]string{"Authorization": "Bearer sesame"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeAuthError, env.ErrorCode)

	rec, env = postParse(t, s, map[string]any{"file": imageBase64(t)},
		map[string]string{"Authorization": "token sesame"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CodeSuccess, env.ErrorCode)
}

func TestParseSuccessEnvelope(t *testing.T) {
	backend := &infer.Fake{
		LayoutFunc: func(img image.Image) ([]infer.LayoutBox, error) {
			return []infer.LayoutBox{
				{Box: utils.NewBox(10, 10, 190, 80), Label: "text", Score: 0.95},
			}, nil
		},
		TextRecFunc: func(crops []image.Image) ([]infer.TextResult, error) {
			out := make([]infer.TextResult, len(crops))
			for i := range out {
				out[i] = infer.TextResult{Text: "Hello world.", Score: 0.99}
			}
			return out, nil
		},
	}
	s := testServer(t, nil, backend)

	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t)}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CodeSuccess, env.ErrorCode)
	assert.NotEmpty(t, env.LogID)
	require.NotNil(t, env.Result)

	require.Len(t, env.Result.LayoutParsingResults, 1)
	page := env.Result.LayoutParsingResults[0]
	require.Len(t, page.PrunedResult.ParsingResList, 1)
	block := page.PrunedResult.ParsingResList[0]
	assert.Equal(t, "text", block.BlockLabel)
	assert.Equal(t, "Hello world.", block.BlockContent)
	assert.InDelta(t, 0.95, block.Score, 1e-9)
	assert.Contains(t, page.Markdown.Text, "Hello world.")
	assert.True(t, page.Markdown.IsStart)
	assert.True(t, page.Markdown.IsEnd)
	assert.Nil(t, page.InputImage)
	assert.Empty(t, page.OutputImages)

	info := env.Result.DataInfo
	assert.Equal(t, "image", info.FileType)
	assert.Equal(t, 1, info.TotalPages)
	assert.Equal(t, 1, info.ProcessedPages)
	require.Len(t, info.Pages, 1)
	assert.Equal(t, 200, info.Pages[0].Width)
	assert.Equal(t, 300, info.Pages[0].Height)
}

func TestParseVisualizeImages(t *testing.T) {
	s := testServer(t, nil, &infer.Fake{
		LayoutFunc: func(img image.Image) ([]infer.LayoutBox, error) {
			return []infer.LayoutBox{{Box: utils.NewBox(10, 10, 100, 100), Label: "text", Score: 0.9}}, nil
		},
	})

	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t), "visualize": true}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Result)
	page := env.Result.LayoutParsingResults[0]
	require.NotNil(t, page.InputImage)
	assert.NotEmpty(t, *page.InputImage)
	require.Contains(t, page.OutputImages, "layout_det_res")

	// payloads are valid base64
	_, err := base64.StdEncoding.DecodeString(page.OutputImages["layout_det_res"])
	assert.NoError(t, err)
}

func TestParseInvalidJSON(t *testing.T) {
	s := testServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/layout-parsing", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
	assert.NotEmpty(t, env.ErrorMsg)
}

func TestParseInvalidOptions(t *testing.T) {
	s := testServer(t, nil, nil)
	rec, env := postParse(t, s, map[string]any{
		"file":            imageBase64(t),
		"layoutThreshold": 3.5,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
}

func TestParseBadFileType(t *testing.T) {
	s := testServer(t, nil, nil)
	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t), "fileType": 7}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
}

func TestParseContradictoryFileType(t *testing.T) {
	s := testServer(t, nil, nil)
	// image bytes declared as PDF
	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t), "fileType": 0}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
}

func TestParseUndecodableFile(t *testing.T) {
	s := testServer(t, nil, nil)
	junk := base64.StdEncoding.EncodeToString([]byte("neither pdf nor image"))
	rec, env := postParse(t, s, map[string]any{"file": junk}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
}

func TestParseUpstreamFailure(t *testing.T) {
	s := testServer(t, nil, &infer.Fake{
		LayoutFunc: func(img image.Image) ([]infer.LayoutBox, error) {
			return nil, infer.ErrUpstream
		},
	})
	rec, env := postParse(t, s, map[string]any{"file": imageBase64(t)}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, CodeUpstreamError, env.ErrorCode)
	assert.Nil(t, env.Result)
}

func TestParseMethodNotAllowed(t *testing.T) {
	s := testServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/layout-parsing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.Server.RateLimitPerMinute = 2 }, nil)

	body := map[string]any{"file": imageBase64(t)}
	for range 2 {
		rec, _ := postParse(t, s, body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, env := postParse(t, s, body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, CodeInvalidInput, env.ErrorCode)
}

func TestCORSHeaders(t *testing.T) {
	s := testServer(t, func(c *config.Config) { c.Server.CORSOrigin = "https://app.example.com" }, nil)
	req := httptest.NewRequest(http.MethodOptions, "/layout-parsing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketStreaming(t *testing.T) {
	s := testServer(t, nil, &infer.Fake{
		LayoutFunc: func(img image.Image) ([]infer.LayoutBox, error) {
			return []infer.LayoutBox{{Box: utils.NewBox(10, 10, 100, 50), Label: "text", Score: 0.9}}, nil
		},
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/layout-parsing/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, conn.WriteJSON(map[string]any{"file": imageBase64(t)}))

	var page streamMessage
	require.NoError(t, conn.ReadJSON(&page))
	assert.Equal(t, "page", page.Type)
	require.NotNil(t, page.Page)
	assert.NotEmpty(t, page.Page.PrunedResult.ParsingResList)

	var done streamMessage
	require.NoError(t, conn.ReadJSON(&done))
	assert.Equal(t, "complete", done.Type)
	require.NotNil(t, done.DataInfo)
	assert.Equal(t, 1, done.DataInfo.ProcessedPages)
	assert.Equal(t, page.LogID, done.LogID)
}

func TestWebSocketError(t *testing.T) {
	s := testServer(t, nil, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/layout-parsing/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	defer func() { _ = resp.Body.Close() }()

	require.NoError(t, conn.WriteJSON(map[string]any{"file": "!!!garbage!!!"}))

	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, CodeInvalidInput, msg.ErrorCode)
}
