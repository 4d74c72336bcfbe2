package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/pagelens/internal/document"
	"github.com/MeKo-Tech/pagelens/internal/pipeline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1 << 20,
	WriteBufferSize: 1 << 20,
	// CORS is enforced by the configured origin on the HTTP endpoints; the
	// WS endpoint accepts any origin and relies on token auth.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 30 * time.Second

// wsParseHandler streams per-page parsing results over a WebSocket. The
// client sends one request frame; the server answers with one "page" frame
// per processed page, then a terminal "complete" or "error" frame.
func (s *Server) wsParseHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	logID := uuid.NewString()
	log := s.log.With("logId", logID)

	var req ParseRequest
	if err := conn.ReadJSON(&req); err != nil {
		log.Warn("websocket read failed", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("received").Inc()

	if err := s.streamParse(r, conn, logID, &req); err != nil {
		code, _ := errorCodeFor(err)
		log.Warn("websocket request failed", "error", err)
		s.wsSend(conn, streamMessage{
			Type: "error", LogID: logID, ErrorCode: code, ErrorMsg: err.Error(),
		})
	}
}

// streamParse loads the document and processes pages sequentially so each
// page result is pushed as soon as it is ready.
func (s *Server) streamParse(r *http.Request, conn *websocket.Conn, logID string, req *ParseRequest) error {
	ctx := r.Context()

	opts, err := pipeline.ResolveOptions(req.RequestOptions)
	if err != nil {
		return err
	}

	declared := document.FileTypeAuto
	if req.FileType != nil {
		if *req.FileType != 0 && *req.FileType != 1 {
			return fmt.Errorf("%w: fileType must be 0 (pdf) or 1 (image), got %d",
				document.ErrInvalidInput, *req.FileType)
		}
		declared = document.FileType(*req.FileType)
	}

	doc, err := s.loader.Load(ctx, req.File, declared)
	if err != nil {
		return err
	}

	p, err := pipeline.New(s.backend, opts)
	if err != nil {
		return err
	}
	p.WithLogger(s.log.With("logId", logID)).WithMarkdownOptions(s.mdOpts)

	fileType := "image"
	if doc.Type == document.FileTypePDF {
		fileType = "pdf"
	}
	info := DataInfo{
		FileType:       fileType,
		TotalPages:     doc.TotalPages,
		ProcessedPages: len(doc.Pages),
		Pages:          make([]PageDataInfo, len(doc.Pages)),
	}

	for i, page := range doc.Pages {
		res, err := p.ProcessPage(ctx, page)
		if err != nil {
			return err
		}
		out, err := buildPageResult(res)
		if err != nil {
			return err
		}
		info.Pages[i] = PageDataInfo{Width: res.Width, Height: res.Height}
		if err := s.wsSend(conn, streamMessage{
			Type: "page", LogID: logID, PageIndex: page.Index, Page: &out,
		}); err != nil {
			return err
		}
	}

	return s.wsSend(conn, streamMessage{Type: "complete", LogID: logID, DataInfo: &info})
}

func (s *Server) wsSend(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
