package http

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Harsh-BH/brewgate/internal/domain"
)

const (
	writeWait     = 10 * time.Second
	firstReadWait = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development; restrict in production
	},
}

// streamRequest is the first and only message a client sends.
type streamRequest struct {
	Name string `json:"name"`
	// Content is base64 in JSON.
	Content []byte `json:"content"`
}

// StreamEvent is pushed to the client: one "state" event per lifecycle
// transition, then a final "result" or "error" event.
type StreamEvent struct {
	Type   string                   `json:"type"`
	State  domain.JobState          `json:"state,omitempty"`
	Result *domain.InvocationResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`
}

// WebSocketHandler runs an obfuscation while streaming its progress.
type WebSocketHandler struct {
	pipeline Obfuscator
	slots    *semaphore.Weighted
	maxBytes int64
	logger   *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(pipeline Obfuscator, slots *semaphore.Weighted, maxBytes int64, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		pipeline: pipeline,
		slots:    slots,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// Stream handles GET /api/v1/obfuscate/stream (WebSocket upgrade). Closing
// the socket early cancels the run.
func (h *WebSocketHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// Base64 inflates by 4/3; leave room for the JSON envelope.
	conn.SetReadLimit(h.maxBytes*4/3 + 4096)
	_ = conn.SetReadDeadline(time.Now().Add(firstReadWait))

	var req streamRequest
	if err := conn.ReadJSON(&req); err != nil {
		h.writeEvent(conn, StreamEvent{Type: "error", Error: "Invalid request: " + err.Error()})
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	name := filepath.Base(req.Name)
	if err := checkUpload(name, int64(len(req.Content)), h.maxBytes); err != nil {
		h.writeEvent(conn, StreamEvent{Type: "error", Error: err.Error()})
		return
	}

	if !h.slots.TryAcquire(1) {
		h.writeEvent(conn, StreamEvent{Type: "error", Error: domain.ErrBusy.Error()})
		return
	}
	defer h.slots.Release(1)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Any read error means the client is gone.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	// The pipeline must not block on a slow client, so state events are
	// buffered and written by a separate goroutine.
	events := make(chan StreamEvent, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			h.writeEvent(conn, ev)
		}
	}()

	result, err := h.pipeline.InvokeObserved(ctx, req.Content, name, func(s domain.JobState) {
		select {
		case events <- StreamEvent{Type: "state", State: s}:
		default:
		}
	})
	close(events)
	wg.Wait()

	if err != nil {
		h.logger.Debug("Stream cancelled", zap.String("name", name), zap.Error(err))
		return
	}
	h.writeEvent(conn, StreamEvent{Type: "result", Result: result})
}

func (h *WebSocketHandler) writeEvent(conn *websocket.Conn, ev StreamEvent) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ev); err != nil {
		h.logger.Debug("WebSocket write failed (client disconnected)", zap.Error(err))
	}
}
