package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/duetlabs/duet/internal/middleware"
)

const wsWriteTimeout = 10 * time.Second

// wsMessage represents WebSocket message structure.
type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// WebSocketHandler serves the bidirectional chat transport.
type WebSocketHandler struct {
	session        *Session
	rateLimiter    *RateLimiter
	allowedOrigins []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(session *Session, limiter *RateLimiter, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		session:        session,
		rateLimiter:    limiter,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := clientKey(r)
	if origin := r.Header.Get("Origin"); !middleware.OriginAllowed(h.allowedOrigins, origin) {
		h.logger.Warn("WebSocket origin rejected", "origin", origin)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "client", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "client", key)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := h.session.Subscribe()
	defer unsubscribe()
	go h.alarmLoop(ctx, ws, events)

	h.logger.Info("Chat WebSocket connected", "client", key)
	h.inputLoop(ctx, ws, key)
	h.logger.Info("Chat WebSocket closed", "client", key)
}

func (h *WebSocketHandler) inputLoop(ctx context.Context, ws *websocket.Conn, key string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "client", key)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "client", key)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			// Plain text frames are chat input.
			msg = wsMessage{Type: "chat", Content: string(message)}
		}

		switch msg.Type {
		case "chat":
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			if h.rateLimiter != nil && !h.rateLimiter.Allow(key) {
				if err := h.writeJSON(ctx, ws, map[string]string{"type": "error", "error": "rate limit exceeded"}); err != nil {
					return
				}
				continue
			}
			ok := true
			h.session.Send(ctx, msg.Content, "chat_ws", func(ev Event) bool {
				if err := h.writeJSON(ctx, ws, ev); err != nil {
					h.logger.Debug("Failed to send chat event", "error", err, "client", key)
					ok = false
				}
				return ok
			})
			if !ok {
				return
			}
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
				return
			}
		case "new":
			h.session.Reset(ctx)
			if err := h.writeJSON(ctx, ws, map[string]any{"type": "conversation", "conversation": h.session.View()}); err != nil {
				return
			}
		default:
			h.logger.Debug("Ignoring unknown WebSocket message", "type", msg.Type, "client", key)
		}
	}
}

func (h *WebSocketHandler) alarmLoop(ctx context.Context, ws *websocket.Conn, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("Failed to deliver alarm", "error", err)
				return
			}
		}
	}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
