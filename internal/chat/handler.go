package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/duetlabs/duet/internal/api"
	"github.com/duetlabs/duet/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// defaultMaxRequestBodySize is the maximum allowed chat request body size (64KB).
const defaultMaxRequestBodySize = 64 << 10

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// Handler serves the chat HTTP API.
type Handler struct {
	session     *Session
	store       store.ConversationStore
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// NewHandler creates a chat handler. A nil limiter disables rate limiting.
func NewHandler(session *Session, st store.ConversationStore, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		session:     session,
		store:       st,
		rateLimiter: limiter,
		logger:      logger,
	}
}

// RegisterRoutes registers the chat API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Get("/conversation", h.HandleConversation)
		r.Post("/conversation/new", h.HandleNewConversation)
		r.Post("/conversations/{id}/open", h.HandleOpenConversation)
		r.Get("/conversations/{id}/messages", h.HandleMessages)
	})
}

// HandleChat handles POST /api/chat. The turn is streamed as SSE events:
// an optional "handoff" followed by one "reply" or "silent".
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(clientKey(r)) {
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		api.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("Chat request",
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.session.Send(r.Context(), req.Message, "chat_http", func(ev Event) bool {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Warn("failed to marshal chat event", "error", err)
			return false
		}
		if err := writeSSE(w, ev.Type, string(data)); err != nil {
			h.logger.Warn("failed to write SSE event", "event", ev.Type, "error", err)
			return false
		}
		flusher.Flush()
		return true
	})
}

// HandleConversation handles GET /api/conversation.
func (h *Handler) HandleConversation(w http.ResponseWriter, _ *http.Request) {
	api.JSON(w, http.StatusOK, h.session.View())
}

// HandleNewConversation handles POST /api/conversation/new.
func (h *Handler) HandleNewConversation(w http.ResponseWriter, r *http.Request) {
	h.session.Reset(r.Context())
	api.JSON(w, http.StatusCreated, h.session.View())
}

// HandleOpenConversation handles POST /api/conversations/{id}/open.
func (h *Handler) HandleOpenConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.session.Open(r.Context(), id); err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	api.JSON(w, http.StatusOK, h.session.View())
}

// HandleMessages handles GET /api/conversations/{id}/messages.
// ?raw=true returns the stored log instead of the transcript.
func (h *Handler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.store.LoadMessages(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	if r.URL.Query().Get("raw") == "true" {
		api.JSON(w, http.StatusOK, map[string]any{"conversation_id": id, "messages": msgs})
		return
	}
	api.JSON(w, http.StatusOK, map[string]any{"conversation_id": id, "lines": Transcript(msgs)})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, id string, err error) {
	if IsNotFound(err) {
		api.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	h.logger.Error("conversation lookup failed", "conversation_id", id, "error", err)
	api.Error(w, http.StatusInternalServerError, "failed to load conversation")
}

// clientKey identifies the caller for rate limiting. RealIP middleware
// has already rewritten RemoteAddr when a proxy header is present.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
