package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/reviewpulse/reviewpulse/internal/mcp"
	"github.com/reviewpulse/reviewpulse/internal/session"
	"github.com/reviewpulse/reviewpulse/internal/sse"
)

// maxMessageChars bounds the length of a user message in characters.
const maxMessageChars = 1000

// chatHandler serves the streaming chat endpoint.
type chatHandler struct {
	store  *session.Store
	engine Streamer
	logger *slog.Logger
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// sendMessage handles POST /api/v1/chat/sessions/{id}/messages.
//
// Validation, authorization, and the message-cap check all happen before the
// response switches to text/event-stream, so every deterministic failure is a
// plain JSON error with a proper status code. Once streaming starts, failures
// surface as the SSE error event.
func (h *chatHandler) sendMessage(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "caller identity missing")
		return
	}

	var req sendMessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message must not be empty")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageChars {
		writeError(w, http.StatusBadRequest, "invalid_request", "message exceeds 1000 characters")
		return
	}

	sessionID := r.PathValue("id")
	sess, err := h.store.Get(sessionID, ownerID)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	userMsg := session.Message{Role: session.RoleUser, Content: req.Message}
	if err := h.store.Append(sessionID, ownerID, userMsg); err != nil {
		mapStoreError(w, err)
		return
	}
	// The snapshot predates the append; extend it so the engine sees the new
	// message without re-reading the store.
	sess.Messages = append(sess.Messages, userMsg)

	stream, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	h.logger.Debug("stream started", "session_id", sessionID)

	var full strings.Builder
	for token, streamErr := range h.engine.Stream(r.Context(), sess) {
		if streamErr != nil {
			h.writeStreamError(stream, sessionID, streamErr)
			return
		}
		full.WriteString(token)
		if err := stream.WriteToken(token); err != nil {
			// Write failure means the client is gone. Tokens already
			// delivered and the appended user message stay as they are.
			h.logger.Info("client disconnected", "session_id", sessionID)
			return
		}
	}
	if r.Context().Err() != nil {
		h.logger.Info("client disconnected", "session_id", sessionID)
		return
	}

	answer := full.String()
	assistantMsg := session.Message{Role: session.RoleAssistant, Content: answer}
	if err := h.store.Append(sessionID, ownerID, assistantMsg); err != nil {
		// The answer was already streamed; failing to persist it must not
		// turn the turn into an error.
		h.logger.Warn("could not persist assistant message", "session_id", sessionID, "error", err)
	}

	if err := stream.WriteDone(answer); err != nil {
		h.logger.Info("client disconnected before done event", "session_id", sessionID)
		return
	}
	h.logger.Debug("stream completed", "session_id", sessionID, "chars", len(answer))
}

// writeStreamError maps a turn failure to the SSE error event.
func (h *chatHandler) writeStreamError(stream *sse.Writer, sessionID string, err error) {
	code := "stream_error"
	if errors.Is(err, mcp.ErrUnavailable) {
		code = "tool_server_unavailable"
	}

	h.logger.Error("stream failed", "session_id", sessionID, "code", code, "error", err)
	_ = stream.WriteError(code, err.Error())
}
