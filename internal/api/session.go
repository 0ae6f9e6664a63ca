package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

// sessionHandler serves session CRUD and stats.
type sessionHandler struct {
	store    *session.Store
	contexts ContextBuilder
	logger   *slog.Logger
}

type createSessionRequest struct {
	SubjectID string `json:"subject_id"`
}

type sessionResponse struct {
	SessionID    string    `json:"session_id"`
	SubjectID    string    `json:"subject_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	MessageCount int       `json:"message_count"`
}

type sessionListResponse struct {
	Total    int               `json:"total"`
	Sessions []sessionResponse `json:"sessions"`
}

type messagesResponse struct {
	SessionID    string            `json:"session_id"`
	Total        int               `json:"total"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Messages     []session.Message `json:"messages"`
}

func toSessionResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID:    sess.ID,
		SubjectID:    sess.SubjectID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		ExpiresAt:    sess.ExpiresAt,
		MessageCount: len(sess.Messages),
	}
}

// mapStoreError translates session store sentinels to HTTP error responses.
func mapStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "session does not exist")
	case errors.Is(err, session.ErrExpired):
		writeError(w, http.StatusGone, "session_expired", "session has expired")
	case errors.Is(err, session.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "session belongs to another user")
	case errors.Is(err, session.ErrSessionLimit):
		writeError(w, http.StatusTooManyRequests, "session_limit", "active session limit reached, delete the existing session first")
	case errors.Is(err, session.ErrMessageLimit):
		writeError(w, http.StatusTooManyRequests, "message_limit", "session message limit reached, create a new session")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func (h *sessionHandler) createSession(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "caller identity missing")
		return
	}

	var req createSessionRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.SubjectID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "subject_id is required")
		return
	}

	// The context must be fully loaded before the session exists.
	contextPayload, err := h.contexts.BuildContext(r.Context(), req.SubjectID, ownerID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSubjectNotFound):
			writeError(w, http.StatusNotFound, "subject_not_found", "subject does not exist")
		case errors.Is(err, ErrSubjectForbidden):
			writeError(w, http.StatusForbidden, "subject_forbidden", "subject belongs to another user")
		default:
			h.logger.Error("building subject context", "subject_id", req.SubjectID, "error", err)
			writeError(w, http.StatusBadGateway, "context_unavailable", "could not load subject context")
		}
		return
	}

	sess, err := h.store.Create(ownerID, req.SubjectID, contextPayload)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	h.logger.Info("session created", "session_id", sess.ID, "subject_id", sess.SubjectID)
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *sessionHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "caller identity missing")
		return
	}

	sessions := h.store.ListByOwner(ownerID)
	resp := sessionListResponse{
		Total:    len(sessions),
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, sess := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(sess))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *sessionHandler) getMessages(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "caller identity missing")
		return
	}

	sess, err := h.store.Get(r.PathValue("id"), ownerID)
	if err != nil {
		mapStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		SessionID:    sess.ID,
		Total:        len(sess.Messages),
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Messages:     sess.Messages,
	})
}

func (h *sessionHandler) deleteSession(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := ownerIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "identity_required", "caller identity missing")
		return
	}

	if err := h.store.Delete(r.PathValue("id"), ownerID); err != nil {
		mapStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *sessionHandler) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats())
}
