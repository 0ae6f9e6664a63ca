package api

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/v1/chat/sessions", "owner-1",
		map[string]string{"subject_id": "com.example.app"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var created sessionResponse
	decodeBody(t, resp, &created)
	if created.SessionID == "" {
		t.Error("session_id missing")
	}
	if created.SubjectID != "com.example.app" {
		t.Errorf("subject_id = %q", created.SubjectID)
	}
	if created.ExpiresAt.IsZero() || !created.ExpiresAt.After(created.CreatedAt) {
		t.Errorf("expires_at = %v, want after created_at %v", created.ExpiresAt, created.CreatedAt)
	}
	if created.MessageCount != 0 {
		t.Errorf("message_count = %d, want 0", created.MessageCount)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing subject", map[string]string{}, http.StatusBadRequest},
		{"empty subject", map[string]string{"subject_id": ""}, http.StatusBadRequest},
		{"malformed body", "not json", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/v1/chat/sessions", "owner-1", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCreateSessionSubjectErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown subject", ErrSubjectNotFound, http.StatusNotFound},
		{"foreign subject", ErrSubjectForbidden, http.StatusForbidden},
		{"loader failure", errors.New("upstream timeout"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.contexts.err = tt.err

			resp := ts.do(t, http.MethodPost, "/api/v1/chat/sessions", "owner-1",
				map[string]string{"subject_id": "com.example.app"})
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			// No session may exist after a failed context build.
			if sessions := ts.store.ListByOwner("owner-1"); len(sessions) != 0 {
				t.Errorf("store holds %d sessions after failure, want 0", len(sessions))
			}
		})
	}
}

func TestCreateSessionLimit(t *testing.T) {
	ts := newTestServer(t)

	ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.do(t, http.MethodPost, "/api/v1/chat/sessions", "owner-1",
		map[string]string{"subject_id": "com.example.other"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 at the session limit", resp.StatusCode)
	}

	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Error != "session_limit" {
		t.Errorf("error code = %q", body.Error)
	}
}

func TestListSessions(t *testing.T) {
	ts := newTestServer(t, withStoreLimits(30*time.Minute, 20, 5))

	first := ts.createSession(t, "owner-1", "com.example.app")
	second := ts.createSession(t, "owner-1", "com.example.other")
	ts.createSession(t, "owner-2", "com.example.app")

	resp := ts.do(t, http.MethodGet, "/api/v1/chat/sessions", "owner-1", nil)
	var list sessionListResponse
	decodeBody(t, resp, &list)

	if list.Total != 2 {
		t.Fatalf("total = %d, want 2 (other owner's session excluded)", list.Total)
	}
	// Most recent activity first.
	if list.Sessions[0].SessionID != second || list.Sessions[1].SessionID != first {
		t.Errorf("order = %s, %s; want %s, %s",
			list.Sessions[0].SessionID, list.Sessions[1].SessionID, second, first)
	}
}

func TestGetMessagesErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "owner-1", "com.example.app")

	tests := []struct {
		name  string
		path  string
		owner string
		want  int
	}{
		{"unknown session", "/api/v1/chat/sessions/session_missing/messages", "owner-1", http.StatusNotFound},
		{"foreign session", "/api/v1/chat/sessions/" + id + "/messages", "owner-2", http.StatusForbidden},
		{"own session", "/api/v1/chat/sessions/" + id + "/messages", "owner-1", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodGet, tt.path, tt.owner, nil)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestExpiredSessionGone(t *testing.T) {
	ts := newTestServer(t, withStoreLimits(50*time.Millisecond, 20, 1))
	id := ts.createSession(t, "owner-1", "com.example.app")

	time.Sleep(80 * time.Millisecond)

	resp := ts.do(t, http.MethodGet, "/api/v1/chat/sessions/"+id+"/messages", "owner-1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410 for expired session", resp.StatusCode)
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "owner-1", "com.example.app")

	if resp := ts.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+id, "owner-2", nil); resp.StatusCode != http.StatusForbidden {
		resp.Body.Close()
		t.Errorf("foreign delete status = %d, want 403", resp.StatusCode)
	} else {
		resp.Body.Close()
	}

	resp := ts.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+id, "owner-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}

	resp = ts.do(t, http.MethodDelete, "/api/v1/chat/sessions/"+id, "owner-1", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.do(t, http.MethodGet, "/api/v1/chat/stats", "owner-1", nil)
	var stats map[string]any
	decodeBody(t, resp, &stats)

	if got := stats["active_sessions"].(float64); got != 1 {
		t.Errorf("active_sessions = %v, want 1", got)
	}
	if got := stats["max_messages"].(float64); got != 20 {
		t.Errorf("max_messages = %v, want 20", got)
	}
}
