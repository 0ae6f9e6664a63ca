package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/reviewpulse/reviewpulse/internal/sse"
	"github.com/reviewpulse/reviewpulse/internal/testutil"
)

func openaiToolCall(id, name, args string) openai.ToolCall {
	return openai.ToolCall{
		ID:   id,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

// sendMessage posts a chat message and returns the raw response.
func (ts *testServer) sendMessage(t *testing.T, id, owner, message string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, "/api/v1/chat/sessions/"+id+"/messages", owner,
		map[string]string{"message": message})
}

// readStream consumes the SSE body and parses it into events.
func readStream(t *testing.T, resp *http.Response) []testutil.SSEEvent {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return testutil.ParseSSEEvents(t, string(body))
}

func TestSendMessageStreamsAnswer(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.AddResponse("rating", "The app holds a strong 4.2 rating overall.")
	id := ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.sendMessage(t, id, "owner-1", "how is the rating?")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := readStream(t, resp)
	if len(events) < 2 {
		t.Fatalf("got %d events, want at least one token plus done", len(events))
	}
	for _, e := range events {
		if e.Type != "message" {
			t.Fatalf("unexpected event type %q in successful stream", e.Type)
		}
	}

	// All events but the last carry fragments; the last is the done event.
	var assembled strings.Builder
	for _, e := range events[:len(events)-1] {
		var tok sse.TokenPayload
		if err := json.Unmarshal([]byte(e.Data), &tok); err != nil {
			t.Fatalf("token payload %q: %v", e.Data, err)
		}
		if tok.Done {
			t.Fatalf("done event before end of stream: %q", e.Data)
		}
		assembled.WriteString(tok.Token)
	}

	var done sse.DonePayload
	if err := json.Unmarshal([]byte(events[len(events)-1].Data), &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if !done.Done || done.Token != "" {
		t.Errorf("terminal event = %+v, want done with empty token", done)
	}
	if done.FullResponse != "The app holds a strong 4.2 rating overall." {
		t.Errorf("full_response = %q", done.FullResponse)
	}
	if assembled.String() != done.FullResponse {
		t.Errorf("fragments assemble to %q, full_response is %q", assembled.String(), done.FullResponse)
	}

	// Both sides of the turn are in the history.
	histResp := ts.do(t, http.MethodGet, "/api/v1/chat/sessions/"+id+"/messages", "owner-1", nil)
	var hist messagesResponse
	decodeBody(t, histResp, &hist)
	if hist.Total != 2 {
		t.Fatalf("history total = %d, want user + assistant", hist.Total)
	}
	if hist.Messages[0].Role != "user" || hist.Messages[1].Role != "assistant" {
		t.Errorf("history roles = %s, %s", hist.Messages[0].Role, hist.Messages[1].Role)
	}
	if hist.Messages[1].Content != done.FullResponse {
		t.Errorf("persisted assistant message = %q", hist.Messages[1].Content)
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "owner-1", "com.example.app")

	tests := []struct {
		name string
		body any
	}{
		{"empty message", map[string]string{"message": ""}},
		{"whitespace message", map[string]string{"message": "   "}},
		{"too long", map[string]string{"message": strings.Repeat("x", 1001)}},
		{"malformed body", "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, http.MethodPost, "/api/v1/chat/sessions/"+id+"/messages", "owner-1", tt.body)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("validation failure must be JSON, got %q", ct)
			}
		})
	}

	// A message at exactly the limit is accepted.
	resp := ts.sendMessage(t, id, "owner-1", strings.Repeat("y", 1000))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("1000-char message status = %d, want 200", resp.StatusCode)
	}
}

func TestSendMessageSessionErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t, "owner-1", "com.example.app")

	tests := []struct {
		name  string
		id    string
		owner string
		want  int
	}{
		{"unknown session", "session_missing", "owner-1", http.StatusNotFound},
		{"foreign session", id, "owner-2", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.sendMessage(t, tt.id, tt.owner, "hello")
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestSendMessageExpiredSession(t *testing.T) {
	ts := newTestServer(t, withStoreLimits(50*time.Millisecond, 20, 1))
	id := ts.createSession(t, "owner-1", "com.example.app")

	time.Sleep(80 * time.Millisecond)

	resp := ts.sendMessage(t, id, "owner-1", "still there?")
	resp.Body.Close()
	if resp.StatusCode != http.StatusGone {
		t.Errorf("status = %d, want 410", resp.StatusCode)
	}
}

func TestSendMessageCap(t *testing.T) {
	// Cap of two fits exactly one full turn.
	ts := newTestServer(t, withStoreLimits(30*time.Minute, 2, 1))
	id := ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.sendMessage(t, id, "owner-1", "first turn")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first turn status = %d", resp.StatusCode)
	}

	resp = ts.sendMessage(t, id, "owner-1", "second turn")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 at the message cap", resp.StatusCode)
	}
	var body errorResponse
	decodeBody(t, resp, &body)
	if body.Error != "message_limit" {
		t.Errorf("error code = %q", body.Error)
	}
}

func TestSendMessageRunsToolLoop(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.AddToolCalls("crashes", openaiToolCall("call-1", "search_reviews",
		`{"subject_id":"com.example.app","query":"crash"}`))
	ts.llm.AddResponse("crashes", "Most complaints are login crashes.")
	id := ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.sendMessage(t, id, "owner-1", "what do reviews say about crashes?")
	events := readStream(t, resp)

	var done sse.DonePayload
	if err := json.Unmarshal([]byte(events[len(events)-1].Data), &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if done.FullResponse != "Most complaints are login crashes." {
		t.Errorf("full_response = %q", done.FullResponse)
	}

	calls := ts.tools.Calls()
	if len(calls) != 1 {
		t.Fatalf("tool server saw %d calls, want 1", len(calls))
	}
	if calls[0].Tool != "search_reviews" {
		t.Errorf("tool = %q", calls[0].Tool)
	}
	// The identity from the HTTP layer reaches the tool server, regardless of
	// what the model put in the arguments.
	if calls[0].OwnerID != "owner-1" {
		t.Errorf("tool ran as %q, want owner-1", calls[0].OwnerID)
	}
}

func TestSendMessageStreamFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.llm.FailStream(errors.New("model unavailable"))
	id := ts.createSession(t, "owner-1", "com.example.app")

	resp := ts.sendMessage(t, id, "owner-1", "hello")
	events := readStream(t, resp)

	errEvent := testutil.FindEvent(events, "error")
	if errEvent == nil {
		t.Fatal("no error event in failed stream")
	}
	var payload sse.ErrorPayload
	if err := json.Unmarshal([]byte(errEvent.Data), &payload); err != nil {
		t.Fatalf("error payload: %v", err)
	}
	if payload.Error != "stream_error" {
		t.Errorf("error = %q", payload.Error)
	}
	if !strings.Contains(payload.Detail, "model unavailable") {
		t.Errorf("detail = %q", payload.Detail)
	}

	// No done event may follow an error.
	if events[len(events)-1].Type != "error" {
		t.Errorf("stream continued after error: last event %q", events[len(events)-1].Type)
	}

	// The user message stays; the assistant message was never produced.
	histResp := ts.do(t, http.MethodGet, "/api/v1/chat/sessions/"+id+"/messages", "owner-1", nil)
	var hist messagesResponse
	decodeBody(t, histResp, &hist)
	if hist.Total != 1 || hist.Messages[0].Role != "user" {
		t.Errorf("history after failure = %+v, want the user message only", hist.Messages)
	}
}
