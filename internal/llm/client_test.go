package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"

	"github.com/reviewpulse/reviewpulse/internal/log"
)

// fakeProvider emulates the chat-completions API endpoint.
type fakeProvider struct {
	t *testing.T

	// completion returned by the non-streaming endpoint
	message openai.ChatCompletionMessage
	// fragments streamed by the streaming endpoint
	fragments []string
	// status forces a non-200 response when set
	status int

	lastRequest openai.ChatCompletionRequest
}

func (f *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	if err := json.NewDecoder(r.Body).Decode(&f.lastRequest); err != nil {
		f.t.Errorf("decode request: %v", err)
	}

	if f.status != 0 {
		http.Error(w, `{"error": {"message": "boom"}}`, f.status)
		return
	}

	if f.lastRequest.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frag := range f.fragments {
			chunk := map[string]any{
				"id":      "chunk-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": frag}}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		return
	}

	resp := map[string]any{
		"id":     "cmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{"index": 0, "message": f.message, "finish_reason": "stop"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		f.t.Errorf("encode response: %v", err)
	}
}

func newTestClient(t *testing.T, f *fakeProvider) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		APIKey:      "test-key",
		BaseURL:     srv.URL + "/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   256,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{Model: "m"}, log.NewNop()); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := New(Config{APIKey: "k"}, log.NewNop()); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestComplete(t *testing.T) {
	f := &fakeProvider{
		message: openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: "the reviews mention crashes",
		},
	}
	c := newTestClient(t, f)

	msg, err := c.Complete(t.Context(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "summarize"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if msg.Content != "the reviews mention crashes" {
		t.Errorf("Content = %q", msg.Content)
	}
	if f.lastRequest.Model != "gpt-4o-mini" {
		t.Errorf("request model = %q", f.lastRequest.Model)
	}
	if f.lastRequest.Stream {
		t.Error("probe call must not set stream")
	}
}

func TestCompletePassesTools(t *testing.T) {
	f := &fakeProvider{
		message: openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{{
				ID:   "call-1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "search_reviews",
					Arguments: `{"query":"crash"}`,
				},
			}},
		},
	}
	c := newTestClient(t, f)

	tools := []openai.Tool{{
		Type:     openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{Name: "search_reviews"},
	}}
	msg, err := c.Complete(t.Context(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "find crashes"},
	}, tools)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "search_reviews" {
		t.Errorf("ToolCalls = %+v", msg.ToolCalls)
	}
	if len(f.lastRequest.Tools) != 1 {
		t.Errorf("request tools = %d, want 1", len(f.lastRequest.Tools))
	}
}

func TestCompleteProviderError(t *testing.T) {
	f := &fakeProvider{status: http.StatusInternalServerError}
	c := newTestClient(t, f)

	_, err := c.Complete(t.Context(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
	}, nil)
	if err == nil {
		t.Fatal("expected error from provider failure")
	}
}

func TestCompleteStream(t *testing.T) {
	f := &fakeProvider{fragments: []string{"Los ", "principales ", "problemas"}}
	c := newTestClient(t, f)

	var got []string
	err := c.CompleteStream(t.Context(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "resume"},
	}, func(token string) error {
		got = append(got, token)
		return nil
	})
	if err != nil {
		t.Fatalf("CompleteStream: %v", err)
	}
	if strings.Join(got, "") != "Los principales problemas" {
		t.Errorf("streamed %q", strings.Join(got, ""))
	}
	if !f.lastRequest.Stream {
		t.Error("stream call must set stream")
	}
	if len(f.lastRequest.Tools) != 0 {
		t.Error("final stream call must not offer tools")
	}
}

func TestCompleteStreamCallbackAborts(t *testing.T) {
	f := &fakeProvider{fragments: []string{"a", "b", "c"}}
	c := newTestClient(t, f)

	sentinel := errors.New("consumer gone")
	calls := 0
	err := c.CompleteStream(t.Context(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "x"},
	}, func(string) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("callback called %d times, want 1", calls)
	}
}
