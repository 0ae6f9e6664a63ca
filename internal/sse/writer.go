// Package sse provides Server-Sent Events utilities for streaming chat
// responses.
//
// The wire contract is exactly three event shapes:
//
//	data: {"token": "...", "done": false}                        (per fragment)
//	data: {"token": "", "done": true, "full_response": "..."}    (once, on success)
//	event: error
//	data: {"error": "...", "detail": "..."}                      (terminal, no done after)
//
// Token and done events are unnamed data events; clients consume them as
// default "message" events. Only the error event carries an event name.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// TokenPayload is the data payload for a single streamed fragment.
type TokenPayload struct {
	Token string `json:"token"`
	Done  bool   `json:"done"`
}

// DonePayload is the data payload terminating a successful stream.
// Token is always empty; FullResponse carries the concatenated text.
type DonePayload struct {
	Token        string `json:"token"`
	Done         bool   `json:"done"`
	FullResponse string `json:"full_response"`
}

// ErrorPayload is the data payload of the error event.
type ErrorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// Writer wraps an http.ResponseWriter for SSE streaming.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter creates a new SSE writer and sets appropriate headers.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flusher interface")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Writer{w: w, flusher: flusher}, nil
}

// writeData writes an unnamed data event and flushes.
func (w *Writer) writeData(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// WriteToken sends one response fragment.
func (w *Writer) WriteToken(token string) error {
	return w.writeData(TokenPayload{Token: token})
}

// WriteDone sends the terminal success event carrying the full concatenated
// response.
func (w *Writer) WriteDone(fullResponse string) error {
	return w.writeData(DonePayload{Token: "", Done: true, FullResponse: fullResponse})
}

// WriteError sends the terminal error event. No done event follows an error.
func (w *Writer) WriteError(errMsg, detail string) error {
	data, err := json.Marshal(ErrorPayload{Error: errMsg, Detail: detail})
	if err != nil {
		return fmt.Errorf("marshal error payload: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "event: error\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write error event: %w", err)
	}
	w.flusher.Flush()
	return nil
}
