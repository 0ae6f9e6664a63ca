package session

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Role constants define valid message roles for type safety.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single conversation message as stored in a session.
// Tool traffic (assistant tool calls, tool results) is working state of a
// single turn and is never persisted here.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a snapshot of a chat session. Store methods return copies, so
// callers can read fields without holding any lock.
type Session struct {
	ID        string
	OwnerID   string
	SubjectID string

	// Context is the opaque analysis payload loaded at creation time.
	// It is immutable for the lifetime of the session.
	Context string

	Messages     []Message
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// NewID generates a session identifier of the form "session_<32 hex chars>".
func NewID() string {
	u := uuid.New()
	return "session_" + hex.EncodeToString(u[:])
}
