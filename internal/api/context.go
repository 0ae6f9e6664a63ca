package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Subject resolution errors returned by a ContextBuilder.
var (
	// ErrSubjectNotFound indicates the subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrSubjectForbidden indicates the owner may not access the subject.
	ErrSubjectForbidden = errors.New("subject access denied")
)

// ContextBuilder loads the analytical context for a subject on behalf of an
// owner. The returned payload is stored verbatim on the session and embedded
// into the system prompt; this service never interprets it.
//
// Building must complete before the session exists: a session is never
// created with missing or partial context.
type ContextBuilder interface {
	BuildContext(ctx context.Context, subjectID, ownerID string) (string, error)
}

// contextTool is the tool the analytics backend exposes for context loading.
const contextTool = "load_subject_context"

// toolCaller is the slice of the tool client the builder needs.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any, ownerID string) (string, error)
}

// SubjectContextBuilder loads subject context through the MCP tool server.
// The backend owns subject existence and access control; it reports domain
// failures as an {"error": ...} payload with a well-known code.
type SubjectContextBuilder struct {
	tools  toolCaller
	logger *slog.Logger
}

// NewSubjectContextBuilder creates a context builder backed by the tool server.
func NewSubjectContextBuilder(tools toolCaller, logger *slog.Logger) *SubjectContextBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubjectContextBuilder{tools: tools, logger: logger}
}

// BuildContext implements ContextBuilder.
func (b *SubjectContextBuilder) BuildContext(ctx context.Context, subjectID, ownerID string) (string, error) {
	result, err := b.tools.CallTool(ctx, contextTool, map[string]any{"subject_id": subjectID}, ownerID)
	if err != nil {
		return "", fmt.Errorf("loading subject context: %w", err)
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err == nil && probe.Error != "" {
		switch probe.Error {
		case "not_found":
			return "", ErrSubjectNotFound
		case "forbidden":
			return "", ErrSubjectForbidden
		default:
			return "", fmt.Errorf("loading subject context: %s", probe.Error)
		}
	}

	b.logger.Debug("subject context loaded", "subject_id", subjectID, "bytes", len(result))
	return result, nil
}
