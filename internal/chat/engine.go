// Package chat implements the tool-orchestration loop that turns a chat
// session into a streamed answer.
//
// A turn runs in two phases. Probe rounds use non-streaming completions with
// the tool catalog attached; each round executes whatever tool calls the model
// requested and feeds the results back. Once the model stops requesting tools,
// or the round budget runs out, a final streaming completion without tools
// produces the answer the client sees.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/reviewpulse/reviewpulse/internal/mcp"
	"github.com/reviewpulse/reviewpulse/internal/session"
)

var tracer = otel.Tracer("github.com/reviewpulse/reviewpulse/internal/chat")

// DefaultMaxRounds bounds how many probe rounds a single turn may spend on
// tool calls before the engine forces a final answer.
const DefaultMaxRounds = 8

// Completer is the LLM surface the engine consumes.
type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error)
	CompleteStream(ctx context.Context, messages []openai.ChatCompletionMessage, fn func(token string) error) error
}

// ToolBroker is the tool-server surface the engine consumes.
type ToolBroker interface {
	ListTools(ctx context.Context) ([]*sdk.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any, ownerID string) (string, error)
	InvalidateTools()
}

// errConsumerGone aborts a streaming completion when the consumer stops
// ranging. It never escapes the engine.
var errConsumerGone = errors.New("stream consumer gone")

// Config holds engine configuration.
type Config struct {
	// MaxRounds caps the number of probe rounds per turn. Default 8.
	MaxRounds int
}

// Engine orchestrates LLM completions and tool calls for chat turns.
// Safe for concurrent use.
type Engine struct {
	llm       Completer
	tools     ToolBroker
	maxRounds int
	logger    *slog.Logger
}

// New creates a chat engine.
func New(llm Completer, tools ToolBroker, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	return &Engine{
		llm:       llm,
		tools:     tools,
		maxRounds: cfg.MaxRounds,
		logger:    logger.With("component", "chat"),
	}
}

// Stream runs one full chat turn for sess, whose last message is the user's
// new input, and yields answer tokens as they arrive.
//
// A non-nil error ends the sequence: either no tokens were yielded (the turn
// failed before streaming) or the stream broke mid-answer. Exhausting the
// round budget is not an error; the engine falls through to the final
// streaming call with whatever tool results it has.
func (e *Engine) Stream(ctx context.Context, sess *session.Session) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, span := tracer.Start(ctx, "chat.turn", trace.WithAttributes(
			attribute.String("session.id", sess.ID),
			attribute.String("subject.id", sess.SubjectID),
		))
		defer span.End()

		fail := func(err error) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			yield("", err)
		}

		catalog, err := e.tools.ListTools(ctx)
		if err != nil {
			// Stale discovery must not poison the next turn.
			e.tools.InvalidateTools()
			fail(fmt.Errorf("fetching tools: %w", err))
			return
		}

		available, err := mcp.ToOpenAITools(catalog)
		if err != nil {
			fail(fmt.Errorf("converting tools: %w", err))
			return
		}

		messages, err := e.runToolRounds(ctx, buildMessages(sess), available, sess.OwnerID)
		if err != nil {
			fail(err)
			return
		}

		err = e.llm.CompleteStream(ctx, messages, func(token string) error {
			if !yield(token, nil) {
				return errConsumerGone
			}
			return nil
		})
		if err != nil && !errors.Is(err, errConsumerGone) {
			fail(fmt.Errorf("streaming answer: %w", err))
		}
	}
}

// runToolRounds drives the probe loop. It returns the message history
// extended with every executed tool exchange, ready for the final streaming
// call.
func (e *Engine) runToolRounds(ctx context.Context, messages []openai.ChatCompletionMessage, available []openai.Tool, ownerID string) ([]openai.ChatCompletionMessage, error) {
	for round := 0; round < e.maxRounds; round++ {
		probe, err := e.llm.Complete(ctx, messages, available)
		if err != nil {
			return nil, fmt.Errorf("probing for tool calls: %w", err)
		}
		if len(probe.ToolCalls) == 0 {
			// The probe's text is discarded; the streaming call below
			// regenerates the answer token by token.
			return messages, nil
		}

		e.logger.Debug("executing tool calls", "round", round, "count", len(probe.ToolCalls))
		messages = append(messages, probe)
		messages = append(messages, e.executeToolCalls(ctx, probe.ToolCalls, ownerID)...)
	}

	e.logger.Warn("tool round budget exhausted, forcing final answer", "rounds", e.maxRounds)
	return messages, nil
}

// executeToolCalls runs the requested tools concurrently and returns one tool
// message per call, in the order the model requested them.
func (e *Engine) executeToolCalls(ctx context.Context, calls []openai.ToolCall, ownerID string) []openai.ChatCompletionMessage {
	results := make([]openai.ChatCompletionMessage, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.executeToolCall(ctx, call, ownerID)
		}()
	}
	wg.Wait()

	return results
}

// executeToolCall runs a single tool call. Failures of any kind degrade to an
// error payload in the tool result so the model can react; they never abort
// the turn.
func (e *Engine) executeToolCall(ctx context.Context, call openai.ToolCall, ownerID string) openai.ChatCompletionMessage {
	args := map[string]any{}
	if raw := call.Function.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			e.logger.Warn("malformed tool arguments",
				"tool", call.Function.Name,
				"error", err,
			)
			args = map[string]any{}
		}
	}

	content, err := e.tools.CallTool(ctx, call.Function.Name, args, ownerID)
	if err != nil {
		e.logger.Warn("tool call failed", "tool", call.Function.Name, "error", err)
		content = errorPayload(err)
	}

	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
	}
}

// errorPayload encodes a tool failure as a JSON object the model can read.
func errorPayload(err error) string {
	raw, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return `{"error": "tool call failed"}`
	}
	return string(raw)
}
