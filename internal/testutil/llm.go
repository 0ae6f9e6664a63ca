package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// ScriptedLLM provides deterministic chat-completion responses for testing.
// It matches the last user message against registered patterns and returns
// the corresponding response or tool-call request.
//
// Tool-call rules are consumed on first match so that a tool loop advances:
// the first matching probe returns the tool calls, subsequent probes fall
// through to the next unused rule, then to text rules and the fallback.
//
// Thread-safe for concurrent use.
type ScriptedLLM struct {
	mu        sync.Mutex
	rules     []llmRule
	fallback  string
	calls     []LLMCall
	completeE error
	streamE   error
}

type llmRule struct {
	pattern   string // substring match in last user message, lowercase
	response  string
	toolCalls []openai.ToolCall // non-nil = probe answer requesting tools
	used      bool
}

// LLMCall records a single call to the scripted model.
type LLMCall struct {
	Messages []openai.ChatCompletionMessage
	Tools    []openai.Tool
	Stream   bool
}

// NewScriptedLLM creates a scripted LLM with the given fallback response.
// The fallback is returned when no pattern matches.
func NewScriptedLLM(fallback string) *ScriptedLLM {
	return &ScriptedLLM{fallback: fallback}
}

// AddResponse registers a pattern-response pair.
// When the last user message contains the pattern (case-insensitive), the
// response is returned. Patterns are checked in registration order.
func (m *ScriptedLLM) AddResponse(pattern, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, llmRule{pattern: strings.ToLower(pattern), response: response})
}

// AddToolCalls registers a pattern that triggers tool calls on the next
// matching non-streaming call. Each registration fires exactly once.
func (m *ScriptedLLM) AddToolCalls(pattern string, calls ...openai.ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, llmRule{pattern: strings.ToLower(pattern), toolCalls: calls})
}

// FailComplete forces all subsequent Complete calls to return err.
func (m *ScriptedLLM) FailComplete(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeE = err
}

// FailStream forces all subsequent CompleteStream calls to return err.
func (m *ScriptedLLM) FailStream(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamE = err
}

// Calls returns a copy of all recorded calls.
func (m *ScriptedLLM) Calls() []LLMCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]LLMCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// lastUserMessage extracts the text of the most recent user-role message.
func lastUserMessage(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// record stores the call for later inspection.
func (m *ScriptedLLM) record(messages []openai.ChatCompletionMessage, tools []openai.Tool, stream bool) {
	cp := make([]openai.ChatCompletionMessage, len(messages))
	copy(cp, messages)
	m.calls = append(m.calls, LLMCall{Messages: cp, Tools: tools, Stream: stream})
}

// Complete implements the non-streaming probe call.
func (m *ScriptedLLM) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	if err := ctx.Err(); err != nil {
		return openai.ChatCompletionMessage{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(messages, tools, false)

	if m.completeE != nil {
		return openai.ChatCompletionMessage{}, m.completeE
	}

	lower := strings.ToLower(lastUserMessage(messages))

	// Unused tool rules take priority so multi-round scripts play in order.
	for i := range m.rules {
		r := &m.rules[i]
		if r.toolCalls != nil && !r.used && strings.Contains(lower, r.pattern) {
			r.used = true
			return openai.ChatCompletionMessage{
				Role:      openai.ChatMessageRoleAssistant,
				ToolCalls: r.toolCalls,
			}, nil
		}
	}
	for i := range m.rules {
		r := &m.rules[i]
		if r.toolCalls == nil && strings.Contains(lower, r.pattern) {
			return openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: r.response,
			}, nil
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.fallback}, nil
}

// streamChunkSize is the fragment size used when streaming scripted text.
const streamChunkSize = 8

// CompleteStream implements the streaming finalize call. The response text is
// emitted in fixed-size fragments through fn; a non-nil error from fn aborts
// the stream and is returned unchanged.
func (m *ScriptedLLM) CompleteStream(ctx context.Context, messages []openai.ChatCompletionMessage, fn func(token string) error) error {
	m.mu.Lock()
	m.record(messages, nil, true)
	if m.streamE != nil {
		err := m.streamE
		m.mu.Unlock()
		return err
	}

	text := m.fallback
	lower := strings.ToLower(lastUserMessage(messages))
	for i := range m.rules {
		r := &m.rules[i]
		if r.toolCalls == nil && strings.Contains(lower, r.pattern) {
			text = r.response
			break
		}
	}
	m.mu.Unlock()

	runes := []rune(text)
	for start := 0; start < len(runes); start += streamChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+streamChunkSize, len(runes))
		if err := fn(string(runes[start:end])); err != nil {
			return err
		}
	}
	return nil
}
