// Package mcp provides the client side of the Model Context Protocol
// connection to the review-analytics tool server.
//
// A single long-lived Client is shared by all chat turns. It maintains an
// explicit connection state machine (Disconnected, Connecting, Connected),
// caches tool discovery, and transparently reconnects exactly once when a
// connection-level failure interrupts an operation.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/reviewpulse/reviewpulse/internal/mcp")

// ErrUnavailable indicates the tool server could not serve an operation even
// after one reconnect and retry.
var ErrUnavailable = errors.New("tool server unavailable")

// State describes the connection lifecycle.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String implements Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DialFunc establishes a fresh MCP session. The SDK's Client.Connect is
// one-shot, so every (re)connection needs a new sdk.Client as well; the dial
// function owns both.
type DialFunc func(ctx context.Context) (*sdk.ClientSession, error)

// Config holds tool client configuration.
type Config struct {
	// ServerURL is the streamable-HTTP endpoint of the MCP tool server.
	// Ignored when Dial is set.
	ServerURL string

	// CallTimeout bounds each individual operation against the server.
	// A timeout counts as a connection-level failure. Default 30s.
	CallTimeout time.Duration

	// Dial overrides the default streamable-HTTP dialer (used in tests with
	// in-memory transports).
	Dial DialFunc
}

// Client is the MCP tool client. Safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	state   State
	session *sdk.ClientSession
	tools   []*sdk.Tool // discovery cache, nil = not cached

	dial        DialFunc
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates a tool client. No connection is attempted until the first
// operation needs one.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}

	dial := cfg.Dial
	if dial == nil {
		serverURL := cfg.ServerURL
		dial = func(ctx context.Context) (*sdk.ClientSession, error) {
			client := sdk.NewClient(&sdk.Implementation{
				Name:    "reviewpulse",
				Version: "1.0.0",
			}, nil)
			return client.Connect(ctx, &sdk.StreamableClientTransport{Endpoint: serverURL}, nil)
		}
	}

	return &Client{
		state:       StateDisconnected,
		dial:        dial,
		callTimeout: cfg.CallTimeout,
		logger:      logger.With("component", "mcp"),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the connection. The client may be used again afterwards;
// the next operation reconnects.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.session != nil {
		err = c.session.Close()
		c.session = nil
	}
	c.state = StateDisconnected
	c.tools = nil
	return err
}

// ensureConnected returns a live session, dialing if necessary.
// A fresh connection always invalidates the tool discovery cache: the server
// may have restarted with a different tool set.
func (c *Client) ensureConnected(ctx context.Context) (*sdk.ClientSession, error) {
	c.mu.Lock()
	if c.state == StateConnected && c.session != nil {
		sess := c.session
		c.mu.Unlock()
		return sess, nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	sess, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		return nil, fmt.Errorf("dial tool server: %w", err)
	}
	if c.session != nil && c.session != sess {
		// A concurrent dial won the race; keep one session only.
		_ = c.session.Close()
	}
	c.session = sess
	c.state = StateConnected
	c.tools = nil
	c.logger.Debug("connected to tool server")
	return sess, nil
}

// markDisconnected drops the session after a connection-level failure.
// Only the session that actually failed is dropped, so a racing reconnect is
// not torn down by a stale error.
func (c *Client) markDisconnected(failed *sdk.ClientSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != failed {
		return
	}
	_ = c.session.Close()
	c.session = nil
	c.state = StateDisconnected
	c.tools = nil
}

// cachedTools returns a copy of the discovery cache, or nil when not cached.
func (c *Client) cachedTools() []*sdk.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tools == nil {
		return nil
	}
	cp := make([]*sdk.Tool, len(c.tools))
	copy(cp, c.tools)
	return cp
}

// InvalidateTools clears the discovery cache. The next ListTools asks the
// server again.
func (c *Client) InvalidateTools() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = nil
}

// listOnce performs a single ListTools attempt against a live session.
func (c *Client) listOnce(ctx context.Context) ([]*sdk.Tool, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	sess, err := c.ensureConnected(opCtx)
	if err != nil {
		return nil, err
	}
	result, err := sess.ListTools(opCtx, nil)
	if err != nil {
		c.markDisconnected(sess)
		return nil, err
	}
	return result.Tools, nil
}

// ListTools returns the server's tool descriptors. Results are cached until
// a failure, a reconnect, or an explicit InvalidateTools. On a connection
// failure the client reconnects and retries exactly once.
func (c *Client) ListTools(ctx context.Context) ([]*sdk.Tool, error) {
	if tools := c.cachedTools(); tools != nil {
		return tools, nil
	}

	tools, err := c.listOnce(ctx)
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("tool discovery failed, reconnecting", "error", err)
		tools, err = c.listOnce(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: listing tools: %v", ErrUnavailable, err)
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()

	c.logger.Debug("discovered tools", "count", len(tools))
	return c.cachedTools(), nil
}

// callOnce performs a single CallTool attempt with its own timeout.
func (c *Client) callOnce(ctx context.Context, params *sdk.CallToolParams) (*sdk.CallToolResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	sess, err := c.ensureConnected(opCtx)
	if err != nil {
		return nil, err
	}
	result, err := sess.CallTool(opCtx, params)
	if err != nil {
		c.markDisconnected(sess)
		return nil, err
	}
	return result, nil
}

// CallTool executes a named tool with the given arguments on behalf of
// ownerID.
//
// The owner identity is always written into the arguments, overwriting any
// value already present: tool argument payloads originate from the LLM and
// are never trusted for identity. On a connection-level failure (including a
// per-call timeout) the client reconnects and retries the call exactly once;
// a second failure surfaces ErrUnavailable.
//
// A result with IsError set is a tool-domain failure, not a connection
// failure: its text is returned to the caller like any other result and no
// reconnect happens.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any, ownerID string) (string, error) {
	ctx, span := tracer.Start(ctx, "mcp.call_tool", trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	injected := make(map[string]any, len(args)+1)
	for k, v := range args {
		injected[k] = v
	}
	injected[OwnerArg] = ownerID

	params := &sdk.CallToolParams{Name: name, Arguments: injected}

	result, err := c.callOnce(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			// The caller is gone; retrying would outlive the request.
			span.SetStatus(codes.Error, "canceled")
			return "", fmt.Errorf("calling tool %q: %w", name, ctx.Err())
		}
		c.logger.Warn("tool call failed, reconnecting", "tool", name, "error", err)
		span.AddEvent("reconnect")
		result, err = c.callOnce(ctx, params)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool server unavailable")
		return "", fmt.Errorf("%w: calling tool %q: %v", ErrUnavailable, name, err)
	}

	if result.IsError {
		c.logger.Warn("tool returned error result", "tool", name)
		span.SetAttributes(attribute.Bool("tool.error_result", true))
	}

	text := extractText(result)
	if text == "" {
		text = "{}"
	}
	return text, nil
}

// extractText joins all text content parts of a result with newlines.
// Non-text content is ignored.
func extractText(result *sdk.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, content := range result.Content {
		if tc, ok := content.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
