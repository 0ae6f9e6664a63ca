package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolServer is an in-process MCP server exposing review-analytics tools for
// tests. Every tool accepts an owner_id argument and records what it received
// so tests can assert on identity injection.
//
// Each Dial creates an independent in-memory session, which makes the server
// reusable across reconnects.
type ToolServer struct {
	server *mcp.Server

	mu    sync.Mutex
	calls []ReceivedCall
}

// ReceivedCall records a single tool invocation as seen by the server.
type ReceivedCall struct {
	Tool    string
	OwnerID string
	Args    map[string]any
}

// SearchReviewsInput is the input schema for the search_reviews tool.
type SearchReviewsInput struct {
	OwnerID   string `json:"owner_id" jsonschema:"Owner identity, injected by the caller"`
	SubjectID string `json:"subject_id" jsonschema:"App or report identifier to search"`
	Query     string `json:"query,omitempty" jsonschema:"Free-text filter over review bodies"`
}

// RatingSummaryInput is the input schema for the rating_summary tool.
type RatingSummaryInput struct {
	OwnerID   string `json:"owner_id" jsonschema:"Owner identity, injected by the caller"`
	SubjectID string `json:"subject_id" jsonschema:"App identifier to summarize"`
}

// BrokenToolInput is the input schema for the broken_tool tool.
type BrokenToolInput struct {
	OwnerID string `json:"owner_id" jsonschema:"Owner identity, injected by the caller"`
}

// NewToolServer creates a tool server with four registered tools:
// search_reviews and rating_summary succeed with canned JSON, broken_tool
// always returns a tool-domain error result, and silent_tool succeeds with
// no content at all.
func NewToolServer() (*ToolServer, error) {
	ts := &ToolServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "reviewpulse-testtools",
			Version: "0.0.1",
		}, nil),
	}

	searchSchema, err := jsonschema.For[SearchReviewsInput](nil)
	if err != nil {
		return nil, fmt.Errorf("search_reviews schema: %w", err)
	}
	mcp.AddTool(ts.server, &mcp.Tool{
		Name:        "search_reviews",
		Description: "Search the reviews of an app by free text.",
		InputSchema: searchSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in SearchReviewsInput) (*mcp.CallToolResult, any, error) {
		ts.recordCall("search_reviews", in.OwnerID, map[string]any{
			"owner_id": in.OwnerID, "subject_id": in.SubjectID, "query": in.Query,
		})
		return textResult(`{"reviews":[{"rating":1,"text":"app crashes on login"}],"total":1}`), nil, nil
	})

	summarySchema, err := jsonschema.For[RatingSummaryInput](nil)
	if err != nil {
		return nil, fmt.Errorf("rating_summary schema: %w", err)
	}
	mcp.AddTool(ts.server, &mcp.Tool{
		Name:        "rating_summary",
		Description: "Aggregate rating statistics for an app.",
		InputSchema: summarySchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in RatingSummaryInput) (*mcp.CallToolResult, any, error) {
		ts.recordCall("rating_summary", in.OwnerID, map[string]any{
			"owner_id": in.OwnerID, "subject_id": in.SubjectID,
		})
		return textResult(`{"average":4.2,"count":128}`), nil, nil
	})

	brokenSchema, err := jsonschema.For[BrokenToolInput](nil)
	if err != nil {
		return nil, fmt.Errorf("broken_tool schema: %w", err)
	}
	mcp.AddTool(ts.server, &mcp.Tool{
		Name:        "broken_tool",
		Description: "Always fails, for degradation tests.",
		InputSchema: brokenSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in BrokenToolInput) (*mcp.CallToolResult, any, error) {
		ts.recordCall("broken_tool", in.OwnerID, map[string]any{"owner_id": in.OwnerID})
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "backend query failed"}},
			IsError: true,
		}, nil, nil
	})

	silentSchema, err := jsonschema.For[BrokenToolInput](nil)
	if err != nil {
		return nil, fmt.Errorf("silent_tool schema: %w", err)
	}
	mcp.AddTool(ts.server, &mcp.Tool{
		Name:        "silent_tool",
		Description: "Succeeds without producing content.",
		InputSchema: silentSchema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in BrokenToolInput) (*mcp.CallToolResult, any, error) {
		ts.recordCall("silent_tool", in.OwnerID, map[string]any{"owner_id": in.OwnerID})
		return &mcp.CallToolResult{}, nil, nil
	})

	return ts, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func (ts *ToolServer) recordCall(tool, ownerID string, args map[string]any) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.calls = append(ts.calls, ReceivedCall{Tool: tool, OwnerID: ownerID, Args: args})
}

// Calls returns a copy of all recorded tool invocations.
func (ts *ToolServer) Calls() []ReceivedCall {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	cp := make([]ReceivedCall, len(ts.calls))
	copy(cp, ts.calls)
	return cp
}

// Dial connects a fresh client session to the server over in-memory
// transports. The returned session is independent of prior ones.
func (ts *ToolServer) Dial(ctx context.Context) (*mcp.ClientSession, error) {
	clientTransport, serverTransport := mcp.NewInMemoryTransports()

	if _, err := ts.server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, fmt.Errorf("connect server transport: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "reviewpulse-test",
		Version: "0.0.1",
	}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect client transport: %w", err)
	}
	return session, nil
}
