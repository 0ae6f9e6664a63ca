package mcp

import (
	"encoding/json"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sashabaranov/go-openai"
)

// OwnerArg is the tool argument carrying the caller's identity. The client
// injects it on every call; the schema adapter strips it from what the model
// sees, so the model can neither read nor forge it.
const OwnerArg = "owner_id"

// ToOpenAITools converts MCP tool descriptors into OpenAI function-calling
// definitions with the owner argument removed from each input schema
// (both properties and the required list).
func ToOpenAITools(tools []*sdk.Tool) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params, err := stripOwnerArg(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("converting tool %q: %w", t.Name, err)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

// stripOwnerArg returns the schema as a generic JSON object with OwnerArg
// removed. The SDK declares tool input schemas as any, so the schema is
// round-tripped through JSON regardless of its concrete type. A nil or null
// schema becomes an empty object schema.
func stripOwnerArg(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object"}, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	if m == nil {
		return map[string]any{"type": "object"}, nil
	}

	if props, ok := m["properties"].(map[string]any); ok {
		delete(props, OwnerArg)
	}
	if required, ok := m["required"].([]any); ok {
		filtered := make([]any, 0, len(required))
		for _, r := range required {
			if s, ok := r.(string); ok && s == OwnerArg {
				continue
			}
			filtered = append(filtered, r)
		}
		m["required"] = filtered
	}

	return m, nil
}
