package providers

import (
	"encoding/json"
	"strings"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// ConvertStopReason maps an OpenAI-style finish reason to the canonical
// stop reason. Unknown values pass through unchanged.
func ConvertStopReason(reason string) message.StopReason {
	mapping := map[string]message.StopReason{
		"tool_calls":     message.StopToolUse,
		"function_call":  message.StopToolUse,
		"stop":           message.StopEndTurn,
		"length":         message.StopMaxTokens,
		"content_filter": message.StopMaxTokens,
	}

	if canonical, exists := mapping[reason]; exists {
		return canonical
	}

	return message.StopReason(reason)
}

// MarshalInput renders tool input as the JSON string upstreams expect.
// A raw string input is passed through as-is.
func MarshalInput(input any) string {
	switch v := input.(type) {
	case nil:
		return "{}"
	case string:
		if strings.TrimSpace(v) == "" {
			return "{}"
		}
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(data)
	}
}

// ParseInput decodes an accumulated argument buffer. Blank input is an
// empty object.
func ParseInput(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func toolsAsFunctions(cfg *message.ToolConfig) []map[string]any {
	out := make([]map[string]any, 0)
	if cfg.Empty() {
		return out
	}
	for _, t := range cfg.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  params,
			},
		})
	}
	return out
}
