package orchestrator

import "github.com/mihaisavezi/mcp-chat-gateway/internal/message"

const DefaultRecentImages = 3

// ApplyImageRetention keeps only the newest keep images found inside tool
// results. Removal happens in multiples of threshold so the prompt prefix
// changes in steps rather than on every turn. The input is not modified;
// applying the result again removes nothing.
func ApplyImageRetention(messages []message.Message, keep, threshold int) []message.Message {
	if keep <= 0 {
		return messages
	}
	if threshold <= 0 {
		threshold = 1
	}

	total := 0
	for _, m := range messages {
		for _, b := range m.Content {
			if b.ToolResult == nil {
				continue
			}
			for _, c := range b.ToolResult.Content {
				if c.Image != nil {
					total++
				}
			}
		}
	}

	toRemove := total - keep
	toRemove -= toRemove % threshold
	if toRemove <= 0 {
		return messages
	}

	out := make([]message.Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if toRemove == 0 {
			continue
		}

		var content []message.Block
		for j, b := range m.Content {
			if b.ToolResult == nil || toRemove == 0 {
				continue
			}
			kept := make([]message.ToolResultContent, 0, len(b.ToolResult.Content))
			changed := false
			for _, c := range b.ToolResult.Content {
				if c.Image != nil && toRemove > 0 {
					toRemove--
					changed = true
					continue
				}
				kept = append(kept, c)
			}
			if !changed {
				continue
			}
			if content == nil {
				content = make([]message.Block, len(m.Content))
				copy(content, m.Content)
			}
			tr := *b.ToolResult
			tr.Content = kept
			content[j] = message.ToolResultBlock(tr)
		}
		if content != nil {
			out[i].Content = content
		}
	}
	return out
}
