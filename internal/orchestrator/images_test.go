package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

func imageResult(id string, images int) message.Message {
	content := []message.ToolResultContent{message.TextContent("screenshot " + id)}
	for i := 0; i < images; i++ {
		content = append(content, message.ImageContent(message.Image{
			Format: "png",
			Source: message.ImageSource{Bytes: []byte{byte(i)}},
		}))
	}
	return message.Message{
		Role: message.RoleUser,
		Content: []message.Block{message.ToolResultBlock(message.ToolResult{
			ToolUseID: id,
			Content:   content,
			Status:    message.StatusSuccess,
		})},
	}
}

func countImages(messages []message.Message) []int {
	var out []int
	for _, m := range messages {
		for _, b := range m.Content {
			if b.ToolResult == nil {
				continue
			}
			n := 0
			for _, c := range b.ToolResult.Content {
				if c.Image != nil {
					n++
				}
			}
			out = append(out, n)
		}
	}
	return out
}

func TestApplyImageRetention(t *testing.T) {
	tests := []struct {
		name      string
		images    []int
		keep      int
		threshold int
		want      []int
	}{
		{name: "under limit", images: []int{1, 1}, keep: 3, threshold: 3, want: []int{1, 1}},
		{name: "below batch size", images: []int{1, 1, 1, 1, 1}, keep: 3, threshold: 3, want: []int{1, 1, 1, 1, 1}},
		{name: "one batch", images: []int{1, 1, 1, 1, 1, 1}, keep: 3, threshold: 3, want: []int{0, 0, 0, 1, 1, 1}},
		{name: "rounded down", images: []int{2, 2, 2, 1}, keep: 3, threshold: 2, want: []int{0, 0, 2, 1}},
		{name: "threshold one", images: []int{1, 1, 1, 1}, keep: 2, threshold: 1, want: []int{0, 0, 1, 1}},
		{name: "disabled", images: []int{1, 1, 1, 1, 1, 1}, keep: 0, threshold: 3, want: []int{1, 1, 1, 1, 1, 1}},
		{name: "oldest first within a result", images: []int{3, 1}, keep: 2, threshold: 1, want: []int{1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var messages []message.Message
			for i, n := range tt.images {
				messages = append(messages, imageResult(string(rune('a'+i)), n))
			}

			out := ApplyImageRetention(messages, tt.keep, tt.threshold)
			assert.Equal(t, tt.want, countImages(out))
			assert.Equal(t, tt.images, countImages(messages), "input untouched")

			again := ApplyImageRetention(out, tt.keep, tt.threshold)
			assert.Equal(t, countImages(out), countImages(again))
		})
	}
}

func TestApplyImageRetention_KeepsText(t *testing.T) {
	messages := []message.Message{
		{Role: message.RoleUser, Content: []message.Block{message.TextBlock("look")}},
		imageResult("a", 2),
		imageResult("b", 2),
	}

	out := ApplyImageRetention(messages, 2, 2)

	require.Len(t, out, 3)
	assert.Equal(t, "look", out[0].Text())
	first := out[1].Content[0].ToolResult
	require.Len(t, first.Content, 1)
	assert.Equal(t, "screenshot a", *first.Content[0].Text)
	assert.Equal(t, "a", first.ToolUseID)
	assert.Equal(t, []int{0, 2}, countImages(out))
}
