package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

func TestSuccessOutcome_Variants(t *testing.T) {
	call := message.ToolUse{ToolUseID: "t1", Name: "browser_screenshot", Input: map[string]any{}}
	out := successOutcome(call, &tools.Result{Content: []tools.Content{
		{Type: tools.ContentText, Text: "line one"},
		{Type: tools.ContentImage, MIMEType: "image/jpeg", Data: []byte("img")},
		{Type: tools.ContentText, Text: "line two"},
	}})

	require.Len(t, out.exec.Content, 3)
	assert.Equal(t, []byte("img"), out.exec.Content[1].Image.Source.Bytes)
	assert.Equal(t, "jpeg", out.exec.Content[1].Image.Format)

	assert.Equal(t, "aW1n", out.serializable.Content[1].Image.Source.Base64)
	assert.Empty(t, out.serializable.Content[1].Image.Source.Bytes)

	require.Len(t, out.text.Content, 1)
	assert.Equal(t, "line one\nline two", *out.text.Content[0].Text)

	for _, r := range []message.ToolResult{out.exec, out.serializable, out.text} {
		assert.Equal(t, "t1", r.ToolUseID)
		assert.Equal(t, message.StatusSuccess, r.Status)
	}
}

func TestSuccessOutcome_ProviderReportedError(t *testing.T) {
	out := successOutcome(message.ToolUse{ToolUseID: "t1"}, &tools.Result{
		IsError: true,
		Content: []tools.Content{{Type: tools.ContentText, Text: "no such file"}},
	})

	assert.Equal(t, message.StatusError, out.exec.Status)
	assert.Equal(t, "no such file", *out.exec.Content[0].Text)
}

func TestExecuteTool_NonObjectInput(t *testing.T) {
	o := New(Config{}, nil, testLogger())
	out := o.executeTool(context.Background(), lookup{"weather": &weatherTools{}}, message.ToolUse{
		ToolUseID: "t1",
		Name:      "weather_getToday",
		Input:     `{"city":`,
	})

	assert.Equal(t, message.StatusError, out.exec.Status)
	assert.Contains(t, *out.text.Content[0].Text, "getToday tool call is failed. error:")
}

func TestExecuteTool_MalformedName(t *testing.T) {
	o := New(Config{}, nil, testLogger())
	out := o.executeTool(context.Background(), nil, message.ToolUse{ToolUseID: "t1", Name: "plain"})

	assert.Equal(t, message.StatusError, out.serializable.Status)
	assert.Contains(t, *out.serializable.Content[0].Text, "plain tool call is failed.")
}
