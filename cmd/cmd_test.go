package cmd

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

func TestMaskString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "(not set)"},
		{"short", "*****"},
		{"sk-1234567890abcd", "sk-1*********abcd"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, maskString(tt.in))
	}
}

func TestPromptConfig(t *testing.T) {
	input := strings.Join([]string{
		"deepseek",
		"tag",
		"https://api.deepseek.com/v1",
		"ds-key",
		"deepseek-reasoner, deepseek-chat",
		"",
	}, "\n")

	var out bytes.Buffer
	cfg, err := promptConfig(bufio.NewReader(strings.NewReader(input)), &out)
	require.NoError(t, err)

	require.Len(t, cfg.Upstreams, 1)
	u := cfg.Upstreams[0]
	assert.Equal(t, "deepseek", u.Name)
	assert.Equal(t, "tag", u.Protocol)
	assert.Equal(t, "ds-key", u.APIKey)
	assert.Equal(t, []string{"deepseek-reasoner", "deepseek-chat"}, u.Models)
	assert.Empty(t, cfg.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestPromptConfig_Converse(t *testing.T) {
	input := "bedrock\nconverse\nus-east-1\nus.amazon.nova-pro-v1:0\nsecret\n"

	cfg, err := promptConfig(bufio.NewReader(strings.NewReader(input)), &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.Upstreams[0].Region)
	assert.Empty(t, cfg.Upstreams[0].APIKey)
	assert.Equal(t, "secret", cfg.APIKey)
}

func TestEventPrinter(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	p := newEventPrinter(&out)

	text := "sunny in Paris"
	for _, ev := range []message.StreamEvent{
		message.MessageStart(message.RoleAssistant),
		message.ReasoningDelta("checking weather"),
		message.BlockStart("t1", "weather_getToday"),
		message.ToolInputDelta(`{"city":"Paris"}`),
		message.BlockStop(),
		{
			Type:       message.EventMessageStop,
			StopReason: message.StopToolUse,
			ToolResults: []message.ToolCallResult{{
				ToolUse:    message.ToolUse{ToolUseID: "t1", Name: "weather_getToday"},
				ToolResult: message.ToolResult{ToolUseID: "t1", Status: message.StatusSuccess, Content: []message.ToolResultContent{{Text: &text}}},
			}},
		},
		message.MessageStart(message.RoleAssistant),
		message.TextDelta("It is sunny."),
		message.MessageStop(message.StopEndTurn),
	} {
		p.Print(ev)
	}
	p.Finish()

	assert.Equal(t,
		"checking weather\n\n→ weather_getToday {\"city\":\"Paris\"}\n← weather_getToday [success] sunny in Paris\nIt is sunny.\n",
		out.String())
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("word ", 40)
	img := message.Image{Format: "png"}

	s := summarize(message.ToolResult{Content: []message.ToolResultContent{{Text: &long}, {Image: &img}}})
	assert.True(t, strings.HasSuffix(s, "… (+1 image(s))"))
	assert.LessOrEqual(t, len(s), summaryLimit+len("… (+1 image(s))"))
}
