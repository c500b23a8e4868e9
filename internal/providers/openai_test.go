package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

func TestOpenAINormalizer_SimpleAnswer(t *testing.T) {
	n := NewOpenAINormalizer()

	var events []message.StreamEvent
	for _, chunk := range []openai.ChatCompletionStreamResponse{
		roleChunk(),
		contentChunk("4"),
		finishChunk(openai.FinishReasonStop),
	} {
		out, err := n.Normalize(chunk)
		require.NoError(t, err)
		events = append(events, out...)
	}
	tail, err := n.Finish()
	require.NoError(t, err)
	events = append(events, tail...)

	require.Equal(t, []message.EventType{
		message.EventMessageStart,
		message.EventBlockDelta,
		message.EventBlockStop,
		message.EventMessageStop,
	}, eventTypes(events))

	assert.Equal(t, message.RoleAssistant, events[0].Role)
	assert.Equal(t, message.DeltaText, events[1].Delta.Kind)
	assert.Equal(t, "4", events[1].Delta.Value)
	assert.Equal(t, message.StopEndTurn, events[3].StopReason)
}

func TestOpenAINormalizer_NoRoleNoStart(t *testing.T) {
	n := NewOpenAINormalizer()

	events, err := n.Normalize(contentChunk("hello"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, message.EventBlockDelta, events[0].Type)
}

func TestOpenAINormalizer_ToolCalls(t *testing.T) {
	n := NewOpenAINormalizer()

	var events []message.StreamEvent
	for _, chunk := range []openai.ChatCompletionStreamResponse{
		roleChunk(),
		toolChunk(0, "call_1", "weather_getToday", ""),
		toolChunk(0, "", "", `{"city":`),
		toolChunk(0, "", "", `"Osaka"}`),
		toolChunk(1, "call_2", "weather_getTomorrow", `{}`),
		finishChunk(openai.FinishReasonToolCalls),
	} {
		out, err := n.Normalize(chunk)
		require.NoError(t, err)
		events = append(events, out...)
	}
	tail, err := n.Finish()
	require.NoError(t, err)
	assert.Empty(t, tail, "finish after a finish reason emits nothing")

	assert.Equal(t, []message.EventType{
		message.EventMessageStart,
		message.EventBlockStart, // index 0 opens without a stray stop
		message.EventBlockDelta,
		message.EventBlockDelta,
		message.EventBlockStop, // index 1 closes index 0
		message.EventBlockStart,
		message.EventBlockDelta,
		message.EventBlockStop,
		message.EventMessageStop,
	}, eventTypes(events))

	assert.Equal(t, "call_1", events[1].ToolStart.ToolUseID)
	assert.Equal(t, "weather_getToday", events[1].ToolStart.Name)
	assert.Equal(t, message.DeltaToolInput, events[2].Delta.Kind)
	assert.Equal(t, message.StopToolUse, events[8].StopReason)

	stops := 0
	for _, ev := range events {
		if ev.Type == message.EventMessageStop {
			stops++
		}
	}
	assert.Equal(t, 1, stops)
}

func TestOpenAINormalizer_FirstToolCallAtLaterIndex(t *testing.T) {
	n := NewOpenAINormalizer()

	var events []message.StreamEvent
	for _, chunk := range []openai.ChatCompletionStreamResponse{
		contentChunk("Checking."),
		toolChunk(2, "call_9", "weather_getToday", `{}`),
	} {
		out, err := n.Normalize(chunk)
		require.NoError(t, err)
		events = append(events, out...)
	}

	assert.Equal(t, []message.EventType{
		message.EventBlockDelta,
		message.EventBlockStart,
		message.EventBlockDelta,
	}, eventTypes(events), "no block_stop before any tool block is open")
}

func TestOpenAINormalizer_ReasoningAndUsage(t *testing.T) {
	n := NewOpenAINormalizer()

	chunk := openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ReasoningContent: "hmm"},
		}},
		Usage: &openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	events, err := n.Normalize(chunk)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, message.DeltaReasoning, events[0].Delta.Kind)
	assert.Equal(t, message.EventMetadata, events[1].Type)
	assert.Equal(t, 15, events[1].Usage.TotalTokens)
}

func TestOpenAINormalizer_StreamEndsWithoutFinishReason(t *testing.T) {
	n := NewOpenAINormalizer()

	_, err := n.Normalize(contentChunk("partial"))
	require.NoError(t, err)

	tail, err := n.Finish()
	require.NoError(t, err)
	require.Equal(t, []message.EventType{message.EventBlockStop, message.EventMessageStop}, eventTypes(tail))
	assert.Equal(t, message.StopEndTurn, tail[1].StopReason)
}

func TestConvertStopReason(t *testing.T) {
	tests := map[string]message.StopReason{
		"tool_calls":     message.StopToolUse,
		"stop":           message.StopEndTurn,
		"length":         message.StopMaxTokens,
		"content_filter": message.StopMaxTokens,
		"guardrail":      message.StopReason("guardrail"),
	}

	for in, expected := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, expected, ConvertStopReason(in))
		})
	}
}

func TestBuildOpenAIRequest(t *testing.T) {
	topP := float32(0.9)
	req := &Request{
		Model:       "gpt-4o",
		MaxTokens:   512,
		Temperature: 0.2,
		System:      []message.Block{message.TextBlock("You are helpful.")},
		Messages: []message.Message{
			{Role: message.RoleUser, Content: []message.Block{
				message.TextBlock("What is in this picture?"),
				message.ImageBlock(message.Image{Format: "png", Source: message.ImageSource{Bytes: []byte("img")}}),
			}},
			{Role: message.RoleAssistant, Content: []message.Block{
				message.ReasoningBlock("let me look"),
				message.ToolUseBlock(message.ToolUse{ToolUseID: "call_1", Name: "vision_describe", Input: map[string]any{"detail": "high"}}),
			}},
			{Role: message.RoleUser, Content: []message.Block{
				message.ToolResultBlock(message.ToolResult{
					ToolUseID: "call_1",
					Status:    message.StatusSuccess,
					Content:   []message.ToolResultContent{message.TextContent("a cat"), message.TextContent("on a mat")},
				}),
			}},
		},
		ToolConfig: &message.ToolConfig{Tools: []message.ToolSpec{{
			Name:        "vision_describe",
			Description: "Describe an image",
			Parameters:  map[string]any{"type": "object"},
		}}},
		Extra: ExtraParams{TopP: &topP},
	}

	oreq, err := BuildOpenAIRequest(req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", oreq.Model)
	assert.Equal(t, 512, oreq.MaxCompletionTokens)
	assert.Equal(t, float32(0.9), oreq.TopP)
	assert.Equal(t, "auto", oreq.ToolChoice)
	require.Len(t, oreq.Tools, 1)
	assert.Equal(t, "vision_describe", oreq.Tools[0].Function.Name)

	require.Len(t, oreq.Messages, 4)

	assert.Equal(t, openai.ChatMessageRoleSystem, oreq.Messages[0].Role)
	assert.Equal(t, "You are helpful.", oreq.Messages[0].Content)

	user := oreq.Messages[1]
	require.Len(t, user.MultiContent, 2)
	assert.Equal(t, openai.ChatMessagePartTypeImageURL, user.MultiContent[1].Type)
	assert.Equal(t, "data:image/png;base64,aW1n", user.MultiContent[1].ImageURL.URL)

	assistant := oreq.Messages[2]
	assert.Empty(t, assistant.Content)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "call_1", assistant.ToolCalls[0].ID)
	assert.JSONEq(t, `{"detail":"high"}`, assistant.ToolCalls[0].Function.Arguments)

	tool := oreq.Messages[3]
	assert.Equal(t, openai.ChatMessageRoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.Equal(t, "a cat\non a mat", tool.Content)
}

func TestBuildOpenAIRequest_ReasoningModel(t *testing.T) {
	oreq, err := BuildOpenAIRequest(&Request{
		Model:       "o3-mini",
		Temperature: 0.5,
		Messages:    []message.Message{{Role: message.RoleUser, Content: []message.Block{message.TextBlock("hi")}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "high", oreq.ReasoningEffort)
	assert.Zero(t, oreq.Temperature)
	assert.Nil(t, oreq.Tools)
	assert.Nil(t, oreq.ToolChoice)
}

func TestOpenAIProvider_StreamTurn(t *testing.T) {
	client := &fakeOpenAIClient{chunks: []openai.ChatCompletionStreamResponse{
		roleChunk(),
		contentChunk("4"),
		finishChunk(openai.FinishReasonStop),
	}}
	p := NewOpenAIProvider("compatible", client, discardLogger())

	var events []message.StreamEvent
	err := p.StreamTurn(context.Background(), &Request{
		Model:    "deepseek-chat",
		Stream:   true,
		Messages: []message.Message{{Role: message.RoleUser, Content: []message.Block{message.TextBlock("2+2?")}}},
	}, collect(&events))
	require.NoError(t, err)

	assert.True(t, client.lastRequest.Stream)
	assert.Len(t, events, 4)
}

func TestOpenAIProvider_NonStreaming(t *testing.T) {
	client := &fakeOpenAIClient{response: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       "call_9",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "weather_getToday", Arguments: `{"city":"Osaka"}`},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 3, CompletionTokens: 4, TotalTokens: 7},
	}}
	p := NewOpenAIProvider("compatible", client, discardLogger())

	var events []message.StreamEvent
	err := p.StreamTurn(context.Background(), &Request{Model: "m"}, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, []message.EventType{
		message.EventMessageStart,
		message.EventBlockStop,
		message.EventBlockStart,
		message.EventBlockDelta,
		message.EventBlockStop,
		message.EventMessageStop,
		message.EventMetadata,
	}, eventTypes(events))
	assert.Equal(t, message.StopToolUse, events[5].StopReason)
}

func TestOpenAIProvider_UpstreamError(t *testing.T) {
	client := &fakeOpenAIClient{err: errors.New("503 service unavailable")}
	p := NewOpenAIProvider("compatible", client, discardLogger())

	err := p.StreamTurn(context.Background(), &Request{Model: "m", Stream: true}, func(message.StreamEvent) bool { return true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
