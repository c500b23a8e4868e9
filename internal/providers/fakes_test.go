package providers

import (
	"context"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/sashabaranov/go-openai"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStream[T any] struct {
	chunks []T
	err    error
	pos    int
	closed bool
}

func (s *fakeStream[T]) Recv() (T, error) {
	var zero T
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return zero, s.err
	}
	return zero, io.EOF
}

func (s *fakeStream[T]) Close() error {
	s.closed = true
	return nil
}

type fakeOpenAIClient struct {
	chunks   []openai.ChatCompletionStreamResponse
	response openai.ChatCompletionResponse
	err      error

	lastRequest openai.ChatCompletionRequest
}

func (c *fakeOpenAIClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.lastRequest = req
	return c.response, c.err
}

func (c *fakeOpenAIClient) CreateChatCompletionStream(_ context.Context, req openai.ChatCompletionRequest) (ChunkStream[openai.ChatCompletionStreamResponse], error) {
	c.lastRequest = req
	if c.err != nil {
		return nil, c.err
	}
	return &fakeStream[openai.ChatCompletionStreamResponse]{chunks: c.chunks}, nil
}

type fakeConverseClient struct {
	events []types.ConverseStreamOutput
	output *bedrockruntime.ConverseOutput

	lastStreamInput *bedrockruntime.ConverseStreamInput
}

func (c *fakeConverseClient) Converse(_ context.Context, _ *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	return c.output, nil
}

func (c *fakeConverseClient) ConverseStream(_ context.Context, in *bedrockruntime.ConverseStreamInput) (ChunkStream[types.ConverseStreamOutput], error) {
	c.lastStreamInput = in
	return &fakeStream[types.ConverseStreamOutput]{chunks: c.events}, nil
}

func collect(events *[]message.StreamEvent) Emit {
	return func(ev message.StreamEvent) bool {
		*events = append(*events, ev)
		return true
	}
}

func eventTypes(events []message.StreamEvent) []message.EventType {
	out := make([]message.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func contentChunk(content string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{Content: content},
	}}}
}

func roleChunk() openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{Role: openai.ChatMessageRoleAssistant},
	}}}
}

func finishChunk(reason openai.FinishReason) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		FinishReason: reason,
	}}}
}

func toolChunk(index int, id, name, args string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{Choices: []openai.ChatCompletionStreamChoice{{
		Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
			Index:    &index,
			ID:       id,
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: args},
		}}},
	}}}
}
