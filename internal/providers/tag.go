package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// TagProvider drives a chat/completions model that has no native tool
// calling. Tools are described in the system prompt and requested by the
// model with a <t>{json}</t> frame at the end of its reply.
type TagProvider struct {
	name   string
	client OpenAIClient
	logger *slog.Logger
}

func NewTagProvider(name string, client OpenAIClient, logger *slog.Logger) *TagProvider {
	return &TagProvider{name: name, client: client, logger: logger}
}

func (p *TagProvider) Name() string         { return p.name }
func (p *TagProvider) Protocol() Protocol   { return ProtocolTag }
func (p *TagProvider) SupportsImages() bool { return false }

func (p *TagProvider) StreamTurn(ctx context.Context, req *Request, emit Emit) error {
	oreq, dropped, err := BuildTagRequest(req)
	if err != nil {
		return err
	}
	if dropped > 0 {
		p.logger.Debug("Dropped images for text-only model", "provider", p.name, "images", dropped)
	}

	normalizer := NewTagNormalizer()

	if !req.Stream {
		resp, err := p.client.CreateChatCompletion(ctx, oreq)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		return Pump(ctx, newSliceStream(responseAsChunk(resp)), normalizer, emit)
	}

	oreq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return fmt.Errorf("create chat completion stream: %w", err)
	}
	return Pump(ctx, stream, normalizer, emit)
}

// TagSystemPrompt assembles the system prompt advertising the tool set.
func TagSystemPrompt(system string, cfg *message.ToolConfig) (string, error) {
	tools, err := json.Marshal(toolsAsFunctions(cfg))
	if err != nil {
		return "", fmt.Errorf("marshal tool set: %w", err)
	}
	return system + " " + tagToolUseIntro + " " + tagToolUseFormatting + " " + tagToolSetHeader + string(tools), nil
}

// BuildTagRequest flattens the conversation to plain text turns. Images
// cannot be carried and are counted in dropped.
func BuildTagRequest(req *Request) (oreq openai.ChatCompletionRequest, dropped int, err error) {
	system, err := TagSystemPrompt(req.SystemText(), req.ToolConfig)
	if err != nil {
		return oreq, 0, err
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: system}}

	for _, msg := range req.Messages {
		var (
			text  strings.Builder
			calls []TagCall
		)

		for _, b := range msg.Content {
			switch b.Kind() {
			case message.KindText:
				text.WriteString(*b.Text)
			case message.KindDocument:
				if s, ok := documentText(*b.Document); ok {
					text.WriteString(s)
				}
			case message.KindImage:
				dropped++
			case message.KindToolUse:
				calls = append(calls, TagCall{ToolName: b.ToolUse.Name, Parameters: inputObject(b.ToolUse.Input)})
			case message.KindToolResult:
				for _, c := range b.ToolResult.Content {
					if c.Image != nil {
						dropped++
					}
				}
				content, err := json.Marshal(map[string]string{
					"tool_result":  toolResultText(*b.ToolResult),
					"tool_call_id": b.ToolResult.ToolUseID,
				})
				if err != nil {
					return oreq, dropped, fmt.Errorf("marshal tool result: %w", err)
				}
				msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: string(content)})
			case message.KindReasoning:
			case "":
				return oreq, dropped, fmt.Errorf("%s message: %w", msg.Role, message.ErrInvalidBlock)
			}
		}

		if len(calls) > 0 {
			frame, err := json.Marshal(TagPayload{ToolCalls: calls, TaskComplete: "false"})
			if err != nil {
				return oreq, dropped, fmt.Errorf("marshal tool frame: %w", err)
			}
			text.WriteString(tagOpen)
			text.Write(frame)
			text.WriteString(tagClose)
		}

		if text.Len() > 0 {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: string(msg.Role), Content: text.String()})
		}
	}

	oreq = openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	}
	if req.Extra.TopP != nil {
		oreq.TopP = *req.Extra.TopP
	}
	if req.Extra.TopK != nil {
		oreq.TopLogProbs = *req.Extra.TopK
	}

	return oreq, dropped, nil
}

func inputObject(input any) map[string]any {
	switch v := input.(type) {
	case map[string]any:
		return v
	case string:
		if parsed, err := ParseInput(v); err == nil {
			if m, ok := parsed.(map[string]any); ok {
				return m
			}
		}
	}
	return map[string]any{}
}

// TagNormalizer turns streamed text containing a tool frame into the
// canonical event sequence.
type TagNormalizer struct {
	parser      TagParser
	toolEmitted bool
	finished    bool
}

func NewTagNormalizer() *TagNormalizer {
	return &TagNormalizer{}
}

func (n *TagNormalizer) Normalize(chunk openai.ChatCompletionStreamResponse) ([]message.StreamEvent, error) {
	var events []message.StreamEvent

	if len(chunk.Choices) > 0 && !n.finished {
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Role != "" {
			events = append(events, message.MessageStart(message.Role(delta.Role)))
		}
		if delta.ReasoningContent != "" {
			events = append(events, message.ReasoningDelta(delta.ReasoningContent))
		}
		if delta.Content != "" {
			text, payload, err := n.parser.Feed(delta.Content)
			if text != "" {
				events = append(events, message.TextDelta(text))
			}
			if err != nil {
				return events, err
			}
			if payload != nil && len(payload.ToolCalls) == 1 {
				events = append(events, n.toolEvents(payload.ToolCalls[0])...)
			}
		}

		if choice.FinishReason != "" {
			events = append(events, n.finish(string(choice.FinishReason))...)
		}
	}

	if chunk.Usage != nil {
		events = append(events, message.Metadata(message.Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}))
	}

	return events, nil
}

func (n *TagNormalizer) Finish() ([]message.StreamEvent, error) {
	if n.finished {
		return nil, nil
	}
	return n.finish("stop"), nil
}

func (n *TagNormalizer) toolEvents(call TagCall) []message.StreamEvent {
	input, err := json.Marshal(call.Parameters)
	if err != nil {
		input = []byte("{}")
	}
	n.toolEmitted = true
	return []message.StreamEvent{
		message.BlockStart(newToolUseID(), call.ToolName),
		message.ToolInputDelta(string(input)),
		message.BlockStop(),
	}
}

func (n *TagNormalizer) finish(reason string) []message.StreamEvent {
	n.finished = true

	var events []message.StreamEvent
	if rest := n.parser.Finish(); rest != "" {
		events = append(events, message.TextDelta(rest))
	}

	if n.toolEmitted {
		return append(events, message.MessageStop(message.StopToolUse))
	}
	return append(events, message.BlockStop(), message.MessageStop(ConvertStopReason(reason)))
}

// responseAsChunk replays a whole completion as a single stream chunk.
func responseAsChunk(resp openai.ChatCompletionResponse) openai.ChatCompletionStreamResponse {
	chunk := openai.ChatCompletionStreamResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Created: resp.Created,
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		reason := choice.FinishReason
		if reason == "" {
			reason = openai.FinishReasonStop
		}
		chunk.Choices = []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role:             openai.ChatMessageRoleAssistant,
				Content:          choice.Message.Content,
				ReasoningContent: choice.Message.ReasoningContent,
			},
			FinishReason: reason,
		}}
	}
	usage := resp.Usage
	chunk.Usage = &usage
	return chunk
}
