package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// OpenAIClient is the subset of a chat/completions client the adapters need.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChunkStream[openai.ChatCompletionStreamResponse], error)
}

type OpenAIProvider struct {
	name   string
	client OpenAIClient
	logger *slog.Logger
}

func NewOpenAIProvider(name string, client OpenAIClient, logger *slog.Logger) *OpenAIProvider {
	return &OpenAIProvider{name: name, client: client, logger: logger}
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) Protocol() Protocol   { return ProtocolOpenAI }
func (p *OpenAIProvider) SupportsImages() bool { return true }

func (p *OpenAIProvider) StreamTurn(ctx context.Context, req *Request, emit Emit) error {
	oreq, err := BuildOpenAIRequest(req)
	if err != nil {
		return err
	}

	p.logger.Debug("OpenAI request",
		"provider", p.name,
		"model", oreq.Model,
		"messages", len(oreq.Messages),
		"tools", len(oreq.Tools),
		"stream", req.Stream,
	)

	if !req.Stream {
		resp, err := p.client.CreateChatCompletion(ctx, oreq)
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		return Pump(ctx, newSliceStream(resp), openAIResponseNormalizer{}, emit)
	}

	oreq.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
	if err != nil {
		return fmt.Errorf("create chat completion stream: %w", err)
	}
	return Pump(ctx, stream, NewOpenAINormalizer(), emit)
}

// BuildOpenAIRequest translates a canonical request into chat/completions form.
func BuildOpenAIRequest(req *Request) (openai.ChatCompletionRequest, error) {
	msgs, err := convertMessagesToOpenAI(req.Messages, req.SystemText())
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	oreq := openai.ChatCompletionRequest{
		Model:               req.Model,
		Messages:            msgs,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	}

	if !req.ToolConfig.Empty() {
		for _, t := range req.ToolConfig.Tools {
			oreq.Tools = append(oreq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  toolParameters(t),
				},
			})
		}
		oreq.ToolChoice = "auto"
	}

	if req.Extra.TopP != nil {
		oreq.TopP = *req.Extra.TopP
	}
	if req.Extra.TopK != nil {
		oreq.TopLogProbs = *req.Extra.TopK
	}

	if isReasoningModel(req.Model) {
		oreq.ReasoningEffort = "high"
		// Sampling is fixed for these models.
		oreq.Temperature = 0
		oreq.TopP = 0
		oreq.TopLogProbs = 0
	}

	return oreq, nil
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	if i := strings.LastIndex(m, "/"); i >= 0 {
		m = m[i+1:]
	}
	return strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

func toolParameters(t message.ToolSpec) any {
	if t.Parameters == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.Parameters
}

func convertMessagesToOpenAI(messages []message.Message, system string) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		var (
			parts     []openai.ChatMessagePart
			toolCalls []openai.ToolCall
			hasTool   bool
		)

		for _, b := range msg.Content {
			switch b.Kind() {
			case message.KindText:
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: *b.Text})
			case message.KindImage:
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: dataURI(*b.Image)},
				})
			case message.KindDocument:
				if text, ok := documentText(*b.Document); ok {
					parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
				}
			case message.KindToolResult:
				hasTool = true
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    toolResultText(*b.ToolResult),
					ToolCallID: b.ToolResult.ToolUseID,
				})
			case message.KindToolUse:
				hasTool = true
				if msg.Role != message.RoleAssistant {
					continue
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   b.ToolUse.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.ToolUse.Name,
						Arguments: MarshalInput(b.ToolUse.Input),
					},
				})
			case message.KindReasoning:
				// never sent back upstream
			case "":
				return nil, fmt.Errorf("%s message: %w", msg.Role, message.ErrInvalidBlock)
			}
		}

		role := string(msg.Role)
		switch {
		case len(parts) > 0:
			m := openai.ChatCompletionMessage{Role: role, ToolCalls: toolCalls}
			if text, ok := textOnly(parts); ok {
				m.Content = text
			} else {
				m.MultiContent = parts
			}
			out = append(out, m)
		case len(toolCalls) > 0:
			out = append(out, openai.ChatCompletionMessage{Role: role, ToolCalls: toolCalls})
		case !hasTool:
			out = append(out, openai.ChatCompletionMessage{Role: role})
		}
	}

	return out, nil
}

// textOnly collapses all-text parts into a plain string.
func textOnly(parts []openai.ChatMessagePart) (string, bool) {
	var sb strings.Builder
	for _, p := range parts {
		if p.Type != openai.ChatMessagePartTypeText {
			return "", false
		}
		sb.WriteString(p.Text)
	}
	return sb.String(), true
}

func dataURI(img message.Image) string {
	payload := img.Source.Base64
	if payload == "" {
		payload = base64.StdEncoding.EncodeToString(img.Source.Bytes)
	}
	format := img.Format
	if format == "" {
		format = "png"
	}
	return fmt.Sprintf("data:image/%s;base64,%s", format, payload)
}

func toolResultText(tr message.ToolResult) string {
	texts := make([]string, 0, len(tr.Content))
	for _, c := range tr.Content {
		if c.Text != nil {
			texts = append(texts, *c.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func documentText(doc message.Document) (string, bool) {
	switch doc.Format {
	case "txt", "md", "csv", "html":
		return fmt.Sprintf("<document name=%q>\n%s\n</document>", doc.Name, string(doc.Bytes)), true
	}
	return "", false
}

// OpenAINormalizer converts chat.completion.chunk objects into canonical
// events. It emits exactly one message_stop per response.
type OpenAINormalizer struct {
	toolIndex int
	toolOpen  bool
	finished  bool
}

func NewOpenAINormalizer() *OpenAINormalizer {
	return &OpenAINormalizer{}
}

func (n *OpenAINormalizer) Normalize(chunk openai.ChatCompletionStreamResponse) ([]message.StreamEvent, error) {
	var events []message.StreamEvent

	if len(chunk.Choices) > 0 && !n.finished {
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Role != "" {
			events = append(events, message.MessageStart(message.Role(delta.Role)))
		}
		if delta.Content != "" {
			events = append(events, message.TextDelta(delta.Content))
		}
		if delta.ReasoningContent != "" {
			events = append(events, message.ReasoningDelta(delta.ReasoningContent))
		}

		for _, tc := range delta.ToolCalls {
			events = append(events, n.toolCallEvents(tc)...)
		}

		if choice.FinishReason != "" {
			n.finished = true
			events = append(events,
				message.BlockStop(),
				message.MessageStop(ConvertStopReason(string(choice.FinishReason))),
			)
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

func (n *OpenAINormalizer) toolCallEvents(tc openai.ToolCall) []message.StreamEvent {
	var events []message.StreamEvent

	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}
	// A new index closes the tool block that was open, if any.
	if idx != n.toolIndex {
		n.toolIndex = idx
		if n.toolOpen {
			n.toolOpen = false
			events = append(events, message.BlockStop())
		}
	}

	if tc.Function.Name != "" {
		id := tc.ID
		if id == "" {
			id = newToolUseID()
		}
		n.toolOpen = true
		events = append(events, message.BlockStart(id, tc.Function.Name))
	}
	if tc.Function.Arguments != "" {
		events = append(events, message.ToolInputDelta(tc.Function.Arguments))
	}

	return events
}

// Finish closes a stream that ended without a finish reason.
func (n *OpenAINormalizer) Finish() ([]message.StreamEvent, error) {
	if n.finished {
		return nil, nil
	}
	n.finished = true
	return []message.StreamEvent{message.BlockStop(), message.MessageStop(message.StopEndTurn)}, nil
}

type openAIResponseNormalizer struct{}

func (openAIResponseNormalizer) Normalize(resp openai.ChatCompletionResponse) ([]message.StreamEvent, error) {
	return NormalizeOpenAIResponse(resp), nil
}

func (openAIResponseNormalizer) Finish() ([]message.StreamEvent, error) { return nil, nil }

// NormalizeOpenAIResponse expands a whole chat.completion into the same
// event sequence a stream would have produced.
func NormalizeOpenAIResponse(resp openai.ChatCompletionResponse) []message.StreamEvent {
	events := []message.StreamEvent{message.MessageStart(message.RoleAssistant)}

	reason := message.StopEndTurn
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.ReasoningContent != "" {
			events = append(events, message.ReasoningDelta(choice.Message.ReasoningContent))
		}
		if choice.Message.Content != "" {
			events = append(events, message.TextDelta(choice.Message.Content))
		}
		events = append(events, message.BlockStop())

		for _, tc := range choice.Message.ToolCalls {
			id := tc.ID
			if id == "" {
				id = newToolUseID()
			}
			events = append(events, message.BlockStart(id, tc.Function.Name))
			if tc.Function.Arguments != "" {
				events = append(events, message.ToolInputDelta(tc.Function.Arguments))
			}
			events = append(events, message.BlockStop())
		}

		if choice.FinishReason != "" {
			reason = ConvertStopReason(string(choice.FinishReason))
		}
	} else {
		events = append(events, message.BlockStop())
	}

	events = append(events, message.MessageStop(reason))
	if resp.Usage.TotalTokens > 0 || resp.Usage.PromptTokens > 0 {
		events = append(events, message.Metadata(message.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		}))
	}
	return events
}

func newToolUseID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
