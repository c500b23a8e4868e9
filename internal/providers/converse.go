package providers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// ConverseClient is the subset of the Bedrock runtime client the adapter needs.
type ConverseClient interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (ChunkStream[types.ConverseStreamOutput], error)
}

type ConverseProvider struct {
	name   string
	client ConverseClient
	logger *slog.Logger
}

func NewConverseProvider(name string, client ConverseClient, logger *slog.Logger) *ConverseProvider {
	return &ConverseProvider{name: name, client: client, logger: logger}
}

func (p *ConverseProvider) Name() string         { return p.name }
func (p *ConverseProvider) Protocol() Protocol   { return ProtocolConverse }
func (p *ConverseProvider) SupportsImages() bool { return true }

func (p *ConverseProvider) StreamTurn(ctx context.Context, req *Request, emit Emit) error {
	parts, err := buildConverseParts(req)
	if err != nil {
		return err
	}

	p.logger.Debug("Converse request",
		"provider", p.name,
		"model", req.Model,
		"messages", len(parts.messages),
		"stream", req.Stream,
	)

	if !req.Stream {
		out, err := p.client.Converse(ctx, BuildConverseInput(req.Model, parts))
		if err != nil {
			return fmt.Errorf("converse: %w", err)
		}
		return Pump(ctx, newSliceStream(out), converseOutputNormalizer{}, emit)
	}

	stream, err := p.client.ConverseStream(ctx, BuildConverseStreamInput(req.Model, parts))
	if err != nil {
		return fmt.Errorf("converse stream: %w", err)
	}
	return Pump(ctx, stream, NewConverseNormalizer(), emit)
}

// ConverseParts is a canonical request translated to Bedrock types.
type ConverseParts struct {
	messages   []types.Message
	system     []types.SystemContentBlock
	inference  *types.InferenceConfiguration
	tools      *types.ToolConfiguration
	additional document.Interface
}

func BuildConverseInput(model string, parts ConverseParts) *bedrockruntime.ConverseInput {
	return &bedrockruntime.ConverseInput{
		ModelId:                      aws.String(model),
		Messages:                     parts.messages,
		System:                       parts.system,
		InferenceConfig:              parts.inference,
		ToolConfig:                   parts.tools,
		AdditionalModelRequestFields: parts.additional,
	}
}

func BuildConverseStreamInput(model string, parts ConverseParts) *bedrockruntime.ConverseStreamInput {
	return &bedrockruntime.ConverseStreamInput{
		ModelId:                      aws.String(model),
		Messages:                     parts.messages,
		System:                       parts.system,
		InferenceConfig:              parts.inference,
		ToolConfig:                   parts.tools,
		AdditionalModelRequestFields: parts.additional,
	}
}

func buildConverseParts(req *Request) (ConverseParts, error) {
	var parts ConverseParts

	for _, b := range req.System {
		if b.Text != nil && *b.Text != "" {
			parts.system = append(parts.system, &types.SystemContentBlockMemberText{Value: *b.Text})
		}
	}

	for _, msg := range req.Messages {
		content := make([]types.ContentBlock, 0, len(msg.Content))
		for _, b := range msg.Content {
			block, err := converseBlock(b)
			if err != nil {
				return parts, fmt.Errorf("%s message: %w", msg.Role, err)
			}
			if block != nil {
				content = append(content, block)
			}
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == message.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		parts.messages = append(parts.messages, types.Message{Role: role, Content: content})
	}

	parts.inference = &types.InferenceConfiguration{
		Temperature: aws.Float32(req.Temperature),
	}
	if req.MaxTokens > 0 {
		parts.inference.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}
	if req.Extra.TopP != nil {
		parts.inference.TopP = aws.Float32(*req.Extra.TopP)
	}
	if req.Extra.TopK != nil {
		parts.additional = document.NewLazyDocument(map[string]any{"top_k": *req.Extra.TopK})
	}

	if !req.ToolConfig.Empty() {
		tools := make([]types.Tool, 0, len(req.ToolConfig.Tools))
		for _, t := range req.ToolConfig.Tools {
			tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(toolParameters(t))},
			}})
		}
		parts.tools = &types.ToolConfiguration{Tools: tools}
	}

	return parts, nil
}

// converseBlock returns nil for blocks that are not sent upstream.
func converseBlock(b message.Block) (types.ContentBlock, error) {
	switch b.Kind() {
	case message.KindText:
		return &types.ContentBlockMemberText{Value: *b.Text}, nil
	case message.KindImage:
		img, err := converseImage(*b.Image)
		if err != nil {
			return nil, err
		}
		return &types.ContentBlockMemberImage{Value: img}, nil
	case message.KindDocument:
		return &types.ContentBlockMemberDocument{Value: types.DocumentBlock{
			Format: types.DocumentFormat(b.Document.Format),
			Name:   aws.String(b.Document.Name),
			Source: &types.DocumentSourceMemberBytes{Value: b.Document.Bytes},
		}}, nil
	case message.KindToolUse:
		return &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
			ToolUseId: aws.String(b.ToolUse.ToolUseID),
			Name:      aws.String(b.ToolUse.Name),
			Input:     document.NewLazyDocument(inputObject(b.ToolUse.Input)),
		}}, nil
	case message.KindToolResult:
		tr := b.ToolResult
		content := make([]types.ToolResultContentBlock, 0, len(tr.Content))
		for _, c := range tr.Content {
			switch {
			case c.Text != nil:
				content = append(content, &types.ToolResultContentBlockMemberText{Value: *c.Text})
			case c.Image != nil:
				img, err := converseImage(*c.Image)
				if err != nil {
					return nil, err
				}
				content = append(content, &types.ToolResultContentBlockMemberImage{Value: img})
			}
		}
		status := types.ToolResultStatusSuccess
		if tr.Status == message.StatusError {
			status = types.ToolResultStatusError
		}
		return &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
			ToolUseId: aws.String(tr.ToolUseID),
			Content:   content,
			Status:    status,
		}}, nil
	case message.KindReasoning:
		return nil, nil
	default:
		return nil, message.ErrInvalidBlock
	}
}

func converseImage(img message.Image) (types.ImageBlock, error) {
	raw, err := img.WithBytes()
	if err != nil {
		return types.ImageBlock{}, err
	}
	return types.ImageBlock{
		Format: types.ImageFormat(raw.Format),
		Source: &types.ImageSourceMemberBytes{Value: raw.Source.Bytes},
	}, nil
}

// ConverseNormalizer maps ConverseStream events onto canonical events.
type ConverseNormalizer struct {
	finished bool
}

func NewConverseNormalizer() *ConverseNormalizer {
	return &ConverseNormalizer{}
}

func (n *ConverseNormalizer) Normalize(ev types.ConverseStreamOutput) ([]message.StreamEvent, error) {
	switch v := ev.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		return []message.StreamEvent{message.MessageStart(message.Role(v.Value.Role))}, nil

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return []message.StreamEvent{
				message.BlockStart(aws.ToString(tu.Value.ToolUseId), aws.ToString(tu.Value.Name)),
			}, nil
		}

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := v.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return []message.StreamEvent{message.TextDelta(d.Value)}, nil
		case *types.ContentBlockDeltaMemberToolUse:
			return []message.StreamEvent{message.ToolInputDelta(aws.ToString(d.Value.Input))}, nil
		case *types.ContentBlockDeltaMemberReasoningContent:
			if t, ok := d.Value.(*types.ReasoningContentBlockDeltaMemberText); ok {
				return []message.StreamEvent{message.ReasoningDelta(t.Value)}, nil
			}
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		return []message.StreamEvent{message.BlockStop()}, nil

	case *types.ConverseStreamOutputMemberMessageStop:
		n.finished = true
		return []message.StreamEvent{message.MessageStop(message.StopReason(v.Value.StopReason))}, nil

	case *types.ConverseStreamOutputMemberMetadata:
		if v.Value.Usage != nil {
			return []message.StreamEvent{message.Metadata(converseUsage(v.Value.Usage))}, nil
		}
	}

	return nil, nil
}

func (n *ConverseNormalizer) Finish() ([]message.StreamEvent, error) {
	if n.finished {
		return nil, nil
	}
	n.finished = true
	return []message.StreamEvent{message.BlockStop(), message.MessageStop(message.StopEndTurn)}, nil
}

func converseUsage(u *types.TokenUsage) message.Usage {
	return message.Usage{
		InputTokens:  int(aws.ToInt32(u.InputTokens)),
		OutputTokens: int(aws.ToInt32(u.OutputTokens)),
		TotalTokens:  int(aws.ToInt32(u.TotalTokens)),
	}
}

type converseOutputNormalizer struct{}

func (converseOutputNormalizer) Normalize(out *bedrockruntime.ConverseOutput) ([]message.StreamEvent, error) {
	return NormalizeConverseOutput(out)
}

func (converseOutputNormalizer) Finish() ([]message.StreamEvent, error) { return nil, nil }

// NormalizeConverseOutput expands a Converse response into the streaming
// event sequence.
func NormalizeConverseOutput(out *bedrockruntime.ConverseOutput) ([]message.StreamEvent, error) {
	events := []message.StreamEvent{message.MessageStart(message.RoleAssistant)}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("converse output carries no message")
	}

	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberText:
			events = append(events, message.TextDelta(b.Value), message.BlockStop())
		case *types.ContentBlockMemberReasoningContent:
			if r, ok := b.Value.(*types.ReasoningContentBlockMemberReasoningText); ok {
				events = append(events, message.ReasoningDelta(aws.ToString(r.Value.Text)), message.BlockStop())
			}
		case *types.ContentBlockMemberToolUse:
			var input any
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&input); err != nil {
					return nil, fmt.Errorf("decode tool input: %w", err)
				}
			}
			events = append(events,
				message.BlockStart(aws.ToString(b.Value.ToolUseId), aws.ToString(b.Value.Name)),
				message.ToolInputDelta(MarshalInput(input)),
				message.BlockStop(),
			)
		}
	}

	events = append(events, message.MessageStop(message.StopReason(out.StopReason)))
	if out.Usage != nil {
		events = append(events, message.Metadata(converseUsage(out.Usage)))
	}
	return events, nil
}
