package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

const DefaultMaxParallelTools = 8

// ToolLookup finds the provider serving a tool provider ID.
type ToolLookup interface {
	Get(id string) (tools.Provider, bool)
}

// toolOutcome holds one executed call in the three shapes it is needed in:
// with raw image bytes for the next upstream request, with base64 images for
// the client, and as plain text for upstreams that cannot take images.
type toolOutcome struct {
	call         message.ToolUse
	exec         message.ToolResult
	serializable message.ToolResult
	text         message.ToolResult
}

// executeTools runs every call concurrently, bounded by limit. Results are
// returned in call order whatever the completion order. A failing call
// becomes an error result and never fails the batch.
func (o *Orchestrator) executeTools(ctx context.Context, lookup ToolLookup, calls []message.ToolUse) []toolOutcome {
	outcomes := make([]toolOutcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = o.executeTool(gctx, lookup, call)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (o *Orchestrator) executeTool(ctx context.Context, lookup ToolLookup, call message.ToolUse) toolOutcome {
	providerID, local, ok := tools.SplitName(call.Name)
	if !ok {
		return failedOutcome(call, call.Name, fmt.Errorf("malformed tool name %q", call.Name))
	}

	var provider tools.Provider
	if lookup != nil {
		provider, ok = lookup.Get(providerID)
	}
	if provider == nil || !ok {
		return failedOutcome(call, local, fmt.Errorf("%w: %s", tools.ErrUnknownProvider, providerID))
	}

	args, ok := call.Input.(map[string]any)
	if !ok {
		return failedOutcome(call, local, fmt.Errorf("tool input is not a JSON object: %v", call.Input))
	}

	o.logger.Debug("Calling tool", "provider", providerID, "tool", local, "tool_use_id", call.ToolUseID)
	res, err := provider.CallTool(ctx, local, args)
	if err != nil {
		o.logger.Error("Tool call failed", "provider", providerID, "tool", local, "error", err)
		return failedOutcome(call, local, err)
	}

	return successOutcome(call, res)
}

func successOutcome(call message.ToolUse, res *tools.Result) toolOutcome {
	status := message.StatusSuccess
	if res.IsError {
		status = message.StatusError
	}

	out := toolOutcome{
		call:         call,
		exec:         message.ToolResult{ToolUseID: call.ToolUseID, Status: status},
		serializable: message.ToolResult{ToolUseID: call.ToolUseID, Status: status},
		text:         message.ToolResult{ToolUseID: call.ToolUseID, Status: status},
	}

	var texts []string
	for _, c := range res.Content {
		switch c.Type {
		case tools.ContentText:
			texts = append(texts, c.Text)
			out.exec.Content = append(out.exec.Content, message.TextContent(c.Text))
			out.serializable.Content = append(out.serializable.Content, message.TextContent(c.Text))
		case tools.ContentImage:
			img := message.Image{
				Format: message.MIMEFormat(c.MIMEType),
				Source: message.ImageSource{Bytes: c.Data},
			}
			out.exec.Content = append(out.exec.Content, message.ImageContent(img))
			out.serializable.Content = append(out.serializable.Content, message.ImageContent(img.WithBase64()))
		}
	}
	out.text.Content = []message.ToolResultContent{message.TextContent(strings.Join(texts, "\n"))}

	return out
}

func failedOutcome(call message.ToolUse, local string, err error) toolOutcome {
	text := fmt.Sprintf("%s tool call is failed. error:%v", local, err)
	result := func() message.ToolResult {
		return message.ToolResult{
			ToolUseID: call.ToolUseID,
			Content:   []message.ToolResultContent{message.TextContent(text)},
			Status:    message.StatusError,
		}
	}
	return toolOutcome{call: call, exec: result(), serializable: result(), text: result()}
}
