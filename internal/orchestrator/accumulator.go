package orchestrator

import (
	"log/slog"
	"strings"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
)

// Accumulator rebuilds the assistant turn from the canonical event stream:
// its text, its reasoning, and the ordered tool calls with their inputs.
type Accumulator struct {
	logger *slog.Logger

	toolUses []message.ToolUse
	input    strings.Builder
	open     bool

	text      strings.Builder
	reasoning strings.Builder
}

func NewAccumulator(logger *slog.Logger) *Accumulator {
	return &Accumulator{logger: logger}
}

func (a *Accumulator) Observe(ev message.StreamEvent) {
	switch ev.Type {
	case message.EventBlockStart:
		if ev.ToolStart == nil {
			return
		}
		if a.open {
			a.closeToolUse()
		}
		a.toolUses = append(a.toolUses, message.ToolUse{
			ToolUseID: ev.ToolStart.ToolUseID,
			Name:      ev.ToolStart.Name,
			Input:     "",
		})
		a.input.Reset()
		a.open = true

	case message.EventBlockDelta:
		if ev.Delta == nil {
			return
		}
		switch ev.Delta.Kind {
		case message.DeltaText:
			a.text.WriteString(ev.Delta.Value)
		case message.DeltaReasoning:
			a.reasoning.WriteString(ev.Delta.Value)
		case message.DeltaToolInput:
			// Fragments belong to the most recently started tool use.
			if len(a.toolUses) == 0 {
				a.logger.Warn("Tool input without a started tool use", "fragment", ev.Delta.Value)
				return
			}
			a.input.WriteString(ev.Delta.Value)
		}

	case message.EventBlockStop:
		if a.open {
			a.closeToolUse()
		}
	}
}

func (a *Accumulator) closeToolUse() {
	a.open = false
	last := &a.toolUses[len(a.toolUses)-1]
	raw := a.input.String()
	a.input.Reset()

	input, err := providers.ParseInput(raw)
	if err != nil {
		a.logger.Error("Failed to parse tool input as JSON", "tool", last.Name, "input", raw, "error", err)
		last.Input = raw
		return
	}
	last.Input = input
}

// Finalize returns the calls in the order they were started. A call still
// open is closed first.
func (a *Accumulator) Finalize() []message.ToolUse {
	if a.open {
		a.closeToolUse()
	}
	out := make([]message.ToolUse, len(a.toolUses))
	copy(out, a.toolUses)
	return out
}

func (a *Accumulator) Text() string      { return a.text.String() }
func (a *Accumulator) Reasoning() string { return a.reasoning.String() }
