// Package orchestrator drives the bounded model/tool loop behind one chat
// request.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/cancellation"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
)

const (
	DefaultMaxTurns = 30

	stoppedMessage = "Stream stopped by user request"
	streamBuffer   = 16
)

type Config struct {
	MaxTurns         int
	MaxParallelTools int
}

type Orchestrator struct {
	cancel           *cancellation.Registry
	maxTurns         int
	maxParallelTools int
	logger           *slog.Logger
}

func New(cfg Config, cancel *cancellation.Registry, logger *slog.Logger) *Orchestrator {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	if cancel == nil {
		cancel = cancellation.NewRegistry()
	}
	return &Orchestrator{
		cancel:           cancel,
		maxTurns:         cfg.MaxTurns,
		maxParallelTools: cfg.MaxParallelTools,
		logger:           logger,
	}
}

// RunRequest is everything one chat request needs. Provider is already
// resolved from the model name; Model is the upstream's own model ID.
type RunRequest struct {
	Provider    providers.Provider
	Model       string
	MaxTokens   int
	Temperature float32
	Messages    []message.Message
	System      []message.Block
	ToolConfig  *message.ToolConfig
	Tools       ToolLookup
	Extra       providers.ExtraParams
	Stream      bool

	// MaxTurns overrides the orchestrator default when positive.
	MaxTurns int
	// OnlyNMostRecentImages nil keeps 3 images; 0 disables retention.
	OnlyNMostRecentImages *int
	MinRemovalThreshold   *int

	StreamID string
	Owner    string
}

// RunResult is the conversation state after the call, whatever the exit path.
type RunResult struct {
	Messages   []message.Message
	System     []message.Block
	StopReason message.StopReason
	Turns      int
	Err        error
}

// Run executes turns until the model stops asking for tools, a stop is
// requested, an error occurs, or the turn bound is reached. Every canonical
// event is passed to emit as it is produced.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, emit func(message.StreamEvent)) RunResult {
	if req.StreamID != "" {
		o.cancel.Register(req.StreamID, req.Owner)
		defer o.cancel.Unregister(req.StreamID)
	}

	messages := make([]message.Message, len(req.Messages))
	copy(messages, req.Messages)
	result := RunResult{System: req.System}

	for _, m := range messages {
		if err := m.Validate(); err != nil {
			emit(message.ErrorEvent(err))
			result.Err = err
			result.Messages = messages
			return result
		}
	}

	keep, threshold := o.retention(req)
	maxTurns := o.maxTurns
	if req.MaxTurns > 0 {
		maxTurns = req.MaxTurns
	}

	for turn := 1; turn <= maxTurns; turn++ {
		result.Turns = turn
		if o.stopRequested(req.StreamID) {
			emit(message.Stopped(stoppedMessage))
			result.StopReason = message.StopStopRequested
			result.Messages = messages
			return result
		}

		acc := NewAccumulator(o.logger)
		var (
			stop    *message.StreamEvent
			stopped bool
		)
		preq := &providers.Request{
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Messages:    messages,
			System:      req.System,
			ToolConfig:  req.ToolConfig,
			Extra:       req.Extra,
			Stream:      req.Stream,
		}

		err := req.Provider.StreamTurn(ctx, preq, func(ev message.StreamEvent) bool {
			if o.stopRequested(req.StreamID) {
				stopped = true
				return false
			}
			acc.Observe(ev)
			if ev.Type == message.EventMessageStop {
				held := ev
				stop = &held
				// Tool turns report their stop once the results are in.
				if ev.StopReason == message.StopToolUse {
					return true
				}
			}
			emit(ev)
			return true
		})

		if stopped {
			emit(message.Stopped(stoppedMessage))
			result.StopReason = message.StopStopRequested
			result.Messages = messages
			return result
		}
		if err != nil && !errors.Is(err, providers.ErrHalted) {
			o.logger.Error("Turn failed", "provider", req.Provider.Name(), "model", req.Model, "turn", turn, "error", err)
			emit(message.ErrorEvent(err))
			result.Err = err
			result.Messages = messages
			return result
		}
		if stop == nil {
			o.logger.Warn("Upstream ended without a stop reason", "provider", req.Provider.Name(), "turn", turn)
			result.StopReason = message.StopEndTurn
			messages = appendFinalText(messages, acc)
			result.Messages = messages
			return result
		}

		result.StopReason = stop.StopReason
		calls := acc.Finalize()
		if stop.StopReason != message.StopToolUse || len(calls) == 0 {
			if stop.StopReason == message.StopToolUse {
				emit(*stop)
			}
			messages = appendFinalText(messages, acc)
			result.Messages = messages
			return result
		}

		outcomes := o.executeTools(ctx, req.Tools, calls)

		ev := *stop
		ev.ToolResults = make([]message.ToolCallResult, len(outcomes))
		for i, out := range outcomes {
			ev.ToolResults[i] = message.ToolCallResult{ToolUse: out.call, ToolResult: out.serializable}
		}
		emit(ev)

		messages = append(messages, assistantMessage(acc.Text(), calls), toolResultMessage(outcomes, req.Provider.SupportsImages()))
		messages = ApplyImageRetention(messages, keep, threshold)

		o.logger.Debug("Turn completed", "turn", turn, "tool_calls", len(calls))
	}

	o.logger.Warn("Turn limit reached", "max_turns", maxTurns, "provider", req.Provider.Name())
	result.Messages = messages
	return result
}

// Stream is a running call whose events are read from Events. Result is
// available once Events is closed.
type Stream struct {
	events chan message.StreamEvent
	done   chan struct{}
	result RunResult
}

func (s *Stream) Events() <-chan message.StreamEvent { return s.events }

func (s *Stream) Result() RunResult {
	<-s.done
	return s.result
}

// RunStream runs the call on its own goroutine. The caller must drain
// Events or cancel ctx.
func (o *Orchestrator) RunStream(ctx context.Context, req RunRequest) *Stream {
	s := &Stream{
		events: make(chan message.StreamEvent, streamBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		s.result = o.Run(ctx, req, func(ev message.StreamEvent) {
			select {
			case s.events <- ev:
			case <-ctx.Done():
			}
		})
	}()
	return s
}

// Completion is the non-streaming view of a call: the final turn's message
// plus what happened on the way there.
type Completion struct {
	Message     message.Message
	StopReason  message.StopReason
	ToolResults []message.ToolCallResult
	Usage       message.Usage
	Result      RunResult
}

func (c *Completion) addUsage(u *message.Usage) {
	if u == nil {
		return
	}
	c.Usage.InputTokens += u.InputTokens
	c.Usage.OutputTokens += u.OutputTokens
	c.Usage.TotalTokens += u.TotalTokens
}

// Complete runs the call and keeps only the final turn's text and
// reasoning. Tool turns are reported through ToolResults.
func (o *Orchestrator) Complete(ctx context.Context, req RunRequest) (*Completion, error) {
	var (
		out       Completion
		text      strings.Builder
		reasoning strings.Builder
		failure   string
	)

	result := o.Run(ctx, req, func(ev message.StreamEvent) {
		switch ev.Type {
		case message.EventBlockDelta:
			if ev.Delta == nil {
				return
			}
			switch ev.Delta.Kind {
			case message.DeltaText:
				text.WriteString(ev.Delta.Value)
			case message.DeltaReasoning:
				reasoning.WriteString(ev.Delta.Value)
			}
		case message.EventMessageStop:
			out.StopReason = ev.StopReason
			out.ToolResults = append(out.ToolResults, ev.ToolResults...)
			// Only the final turn's text is returned. Some upstreams repeat
			// the role on every chunk, so message_start is no boundary.
			if ev.StopReason == message.StopToolUse && len(ev.ToolResults) > 0 {
				text.Reset()
				reasoning.Reset()
			}
		case message.EventMetadata:
			out.addUsage(ev.Usage)
		case message.EventError:
			failure = ev.Error
		case message.EventStopped:
			out.StopReason = message.StopStopRequested
		}
	})
	out.Result = result

	if result.Err != nil {
		return &out, result.Err
	}
	if failure != "" {
		return &out, errors.New(failure)
	}

	out.Message = message.Message{Role: message.RoleAssistant}
	if reasoning.Len() > 0 {
		out.Message.Content = append(out.Message.Content, message.ReasoningBlock(reasoning.String()))
	}
	out.Message.Content = append(out.Message.Content, message.TextBlock(text.String()))
	return &out, nil
}

func (o *Orchestrator) stopRequested(streamID string) bool {
	return streamID != "" && o.cancel.StopRequested(streamID)
}

func (o *Orchestrator) retention(req RunRequest) (keep, threshold int) {
	keep = DefaultRecentImages
	if req.OnlyNMostRecentImages != nil {
		keep = *req.OnlyNMostRecentImages
	}
	threshold = keep
	if req.MinRemovalThreshold != nil {
		threshold = *req.MinRemovalThreshold
	}
	return keep, threshold
}

func assistantMessage(text string, calls []message.ToolUse) message.Message {
	m := message.Message{Role: message.RoleAssistant}
	if t := strings.TrimSpace(text); t != "" {
		m.Content = append(m.Content, message.TextBlock(t))
	}
	for _, call := range calls {
		if s, ok := call.Input.(string); ok && strings.TrimSpace(s) == "" {
			call.Input = map[string]any{}
		}
		m.Content = append(m.Content, message.ToolUseBlock(call))
	}
	return m
}

func toolResultMessage(outcomes []toolOutcome, images bool) message.Message {
	m := message.Message{Role: message.RoleUser}
	for _, out := range outcomes {
		if images {
			m.Content = append(m.Content, message.ToolResultBlock(out.exec))
		} else {
			m.Content = append(m.Content, message.ToolResultBlock(out.text))
		}
	}
	return m
}

// appendFinalText records the closing assistant reply so a persisted
// session can continue from it.
func appendFinalText(messages []message.Message, acc *Accumulator) []message.Message {
	text := strings.TrimSpace(acc.Text())
	if text == "" {
		return messages
	}
	return append(messages, message.Message{
		Role:    message.RoleAssistant,
		Content: []message.Block{message.TextBlock(text)},
	})
}
