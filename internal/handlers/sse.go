package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

const (
	thinkingOpen   = "<thinking>"
	thinkingClose  = "</thinking>"
	toolInputOpen  = "<tool_input>"
	toolInputClose = "</tool_input>"

	finishError         = "error"
	finishStopRequested = "stop_requested"
)

type chunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type chunkChoice struct {
	Index         int            `json:"index"`
	Delta         chunkDelta     `json:"delta"`
	FinishReason  *string        `json:"finish_reason"`
	MessageExtras *messageExtras `json:"message_extras,omitempty"`
}

type chunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type messageExtras struct {
	ToolUse string `json:"tool_use"`
}

// chunkWriter renders canonical events as chat.completion.chunk SSE frames.
// Reasoning is wrapped in <thinking> tags and tool input in <tool_input>
// tags so plain chat clients can show them inline.
type chunkWriter struct {
	w     io.Writer
	flush func()
	model string
	now   func() time.Time

	thinking  bool
	toolInput bool
	done      bool
}

func newChunkWriter(w http.ResponseWriter, model string) *chunkWriter {
	return &chunkWriter{
		w:     w,
		flush: func() { flushResponse(w) },
		model: model,
		now:   time.Now,
	}
}

// WriteEvent writes the frame for ev and reports whether the stream is over.
func (c *chunkWriter) WriteEvent(ev message.StreamEvent) (bool, error) {
	if ev.Type == message.EventStopped {
		reason := finishStopRequested
		if err := c.writeChunk("stop", chunkChoice{FinishReason: &reason}); err != nil {
			return false, err
		}
		return true, c.Done()
	}

	choice := chunkChoice{}

	switch ev.Type {
	case message.EventMessageStart:
		choice.Delta.Role = string(message.RoleAssistant)

	case message.EventBlockDelta:
		if ev.Delta == nil {
			break
		}
		switch ev.Delta.Kind {
		case message.DeltaText:
			text := ev.Delta.Value
			if c.thinking {
				c.thinking = false
				text = thinkingClose + text
			}
			choice.Delta.Content = text
		case message.DeltaToolInput:
			text := ev.Delta.Value
			if !c.toolInput {
				c.toolInput = true
				text = toolInputOpen + text
			}
			choice.Delta.Content = text
		case message.DeltaReasoning:
			text := ev.Delta.Value
			if !c.thinking {
				c.thinking = true
				text = thinkingOpen + text
			}
			choice.Delta.Content = text
		}

	case message.EventBlockStop:
		if c.toolInput {
			c.toolInput = false
			choice.Delta.Content = toolInputClose
		}

	case message.EventMessageStop:
		reason := string(ev.StopReason)
		choice.FinishReason = &reason
		if len(ev.ToolResults) > 0 {
			payload, err := toolResultsJSON(ev.ToolResults)
			if err != nil {
				return false, err
			}
			choice.MessageExtras = &messageExtras{ToolUse: payload}
		}

	case message.EventError:
		reason := finishError
		choice.FinishReason = &reason
		choice.Delta.Content = "Error: " + ev.Error
	}

	if err := c.writeChunk("chat", choice); err != nil {
		return false, err
	}

	switch {
	case ev.Type == message.EventMessageStop && ev.StopReason == message.StopEndTurn:
		return true, c.Done()
	case ev.Type == message.EventError:
		return true, c.Done()
	}
	return false, nil
}

// Done writes the terminating [DONE] frame once.
func (c *chunkWriter) Done() error {
	if c.done {
		return nil
	}
	c.done = true
	if _, err := io.WriteString(c.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	c.flush()
	return nil
}

func (c *chunkWriter) writeChunk(prefix string, choice chunkChoice) error {
	now := c.now()
	data, err := json.Marshal(chunk{
		ID:      fmt.Sprintf("%s%d", prefix, now.UnixNano()),
		Object:  "chat.completion.chunk",
		Created: now.Unix(),
		Model:   c.model,
		Choices: []chunkChoice{choice},
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.w, "data: %s\n\n", data); err != nil {
		return err
	}
	c.flush()
	return nil
}

// toolResultsJSON flattens the pairs into [toolUse, toolResult, ...].
func toolResultsJSON(results []message.ToolCallResult) (string, error) {
	flat := make([]any, 0, 2*len(results))
	for _, r := range results {
		flat = append(flat, r.ToolUse, r.ToolResult)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(flat); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
