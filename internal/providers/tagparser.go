package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	tagOpen  = "<t>"
	tagClose = "</t>"
)

var (
	ErrMultipleToolCalls = errors.New("tool tag carries more than one tool call")
	ErrMalformedToolTag  = errors.New("malformed tool tag payload")
)

type tagState int

const (
	tagScanning tagState = iota
	tagCandidate
	tagInside
	tagDone
)

func (s tagState) String() string {
	switch s {
	case tagScanning:
		return "scanning"
	case tagCandidate:
		return "buffering-candidate"
	case tagInside:
		return "inside-tag"
	case tagDone:
		return "done"
	}
	return "unknown"
}

// TagCall is one entry of the "tool_calls" list inside <t>..</t>.
type TagCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

type TagPayload struct {
	ToolCalls    []TagCall `json:"tool_calls"`
	TaskComplete any       `json:"task_complete,omitempty"`
}

// TagParser finds a single <t>{json}</t> frame in streamed text. The
// opening tag may be split across any number of fragments. Text outside
// the frame is returned as soon as it cannot be part of the tag; anything
// after the closing tag is dropped.
type TagParser struct {
	state   tagState
	pending strings.Builder
	body    strings.Builder
}

// Feed consumes one content fragment. payload is non-nil exactly once, when
// the closing tag is seen.
func (p *TagParser) Feed(fragment string) (text string, payload *TagPayload, err error) {
	var out strings.Builder

	for i := 0; i < len(fragment); i++ {
		c := fragment[i]

		switch p.state {
		case tagScanning:
			if c == '<' {
				p.state = tagCandidate
				p.pending.WriteByte(c)
				continue
			}
			out.WriteByte(c)

		case tagCandidate:
			candidate := p.pending.String() + string(c)
			switch {
			case candidate == tagOpen:
				p.pending.Reset()
				p.state = tagInside
			case strings.HasPrefix(tagOpen, candidate):
				p.pending.WriteByte(c)
			default:
				out.WriteString(p.pending.String())
				p.pending.Reset()
				p.state = tagScanning
				i-- // re-examine c while scanning
			}

		case tagInside:
			p.body.WriteByte(c)
			if c == '>' && strings.HasSuffix(p.body.String(), tagClose) {
				p.state = tagDone
				raw := strings.TrimSuffix(p.body.String(), tagClose)
				payload, err = ParseTagPayload(raw)
				return out.String(), payload, err
			}

		case tagDone:
			return out.String(), nil, nil
		}
	}

	return out.String(), nil, nil
}

// Finish returns text that was held back when the stream ended. An
// unterminated frame is released verbatim.
func (p *TagParser) Finish() string {
	switch p.state {
	case tagCandidate:
		s := p.pending.String()
		p.pending.Reset()
		p.state = tagScanning
		return s
	case tagInside:
		s := tagOpen + p.body.String()
		p.body.Reset()
		p.state = tagDone
		return s
	}
	return ""
}

func (p *TagParser) State() string { return p.state.String() }

// ParseTagPayload decodes the JSON inside a tag frame.
func ParseTagPayload(raw string) (*TagPayload, error) {
	var payload TagPayload
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToolTag, err)
	}
	if len(payload.ToolCalls) > 1 {
		return nil, fmt.Errorf("%w: got %d", ErrMultipleToolCalls, len(payload.ToolCalls))
	}
	for i, call := range payload.ToolCalls {
		if call.ToolName == "" {
			return nil, fmt.Errorf("%w: tool call %d has no tool_name", ErrMalformedToolTag, i)
		}
		if call.Parameters == nil {
			payload.ToolCalls[i].Parameters = map[string]any{}
		}
	}
	return &payload, nil
}
