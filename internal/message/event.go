package message

type EventType string

const (
	EventMessageStart EventType = "message_start"
	EventBlockStart   EventType = "block_start"
	EventBlockDelta   EventType = "block_delta"
	EventBlockStop    EventType = "block_stop"
	EventMessageStop  EventType = "message_stop"
	EventMetadata     EventType = "metadata"
	EventError        EventType = "error"
	EventStopped      EventType = "stopped"
)

type StopReason string

const (
	StopEndTurn       StopReason = "end_turn"
	StopToolUse       StopReason = "tool_use"
	StopMaxTokens     StopReason = "max_tokens"
	StopStopRequested StopReason = "stop_requested"
)

type DeltaKind string

const (
	DeltaText      DeltaKind = "text"
	DeltaReasoning DeltaKind = "reasoningContent"
	DeltaToolInput DeltaKind = "toolUse"
)

// StreamEvent is one item of the canonical event sequence. Only the fields
// belonging to Type are populated.
type StreamEvent struct {
	Type EventType `json:"type"`

	Role        Role             `json:"role,omitempty"`
	ToolStart   *ToolStart       `json:"toolUse,omitempty"`
	Delta       *Delta           `json:"delta,omitempty"`
	StopReason  StopReason       `json:"stopReason,omitempty"`
	ToolResults []ToolCallResult `json:"tool_results,omitempty"`
	Usage       *Usage           `json:"usage,omitempty"`
	Error       string           `json:"error,omitempty"`
	Message     string           `json:"message,omitempty"`
}

type ToolStart struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
}

type Delta struct {
	Kind  DeltaKind `json:"kind"`
	Value string    `json:"value"`
}

type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// ToolCallResult pairs an executed call with its JSON-safe result.
type ToolCallResult struct {
	ToolUse    ToolUse    `json:"toolUse"`
	ToolResult ToolResult `json:"toolResult"`
}

func MessageStart(role Role) StreamEvent {
	return StreamEvent{Type: EventMessageStart, Role: role}
}

func BlockStart(id, name string) StreamEvent {
	return StreamEvent{Type: EventBlockStart, ToolStart: &ToolStart{ToolUseID: id, Name: name}}
}

func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventBlockDelta, Delta: &Delta{Kind: DeltaText, Value: text}}
}

func ReasoningDelta(text string) StreamEvent {
	return StreamEvent{Type: EventBlockDelta, Delta: &Delta{Kind: DeltaReasoning, Value: text}}
}

func ToolInputDelta(fragment string) StreamEvent {
	return StreamEvent{Type: EventBlockDelta, Delta: &Delta{Kind: DeltaToolInput, Value: fragment}}
}

func BlockStop() StreamEvent {
	return StreamEvent{Type: EventBlockStop}
}

func MessageStop(reason StopReason) StreamEvent {
	return StreamEvent{Type: EventMessageStop, StopReason: reason}
}

func Metadata(u Usage) StreamEvent {
	return StreamEvent{Type: EventMetadata, Usage: &u}
}

func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Error: err.Error()}
}

func Stopped(msg string) StreamEvent {
	return StreamEvent{Type: EventStopped, Message: msg}
}
