// Package message defines the canonical conversation model every upstream
// protocol is translated to and from.
package message

import (
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// BlockKind names the variant a Block carries.
type BlockKind string

const (
	KindText       BlockKind = "text"
	KindImage      BlockKind = "image"
	KindDocument   BlockKind = "document"
	KindToolUse    BlockKind = "toolUse"
	KindToolResult BlockKind = "toolResult"
	KindReasoning  BlockKind = "reasoningContent"
)

type ToolResultStatus string

const (
	StatusSuccess ToolResultStatus = "success"
	StatusError   ToolResultStatus = "error"
)

var (
	ErrEmptyContent      = errors.New("message content is empty")
	ErrEmptyToolName     = errors.New("tool use name is empty")
	ErrInvalidBlock      = errors.New("block must carry exactly one variant")
	ErrInvalidImage      = errors.New("image must carry exactly one of bytes or base64")
	ErrDuplicateToolSpec = errors.New("duplicate tool name")
)

type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Block is a tagged variant: exactly one field is non-nil.
type Block struct {
	Text             *string     `json:"text,omitempty"`
	Image            *Image      `json:"image,omitempty"`
	Document         *Document   `json:"document,omitempty"`
	ToolUse          *ToolUse    `json:"toolUse,omitempty"`
	ToolResult       *ToolResult `json:"toolResult,omitempty"`
	ReasoningContent *Reasoning  `json:"reasoningContent,omitempty"`
}

type Image struct {
	Format string      `json:"format"`
	Source ImageSource `json:"source"`
}

type ImageSource struct {
	Bytes  []byte `json:"bytes,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

type Document struct {
	Format string `json:"format"`
	Name   string `json:"name"`
	Bytes  []byte `json:"bytes"`
}

type ToolUse struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
	// Input is a decoded JSON object, or the raw string when the model
	// produced arguments that do not parse.
	Input any `json:"input"`
}

type ToolResult struct {
	ToolUseID string              `json:"toolUseId"`
	Content   []ToolResultContent `json:"content"`
	Status    ToolResultStatus    `json:"status"`
}

type ToolResultContent struct {
	Text  *string `json:"text,omitempty"`
	Image *Image  `json:"image,omitempty"`
}

type Reasoning struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

func TextBlock(text string) Block {
	return Block{Text: &text}
}

func ImageBlock(img Image) Block {
	return Block{Image: &img}
}

func DocumentBlock(doc Document) Block {
	return Block{Document: &doc}
}

func ToolUseBlock(tu ToolUse) Block {
	return Block{ToolUse: &tu}
}

func ToolResultBlock(tr ToolResult) Block {
	return Block{ToolResult: &tr}
}

func ReasoningBlock(text string) Block {
	return Block{ReasoningContent: &Reasoning{Text: text}}
}

func TextContent(text string) ToolResultContent {
	return ToolResultContent{Text: &text}
}

func ImageContent(img Image) ToolResultContent {
	return ToolResultContent{Image: &img}
}

// Kind reports the populated variant, or "" when none or several are set.
func (b Block) Kind() BlockKind {
	var kind BlockKind
	n := 0
	if b.Text != nil {
		kind, n = KindText, n+1
	}
	if b.Image != nil {
		kind, n = KindImage, n+1
	}
	if b.Document != nil {
		kind, n = KindDocument, n+1
	}
	if b.ToolUse != nil {
		kind, n = KindToolUse, n+1
	}
	if b.ToolResult != nil {
		kind, n = KindToolResult, n+1
	}
	if b.ReasoningContent != nil {
		kind, n = KindReasoning, n+1
	}
	if n != 1 {
		return ""
	}
	return kind
}

func (b Block) Validate() error {
	switch b.Kind() {
	case "":
		return ErrInvalidBlock
	case KindImage:
		return b.Image.Validate()
	case KindToolUse:
		if b.ToolUse.Name == "" {
			return ErrEmptyToolName
		}
	case KindToolResult:
		for _, c := range b.ToolResult.Content {
			if c.Image != nil {
				if err := c.Image.Validate(); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (img Image) Validate() error {
	hasBytes := len(img.Source.Bytes) > 0
	hasBase64 := img.Source.Base64 != ""
	if hasBytes == hasBase64 {
		return ErrInvalidImage
	}
	return nil
}

// Validate rejects messages the upstream protocols cannot carry.
func (m Message) Validate() error {
	if len(m.Content) == 0 {
		return fmt.Errorf("%s message: %w", m.Role, ErrEmptyContent)
	}
	for i, b := range m.Content {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s message block %d: %w", m.Role, i, err)
		}
	}
	return nil
}

// Text concatenates the message's text blocks.
func (m Message) Text() string {
	var sb strings.Builder
	for _, b := range m.Content {
		if b.Text != nil {
			sb.WriteString(*b.Text)
		}
	}
	return sb.String()
}

// IsToolResultOnly reports whether every block is a tool result.
func (m Message) IsToolResultOnly() bool {
	if len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.ToolResult == nil {
			return false
		}
	}
	return true
}

// ToolSpec describes one tool offered to the model. Name is the qualified
// "<provider>_<local>" form.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ToolConfig struct {
	Tools []ToolSpec `json:"tools"`
}

func (tc ToolConfig) Validate() error {
	seen := make(map[string]struct{}, len(tc.Tools))
	for _, t := range tc.Tools {
		if t.Name == "" {
			return ErrEmptyToolName
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateToolSpec, t.Name)
		}
		seen[t.Name] = struct{}{}
	}
	return nil
}

// Empty reports whether there are no tools to offer.
func (tc *ToolConfig) Empty() bool {
	return tc == nil || len(tc.Tools) == 0
}
