package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

const (
	defaultMaxTokens   = 4000
	defaultTemperature = 0.5
)

// ChatCompletionRequest is the OpenAI-shaped body of /v1/chat/completions
// with the gateway's own additions.
type ChatCompletionRequest struct {
	Messages     []ChatMessage `json:"messages"`
	Model        string        `json:"model"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	Temperature  *float32      `json:"temperature,omitempty"`
	TopP         *float32      `json:"top_p,omitempty"`
	TopK         *int          `json:"top_k,omitempty"`
	ExtraParams  ExtraParams   `json:"extra_params,omitempty"`
	Stream       bool          `json:"stream,omitempty"`
	KeepSession  bool          `json:"keep_session,omitempty"`
	MCPServerIDs []string      `json:"mcp_server_ids,omitempty"`
}

type ExtraParams struct {
	OnlyNMostRecentImages *int `json:"only_n_most_recent_images,omitempty"`
	MinRemovalThreshold   *int `json:"min_removal_threshold,omitempty"`
}

type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"-"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FileData `json:"file,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type FileData struct {
	FileID   string `json:"file_id,omitempty"`
	FileData string `json:"file_data,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// UnmarshalJSON accepts content as a plain string or as a list of parts.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil

	if len(raw.Content) == 0 || string(raw.Content) == "null" {
		return nil
	}
	var text string
	if err := json.Unmarshal(raw.Content, &text); err == nil {
		m.Content = []ContentPart{{Type: "text", Text: text}}
		return nil
	}
	if err := json.Unmarshal(raw.Content, &m.Content); err != nil {
		return fmt.Errorf("message content must be a string or a list of parts: %w", err)
	}
	return nil
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Role    string        `json:"role"`
		Content []ContentPart `json:"content"`
	}{m.Role, m.Content})
}

var errUnsupportedRole = errors.New("unsupported message role")

// convertMessages turns request messages into canonical ones. A leading
// system message becomes the system prompt and a leading assistant message
// is dropped. Parts that cannot be decoded are logged and skipped.
func convertMessages(in []ChatMessage, logger *slog.Logger) ([]message.Message, []message.Block, error) {
	var (
		messages []message.Message
		system   []message.Block
	)

	for i, m := range in {
		role := message.Role(strings.ToLower(m.Role))
		switch role {
		case message.RoleSystem, message.RoleUser, message.RoleAssistant:
		default:
			return nil, nil, fmt.Errorf("%w: %q", errUnsupportedRole, m.Role)
		}

		var blocks []message.Block
		for _, part := range m.Content {
			b, ok := convertPart(i, part, logger)
			if ok {
				blocks = append(blocks, b)
			}
		}

		if role == message.RoleSystem {
			if i == 0 {
				system = blocks
				continue
			}
			// Later system messages are kept as user instructions.
			role = message.RoleUser
		}
		messages = append(messages, message.Message{Role: role, Content: blocks})
	}

	if len(messages) > 0 && messages[0].Role == message.RoleAssistant {
		messages = messages[1:]
	}
	return messages, system, nil
}

func convertPart(index int, part ContentPart, logger *slog.Logger) (message.Block, bool) {
	switch part.Type {
	case "text":
		return message.TextBlock(part.Text), true

	case "image_url":
		if part.ImageURL == nil {
			return message.Block{}, false
		}
		if !strings.HasPrefix(part.ImageURL.URL, "data:image/") {
			logger.Warn("External image URLs are not supported", "url", part.ImageURL.URL)
			return message.Block{}, false
		}
		img, err := message.ParseDataURI(part.ImageURL.URL)
		if err != nil {
			logger.Error("Failed to decode image", "error", err)
			return message.Block{}, false
		}
		return message.ImageBlock(img), true

	case "file":
		if part.File == nil {
			return message.Block{}, false
		}
		if part.File.FileData == "" {
			if part.File.FileID != "" {
				logger.Warn("File ID references are not supported", "file_id", part.File.FileID)
			}
			return message.Block{}, false
		}
		data, err := base64.StdEncoding.DecodeString(part.File.FileData)
		if err != nil {
			logger.Error("Failed to decode file data", "filename", part.File.Filename, "error", err)
			return message.Block{}, false
		}
		filename := part.File.Filename
		if filename == "" {
			filename = "unnamed_file"
		}
		return message.DocumentBlock(message.Document{
			Format: message.DocumentFormatForFilename(filename),
			Name:   fmt.Sprintf("files_%d", index),
			Bytes:  data,
		}), true

	default:
		logger.Warn("Skipping unsupported content part", "type", part.Type)
		return message.Block{}, false
	}
}
