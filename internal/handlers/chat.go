package handlers

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/pkoukk/tiktoken-go"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/orchestrator"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/session"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

const (
	// UserHeader names the caller for session history and stream ownership.
	UserHeader  = "X-User-ID"
	defaultUser = "default"

	StreamIDHeader = "X-Stream-ID"
)

// Runner is the part of the orchestrator the chat endpoint drives.
type Runner interface {
	RunStream(ctx context.Context, req orchestrator.RunRequest) *orchestrator.Stream
	Complete(ctx context.Context, req orchestrator.RunRequest) (*orchestrator.Completion, error)
}

type ChatHandler struct {
	config   *config.Manager
	registry *providers.Registry
	tools    *tools.Catalog
	runner   Runner
	sessions *session.Store
	logger   *slog.Logger

	countTokens func(string) int
}

func NewChatHandler(config *config.Manager, registry *providers.Registry, catalog *tools.Catalog, runner Runner, sessions *session.Store, logger *slog.Logger) *ChatHandler {
	h := &ChatHandler{
		config:   config,
		registry: registry,
		tools:    catalog,
		runner:   runner,
		sessions: sessions,
		logger:   logger,
	}
	h.countTokens = h.countInputTokens
	return h
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		httpError(h.logger, w, http.StatusBadRequest, "failed to read request body: %v", err)
		return
	}

	var req ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpError(h.logger, w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	if len(req.Messages) == 0 {
		writeJSON(h.logger, w, http.StatusOK, emptyCompletion(req.Model))
		return
	}

	user := userID(r)
	inputTokens := h.countTokens(string(body))

	runReq, err := h.buildRunRequest(r.Context(), &req, user)
	if err != nil {
		httpError(h.logger, w, http.StatusBadRequest, "%v", err)
		return
	}

	h.logger.Info("Chat request",
		"user", user,
		"provider", runReq.Provider.Name(),
		"model", runReq.Model,
		"stream", req.Stream,
		"mcp_servers", req.MCPServerIDs,
		"input_tokens", inputTokens,
	)

	if req.Stream {
		h.serveStream(w, r, &req, runReq, user)
		return
	}
	h.serveCompletion(w, r, &req, runReq, user)
}

func (h *ChatHandler) buildRunRequest(ctx context.Context, req *ChatCompletionRequest, user string) (orchestrator.RunRequest, error) {
	cfg := h.config.Get()

	provider, model, err := h.registry.ForModel(req.Model)
	if err != nil {
		return orchestrator.RunRequest{}, err
	}

	messages, system, err := convertMessages(req.Messages, h.logger)
	if err != nil {
		return orchestrator.RunRequest{}, err
	}

	if req.KeepSession {
		if prev, ok := h.sessions.Get(user); ok {
			messages = append(prev.Messages, messages...)
			if len(system) == 0 {
				system = prev.System
			}
		}
	} else {
		h.sessions.Delete(user)
	}

	view := h.tools.View(user)
	toolConfig, err := view.ToolConfig(ctx, req.MCPServerIDs)
	if err != nil {
		return orchestrator.RunRequest{}, err
	}
	if toolConfig.Empty() {
		toolConfig = nil
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := float32(defaultTemperature)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	images := cfg.OnlyNMostRecentImages
	if req.ExtraParams.OnlyNMostRecentImages != nil {
		images = req.ExtraParams.OnlyNMostRecentImages
	}

	return orchestrator.RunRequest{
		Provider:              provider,
		Model:                 model,
		MaxTokens:             maxTokens,
		Temperature:           temperature,
		Messages:              messages,
		System:                system,
		ToolConfig:            toolConfig,
		Tools:                 view,
		Extra:                 providers.ExtraParams{TopP: req.TopP, TopK: req.TopK},
		Stream:                cfg.UpstreamStreaming(provider.Name()),
		OnlyNMostRecentImages: images,
		MinRemovalThreshold:   req.ExtraParams.MinRemovalThreshold,
		Owner:                 user,
	}, nil
}

func (h *ChatHandler) serveStream(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, runReq orchestrator.RunRequest, user string) {
	runReq.StreamID = fmt.Sprintf("stream_%s_%d", user, time.Now().UnixNano())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set(StreamIDHeader, runReq.StreamID)
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream := h.runner.RunStream(ctx, runReq)
	cw := newChunkWriter(w, req.Model)
	finished := false
	for ev := range stream.Events() {
		// Events after the terminating frame are drained, not written.
		if finished {
			continue
		}
		var err error
		finished, err = cw.WriteEvent(ev)
		if err != nil {
			h.logger.Warn("Client went away", "stream_id", runReq.StreamID, "error", err)
			finished = true
			cancel()
		}
	}
	if err := cw.Done(); err != nil {
		h.logger.Debug("Failed to write stream terminator", "stream_id", runReq.StreamID, "error", err)
	}

	h.saveSession(req, user, stream.Result())
}

func (h *ChatHandler) serveCompletion(w http.ResponseWriter, r *http.Request, req *ChatCompletionRequest, runReq orchestrator.RunRequest, user string) {
	completion, err := h.runner.Complete(r.Context(), runReq)
	if err != nil {
		httpError(h.logger, w, http.StatusInternalServerError, "%v", err)
		return
	}
	h.saveSession(req, user, completion.Result)

	writeJSON(h.logger, w, http.StatusOK, completionResponse(req.Model, completion))
}

func (h *ChatHandler) saveSession(req *ChatCompletionRequest, user string, result orchestrator.RunResult) {
	if !req.KeepSession || result.Err != nil {
		return
	}
	h.sessions.Put(user, result.Messages, result.System)
}

type chatCompletion struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   completionUsage    `json:"usage"`
}

type completionChoice struct {
	Index         int               `json:"index"`
	Message       completionMessage `json:"message"`
	MessageExtras *completionExtras `json:"message_extras,omitempty"`
	Logprobs      *struct{}         `json:"logprobs"`
	FinishReason  string            `json:"finish_reason"`
}

type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionExtras struct {
	ToolUse []toolUseInfo `json:"tool_use"`
}

type toolUseInfo struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
	Result    string `json:"result"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func emptyCompletion(model string) chatCompletion {
	now := time.Now()
	return chatCompletion{
		ID:      fmt.Sprintf("chat%d", now.UnixNano()),
		Object:  "chat.completion",
		Created: now.Unix(),
		Model:   model,
		Choices: []completionChoice{{
			Message:      completionMessage{Role: string(message.RoleAssistant)},
			FinishReason: "load",
		}},
	}
}

func completionResponse(model string, c *orchestrator.Completion) chatCompletion {
	var content strings.Builder
	for _, b := range c.Message.Content {
		switch {
		case b.ReasoningContent != nil:
			content.WriteString(thinkingOpen + b.ReasoningContent.Text + thinkingClose)
		case b.Text != nil:
			content.WriteString(*b.Text)
		}
	}

	infos := make([]toolUseInfo, 0, len(c.ToolResults))
	for _, tr := range c.ToolResults {
		info := toolUseInfo{Name: tr.ToolUse.Name, Arguments: tr.ToolUse.Input}
		for _, rc := range tr.ToolResult.Content {
			if rc.Text != nil {
				info.Result = *rc.Text
				break
			}
		}
		infos = append(infos, info)
	}

	out := emptyCompletion(model)
	out.Choices[0] = completionChoice{
		Message:       completionMessage{Role: string(message.RoleAssistant), Content: content.String()},
		MessageExtras: &completionExtras{ToolUse: infos},
		FinishReason:  "stop",
	}
	out.Usage = completionUsage{
		PromptTokens:     c.Usage.InputTokens,
		CompletionTokens: c.Usage.OutputTokens,
		TotalTokens:      c.Usage.TotalTokens,
	}
	return out
}

func userID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
		return id
	}
	return defaultUser
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
	encodingErr  error
)

func (h *ChatHandler) countInputTokens(text string) int {
	encodingOnce.Do(func() {
		encoding, encodingErr = tiktoken.GetEncoding("cl100k_base")
	})
	if encodingErr != nil {
		h.logger.Debug("Token counting unavailable", "error", encodingErr)
		return 0
	}
	return len(encoding.Encode(text, nil, nil))
}

// readBody reads the request body, undoing gzip or brotli transfer
// compression.
func readBody(r *http.Request) ([]byte, error) {
	var reader io.Reader = r.Body

	switch strings.ToLower(r.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(r.Body)
	case "", "identity":
	default:
		return nil, errors.New("unsupported content encoding")
	}

	return io.ReadAll(reader)
}

func flushResponse(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func httpError(logger *slog.Logger, w http.ResponseWriter, code int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("HTTP Error", "code", code, "message", msg)
	http.Error(w, msg, code)
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to write response", "error", err)
	}
}
