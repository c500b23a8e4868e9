package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
)

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Retry   RetryConfig
	// HTTPClient replaces the SDK default, mostly for tests.
	HTTPClient *http.Client
}

// OpenAIClient serves both the openai and the tag protocol providers.
type OpenAIClient struct {
	client *openai.Client
	retry  RetryConfig
	logger *slog.Logger
}

func NewOpenAIClient(cfg OpenAIConfig, logger *slog.Logger) *OpenAIClient {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		retry:  cfg.Retry,
		logger: logger,
	}
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return retry(ctx, c.retry, c.logger, retryableOpenAI, func() (openai.ChatCompletionResponse, error) {
		return c.client.CreateChatCompletion(ctx, req)
	})
}

func (c *OpenAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (providers.ChunkStream[openai.ChatCompletionStreamResponse], error) {
	req.Stream = true
	stream, err := retry(ctx, c.retry, c.logger, retryableOpenAI, func() (*openai.ChatCompletionStream, error) {
		return c.client.CreateChatCompletionStream(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// retryableOpenAI accepts rate limiting and server-side failures.
func retryableOpenAI(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}
