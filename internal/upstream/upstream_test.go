package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxElapsedTime: time.Second}
}

func TestRetryableOpenAI(t *testing.T) {
	assert.True(t, retryableOpenAI(&openai.APIError{HTTPStatusCode: 429}))
	assert.True(t, retryableOpenAI(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 503})))
	assert.True(t, retryableOpenAI(&openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")}))
	assert.False(t, retryableOpenAI(&openai.APIError{HTTPStatusCode: 400}))
	assert.False(t, retryableOpenAI(errors.New("plain")))
}

func TestRetryableBedrock(t *testing.T) {
	assert.True(t, retryableBedrock(&types.ThrottlingException{}))
	assert.True(t, retryableBedrock(fmt.Errorf("x: %w", &types.ServiceUnavailableException{})))
	assert.True(t, retryableBedrock(&types.InternalServerException{}))
	assert.False(t, retryableBedrock(&types.ValidationException{}))
}

func TestRetry_StopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry(), discardLogger(), func(error) bool { return false }, func() (int, error) {
		calls++
		return 0, errors.New("bad request")
	})

	assert.EqualError(t, err, "bad request")
	assert.Equal(t, 1, calls)
}

func TestRetry_RecoversFromTransientError(t *testing.T) {
	calls := 0
	v, err := retry(context.Background(), fastRetry(), discardLogger(), func(error) bool { return true }, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("busy")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := retry(context.Background(), fastRetry(), discardLogger(), func(error) bool { return true }, func() (int, error) {
		calls++
		return 0, errors.New("busy")
	})

	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/v1/", Retry: fastRetry()}, discardLogger())
	resp, err := c.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{Model: "m"})

	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Choices[0].Message.Content)
	assert.Equal(t, int32(2), hits.Load())
}

func TestOpenAIClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"he\"}}]}\n\n"))
		_, _ = w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"llo\"},\"finish_reason\":\"stop\"}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL, Retry: fastRetry()}, discardLogger())
	stream, err := c.CreateChatCompletionStream(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	require.NoError(t, err)
	defer stream.Close()

	var text string
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text += chunk.Choices[0].Delta.Content
	}
	assert.Equal(t, "hello", text)
}

type fakeReader struct {
	events chan types.ConverseStreamOutput
	err    error
	closed bool
}

func (f *fakeReader) Events() <-chan types.ConverseStreamOutput { return f.events }
func (f *fakeReader) Close() error                             { f.closed = true; return nil }
func (f *fakeReader) Err() error                               { return f.err }

func TestEventStream(t *testing.T) {
	r := &fakeReader{events: make(chan types.ConverseStreamOutput, 2)}
	r.events <- &types.ConverseStreamOutputMemberMessageStart{Value: types.MessageStartEvent{Role: types.ConversationRoleAssistant}}
	close(r.events)

	s := newEventStream(r)
	ev, err := s.Recv()
	require.NoError(t, err)
	assert.IsType(t, &types.ConverseStreamOutputMemberMessageStart{}, ev)

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, s.Close())
	assert.True(t, r.closed)
}

func TestEventStream_SurfacesStreamError(t *testing.T) {
	r := &fakeReader{events: make(chan types.ConverseStreamOutput), err: errors.New("reset by peer")}
	close(r.events)

	_, err := newEventStream(r).Recv()
	assert.EqualError(t, err, "reset by peer")
}
