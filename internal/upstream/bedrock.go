package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
)

type BedrockConfig struct {
	Region string
	// Endpoint overrides the regional runtime endpoint when set.
	Endpoint string
	Retry    RetryConfig
}

// BedrockClient serves the converse protocol provider.
type BedrockClient struct {
	client *bedrockruntime.Client
	retry  RetryConfig
	logger *slog.Logger
}

func NewBedrockClient(ctx context.Context, cfg BedrockConfig, logger *slog.Logger) (*BedrockClient, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &BedrockClient{client: client, retry: cfg.Retry, logger: logger}, nil
}

func (c *BedrockClient) Converse(ctx context.Context, in *bedrockruntime.ConverseInput) (*bedrockruntime.ConverseOutput, error) {
	return retry(ctx, c.retry, c.logger, retryableBedrock, func() (*bedrockruntime.ConverseOutput, error) {
		return c.client.Converse(ctx, in)
	})
}

func (c *BedrockClient) ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (providers.ChunkStream[types.ConverseStreamOutput], error) {
	out, err := retry(ctx, c.retry, c.logger, retryableBedrock, func() (*bedrockruntime.ConverseStreamOutput, error) {
		return c.client.ConverseStream(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	return newEventStream(out.GetStream()), nil
}

// eventReader is the part of the SDK event stream the adapter reads.
type eventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// eventStream turns the SDK's channel of union members into Recv calls.
type eventStream struct {
	reader eventReader
}

func newEventStream(r eventReader) *eventStream {
	return &eventStream{reader: r}
}

func (s *eventStream) Recv() (types.ConverseStreamOutput, error) {
	ev, ok := <-s.reader.Events()
	if !ok {
		if err := s.reader.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return ev, nil
}

func (s *eventStream) Close() error {
	return s.reader.Close()
}

func retryableBedrock(err error) bool {
	var (
		throttled   *types.ThrottlingException
		unavailable *types.ServiceUnavailableException
		internal    *types.InternalServerException
	)
	return errors.As(err, &throttled) || errors.As(err, &unavailable) || errors.As(err, &internal)
}
