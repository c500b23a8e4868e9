package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/cancellation"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/orchestrator"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/session"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/upstream"
)

// Gateway is the set of long-lived components built from one config. The
// HTTP server and the chat command share it.
type Gateway struct {
	Providers    *providers.Registry
	Tools        *tools.Catalog
	Streams      *cancellation.Registry
	Sessions     *session.Store
	Orchestrator *orchestrator.Orchestrator
}

// Build creates upstream clients and connects MCP servers. An MCP server
// that cannot be reached is logged and left out; a bad upstream is an error.
func Build(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*Gateway, error) {
	registry := providers.NewRegistry()
	for _, u := range cfg.Upstreams {
		p, err := newProvider(ctx, u, logger)
		if err != nil {
			return nil, fmt.Errorf("upstream %s: %w", u.Name, err)
		}
		registry.Register(p, u.Models...)
		logger.Info("Registered upstream", "name", u.Name, "protocol", p.Protocol(), "models", u.Models)
	}

	toolSet := tools.NewSet(logger)
	for _, s := range cfg.MCPServers {
		p, err := tools.ConnectMCP(ctx, s.ServerConfig(), version, logger)
		if err != nil {
			logger.Warn("Skipping MCP server", "server_id", s.ID, "error", err)
			continue
		}
		if err := toolSet.Add(s.ID, p); err != nil {
			_ = p.Close()
			toolSet.Close()
			return nil, err
		}
	}

	streams := cancellation.NewRegistry()
	return &Gateway{
		Providers: registry,
		Tools:     tools.NewCatalog(toolSet, logger),
		Streams:   streams,
		Sessions:  session.NewStore(logger),
		Orchestrator: orchestrator.New(orchestrator.Config{
			MaxTurns:         cfg.MaxTurns,
			MaxParallelTools: cfg.MaxParallelTools,
		}, streams, logger),
	}, nil
}

func newProvider(ctx context.Context, u config.Upstream, logger *slog.Logger) (providers.Provider, error) {
	proto, err := providers.ParseProtocol(u.Protocol)
	if err != nil {
		return nil, err
	}

	switch proto {
	case providers.ProtocolConverse:
		client, err := upstream.NewBedrockClient(ctx, upstream.BedrockConfig{
			Region:   u.Region,
			Endpoint: u.APIBase,
			Retry:    upstream.DefaultRetryConfig(),
		}, logger)
		if err != nil {
			return nil, err
		}
		return providers.NewConverseProvider(u.Name, client, logger), nil

	case providers.ProtocolTag:
		client := upstream.NewOpenAIClient(upstream.OpenAIConfig{
			APIKey:  u.APIKey,
			BaseURL: u.APIBase,
			Retry:   upstream.DefaultRetryConfig(),
		}, logger)
		return providers.NewTagProvider(u.Name, client, logger), nil

	default:
		client := upstream.NewOpenAIClient(upstream.OpenAIConfig{
			APIKey:  u.APIKey,
			BaseURL: u.APIBase,
			Retry:   upstream.DefaultRetryConfig(),
		}, logger)
		return providers.NewOpenAIProvider(u.Name, client, logger), nil
	}
}

// Close disconnects every MCP server, shared and per user.
func (g *Gateway) Close() {
	g.Tools.Close()
}
