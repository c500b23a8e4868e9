package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// ServerConfig describes how to reach one MCP server: a local command
// speaking stdio, or a streamable HTTP endpoint.
type ServerConfig struct {
	ID      string
	Command string
	Args    []string
	Env     map[string]string
	URL     string
}

// MCPProvider executes tools through an MCP client session.
type MCPProvider struct {
	id      string
	session *mcp.ClientSession
	logger  *slog.Logger
}

// ConnectMCP starts or dials the server and completes the MCP handshake.
func ConnectMCP(ctx context.Context, cfg ServerConfig, version string, logger *slog.Logger) (*MCPProvider, error) {
	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "mcp-chat-gateway", Version: version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", cfg.ID, err)
	}

	logger.Info("Connected MCP server", "server_id", cfg.ID, "url", cfg.URL, "command", cfg.Command)
	return &MCPProvider{id: cfg.ID, session: session, logger: logger}, nil
}

func newTransport(cfg ServerConfig) (mcp.Transport, error) {
	if cfg.URL != "" {
		return &mcp.StreamableClientTransport{Endpoint: cfg.URL}, nil
	}
	if cfg.Command == "" {
		return nil, errors.New("mcp server needs a command or a url")
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+cfg.Env[k])
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (p *MCPProvider) ListTools(ctx context.Context) ([]message.ToolSpec, error) {
	var (
		specs  []message.ToolSpec
		cursor string
	)
	for {
		res, err := p.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		for _, t := range res.Tools {
			params, err := schemaObject(t.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			specs = append(specs, message.ToolSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			})
		}
		if res.NextCursor == "" {
			return specs, nil
		}
		cursor = res.NextCursor
	}
}

func (p *MCPProvider) CallTool(ctx context.Context, name string, args map[string]any) (*Result, error) {
	res, err := p.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	out := &Result{IsError: res.IsError}
	for _, c := range res.Content {
		switch v := c.(type) {
		case *mcp.TextContent:
			out.Content = append(out.Content, Content{Type: ContentText, Text: v.Text})
		case *mcp.ImageContent:
			out.Content = append(out.Content, Content{Type: ContentImage, MIMEType: v.MIMEType, Data: v.Data})
		default:
			p.logger.Debug("Skipping unsupported tool content", "server_id", p.id, "tool", name, "type", fmt.Sprintf("%T", c))
		}
	}
	return out, nil
}

func (p *MCPProvider) Close() error {
	return p.session.Close()
}

// schemaObject normalizes whatever schema representation the SDK hands
// back into a plain JSON object.
func schemaObject(schema any) (map[string]any, error) {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}, nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return out, nil
}
