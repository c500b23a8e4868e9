package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

const connectTimeout = 30 * time.Second

// allowedCommands are the launchers a caller may start a stdio server with.
var allowedCommands = map[string]bool{
	"npx": true, "uvx": true, "node": true, "python": true, "docker": true, "uv": true,
}

// ConnectFunc starts or dials one MCP server.
type ConnectFunc func(ctx context.Context, cfg tools.ServerConfig) (tools.Provider, error)

// MCPConnector connects real MCP servers through the go-sdk client.
func MCPConnector(version string, logger *slog.Logger) ConnectFunc {
	return func(ctx context.Context, cfg tools.ServerConfig) (tools.Provider, error) {
		p, err := tools.ConnectMCP(ctx, cfg, version, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type addServerRequest struct {
	ServerID   string                     `json:"server_id"`
	ServerDesc string                     `json:"server_desc"`
	Command    string                     `json:"command"`
	Args       []string                   `json:"args"`
	Env        map[string]string          `json:"env"`
	URL        string                     `json:"url"`
	ConfigJSON map[string]json.RawMessage `json:"config_json"`
}

// serverEntryJSON is one server in the config_json form used by MCP
// client configuration files.
type serverEntryJSON struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	URL     string            `json:"url"`
}

type serverResponse struct {
	Errno int            `json:"errno"`
	Msg   string         `json:"msg"`
	Data  map[string]any `json:"data"`
}

// serverConfig resolves the request into one server. config_json wins over
// the flat fields and may be wrapped in "mcpServers".
func (req *addServerRequest) serverConfig() (tools.ServerConfig, error) {
	if len(req.ConfigJSON) == 0 {
		cmd := req.Command
		if cmd == "" && req.URL == "" {
			cmd = "npx"
		}
		return tools.ServerConfig{ID: req.ServerID, Command: cmd, Args: req.Args, Env: req.Env, URL: req.URL}, nil
	}

	servers := req.ConfigJSON
	if wrapped, ok := servers["mcpServers"]; ok {
		servers = nil
		if err := json.Unmarshal(wrapped, &servers); err != nil {
			return tools.ServerConfig{}, fmt.Errorf("mcpServers: %w", err)
		}
	}
	if len(servers) != 1 {
		return tools.ServerConfig{}, fmt.Errorf("config_json must describe exactly one server, got %d", len(servers))
	}

	var (
		id  string
		raw json.RawMessage
	)
	for k, v := range servers {
		id, raw = k, v
	}

	var entry serverEntryJSON
	if err := json.Unmarshal(raw, &entry); err != nil {
		return tools.ServerConfig{}, fmt.Errorf("server %s: %w", id, err)
	}
	return tools.ServerConfig{ID: id, Command: entry.Command, Args: entry.Args, Env: entry.Env, URL: entry.URL}, nil
}

// AddServerHandler serves POST /v1/add/mcp_server. The server is connected
// for the calling user only.
type AddServerHandler struct {
	tools   *tools.Catalog
	connect ConnectFunc
	logger  *slog.Logger
}

func NewAddServerHandler(catalog *tools.Catalog, connect ConnectFunc, logger *slog.Logger) *AddServerHandler {
	return &AddServerHandler{tools: catalog, connect: connect, logger: logger}
}

func (h *AddServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(h.logger, w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	user := userID(r)
	fail := func(msg string) {
		writeJSON(h.logger, w, http.StatusOK, serverResponse{Errno: -1, Msg: msg, Data: map[string]any{}})
	}

	cfg, err := req.serverConfig()
	if err != nil {
		fail(err.Error())
		return
	}
	if err := tools.ValidateID(cfg.ID); err != nil {
		fail(err.Error())
		return
	}
	if cfg.URL == "" && !allowedCommands[cfg.Command] {
		fail(fmt.Sprintf("command %q is not allowed", cfg.Command))
		return
	}
	if h.tools.Has(user, cfg.ID) {
		fail("MCP server id exists for this user!")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	defer cancel()

	p, err := h.connect(ctx, cfg)
	if errors.Is(err, context.DeadlineExceeded) {
		h.logger.Error("MCP server connection timed out", "user", user, "server_id", cfg.ID)
		fail("MCP server connection timeout!")
		return
	}
	if err != nil {
		h.logger.Error("MCP server connect failed", "user", user, "server_id", cfg.ID, "error", err)
		fail("MCP server connect failed: " + err.Error())
		return
	}

	specs, err := p.ListTools(ctx)
	if err != nil {
		closeProvider(p, h.logger)
		fail("MCP server connect failed: " + err.Error())
		return
	}

	if err := h.tools.Add(user, cfg.ID, req.ServerDesc, p); err != nil {
		closeProvider(p, h.logger)
		if errors.Is(err, tools.ErrDuplicateID) {
			fail("MCP server id exists for this user!")
			return
		}
		fail(err.Error())
		return
	}

	h.logger.Info("User added MCP server", "user", user, "server_id", cfg.ID, "tools", len(specs))
	writeJSON(h.logger, w, http.StatusOK, serverResponse{
		Errno: 0,
		Msg:   "Server added successfully",
		Data:  map[string]any{"tools": qualifiedSpecs(cfg.ID, specs)},
	})
}

func qualifiedSpecs(id string, specs []message.ToolSpec) []message.ToolSpec {
	out := make([]message.ToolSpec, 0, len(specs))
	for _, s := range specs {
		s.Name = tools.QualifiedName(id, s.Name)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func closeProvider(p tools.Provider, logger *slog.Logger) {
	if c, ok := p.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close MCP server", "error", err)
		}
	}
}

// RemoveServerHandler serves DELETE /v1/remove/mcp_server/{server_id}.
type RemoveServerHandler struct {
	tools  *tools.Catalog
	logger *slog.Logger
}

func NewRemoveServerHandler(catalog *tools.Catalog, logger *slog.Logger) *RemoveServerHandler {
	return &RemoveServerHandler{tools: catalog, logger: logger}
}

func (h *RemoveServerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("server_id")
	user := userID(r)

	if err := h.tools.Remove(user, id); err != nil {
		writeJSON(h.logger, w, http.StatusOK, serverResponse{Errno: -1, Msg: "MCP server not found for this user!", Data: map[string]any{}})
		return
	}

	h.logger.Info("User removed MCP server", "user", user, "server_id", id)
	writeJSON(h.logger, w, http.StatusOK, serverResponse{Errno: 0, Msg: "Server removed successfully", Data: map[string]any{}})
}
