package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/cancellation"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/session"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

type statusResponse struct {
	Errno int    `json:"errno"`
	Msg   string `json:"msg"`
}

// StopHandler serves POST /v1/stop/stream/{id}.
type StopHandler struct {
	streams *cancellation.Registry
	logger  *slog.Logger
}

func NewStopHandler(streams *cancellation.Registry, logger *slog.Logger) *StopHandler {
	return &StopHandler{streams: streams, logger: logger}
}

func (h *StopHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	user := userID(r)

	if owner, ok := h.streams.Owner(streamID); ok && owner != user {
		h.logger.Warn("Stop request for another user's stream", "stream_id", streamID, "user", user)
		writeJSON(h.logger, w, http.StatusOK, statusResponse{Errno: -1, Msg: "Not authorized to stop this stream"})
		return
	}

	if !h.streams.RequestStop(streamID) {
		h.logger.Warn("Stop requested for inactive stream", "stream_id", streamID)
	} else {
		h.logger.Info("Stream stop requested", "stream_id", streamID, "user", user)
	}
	writeJSON(h.logger, w, http.StatusOK, statusResponse{Errno: 0, Msg: "Stream stopping initiated"})
}

// HistoryHandler serves POST /v1/remove/history.
type HistoryHandler struct {
	sessions *session.Store
	logger   *slog.Logger
}

func NewHistoryHandler(sessions *session.Store, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{sessions: sessions, logger: logger}
}

func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(userID(r)) {
		writeJSON(h.logger, w, http.StatusOK, statusResponse{Errno: 0, Msg: "remove history from empty session"})
		return
	}
	writeJSON(h.logger, w, http.StatusOK, statusResponse{Errno: 0, Msg: "removed history"})
}

type modelEntry struct {
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
}

// ModelsHandler serves GET /v1/list/models.
type ModelsHandler struct {
	registry *providers.Registry
	logger   *slog.Logger
}

func NewModelsHandler(registry *providers.Registry, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{registry: registry, logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	models := h.registry.Models()
	ids := make([]string, 0, len(models))
	for id := range models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]modelEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, modelEntry{ModelID: id, ModelName: id})
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"models": entries})
}

type serverEntry struct {
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
}

// ServersHandler serves GET /v1/list/mcp_server: the shared servers
// followed by the caller's own.
type ServersHandler struct {
	config *config.Manager
	tools  *tools.Catalog
	logger *slog.Logger
}

func NewServersHandler(config *config.Manager, catalog *tools.Catalog, logger *slog.Logger) *ServersHandler {
	return &ServersHandler{config: config, tools: catalog, logger: logger}
}

func (h *ServersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	descriptions := make(map[string]string)
	for _, s := range h.config.Get().MCPServers {
		descriptions[s.ID] = s.Description
	}

	servers := h.tools.Servers(userID(r), descriptions)
	entries := make([]serverEntry, 0, len(servers))
	for _, s := range servers {
		entries = append(entries, serverEntry{ServerID: s.ID, ServerName: s.Name})
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]any{"servers": entries})
}
