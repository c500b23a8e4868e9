package handlers

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/cancellation"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/session"
)

type HealthHandler struct {
	streams  *cancellation.Registry
	sessions *session.Store
	logger   *slog.Logger
}

func NewHealthHandler(streams *cancellation.Registry, sessions *session.Store, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		streams:  streams,
		sessions: sessions,
		logger:   logger,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_streams": len(h.streams.Active()),
		"sessions":       h.sessions.Len(),
	})
}
