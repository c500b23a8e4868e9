package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/handlers"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/middleware"
)

const (
	sessionSweepInterval = time.Minute
	shutdownTimeout      = 10 * time.Second
)

type Server struct {
	config  *config.Manager
	version string
	logger  *slog.Logger
	server  *http.Server
}

func New(configManager *config.Manager, version string, logger *slog.Logger) *Server {
	return &Server{
		config:  configManager,
		version: version,
		logger:  logger,
	}
}

// Start builds the gateway, serves until SIGINT or SIGTERM and then shuts
// down gracefully.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.config.Get()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	gw, err := Build(ctx, cfg, s.version, s.logger)
	if err != nil {
		return err
	}
	defer gw.Close()

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	idle := time.Duration(cfg.SessionIdleMinutes) * time.Minute
	go gw.Sessions.RunJanitor(janitorCtx, sessionSweepInterval, idle)
	go gw.Tools.RunJanitor(janitorCtx, sessionSweepInterval, idle)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(gw),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr, "models", len(gw.Providers.Models()), "mcp_servers", gw.Tools.Shared().IDs())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Routes wires the HTTP API onto the gateway's components.
func (s *Server) Routes(gw *Gateway) http.Handler {
	mux := http.NewServeMux()

	chatHandler := handlers.NewChatHandler(s.config, gw.Providers, gw.Tools, gw.Orchestrator, gw.Sessions, s.logger)
	stopHandler := handlers.NewStopHandler(gw.Streams, s.logger)
	historyHandler := handlers.NewHistoryHandler(gw.Sessions, s.logger)
	modelsHandler := handlers.NewModelsHandler(gw.Providers, s.logger)
	serversHandler := handlers.NewServersHandler(s.config, gw.Tools, s.logger)
	addServerHandler := handlers.NewAddServerHandler(gw.Tools, handlers.MCPConnector(s.version, s.logger), s.logger)
	removeServerHandler := handlers.NewRemoveServerHandler(gw.Tools, s.logger)
	healthHandler := handlers.NewHealthHandler(gw.Streams, gw.Sessions, s.logger)

	ms := middleware.NewMiddlewareSet(s.config, s.logger)
	api := ms.DefaultChain()
	control := ms.ControlChain()

	mux.Handle("GET /health", ms.HealthChain().Handler(healthHandler))
	mux.Handle("POST /v1/chat/completions", api.Handler(chatHandler))
	mux.Handle("GET /v1/list/models", api.Handler(modelsHandler))
	mux.Handle("GET /v1/list/mcp_server", api.Handler(serversHandler))
	mux.Handle("POST /v1/stop/stream/{id}", control.Handler(stopHandler))
	mux.Handle("POST /v1/remove/history", control.Handler(historyHandler))
	mux.Handle("POST /v1/add/mcp_server", control.Handler(addServerHandler))
	mux.Handle("DELETE /v1/remove/mcp_server/{server_id}", control.Handler(removeServerHandler))

	return mux
}
