package middleware

import (
	"log/slog"
	"net/http"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
)

// Middleware represents a middleware function
type Middleware func(http.Handler) http.Handler

// Chain represents a middleware chain
type Chain struct {
	middlewares []Middleware
}

// New creates a new middleware chain
func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then adds more middleware to the chain
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares[:len(c.middlewares):len(c.middlewares)], middlewares...)}
}

// Handler applies all middleware in the chain to the given handler
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// MiddlewareSet contains all configured middleware for easy composition
type MiddlewareSet struct {
	Recover Middleware
	Logging Middleware
	Auth    Middleware
	NoCache Middleware
}

func NewMiddlewareSet(config *config.Manager, logger *slog.Logger) MiddlewareSet {
	return MiddlewareSet{
		Recover: NewRecoverMiddleware(logger),
		Logging: NewLoggingMiddleware(logger),
		Auth:    NewAuthMiddleware(config, logger),
		NoCache: NewNoCacheMiddleware(),
	}
}

// DefaultChain is used for chat and listing endpoints.
func (ms MiddlewareSet) DefaultChain() Chain {
	return New(ms.Recover, ms.Logging, ms.Auth)
}

// ControlChain is used for stop and history endpoints.
func (ms MiddlewareSet) ControlChain() Chain {
	return ms.DefaultChain().Then(ms.NoCache)
}

// HealthChain returns the middleware chain for health endpoints (no auth)
func (ms MiddlewareSet) HealthChain() Chain {
	return New(ms.Recover, ms.Logging)
}
