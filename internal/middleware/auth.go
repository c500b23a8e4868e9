package middleware

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
)

var (
	errNoToken    = errors.New("no authentication token provided")
	errInvalidKey = errors.New("invalid API key")
)

// openPaths never require the gateway key.
var openPaths = map[string]bool{
	"/health": true,
}

type AuthMiddleware struct {
	config *config.Manager
	logger *slog.Logger
}

func NewAuthMiddleware(config *config.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	am := &AuthMiddleware{
		config: config,
		logger: logger,
	}

	return am.middleware
}

func (am *AuthMiddleware) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := am.authenticate(r); err != nil {
			am.logger.Warn("Rejected request",
				"error", err,
				"path", r.URL.Path,
				"user", r.Header.Get("X-User-ID"),
				"remote_addr", r.RemoteAddr)

			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-chat-gateway"`)
			http.Error(w, "Gateway API key not authorized", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (am *AuthMiddleware) authenticate(r *http.Request) error {
	key := am.config.Get().APIKey
	if key == "" || openPaths[r.URL.Path] {
		return nil
	}

	token := bearerToken(r)
	if token == "" {
		return errNoToken
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
		return errInvalidKey
	}

	return nil
}

// bearerToken prefers the Authorization header over X-API-Key.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}

	return r.Header.Get("X-API-Key")
}
