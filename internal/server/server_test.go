package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeOpenAI streams a fixed answer for every chat/completions call.
func fakeOpenAI(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer upstream-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":%q}}]}\n\n", answer)
		fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestServer(t *testing.T, upstreamURL string) (*Server, *Gateway) {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`{
		"api_key": "gw-key",
		"upstreams": [
			{"name": "compatible", "protocol": "openai", "api_base_url": %q, "api_key": "upstream-key", "models": ["gpt-test"]},
			{"name": "r1", "protocol": "tag", "api_base_url": %q, "api_key": "upstream-key", "models": ["reasoner"]}
		]
	}`, upstreamURL+"/v1", upstreamURL+"/v1")
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultConfigFilename), []byte(cfg), 0600))

	mgr := config.NewManager(dir)
	loaded, err := mgr.Load()
	require.NoError(t, err)

	gw, err := Build(context.Background(), loaded, "test", testLogger())
	require.NoError(t, err)
	t.Cleanup(gw.Close)

	return New(mgr, "test", testLogger()), gw
}

func TestBuild_RegistersModels(t *testing.T) {
	upstream := fakeOpenAI(t, "hi")
	defer upstream.Close()

	_, gw := newTestServer(t, upstream.URL)

	assert.Equal(t, map[string]string{"gpt-test": "compatible", "reasoner": "r1"}, gw.Providers.Models())

	p, model, err := gw.Providers.ForModel("reasoner")
	require.NoError(t, err)
	assert.Equal(t, "reasoner", model)
	assert.False(t, p.SupportsImages())
	assert.Empty(t, gw.Tools.Shared().IDs())
}

func TestBuild_RejectsUnknownProtocol(t *testing.T) {
	cfg := &config.Config{Upstreams: []config.Upstream{{Name: "x", Protocol: "smoke-signals", Models: []string{"m"}}}}

	_, err := Build(context.Background(), cfg, "test", testLogger())
	assert.ErrorContains(t, err, "upstream x")
}

func TestRoutes_StreamEndToEnd(t *testing.T) {
	upstream := fakeOpenAI(t, "Hello from upstream")
	defer upstream.Close()

	srv, gw := newTestServer(t, upstream.URL)
	gateway := httptest.NewServer(srv.Routes(gw))
	defer gateway.Close()

	body := `{"model":"gpt-test","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequest(http.MethodPost, gateway.URL+"/v1/chat/completions", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer gw-key")
	req.Header.Set("X-User-ID", "erin")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Stream-ID"), "stream_erin_"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "Hello from upstream")
	assert.Contains(t, out, `"finish_reason":"end_turn"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestRoutes_AuthAndMethods(t *testing.T) {
	upstream := fakeOpenAI(t, "hi")
	defer upstream.Close()

	srv, gw := newTestServer(t, upstream.URL)
	h := srv.Routes(gw)

	tests := []struct {
		name   string
		method string
		path   string
		auth   bool
		want   int
	}{
		{"health without auth", http.MethodGet, "/health", false, http.StatusOK},
		{"models requires auth", http.MethodGet, "/v1/list/models", false, http.StatusUnauthorized},
		{"models with auth", http.MethodGet, "/v1/list/models", true, http.StatusOK},
		{"servers with auth", http.MethodGet, "/v1/list/mcp_server", true, http.StatusOK},
		{"stop with auth", http.MethodPost, "/v1/stop/stream/abc", true, http.StatusOK},
		{"history with auth", http.MethodPost, "/v1/remove/history", true, http.StatusOK},
		{"add server requires auth", http.MethodPost, "/v1/add/mcp_server", false, http.StatusUnauthorized},
		{"remove server with auth", http.MethodDelete, "/v1/remove/mcp_server/fs", true, http.StatusOK},
		{"remove server wrong method", http.MethodPost, "/v1/remove/mcp_server/fs", true, http.StatusMethodNotAllowed},
		{"wrong method", http.MethodGet, "/v1/chat/completions", true, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.auth {
				req.Header.Set("X-API-Key", "gw-key")
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRoutes_ListModels(t *testing.T) {
	upstream := fakeOpenAI(t, "hi")
	defer upstream.Close()

	srv, gw := newTestServer(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/v1/list/models", nil)
	req.Header.Set("Authorization", "Bearer gw-key")
	rec := httptest.NewRecorder()
	srv.Routes(gw).ServeHTTP(rec, req)

	var resp struct {
		Models []struct {
			ModelID string `json:"model_id"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Models, 2)
	assert.Equal(t, "gpt-test", resp.Models[0].ModelID)
	assert.Equal(t, "reasoner", resp.Models[1].ModelID)
}
