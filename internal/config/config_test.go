package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_LoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	images := 5
	cfg := &Config{
		Host:                  "127.0.0.1",
		Port:                  8080,
		APIKey:                "test-key",
		MaxTurns:              10,
		OnlyNMostRecentImages: &images,
		Upstreams: []Upstream{
			{
				Name:     "compatible",
				Protocol: "openai",
				APIBase:  "https://api.example.com/v1",
				APIKey:   "test-provider-key",
				Models:   []string{"qwen-max"},
			},
		},
		MCPServers: []MCPServer{{ID: "time", Command: "uvx", Args: []string{"mcp-server-time"}}},
	}

	require.NoError(t, manager.Save(cfg))
	assert.True(t, manager.Exists())

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Host, loaded.Host)
	assert.Equal(t, cfg.Port, loaded.Port)
	assert.Equal(t, cfg.APIKey, loaded.APIKey)
	assert.Equal(t, 10, loaded.MaxTurns)
	require.NotNil(t, loaded.OnlyNMostRecentImages)
	assert.Equal(t, 5, *loaded.OnlyNMostRecentImages)
	require.Len(t, loaded.Upstreams, 1)
	assert.Equal(t, "https://api.example.com/v1", loaded.Upstreams[0].APIBase)
	assert.True(t, loaded.Upstreams[0].Streaming())
	assert.Equal(t, []string{"mcp-server-time"}, loaded.MCPServers[0].Args)
	assert.NoError(t, loaded.Validate())
}

func TestConfig_Defaults(t *testing.T) {
	manager := NewManager(t.TempDir())
	require.NoError(t, manager.Save(&Config{
		Upstreams: []Upstream{{Name: "test", Protocol: "openai", APIKey: "key", Models: []string{"model"}}},
	}))

	loaded, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, loaded.Port)
	assert.Equal(t, DefaultHost, loaded.Host)
	assert.Equal(t, DefaultMaxTurns, loaded.MaxTurns)
	assert.Equal(t, DefaultMaxParallelTools, loaded.MaxParallelTools)
	assert.Equal(t, DefaultSessionIdle, loaded.SessionIdleMinutes)
	assert.Nil(t, loaded.OnlyNMostRecentImages)
}

func TestConfig_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte("invalid json"), 0644))

	_, err := NewManager(tmpDir).Load()
	assert.Error(t, err)
}

func TestConfig_MissingFile(t *testing.T) {
	manager := NewManager(t.TempDir())

	_, err := manager.Load()
	assert.Error(t, err)
	assert.False(t, manager.Exists())
}

func TestConfig_GetWithoutLoad(t *testing.T) {
	cfg := NewManager(t.TempDir()).Get()

	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COMPATIBLE_API_KEY", "env-key")
	t.Setenv("COMPATIBLE_API_BASE", "https://env.example.com/v1")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("MAX_TURNS", "12")
	t.Setenv("API_KEY", "gateway-key")

	manager := NewManager(t.TempDir())
	require.NoError(t, manager.Save(&Config{
		Upstreams: []Upstream{
			{Name: "compat", Protocol: "openai", Models: []string{"a"}},
			{Name: "own", Protocol: "tag", APIKey: "file-key", Models: []string{"b"}},
			{Name: "bedrock", Protocol: "converse", Models: []string{"c"}},
		},
	}))

	cfg, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Upstreams[0].APIKey)
	assert.Equal(t, "https://env.example.com/v1", cfg.Upstreams[0].APIBase)
	assert.Equal(t, "file-key", cfg.Upstreams[1].APIKey, "file values win")
	assert.Equal(t, "eu-west-1", cfg.Upstreams[2].Region)
	assert.Empty(t, cfg.Upstreams[2].APIKey)
	assert.Equal(t, 12, cfg.MaxTurns)
	assert.Equal(t, "gateway-key", cfg.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr []string
	}{
		{
			name: "valid",
			cfg: Config{Upstreams: []Upstream{
				{Name: "bedrock", Protocol: "converse", Models: []string{"nova"}},
			}},
		},
		{
			name:    "no upstreams",
			cfg:     Config{},
			wantErr: []string{"no upstreams configured"},
		},
		{
			name: "several problems",
			cfg: Config{
				Upstreams: []Upstream{
					{Name: "a", Protocol: "grpc", Models: []string{"m"}},
					{Name: "a", Protocol: "openai", Models: []string{"m"}},
				},
				MCPServers: []MCPServer{{ID: "my_server"}},
			},
			wantErr: []string{
				`unknown protocol "grpc"`,
				"upstream a: duplicate name",
				"upstream a: api_key is required",
				"model m served by both a and a",
				`mcp server my_server: id must not contain "_"`,
				"mcp server my_server: command or url is required",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("MCPGW_TEST_VALUE=from-dotenv\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("MCPGW_TEST_VALUE") })

	require.NoError(t, LoadDotEnv(filepath.Join(tmpDir, "missing.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv("MCPGW_TEST_VALUE"))
}

func TestConfig_UpstreamStreaming(t *testing.T) {
	off := false
	cfg := &Config{Upstreams: []Upstream{
		{Name: "batch", Stream: &off},
		{Name: "live"},
	}}

	assert.False(t, cfg.UpstreamStreaming("batch"))
	assert.True(t, cfg.UpstreamStreaming("live"))
	assert.True(t, cfg.UpstreamStreaming("unknown"))
}
