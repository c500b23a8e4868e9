package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/providers"
	"github.com/mihaisavezi/mcp-chat-gateway/internal/tools"
)

const (
	DefaultPort             = 6970
	DefaultConfigFilename   = "config.json"
	DefaultYAMLFilename     = "config.yaml"
	DefaultHost             = "127.0.0.1"
	DefaultMaxTurns         = 30
	DefaultMaxParallelTools = 8
	DefaultSessionIdle      = 24 * 60
)

type Upstream struct {
	Name     string   `json:"name" yaml:"name"`
	Protocol string   `json:"protocol" yaml:"protocol"`
	APIBase  string   `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty"`
	APIKey   string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Region   string   `json:"region,omitempty" yaml:"region,omitempty"`
	Models   []string `json:"models" yaml:"models"`
	// Stream selects the upstream's streaming endpoint; unset means true.
	Stream *bool `json:"stream,omitempty" yaml:"stream,omitempty"`
}

func (u Upstream) Streaming() bool {
	return u.Stream == nil || *u.Stream
}

// UpstreamStreaming reports whether the named upstream streams. Unknown
// names stream.
func (c *Config) UpstreamStreaming(name string) bool {
	for _, u := range c.Upstreams {
		if u.Name == name {
			return u.Streaming()
		}
	}
	return true
}

type MCPServer struct {
	ID          string            `json:"id" yaml:"id"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
}

func (s MCPServer) ServerConfig() tools.ServerConfig {
	return tools.ServerConfig{ID: s.ID, Command: s.Command, Args: s.Args, Env: s.Env, URL: s.URL}
}

type Config struct {
	Host   string `json:"host,omitempty" yaml:"host,omitempty"`
	Port   int    `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	MaxTurns              int  `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	MaxParallelTools      int  `json:"max_parallel_tools,omitempty" yaml:"max_parallel_tools,omitempty"`
	OnlyNMostRecentImages *int `json:"only_n_most_recent_images,omitempty" yaml:"only_n_most_recent_images,omitempty"`
	// SessionIdleMinutes is how long an unused session history is kept.
	SessionIdleMinutes int `json:"session_idle_minutes,omitempty" yaml:"session_idle_minutes,omitempty"`

	Upstreams  []Upstream  `json:"upstreams" yaml:"upstreams"`
	MCPServers []MCPServer `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
}

type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (m *Manager) Load() (*Config, error) {
	path := m.GetPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.MaxParallelTools <= 0 {
		cfg.MaxParallelTools = DefaultMaxParallelTools
	}
	if cfg.SessionIdleMinutes <= 0 {
		cfg.SessionIdleMinutes = DefaultSessionIdle
	}
}

// applyEnv fills values the file left empty from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("API_KEY"); v != "" && cfg.APIKey == "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxTurns = n
		}
	}

	apiKey := os.Getenv("COMPATIBLE_API_KEY")
	apiBase := os.Getenv("COMPATIBLE_API_BASE")
	region := os.Getenv("AWS_REGION")
	for i := range cfg.Upstreams {
		u := &cfg.Upstreams[i]
		proto, err := providers.ParseProtocol(u.Protocol)
		if err != nil {
			continue
		}
		switch proto {
		case providers.ProtocolConverse:
			if u.Region == "" {
				u.Region = region
			}
		default:
			if u.APIKey == "" {
				u.APIKey = apiKey
			}
			if u.APIBase == "" {
				u.APIBase = apiBase
			}
		}
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.Upstreams) == 0 {
		errs = append(errs, errors.New("no upstreams configured"))
	}

	names := make(map[string]bool)
	models := make(map[string]string)
	for i, u := range c.Upstreams {
		if u.Name == "" {
			errs = append(errs, fmt.Errorf("upstream %d: name is required", i))
		} else if names[u.Name] {
			errs = append(errs, fmt.Errorf("upstream %s: duplicate name", u.Name))
		}
		names[u.Name] = true

		proto, err := providers.ParseProtocol(u.Protocol)
		if err != nil {
			errs = append(errs, fmt.Errorf("upstream %s: %w", u.Name, err))
		}
		if proto != providers.ProtocolConverse && proto != "" && u.APIKey == "" {
			errs = append(errs, fmt.Errorf("upstream %s: api_key is required", u.Name))
		}
		if len(u.Models) == 0 {
			errs = append(errs, fmt.Errorf("upstream %s: at least one model is required", u.Name))
		}
		for _, model := range u.Models {
			if owner, ok := models[model]; ok {
				errs = append(errs, fmt.Errorf("model %s served by both %s and %s", model, owner, u.Name))
				continue
			}
			models[model] = u.Name
		}
	}

	ids := make(map[string]bool)
	for i, s := range c.MCPServers {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("mcp server %d: id is required", i))
		case strings.Contains(s.ID, tools.Delimiter):
			errs = append(errs, fmt.Errorf("mcp server %s: id must not contain %q", s.ID, tools.Delimiter))
		case ids[s.ID]:
			errs = append(errs, fmt.Errorf("mcp server %s: duplicate id", s.ID))
		}
		ids[s.ID] = true
		if s.Command == "" && s.URL == "" {
			errs = append(errs, fmt.Errorf("mcp server %s: command or url is required", s.ID))
		}
	}

	return errors.Join(errs...)
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		cfg = &Config{}
		applyDefaults(cfg)
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	return m.save(cfg, filepath.Join(m.baseDir, DefaultConfigFilename), func(c *Config) ([]byte, error) {
		return json.MarshalIndent(c, "", "  ")
	})
}

func (m *Manager) SaveAsYAML(cfg *Config) error {
	return m.save(cfg, filepath.Join(m.baseDir, DefaultYAMLFilename), func(c *Config) ([]byte, error) {
		return yaml.Marshal(c)
	})
}

func (m *Manager) save(cfg *Config, path string, marshal func(*Config) ([]byte, error)) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// CreateExampleYAML writes a starter config with one upstream per protocol.
func (m *Manager) CreateExampleYAML() error {
	images := 3
	noStream := false
	return m.SaveAsYAML(&Config{
		Host:                  DefaultHost,
		Port:                  DefaultPort,
		APIKey:                "your-gateway-api-key-here",
		MaxTurns:              DefaultMaxTurns,
		MaxParallelTools:      DefaultMaxParallelTools,
		OnlyNMostRecentImages: &images,
		Upstreams: []Upstream{
			{
				Name:     "bedrock",
				Protocol: string(providers.ProtocolConverse),
				Region:   "us-east-1",
				Models:   []string{"us.anthropic.claude-3-7-sonnet-20250219-v1:0", "us.amazon.nova-pro-v1:0"},
			},
			{
				Name:     "openai",
				Protocol: string(providers.ProtocolOpenAI),
				APIBase:  "https://api.openai.com/v1",
				APIKey:   "your-openai-key-here",
				Models:   []string{"gpt-4o", "o4-mini"},
			},
			{
				Name:     "deepseek",
				Protocol: string(providers.ProtocolTag),
				APIBase:  "https://api.deepseek.com/v1",
				APIKey:   "your-deepseek-key-here",
				Models:   []string{"deepseek-reasoner"},
				Stream:   &noStream,
			},
		},
		MCPServers: []MCPServer{
			{
				ID:          "time",
				Description: "Current time and timezone conversion",
				Command:     "uvx",
				Args:        []string{"mcp-server-time"},
			},
		},
	})
}

// GetPath returns the YAML config when present, the JSON one otherwise.
func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return filepath.Join(m.baseDir, DefaultYAMLFilename)
	}
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(filepath.Join(m.baseDir, DefaultYAMLFilename))
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(filepath.Join(m.baseDir, DefaultConfigFilename))
	return err == nil
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
