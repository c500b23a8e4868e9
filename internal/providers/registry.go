package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// Protocol identifies the upstream wire format a provider speaks.
type Protocol string

const (
	ProtocolConverse Protocol = "converse"
	ProtocolOpenAI   Protocol = "openai"
	ProtocolTag      Protocol = "tag"
)

func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolConverse, ProtocolOpenAI, ProtocolTag:
		return p, nil
	case "bedrock":
		return ProtocolConverse, nil
	case "compatible", "":
		return ProtocolOpenAI, nil
	case "deepseek-r1", "r1":
		return ProtocolTag, nil
	default:
		return "", fmt.Errorf("unknown protocol %q", s)
	}
}

// ExtraParams carries optional sampling knobs some upstreams understand.
type ExtraParams struct {
	TopP *float32
	TopK *int
}

// Request is one turn's worth of input in canonical form.
type Request struct {
	Model       string
	MaxTokens   int
	Temperature float32
	Messages    []message.Message
	System      []message.Block
	ToolConfig  *message.ToolConfig
	Extra       ExtraParams
	Stream      bool
}

// SystemText joins the text system blocks.
func (r *Request) SystemText() string {
	var sb strings.Builder
	for _, b := range r.System {
		if b.Text != nil {
			sb.WriteString(*b.Text)
		}
	}
	return sb.String()
}

// Emit forwards one canonical event and reports whether the consumer wants more.
type Emit func(message.StreamEvent) bool

// Provider runs a single upstream call and emits the canonical event
// sequence for it.
type Provider interface {
	Name() string
	Protocol() Protocol
	// SupportsImages is false for text-only upstreams.
	SupportsImages() bool
	StreamTurn(ctx context.Context, req *Request, emit Emit) error
}

// Registry manages provider instances and the models they serve.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	models    map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		models:    make(map[string]string),
	}
}

// Register adds a provider and claims the given model IDs for it.
func (r *Registry) Register(provider Provider, models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[provider.Name()] = provider
	for _, m := range models {
		r.models[m] = provider.Name()
	}
}

// Get retrieves a provider by name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	return provider, exists
}

// ForModel resolves the provider serving a model. "provider,model" selects a
// provider explicitly and returns the bare model ID.
func (r *Registry) ForModel(model string) (Provider, string, error) {
	if name, bare, ok := strings.Cut(model, ","); ok {
		p, found := r.Get(name)
		if !found {
			return nil, "", fmt.Errorf("provider '%s' not found", name)
		}
		return p, bare, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.models[model]
	if !ok {
		return nil, "", fmt.Errorf("no provider serves model '%s'", model)
	}
	return r.providers[name], model, nil
}

// List returns all registered provider names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Models returns model ID to provider name.
func (r *Registry) Models() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.models))
	for m, p := range r.models {
		out[m] = p
	}
	return out
}
