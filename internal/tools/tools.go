// Package tools resolves qualified tool names to the providers that serve
// them and exposes their tool sets to the model.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// Delimiter separates the provider ID from the provider-local tool name.
const Delimiter = "_"

var (
	ErrUnknownProvider = errors.New("unknown tool provider")
	ErrInvalidID       = errors.New("tool provider id must be non-empty and must not contain " + Delimiter)
	ErrDuplicateID     = errors.New("tool provider id already in use")
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
)

type Content struct {
	Type     ContentType
	Text     string
	MIMEType string
	Data     []byte
}

type Result struct {
	Content []Content
	IsError bool
}

// Provider is an external service that executes tools by local name.
type Provider interface {
	ListTools(ctx context.Context) ([]message.ToolSpec, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*Result, error)
}

func QualifiedName(providerID, local string) string {
	return providerID + Delimiter + local
}

// SplitName splits on the first delimiter, so local names may themselves
// contain underscores.
func SplitName(qualified string) (providerID, local string, ok bool) {
	providerID, local, ok = strings.Cut(qualified, Delimiter)
	if !ok || providerID == "" || local == "" {
		return "", "", false
	}
	return providerID, local, true
}

// Set holds the tool providers available to a caller, keyed by ID.
type Set struct {
	mu        sync.RWMutex
	providers map[string]Provider
	logger    *slog.Logger
}

func NewSet(logger *slog.Logger) *Set {
	return &Set{providers: make(map[string]Provider), logger: logger}
}

// ValidateID rejects IDs that would make qualified names ambiguous.
func ValidateID(id string) error {
	if id == "" || strings.Contains(id, Delimiter) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func (s *Set) Add(id string, p Provider) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providers[id] = p
	return nil
}

func (s *Set) Get(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	return p, ok
}

// Remove drops a provider and closes it when it holds resources.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	p, ok := s.providers[id]
	delete(s.providers, id)
	s.mu.Unlock()

	if c, isCloser := p.(interface{ Close() error }); ok && isCloser {
		if err := c.Close(); err != nil {
			s.logger.Warn("Failed to close tool provider", "provider", id, "error", err)
		}
	}
}

// IDs returns the registered provider IDs in sorted order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.providers))
	for id := range s.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ToolConfig lists the tools of the selected providers under their
// qualified names. Unknown IDs are an error.
func (s *Set) ToolConfig(ctx context.Context, ids []string) (*message.ToolConfig, error) {
	return toolConfig(ctx, s.Get, ids)
}

func toolConfig(ctx context.Context, get func(string) (Provider, bool), ids []string) (*message.ToolConfig, error) {
	cfg := &message.ToolConfig{}
	for _, id := range ids {
		p, ok := get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
		specs, err := p.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools of %s: %w", id, err)
		}
		for _, spec := range specs {
			spec.Name = QualifiedName(id, spec.Name)
			cfg.Tools = append(cfg.Tools, spec)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Close closes every provider that holds resources.
func (s *Set) Close() {
	for _, id := range s.IDs() {
		s.Remove(id)
	}
}
