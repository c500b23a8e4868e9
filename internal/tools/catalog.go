package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mihaisavezi/mcp-chat-gateway/internal/message"
)

// Catalog holds the shared providers connected at startup and the
// providers each user added at runtime. A user sees both; shared IDs
// cannot be shadowed or removed through a user.
type Catalog struct {
	shared *Set

	mu     sync.Mutex
	users  map[string]*userProviders
	now    func() time.Time
	logger *slog.Logger
}

type userProviders struct {
	set        *Set
	names      map[string]string
	lastActive time.Time
}

// ServerInfo describes one provider visible to a user.
type ServerInfo struct {
	ID     string
	Name   string
	Shared bool
}

func NewCatalog(shared *Set, logger *slog.Logger) *Catalog {
	return &Catalog{
		shared: shared,
		users:  make(map[string]*userProviders),
		now:    time.Now,
		logger: logger,
	}
}

func (c *Catalog) Shared() *Set { return c.shared }

// View returns the providers visible to userID and marks the user active.
func (c *Catalog) View(userID string) View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{shared: c.shared}
	if u, ok := c.users[userID]; ok {
		u.lastActive = c.now()
		v.user = u.set
	}
	return v
}

// Has reports whether id is visible to userID.
func (c *Catalog) Has(userID, id string) bool {
	_, ok := c.View(userID).Get(id)
	return ok
}

// Add registers p for userID under id. name is shown in listings and
// defaults to the ID.
func (c *Catalog) Add(userID, id, name string, p Provider) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.shared.Get(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	u, ok := c.users[userID]
	if !ok {
		u = &userProviders{set: NewSet(c.logger), names: make(map[string]string)}
		c.users[userID] = u
	}
	if _, ok := u.set.Get(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if err := u.set.Add(id, p); err != nil {
		return err
	}

	if name == "" {
		name = id
	}
	u.names[id] = name
	u.lastActive = c.now()
	return nil
}

// Remove closes and drops a provider userID added. Shared providers are
// reported as unknown.
func (c *Catalog) Remove(userID, id string) error {
	c.mu.Lock()
	u, ok := c.users[userID]
	if ok {
		_, ok = u.set.Get(id)
	}
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	delete(u.names, id)
	u.lastActive = c.now()
	c.mu.Unlock()

	u.set.Remove(id)
	return nil
}

// Servers lists what userID can use: shared providers first, then the
// user's own, each group sorted by ID. sharedNames supplies display names
// for shared providers.
func (c *Catalog) Servers(userID string, sharedNames map[string]string) []ServerInfo {
	var out []ServerInfo
	for _, id := range c.shared.IDs() {
		name := sharedNames[id]
		if name == "" {
			name = id
		}
		out = append(out, ServerInfo{ID: id, Name: name, Shared: true})
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if u, ok := c.users[userID]; ok {
		u.lastActive = c.now()
		for _, id := range u.set.IDs() {
			out = append(out, ServerInfo{ID: id, Name: u.names[id]})
		}
	}
	return out
}

// Sweep closes the providers of users idle for longer than maxIdle and
// returns how many users were dropped.
func (c *Catalog) Sweep(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)

	c.mu.Lock()
	var idle []*userProviders
	for id, u := range c.users {
		if u.lastActive.Before(cutoff) {
			idle = append(idle, u)
			delete(c.users, id)
		}
	}
	c.mu.Unlock()

	for _, u := range idle {
		u.set.Close()
	}
	return len(idle)
}

// RunJanitor sweeps every interval until ctx is done.
func (c *Catalog) RunJanitor(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(maxIdle); n > 0 {
				c.logger.Info("Closed tool providers of inactive users", "count", n)
			}
		}
	}
}

// Close closes every user provider and then the shared ones.
func (c *Catalog) Close() {
	c.mu.Lock()
	users := c.users
	c.users = make(map[string]*userProviders)
	c.mu.Unlock()

	for _, u := range users {
		u.set.Close()
	}
	c.shared.Close()
}

// View resolves provider IDs for one user. User providers are consulted
// before shared ones.
type View struct {
	user   *Set
	shared *Set
}

func (v View) Get(id string) (Provider, bool) {
	if v.user != nil {
		if p, ok := v.user.Get(id); ok {
			return p, true
		}
	}
	if v.shared == nil {
		return nil, false
	}
	return v.shared.Get(id)
}

// IDs returns every visible provider ID in sorted order.
func (v View) IDs() []string {
	var ids []string
	if v.shared != nil {
		ids = append(ids, v.shared.IDs()...)
	}
	if v.user != nil {
		ids = append(ids, v.user.IDs()...)
	}
	sort.Strings(ids)
	return ids
}

func (v View) ToolConfig(ctx context.Context, ids []string) (*message.ToolConfig, error) {
	return toolConfig(ctx, v.Get, ids)
}
