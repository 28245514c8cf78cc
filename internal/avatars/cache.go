// Package avatars resolves usernames to avatar URLs with duplicate
// suppression. The cache is shared by the conversation and friend-graph
// stores so a username appearing in both never fetches twice: a name
// already in flight is attached to the existing fetch, and batch
// results commit in a single update so subscribers see one notification
// per input event.
package avatars

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haasonsaas/chatsync/internal/observability"
)

// Fetcher resolves a single username. A nil URL with a nil error means
// the user has no avatar (resolved-absent), which is cached and never
// refetched within the session.
type Fetcher interface {
	Avatar(ctx context.Context, username string) (*string, error)
}

// Cache is the coalescing resolver. Entries are write-once per session.
type Cache struct {
	fetcher  Fetcher
	logger   *slog.Logger
	onUpdate func(resolved map[string]*string)

	mu       sync.Mutex
	entries  map[string]*string
	inflight map[string]struct{}
}

// NewCache creates a cache. onUpdate, if non-nil, receives each
// committed batch exactly once; it runs off the caller's goroutine.
func NewCache(fetcher Fetcher, logger *slog.Logger, onUpdate func(map[string]*string)) *Cache {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Cache{
		fetcher:  fetcher,
		logger:   logger.With("component", "avatars"),
		onUpdate: onUpdate,
		entries:  make(map[string]*string),
		inflight: make(map[string]struct{}),
	}
}

// Resolve submits a batch of usernames. Names already cached or already
// in flight are skipped; the remainder start exactly one fetch each.
// The call returns immediately; results arrive through onUpdate.
func (c *Cache) Resolve(ctx context.Context, usernames []string) {
	c.mu.Lock()
	var toFetch []string
	for _, name := range usernames {
		if name == "" {
			continue
		}
		if _, ok := c.entries[name]; ok {
			continue
		}
		if _, ok := c.inflight[name]; ok {
			continue
		}
		c.inflight[name] = struct{}{}
		toFetch = append(toFetch, name)
	}
	c.mu.Unlock()

	if len(toFetch) == 0 {
		return
	}
	go c.fetch(ctx, toFetch)
}

// Lookup returns the cached URL for a username. ok is false while the
// name is unresolved; a resolved-absent avatar returns (nil, true).
func (c *Cache) Lookup(username string) (url *string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok = c.entries[username]
	return url, ok
}

// Snapshot returns a copy of all resolved entries.
func (c *Cache) Snapshot() map[string]*string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*string, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

func (c *Cache) fetch(ctx context.Context, names []string) {
	resolved := make(map[string]*string, len(names))
	var failed []string
	for _, name := range names {
		url, err := c.fetcher.Avatar(ctx, name)
		if err != nil {
			// A fetch failure leaves the name unresolved so a later
			// batch may try again; only a definitive answer (including
			// resolved-absent) is write-once.
			c.logger.Debug("avatar fetch failed", "username", name, "error", err)
			failed = append(failed, name)
			continue
		}
		resolved[name] = url
	}

	c.mu.Lock()
	for name, url := range resolved {
		c.entries[name] = url
		delete(c.inflight, name)
	}
	for _, name := range failed {
		delete(c.inflight, name)
	}
	c.mu.Unlock()

	if len(resolved) > 0 && c.onUpdate != nil {
		c.onUpdate(resolved)
	}
}
