// Package memory provides in-process fallbacks for the Redis-backed caches.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

type accountEntry struct {
	info      domain.AccountInfo
	expiresAt time.Time
}

// AccountCache implements domain.AccountCache in memory. Expired entries are
// dropped lazily on Get and in bulk by Cleanup.
type AccountCache struct {
	mu      sync.Mutex
	entries map[string]accountEntry
	now     func() time.Time
}

// NewAccountCache creates an empty AccountCache.
func NewAccountCache() *AccountCache {
	return &AccountCache{
		entries: make(map[string]accountEntry),
		now:     time.Now,
	}
}

func key(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func (c *AccountCache) Get(_ context.Context, address string) (domain.AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(address)
	e, ok := c.entries[k]
	if !ok {
		return domain.AccountInfo{}, domain.ErrNotFound
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, k)
		return domain.AccountInfo{}, domain.ErrNotFound
	}
	return e.info, nil
}

func (c *AccountCache) Set(_ context.Context, info domain.AccountInfo, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(info.Address)] = accountEntry{info: info, expiresAt: c.now().Add(ttl)}
	return nil
}

// Cleanup removes expired entries and returns how many were removed.
func (c *AccountCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run calls Cleanup every interval until ctx is done.
func (c *AccountCache) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

var _ domain.AccountCache = (*AccountCache)(nil)
