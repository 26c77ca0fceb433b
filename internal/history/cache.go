// Package history keeps the bounded, age-evicted set of enriched fills that
// both the bulk and the streaming paths write to and the HTTP layer reads.
package history

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/metrics"
)

const (
	DefaultHorizon       = 48 * time.Hour
	DefaultMaxEntries    = 4000
	DefaultSweepInterval = time.Hour

	// Epoch values above this are milliseconds, below it seconds.
	msThreshold = 1_000_000_000_000
)

// Key is the composite dedup key of a cache entry.
type Key struct {
	TimestampMs int64
	SourceID    string
	Price       float64
}

// KeyOf returns the composite key of ev. Events without a SourceID have no
// key and are never deduplicated.
func KeyOf(ev *domain.FillEvent) (Key, bool) {
	if ev.SourceID == "" {
		return Key{}, false
	}
	return Key{TimestampMs: ev.EventTimestamp, SourceID: ev.SourceID, Price: ev.Price}, true
}

// Options configures a Cache.
type Options struct {
	Horizon       time.Duration
	MaxEntries    int
	SweepInterval time.Duration
	Now           func() time.Time
}

// Cache is safe for concurrent use. Entries are kept newest first.
type Cache struct {
	horizon  time.Duration
	max      int
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	entries []domain.FillEvent
	keys    map[Key]int

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates an empty Cache. Zero options take the package defaults.
func New(opts Options, logger *slog.Logger) *Cache {
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultHorizon
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		horizon:  opts.Horizon,
		max:      opts.MaxEntries,
		interval: opts.SweepInterval,
		now:      opts.Now,
		logger:   logger.With(slog.String("component", "history")),
		keys:     make(map[Key]int),
		stop:     make(chan struct{}),
	}
}

// Upsert inserts ev or merges it into the entry with the same key. Enrichment
// already on the entry is never cleared by the merge.
func (c *Cache) Upsert(ev domain.FillEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(c.now())

	ev = ev.Clone()
	if k, ok := KeyOf(&ev); ok {
		if i, found := c.keys[k]; found {
			c.entries[i] = mergeEntry(c.entries[i], ev)
			c.normalizeLocked()
			return
		}
	}
	c.entries = append(c.entries, ev)
	c.normalizeLocked()
}

// MergeBatch unions incoming into the cache with first-seen-wins semantics.
// It returns the number of entries added.
func (c *Cache) MergeBatch(incoming []domain.FillEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(c.now())
	before := len(c.entries)
	copies := make([]domain.FillEvent, len(incoming))
	for i := range incoming {
		copies[i] = incoming[i].Clone()
	}
	c.entries = Merge(c.entries, copies)
	added := len(c.entries) - before
	c.normalizeLocked()
	return added
}

// Evict removes entries older than the horizon relative to now and returns
// how many were removed.
func (c *Cache) Evict(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(now)
}

// Snapshot returns copies of the entries accepted by filter, newest first.
// A nil filter accepts everything.
func (c *Cache) Snapshot(filter func(*domain.FillEvent) bool) []domain.FillEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.FillEvent, 0, len(c.entries))
	for i := range c.entries {
		if filter != nil && !filter(&c.entries[i]) {
			continue
		}
		out = append(out, c.entries[i].Clone())
	}
	return out
}

// SourceIDs returns the set of source ids of entries accepted by filter.
func (c *Cache) SourceIDs(filter func(*domain.FillEvent) bool) map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{}, len(c.entries))
	for i := range c.entries {
		e := &c.entries[i]
		if e.SourceID == "" || (filter != nil && !filter(e)) {
			continue
		}
		out[e.SourceID] = struct{}{}
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Horizon returns the retention horizon.
func (c *Cache) Horizon() time.Duration { return c.horizon }

// Run sweeps expired entries every SweepInterval until ctx is done or
// Shutdown is called.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case <-ticker.C:
			if n := c.Evict(c.now()); n > 0 {
				c.logger.InfoContext(ctx, "expired entries evicted",
					slog.Int("evicted", n),
					slog.Int("remaining", c.Len()),
				)
			}
		}
	}
}

// Shutdown stops Run. It is safe to call more than once.
func (c *Cache) Shutdown() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) evictLocked(now time.Time) int {
	cutoff := now.Add(-c.horizon).UnixMilli()
	kept := c.entries[:0]
	removed := 0
	for _, e := range c.entries {
		age, ok := AgeKey(&e)
		if ok && age < cutoff {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Clear the tail so dropped events can be collected.
	for i := len(kept); i < len(c.entries); i++ {
		c.entries[i] = domain.FillEvent{}
	}
	c.entries = kept
	if removed > 0 {
		c.reindexLocked()
	}
	return removed
}

// normalizeLocked sorts newest first, enforces the size cap and rebuilds the
// key index.
func (c *Cache) normalizeLocked() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		ai, _ := AgeKey(&c.entries[i])
		aj, _ := AgeKey(&c.entries[j])
		return ai > aj
	})
	if len(c.entries) > c.max {
		dropped := len(c.entries) - c.max
		for i := c.max; i < len(c.entries); i++ {
			c.entries[i] = domain.FillEvent{}
		}
		c.entries = c.entries[:c.max]
		c.logger.Debug("cache truncated", slog.Int("dropped", dropped))
	}
	c.reindexLocked()
}

func (c *Cache) reindexLocked() {
	clear(c.keys)
	for i := range c.entries {
		if k, ok := KeyOf(&c.entries[i]); ok {
			if _, dup := c.keys[k]; !dup {
				c.keys[k] = i
			}
		}
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// AgeKey returns the retention timestamp of ev in epoch ms: ReceivedAt when
// set, otherwise the event timestamp read as ms or seconds by magnitude.
// ok is false when the event carries no usable time; such entries are never
// evicted by age.
func AgeKey(ev *domain.FillEvent) (int64, bool) {
	if !ev.ReceivedAt.IsZero() {
		return ev.ReceivedAt.UnixMilli(), true
	}
	ts := ev.EventTimestamp
	if ev.TimestampInvalid || ts <= 0 {
		return 0, false
	}
	if ts > msThreshold {
		return ts, true
	}
	return ts * 1000, true
}
