// Package rematch drives streaming fills through their enrichment life
// cycle: an immediate before lookup, then after lookups on a fixed set of
// delays until a settled quote is found or the last delay passes.
package rematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/matcher"
	"github.com/alanyoungcy/fillscope/internal/metrics"
)

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("rematch: scheduler closed")

// DefaultTicks are the after lookup delays, relative to receipt.
var DefaultTicks = []time.Duration{10 * time.Second, 60 * time.Second, 120 * time.Second}

const (
	DefaultPreferredBy = 60 * time.Second
	DefaultConcurrency = 5
)

// Joiner computes per-source join results for one fill.
type Joiner interface {
	Join(ctx context.Context, ev domain.FillEvent, sides matcher.Sides) []domain.JoinResult
}

// Store receives every refinement of a fill.
type Store interface {
	Upsert(ev domain.FillEvent)
}

// Options configures a Scheduler.
type Options struct {
	Ticks []time.Duration
	// PreferredBy is the last tick at which a preferred after settles early.
	PreferredBy time.Duration
	// Concurrency bounds simultaneous snapshot lookups across all fills.
	Concurrency int64
	Clock       Clock
}

// pending is one fill awaiting its after observation. mu serialises the
// fill's ticks.
type pending struct {
	mu       sync.Mutex
	ev       domain.FillEvent
	resolved []string
	timers   []Timer
	done     bool
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	joiner      Joiner
	store       Store
	sink        domain.Sink
	gate        *semaphore.Weighted
	clock       Clock
	ticks       []time.Duration
	preferredBy time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[string]*pending
	// inflight holds IDs whose before lookup is running.
	inflight map[string]struct{}
	closed   bool
}

// New creates a Scheduler. sink may be nil.
func New(joiner Joiner, store Store, sink domain.Sink, opts Options, logger *slog.Logger) *Scheduler {
	if len(opts.Ticks) == 0 {
		opts.Ticks = DefaultTicks
	}
	if opts.PreferredBy <= 0 {
		opts.PreferredBy = DefaultPreferredBy
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		joiner:      joiner,
		store:       store,
		sink:        sink,
		gate:        semaphore.NewWeighted(opts.Concurrency),
		clock:       opts.Clock,
		ticks:       opts.Ticks,
		preferredBy: opts.PreferredBy,
		logger:      logger.With(slog.String("component", "rematch")),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]*pending),
		inflight:    make(map[string]struct{}),
	}
}

// Submit enriches ev with its before observations, stores and publishes it,
// and schedules the after lookups. The before result is published before
// any after lookup can start.
func (s *Scheduler) Submit(ctx context.Context, ev domain.FillEvent) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	_, dup := s.pending[ev.ID]
	_, busy := s.inflight[ev.ID]
	if dup || busy {
		s.mu.Unlock()
		return nil
	}
	s.inflight[ev.ID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, ev.ID)
		s.mu.Unlock()
	}()

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.clock.Now().UTC()
	}

	if err := s.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("rematch: acquire gate: %w", err)
	}
	results := s.joiner.Join(ctx, ev, matcher.Before)
	s.gate.Release(1)

	var resolved []string
	for _, r := range results {
		ev.ApplyResult(r)
		if r.Resolved() {
			resolved = append(resolved, r.Source)
		}
	}
	s.emit(ctx, ev)

	if len(resolved) == 0 {
		return nil
	}

	p := &pending{ev: ev, resolved: resolved}
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.pending[ev.ID] = p
	s.mu.Unlock()
	metrics.PendingRematches.Inc()

	now := s.clock.Now()
	for i, d := range s.ticks {
		delay := max(ev.ReceivedAt.Add(d).Sub(now), 0)
		s.wg.Add(1)
		p.timers = append(p.timers, s.clock.AfterFunc(delay, func() {
			defer s.wg.Done()
			s.tick(p, i)
		}))
	}
	return nil
}

// Pending returns the number of fills awaiting settlement.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Shutdown cancels all scheduled lookups and waits for running ones.
// Results of lookups interrupted by the shutdown are discarded.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	all := make([]*pending, 0, len(s.pending))
	for _, p := range s.pending {
		all = append(all, p)
	}
	clear(s.pending)
	s.mu.Unlock()

	s.cancel()
	for _, p := range all {
		p.mu.Lock()
		if !p.done {
			p.done = true
			s.stopTimers(p, 0)
			metrics.PendingRematches.Dec()
		}
		p.mu.Unlock()
	}
	s.wg.Wait()
	s.logger.Info("rematch scheduler stopped", slog.Int("abandoned", len(all)))
}

func (s *Scheduler) tick(p *pending, i int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}

	delay := s.ticks[i].String()
	ctx := s.ctx
	if err := s.gate.Acquire(ctx, 1); err != nil {
		metrics.RematchTicks.WithLabelValues(delay, "cancelled").Inc()
		return
	}
	results := s.joiner.Join(ctx, p.ev, matcher.After)
	s.gate.Release(1)
	if ctx.Err() != nil {
		metrics.RematchTicks.WithLabelValues(delay, "cancelled").Inc()
		return
	}

	working := p.ev.Clone()
	changed := false
	for _, r := range results {
		if r.After == nil {
			continue
		}
		working.ApplyResult(r)
		changed = true
	}
	if changed {
		working.RecomputeDiffs()
		p.ev = working
		s.emit(ctx, working)
	}

	final := i == len(s.ticks)-1
	if !final && !(s.ticks[i] <= s.preferredBy && s.allPreferred(p)) {
		metrics.RematchTicks.WithLabelValues(delay, "pending").Inc()
		return
	}

	p.done = true
	s.stopTimers(p, i+1)
	s.mu.Lock()
	if s.pending[p.ev.ID] == p {
		delete(s.pending, p.ev.ID)
	}
	s.mu.Unlock()
	metrics.PendingRematches.Dec()
	metrics.RematchTicks.WithLabelValues(delay, "settled").Inc()
	s.logger.Debug("fill settled",
		slog.String("id", p.ev.ID),
		slog.String("tick", delay),
		slog.Bool("final", final),
	)
}

// allPreferred reports whether every source that resolved the fill has a
// preferred after observation.
func (s *Scheduler) allPreferred(p *pending) bool {
	for _, src := range p.resolved {
		if !p.ev.Result(src).HasPreferredAfter() {
			return false
		}
	}
	return true
}

// stopTimers stops p's timers from index from onwards. Timers stopped before
// firing release their WaitGroup slot here.
func (s *Scheduler) stopTimers(p *pending, from int) {
	for _, t := range p.timers[min(from, len(p.timers)):] {
		if t.Stop() {
			s.wg.Done()
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, ev domain.FillEvent) {
	s.store.Upsert(ev)
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish failed",
			slog.String("id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}
