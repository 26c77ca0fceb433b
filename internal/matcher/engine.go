// Package matcher joins fills against snapshot sources. It is source
// agnostic: each source contributes a resolver and a store, and the engine
// applies the same before/after policy to all of them.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/metrics"
	"github.com/alanyoungcy/fillscope/internal/snapshot"
)

// Sides selects which halves of the join to compute.
type Sides uint8

const (
	Before Sides = 1 << iota
	After
	Both = Before | After
)

// Source is one snapshot source participating in the join.
type Source struct {
	Name     string
	Resolver domain.NameResolver
	Store    domain.SnapshotStore
	// Opponent enables the closest-in-time lookup of the paired outcome.
	Opponent bool
}

// Options configures the join windows.
type Options struct {
	Window      time.Duration
	SettleDelay time.Duration
}

// Engine computes JoinResults for fills.
type Engine struct {
	sources  []Source
	windowMs int64
	settleMs int64
	logger   *slog.Logger
}

// New creates an Engine over the given sources. Zero options fall back to the
// snapshot package defaults.
func New(sources []Source, opts Options, logger *slog.Logger) *Engine {
	if opts.Window <= 0 {
		opts.Window = snapshot.DefaultWindow
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = snapshot.DefaultSettleDelay
	}
	return &Engine{
		sources:  sources,
		windowMs: opts.Window.Milliseconds(),
		settleMs: opts.SettleDelay.Milliseconds(),
		logger:   logger.With(slog.String("component", "matcher")),
	}
}

// Sources returns the configured source names in join order.
func (e *Engine) Sources() []string {
	names := make([]string, len(e.sources))
	for i, s := range e.sources {
		names[i] = s.Name
	}
	return names
}

// Window returns the configured join window.
func (e *Engine) Window() time.Duration {
	return time.Duration(e.windowMs) * time.Millisecond
}

// Join computes one result per source for ev, loading observations over
// [ts - window, ts + window].
func (e *Engine) Join(ctx context.Context, ev domain.FillEvent, sides Sides) []domain.JoinResult {
	ts := ev.EventTimestamp
	return e.NewScope(ts-e.windowMs, ts+e.windowMs).Join(ctx, ev, sides)
}

// NewScope returns a Scope that loads each group once over [startMs, endMs]
// and reuses it for every fill joined through the scope.
func (e *Engine) NewScope(startMs, endMs int64) *Scope {
	return &Scope{
		engine:  e,
		startMs: startMs,
		endMs:   endMs,
		loaded:  make(map[scopeKey]loaded),
	}
}

type scopeKey struct {
	source     string
	instrument string
	outcome    string
}

type loaded struct {
	idx *snapshot.Index
	err error
}

// Scope memoises snapshot indexes for a fixed time range.
type Scope struct {
	engine  *Engine
	startMs int64
	endMs   int64

	mu     sync.Mutex
	loaded map[scopeKey]loaded
}

// Join computes one result per source for ev.
func (s *Scope) Join(ctx context.Context, ev domain.FillEvent, sides Sides) []domain.JoinResult {
	results := make([]domain.JoinResult, 0, len(s.engine.sources))
	for _, src := range s.engine.sources {
		r := s.joinSource(ctx, src, ev, sides)
		metrics.JoinsTotal.WithLabelValues(src.Name, string(r.Status)).Inc()
		results = append(results, r)
	}
	return results
}

func (s *Scope) joinSource(ctx context.Context, src Source, ev domain.FillEvent, sides Sides) domain.JoinResult {
	e := s.engine
	r := domain.JoinResult{Source: src.Name}

	if ev.TimestampInvalid || ev.EventTimestamp <= 0 {
		r.Status = domain.JoinMalformedTimestamp
		return r
	}

	key, ok := src.Resolver.Resolve(ev.OutcomeLabel, ev.InstrumentKey)
	if !ok {
		e.logger.DebugContext(ctx, "no key mapping",
			slog.String("source", src.Name),
			slog.String("label", ev.OutcomeLabel),
			slog.String("instrument", ev.InstrumentKey),
		)
		r.Status = domain.JoinResolutionMiss
		return r
	}

	idx, err := s.index(ctx, src, key)
	if err != nil {
		var lf *snapshot.LoadFailure
		if errors.As(err, &lf) && lf.Reason == snapshot.Empty {
			r.Status = domain.JoinNoData
			return r
		}
		e.logger.WarnContext(ctx, "snapshot load failed",
			slog.String("source", src.Name),
			slog.String("instrument", key.InstrumentKey),
			slog.String("outcome", key.OutcomeKey),
			slog.String("error", err.Error()),
		)
		r.Status = domain.JoinStoreUnavailable
		r.Err = err.Error()
		return r
	}

	ts := ev.EventTimestamp
	if sides&Before != 0 {
		r.Before = idx.NearestBefore(ts, e.windowMs)
	}
	if sides&After != 0 {
		r.After = idx.PreferredAfter(ts, e.settleMs, e.windowMs)
	}
	if src.Opponent {
		s.attachOpponent(ctx, src, key, r.Before)
		s.attachOpponent(ctx, src, key, r.After)
	}

	r.Status = domain.JoinOK
	if r.Before == nil && r.After == nil {
		r.Status = domain.JoinNoData
	}
	return r
}

// attachOpponent records the paired outcome's observation closest to m.
// Failures leave m unchanged.
func (s *Scope) attachOpponent(ctx context.Context, src Source, key domain.ResolvedKey, m *domain.Match) {
	if m == nil || m.Observation.PairedKey == "" {
		return
	}
	oppKey := domain.ResolvedKey{InstrumentKey: key.InstrumentKey, OutcomeKey: m.Observation.PairedKey}
	idx, err := s.index(ctx, src, oppKey)
	if err != nil {
		return
	}
	m.Opponent = idx.Closest(m.Observation.TimestampMs)
}

func (s *Scope) index(ctx context.Context, src Source, key domain.ResolvedKey) (*snapshot.Index, error) {
	k := scopeKey{source: src.Name, instrument: key.InstrumentKey, outcome: key.OutcomeKey}

	s.mu.Lock()
	if l, ok := s.loaded[k]; ok {
		s.mu.Unlock()
		return l.idx, l.err
	}
	s.mu.Unlock()

	idx, err := snapshot.Load(ctx, src.Store, src.Name, key, s.startMs, s.endMs)

	// Cancellation is not a property of the group; do not memoise it.
	if ctx.Err() != nil {
		return idx, err
	}
	s.mu.Lock()
	s.loaded[k] = loaded{idx: idx, err: err}
	s.mu.Unlock()
	return idx, err
}
