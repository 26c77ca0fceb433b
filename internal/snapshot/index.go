// Package snapshot holds time-ordered observation sets for one
// (instrument, outcome) group and answers the windowed neighbour queries used
// to enrich fills.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

const (
	// DefaultWindow bounds how far from the fill an observation may lie.
	DefaultWindow = 5 * time.Minute
	// DefaultSettleDelay is the minimum age of a preferred after observation.
	DefaultSettleDelay = 10 * time.Second
)

// Reason classifies a LoadFailure.
type Reason int

const (
	Unavailable Reason = iota
	Empty
)

func (r Reason) String() string {
	switch r {
	case Unavailable:
		return "unavailable"
	case Empty:
		return "empty"
	default:
		return "unknown"
	}
}

// LoadFailure reports why an index could not be built. It wraps
// domain.ErrStoreUnavailable or domain.ErrNoData.
type LoadFailure struct {
	Source string
	Key    domain.ResolvedKey
	Reason Reason
	Err    error
}

func (f *LoadFailure) Error() string {
	return fmt.Sprintf("snapshot: load %s %s/%s: %s: %v",
		f.Source, f.Key.InstrumentKey, f.Key.OutcomeKey, f.Reason, f.Err)
}

func (f *LoadFailure) Unwrap() error { return f.Err }

// Index is an ascending-by-timestamp set of observations for one group. A nil
// *Index is valid and answers every query with nil.
type Index struct {
	key     domain.ResolvedKey
	startMs int64
	endMs   int64
	obs     []domain.Observation
}

// Load queries store for the group over [startMs, endMs] and builds an index.
// Store errors and empty results come back as *LoadFailure; Load never panics
// on store misbehaviour.
func Load(ctx context.Context, store domain.SnapshotStore, source string, key domain.ResolvedKey, startMs, endMs int64) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = &LoadFailure{Source: source, Key: key, Reason: Unavailable,
				Err: fmt.Errorf("%w: panic: %v", domain.ErrStoreUnavailable, r)}
		}
	}()

	obs, qerr := store.Query(ctx, key.InstrumentKey, key.OutcomeKey, startMs, endMs)
	if qerr != nil {
		return nil, &LoadFailure{Source: source, Key: key, Reason: Unavailable,
			Err: errors.Join(domain.ErrStoreUnavailable, qerr)}
	}

	built := New(key, startMs, endMs, obs)
	if built.Len() == 0 {
		return nil, &LoadFailure{Source: source, Key: key, Reason: Empty, Err: domain.ErrNoData}
	}
	return built, nil
}

// New builds an index from obs, dropping observations outside the group or
// the range, and sorting the rest by timestamp.
func New(key domain.ResolvedKey, startMs, endMs int64, obs []domain.Observation) *Index {
	kept := make([]domain.Observation, 0, len(obs))
	for _, o := range obs {
		if !strings.EqualFold(o.InstrumentKey, key.InstrumentKey) || !outcomeMatches(key, o.OutcomeKey) {
			continue
		}
		if o.TimestampMs < startMs || o.TimestampMs > endMs {
			continue
		}
		kept = append(kept, o)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].TimestampMs < kept[j].TimestampMs
	})
	return &Index{key: key, startMs: startMs, endMs: endMs, obs: kept}
}

// Key returns the group the index was built for.
func (x *Index) Key() domain.ResolvedKey {
	if x == nil {
		return domain.ResolvedKey{}
	}
	return x.key
}

// Len returns the number of observations.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.obs)
}

// Covers reports whether [startMs, endMs] lies inside the loaded range.
func (x *Index) Covers(startMs, endMs int64) bool {
	return x != nil && startMs >= x.startMs && endMs <= x.endMs
}

// NearestBefore returns the most recent observation at or before targetMs
// that is no more than windowMs older than it.
func (x *Index) NearestBefore(targetMs, windowMs int64) *domain.Match {
	if x.Len() == 0 {
		return nil
	}
	i := sort.Search(len(x.obs), func(i int) bool { return x.obs[i].TimestampMs > targetMs })
	if i == 0 {
		return nil
	}
	o := x.obs[i-1]
	if targetMs-o.TimestampMs > windowMs {
		return nil
	}
	return newMatch(o, targetMs, false)
}

// PreferredAfter returns the first observation at least settleMs after
// targetMs, flagged preferred. When none exists within windowMs it falls back
// to the first observation strictly after targetMs, flagged non-preferred.
func (x *Index) PreferredAfter(targetMs, settleMs, windowMs int64) *domain.Match {
	if x.Len() == 0 {
		return nil
	}
	limit := targetMs + windowMs

	i := sort.Search(len(x.obs), func(i int) bool { return x.obs[i].TimestampMs >= targetMs+settleMs })
	if i < len(x.obs) && x.obs[i].TimestampMs <= limit {
		return newMatch(x.obs[i], targetMs, true)
	}

	j := sort.Search(len(x.obs), func(i int) bool { return x.obs[i].TimestampMs > targetMs })
	if j < len(x.obs) && x.obs[j].TimestampMs <= limit {
		return newMatch(x.obs[j], targetMs, false)
	}
	return nil
}

// Closest returns the observation nearest to targetMs in either direction.
// On a tie the earlier observation wins.
func (x *Index) Closest(targetMs int64) *domain.Observation {
	if x.Len() == 0 {
		return nil
	}
	i := sort.Search(len(x.obs), func(i int) bool { return x.obs[i].TimestampMs >= targetMs })
	best := -1
	if i < len(x.obs) {
		best = i
	}
	if i > 0 {
		prev := i - 1
		if best < 0 || abs64(targetMs-x.obs[prev].TimestampMs) <= abs64(x.obs[best].TimestampMs-targetMs) {
			best = prev
		}
	}
	o := x.obs[best]
	return &o
}

// SecondsFrom returns the signed distance of tsMs from targetMs in seconds.
// Observations before the target are negative.
func SecondsFrom(targetMs, tsMs int64) float64 {
	return float64(tsMs-targetMs) / 1000
}

// outcomeMatches compares case-insensitively. Fuzzy keys also accept
// containment in either direction ("Sinner" matches "Jannik Sinner").
func outcomeMatches(key domain.ResolvedKey, outcome string) bool {
	if strings.EqualFold(outcome, key.OutcomeKey) {
		return true
	}
	if !key.Fuzzy || key.OutcomeKey == "" || outcome == "" {
		return false
	}
	a, b := strings.ToLower(outcome), strings.ToLower(key.OutcomeKey)
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func newMatch(o domain.Observation, targetMs int64, preferred bool) *domain.Match {
	return &domain.Match{
		Observation:     o,
		SecondsFromFill: SecondsFrom(targetMs, o.TimestampMs),
		Preferred:       preferred,
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
