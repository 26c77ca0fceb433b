package matcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

const slug = "nba-bos-lal-2026-01-14"

type mapResolver map[string]domain.ResolvedKey

func (m mapResolver) Resolve(label, _ string) (domain.ResolvedKey, bool) {
	k, ok := m[label]
	return k, ok
}

type memStore struct {
	mu      sync.Mutex
	rows    []domain.Observation
	err     error
	queries int
}

func (s *memStore) Query(_ context.Context, instrument, outcome string, startMs, endMs int64) ([]domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Observation
	for _, o := range s.rows {
		if o.InstrumentKey == instrument && o.OutcomeKey == outcome && o.TimestampMs >= startMs && o.TimestampMs <= endMs {
			out = append(out, o)
		}
	}
	return out, nil
}

func quote(outcome string, ts int64, v float64) domain.Observation {
	return domain.Observation{TimestampMs: ts, Value: v, InstrumentKey: slug, OutcomeKey: outcome}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fill(ts int64) domain.FillEvent {
	return domain.FillEvent{ID: "f1", InstrumentKey: slug, OutcomeLabel: "Celtics", Price: 0.41, EventTimestamp: ts}
}

var celtics = mapResolver{"Celtics": {InstrumentKey: slug, OutcomeKey: "celtics"}}

func TestJoinBothSides(t *testing.T) {
	store := &memStore{rows: []domain.Observation{
		quote("celtics", 995_000, 0.40),
		quote("celtics", 1_011_000, 0.45),
	}}
	eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: store}}, Options{}, discard())

	res := eng.Join(context.Background(), fill(1_000_000), Both)
	require.Len(t, res, 1)
	r := res[0]
	assert.Equal(t, domain.JoinOK, r.Status)
	require.NotNil(t, r.Before)
	require.NotNil(t, r.After)
	assert.InDelta(t, 0.40, r.Before.Observation.Value, 1e-9)
	assert.InDelta(t, -5.0, r.Before.SecondsFromFill, 1e-9)
	assert.InDelta(t, 0.45, r.After.Observation.Value, 1e-9)
	assert.InDelta(t, 11.0, r.After.SecondsFromFill, 1e-9)
	assert.True(t, r.After.Preferred)
}

func TestJoinBeforeOnly(t *testing.T) {
	store := &memStore{rows: []domain.Observation{
		quote("celtics", 995_000, 0.40),
		quote("celtics", 1_011_000, 0.45),
	}}
	eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: store}}, Options{}, discard())

	r := eng.Join(context.Background(), fill(1_000_000), Before)[0]
	assert.NotNil(t, r.Before)
	assert.Nil(t, r.After)
}

func TestJoinStatuses(t *testing.T) {
	ctx := context.Background()

	t.Run("resolution miss skips the store", func(t *testing.T) {
		store := &memStore{}
		eng := New([]Source{{Name: "pinnacle", Resolver: mapResolver{}, Store: store}}, Options{}, discard())
		r := eng.Join(ctx, fill(1_000_000), Both)[0]
		assert.Equal(t, domain.JoinResolutionMiss, r.Status)
		assert.Zero(t, store.queries)
	})

	t.Run("empty group", func(t *testing.T) {
		eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: &memStore{}}}, Options{}, discard())
		r := eng.Join(ctx, fill(1_000_000), Both)[0]
		assert.Equal(t, domain.JoinNoData, r.Status)
		assert.Nil(t, r.Before)
		assert.Nil(t, r.After)
	})

	t.Run("store failure", func(t *testing.T) {
		eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: &memStore{err: errors.New("conn refused")}}}, Options{}, discard())
		r := eng.Join(ctx, fill(1_000_000), Both)[0]
		assert.Equal(t, domain.JoinStoreUnavailable, r.Status)
		assert.Contains(t, r.Err, "conn refused")
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		store := &memStore{}
		eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: store}}, Options{}, discard())
		ev := fill(0)
		ev.TimestampInvalid = true
		r := eng.Join(ctx, ev, Both)[0]
		assert.Equal(t, domain.JoinMalformedTimestamp, r.Status)
		assert.Zero(t, store.queries)
	})
}

func TestFailingSourceDoesNotAffectOthers(t *testing.T) {
	good := &memStore{rows: []domain.Observation{quote("celtics", 995_000, 0.40)}}
	eng := New([]Source{
		{Name: "polymarket", Resolver: celtics, Store: good},
		{Name: "pinnacle", Resolver: celtics, Store: &memStore{err: errors.New("timeout")}},
	}, Options{}, discard())

	res := eng.Join(context.Background(), fill(1_000_000), Both)
	require.Len(t, res, 2)
	assert.Equal(t, domain.JoinOK, res[0].Status)
	assert.NotNil(t, res[0].Before)
	assert.Equal(t, domain.JoinStoreUnavailable, res[1].Status)
}

func TestScopeLoadsEachGroupOnce(t *testing.T) {
	store := &memStore{rows: []domain.Observation{
		quote("celtics", 995_000, 0.40),
		quote("celtics", 1_995_000, 0.50),
	}}
	eng := New([]Source{{Name: "polymarket", Resolver: celtics, Store: store}}, Options{}, discard())
	scope := eng.NewScope(0, 3_000_000)

	a := scope.Join(context.Background(), fill(1_000_000), Both)[0]
	b := scope.Join(context.Background(), fill(2_000_000), Both)[0]

	assert.Equal(t, 1, store.queries)
	assert.InDelta(t, 0.40, a.Before.Observation.Value, 1e-9)
	assert.InDelta(t, 0.50, b.Before.Observation.Value, 1e-9)
}

func TestOpponentAttachedClosestInTime(t *testing.T) {
	mine := quote("celtics", 995_000, 0.40)
	mine.PairedKey = "lakers"
	store := &memStore{rows: []domain.Observation{
		mine,
		quote("lakers", 980_000, 0.62),
		quote("lakers", 996_000, 0.60),
	}}
	eng := New([]Source{{Name: "pinnacle", Resolver: celtics, Store: store, Opponent: true}}, Options{}, discard())

	r := eng.Join(context.Background(), fill(1_000_000), Before)[0]
	require.NotNil(t, r.Before)
	require.NotNil(t, r.Before.Opponent)
	assert.Equal(t, int64(996_000), r.Before.Opponent.TimestampMs)
}

func TestSources(t *testing.T) {
	eng := New([]Source{{Name: "polymarket"}, {Name: "pinnacle"}}, Options{}, discard())
	assert.Equal(t, []string{"polymarket", "pinnacle"}, eng.Sources())
}
