package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/matcher"
)

type slugResolver struct{ panicOn string }

func (r slugResolver) Resolve(label, slug string) (domain.ResolvedKey, bool) {
	if slug == r.panicOn {
		panic("bad mapping table")
	}
	return domain.ResolvedKey{InstrumentKey: slug, OutcomeKey: strings.ToLower(label)}, true
}

type countingStore struct {
	mu      sync.Mutex
	rows    []domain.Observation
	failFor string
	queries map[string]int
}

func (s *countingStore) Query(_ context.Context, instrument, outcome string, startMs, endMs int64) ([]domain.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queries == nil {
		s.queries = make(map[string]int)
	}
	s.queries[instrument+"/"+outcome]++
	if instrument == s.failFor {
		return nil, errors.New("connection reset")
	}
	var out []domain.Observation
	for _, o := range s.rows {
		if o.InstrumentKey == instrument && o.OutcomeKey == outcome && o.TimestampMs >= startMs && o.TimestampMs <= endMs {
			out = append(out, o)
		}
	}
	return out, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fill(id, slug string, ts int64) domain.FillEvent {
	return domain.FillEvent{ID: id, SourceID: id, InstrumentKey: slug, OutcomeLabel: "Yes", Price: 0.5, EventTimestamp: ts}
}

func coordinator(store *countingStore, res slugResolver) *Coordinator {
	eng := matcher.New([]matcher.Source{{Name: domain.SourcePolymarket, Resolver: res, Store: store}}, matcher.Options{}, discard())
	return New(eng, Options{MaxWorkers: 4}, discard())
}

func TestRunEnrichesEveryPartition(t *testing.T) {
	store := &countingStore{rows: []domain.Observation{
		{TimestampMs: 995_000, Value: 0.40, InstrumentKey: "a", OutcomeKey: "yes"},
		{TimestampMs: 1_011_000, Value: 0.45, InstrumentKey: "a", OutcomeKey: "yes"},
		{TimestampMs: 1_995_000, Value: 0.60, InstrumentKey: "b", OutcomeKey: "yes"},
	}}
	fills := []domain.FillEvent{
		fill("1", "a", 1_000_000),
		fill("2", "b", 2_000_000),
		fill("3", "a", 1_001_000),
	}

	var progress []Progress
	report := coordinator(store, slugResolver{}).Run(context.Background(), fills, func(p Progress) {
		progress = append(progress, p)
	})

	assert.Equal(t, 2, report.Partitions)
	assert.Empty(t, report.Failures)
	require.Len(t, report.Fills, 3)
	byID := map[string]domain.FillEvent{}
	for _, ev := range report.Fills {
		byID[ev.ID] = ev
	}
	ev1, ev2 := byID["1"], byID["2"]
	r := ev1.Result(domain.SourcePolymarket)
	require.NotNil(t, r)
	assert.InDelta(t, 0.40, r.Before.Observation.Value, 1e-9)
	assert.True(t, r.After.Preferred)
	assert.InDelta(t, 0.60, ev2.Result(domain.SourcePolymarket).Before.Observation.Value, 1e-9)

	assert.Equal(t, 1, store.queries["a/yes"], "one load per group per partition")

	require.Len(t, progress, 2)
	for i, p := range progress {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, 2, p.Total)
	}
}

func TestPartitionPanicIsIsolated(t *testing.T) {
	store := &countingStore{rows: []domain.Observation{
		{TimestampMs: 995_000, Value: 0.40, InstrumentKey: "good", OutcomeKey: "yes"},
	}}
	fills := []domain.FillEvent{fill("1", "bad", 1_000_000), fill("2", "good", 1_000_000)}

	report := coordinator(store, slugResolver{panicOn: "bad"}).Run(context.Background(), fills, nil)

	require.Len(t, report.Failures, 1)
	assert.Equal(t, "bad", report.Failures[0].Key)
	assert.Contains(t, report.Failures[0].Err.Error(), "panic")
	require.Len(t, report.Fills, 2)
	for _, ev := range report.Fills {
		if ev.ID == "2" {
			assert.NotNil(t, ev.Result(domain.SourcePolymarket).Before)
		}
	}
}

func TestStoreFailureDegradesPartition(t *testing.T) {
	store := &countingStore{failFor: "a"}
	report := coordinator(store, slugResolver{}).Run(context.Background(), []domain.FillEvent{fill("1", "a", 1_000_000)}, nil)

	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, domain.ErrStoreUnavailable)
	require.Len(t, report.Fills, 1)
	assert.Equal(t, domain.JoinStoreUnavailable, report.Fills[0].Result(domain.SourcePolymarket).Status)
}

func TestMalformedFillsPassThrough(t *testing.T) {
	bad := fill("1", "a", 0)
	bad.TimestampInvalid = true
	noSlug := fill("2", "", 1_000_000)
	store := &countingStore{}

	var calls int
	report := coordinator(store, slugResolver{}).Run(context.Background(), []domain.FillEvent{bad, noSlug}, func(Progress) { calls++ })

	assert.Equal(t, 0, report.Partitions)
	assert.Equal(t, 2, report.Skipped)
	require.Len(t, report.Fills, 2)
	assert.Zero(t, calls)
	assert.Empty(t, store.queries)

	byID := map[string]domain.FillEvent{}
	for _, ev := range report.Fills {
		byID[ev.ID] = ev
	}
	ev1 := byID["1"]
	r := ev1.Result(domain.SourcePolymarket)
	require.NotNil(t, r)
	assert.Equal(t, domain.JoinMalformedTimestamp, r.Status)
	assert.Nil(t, byID["2"].Enrichment)
}

type peakStore struct {
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (s *peakStore) Query(_ context.Context, _, _ string, _, _ int64) ([]domain.Observation, error) {
	s.mu.Lock()
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	s.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	return nil, nil
}

func TestWorkersCappedByMaxWorkers(t *testing.T) {
	store := &peakStore{}
	eng := matcher.New([]matcher.Source{{Name: domain.SourcePolymarket, Resolver: slugResolver{}, Store: store}}, matcher.Options{}, discard())
	c := New(eng, Options{MaxWorkers: 2}, discard())

	var fills []domain.FillEvent
	for i := range 16 {
		fills = append(fills, fill(strconv.Itoa(i), "slug-"+strconv.Itoa(i), 1_000_000))
	}
	report := c.Run(context.Background(), fills, nil)

	assert.Equal(t, 16, report.Partitions)
	assert.Len(t, report.Fills, 16)
	assert.Empty(t, report.Failures)
	assert.LessOrEqual(t, store.peak, min(2, runtime.NumCPU()))
	assert.GreaterOrEqual(t, store.peak, 1)
}

func TestWorkersCappedByPartitions(t *testing.T) {
	store := &peakStore{}
	eng := matcher.New([]matcher.Source{{Name: domain.SourcePolymarket, Resolver: slugResolver{}, Store: store}}, matcher.Options{}, discard())
	c := New(eng, Options{MaxWorkers: 64}, discard())

	fills := []domain.FillEvent{fill("1", "only", 1_000_000), fill("2", "only", 1_001_000)}
	report := c.Run(context.Background(), fills, nil)

	assert.Equal(t, 1, report.Partitions)
	assert.Equal(t, 1, store.peak, "one partition loads its group once on one worker")
}

func TestCancelledRunStillReturnsFills(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := coordinator(&countingStore{}, slugResolver{}).Run(ctx, []domain.FillEvent{fill("1", "a", 1_000_000)}, nil)

	assert.Len(t, report.Fills, 1)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0].Err, context.Canceled)
}
