// Package batch enriches a bulk set of fills. Fills are partitioned by
// instrument so each snapshot group is loaded once per partition, and
// partitions run on a bounded worker pool.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/matcher"
	"github.com/alanyoungcy/fillscope/internal/metrics"
)

const (
	DefaultMaxWorkers = 8
	DefaultBuffer     = 5 * time.Minute
)

// Joiner opens a join scope over a fixed time range.
type Joiner interface {
	NewScope(startMs, endMs int64) *matcher.Scope
}

// Options configures a Coordinator.
type Options struct {
	MaxWorkers int
	// Buffer widens each partition's range on both sides.
	Buffer time.Duration
}

// Progress is reported once per finished partition. Completed increases by
// one with every report.
type Progress struct {
	Completed int
	Total     int
	Key       string
	Fills     int
	Err       error
}

// Failure describes a partition that degraded. Its fills are still part of
// the report, with whatever enrichment was obtained.
type Failure struct {
	Key   string
	Fills int
	Err   error
}

// Report is the outcome of a Run.
type Report struct {
	Fills      []domain.FillEvent
	Partitions int
	Skipped    int
	Failures   []Failure
	Duration   time.Duration
}

// Coordinator runs batch enrichment.
type Coordinator struct {
	joiner     Joiner
	maxWorkers int
	bufferMs   int64
	logger     *slog.Logger
}

// New creates a Coordinator.
func New(joiner Joiner, opts Options, logger *slog.Logger) *Coordinator {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	return &Coordinator{
		joiner:     joiner,
		maxWorkers: opts.MaxWorkers,
		bufferMs:   opts.Buffer.Milliseconds(),
		logger:     logger.With(slog.String("component", "batch")),
	}
}

type partition struct {
	key   string
	fills []domain.FillEvent
	minMs int64
	maxMs int64
}

type outcome struct {
	part *partition
	err  error
}

// Run enriches fills and returns them in the report. Fills that cannot be
// joined are passed through: a malformed timestamp is marked on every source,
// a fill with no instrument is left unchanged.
// progress may be nil; it is always called from a single goroutine.
func (c *Coordinator) Run(ctx context.Context, fills []domain.FillEvent, progress func(Progress)) Report {
	start := time.Now()
	parts, skipped := c.partition(fills)
	report := Report{
		Fills:      make([]domain.FillEvent, 0, len(fills)),
		Partitions: len(parts),
		Skipped:    len(skipped),
	}
	report.Fills = append(report.Fills, c.stampSkipped(ctx, skipped)...)

	if len(parts) == 0 {
		report.Duration = time.Since(start)
		return report
	}

	workers := min(runtime.NumCPU(), len(parts), c.maxWorkers)
	results := make(chan outcome)

	var g errgroup.Group
	g.SetLimit(workers)
	go func() {
		for _, p := range parts {
			g.Go(func() error {
				results <- outcome{part: p, err: c.runPartition(ctx, p)}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		report.Fills = append(report.Fills, res.part.fills...)
		outcomeLabel := "ok"
		if res.err != nil {
			outcomeLabel = "degraded"
			report.Failures = append(report.Failures, Failure{Key: res.part.key, Fills: len(res.part.fills), Err: res.err})
			c.logger.WarnContext(ctx, "partition degraded",
				slog.String("instrument", res.part.key),
				slog.Int("fills", len(res.part.fills)),
				slog.String("error", res.err.Error()),
			)
		}
		metrics.PartitionsTotal.WithLabelValues(outcomeLabel).Inc()
		if progress != nil {
			progress(Progress{
				Completed: completed,
				Total:     len(parts),
				Key:       res.part.key,
				Fills:     len(res.part.fills),
				Err:       res.err,
			})
		}
	}

	report.Duration = time.Since(start)
	metrics.BatchDuration.Observe(report.Duration.Seconds())
	c.logger.InfoContext(ctx, "batch complete",
		slog.Int("fills", len(report.Fills)),
		slog.Int("partitions", report.Partitions),
		slog.Int("failures", len(report.Failures)),
		slog.Int("skipped", report.Skipped),
		slog.Duration("duration", report.Duration),
	)
	return report
}

// stampSkipped records malformed_timestamp for every source on skipped fills
// with a bad timestamp. The scope returns before touching any store.
func (c *Coordinator) stampSkipped(ctx context.Context, skipped []domain.FillEvent) []domain.FillEvent {
	var scope *matcher.Scope
	for i := range skipped {
		ev := &skipped[i]
		if !ev.TimestampInvalid && ev.EventTimestamp > 0 {
			continue
		}
		if scope == nil {
			scope = c.joiner.NewScope(0, 0)
		}
		for _, r := range scope.Join(ctx, *ev, matcher.Both) {
			ev.ApplyResult(r)
		}
	}
	return skipped
}

// partition groups fills by instrument in first-seen order.
func (c *Coordinator) partition(fills []domain.FillEvent) ([]*partition, []domain.FillEvent) {
	var (
		parts   []*partition
		skipped []domain.FillEvent
		byKey   = make(map[string]*partition)
	)
	for _, ev := range fills {
		if ev.InstrumentKey == "" || ev.TimestampInvalid || ev.EventTimestamp <= 0 {
			skipped = append(skipped, ev)
			continue
		}
		p, ok := byKey[ev.InstrumentKey]
		if !ok {
			p = &partition{key: ev.InstrumentKey, minMs: ev.EventTimestamp, maxMs: ev.EventTimestamp}
			byKey[ev.InstrumentKey] = p
			parts = append(parts, p)
		}
		p.fills = append(p.fills, ev)
		p.minMs = min(p.minMs, ev.EventTimestamp)
		p.maxMs = max(p.maxMs, ev.EventTimestamp)
	}
	return parts, skipped
}

// runPartition enriches p.fills in place. A panic or a store failure is
// returned as the partition error; fills already enriched keep their results.
func (c *Coordinator) runPartition(ctx context.Context, p *partition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch: partition %s: panic: %v", p.key, r)
		}
	}()

	scope := c.joiner.NewScope(p.minMs-c.bufferMs, p.maxMs+c.bufferMs)
	var storeErr string
	for i := range p.fills {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch: partition %s: %w", p.key, err)
		}
		ev := &p.fills[i]
		for _, r := range scope.Join(ctx, *ev, matcher.Both) {
			if r.Status == domain.JoinStoreUnavailable && storeErr == "" {
				storeErr = r.Source + ": " + r.Err
			}
			ev.ApplyResult(r)
		}
		ev.RecomputeDiffs()
	}
	if storeErr != "" {
		return fmt.Errorf("batch: partition %s: %w: %s", p.key, domain.ErrStoreUnavailable, storeErr)
	}
	return nil
}
