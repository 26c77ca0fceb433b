// Package pipeline drives the two ingestion paths: the bulk trade-feed
// analyzer and the streaming order ingester.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/fillscope/internal/batch"
	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/history"
	"github.com/alanyoungcy/fillscope/internal/notify"
)

const (
	DefaultMaxFills       = 3000
	DefaultFreshnessGuard = 3 * time.Minute
)

// Runner enriches a bulk set of fills.
type Runner interface {
	Run(ctx context.Context, fills []domain.FillEvent, progress func(batch.Progress)) batch.Report
}

// Archiver stores the raw fills of one fetch.
type Archiver interface {
	Archive(ctx context.Context, fills []domain.FillEvent, cursor *int64, at time.Time) (string, error)
}

// Alerter is satisfied by *notify.Notifier.
type Alerter interface {
	Notify(ctx context.Context, a notify.Alert) error
}

// AnalyzerOptions tunes an Analyzer. Zero values take the defaults.
type AnalyzerOptions struct {
	MaxFills       int
	FreshnessGuard time.Duration
	Now            func() time.Time
}

// RefreshRequest selects what a refresh returns. HoursBack 0 means no age
// filter; Limit 0 means AnalyzerOptions.MaxFills.
type RefreshRequest struct {
	HoursBack int
	Limit     int
}

func (r RefreshRequest) key() string {
	return strconv.Itoa(r.HoursBack) + ":" + strconv.Itoa(r.Limit)
}

// RefreshResult is the outcome of a refresh.
type RefreshResult struct {
	Fills      []domain.FillEvent `json:"data"`
	Fetched    int                `json:"fetched"`
	TooFresh   int                `json:"too_fresh"`
	Processed  int                `json:"processed"`
	Added      int                `json:"added"`
	Partitions int                `json:"partitions"`
	Failures   int                `json:"failed_partitions"`
	Cursor     *int64             `json:"cursor,omitempty"`
	Shared     bool               `json:"shared"`
}

// Analyzer fetches new trade-feed fills, enriches them in bulk and merges
// them into the retention cache. Concurrent identical refreshes share one
// run.
type Analyzer struct {
	source   domain.EventSource
	runner   Runner
	cache    *history.Cache
	archiver Archiver
	alerter  Alerter
	opts     AnalyzerOptions
	logger   *slog.Logger

	group singleflight.Group

	mu sync.Mutex
	// life bounds shared runs; callers leaving early do not cancel them.
	life        context.Context
	cursor      *int64
	refreshedAt time.Time
	listeners   map[string]map[int]func(batch.Progress)
	nextID      int
}

// NewAnalyzer creates an Analyzer. archiver and alerter may be nil.
func NewAnalyzer(source domain.EventSource, runner Runner, cache *history.Cache, archiver Archiver, alerter Alerter, opts AnalyzerOptions, logger *slog.Logger) *Analyzer {
	if opts.MaxFills <= 0 {
		opts.MaxFills = DefaultMaxFills
	}
	if opts.FreshnessGuard <= 0 {
		opts.FreshnessGuard = DefaultFreshnessGuard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Analyzer{
		source:    source,
		runner:    runner,
		cache:     cache,
		archiver:  archiver,
		alerter:   alerter,
		opts:      opts,
		logger:    logger.With(slog.String("component", "analyzer")),
		life:      context.Background(),
		listeners: make(map[string]map[int]func(batch.Progress)),
	}
}

// IsTradeFeed selects bulk fills in the shared cache.
func IsTradeFeed(ev *domain.FillEvent) bool {
	return ev.Origin == domain.OriginTradeFeed
}

// Refresh runs one incremental fetch-enrich-merge cycle and returns the
// cached trade-feed fills. progress, when non-nil, receives every partition
// update of the run this call joins. The run itself outlives ctx: it is
// shared with other callers and only stops with the context given to Run.
func (a *Analyzer) Refresh(ctx context.Context, req RefreshRequest, progress func(batch.Progress)) (RefreshResult, error) {
	if req.Limit <= 0 {
		req.Limit = a.opts.MaxFills
	}
	key := req.key()
	if progress != nil {
		id := a.listen(key, progress)
		defer a.unlisten(key, id)
	}

	ch := a.group.DoChan(key, func() (any, error) {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(a.lifetime(), cancel)
		defer stop()
		return a.refresh(runCtx, req, key)
	})
	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		out := res.Val.(RefreshResult)
		out.Shared = res.Shared
		out.Fills = a.Snapshot(req.HoursBack)
		return out, nil
	}
}

func (a *Analyzer) refresh(ctx context.Context, req RefreshRequest, key string) (RefreshResult, error) {
	start := a.opts.Now()
	a.mu.Lock()
	cursor := a.cursor
	a.mu.Unlock()

	fetched, next, err := a.source.FetchSince(ctx, cursor, req.Limit)
	if err != nil {
		if len(fetched) == 0 {
			return RefreshResult{}, fmt.Errorf("pipeline: fetch trade feed: %w", err)
		}
		a.logger.WarnContext(ctx, "partial trade feed fetch",
			slog.Int("fetched", len(fetched)),
			slog.String("error", err.Error()),
		)
	}

	res := RefreshResult{Fetched: len(fetched)}
	known := a.cache.SourceIDs(IsTradeFeed)
	fresh := start.Add(-a.opts.FreshnessGuard).UnixMilli()
	var cutoff int64
	if req.HoursBack > 0 {
		cutoff = start.Add(-time.Duration(req.HoursBack) * time.Hour).UnixMilli()
	}

	work := make([]domain.FillEvent, 0, len(fetched))
	seen := make(map[history.Key]struct{}, len(fetched))
	var freshIDs []int64
	for _, ev := range fetched {
		valid := !ev.TimestampInvalid && ev.EventTimestamp > 0
		if valid && ev.EventTimestamp > fresh {
			res.TooFresh++
			if id, err := strconv.ParseInt(ev.SourceID, 10, 64); err == nil {
				freshIDs = append(freshIDs, id)
			}
			continue
		}
		if valid && cutoff > 0 && ev.EventTimestamp < cutoff {
			continue
		}
		if _, ok := known[ev.SourceID]; ok {
			continue
		}
		if k, ok := history.KeyOf(&ev); ok {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		work = append(work, ev)
	}

	report := a.runner.Run(ctx, work, func(p batch.Progress) { a.broadcast(key, p) })
	if err := ctx.Err(); err != nil {
		// Joins failed on cancellation, not on the stores; leave the cursor
		// so the next run fetches these fills again.
		return RefreshResult{}, fmt.Errorf("pipeline: refresh interrupted: %w", err)
	}
	res.Processed = len(report.Fills)
	res.Partitions = report.Partitions
	res.Failures = len(report.Failures)
	if len(report.Failures) > 0 {
		a.alertDegraded(ctx, report)
	}
	res.Added = a.cache.MergeBatch(report.Fills)

	res.Cursor = resumeCursor(cursor, next, fetched, freshIDs)
	a.mu.Lock()
	a.cursor = res.Cursor
	a.refreshedAt = a.opts.Now()
	a.mu.Unlock()

	if a.archiver != nil && len(fetched) > 0 {
		if path, err := a.archiver.Archive(ctx, fetched, next, start); err != nil {
			a.logger.WarnContext(ctx, "archive raw fetch failed", slog.String("error", err.Error()))
		} else {
			a.logger.DebugContext(ctx, "raw fetch archived", slog.String("path", path))
		}
	}

	a.logger.InfoContext(ctx, "trade feed refreshed",
		slog.Int("fetched", res.Fetched),
		slog.Int("too_fresh", res.TooFresh),
		slog.Int("processed", res.Processed),
		slog.Int("added", res.Added),
		slog.Int("failed_partitions", res.Failures),
		slog.Duration("duration", a.opts.Now().Sub(start)),
	)
	return res, nil
}

// resumeCursor returns where the next fetch starts. Fills held back by the
// freshness guard must be fetched again, so the cursor stops below the
// oldest of them.
func resumeCursor(prev, next *int64, fetched []domain.FillEvent, freshIDs []int64) *int64 {
	if len(freshIDs) == 0 {
		if next == nil {
			return prev
		}
		return next
	}
	lowest := freshIDs[0]
	for _, id := range freshIDs[1:] {
		lowest = min(lowest, id)
	}
	best := prev
	for i := range fetched {
		id, err := strconv.ParseInt(fetched[i].SourceID, 10, 64)
		if err != nil || id >= lowest {
			continue
		}
		if best == nil || id > *best {
			v := id
			best = &v
		}
	}
	return best
}

func (a *Analyzer) alertDegraded(ctx context.Context, report batch.Report) {
	if a.alerter == nil {
		return
	}
	keys := make([]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		keys = append(keys, f.Key)
	}
	err := a.alerter.Notify(ctx, notify.Alert{
		Event:   notify.EventBatchDegraded,
		Title:   "Bulk enrichment degraded",
		Message: fmt.Sprintf("%d of %d partitions failed", len(report.Failures), report.Partitions),
		Fields:  []notify.Field{{Name: "markets", Value: strings.Join(keys, ", ")}},
	})
	if err != nil {
		a.logger.WarnContext(ctx, "alert failed", slog.String("error", err.Error()))
	}
}

// Snapshot returns the cached trade-feed fills, newest first, limited to
// the last hoursBack hours when positive. Fills with an unusable timestamp
// are always included.
func (a *Analyzer) Snapshot(hoursBack int) []domain.FillEvent {
	var cutoff int64
	if hoursBack > 0 {
		cutoff = a.opts.Now().Add(-time.Duration(hoursBack) * time.Hour).UnixMilli()
	}
	return a.cache.Snapshot(func(ev *domain.FillEvent) bool {
		if !IsTradeFeed(ev) {
			return false
		}
		if cutoff == 0 || ev.TimestampInvalid || ev.EventTimestamp <= 0 {
			return true
		}
		return ev.EventTimestamp >= cutoff
	})
}

// CacheAge is the time since the last completed refresh, or 0 before the
// first one.
func (a *Analyzer) CacheAge() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.refreshedAt.IsZero() {
		return 0
	}
	return a.opts.Now().Sub(a.refreshedAt)
}

// Loaded reports whether a refresh has completed.
func (a *Analyzer) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.refreshedAt.IsZero()
}

// Run refreshes every interval until ctx is done. ctx also bounds on-demand
// refreshes started while Run is active.
func (a *Analyzer) Run(ctx context.Context, interval time.Duration) error {
	a.Bind(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.Refresh(ctx, RefreshRequest{}, nil); err != nil && ctx.Err() == nil {
			a.logger.ErrorContext(ctx, "scheduled refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Bind sets the context that cancels shared runs, normally the
// application lifetime.
func (a *Analyzer) Bind(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.life = ctx
}

func (a *Analyzer) lifetime() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.life
}

func (a *Analyzer) listen(key string, fn func(batch.Progress)) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	if a.listeners[key] == nil {
		a.listeners[key] = make(map[int]func(batch.Progress))
	}
	a.listeners[key][a.nextID] = fn
	return a.nextID
}

func (a *Analyzer) unlisten(key string, id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners[key], id)
	if len(a.listeners[key]) == 0 {
		delete(a.listeners, key)
	}
}

func (a *Analyzer) broadcast(key string, p batch.Progress) {
	a.mu.Lock()
	fns := make([]func(batch.Progress), 0, len(a.listeners[key]))
	for _, fn := range a.listeners[key] {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}
