package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/rematch"
)

const (
	DefaultBatchSize = 10
	DefaultFirstWait = 500 * time.Millisecond
	DefaultNextWait  = 100 * time.Millisecond
	DefaultWorkers   = 3
)

// Submitter is satisfied by *rematch.Scheduler.
type Submitter interface {
	Submit(ctx context.Context, ev domain.FillEvent) error
}

// StreamOptions tunes a StreamIngester. Zero values take the defaults.
type StreamOptions struct {
	BatchSize int
	// FirstWait bounds the wait for the first event of a batch, NextWait
	// the wait for each following one.
	FirstWait time.Duration
	NextWait  time.Duration
	Workers   int
}

// StreamIngester groups streamed orders into small batches and hands each
// batch to a worker, which submits its events to the scheduler
// concurrently.
type StreamIngester struct {
	stream domain.EventStream
	sub    Submitter
	opts   StreamOptions
	logger *slog.Logger
}

// NewStreamIngester creates a StreamIngester.
func NewStreamIngester(stream domain.EventStream, sub Submitter, opts StreamOptions, logger *slog.Logger) *StreamIngester {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FirstWait <= 0 {
		opts.FirstWait = DefaultFirstWait
	}
	if opts.NextWait <= 0 {
		opts.NextWait = DefaultNextWait
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &StreamIngester{
		stream: stream,
		sub:    sub,
		opts:   opts,
		logger: logger.With(slog.String("component", "stream_ingester")),
	}
}

// Run consumes the stream until ctx is done or the stream closes.
func (s *StreamIngester) Run(ctx context.Context) error {
	events, err := s.stream.Stream(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: open stream: %w", err)
	}

	batches := make(chan []domain.FillEvent, s.opts.Workers)
	var wg sync.WaitGroup
	for range s.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batches {
				s.submitBatch(ctx, b)
			}
		}()
	}

	defer func() {
		close(batches)
		wg.Wait()
	}()

	for {
		b, open := s.nextBatch(ctx, events)
		if len(b) > 0 {
			select {
			case batches <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if !open {
			if err := ctx.Err(); err != nil {
				return err
			}
			return errors.New("pipeline: event stream closed")
		}
	}
}

// nextBatch collects up to BatchSize events. It returns early on a wait
// timeout, and reports open=false once the stream is closed or ctx is done.
func (s *StreamIngester) nextBatch(ctx context.Context, events <-chan domain.FillEvent) ([]domain.FillEvent, bool) {
	var b []domain.FillEvent
	timer := time.NewTimer(s.opts.FirstWait)
	defer timer.Stop()
	for len(b) < s.opts.BatchSize {
		select {
		case <-ctx.Done():
			return b, false
		case ev, ok := <-events:
			if !ok {
				return b, false
			}
			b = append(b, ev)
			timer.Reset(s.opts.NextWait)
		case <-timer.C:
			return b, true
		}
	}
	return b, true
}

func (s *StreamIngester) submitBatch(ctx context.Context, b []domain.FillEvent) {
	var wg sync.WaitGroup
	for _, ev := range b {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.sub.Submit(ctx, ev); err != nil && !errors.Is(err, rematch.ErrClosed) {
				s.logger.WarnContext(ctx, "submit failed",
					slog.String("order_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	wg.Wait()
	s.logger.DebugContext(ctx, "batch submitted", slog.Int("size", len(b)))
}
