package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs whichever ingestion paths are configured. A nil
// ingester or analyzer disables that path; RefreshInterval 0 leaves the
// analyzer on demand only.
type Orchestrator struct {
	Ingester        *StreamIngester
	Analyzer        *Analyzer
	RefreshInterval time.Duration
	Logger          *slog.Logger
}

// Run blocks until ctx is done or a path fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if o.Ingester != nil {
		g.Go(func() error {
			o.Logger.Info("stream ingestion starting")
			err := o.Ingester.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream ingestion: %w", err)
		})
	}

	if o.Analyzer != nil && o.RefreshInterval > 0 {
		g.Go(func() error {
			o.Logger.Info("scheduled trade feed refresh starting", slog.Duration("interval", o.RefreshInterval))
			err := o.Analyzer.Run(ctx, o.RefreshInterval)
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("trade feed refresh: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.Logger.Error("pipeline stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.Logger.Info("pipeline stopped")
	return nil
}
