// Package sink fans enriched fills out to every delivery channel.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// OrderUpdateChannel is the SignalBus channel enriched fills are published on.
const OrderUpdateChannel = "fillscope:order-update"

// Fanout publishes to every sink. A failing sink does not stop the others.
type Fanout struct {
	sinks  []domain.Sink
	logger *slog.Logger
}

// NewFanout creates a Fanout. Nil sinks are skipped.
func NewFanout(logger *slog.Logger, sinks ...domain.Sink) *Fanout {
	f := &Fanout{logger: logger.With(slog.String("component", "sink"))}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Publish(ctx context.Context, ev domain.FillEvent) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "publish failed",
				slog.String("order_id", ev.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bus publishes each fill as JSON on a SignalBus channel.
type Bus struct {
	bus     domain.SignalBus
	channel string
}

// NewBus creates a Bus. channel defaults to OrderUpdateChannel.
func NewBus(bus domain.SignalBus, channel string) *Bus {
	if channel == "" {
		channel = OrderUpdateChannel
	}
	return &Bus{bus: bus, channel: channel}
}

func (b *Bus) Publish(ctx context.Context, ev domain.FillEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sink: marshal fill %s: %w", ev.ID, err)
	}
	return b.bus.Publish(ctx, b.channel, payload)
}

var (
	_ domain.Sink = (*Fanout)(nil)
	_ domain.Sink = (*Bus)(nil)
)
