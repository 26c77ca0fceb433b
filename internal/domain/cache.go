package domain

import (
	"context"
	"time"
)

// AccountCache stores Polymarket account lookups for a limited time.
// Get returns ErrNotFound for missing or expired entries.
type AccountCache interface {
	Get(ctx context.Context, address string) (AccountInfo, error)
	Set(ctx context.Context, info AccountInfo, ttl time.Duration) error
}

// SignalBus is a pub/sub channel used to fan enriched fills out to every
// connected websocket hub.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
