package domain

import "context"

// SnapshotStore is a queryable time series of observations addressed by
// instrument and outcome key. Results are ordered by timestamp ascending.
type SnapshotStore interface {
	Query(ctx context.Context, instrumentKey, outcomeKey string, startMs, endMs int64) ([]Observation, error)
}

// NameResolver translates a human label into a snapshot store key. groupHint
// is the instrument the label belongs to (a market slug).
type NameResolver interface {
	Resolve(label, groupHint string) (ResolvedKey, bool)
}

// EventSource is a pull-based, paginated fill source. A nil cursor fetches
// from the newest fill backwards.
type EventSource interface {
	FetchSince(ctx context.Context, cursor *int64, maxCount int) ([]FillEvent, *int64, error)
}

// EventStream is a push-based fill source. The channel is closed when ctx
// is done.
type EventStream interface {
	Stream(ctx context.Context) (<-chan FillEvent, error)
}

// Sink receives enriched fills. Delivery is at-least-once.
type Sink interface {
	Publish(ctx context.Context, ev FillEvent) error
}
