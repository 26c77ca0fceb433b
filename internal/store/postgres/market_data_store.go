package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// querier is the part of pgxpool.Pool the snapshot stores read through.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MarketDataStore serves Polymarket best bid/offer snapshots from the
// market_data table. It implements domain.SnapshotStore.
type MarketDataStore struct {
	db querier
}

// NewMarketDataStore creates a MarketDataStore backed by db, usually a
// *pgxpool.Pool.
func NewMarketDataStore(db querier) *MarketDataStore {
	return &MarketDataStore{db: db}
}

const marketDataQuery = `
	SELECT
		bbo::float8,
		best_bid::float8,
		best_ask::float8,
		(EXTRACT(EPOCH FROM polymarket_timestamp) * 1000)::bigint AS timestamp_ms
	FROM market_data
	WHERE game_slug = $1
	  AND LOWER(TRIM(outcome)) = $2
	  AND polymarket_timestamp >= $3
	  AND polymarket_timestamp <= $4
	  AND bbo IS NOT NULL
	  AND bbo > 0
	ORDER BY polymarket_timestamp ASC`

type marketDataRow struct {
	bbo     float64
	bestBid *float64
	bestAsk *float64
	tsMs    int64
}

// Query returns the group's snapshots in [startMs, endMs], oldest first.
func (s *MarketDataStore) Query(ctx context.Context, slug, outcome string, startMs, endMs int64) ([]domain.Observation, error) {
	rows, err := s.db.Query(ctx, marketDataQuery,
		slug, outcome, time.UnixMilli(startMs).UTC(), time.UnixMilli(endMs).UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: query market_data %s/%s: %w", slug, outcome, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var r marketDataRow
		if err := rows.Scan(&r.bbo, &r.bestBid, &r.bestAsk, &r.tsMs); err != nil {
			return nil, fmt.Errorf("postgres: scan market_data: %w", err)
		}
		out = append(out, r.observation(slug, outcome))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate market_data: %w", err)
	}
	return out, nil
}

func (r marketDataRow) observation(slug, outcome string) domain.Observation {
	o := domain.Observation{
		TimestampMs:   r.tsMs,
		Value:         r.bbo,
		InstrumentKey: slug,
		OutcomeKey:    outcome,
		BestBid:       r.bestBid,
		BestAsk:       r.bestAsk,
	}
	if r.bestBid != nil && r.bestAsk != nil {
		spread := round4(*r.bestAsk - *r.bestBid)
		o.Spread = &spread
	}
	return o
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
