package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

const pinnacleBook = "Pinnacle"

// DeltasStore serves Pinnacle quotes from the deltas table. The instrument
// key is the league and the outcome key the team. It implements
// domain.SnapshotStore.
type DeltasStore struct {
	db    querier
	fuzzy func(league string) bool
}

// NewDeltasStore creates a DeltasStore. fuzzy reports which leagues match
// teams by substring; it may be nil.
func NewDeltasStore(db querier, fuzzy func(league string) bool) *DeltasStore {
	if fuzzy == nil {
		fuzzy = func(string) bool { return false }
	}
	return &DeltasStore{db: db, fuzzy: fuzzy}
}

const deltasSelect = `
	SELECT
		timestamp_ms,
		team,
		opposing_team,
		percentage::text,
		bbo_price::float8,
		total_spread::text
	FROM deltas
	WHERE sportsbook = $1
	  AND timestamp_ms >= $2
	  AND timestamp_ms <= $3
	  AND UPPER(sport) = $4`

// deltasQuery returns the statement and arguments for one group. Both sides
// of a game are selected so the opponent can be looked up from the same rows.
func deltasQuery(league, team string, startMs, endMs int64, fuzzy bool) (string, []any) {
	args := []any{pinnacleBook, startMs, endMs, strings.ToUpper(league)}
	if fuzzy {
		return deltasSelect + `
	  AND (UPPER(team) LIKE UPPER($5) OR UPPER(opposing_team) LIKE UPPER($5))
	ORDER BY timestamp_ms ASC`, append(args, "%"+team+"%")
	}
	return deltasSelect + `
	  AND (team = $5 OR opposing_team = $5)
	ORDER BY timestamp_ms ASC`, append(args, team)
}

type deltasRow struct {
	tsMs         int64
	team         *string
	opposingTeam *string
	percentage   *string
	bboPrice     *float64
	totalSpread  *string
}

// Query returns the league's quotes mentioning team in [startMs, endMs],
// oldest first, with locked and unpriced rows removed.
func (s *DeltasStore) Query(ctx context.Context, league, team string, startMs, endMs int64) ([]domain.Observation, error) {
	sql, args := deltasQuery(league, team, startMs, endMs, s.fuzzy(league))
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query deltas %s/%s: %w", league, team, err)
	}
	defer rows.Close()

	var out []domain.Observation
	for rows.Next() {
		var r deltasRow
		if err := rows.Scan(&r.tsMs, &r.team, &r.opposingTeam, &r.percentage, &r.bboPrice, &r.totalSpread); err != nil {
			return nil, fmt.Errorf("postgres: scan deltas: %w", err)
		}
		if !r.valid() {
			continue
		}
		out = append(out, r.observation(league))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate deltas: %w", err)
	}
	return out, nil
}

// valid drops locked lines and rows without a usable price.
func (r deltasRow) valid() bool {
	if locked(r.percentage) || locked(r.totalSpread) {
		return false
	}
	return r.bboPrice != nil && *r.bboPrice != 0
}

func (r deltasRow) observation(league string) domain.Observation {
	team := deref(r.team)
	return domain.Observation{
		TimestampMs:   r.tsMs,
		Value:         *r.bboPrice,
		InstrumentKey: league,
		OutcomeKey:    team,
		Label:         team,
		PairedKey:     deref(r.opposingTeam),
		Percentage:    parseNumber(r.percentage),
		TotalSpread:   parseNumber(r.totalSpread),
	}
}

func locked(s *string) bool {
	return s != nil && strings.Contains(strings.ToUpper(*s), "LOCKED")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// parseNumber reads numeric text such as "52.4" or "+1.5"; anything else is
// nil.
func parseNumber(s *string) *float64 {
	if s == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(*s), "%"), 64)
	if err != nil {
		return nil
	}
	return &v
}
