package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func str(s string) *string   { return &s }
func num(v float64) *float64 { return &v }

func TestMarketDataRowObservation(t *testing.T) {
	o := marketDataRow{bbo: 0.455, bestBid: num(0.45), bestAsk: num(0.46123), tsMs: 995_000}.
		observation("nba-bos-lal-2026-01-14", "celtics")

	assert.Equal(t, int64(995_000), o.TimestampMs)
	assert.Equal(t, 0.455, o.Value)
	assert.Equal(t, "celtics", o.OutcomeKey)
	require.NotNil(t, o.Spread)
	assert.InDelta(t, 0.0112, *o.Spread, 1e-12)
}

func TestMarketDataRowWithoutBookHasNoSpread(t *testing.T) {
	o := marketDataRow{bbo: 0.5, bestBid: num(0.49), tsMs: 1}.observation("s", "yes")
	assert.Nil(t, o.Spread)
}

func TestDeltasRowValid(t *testing.T) {
	tests := []struct {
		name string
		row  deltasRow
		want bool
	}{
		{"priced", deltasRow{bboPrice: num(0.52), percentage: str("52.1")}, true},
		{"locked percentage", deltasRow{bboPrice: num(0.52), percentage: str("Locked")}, false},
		{"locked spread", deltasRow{bboPrice: num(0.52), totalSpread: str("LOCKED")}, false},
		{"no price", deltasRow{percentage: str("52.1")}, false},
		{"zero price", deltasRow{bboPrice: num(0)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.row.valid())
		})
	}
}

func TestDeltasRowObservation(t *testing.T) {
	o := deltasRow{
		tsMs:         1_011_000,
		team:         str("BOS"),
		opposingTeam: str("LAL"),
		percentage:   str("54.3%"),
		bboPrice:     num(0.55),
		totalSpread:  str("n/a"),
	}.observation("NBA")

	assert.Equal(t, "NBA", o.InstrumentKey)
	assert.Equal(t, "BOS", o.OutcomeKey)
	assert.Equal(t, "LAL", o.PairedKey)
	require.NotNil(t, o.Percentage)
	assert.InDelta(t, 54.3, *o.Percentage, 1e-9)
	assert.Nil(t, o.TotalSpread)
}

func TestDeltasQuery(t *testing.T) {
	sql, args := deltasQuery("nba", "BOS", 1, 2, false)
	assert.Contains(t, sql, "team = $5 OR opposing_team = $5")
	assert.Equal(t, []any{"Pinnacle", int64(1), int64(2), "NBA", "BOS"}, args)

	sql, args = deltasQuery("ATP", "Sinner", 1, 2, true)
	assert.Contains(t, sql, "LIKE UPPER($5)")
	assert.Equal(t, "%Sinner%", args[4])
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db.render.com:5432/md?sslmode=require",
		DSN(ClientConfig{Host: "db.render.com", User: "u", Password: "p", Database: "md"}))
	assert.Equal(t, "postgres://u:p@localhost:5433/md?sslmode=disable",
		DSN(ClientConfig{Host: "localhost", Port: 5433, User: "u", Password: "p", Database: "md"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x"}))
}
