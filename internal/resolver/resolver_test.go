package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

func mappings(t *testing.T) *Mappings {
	t.Helper()
	m, err := DefaultMappings()
	require.NoError(t, err)
	return m
}

func TestEmbeddedTableHasEveryLeague(t *testing.T) {
	m := mappings(t)
	for league, n := range map[string]int{"MLB": 30, "NFL": 32, "NHL": 33, "NBA": 31} {
		assert.Len(t, m.Teams[league], n, league)
	}
}

func TestLeague(t *testing.T) {
	m := mappings(t)
	assert.Equal(t, "NBA", m.League("nba-bos-lal-2026-01-14"))
	assert.Equal(t, "ATP", m.League("atp-sinner-alcaraz-2026-01-20"))
	assert.Equal(t, "", m.League("epl-ars-che-2026-01-14"))
	assert.Equal(t, "", m.League(""))
}

func TestPinnacleResolve(t *testing.T) {
	p := NewPinnacle(mappings(t))
	tests := []struct {
		name  string
		label string
		slug  string
		want  domain.ResolvedKey
		ok    bool
	}{
		{"team sport", "Celtics", "nba-bos-lal-2026-01-14", domain.ResolvedKey{InstrumentKey: "NBA", OutcomeKey: "BOS"}, true},
		{"multi word team", "  Blue Jays ", "mlb-tor-nyy-2026-07-01", domain.ResolvedKey{InstrumentKey: "MLB", OutcomeKey: "TOR"}, true},
		{"same label per league", "Giants", "nfl-nyg-dal-2026-10-04", domain.ResolvedKey{InstrumentKey: "NFL", OutcomeKey: "NYG"}, true},
		{"unmapped team", "Sonics", "nba-sea-lal-2026-01-14", domain.ResolvedKey{}, false},
		{"unknown league", "Arsenal", "epl-ars-che-2026-01-14", domain.ResolvedKey{}, false},
		{"tennis fallback", "jannik SINNER", "atp-sinner-alcaraz-2026-01-20", domain.ResolvedKey{InstrumentKey: "ATP", OutcomeKey: "Jannik Sinner", Fuzzy: true}, true},
		{"empty label", "", "nba-bos-lal-2026-01-14", domain.ResolvedKey{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Resolve(tt.label, tt.slug)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolymarketResolve(t *testing.T) {
	got, ok := Polymarket{}.Resolve(" Celtics ", "nba-bos-lal-2026-01-14")
	require.True(t, ok)
	assert.Equal(t, domain.ResolvedKey{InstrumentKey: "nba-bos-lal-2026-01-14", OutcomeKey: "celtics"}, got)

	_, ok = Polymarket{}.Resolve("Yes", "")
	assert.False(t, ok)
}

func TestParseMappingsRejectsBadInput(t *testing.T) {
	_, err := ParseMappings("leagues = [")
	assert.Error(t, err)
}
