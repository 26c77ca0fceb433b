package resolver

import (
	"strings"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// Pinnacle keys deltas rows by league and team. Team sports go through the
// mapping table; labels missing from it do not resolve. Player leagues fall
// back to the title-cased label, matched by containment. That fallback is a
// best-effort guess and can pair a fill with the wrong player when names
// overlap.
type Pinnacle struct {
	m *Mappings
}

// NewPinnacle creates a Pinnacle resolver over m.
func NewPinnacle(m *Mappings) *Pinnacle {
	return &Pinnacle{m: m}
}

func (p *Pinnacle) Resolve(label, slug string) (domain.ResolvedKey, bool) {
	league := p.m.League(slug)
	if league == "" || strings.TrimSpace(label) == "" {
		return domain.ResolvedKey{}, false
	}
	if team, ok := p.m.Team(league, label); ok {
		return domain.ResolvedKey{InstrumentKey: league, OutcomeKey: team}, true
	}
	if p.m.IsFuzzy(league) {
		return domain.ResolvedKey{InstrumentKey: league, OutcomeKey: titleCase(label), Fuzzy: true}, true
	}
	return domain.ResolvedKey{}, false
}
