package resolver

import (
	"strings"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// Polymarket keys market_data rows by market slug and normalised outcome.
type Polymarket struct{}

// Resolve maps label onto (slug, lower(trim(label))).
func (Polymarket) Resolve(label, slug string) (domain.ResolvedKey, bool) {
	outcome := strings.ToLower(strings.TrimSpace(label))
	slug = strings.TrimSpace(slug)
	if outcome == "" || slug == "" {
		return domain.ResolvedKey{}, false
	}
	return domain.ResolvedKey{InstrumentKey: slug, OutcomeKey: outcome}, true
}
