// Package resolver maps fill labels onto the keys each snapshot store is
// indexed by.
package resolver

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/BurntSushi/toml"
)

//go:embed mappings.toml
var mappingsTOML string

// Mappings is the decoded label table.
type Mappings struct {
	Leagues      []string                     `toml:"leagues"`
	FuzzyLeagues []string                     `toml:"fuzzy_leagues"`
	Teams        map[string]map[string]string `toml:"teams"`

	leagues map[string]struct{}
	fuzzy   map[string]struct{}
}

// ParseMappings decodes a label table in the embedded format.
func ParseMappings(data string) (*Mappings, error) {
	var m Mappings
	if _, err := toml.Decode(data, &m); err != nil {
		return nil, fmt.Errorf("resolver: decode mappings: %w", err)
	}
	m.leagues = make(map[string]struct{}, len(m.Leagues))
	for _, l := range m.Leagues {
		m.leagues[strings.ToUpper(l)] = struct{}{}
	}
	m.fuzzy = make(map[string]struct{}, len(m.FuzzyLeagues))
	for _, l := range m.FuzzyLeagues {
		m.fuzzy[strings.ToUpper(l)] = struct{}{}
	}
	teams := make(map[string]map[string]string, len(m.Teams))
	for league, table := range m.Teams {
		norm := make(map[string]string, len(table))
		for label, key := range table {
			norm[strings.ToLower(strings.TrimSpace(label))] = key
		}
		teams[strings.ToUpper(league)] = norm
	}
	m.Teams = teams
	return &m, nil
}

var defaultMappings = sync.OnceValues(func() (*Mappings, error) {
	return ParseMappings(mappingsTOML)
})

// DefaultMappings returns the embedded table, decoded once.
func DefaultMappings() (*Mappings, error) {
	return defaultMappings()
}

// League returns the known league named by the slug prefix, or "".
func (m *Mappings) League(slug string) string {
	prefix, _, _ := strings.Cut(strings.TrimSpace(slug), "-")
	league := strings.ToUpper(prefix)
	if _, ok := m.leagues[league]; !ok {
		return ""
	}
	return league
}

// IsFuzzy reports whether league matches outcomes by name containment.
func (m *Mappings) IsFuzzy(league string) bool {
	_, ok := m.fuzzy[strings.ToUpper(league)]
	return ok
}

// Team returns the sportsbook key for label in league.
func (m *Mappings) Team(league, label string) (string, bool) {
	key, ok := m.Teams[strings.ToUpper(league)][strings.ToLower(strings.TrimSpace(label))]
	return key, ok
}

// titleCase upper-cases the first letter of each word and lower-cases the
// rest.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
