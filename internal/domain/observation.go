package domain

// Observation is one timestamped quote from a snapshot source. Value holds the
// primary quoted price (the BBO for Polymarket, bbo_price for Pinnacle).
type Observation struct {
	TimestampMs   int64    `json:"timestamp_ms"`
	Value         float64  `json:"bbo"`
	InstrumentKey string   `json:"instrument_key"`
	OutcomeKey    string   `json:"outcome_key"`
	Spread        *float64 `json:"spread,omitempty"`
	BestBid       *float64 `json:"best_bid,omitempty"`
	BestAsk       *float64 `json:"best_ask,omitempty"`
	Percentage    *float64 `json:"percentage,omitempty"`
	TotalSpread   *float64 `json:"total_spread,omitempty"`

	// PairedKey is the outcome key of the opposing side, when the source
	// quotes two-sided markets.
	PairedKey string `json:"opposing_team,omitempty"`
	Label     string `json:"team,omitempty"`
}

// ResolvedKey addresses one group in a snapshot store.
type ResolvedKey struct {
	InstrumentKey string
	OutcomeKey    string
	// Fuzzy marks keys that matched on a best-effort basis and should be
	// compared by containment rather than equality.
	Fuzzy bool
}
