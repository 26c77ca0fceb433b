package domain

// JoinStatus classifies the outcome of a join against one snapshot source.
type JoinStatus string

const (
	JoinOK                 JoinStatus = "ok"
	JoinNoData             JoinStatus = "no_data"
	JoinResolutionMiss     JoinStatus = "resolution_miss"
	JoinStoreUnavailable   JoinStatus = "store_unavailable"
	JoinMalformedTimestamp JoinStatus = "malformed_timestamp"
)

// Match is an observation chosen for a fill together with its distance from
// the fill time.
type Match struct {
	Observation     Observation  `json:"observation"`
	SecondsFromFill float64      `json:"seconds_from_fill"`
	Preferred       bool         `json:"preferred"`
	Opponent        *Observation `json:"opponent,omitempty"`
}

// JoinResult is the before/after pair found in one snapshot source.
type JoinResult struct {
	Source string     `json:"source"`
	Before *Match     `json:"before"`
	After  *Match     `json:"after"`
	Status JoinStatus `json:"status"`
	Err    string     `json:"error,omitempty"`
}

// Resolved reports whether the source had a key mapping for the fill.
func (r *JoinResult) Resolved() bool {
	return r != nil && r.Status != JoinResolutionMiss && r.Status != JoinMalformedTimestamp
}

// HasPreferredAfter reports whether the after side met the settle delay.
func (r *JoinResult) HasPreferredAfter() bool {
	return r != nil && r.After != nil && r.After.Preferred
}
