package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from a JSON bool or a "true"/"false" string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexString unmarshals a JSON string or number into its text form. null
// leaves it unset.
type flexString struct {
	v   string
	set bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.v, f.set = s, true
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	f.v, f.set = n.String(), true
	return nil
}

func (f flexString) ptr() *string {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// tradedResponse is the body of GET /traded.
type tradedResponse struct {
	Traded int64 `json:"traded"`
}

// LeaderboardEntry is one row of GET /v1/leaderboard.
type LeaderboardEntry struct {
	Rank          flexString `json:"rank"`
	Volume        float64    `json:"vol"`
	PnL           float64    `json:"pnl"`
	VerifiedBadge flexBool   `json:"verifiedBadge"`
}

// profileResponse is the body of GET /api/profile/userData.
type profileResponse struct {
	Name          *string  `json:"name"`
	Pseudonym     *string  `json:"pseudonym"`
	CreatedAt     *string  `json:"createdAt"`
	VerifiedBadge flexBool `json:"verifiedBadge"`
}

func formatInt(n int64) string { return strconv.FormatInt(n, 10) }
