package domain

import (
	"encoding/json"
	"time"
)

// Origin identifies which event source produced a fill.
type Origin string

const (
	OriginTradeFeed Origin = "tradefeed"
	OriginDome      Origin = "dome"
)

// FillEvent is a single executed trade fill. Identity fields are set by the
// event source; enrichment fields are filled in place by whichever pipeline
// stage currently owns the event.
type FillEvent struct {
	ID               string    `json:"id"`
	SourceID         string    `json:"source_id"`
	Origin           Origin    `json:"origin"`
	InstrumentKey    string    `json:"market_slug"`
	OutcomeLabel     string    `json:"token_label"`
	Price            float64   `json:"price"`
	Size             float64   `json:"size"`
	Notional         float64   `json:"fill_value,omitempty"`
	EventTimestamp   int64     `json:"timestamp_ms"`
	TimestampInvalid bool      `json:"timestamp_invalid,omitempty"`
	ReceivedAt       time.Time `json:"received_at,omitempty"`

	// Metadata carried through from the source.
	User             string          `json:"user,omitempty"`
	Taker            string          `json:"taker,omitempty"`
	TxHash           string          `json:"tx_hash,omitempty"`
	LogIndex         int64           `json:"log_index,omitempty"`
	Side             string          `json:"side,omitempty"`
	League           string          `json:"league,omitempty"`
	Title            string          `json:"title,omitempty"`
	SubscriptionID   string          `json:"subscription_id,omitempty"`
	ImpliedPrice     *float64        `json:"implied_price,omitempty"`
	PriceBeforeMax   *float64        `json:"price_before_max_individual,omitempty"`
	OrderSubmittedAt *time.Time      `json:"order_submitted_at,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`

	Enrichment         map[string]*JoinResult `json:"enrichment,omitempty"`
	Sportsbook         *PriceDiff             `json:"sportbook,omitempty"`
	PinnacleSportsbook *PriceDiff             `json:"pinnacle_sportbook,omitempty"`
}

// PriceDiff compares the fill price with a reference price observed after the
// fill. PricePct is in percentage points on the 0-1 price scale.
type PriceDiff struct {
	Reference float64 `json:"best_bid"`
	FillPrice float64 `json:"fill_price"`
	Price     float64 `json:"price_diff"`
	PricePct  float64 `json:"price_diff_pct"`
}

// EventTime returns the fill time, or the zero time when the timestamp could
// not be parsed.
func (f *FillEvent) EventTime() time.Time {
	if f.TimestampInvalid || f.EventTimestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.EventTimestamp).UTC()
}

// Result returns the enrichment for source, or nil.
func (f *FillEvent) Result(source string) *JoinResult {
	if f.Enrichment == nil {
		return nil
	}
	return f.Enrichment[source]
}

// Clone returns a copy whose enrichment map and results can be mutated
// without affecting f.
func (f FillEvent) Clone() FillEvent {
	out := f
	if f.Enrichment != nil {
		out.Enrichment = make(map[string]*JoinResult, len(f.Enrichment))
		for k, v := range f.Enrichment {
			if v == nil {
				continue
			}
			r := *v
			out.Enrichment[k] = &r
		}
	}
	if f.Sportsbook != nil {
		d := *f.Sportsbook
		out.Sportsbook = &d
	}
	if f.PinnacleSportsbook != nil {
		d := *f.PinnacleSportsbook
		out.PinnacleSportsbook = &d
	}
	return out
}

// ApplyResult records r on the event. A side already set is only replaced by
// a non-nil side, so enrichment never regresses to empty.
func (f *FillEvent) ApplyResult(r JoinResult) {
	if f.Enrichment == nil {
		f.Enrichment = make(map[string]*JoinResult)
	}
	cur, ok := f.Enrichment[r.Source]
	if !ok || cur == nil {
		cp := r
		f.Enrichment[r.Source] = &cp
		return
	}
	if r.Before != nil {
		cur.Before = r.Before
	}
	if r.After != nil {
		cur.After = r.After
	}
	cur.Status = r.Status
	cur.Err = r.Err
}
