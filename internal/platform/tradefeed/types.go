package tradefeed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// flexFloat unmarshals from a JSON number or a numeric string. Empty
// strings and null leave it unset.
type flexFloat struct {
	v   float64
	set bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("tradefeed: parse number %q: %w", s, err)
		}
		f.v, f.set = v, true
		return nil
	}
	if err := json.Unmarshal(data, &f.v); err != nil {
		return err
	}
	f.set = true
	return nil
}

func (f *flexFloat) ptr() *float64 {
	if f == nil || !f.set {
		return nil
	}
	v := f.v
	return &v
}

type amount struct {
	Amount flexFloat `json:"amount"`
}

type exchange struct {
	MarketSlug string `json:"market_slug"`
}

type game struct {
	Sport  string `json:"sport"`
	League string `json:"league"`
}

type instrument struct {
	PolymarketExchange *exchange `json:"polymarket_exchange"`
	BoltoddsGame       *game     `json:"boltodds_game"`
	OpticoddsGame      *game     `json:"opticodds_game"`
}

type tradingPair struct {
	PolymarketExchange *exchange   `json:"polymarket_exchange"`
	PrimaryInstrument  *instrument `json:"primary_instrument"`
}

type placementLogic struct {
	ImpliedPrice   *flexFloat `json:"implied_price"`
	PriceBeforeMax *flexFloat `json:"price_before_max_individual"`
}

// APIFill is one entry of the order_fills feed.
type APIFill struct {
	ID             flexFloat       `json:"id"`
	InternalID     flexFloat       `json:"internal_id"`
	Side           string          `json:"side"`
	FillTxTS       string          `json:"fill_tx_ts"`
	RestStartBotTS json.RawMessage `json:"rest_start_bot_ts"`
	LastFillPrice  *amount         `json:"last_fill_price"`
	LastFillValue  *amount         `json:"last_fill_value"`
	PlacementLogic *placementLogic `json:"placement_logic"`
	ImpliedPrice   *flexFloat      `json:"implied_price"`
	PriceBeforeMax *flexFloat      `json:"price_before_max_individual"`
	TradingPair    *tradingPair    `json:"trading_pair"`
}

// FillID returns the feed id, falling back to internal_id.
func (a *APIFill) FillID() (int64, bool) {
	switch {
	case a.ID.set:
		return int64(a.ID.v), true
	case a.InternalID.set:
		return int64(a.InternalID.v), true
	default:
		return 0, false
	}
}

// MarketSlug returns the Polymarket slug from the trading pair, or from its
// primary instrument.
func (a *APIFill) MarketSlug() string {
	tp := a.TradingPair
	if tp == nil {
		return ""
	}
	if tp.PolymarketExchange != nil && tp.PolymarketExchange.MarketSlug != "" {
		return tp.PolymarketExchange.MarketSlug
	}
	if pi := tp.PrimaryInstrument; pi != nil && pi.PolymarketExchange != nil {
		return pi.PolymarketExchange.MarketSlug
	}
	return ""
}

// League returns the upper-cased slug prefix, or the league named by the
// odds provider games.
func (a *APIFill) League() string {
	if slug := a.MarketSlug(); slug != "" {
		prefix, _, _ := strings.Cut(slug, "-")
		if prefix != "" {
			return strings.ToUpper(prefix)
		}
	}
	if a.TradingPair == nil || a.TradingPair.PrimaryInstrument == nil {
		return ""
	}
	pi := a.TradingPair.PrimaryInstrument
	if g := pi.BoltoddsGame; g != nil {
		if l := firstNonEmpty(g.Sport, g.League); l != "" {
			return l
		}
	}
	if g := pi.OpticoddsGame; g != nil {
		return firstNonEmpty(g.League, g.Sport)
	}
	return ""
}

// ToFillEvent converts the entry. raw is kept on the event as-is.
func (a *APIFill) ToFillEvent(raw json.RawMessage) domain.FillEvent {
	ev := domain.FillEvent{
		Origin:        domain.OriginTradeFeed,
		InstrumentKey: strings.TrimSpace(a.MarketSlug()),
		OutcomeLabel:  a.Side,
		Side:          a.Side,
		League:        a.League(),
		Raw:           raw,
	}
	if id, ok := a.FillID(); ok {
		ev.ID = strconv.FormatInt(id, 10)
		ev.SourceID = ev.ID
	}
	if a.LastFillPrice != nil {
		ev.Price = a.LastFillPrice.Amount.v
	}
	if a.LastFillValue != nil {
		ev.Notional = a.LastFillValue.Amount.v
	}
	if ev.Price > 0 {
		ev.Size = ev.Notional / ev.Price
	}

	if ts, err := ParseTimestamp(a.FillTxTS); err == nil {
		ev.EventTimestamp = ts.UnixMilli()
	} else {
		ev.TimestampInvalid = true
	}
	if s := rawString(a.RestStartBotTS); s != "" {
		if ts, err := ParseTimestamp(s); err == nil {
			ev.OrderSubmittedAt = &ts
		}
	}

	if pl := a.PlacementLogic; pl != nil {
		ev.ImpliedPrice = pl.ImpliedPrice.ptr()
		ev.PriceBeforeMax = pl.PriceBeforeMax.ptr()
	}
	if ev.ImpliedPrice == nil {
		ev.ImpliedPrice = a.ImpliedPrice.ptr()
	}
	if ev.PriceBeforeMax == nil {
		ev.PriceBeforeMax = a.PriceBeforeMax.ptr()
	}
	return ev
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp reads an ISO-8601 timestamp. Values without a zone are
// UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("tradefeed: %w: empty timestamp", domain.ErrMalformedTimestamp)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999Z07:00", s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("tradefeed: %w: %q", domain.ErrMalformedTimestamp, s)
}

// rawString returns the trimmed value of a JSON string, "" for anything else.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
