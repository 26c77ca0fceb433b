package dome

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// SubscribeMessage asks the feed for order events of the given wallets.
type SubscribeMessage struct {
	Action   string        `json:"action"`
	Platform string        `json:"platform"`
	Version  int           `json:"version"`
	Type     string        `json:"type"`
	Filters  UserFilterSet `json:"filters"`
}

// UserFilterSet restricts a subscription to wallets.
type UserFilterSet struct {
	Users []string `json:"users"`
}

// envelope is every inbound message.
type envelope struct {
	Type           string          `json:"type"`
	SubscriptionID string          `json:"subscription_id"`
	Data           json.RawMessage `json:"data"`
}

// Order is the payload of an "event" message.
type Order struct {
	MarketSlug       string  `json:"market_slug"`
	TokenLabel       string  `json:"token_label"`
	Timestamp        float64 `json:"timestamp"`
	TxHash           string  `json:"tx_hash"`
	LogIndex         int64   `json:"log_index"`
	Price            float64 `json:"price"`
	SharesNormalized float64 `json:"shares_normalized"`
	User             string  `json:"user"`
	Taker            string  `json:"taker"`
	Side             string  `json:"side"`
	Title            string  `json:"title"`
}

// ID is the order key, unique per on-chain log.
func (o *Order) ID() string {
	return o.TxHash + "_" + strconv.FormatInt(o.LogIndex, 10)
}

// ToFillEvent converts o. Timestamps are epoch seconds on the wire.
func (o *Order) ToFillEvent(subscriptionID string, receivedAt time.Time, raw json.RawMessage) domain.FillEvent {
	ev := domain.FillEvent{
		ID:             o.ID(),
		Origin:         domain.OriginDome,
		InstrumentKey:  strings.TrimSpace(o.MarketSlug),
		OutcomeLabel:   strings.TrimSpace(o.TokenLabel),
		Price:          o.Price,
		Size:           o.SharesNormalized,
		Notional:       o.Price * o.SharesNormalized,
		ReceivedAt:     receivedAt,
		User:           o.User,
		Taker:          o.Taker,
		TxHash:         o.TxHash,
		LogIndex:       o.LogIndex,
		Side:           o.Side,
		Title:          o.Title,
		SubscriptionID: subscriptionID,
		Raw:            raw,
	}
	ev.SourceID = ev.ID
	if prefix, _, ok := strings.Cut(ev.InstrumentKey, "-"); ok {
		ev.League = strings.ToUpper(prefix)
	}
	if o.Timestamp > 0 {
		ev.EventTimestamp = int64(o.Timestamp * 1000)
	} else {
		ev.TimestampInvalid = true
	}
	return ev
}
