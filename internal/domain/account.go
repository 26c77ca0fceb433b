package domain

// AccountInfo is the public Polymarket profile of a wallet. Every field is
// optional because each upstream endpoint is queried independently.
type AccountInfo struct {
	Address       string   `json:"address"`
	TotalTrades   *int64   `json:"total_trades"`
	GlobalVolume  *float64 `json:"global_volume"`
	GlobalPnL     *float64 `json:"global_pnl"`
	GlobalRank    *string  `json:"global_rank"`
	VerifiedBadge bool     `json:"verified_badge"`
	Name          *string  `json:"name"`
	Pseudonym     *string  `json:"pseudonym"`
	CreatedAt     *string  `json:"created_at"`
}

// PartySummary aggregates the orders filled against one counterparty.
type PartySummary struct {
	Address            string       `json:"address"`
	Volume             float64      `json:"volume"`
	VolumeWithPnL      float64      `json:"volume_with_pnl"`
	Profit             float64      `json:"profit"`
	Orders             int          `json:"orders"`
	ProfitableVolume   float64      `json:"profitable_volume"`
	UnprofitableVolume float64      `json:"unprofitable_volume"`
	PnLPercentage      *float64     `json:"pnl_percentage"`
	Polymarket         *AccountInfo `json:"polymarket"`
	Score              float64      `json:"score"`
}
