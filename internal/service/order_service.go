package service

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

// DefaultEnrichConcurrency caps parallel account lookups.
const DefaultEnrichConcurrency = 5

// OrderSource is satisfied by *history.Cache.
type OrderSource interface {
	Snapshot(filter func(*domain.FillEvent) bool) []domain.FillEvent
}

// AccountLookup is satisfied by *polymarket.DataClient.
type AccountLookup interface {
	AccountInfo(ctx context.Context, address string) (domain.AccountInfo, error)
}

// PartiesSummary is the opposite-parties response.
type PartiesSummary struct {
	Parties     []domain.PartySummary `json:"parties"`
	Count       int                   `json:"count"`
	TotalVolume float64               `json:"total_volume"`
	TotalProfit float64               `json:"total_profit"`
}

// TakerInfo pairs an address with its account lookup, nil when it failed.
type TakerInfo struct {
	Address    string              `json:"address"`
	Polymarket *domain.AccountInfo `json:"polymarket"`
}

// OrderService answers questions about the streamed orders of our wallets.
type OrderService struct {
	orders   OrderSource
	accounts AccountLookup
	wallets  map[string]struct{}
	limit    int
	logger   *slog.Logger
}

// NewOrderService creates an OrderService. accounts may be nil, in which
// case parties are not enriched.
func NewOrderService(orders OrderSource, accounts AccountLookup, wallets []string, logger *slog.Logger) *OrderService {
	set := make(map[string]struct{}, len(wallets))
	for _, w := range wallets {
		set[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &OrderService{
		orders:   orders,
		accounts: accounts,
		wallets:  set,
		limit:    DefaultEnrichConcurrency,
		logger:   logger.With(slog.String("component", "order_service")),
	}
}

func isStreamOrder(ev *domain.FillEvent) bool {
	return ev.Origin == domain.OriginDome
}

// History returns the retained stream orders, newest first.
func (s *OrderService) History() []domain.FillEvent {
	return s.orders.Snapshot(isStreamOrder)
}

// OppositeParty returns the counterparty of ev: the maker when it is not one
// of our wallets, else the taker when that is not ours either.
func (s *OrderService) OppositeParty(ev *domain.FillEvent) string {
	user := strings.ToLower(ev.User)
	taker := strings.ToLower(ev.Taker)
	if _, ours := s.wallets[user]; user != "" && !ours {
		return user
	}
	if _, ours := s.wallets[taker]; taker != "" && !ours {
		return taker
	}
	return ""
}

// OppositeParties groups the retained orders by counterparty, enriches each
// party with its Polymarket account and scores it. userFilter keeps only
// orders whose maker contains it, case-insensitively.
func (s *OrderService) OppositeParties(ctx context.Context, userFilter string) (PartiesSummary, error) {
	userFilter = strings.ToLower(strings.TrimSpace(userFilter))

	byParty := make(map[string]*domain.PartySummary)
	for _, ev := range s.History() {
		if userFilter != "" && !strings.Contains(strings.ToLower(ev.User), userFilter) {
			continue
		}
		addr := s.OppositeParty(&ev)
		if addr == "" {
			continue
		}
		p, ok := byParty[addr]
		if !ok {
			p = &domain.PartySummary{Address: addr}
			byParty[addr] = p
		}
		accumulate(p, &ev)
	}

	parties := make([]domain.PartySummary, 0, len(byParty))
	for _, p := range byParty {
		if p.VolumeWithPnL > 0 {
			pct := p.Profit / p.VolumeWithPnL * 100
			p.PnLPercentage = &pct
		}
		parties = append(parties, *p)
	}
	sort.SliceStable(parties, func(i, j int) bool {
		if parties[i].Volume != parties[j].Volume {
			return parties[i].Volume > parties[j].Volume
		}
		return parties[i].Address < parties[j].Address
	})

	infos, err := s.lookup(ctx, addresses(parties))
	if err != nil {
		return PartiesSummary{}, err
	}
	out := PartiesSummary{Parties: parties, Count: len(parties)}
	for i := range parties {
		p := &parties[i]
		p.Polymarket = infos[i]
		p.Score = PartyScore(p.Polymarket)
		out.TotalVolume += p.Volume
		out.TotalProfit += p.Profit
	}
	return out, nil
}

// accumulate adds ev to p. Profit is (fill price - polymarket bid after the
// fill) x shares, so a negative profit means we bought below the market.
func accumulate(p *domain.PartySummary, ev *domain.FillEvent) {
	value := ev.Price * ev.Size
	p.Volume += value
	p.Orders++

	r := ev.Result("polymarket")
	if r == nil || r.After == nil {
		return
	}
	bid := r.After.Observation.Value
	if ev.Price <= 0 || bid <= 0 {
		return
	}
	profit := (ev.Price - bid) * ev.Size
	p.Profit += profit
	p.VolumeWithPnL += value
	switch {
	case profit < 0:
		p.ProfitableVolume += value
	case profit > 0:
		p.UnprofitableVolume += value
	}
}

func addresses(parties []domain.PartySummary) []string {
	out := make([]string, len(parties))
	for i, p := range parties {
		out[i] = p.Address
	}
	return out
}

// EnrichTakers looks up each comma-separated address. Failed lookups yield
// a nil account rather than an error.
func (s *OrderService) EnrichTakers(ctx context.Context, list string) ([]TakerInfo, error) {
	var addrs []string
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	infos, err := s.lookup(ctx, addrs)
	if err != nil {
		return nil, err
	}
	out := make([]TakerInfo, len(addrs))
	for i, a := range addrs {
		out[i] = TakerInfo{Address: a, Polymarket: infos[i]}
	}
	return out, nil
}

// lookup resolves accounts with at most s.limit requests in flight. The
// result is index-aligned with addrs.
func (s *OrderService) lookup(ctx context.Context, addrs []string) ([]*domain.AccountInfo, error) {
	out := make([]*domain.AccountInfo, len(addrs))
	if s.accounts == nil || len(addrs) == 0 {
		return out, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, addr := range addrs {
		g.Go(func() error {
			info, err := s.accounts.AccountInfo(gctx, addr)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.WarnContext(gctx, "account lookup failed",
					slog.String("address", addr),
					slog.String("error", err.Error()),
				)
				return nil
			}
			out[i] = &info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PartyScore rates a counterparty from -50 to 50 by the ROI of its global
// Polymarket record. Small accounts get a fixed low score.
func PartyScore(info *domain.AccountInfo) float64 {
	var volume, pnl float64
	var trades int64
	if info != nil {
		if info.GlobalVolume != nil {
			volume = *info.GlobalVolume
		}
		if info.GlobalPnL != nil {
			pnl = *info.GlobalPnL
		}
		if info.TotalTrades != nil {
			trades = *info.TotalTrades
		}
	}

	if volume < 50_000 && trades < 100 {
		if volume < 10_000 {
			return -50
		}
		return -40
	}

	var roi float64
	if volume > 0 {
		roi = pnl / volume
	}
	score := logistic(roi, 80)
	if volume > 0 {
		score *= 1 + 0.00002*math.Log(volume)
	}
	if trades > 0 {
		score *= 1 + 0.015*math.Log(1+float64(trades))
	}
	score = max(-50, min(50, score))
	return math.Round(score*100) / 100
}

// logistic maps roi to (-50, 50) with 0 at roi 0.
func logistic(roi, steepness float64) float64 {
	return 100 * (1/(1+math.Exp(-steepness*roi)) - 0.5)
}
