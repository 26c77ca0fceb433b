package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/domain"
)

type sliceSource []domain.FillEvent

func (s sliceSource) Snapshot(filter func(*domain.FillEvent) bool) []domain.FillEvent {
	var out []domain.FillEvent
	for i := range s {
		if filter(&s[i]) {
			out = append(out, s[i])
		}
	}
	return out
}

type fakeAccounts struct {
	mu       sync.Mutex
	known    map[string]domain.AccountInfo
	inFlight atomic.Int32
	peak     int32
	delay    time.Duration
}

func (f *fakeAccounts) AccountInfo(_ context.Context, addr string) (domain.AccountInfo, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	f.mu.Lock()
	f.peak = max(f.peak, n)
	f.mu.Unlock()
	time.Sleep(f.delay)
	if info, ok := f.known[addr]; ok {
		return info, nil
	}
	return domain.AccountInfo{}, errors.New("upstream 500")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func order(user, taker string, price, shares float64, after *float64) domain.FillEvent {
	ev := domain.FillEvent{Origin: domain.OriginDome, User: user, Taker: taker, Price: price, Size: shares}
	if after != nil {
		ev.ApplyResult(domain.JoinResult{
			Source: "polymarket",
			After:  &domain.Match{Observation: domain.Observation{Value: *after}},
			Status: domain.JoinOK,
		})
	}
	return ev
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func TestOppositeParties(t *testing.T) {
	bulk := order("0xccc", "0xddd", 0.5, 1000, nil)
	bulk.Origin = domain.OriginTradeFeed
	orders := sliceSource{
		order("0xOURS", "0xAAA", 0.5, 100, f64(0.6)),
		order("0xbbb", "0xours", 0.4, 1000, nil),
		order("0xours", "0xaaa", 0.5, 20, f64(0.4)),
		order("0xours", "0xours", 0.5, 20, nil),
		bulk,
	}
	accounts := &fakeAccounts{known: map[string]domain.AccountInfo{
		"0xbbb": {Address: "0xbbb", GlobalVolume: f64(5_000)},
	}}
	svc := NewOrderService(orders, accounts, []string{"0xOurs"}, testLogger())

	got, err := svc.OppositeParties(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, got.Count)
	assert.InDelta(t, 460, got.TotalVolume, 1e-9)
	assert.InDelta(t, -8, got.TotalProfit, 1e-9)

	first, second := got.Parties[0], got.Parties[1]
	assert.Equal(t, "0xbbb", first.Address)
	assert.Nil(t, first.PnLPercentage, "no after observation means no pnl")
	require.NotNil(t, first.Polymarket)
	assert.Equal(t, -50.0, first.Score)

	assert.Equal(t, "0xaaa", second.Address)
	assert.Equal(t, 2, second.Orders)
	assert.InDelta(t, 60, second.VolumeWithPnL, 1e-9)
	assert.InDelta(t, 50, second.ProfitableVolume, 1e-9)
	assert.InDelta(t, 10, second.UnprofitableVolume, 1e-9)
	require.NotNil(t, second.PnLPercentage)
	assert.InDelta(t, -13.333, *second.PnLPercentage, 1e-3)
	assert.Nil(t, second.Polymarket, "failed lookup leaves the account empty")
}

func TestOppositePartiesUserFilter(t *testing.T) {
	orders := sliceSource{
		order("0xbbb1", "0xours", 0.4, 10, nil),
		order("0xours", "0xaaa", 0.5, 20, nil),
	}
	svc := NewOrderService(orders, nil, []string{"0xours"}, testLogger())

	got, err := svc.OppositeParties(context.Background(), " 0XBBB ")
	require.NoError(t, err)
	require.Equal(t, 1, got.Count)
	assert.Equal(t, "0xbbb1", got.Parties[0].Address)
}

func TestEnrichTakersBoundsConcurrency(t *testing.T) {
	accounts := &fakeAccounts{known: map[string]domain.AccountInfo{}, delay: 5 * time.Millisecond}
	var addrs []string
	for i := range 12 {
		a := "0x" + strconv.Itoa(i)
		addrs = append(addrs, a)
		if i%2 == 0 {
			accounts.known[a] = domain.AccountInfo{Address: a}
		}
	}
	svc := NewOrderService(sliceSource{}, accounts, nil, testLogger())

	got, err := svc.EnrichTakers(context.Background(), strings.Join(addrs, ", ")+", ,")
	require.NoError(t, err)
	require.Len(t, got, 12)
	assert.Equal(t, "0x0", got[0].Address)
	assert.NotNil(t, got[0].Polymarket)
	assert.Nil(t, got[1].Polymarket)
	assert.LessOrEqual(t, accounts.peak, int32(DefaultEnrichConcurrency))
}

func TestEnrichTakersEmpty(t *testing.T) {
	svc := NewOrderService(sliceSource{}, &fakeAccounts{}, nil, testLogger())
	got, err := svc.EnrichTakers(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPartyScore(t *testing.T) {
	cases := []struct {
		name string
		info *domain.AccountInfo
		want float64
	}{
		{"unknown account", nil, -50},
		{"tiny volume", &domain.AccountInfo{GlobalVolume: f64(5_000), TotalTrades: i64(10)}, -50},
		{"small volume", &domain.AccountInfo{GlobalVolume: f64(20_000), TotalTrades: i64(10)}, -40},
		{"break even", &domain.AccountInfo{GlobalVolume: f64(60_000), GlobalPnL: f64(0), TotalTrades: i64(50)}, 0},
		{"losing", &domain.AccountInfo{GlobalVolume: f64(100_000), GlobalPnL: f64(-1_000)}, -19.0},
		{"clamped", &domain.AccountInfo{GlobalVolume: f64(100_000), GlobalPnL: f64(5_000), TotalTrades: i64(200)}, 50},
		{"many trades on small volume", &domain.AccountInfo{GlobalVolume: f64(20_000), GlobalPnL: f64(0), TotalTrades: i64(150)}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, PartyScore(tc.info), 0.01)
		})
	}
}
