package polymarket

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/cache/memory"
)

const addr = "0x1111111111111111111111111111111111111111"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type upstream struct {
	srv          *httptest.Server
	calls        atomic.Int32
	failProfile  bool
	emptyRanking bool
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /traded", func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		assert.Equal(t, addr, r.URL.Query().Get("user"))
		_, _ = io.WriteString(w, `{"user":"`+addr+`","traded":321}`)
	})
	mux.HandleFunc("GET /v1/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		assert.Equal(t, "VOL", r.URL.Query().Get("orderBy"))
		if u.emptyRanking {
			_, _ = io.WriteString(w, `[]`)
			return
		}
		_, _ = io.WriteString(w, `[{"rank":42,"vol":125000.5,"pnl":-830.25,"verifiedBadge":false}]`)
	})
	mux.HandleFunc("GET /api/profile/userData", func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		if u.failProfile {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, `{"name":"whale","pseudonym":"Quiet-Otter","createdAt":"2024-03-01T00:00:00Z","verifiedBadge":"true"}`)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) client(t *testing.T) *DataClient {
	return NewDataClient(DataConfig{DataURL: u.srv.URL, ProfileURL: u.srv.URL, RequestsPerSecond: 1000, Burst: 100}, memory.NewAccountCache(), testLogger())
}

func TestAccountInfoCombinesEndpoints(t *testing.T) {
	u := newUpstream(t)
	info, err := u.client(t).AccountInfo(context.Background(), addr)
	require.NoError(t, err)

	require.NotNil(t, info.TotalTrades)
	assert.Equal(t, int64(321), *info.TotalTrades)
	require.NotNil(t, info.GlobalVolume)
	assert.Equal(t, 125000.5, *info.GlobalVolume)
	assert.Equal(t, -830.25, *info.GlobalPnL)
	require.NotNil(t, info.GlobalRank)
	assert.Equal(t, "42", *info.GlobalRank)
	require.NotNil(t, info.Name)
	assert.Equal(t, "whale", *info.Name)
	assert.True(t, info.VerifiedBadge, "profile badge upgrades the leaderboard flag")
}

func TestAccountInfoIsCached(t *testing.T) {
	u := newUpstream(t)
	c := u.client(t)
	ctx := context.Background()

	_, err := c.AccountInfo(ctx, addr)
	require.NoError(t, err)
	calls := u.calls.Load()

	_, err = c.AccountInfo(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, calls, u.calls.Load())
}

func TestAccountInfoIsBestEffort(t *testing.T) {
	u := newUpstream(t)
	u.failProfile = true
	u.emptyRanking = true

	info, err := u.client(t).AccountInfo(context.Background(), addr)
	require.NoError(t, err)
	assert.NotNil(t, info.TotalTrades)
	assert.Nil(t, info.GlobalVolume)
	assert.Nil(t, info.GlobalRank)
	assert.Nil(t, info.Name)
	assert.False(t, info.VerifiedBadge)
}

func TestAccountInfoCancelled(t *testing.T) {
	u := newUpstream(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := u.client(t).AccountInfo(ctx, addr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(http.StatusOK, nil))
	assert.Error(t, checkHTTPStatus(http.StatusTooManyRequests, []byte("slow down")))
	assert.Contains(t, checkHTTPStatus(http.StatusBadGateway, make([]byte, 500)).Error(), "...")
}
