package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fillscope/internal/batch"
	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/pipeline"
	"github.com/alanyoungcy/fillscope/internal/platform/dome"
	"github.com/alanyoungcy/fillscope/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRefresher struct {
	fills   []domain.FillEvent
	err     error
	gotReq  pipeline.RefreshRequest
	refresh int
}

func (f *fakeRefresher) Refresh(_ context.Context, req pipeline.RefreshRequest, progress func(batch.Progress)) (pipeline.RefreshResult, error) {
	f.refresh++
	f.gotReq = req
	if progress != nil {
		progress(batch.Progress{Completed: 1, Total: 2, Key: "nba-bos-lal-2026-01-14", Fills: 3})
		progress(batch.Progress{Completed: 2, Total: 2, Key: "nhl-bos-nyr-2026-01-14", Fills: 1})
	}
	if f.err != nil {
		return pipeline.RefreshResult{}, f.err
	}
	return pipeline.RefreshResult{Fills: f.fills, Fetched: len(f.fills), Processed: len(f.fills)}, nil
}

func (f *fakeRefresher) Snapshot(int) []domain.FillEvent { return f.fills }
func (f *fakeRefresher) CacheAge() time.Duration         { return 90 * time.Second }
func (f *fakeRefresher) Loaded() bool                    { return f.fills != nil }

func get(t *testing.T, h http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestFills(t *testing.T) {
	h := NewTradeFeedHandler(&fakeRefresher{fills: []domain.FillEvent{{ID: "1"}}}, testLogger())

	rec := get(t, h.Fills, "/api/fills")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 90.0, body["cache_age_seconds"])
	assert.Equal(t, true, body["loaded"])
}

func TestTradeFeed(t *testing.T) {
	f := &fakeRefresher{fills: []domain.FillEvent{{ID: "1"}, {ID: "2"}}}
	h := NewTradeFeedHandler(f, testLogger())

	rec := get(t, h.TradeFeed, "/api/tradefeed?hours_back=6&limit=500")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.RefreshRequest{HoursBack: 6, Limit: 500}, f.gotReq)
	body := decode(t, rec)
	assert.Equal(t, 2.0, body["count"])
	assert.Len(t, body["data"], 2)

	rec = get(t, h.TradeFeed, "/api/tradefeed?cache_only=true")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["cached"])
	assert.Equal(t, 1, f.refresh, "cache_only does not refresh")

	rec = get(t, h.TradeFeed, "/api/tradefeed?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTradeFeedUpstreamFailure(t *testing.T) {
	h := NewTradeFeedHandler(&fakeRefresher{err: errors.New("feed down")}, testLogger())

	rec := get(t, h.TradeFeed, "/api/tradefeed")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "feed down")
}

func readEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	sc := bufio.NewScanner(strings.NewReader(body))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		events = append(events, ev)
	}
	return events
}

func TestTradeFeedStream(t *testing.T) {
	h := NewTradeFeedHandler(&fakeRefresher{fills: []domain.FillEvent{{ID: "1"}}}, testLogger())

	rec := get(t, h.TradeFeedStream, "/api/tradefeed/stream?hours_back=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := readEvents(t, rec.Body.String())
	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	assert.Equal(t, []string{"start", "progress", "progress", "complete", "data"}, types)
	assert.Equal(t, "nba-bos-lal-2026-01-14", events[1]["market_slug"])
	assert.Equal(t, 3.0, events[1]["fills_count"])
	assert.Equal(t, 2.0, events[2]["current"])
	assert.Equal(t, 1.0, events[4]["count"])
}

func TestTradeFeedStreamError(t *testing.T) {
	h := NewTradeFeedHandler(&fakeRefresher{err: errors.New("feed down")}, testLogger())

	events := readEvents(t, get(t, h.TradeFeedStream, "/api/tradefeed/stream").Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "feed down", last["message"])
}

type fakeOrders struct {
	history []domain.FillEvent
	err     error
}

func (f fakeOrders) History() []domain.FillEvent { return f.history }

func (f fakeOrders) OppositeParties(context.Context, string) (service.PartiesSummary, error) {
	if f.err != nil {
		return service.PartiesSummary{}, f.err
	}
	return service.PartiesSummary{Parties: []domain.PartySummary{{Address: "0xbbb", Volume: 10}}, Count: 1, TotalVolume: 10}, nil
}

func (f fakeOrders) EnrichTakers(_ context.Context, list string) ([]service.TakerInfo, error) {
	return []service.TakerInfo{{Address: list}}, f.err
}

func TestOrderEndpoints(t *testing.T) {
	h := NewOrderHandler(fakeOrders{}, 48, testLogger())

	body := decode(t, get(t, h.History, "/api/orders/history"))
	assert.Equal(t, []any{}, body["orders"])
	assert.Equal(t, 48.0, body["max_age_hours"])

	body = decode(t, get(t, h.OppositeParties, "/api/orders/opposite-parties?user=0xb"))
	assert.Equal(t, 1.0, body["count"])

	body = decode(t, get(t, h.EnrichTakers, "/api/takers/enrich"))
	assert.Equal(t, []any{}, body["takers"])

	body = decode(t, get(t, h.EnrichTakers, "/api/takers/enrich?addresses=0x1"))
	assert.Len(t, body["takers"], 1)
}

func TestOrderEndpointFailure(t *testing.T) {
	h := NewOrderHandler(fakeOrders{err: errors.New("boom")}, 48, testLogger())
	rec := get(t, h.OppositeParties, "/api/orders/opposite-parties")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeStream struct{ st dome.Status }

func (f fakeStream) Status() dome.Status { return f.st }

func TestStatusAndHealth(t *testing.T) {
	status := NewStatusHandler(StatusSources{
		Mode:      "full",
		Stream:    fakeStream{st: dome.Status{Connected: true, Wallets: []string{"0xabc"}}},
		Pending:   func() int { return 4 },
		CacheSize: func() int { return 12 },
	})
	body := decode(t, get(t, status.GetStatus, "/api/status"))
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, []any{"0xabc"}, body["wallets"])
	assert.Equal(t, []any{}, body["subscriptions"])
	assert.Equal(t, 4.0, body["pending_rematches"])
	assert.Equal(t, 12.0, body["cache_entries"])
	assert.NotContains(t, body, "ws_clients")

	health := NewHealthHandler(func() bool { return false })
	body = decode(t, get(t, health.HealthCheck, "/api/health"))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["connected"])
}
