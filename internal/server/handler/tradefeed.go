package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fillscope/internal/batch"
	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/pipeline"
)

// Refresher is satisfied by *pipeline.Analyzer.
type Refresher interface {
	Refresh(ctx context.Context, req pipeline.RefreshRequest, progress func(batch.Progress)) (pipeline.RefreshResult, error)
	Snapshot(hoursBack int) []domain.FillEvent
	CacheAge() time.Duration
	Loaded() bool
}

// TradeFeedHandler serves the bulk trade-feed endpoints.
type TradeFeedHandler struct {
	analyzer Refresher
	logger   *slog.Logger
}

func NewTradeFeedHandler(analyzer Refresher, logger *slog.Logger) *TradeFeedHandler {
	return &TradeFeedHandler{analyzer: analyzer, logger: logHandler(logger, "tradefeed")}
}

// Fills returns the cached bulk fills without refreshing.
// GET /api/fills
func (h *TradeFeedHandler) Fills(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours_back", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fills := nonNil(h.analyzer.Snapshot(hours))
	writeJSON(w, http.StatusOK, map[string]any{
		"data":              fills,
		"count":             len(fills),
		"cache_age_seconds": int(h.analyzer.CacheAge().Seconds()),
		"loaded":            h.analyzer.Loaded(),
	})
}

func (h *TradeFeedHandler) request(r *http.Request) (pipeline.RefreshRequest, error) {
	hours, err := queryInt(r, "hours_back", 0)
	if err != nil {
		return pipeline.RefreshRequest{}, err
	}
	limit, err := queryInt(r, "limit", pipeline.DefaultMaxFills)
	if err != nil {
		return pipeline.RefreshRequest{}, err
	}
	return pipeline.RefreshRequest{HoursBack: hours, Limit: limit}, nil
}

// TradeFeed refreshes the bulk cache and returns it. With cache_only=true
// the cache is returned as is.
// GET /api/tradefeed?hours_back=&limit=&cache_only=
func (h *TradeFeedHandler) TradeFeed(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if queryBool(r, "cache_only") {
		fills := nonNil(h.analyzer.Snapshot(req.HoursBack))
		writeJSON(w, http.StatusOK, map[string]any{
			"data":              fills,
			"count":             len(fills),
			"cached":            true,
			"cache_age_seconds": int(h.analyzer.CacheAge().Seconds()),
		})
		return
	}

	res, err := h.analyzer.Refresh(r.Context(), req, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.logger.ErrorContext(r.Context(), "refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	res.Fills = nonNil(res.Fills)
	writeJSON(w, http.StatusOK, struct {
		pipeline.RefreshResult
		Count int `json:"count"`
	}{res, len(res.Fills)})
}

// sseEvent is one server-sent event payload.
type sseEvent struct {
	Type       string `json:"type"`
	Message    string `json:"message,omitempty"`
	Current    int    `json:"current,omitempty"`
	Total      int    `json:"total,omitempty"`
	MarketSlug string `json:"market_slug,omitempty"`
	FillsCount int    `json:"fills_count,omitempty"`
	Data       any    `json:"data,omitempty"`
	Count      *int   `json:"count,omitempty"`
}

type refreshOutcome struct {
	res pipeline.RefreshResult
	err error
}

// TradeFeedStream runs a refresh and streams its progress as server-sent
// events: start, progress per partition, then complete and data, or error.
// GET /api/tradefeed/stream?hours_back=&limit=
func (h *TradeFeedHandler) TradeFeedStream(w http.ResponseWriter, r *http.Request) {
	req, err := h.request(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev sseEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.WarnContext(r.Context(), "sse encode failed", slog.String("error", err.Error()))
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	ctx := r.Context()
	send(sseEvent{Type: "start", Message: "starting trade feed fetch"})

	progress := make(chan batch.Progress, 64)
	done := make(chan refreshOutcome, 1)
	go func() {
		res, err := h.analyzer.Refresh(ctx, req, func(p batch.Progress) {
			select {
			case progress <- p:
			case <-ctx.Done():
			}
		})
		done <- refreshOutcome{res: res, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-progress:
			send(progressEvent(p))
		case out := <-done:
			for drained := false; !drained; {
				select {
				case p := <-progress:
					send(progressEvent(p))
				default:
					drained = true
				}
			}
			if out.err != nil {
				if ctx.Err() == nil {
					send(sseEvent{Type: "error", Message: out.err.Error()})
				}
				return
			}
			send(sseEvent{Type: "complete", Message: "processing complete"})
			fills := nonNil(out.res.Fills)
			n := len(fills)
			send(sseEvent{Type: "data", Data: fills, Count: &n})
			return
		}
	}
}

func progressEvent(p batch.Progress) sseEvent {
	msg := fmt.Sprintf("processed %s (%d fills)", p.Key, p.Fills)
	if p.Err != nil {
		msg = fmt.Sprintf("%s degraded: %v", p.Key, p.Err)
	}
	return sseEvent{
		Type:       "progress",
		Message:    msg,
		Current:    p.Completed,
		Total:      p.Total,
		MarketSlug: p.Key,
		FillsCount: p.Fills,
	}
}

func nonNil(fills []domain.FillEvent) []domain.FillEvent {
	if fills == nil {
		return []domain.FillEvent{}
	}
	return fills
}
