package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/fillscope/internal/domain"
	"github.com/alanyoungcy/fillscope/internal/service"
)

// OrderService is satisfied by *service.OrderService.
type OrderService interface {
	History() []domain.FillEvent
	OppositeParties(ctx context.Context, userFilter string) (service.PartiesSummary, error)
	EnrichTakers(ctx context.Context, list string) ([]service.TakerInfo, error)
}

// OrderHandler serves the streamed order endpoints.
type OrderHandler struct {
	svc         OrderService
	maxAgeHours int
	logger      *slog.Logger
}

// NewOrderHandler creates an OrderHandler. maxAgeHours is reported with the
// history so the dashboard can label its window.
func NewOrderHandler(svc OrderService, maxAgeHours int, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, maxAgeHours: maxAgeHours, logger: logHandler(logger, "orders")}
}

// History returns the retained stream orders, newest first.
// GET /api/orders/history
func (h *OrderHandler) History(w http.ResponseWriter, r *http.Request) {
	orders := h.svc.History()
	if orders == nil {
		orders = []domain.FillEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders":        orders,
		"count":         len(orders),
		"max_age_hours": h.maxAgeHours,
	})
}

// OppositeParties summarises the counterparties of our wallets.
// GET /api/orders/opposite-parties?user=
func (h *OrderHandler) OppositeParties(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.OppositeParties(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		h.fail(w, r, "opposite parties", err)
		return
	}
	if summary.Parties == nil {
		summary.Parties = []domain.PartySummary{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// EnrichTakers looks up Polymarket accounts for a comma-separated list.
// GET /api/takers/enrich?addresses=a,b
func (h *OrderHandler) EnrichTakers(w http.ResponseWriter, r *http.Request) {
	list := r.URL.Query().Get("addresses")
	if strings.TrimSpace(list) == "" {
		writeJSON(w, http.StatusOK, map[string]any{"takers": []service.TakerInfo{}})
		return
	}
	takers, err := h.svc.EnrichTakers(r.Context(), list)
	if err != nil {
		h.fail(w, r, "enrich takers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"takers": takers})
}

func (h *OrderHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.ErrorContext(r.Context(), op+" failed", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, err.Error())
}
