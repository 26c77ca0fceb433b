package handler

import (
	"net/http"

	"github.com/alanyoungcy/fillscope/internal/platform/dome"
)

// StreamStatus is satisfied by *dome.Client.
type StreamStatus interface {
	Status() dome.Status
}

// StatusSources feeds the status endpoint. Nil members are reported as
// absent.
type StatusSources struct {
	Mode      string
	Stream    StreamStatus
	Pending   func() int
	CacheSize func() int
	Clients   func() int
}

// StatusHandler serves the runtime status for the dashboard.
type StatusHandler struct {
	src StatusSources
}

func NewStatusHandler(src StatusSources) *StatusHandler {
	return &StatusHandler{src: src}
}

// GetStatus responds with the stream connection, subscriptions and queue
// sizes.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"mode": h.src.Mode}
	if h.src.Stream != nil {
		st := h.src.Stream.Status()
		if st.Wallets == nil {
			st.Wallets = []string{}
		}
		if st.Subscriptions == nil {
			st.Subscriptions = []dome.Subscription{}
		}
		body["connected"] = st.Connected
		body["wallets"] = st.Wallets
		body["subscriptions"] = st.Subscriptions
	}
	if h.src.Pending != nil {
		body["pending_rematches"] = h.src.Pending()
	}
	if h.src.CacheSize != nil {
		body["cache_entries"] = h.src.CacheSize()
	}
	if h.src.Clients != nil {
		body["ws_clients"] = h.src.Clients()
	}
	writeJSON(w, http.StatusOK, body)
}
