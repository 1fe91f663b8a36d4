package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"gabagool-arb/internal/config"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider Provider
	cfg      config.Config
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider Provider, cfg config.Config, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleState returns the current dashboard snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	snapshot := BuildSnapshot(h.provider, h.cfg)
	h.writeJSON(w, snapshot)
}

// HandlePnLHistory serves `/pnl-history?timeframe=24h|7d|all`.
func (h *Handlers) HandlePnLHistory(w http.ResponseWriter, r *http.Request) {
	timeframe := r.URL.Query().Get("timeframe")
	switch timeframe {
	case "24h", "7d", "all":
	default:
		timeframe = "24h"
	}

	trades, err := h.provider.GetPnLHistory(r.Context(), timeframe)
	if err != nil {
		h.logger.Error("pnl history query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]interface{}{"timeframe": timeframe, "trades": trades})
}

// HandleSettlementPositions serves the settlement-positions introspection
// endpoint: open in-memory positions plus everything in the Store still
// awaiting on-chain redemption.
func (h *Handlers) HandleSettlementPositions(w http.ResponseWriter, r *http.Request) {
	unclaimed, err := h.provider.GetUnclaimedPositions(r.Context())
	if err != nil {
		h.logger.Error("unclaimed positions query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"open":      h.provider.GetOpenPositions(),
		"unclaimed": unclaimed,
	})
}

// HandleReconciliation serves the external-trade-reconciliation view: the
// engine's own trade ledger, for an operator to diff against the venue's
// trade history out of band.
func (h *Handlers) HandleReconciliation(w http.ResponseWriter, r *http.Request) {
	limit := 200
	trades, err := h.provider.GetRecentTrades(r.Context(), limit)
	if err != nil {
		h.logger.Error("recent trades query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	allTime, err := h.provider.GetAllTimeStats(r.Context())
	if err != nil {
		h.logger.Error("all-time stats query failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, map[string]interface{}{"trades": trades, "all_time": allTime})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleEvents upgrades the connection to the WebSocket-backed `/events`
// stream — see SPEC_FULL.md §2 for why this uses a gorilla/websocket hub
// instead of SSE.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg.Dashboard, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	snapshot := BuildSnapshot(h.provider, h.cfg)
	evt := DashboardEvent{Type: "snapshot", Data: snapshot}

	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial snapshot to client")
	}
}

func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		// Non-browser clients often omit Origin; keep this path functional.
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
