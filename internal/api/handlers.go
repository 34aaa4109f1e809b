package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tradingd/internal/enginemanager"
	"tradingd/internal/eventbus"
)

// Handlers holds all HTTP handler dependencies: the EngineManager that owns
// every strategy runner and backtest run this control plane exposes.
type Handlers struct {
	manager *enginemanager.Manager
	bus     *eventbus.Bus
	cfg     Config
	hub     *Hub
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(manager *enginemanager.Manager, bus *eventbus.Bus, cfg Config, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		bus:     bus,
		cfg:     cfg,
		hub:     hub,
		logger:  logger.With("component", "api_handlers"),
	}
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStartStrategy handles POST /strategy.
func (h *Handlers) HandleStartStrategy(w http.ResponseWriter, r *http.Request) {
	var req StartStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}
	pair, err := parsePair(req.Symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id, err := h.manager.StartStrategy(r.Context(), enginemanager.StrategyConfig{
		Strategy: req.Strategy,
		Pair:     pair,
		Params:   req.Params,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartStrategyResponse{ID: id})
}

// HandleListStrategies handles GET /strategy.
func (h *Handlers) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	list := h.manager.List()
	out := make([]StrategySnapshot, 0, len(list))
	for _, info := range list {
		out = append(out, toStrategySnapshot(info))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetStrategy handles GET /strategy/{id}.
func (h *Handlers) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	info, err := h.manager.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStrategySnapshot(info))
}

// HandleStopStrategy handles DELETE /strategy/{id}.
func (h *Handlers) HandleStopStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Stop(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePauseStrategy handles POST /strategy/{id}/pause.
func (h *Handlers) HandlePauseStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Pause(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResumeStrategy handles POST /strategy/{id}/resume.
func (h *Handlers) HandleResumeStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Resume(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStartBacktest handles POST /backtest/run.
func (h *Handlers) HandleStartBacktest(w http.ResponseWriter, r *http.Request) {
	var req StartBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}

	cfg, feed, symbols, err := buildBacktestConfig(req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	id, err := h.manager.StartBacktest(r.Context(), enginemanager.BacktestConfig{
		Engine:  cfg,
		Feed:    feed,
		Symbols: symbols,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, StartBacktestResponse{ID: id})
}

// HandleBacktestProgress handles GET /backtest/{id}/progress.
func (h *Handlers) HandleBacktestProgress(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	progress, err := h.manager.Progress(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProgressResponse(progress))
}

// HandleBacktestResult handles GET /backtest/{id}/result.
func (h *Handlers) HandleBacktestResult(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	report, err := h.manager.Result(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BacktestResultResponse{Report: report})
}

// HandleCancelBacktest handles POST /backtest/{id}/cancel.
func (h *Handlers) HandleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUID(r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.manager.Cancel(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleKillSwitch handles POST /system/kill-switch.
func (h *Handlers) HandleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Engage {
		h.manager.KillSwitch()
	} else {
		h.manager.ClearKillSwitch()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": h.manager.KillSwitchActive()})
}

// HandleWebSocket upgrades the connection and creates a new WebSocket
// client wired against the shared EventBus and this server's command
// dispatcher.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.cfg.AllowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	NewClient(h.hub, conn, h.bus, h.dispatchCommand)
}

// dispatchCommand handles the strategy.* commands a WebSocket client may
// issue, mirroring the REST surface. Subscribe/unsubscribe are handled
// directly by Client and never reach here.
func (h *Handlers) dispatchCommand(cmd ClientCommand) EventEnvelope {
	now := time.Now()
	switch cmd.Action {
	case "strategy.start":
		pair, err := parsePair(cmd.Symbol)
		if err != nil {
			return errEnvelope(now, err)
		}
		id, err := h.manager.StartStrategy(context.Background(), enginemanager.StrategyConfig{Strategy: cmd.Strategy, Pair: pair, Params: cmd.Params})
		if err != nil {
			return errEnvelope(now, err)
		}
		return EventEnvelope{Type: "ack", Timestamp: now, Data: StartStrategyResponse{ID: id}}
	case "strategy.pause":
		id, err := parseUUID(cmd.ID)
		if err == nil {
			err = h.manager.Pause(id)
		}
		if err != nil {
			return errEnvelope(now, err)
		}
		return EventEnvelope{Type: "ack", Timestamp: now, Data: map[string]string{"paused": cmd.ID}}
	case "strategy.resume":
		id, err := parseUUID(cmd.ID)
		if err == nil {
			err = h.manager.Resume(id)
		}
		if err != nil {
			return errEnvelope(now, err)
		}
		return EventEnvelope{Type: "ack", Timestamp: now, Data: map[string]string{"resumed": cmd.ID}}
	case "strategy.stop":
		id, err := parseUUID(cmd.ID)
		if err == nil {
			err = h.manager.Stop(id)
		}
		if err != nil {
			return errEnvelope(now, err)
		}
		return EventEnvelope{Type: "ack", Timestamp: now, Data: map[string]string{"stopped": cmd.ID}}
	default:
		return errEnvelope(now, fmt.Errorf("unknown action %q", cmd.Action))
	}
}

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func errEnvelope(now time.Time, err error) EventEnvelope {
	_, body := errorResponse(err)
	return EventEnvelope{Type: "error", Timestamp: now, Data: body}
}

// isOriginAllowed checks a WebSocket upgrade's Origin header: no Origin
// header (non-browser clients) passes, an explicit allow-list takes
// precedence, otherwise localhost and the request's own host are allowed.
func isOriginAllowed(origin string, allowed []string, reqHost string) bool {
	if origin == "" {
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

	if len(allowed) > 0 {
		for _, a := range allowed {
			u, err := url.Parse(a)
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
