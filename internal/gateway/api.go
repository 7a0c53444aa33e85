// ABOUTME: HTTP API handlers for collaboration commands, history, monitoring, and activity
// ABOUTME: Maps orchestrator error types onto HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/pairwatch/internal/auth"
	"github.com/2389/pairwatch/internal/monitor"
	"github.com/2389/pairwatch/internal/orchestrator"
	"github.com/2389/pairwatch/internal/ratelimit"
	"github.com/2389/pairwatch/internal/store"
)

// CommandRequest is the JSON request body for POST /api/collaborate/command.
type CommandRequest struct {
	Command    string         `json:"command"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters,omitempty"`
	OperatorID string         `json:"operator_id,omitempty"`
}

// CommandResponse is the JSON response body for POST /api/collaborate/command.
type CommandResponse struct {
	Success bool           `json:"success"`
	EventID string         `json:"eventId,omitempty"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// HistoryResponse is the JSON response body for GET /api/collaborate/history.
type HistoryResponse struct {
	Events          []*store.CollaborationEvent `json:"events"`
	RateLimitStatus ratelimit.Status            `json:"rateLimitStatus"`
}

// ActivityRequest is the JSON request body for POST /api/activity.
// Either pair_id or both agent names must be present; unknown pairs are
// initialized on first report.
type ActivityRequest struct {
	PairID string         `json:"pair_id,omitempty"`
	AgentA string         `json:"agent_a,omitempty"`
	AgentB string         `json:"agent_b,omitempty"`
	Agent  string         `json:"agent"`
	Report monitor.Report `json:"report"`
}

// ResolveAnomalyRequest is the JSON request body for POST /api/anomalies/resolve.
type ResolveAnomalyRequest struct {
	AnomalyID  string `json:"anomaly_id"`
	Status     string `json:"status"`
	OperatorID string `json:"operator_id,omitempty"`
}

// registerAPIRoutes mounts the /api/* handlers, wrapped in JWT auth when a
// secret is configured.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/api/collaborate/command": g.handleCommand,
		"/api/collaborate/history": g.handleHistory,
		"/api/monitor":             g.handleMonitor,
		"/api/activity":            g.handleActivity,
		"/api/anomalies/resolve":   g.handleResolveAnomaly,
		"/api/events":              g.handleEventsSSE,
		"/api/events/ws":           g.handleEventsWS,
	}

	if g.verifier != nil {
		middleware := auth.HTTPAuthMiddleware(g.verifier)
		for path, handler := range routes {
			mux.Handle(path, middleware(handler))
		}
		g.logger.Info("HTTP auth middleware enabled")
		return
	}

	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// operatorID resolves the acting operator: the authenticated actor wins,
// falling back to the request-supplied identity when auth is open.
func (g *Gateway) operatorID(r *http.Request, fromBody string) string {
	if actor := auth.ActorFromContext(r.Context()); actor != nil {
		return actor.OperatorID
	}
	return fromBody
}

// resolvePairID falls back to the only initialized pair when the request
// does not name one.
func (g *Gateway) resolvePairID(requested string) string {
	if requested != "" {
		return requested
	}
	if pairs := g.monitor.Pairs(); len(pairs) == 1 {
		return pairs[0]
	}
	return ""
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cmd := monitor.Command{
		Type:       req.Command,
		Target:     g.resolvePairID(req.Target),
		Parameters: req.Parameters,
	}

	resp, err := g.orchestrator.ExecuteCollaborationCommand(r.Context(), cmd, g.operatorID(r, req.OperatorID), r.RemoteAddr)
	if err != nil {
		g.sendCommandError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, CommandResponse{
		Success: resp.Success,
		EventID: resp.EventID,
		Message: resp.Message,
		Data:    resp.Data,
	})
}

// sendCommandError maps orchestrator error types onto HTTP status codes.
func (g *Gateway) sendCommandError(w http.ResponseWriter, err error) {
	var rateErr *orchestrator.RateLimitError
	var authErr *orchestrator.AuthorizationError
	var validErr *orchestrator.ValidationError

	switch {
	case errors.As(err, &rateErr):
		// Clients back off from the decision, not from parsing the message.
		g.sendJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":     rateErr.Error(),
			"rateLimit": rateErr.Decision,
		})
	case errors.As(err, &authErr):
		g.sendJSONError(w, http.StatusForbidden, authErr.Error())
	case errors.As(err, &validErr):
		g.sendJSONError(w, http.StatusBadRequest, validErr.Error())
	default:
		g.logger.Error("command execution failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pairID := g.resolvePairID(r.URL.Query().Get("pair_id"))
	if pairID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "pair_id is required")
		return
	}
	limit := queryInt(r, "limit", 50)
	hours := queryInt(r, "hours", 24)

	events, err := g.store.ListRecentEvents(r.Context(), pairID, limit, hours)
	if err != nil {
		g.logger.Error("listing events failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, HistoryResponse{
		Events:          events,
		RateLimitStatus: g.orchestrator.RateLimitStatus(g.operatorID(r, r.URL.Query().Get("operator_id"))),
	})
}

func (g *Gateway) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	pairID := g.resolvePairID(r.URL.Query().Get("pair_id"))
	if pairID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "pair_id is required")
		return
	}

	frame, err := g.orchestrator.BuildStatusFrame(r.Context(), pairID)
	if err != nil {
		if errors.Is(err, monitor.ErrPairNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "unknown pair")
			return
		}
		g.logger.Error("building status frame failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.sendJSON(w, http.StatusOK, frame)
}

func (g *Gateway) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Agent == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent is required")
		return
	}

	pairID := req.PairID
	if pairID == "" {
		if req.AgentA == "" || req.AgentB == "" {
			g.sendJSONError(w, http.StatusBadRequest, "pair_id or agent_a and agent_b are required")
			return
		}
		status, err := g.monitor.Initialize(r.Context(), req.AgentA, req.AgentB)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		pairID = status.PairID
	}

	status, err := g.monitor.RecordActivity(r.Context(), pairID, req.Agent, req.Report)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrPairNotFound):
			g.sendJSONError(w, http.StatusNotFound, "unknown pair")
		case errors.Is(err, monitor.ErrUnknownAgent):
			g.sendJSONError(w, http.StatusBadRequest, "agent does not belong to pair")
		default:
			g.logger.Error("recording activity failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusOK, status)
}

func (g *Gateway) handleResolveAnomaly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ResolveAnomalyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AnomalyID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "anomaly_id is required")
		return
	}

	err := g.orchestrator.ResolveAnomaly(r.Context(), req.AnomalyID, store.ResolutionStatus(req.Status), g.operatorID(r, req.OperatorID))
	if err != nil {
		var validErr *orchestrator.ValidationError
		switch {
		case errors.As(err, &validErr):
			g.sendJSONError(w, http.StatusBadRequest, validErr.Error())
		case errors.Is(err, store.ErrNotFound):
			g.sendJSONError(w, http.StatusNotFound, "unknown anomaly")
		default:
			g.logger.Error("resolving anomaly failed", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"anomaly_id": req.AnomalyID,
		"status":     req.Status,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
