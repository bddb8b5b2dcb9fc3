// Package httpapi exposes the read-only operational surface: session
// listing, session detail and execution stats. Supplying user input
// back to a waiting session is deliberately not served here; that
// transport belongs to the embedding application.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/session"
)

// SessionsHandler serves session inspection endpoints.
type SessionsHandler struct {
	manager *session.Manager
	logger  *zap.Logger
}

// NewSessionsHandler creates a new handler.
func NewSessionsHandler(manager *session.Manager, logger *zap.Logger) *SessionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionsHandler{manager: manager, logger: logger}
}

// RegisterRoutes registers session routes on the provided mux.
func (h *SessionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/sessions", h.handleList)
	mux.HandleFunc("/api/sessions/", h.handleGet)
	mux.HandleFunc("/api/stats", h.handleStats)
}

func (h *SessionsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := session.Filter{
		PlanID:     q.Get("plan_id"),
		BasePlanID: q.Get("base_plan_id"),
		Status:     session.Status(q.Get("status")),
		Platform:   q.Get("platform"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		http.Error(w, `{"error":"unknown status"}`, http.StatusBadRequest)
		return
	}
	page := session.Page{
		Limit:  intParam(q.Get("limit"), 50),
		Offset: intParam(q.Get("offset"), 0),
	}

	sessions, err := h.manager.ListSessions(r.Context(), filter, page)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *SessionsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, `{"error":"session id required"}`, http.StatusBadRequest)
		return
	}

	s, err := h.manager.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, s)
}

func (h *SessionsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	planID := r.URL.Query().Get("plan_id")
	if planID == "" {
		http.Error(w, `{"error":"plan_id is required"}`, http.StatusBadRequest)
		return
	}

	stats, err := h.manager.GetExecutionStats(r.Context(), planID)
	if err != nil {
		h.logger.Error("Failed to aggregate stats", zap.String("plan_id", planID), zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
