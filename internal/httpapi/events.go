package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/streaming"
)

// EventsHandler serves SSE endpoints for session events.
type EventsHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewEventsHandler(mgr *streaming.Manager, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{mgr: mgr, logger: logger}
}

// RegisterRoutes registers SSE routes on the provided mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream/sse", h.handleSSE)
}

// handleSSE streams events for a session via Server-Sent Events.
// GET /stream/sse?session_id=<id>
func (h *EventsHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, `{"error":"session_id required"}`, http.StatusBadRequest)
		return
	}

	// Optional: type filter (comma-separated)
	typeFilter := map[string]struct{}{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				typeFilter[t] = struct{}{}
			}
		}
	}

	// Optional: Last-Event-ID header or query param to replay from
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(sessionID, 256)
	defer h.mgr.Unsubscribe(sessionID, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", sessionID)
	flusher.Flush()

	// Replay backlog since lastID (best-effort)
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(sessionID, lastID) {
			if !writeSSE(w, ev, typeFilter) {
				continue
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("session_id", sessionID))
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if writeSSE(w, evt, typeFilter) {
				flusher.Flush()
			}
		case <-hb.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt streaming.Event, typeFilter map[string]struct{}) bool {
	if len(typeFilter) > 0 {
		if _, ok := typeFilter[evt.Type]; !ok {
			return false
		}
	}
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", string(evt.Marshal()))
	return true
}
