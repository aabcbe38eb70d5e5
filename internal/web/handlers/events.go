package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kozaktomas/doorbell-identify/internal/config"
	"github.com/kozaktomas/doorbell-identify/internal/database"
)

// SimilarRequest asks for past events whose probe face resembles the face
// recorded in a given event.
type SimilarRequest struct {
	EventID string `json:"event_id"`
	Limit   int    `json:"limit"`
}

// SimilarResult is one event with its distance from the query face.
type SimilarResult struct {
	Event    database.AuditEvent `json:"event"`
	Distance float64             `json:"distance"`
}

// EventsHandler serves the audit log endpoints.
type EventsHandler struct {
	config *config.Config
	reader database.AuditReader
}

// NewEventsHandler creates a new audit events handler. The reader is
// optional; without a database the endpoints return 503.
func NewEventsHandler(cfg *config.Config) *EventsHandler {
	h := &EventsHandler{config: cfg}
	if reader, err := database.GetAuditReader(context.Background()); err == nil {
		h.reader = reader
	}
	return h
}

// List handles GET /api/v1/events.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		respondError(w, http.StatusServiceUnavailable, "audit log not available")
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := h.reader.RecentEvents(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if events == nil {
		events = []database.AuditEvent{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// FindSimilar handles POST /api/v1/events/similar. It looks up the probe
// embedding of the given event and returns the closest past events.
func (h *EventsHandler) FindSimilar(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		respondError(w, http.StatusServiceUnavailable, "audit log not available")
		return
	}

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.EventID == "" {
		respondError(w, http.StatusBadRequest, "event_id is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	event, err := h.reader.GetEvent(r.Context(), req.EventID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	if event == nil {
		respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if len(event.ProbeEmbedding) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "event has no recorded face")
		return
	}

	events, distances, err := h.reader.FindSimilar(r.Context(), event.ProbeEmbedding, req.Limit+1)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "similarity search failed")
		return
	}

	// The query event is its own nearest neighbor; drop it.
	results := make([]SimilarResult, 0, len(events))
	for i := range events {
		if events[i].ID == event.ID {
			continue
		}
		results = append(results, SimilarResult{Event: events[i], Distance: distances[i]})
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"query_event": event.ID,
		"results":     results,
	})
}
