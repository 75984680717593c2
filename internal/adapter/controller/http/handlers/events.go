package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/kr1s57/tkguard/internal/entity"
	"github.com/kr1s57/tkguard/internal/usecase/sessions"
)

// EventSink processes one raw game event
type EventSink interface {
	HandleEvent(ctx context.Context, raw entity.RawEvent) (*entity.Verdict, error)
}

// EventsHandler ingests game events pushed over HTTP, for servers without
// a log forwarder on the Redis stream
type EventsHandler struct {
	sink EventSink
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(sink EventSink) *EventsHandler {
	return &EventsHandler{sink: sink}
}

// Ingest processes one event and returns the verdict for team kills
// POST /api/v1/events
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var raw entity.RawEvent
	if err := DecodeJSON(w, r, &raw); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "Invalid event body", err)
		return
	}

	verdict, err := h.sink.HandleEvent(r.Context(), raw)
	switch {
	case errors.Is(err, entity.ErrMalformedEvent):
		ErrorResponse(w, http.StatusBadRequest, "Malformed event", err)
		return
	case errors.Is(err, sessions.ErrSessionNotFound):
		JSONResponse(w, http.StatusAccepted, map[string]interface{}{
			"success": true,
			"tracked": false,
			"details": err.Error(),
		})
		return
	case err != nil:
		ErrorResponse(w, http.StatusInternalServerError, "Failed to process event", err)
		return
	}

	resp := map[string]interface{}{
		"success": true,
		"tracked": true,
	}
	if verdict != nil {
		resp["verdict"] = verdict
	}
	JSONResponse(w, http.StatusAccepted, resp)
}
