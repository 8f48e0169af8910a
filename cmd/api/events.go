package main

import (
	"net/http"
	"time"

	"coordhub/event"
)

type eventRequest struct {
	Name        string  `json:"name"`
	Place       string  `json:"place"`
	ScheduledAt string  `json:"scheduledAt"`
	Notes       *string `json:"notes"`
}

func (req eventRequest) input() (event.Input, bool) {
	in := event.Input{Name: req.Name, Place: req.Place, Notes: req.Notes}
	if req.ScheduledAt == "" {
		return in, true
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		return event.Input{}, false
	}
	in.ScheduledAt = at
	return in, true
}

// handleEvents serves /api/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.eventService.List(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		resp := make([]eventResponse, 0, len(items))
		for _, e := range items {
			resp = append(resp, toEventResponse(e))
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": resp, "total": len(resp)})
	case http.MethodPost:
		if !requireEditor(w, r) {
			return
		}
		var req eventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, ok := req.input()
		if !ok {
			writeError(w, http.StatusBadRequest, "scheduledAt must be RFC3339")
			return
		}
		created, err := s.eventService.Create(r.Context(), in)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEventResponse(created))
	default:
		methodNotAllowed(w)
	}
}

// handleEventDetail serves /api/events/{id} and /api/events/{id}/coordinators.
func (s *Server) handleEventDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/events/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid event path")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	if len(parts) == 2 {
		if parts[1] != "coordinators" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		items, err := s.coordinatorService.ListByEvent(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toCoordinatorResponses(items), "total": len(items)})
		return
	}

	switch r.Method {
	case http.MethodGet:
		e, err := s.eventService.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(e))
	case http.MethodPut:
		if !requireEditor(w, r) {
			return
		}
		var req eventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, ok := req.input()
		if !ok {
			writeError(w, http.StatusBadRequest, "scheduledAt must be RFC3339")
			return
		}
		updated, err := s.eventService.Update(r.Context(), id, in)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(updated))
	case http.MethodDelete:
		if !requireEditor(w, r) {
			return
		}
		if err := s.eventService.Delete(r.Context(), id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}
