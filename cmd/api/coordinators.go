package main

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"coordhub/coordinator"
	"coordhub/export"
	"coordhub/projection"
)

type coordinatorRequest struct {
	Municipality        string   `json:"municipality"`
	Sector              string   `json:"sector"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	FullName            string   `json:"fullName"`
	Phone               string   `json:"phone"`
	Email               *string  `json:"email"`
	NationalID          *string  `json:"nationalId"`
	Notes               *string  `json:"notes"`
	MunicipalityPlaceID string   `json:"municipalityPlaceId"`
	SectorPlaceID       string   `json:"sectorPlaceId"`
}

func (req coordinatorRequest) input() coordinator.Input {
	return coordinator.Input{
		Municipality:        req.Municipality,
		Sector:              req.Sector,
		Latitude:            req.Latitude,
		Longitude:           req.Longitude,
		FullName:            req.FullName,
		Phone:               req.Phone,
		Email:               req.Email,
		NationalID:          req.NationalID,
		Notes:               req.Notes,
		MunicipalityPlaceID: req.MunicipalityPlaceID,
		SectorPlaceID:       req.SectorPlaceID,
	}
}

type callRequest struct {
	Notes   *string `json:"notes"`
	EventID *int64  `json:"eventId"`
}

type confirmRequest struct {
	GuestCount int     `json:"guestCount"`
	Notes      *string `json:"notes"`
}

type guestRequest struct {
	Name       string `json:"name"`
	NationalID string `json:"nationalId"`
	Phone      string `json:"phone"`
}

// handleCoordinators serves /api/coordinators.
func (s *Server) handleCoordinators(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.coordinatorService.List(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": toCoordinatorResponses(items),
			"total": len(items),
		})
	case http.MethodPost:
		if !requireEditor(w, r) {
			return
		}
		var req coordinatorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := s.coordinatorService.Create(r.Context(), req.input())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCoordinatorResponse(created))
	default:
		methodNotAllowed(w)
	}
}

// handleCoordinatorDetail serves everything below /api/coordinators/.
func (s *Server) handleCoordinatorDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/coordinators/")
	if len(parts) == 0 {
		writeError(w, http.StatusBadRequest, "missing coordinator id")
		return
	}

	switch parts[0] {
	case "view":
		s.handleCoordinatorView(w, r)
		return
	case "export":
		s.handleCoordinatorExport(w, r)
		return
	case "stats":
		s.handleCoordinatorStats(w, r)
		return
	case "search":
		s.handleCoordinatorSearch(w, r)
		return
	case "confirmed":
		s.handleCoordinatorsByConfirmed(w, r)
		return
	}

	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid coordinator id")
		return
	}

	switch {
	case len(parts) == 1:
		s.handleCoordinator(w, r, id)
	case len(parts) == 2 && parts[1] == "calls":
		s.handleCoordinatorCalls(w, r, id)
	case len(parts) == 2 && parts[1] == "confirm":
		s.handleConfirm(w, r, id)
	case len(parts) == 2 && parts[1] == "unconfirm":
		s.handleUnconfirm(w, r, id)
	case len(parts) == 2 && parts[1] == "guests":
		s.handleAddGuest(w, r, id)
	case len(parts) == 3 && parts[1] == "guests":
		guestID, ok := parseID(parts[2])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid guest id")
			return
		}
		s.handleRemoveGuest(w, r, id, guestID)
	case len(parts) == 3 && parts[1] == "events":
		eventID, ok := parseID(parts[2])
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid event id")
			return
		}
		s.handleEventAssignment(w, r, id, eventID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleCoordinator(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		c, err := s.coordinatorService.Get(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCoordinatorResponse(c))
	case http.MethodPut:
		if !requireEditor(w, r) {
			return
		}
		var req coordinatorRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		updated, err := s.coordinatorService.Update(r.Context(), id, req.input())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCoordinatorResponse(updated))
	case http.MethodDelete:
		if !requireEditor(w, r) {
			return
		}
		if err := s.coordinatorService.Delete(r.Context(), id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// handleCoordinatorView returns one projected page: ?q=&page=&size=.
func (s *Server) handleCoordinatorView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	state := projection.NewState().WithFilter(q.Get("q"))
	if raw := q.Get("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid size")
			return
		}
		state = state.WithPageSize(size)
	}
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		state.Page.Number = page
	}

	records, err := s.coordinatorService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(projection.Project(records, state)))
}

func (s *Server) handleCoordinatorExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	records, err := s.coordinatorService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	page := projection.ProjectAll(records, projection.FilterState{Query: r.URL.Query().Get("q")})
	var buf bytes.Buffer
	if err := export.Coordinators(&buf, page); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=coordinators.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleCoordinatorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.coordinatorService.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Total: stats.Total, Confirmed: stats.Confirmed, Pending: stats.Pending})
}

func (s *Server) handleCoordinatorSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	municipality := strings.TrimSpace(r.URL.Query().Get("municipality"))
	if municipality == "" {
		writeError(w, http.StatusBadRequest, "municipality required")
		return
	}
	items, err := s.coordinatorService.ListByMunicipality(r.Context(), municipality)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toCoordinatorResponses(items), "total": len(items)})
}

func (s *Server) handleCoordinatorsByConfirmed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	confirmed, err := strconv.ParseBool(r.URL.Query().Get("confirmed"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "confirmed must be true or false")
		return
	}
	items, err := s.coordinatorService.ListByConfirmed(r.Context(), confirmed)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": toCoordinatorResponses(items), "total": len(items)})
}

func (s *Server) handleCoordinatorCalls(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		calls, err := s.coordinatorService.ListCalls(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toCallResponses(calls)})
	case http.MethodPost:
		if !requireEditor(w, r) {
			return
		}
		var req callRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		call, err := s.coordinatorService.AddCall(r.Context(), id, req.Notes, req.EventID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCallResponse(call))
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}
	var req confirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.coordinatorService.Confirm(r.Context(), id, coordinator.Confirmation{GuestCount: req.GuestCount, Notes: req.Notes})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoordinatorResponse(c))
}

func (s *Server) handleUnconfirm(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}
	c, err := s.coordinatorService.Unconfirm(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoordinatorResponse(c))
}

func (s *Server) handleAddGuest(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}
	var req guestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := s.coordinatorService.AddGuest(r.Context(), id, coordinator.GuestInput{
		Name:       req.Name,
		NationalID: req.NationalID,
		Phone:      req.Phone,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCoordinatorResponse(c))
}

func (s *Server) handleRemoveGuest(w http.ResponseWriter, r *http.Request, id, guestID int64) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}
	c, err := s.coordinatorService.RemoveGuest(r.Context(), id, guestID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCoordinatorResponse(c))
}

func (s *Server) handleEventAssignment(w http.ResponseWriter, r *http.Request, id, eventID int64) {
	var err error
	switch r.Method {
	case http.MethodPut:
		if !requireEditor(w, r) {
			return
		}
		err = s.coordinatorService.AssignEvent(r.Context(), id, eventID)
	case http.MethodDelete:
		if !requireEditor(w, r) {
			return
		}
		err = s.coordinatorService.UnassignEvent(r.Context(), id, eventID)
	default:
		methodNotAllowed(w)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCallDetail serves DELETE /api/calls/{id}.
func (s *Server) handleCallDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/calls/")
	if len(parts) != 1 {
		writeError(w, http.StatusBadRequest, "invalid call path")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid call id")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}
	if err := s.coordinatorService.RemoveCall(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
