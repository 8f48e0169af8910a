package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"coordhub/audit"
	"coordhub/geo"
	"coordhub/heatmap"
	"coordhub/whatsapp"
)

const dateLayout = "2006-01-02"

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	query := audit.Query{Entity: strings.TrimSpace(q.Get("entity"))}

	var ok bool
	if query.From, ok = parseTimeParam(q.Get("from"), false); !ok {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if query.To, ok = parseTimeParam(q.Get("to"), true); !ok {
		writeError(w, http.StatusBadRequest, "invalid to")
		return
	}
	if query.Page, ok = parseIntParam(q.Get("page")); !ok {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if query.Size, ok = parseIntParam(q.Get("size")); !ok {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}

	page, err := s.auditService.List(r.Context(), query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditPageResponse(page))
}

// parseTimeParam accepts RFC3339 or a plain date. A plain date used as an
// upper bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

func parseIntParam(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

// handlePlaces serves /api/places/autocomplete and /api/places/{placeId}/coordinates.
func (s *Server) handlePlaces(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	parts := pathSegments(r.URL.Path, "/api/places/")
	switch {
	case len(parts) == 1 && parts[0] == "autocomplete":
		q := r.URL.Query()
		preds, err := s.places.Autocomplete(r.Context(), q.Get("input"), geo.ParseKind(q.Get("kind")))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": toPredictionResponses(preds)})
	case len(parts) == 2 && parts[1] == "coordinates":
		pos, err := s.places.PlaceCoordinates(r.Context(), parts[0])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if pos == nil {
			writeError(w, http.StatusNotFound, "no coordinates for place")
			return
		}
		writeJSON(w, http.StatusOK, latLngResponse{Lat: pos.Lat, Lng: pos.Lng})
	default:
		writeError(w, http.StatusBadRequest, "invalid places path")
	}
}

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	opts := heatmap.Options{
		GroupBy:      heatmap.ParseGroupBy(q.Get("groupBy")),
		Municipality: q.Get("municipality"),
		Sector:       q.Get("sector"),
	}
	if raw := q.Get("eventId"); raw != "" {
		id, ok := parseID(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid eventId")
			return
		}
		opts.EventID = &id
	}

	coords, err := s.coordinatorService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	markers, err := s.heatmap.Build(r.Context(), coords, opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	total := 0
	for _, m := range markers {
		total += m.Count
	}
	writeJSON(w, http.StatusOK, map[string]any{"markers": toMarkerResponses(markers), "total": total})
}

func (s *Server) handleHeatmapLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	coords, err := s.coordinatorService.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLocationsResponse(heatmap.CollectLocations(coords)))
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type recipientRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Municipality string `json:"municipality"`
	Sector       string `json:"sector"`
}

type bulkRequest struct {
	Recipients []recipientRequest `json:"recipients"`
	Message    string             `json:"message"`
}

// handleWhatsApp serves /api/whatsapp/send and /api/whatsapp/bulk.
func (s *Server) handleWhatsApp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireEditor(w, r) {
		return
	}

	switch strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/whatsapp/"), "/") {
	case "send":
		var req sendRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sid, err := s.messenger.Send(r.Context(), req.To, req.Message)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "messageSid": sid})
	case "bulk":
		var req bulkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		recipients := make([]whatsapp.Recipient, 0, len(req.Recipients))
		for _, rc := range req.Recipients {
			recipients = append(recipients, whatsapp.Recipient{
				Name:         rc.Name,
				Phone:        rc.Phone,
				Municipality: rc.Municipality,
				Sector:       rc.Sector,
			})
		}
		summary, err := s.messenger.SendBulk(r.Context(), recipients, req.Message)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.log().Info("whatsapp bulk send",
			"batch_id", summary.BatchID,
			"total", summary.Total,
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
		)
		writeJSON(w, http.StatusOK, toBulkResponse(summary))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}
