package main

import (
	"time"

	"coordhub/audit"
	"coordhub/auth"
	"coordhub/coordinator"
	"coordhub/event"
	"coordhub/geo"
	"coordhub/heatmap"
	"coordhub/projection"
	"coordhub/whatsapp"
)

type callResponse struct {
	ID            int64   `json:"id"`
	CoordinatorID int64   `json:"coordinatorId"`
	CalledAt      string  `json:"calledAt"`
	Notes         *string `json:"notes,omitempty"`
	EventID       *int64  `json:"eventId,omitempty"`
}

type guestResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	NationalID string `json:"nationalId"`
	Phone      string `json:"phone"`
}

type coordinatorResponse struct {
	ID           int64           `json:"id"`
	Municipality string          `json:"municipality"`
	Sector       string          `json:"sector"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	FullName     string          `json:"fullName"`
	Phone        string          `json:"phone"`
	Email        *string         `json:"email,omitempty"`
	NationalID   *string         `json:"nationalId,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	Confirmed    bool            `json:"confirmed"`
	GuestCount   int             `json:"guestCount"`
	CallCount    int             `json:"callCount"`
	LastCallAt   string          `json:"lastCallAt,omitempty"`
	Calls        []callResponse  `json:"calls"`
	Guests       []guestResponse `json:"guests"`
	EventIDs     []int64         `json:"eventIds"`
	CreatedAt    string          `json:"createdAt"`
	UpdatedAt    string          `json:"updatedAt"`
}

type statsResponse struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Pending   int `json:"pending"`
}

type rowResponse struct {
	Position    int                 `json:"position"`
	Head        bool                `json:"head"`
	Label       string              `json:"label,omitempty"`
	Span        int                 `json:"span"`
	GroupSize   int                 `json:"groupSize"`
	Coordinator coordinatorResponse `json:"coordinator"`
}

type viewResponse struct {
	Query      string        `json:"query"`
	Page       int           `json:"page"`
	Size       int           `json:"size"`
	TotalPages int           `json:"totalPages"`
	Total      int           `json:"total"`
	Rows       []rowResponse `json:"rows"`
}

type eventResponse struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Place       string  `json:"place"`
	ScheduledAt string  `json:"scheduledAt"`
	Notes       *string `json:"notes,omitempty"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

type userResponse struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	FullName           string    `json:"fullName"`
	Role               auth.Role `json:"role"`
	Active             bool      `json:"active"`
	MustChangePassword bool      `json:"mustChangePassword"`
	FailedAttempts     int       `json:"failedAttempts"`
	Locked             bool      `json:"locked"`
	LastLoginAt        string    `json:"lastLoginAt,omitempty"`
	CreatedAt          string    `json:"createdAt"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

type auditEntryResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Entity    string `json:"entity"`
	EntityID  *int64 `json:"entityId,omitempty"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt"`
}

type auditPageResponse struct {
	Content       []auditEntryResponse `json:"content"`
	TotalElements int                  `json:"totalElements"`
	TotalPages    int                  `json:"totalPages"`
	Size          int                  `json:"size"`
	Number        int                  `json:"number"`
}

type predictionResponse struct {
	Description string   `json:"description"`
	PlaceID     string   `json:"placeId"`
	Name        string   `json:"name"`
	Types       []string `json:"types,omitempty"`
}

type latLngResponse struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type markerResponse struct {
	Key          string          `json:"key"`
	Count        int             `json:"count"`
	Position     *latLngResponse `json:"position,omitempty"`
	Normalized   float64         `json:"normalized"`
	RadiusMeters float64         `json:"radiusMeters"`
	Opacity      float64         `json:"opacity"`
	Color        string          `json:"color"`
	DiameterPx   int             `json:"diameterPx"`
}

type sectorLocationResponse struct {
	Sector       string         `json:"sector"`
	Municipality string         `json:"municipality"`
	Position     latLngResponse `json:"position"`
}

type locationsResponse struct {
	Municipalities []string                 `json:"municipalities"`
	Sectors        []sectorLocationResponse `json:"sectors"`
}

type sendResultResponse struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Success    bool   `json:"success"`
	MessageSID string `json:"messageSid,omitempty"`
	Error      string `json:"error,omitempty"`
}

type bulkResponse struct {
	BatchID   string               `json:"batchId"`
	Success   bool                 `json:"success"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
	Results   []sendResultResponse `json:"results"`
	Message   string               `json:"message"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func toCallResponse(c coordinator.Call) callResponse {
	return callResponse{
		ID:            c.ID,
		CoordinatorID: c.CoordinatorID,
		CalledAt:      formatTime(c.CalledAt),
		Notes:         c.Notes,
		EventID:       c.EventID,
	}
}

func toCallResponses(calls []coordinator.Call) []callResponse {
	out := make([]callResponse, 0, len(calls))
	for _, c := range calls {
		out = append(out, toCallResponse(c))
	}
	return out
}

func toCoordinatorResponse(c coordinator.Coordinator) coordinatorResponse {
	guests := make([]guestResponse, 0, len(c.Guests))
	for _, g := range c.Guests {
		guests = append(guests, guestResponse{ID: g.ID, Name: g.Name, NationalID: g.NationalID, Phone: g.Phone})
	}
	eventIDs := c.EventIDs
	if eventIDs == nil {
		eventIDs = []int64{}
	}
	return coordinatorResponse{
		ID:           c.ID,
		Municipality: c.Municipality,
		Sector:       c.Sector,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		FullName:     c.FullName,
		Phone:        c.Phone,
		Email:        c.Email,
		NationalID:   c.NationalID,
		Notes:        c.Notes,
		Confirmed:    c.Confirmed,
		GuestCount:   c.GuestCount,
		CallCount:    c.CallCount,
		LastCallAt:   formatTimePtr(c.LastCallAt),
		Calls:        toCallResponses(c.Calls),
		Guests:       guests,
		EventIDs:     eventIDs,
		CreatedAt:    formatTime(c.CreatedAt),
		UpdatedAt:    formatTime(c.UpdatedAt),
	}
}

func toCoordinatorResponses(cs []coordinator.Coordinator) []coordinatorResponse {
	out := make([]coordinatorResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, toCoordinatorResponse(c))
	}
	return out
}

func toViewResponse(p projection.Projection) viewResponse {
	rows := make([]rowResponse, 0, len(p.Page.Rows))
	for _, r := range p.Page.Rows {
		rows = append(rows, rowResponse{
			Position:    r.Position,
			Head:        r.Head,
			Label:       r.Label,
			Span:        r.Span,
			GroupSize:   r.GroupSize,
			Coordinator: toCoordinatorResponse(r.Record),
		})
	}
	return viewResponse{
		Query:      p.State.Filter.Query,
		Page:       p.Page.Number,
		Size:       p.Page.Size,
		TotalPages: p.Page.TotalPages,
		Total:      p.Page.Total,
		Rows:       rows,
	}
}

func toEventResponse(e event.Event) eventResponse {
	return eventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Place:       e.Place,
		ScheduledAt: formatTime(e.ScheduledAt),
		Notes:       e.Notes,
		CreatedAt:   formatTime(e.CreatedAt),
		UpdatedAt:   formatTime(e.UpdatedAt),
	}
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		FullName:           u.FullName,
		Role:               u.Role,
		Active:             u.Active,
		MustChangePassword: u.MustChangePassword,
		FailedAttempts:     u.FailedAttempts,
		Locked:             u.Locked,
		LastLoginAt:        formatTimePtr(u.LastLoginAt),
		CreatedAt:          formatTime(u.CreatedAt),
	}
}

func toAuditPageResponse(p audit.Page) auditPageResponse {
	content := make([]auditEntryResponse, 0, len(p.Content))
	for _, e := range p.Content {
		content = append(content, auditEntryResponse{
			ID:        e.ID,
			Username:  e.Username,
			Action:    string(e.Action),
			Entity:    e.Entity,
			EntityID:  e.EntityID,
			Detail:    e.Detail,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	return auditPageResponse{
		Content:       content,
		TotalElements: p.TotalElements,
		TotalPages:    p.TotalPages,
		Size:          p.Size,
		Number:        p.Number,
	}
}

func toPredictionResponses(ps []geo.Prediction) []predictionResponse {
	out := make([]predictionResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, predictionResponse{Description: p.Description, PlaceID: p.PlaceID, Name: p.Name(), Types: p.Types})
	}
	return out
}

func toMarkerResponses(ms []heatmap.Marker) []markerResponse {
	out := make([]markerResponse, 0, len(ms))
	for _, m := range ms {
		resp := markerResponse{
			Key:          m.Key,
			Count:        m.Count,
			Normalized:   m.Normalized,
			RadiusMeters: m.RadiusMeters,
			Opacity:      m.Opacity,
			Color:        m.Color,
			DiameterPx:   m.DiameterPx,
		}
		if m.Position != nil {
			resp.Position = &latLngResponse{Lat: m.Position.Lat, Lng: m.Position.Lng}
		}
		out = append(out, resp)
	}
	return out
}

func toLocationsResponse(l heatmap.Locations) locationsResponse {
	sectors := make([]sectorLocationResponse, 0, len(l.Sectors))
	for _, s := range l.Sectors {
		sectors = append(sectors, sectorLocationResponse{
			Sector:       s.Sector,
			Municipality: s.Municipality,
			Position:     latLngResponse{Lat: s.Position.Lat, Lng: s.Position.Lng},
		})
	}
	return locationsResponse{Municipalities: l.Municipalities, Sectors: sectors}
}

func toBulkResponse(s whatsapp.Summary) bulkResponse {
	results := make([]sendResultResponse, 0, len(s.Results))
	for _, r := range s.Results {
		results = append(results, sendResultResponse{
			Name:       r.Name,
			Phone:      r.Phone,
			Success:    r.Success,
			MessageSID: r.MessageSID,
			Error:      r.Error,
		})
	}
	return bulkResponse{
		BatchID:   s.BatchID,
		Success:   s.Success,
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		Results:   results,
		Message:   s.Message,
	}
}
