package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"coordhub/audit"
	"coordhub/auth"
	"coordhub/coordinator"
	"coordhub/event"
	"coordhub/geo"
	"coordhub/heatmap"
	"coordhub/metrics"
	"coordhub/whatsapp"
)

type ctxKey string

const (
	ctxKeyUserID   ctxKey = "userID"
	ctxKeyRole     ctxKey = "role"
	ctxKeyUsername ctxKey = "username"
)

const maxBodyBytes = 1 << 20

type coordinatorService interface {
	List(ctx context.Context) ([]coordinator.Coordinator, error)
	Get(ctx context.Context, id int64) (coordinator.Coordinator, error)
	ListByMunicipality(ctx context.Context, municipality string) ([]coordinator.Coordinator, error)
	ListByConfirmed(ctx context.Context, confirmed bool) ([]coordinator.Coordinator, error)
	ListByEvent(ctx context.Context, eventID int64) ([]coordinator.Coordinator, error)
	Stats(ctx context.Context) (coordinator.Stats, error)
	ListCalls(ctx context.Context, coordinatorID int64) ([]coordinator.Call, error)
	Create(ctx context.Context, in coordinator.Input) (coordinator.Coordinator, error)
	Update(ctx context.Context, id int64, in coordinator.Input) (coordinator.Coordinator, error)
	Delete(ctx context.Context, id int64) error
	Confirm(ctx context.Context, id int64, conf coordinator.Confirmation) (coordinator.Coordinator, error)
	Unconfirm(ctx context.Context, id int64) (coordinator.Coordinator, error)
	AddCall(ctx context.Context, coordinatorID int64, notes *string, eventID *int64) (coordinator.Call, error)
	RemoveCall(ctx context.Context, callID int64) error
	AssignEvent(ctx context.Context, coordinatorID, eventID int64) error
	UnassignEvent(ctx context.Context, coordinatorID, eventID int64) error
	AddGuest(ctx context.Context, coordinatorID int64, in coordinator.GuestInput) (coordinator.Coordinator, error)
	RemoveGuest(ctx context.Context, coordinatorID, guestID int64) (coordinator.Coordinator, error)
}

type eventService interface {
	List(ctx context.Context) ([]event.Event, error)
	Get(ctx context.Context, id int64) (event.Event, error)
	Create(ctx context.Context, in event.Input) (event.Event, error)
	Update(ctx context.Context, id int64, in event.Input) (event.Event, error)
	Delete(ctx context.Context, id int64) error
}

type authService interface {
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Principal, error)
	ChangePassword(ctx context.Context, userID int64, req auth.ChangePasswordRequest) error
	ListUsers(ctx context.Context) ([]auth.User, error)
	GetUserByID(ctx context.Context, id int64) (auth.User, error)
	CreateUser(ctx context.Context, req auth.CreateUserRequest, mustChange bool) (auth.User, error)
	UpdateUser(ctx context.Context, id int64, req auth.UpdateUserRequest) (auth.User, error)
	DeleteUser(ctx context.Context, actorID, id int64) error
	Unlock(ctx context.Context, id int64) (auth.User, error)
	ResetPassword(ctx context.Context, id int64, temporary string) error
}

type auditService interface {
	List(ctx context.Context, q audit.Query) (audit.Page, error)
}

type placesClient interface {
	Autocomplete(ctx context.Context, input string, kind geo.Kind) ([]geo.Prediction, error)
	PlaceCoordinates(ctx context.Context, placeID string) (*geo.LatLng, error)
}

type messenger interface {
	Send(ctx context.Context, to, body string) (string, error)
	SendBulk(ctx context.Context, recipients []whatsapp.Recipient, template string) (whatsapp.Summary, error)
}

type heatmapBuilder interface {
	Build(ctx context.Context, coords []coordinator.Coordinator, opts heatmap.Options) ([]heatmap.Marker, error)
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	coordinatorService coordinatorService
	eventService       eventService
	authService        authService
	auditService       auditService
	places             placesClient
	messenger          messenger
	heatmap            heatmapBuilder
	metrics            *metrics.Metrics
	logger             *slog.Logger
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.handle(mux, "/api/auth/login", s.handleLogin)
	s.handle(mux, "/api/auth/password", s.requireAuth(s.handleChangePassword))
	s.handle(mux, "/api/auth/me", s.requireAuth(s.handleMe))

	s.handle(mux, "/api/users", s.requireAuth(s.requireRole(auth.RoleAdmin, s.handleUsers)))
	s.handle(mux, "/api/users/", s.requireAuth(s.requireRole(auth.RoleAdmin, s.handleUserDetail)))

	s.handle(mux, "/api/coordinators", s.requireAuth(s.handleCoordinators))
	s.handle(mux, "/api/coordinators/", s.requireAuth(s.handleCoordinatorDetail))
	s.handle(mux, "/api/calls/", s.requireAuth(s.handleCallDetail))

	s.handle(mux, "/api/events", s.requireAuth(s.handleEvents))
	s.handle(mux, "/api/events/", s.requireAuth(s.handleEventDetail))

	s.handle(mux, "/api/audit", s.requireAuth(s.requireRole(auth.RoleAdmin, s.handleAudit)))

	s.handle(mux, "/api/places/", s.requireAuth(s.handlePlaces))
	s.handle(mux, "/api/heatmap", s.requireAuth(s.handleHeatmap))
	s.handle(mux, "/api/heatmap/locations", s.requireAuth(s.handleHeatmapLocations))
	s.handle(mux, "/api/whatsapp/", s.requireAuth(s.handleWhatsApp))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}

	return s.withRequestLogging(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	var handler http.Handler = h
	if s.metrics != nil {
		handler = s.metrics.Instrument(pattern, handler)
	}
	mux.Handle(pattern, handler)
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.log().Info("http request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		principal, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, principal.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, principal.Role)
		ctx = context.WithValue(ctx, ctxKeyUsername, principal.Username)
		ctx = audit.WithActor(ctx, principal.Username)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) requireRole(role auth.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if roleFrom(r.Context()) != role {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r)
	}
}

// requireEditor writes 403 and returns false when the caller may not mutate.
func requireEditor(w http.ResponseWriter, r *http.Request) bool {
	if !roleFrom(r.Context()).CanEdit() {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func roleFrom(ctx context.Context) auth.Role {
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return role
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(ctxKeyUserID).(int64)
	return id
}

// pathSegments returns the non-empty path segments after prefix.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeServiceError maps domain errors to HTTP responses. Unknown errors are
// logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInvalid),
		errors.Is(err, event.ErrInvalid),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrSelfDelete),
		errors.Is(err, audit.ErrInvalidRange),
		errors.Is(err, whatsapp.ErrInvalid),
		errors.Is(err, whatsapp.ErrInvalidPhone):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusLocked, err.Error())
	case errors.Is(err, coordinator.ErrNotFound),
		errors.Is(err, event.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrDuplicateUser):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, geo.ErrNotConfigured), errors.Is(err, whatsapp.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, geo.ErrProvider), errors.Is(err, whatsapp.ErrProvider):
		writeError(w, http.StatusBadGateway, "upstream provider error")
	default:
		s.log().Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
