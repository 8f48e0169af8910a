package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coordhub/audit"
	"coordhub/auth"
	"coordhub/coordinator"
	"coordhub/event"
	"coordhub/export"
	"coordhub/geo"
	"coordhub/heatmap"
	"coordhub/whatsapp"
)

type stubCoordinatorService struct {
	coordinator  coordinator.Coordinator
	coordinators []coordinator.Coordinator
	call         coordinator.Call
	stats        coordinator.Stats
	err          error

	lastInput    coordinator.Input
	lastCallNote *string
	removedCall  int64
	assigned     [2]int64
}

func (s *stubCoordinatorService) List(context.Context) ([]coordinator.Coordinator, error) {
	return s.coordinators, s.err
}

func (s *stubCoordinatorService) Get(context.Context, int64) (coordinator.Coordinator, error) {
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) ListByMunicipality(_ context.Context, municipality string) ([]coordinator.Coordinator, error) {
	var out []coordinator.Coordinator
	for _, c := range s.coordinators {
		if c.Municipality == municipality {
			out = append(out, c)
		}
	}
	return out, s.err
}

func (s *stubCoordinatorService) ListByConfirmed(_ context.Context, confirmed bool) ([]coordinator.Coordinator, error) {
	var out []coordinator.Coordinator
	for _, c := range s.coordinators {
		if c.Confirmed == confirmed {
			out = append(out, c)
		}
	}
	return out, s.err
}

func (s *stubCoordinatorService) ListByEvent(context.Context, int64) ([]coordinator.Coordinator, error) {
	return s.coordinators, s.err
}

func (s *stubCoordinatorService) Stats(context.Context) (coordinator.Stats, error) {
	return s.stats, s.err
}

func (s *stubCoordinatorService) ListCalls(context.Context, int64) ([]coordinator.Call, error) {
	return s.coordinator.Calls, s.err
}

func (s *stubCoordinatorService) Create(_ context.Context, in coordinator.Input) (coordinator.Coordinator, error) {
	s.lastInput = in
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) Update(_ context.Context, _ int64, in coordinator.Input) (coordinator.Coordinator, error) {
	s.lastInput = in
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) Delete(context.Context, int64) error {
	return s.err
}

func (s *stubCoordinatorService) Confirm(context.Context, int64, coordinator.Confirmation) (coordinator.Coordinator, error) {
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) Unconfirm(context.Context, int64) (coordinator.Coordinator, error) {
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) AddCall(_ context.Context, _ int64, notes *string, _ *int64) (coordinator.Call, error) {
	s.lastCallNote = notes
	return s.call, s.err
}

func (s *stubCoordinatorService) RemoveCall(_ context.Context, callID int64) error {
	s.removedCall = callID
	return s.err
}

func (s *stubCoordinatorService) AssignEvent(_ context.Context, coordinatorID, eventID int64) error {
	s.assigned = [2]int64{coordinatorID, eventID}
	return s.err
}

func (s *stubCoordinatorService) UnassignEvent(context.Context, int64, int64) error {
	return s.err
}

func (s *stubCoordinatorService) AddGuest(context.Context, int64, coordinator.GuestInput) (coordinator.Coordinator, error) {
	return s.coordinator, s.err
}

func (s *stubCoordinatorService) RemoveGuest(context.Context, int64, int64) (coordinator.Coordinator, error) {
	return s.coordinator, s.err
}

type stubEventService struct {
	event event.Event
	err   error
	input event.Input
}

func (s *stubEventService) List(context.Context) ([]event.Event, error) {
	return []event.Event{s.event}, s.err
}

func (s *stubEventService) Get(context.Context, int64) (event.Event, error) {
	return s.event, s.err
}

func (s *stubEventService) Create(_ context.Context, in event.Input) (event.Event, error) {
	s.input = in
	return s.event, s.err
}

func (s *stubEventService) Update(_ context.Context, _ int64, in event.Input) (event.Event, error) {
	s.input = in
	return s.event, s.err
}

func (s *stubEventService) Delete(context.Context, int64) error {
	return s.err
}

type stubAuthService struct {
	principal auth.Principal
	verifyErr error
	login     auth.LoginResult
	user      auth.User
	err       error
	deleted   [2]int64
}

func (s *stubAuthService) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	return s.login, s.err
}

func (s *stubAuthService) VerifyToken(token string) (auth.Principal, error) {
	if token != "good-token" {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return s.principal, s.verifyErr
}

func (s *stubAuthService) ChangePassword(context.Context, int64, auth.ChangePasswordRequest) error {
	return s.err
}

func (s *stubAuthService) ListUsers(context.Context) ([]auth.User, error) {
	return []auth.User{s.user}, s.err
}

func (s *stubAuthService) GetUserByID(context.Context, int64) (auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) CreateUser(context.Context, auth.CreateUserRequest, bool) (auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) UpdateUser(context.Context, int64, auth.UpdateUserRequest) (auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) DeleteUser(_ context.Context, actorID, id int64) error {
	s.deleted = [2]int64{actorID, id}
	return s.err
}

func (s *stubAuthService) Unlock(context.Context, int64) (auth.User, error) {
	return s.user, s.err
}

func (s *stubAuthService) ResetPassword(context.Context, int64, string) error {
	return s.err
}

type stubAuditService struct {
	page  audit.Page
	err   error
	query audit.Query
}

func (s *stubAuditService) List(_ context.Context, q audit.Query) (audit.Page, error) {
	s.query = q
	return s.page, s.err
}

type stubPlaces struct {
	predictions []geo.Prediction
	position    *geo.LatLng
	err         error
}

func (s *stubPlaces) Autocomplete(context.Context, string, geo.Kind) ([]geo.Prediction, error) {
	return s.predictions, s.err
}

func (s *stubPlaces) PlaceCoordinates(context.Context, string) (*geo.LatLng, error) {
	return s.position, s.err
}

type stubMessenger struct {
	summary    whatsapp.Summary
	err        error
	recipients []whatsapp.Recipient
}

func (s *stubMessenger) Send(context.Context, string, string) (string, error) {
	return "SM1", s.err
}

func (s *stubMessenger) SendBulk(_ context.Context, recipients []whatsapp.Recipient, _ string) (whatsapp.Summary, error) {
	s.recipients = recipients
	return s.summary, s.err
}

func withPrincipal(req *http.Request, id int64, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, id)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleCoordinator_Success(t *testing.T) {
	now := time.Date(2024, 10, 31, 15, 4, 5, 0, time.UTC)
	email := "ana@example.com"
	server := &Server{
		coordinatorService: &stubCoordinatorService{
			coordinator: coordinator.Coordinator{
				ID:           7,
				Municipality: "Medellín",
				Sector:       "Laureles",
				FullName:     "Ana Gómez",
				Phone:        "3001234567",
				Email:        &email,
				Calls:        []coordinator.Call{{ID: 1, CoordinatorID: 7, CalledAt: now}},
				CallCount:    1,
				LastCallAt:   &now,
				CreatedAt:    now,
			},
		},
	}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/7", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var resp coordinatorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 7 || resp.FullName != "Ana Gómez" || resp.Email == nil || *resp.Email != email {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) || resp.LastCallAt != now.Format(time.RFC3339) {
		t.Fatalf("expected RFC3339 timestamps, got %q / %q", resp.CreatedAt, resp.LastCallAt)
	}
	if len(resp.Calls) != 1 || resp.EventIDs == nil {
		t.Fatalf("expected calls and non-nil event ids, got %+v", resp)
	}
}

func TestHandleCoordinator_NotFound(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{err: coordinator.ErrNotFound}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/99", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCoordinator_InvalidPath(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{}}

	for _, path := range []string{"/api/coordinators/", "/api/coordinators/abc", "/api/coordinators/-3"} {
		req := withPrincipal(httptest.NewRequest(http.MethodGet, path, nil), 1, auth.RoleViewer)
		rec := httptest.NewRecorder()

		server.handleCoordinatorDetail(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandleCoordinator_WrongMethod(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{}}

	req := withPrincipal(httptest.NewRequest(http.MethodPatch, "/api/coordinators/7", nil), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleCoordinator_UnexpectedError(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{err: errors.New("boom")}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/7", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "boom") {
		t.Fatalf("expected internal detail to be hidden, got %s", rec.Body.String())
	}
}

func TestHandleCreateCoordinator_ForbidViewer(t *testing.T) {
	stub := &stubCoordinatorService{}
	server := &Server{coordinatorService: stub}

	body := strings.NewReader(`{"municipality":"Cali","fullName":"Luis","phone":"3001112233"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/coordinators", body), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinators(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateCoordinator_ValidationError(t *testing.T) {
	stub := &stubCoordinatorService{err: coordinator.ErrInvalid}
	server := &Server{coordinatorService: stub}

	body := strings.NewReader(`{"municipality":"","fullName":"Luis","phone":"3001112233","sectorPlaceId":"abc"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/coordinators", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCoordinators(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if stub.lastInput.SectorPlaceID != "abc" || stub.lastInput.FullName != "Luis" {
		t.Fatalf("expected request mapped to input, got %+v", stub.lastInput)
	}
}

func TestHandleCreateCoordinator_UnknownField(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{}}

	body := strings.NewReader(`{"municipio":"Cali"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/coordinators", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCoordinators(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func coordinatorFixtures() []coordinator.Coordinator {
	return []coordinator.Coordinator{
		{ID: 1, Municipality: "Medellín", Sector: "Belén", FullName: "Ana", Phone: "3001"},
		{ID: 2, Municipality: "Bello", FullName: "Beto", Phone: "3002", Confirmed: true},
		{ID: 3, Municipality: "Medellín", Sector: "Laureles", FullName: "Caro", Phone: "3003"},
		{ID: 4, Municipality: "Medellín", Sector: "Robledo", FullName: "Dani", Phone: "3004"},
	}
}

func TestHandleCoordinatorView_Paginates(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{coordinators: coordinatorFixtures()}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/view?page=2&size=2", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp viewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Page != 2 || resp.TotalPages != 2 || resp.Total != 4 || len(resp.Rows) != 2 {
		t.Fatalf("unexpected page metadata: %+v", resp)
	}
	head := resp.Rows[0]
	if !head.Head || head.Label != "Medellín (3)" || head.Span != 2 || head.Coordinator.ID != 3 {
		t.Fatalf("expected promoted Medellín head, got %+v", head)
	}
	if resp.Rows[1].Head || resp.Rows[1].Span != 0 {
		t.Fatalf("expected continuation row, got %+v", resp.Rows[1])
	}
}

func TestHandleCoordinatorView_FilterAndBadParams(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{coordinators: coordinatorFixtures()}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/view?q=LAURELES", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()
	server.handleCoordinatorDetail(rec, req)

	var resp viewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 || resp.Rows[0].Label != "Medellín (1)" || resp.Query != "LAURELES" {
		t.Fatalf("unexpected filtered view: %+v", resp)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/view?page=zero", nil), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handleCoordinatorDetail(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCoordinatorExport(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{coordinators: coordinatorFixtures()}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/export?q=medell", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != export.ContentType {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "coordinators.xlsx") {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.Len() == 0 || !strings.HasPrefix(rec.Body.String(), "PK") {
		t.Fatal("expected a zip-encoded workbook")
	}
}

func TestHandleCoordinatorsByConfirmed(t *testing.T) {
	server := &Server{coordinatorService: &stubCoordinatorService{coordinators: coordinatorFixtures()}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/confirmed?confirmed=true", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()
	server.handleCoordinatorDetail(rec, req)

	var payload struct {
		Items []coordinatorResponse `json:"items"`
		Total int                   `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 1 || payload.Items[0].ID != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/coordinators/confirmed?confirmed=maybe", nil), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handleCoordinatorDetail(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAddCall_Success(t *testing.T) {
	now := time.Now().UTC()
	stub := &stubCoordinatorService{call: coordinator.Call{ID: 11, CoordinatorID: 7, CalledAt: now}}
	server := &Server{coordinatorService: stub}

	body := strings.NewReader(`{"notes":"left voicemail","eventId":3}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/coordinators/7/calls", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if stub.lastCallNote == nil || *stub.lastCallNote != "left voicemail" {
		t.Fatalf("expected notes forwarded, got %v", stub.lastCallNote)
	}
	var resp callResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != 11 {
		t.Fatalf("unexpected call payload %+v", resp)
	}
}

func TestHandleCallDetail_Delete(t *testing.T) {
	stub := &stubCoordinatorService{}
	server := &Server{coordinatorService: stub}

	req := withPrincipal(httptest.NewRequest(http.MethodDelete, "/api/calls/42", nil), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCallDetail(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if stub.removedCall != 42 {
		t.Fatalf("expected call 42 removed, got %d", stub.removedCall)
	}
}

func TestHandleEventAssignment(t *testing.T) {
	stub := &stubCoordinatorService{}
	server := &Server{coordinatorService: stub}

	req := withPrincipal(httptest.NewRequest(http.MethodPut, "/api/coordinators/7/events/3", nil), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleCoordinatorDetail(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if stub.assigned != [2]int64{7, 3} {
		t.Fatalf("unexpected assignment %v", stub.assigned)
	}
}

func TestHandleCreateEvent_BadTimestamp(t *testing.T) {
	server := &Server{eventService: &stubEventService{}}

	body := strings.NewReader(`{"name":"Rally","place":"Plaza","scheduledAt":"tomorrow"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/events", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleEvents(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreateEvent_Success(t *testing.T) {
	when := time.Date(2024, 8, 10, 18, 0, 0, 0, time.UTC)
	stub := &stubEventService{event: event.Event{ID: 5, Name: "Rally", Place: "Plaza", ScheduledAt: when}}
	server := &Server{eventService: stub}

	body := strings.NewReader(`{"name":"Rally","place":"Plaza","scheduledAt":"2024-08-10T18:00:00Z"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/events", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleEvents(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if !stub.input.ScheduledAt.Equal(when) {
		t.Fatalf("expected parsed time, got %v", stub.input.ScheduledAt)
	}
}

func TestHandleLogin(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{auth.ErrInvalidCredentials, http.StatusUnauthorized},
		{auth.ErrAccountLocked, http.StatusLocked},
		{auth.ErrAccountInactive, http.StatusForbidden},
	}
	for _, tc := range cases {
		server := &Server{authService: &stubAuthService{
			err: tc.err,
			login: auth.LoginResult{
				Token:     "tok",
				ExpiresAt: time.Now().Add(time.Hour),
				User:      auth.User{ID: 1, Username: "ana", Role: auth.RoleEditor, MustChangePassword: true},
			},
		}}
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"ana","password":"secret123"}`))
		rec := httptest.NewRecorder()

		server.handleLogin(rec, req)

		if rec.Code != tc.code {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.code, rec.Code)
		}
		if tc.err == nil {
			var resp loginResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Token != "tok" || !resp.User.MustChangePassword {
				t.Fatalf("unexpected login payload %+v", resp)
			}
		}
	}
}

func TestRoutes_RequireAuthAndRoles(t *testing.T) {
	authStub := &stubAuthService{principal: auth.Principal{UserID: 2, Username: "ed", Role: auth.RoleEditor}}
	server := &Server{
		authService:        authStub,
		coordinatorService: &stubCoordinatorService{coordinators: coordinatorFixtures()},
		auditService:       &stubAuditService{},
	}
	handler := server.routes()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		code   int
	}{
		{"no token", http.MethodGet, "/api/coordinators", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/coordinators", "nope", http.StatusUnauthorized},
		{"editor lists", http.MethodGet, "/api/coordinators", "good-token", http.StatusOK},
		{"editor audit", http.MethodGet, "/api/audit", "good-token", http.StatusForbidden},
		{"editor users", http.MethodGet, "/api/users", "good-token", http.StatusForbidden},
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.code, rec.Code)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected request id header", tc.name)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "abc-123" {
		t.Fatalf("expected caller request id echoed, got %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestHandleDeleteUser_UsesCaller(t *testing.T) {
	stub := &stubAuthService{}
	server := &Server{authService: stub}

	req := withPrincipal(httptest.NewRequest(http.MethodDelete, "/api/users/9", nil), 4, auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleUserDetail(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if stub.deleted != [2]int64{4, 9} {
		t.Fatalf("expected actor 4 deleting 9, got %v", stub.deleted)
	}
}

func TestHandleCreateUser_Duplicate(t *testing.T) {
	server := &Server{authService: &stubAuthService{err: auth.ErrDuplicateUser}}

	body := strings.NewReader(`{"username":"ana","email":"ana@example.com","fullName":"Ana","password":"longenough","role":"viewer"}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/users", body), 1, auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleUsers(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleAudit(t *testing.T) {
	id := int64(3)
	stub := &stubAuditService{page: audit.Page{
		Content:       []audit.Entry{{ID: 1, Username: "ana", Action: audit.ActionCreate, Entity: "coordinator", EntityID: &id}},
		TotalElements: 1,
		TotalPages:    1,
		Size:          50,
	}}
	server := &Server{auditService: stub}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/audit?from=2024-01-01&to=2024-01-31&entity=coordinator&page=0&size=50", nil), 1, auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleAudit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if stub.query.From == nil || stub.query.To == nil || stub.query.Entity != "coordinator" || stub.query.Size != 50 {
		t.Fatalf("unexpected query %+v", stub.query)
	}
	if stub.query.To.Day() != 31 || stub.query.To.Hour() != 23 {
		t.Fatalf("expected end-of-day upper bound, got %v", stub.query.To)
	}
	var resp auditPageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TotalElements != 1 || len(resp.Content) != 1 || resp.Content[0].Action != "create" {
		t.Fatalf("unexpected payload %+v", resp)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/audit?from=yesterday", nil), 1, auth.RoleAdmin)
	rec = httptest.NewRecorder()
	server.handleAudit(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePlaces(t *testing.T) {
	server := &Server{places: &stubPlaces{
		predictions: []geo.Prediction{{Description: "Bello, Antioquia, Colombia", PlaceID: "p1"}},
	}}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/places/autocomplete?input=bel&kind=municipalities", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()
	server.handlePlaces(rec, req)

	var payload struct {
		Items []predictionResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Name != "Bello" {
		t.Fatalf("unexpected predictions %+v", payload.Items)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/places/p1/coordinates", nil), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handlePlaces(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for place without coordinates, got %d", rec.Code)
	}

	server.places = &stubPlaces{err: geo.ErrNotConfigured}
	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/places/autocomplete?input=bel", nil), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handlePlaces(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandleHeatmap(t *testing.T) {
	lat, lng := 6.25, -75.56
	coords := coordinatorFixtures()
	coords[0].Latitude, coords[0].Longitude = &lat, &lng
	server := &Server{
		coordinatorService: &stubCoordinatorService{coordinators: coords},
		heatmap:            heatmap.NewBuilder(nil, 1),
	}

	req := withPrincipal(httptest.NewRequest(http.MethodGet, "/api/heatmap?groupBy=municipality", nil), 1, auth.RoleViewer)
	rec := httptest.NewRecorder()
	server.handleHeatmap(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Markers []markerResponse `json:"markers"`
		Total   int              `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Total != 4 || len(payload.Markers) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Markers[0].Key != "Medellín" || payload.Markers[0].Position == nil || payload.Markers[0].Color != heatmap.ColorHigh {
		t.Fatalf("unexpected top marker %+v", payload.Markers[0])
	}

	req = withPrincipal(httptest.NewRequest(http.MethodGet, "/api/heatmap?eventId=x", nil), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handleHeatmap(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleWhatsAppBulk(t *testing.T) {
	stub := &stubMessenger{summary: whatsapp.Summary{
		BatchID:   "b1",
		Success:   true,
		Total:     2,
		Succeeded: 1,
		Failed:    1,
		Results:   []whatsapp.Result{{Name: "Ana", Success: true}, {Name: "Bad", Error: "invalid"}},
	}}
	server := &Server{messenger: stub}

	body := strings.NewReader(`{"message":"Hola {name}","recipients":[{"name":"Ana","phone":"3001"},{"name":"Bad","phone":"x"}]}`)
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/whatsapp/bulk", body), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()

	server.handleWhatsApp(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(stub.recipients) != 2 || stub.recipients[0].Name != "Ana" {
		t.Fatalf("unexpected recipients %+v", stub.recipients)
	}
	var resp bulkResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.Succeeded != 1 || resp.Failed != 1 || len(resp.Results) != 2 {
		t.Fatalf("unexpected payload %+v", resp)
	}
}

func TestHandleWhatsApp_ErrorsAndRoles(t *testing.T) {
	server := &Server{messenger: &stubMessenger{err: whatsapp.ErrNotConfigured}}

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/whatsapp/send", strings.NewReader(`{"to":"3001","message":"hi"}`)), 1, auth.RoleEditor)
	rec := httptest.NewRecorder()
	server.handleWhatsApp(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	req = withPrincipal(httptest.NewRequest(http.MethodPost, "/api/whatsapp/send", strings.NewReader(`{"to":"3001","message":"hi"}`)), 1, auth.RoleViewer)
	rec = httptest.NewRecorder()
	server.handleWhatsApp(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	server.messenger = &stubMessenger{err: whatsapp.ErrInvalid}
	req = withPrincipal(httptest.NewRequest(http.MethodPost, "/api/whatsapp/bulk", strings.NewReader(`{"message":"","recipients":[]}`)), 1, auth.RoleEditor)
	rec = httptest.NewRecorder()
	server.handleWhatsApp(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
