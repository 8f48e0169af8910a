package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"golang.org/x/text/unicode/norm"

	"coordhub/audit"
	"coordhub/db"
	"coordhub/geo"
)

const entity = "coordinator"

// AuditWriter records an audit entry inside the mutation's transaction.
type AuditWriter interface {
	Record(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// Locator resolves missing coordinates. Implemented by geo.Resolver.
type Locator interface {
	Resolve(ctx context.Context, in geo.Input) (*geo.LatLng, error)
}

type Service struct {
	pool    db.TxBeginner
	repo    Repository
	audit   AuditWriter
	locator Locator
	logger  *slog.Logger
}

func NewService(pool db.TxBeginner, repo Repository, auditWriter AuditWriter) *Service {
	return &Service{
		pool:   pool,
		repo:   repo,
		audit:  auditWriter,
		logger: slog.Default(),
	}
}

func (s *Service) WithLocator(l Locator) *Service {
	s.locator = l
	return s
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func (s *Service) List(ctx context.Context) ([]Coordinator, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Coordinator, error) {
	if id <= 0 {
		return Coordinator{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByMunicipality(ctx context.Context, municipality string) ([]Coordinator, error) {
	municipality = cleanText(municipality)
	if municipality == "" {
		return nil, fmt.Errorf("%w: municipality required", ErrInvalid)
	}
	return s.repo.ListByMunicipality(ctx, municipality)
}

func (s *Service) ListByConfirmed(ctx context.Context, confirmed bool) ([]Coordinator, error) {
	return s.repo.ListByConfirmed(ctx, confirmed)
}

func (s *Service) ListByEvent(ctx context.Context, eventID int64) ([]Coordinator, error) {
	if eventID <= 0 {
		return nil, fmt.Errorf("%w: event id must be positive", ErrInvalid)
	}
	return s.repo.ListByEvent(ctx, eventID)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

func (s *Service) ListCalls(ctx context.Context, coordinatorID int64) ([]Call, error) {
	if coordinatorID <= 0 {
		return nil, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	return s.repo.ListCalls(ctx, coordinatorID)
}

func (s *Service) Create(ctx context.Context, in Input) (Coordinator, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return Coordinator{}, err
	}
	in = s.locate(ctx, in)

	var created Coordinator
	err = s.inTx(ctx, "create", func(tx pgx.Tx) error {
		created, err = s.repo.Create(ctx, tx, in)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionCreate, created.ID, fmt.Sprintf("%s (%s)", created.FullName, created.Municipality))
	})
	if err != nil {
		return Coordinator{}, err
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Coordinator, error) {
	if id <= 0 {
		return Coordinator{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	in, err := normalizeInput(in)
	if err != nil {
		return Coordinator{}, err
	}
	in = s.locate(ctx, in)

	var updated Coordinator
	err = s.inTx(ctx, "update", func(tx pgx.Tx) error {
		updated, err = s.repo.Update(ctx, tx, id, in)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, id, fmt.Sprintf("%s (%s)", updated.FullName, updated.Municipality))
	})
	if err != nil {
		return Coordinator{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	return s.inTx(ctx, "delete", func(tx pgx.Tx) error {
		if err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionDelete, id, "")
	})
}

func (s *Service) Confirm(ctx context.Context, id int64, conf Confirmation) (Coordinator, error) {
	if id <= 0 {
		return Coordinator{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	if conf.GuestCount < 0 {
		return Coordinator{}, fmt.Errorf("%w: guest count cannot be negative", ErrInvalid)
	}
	conf.Notes = trimOptional(conf.Notes)
	return s.setConfirmation(ctx, id, true, conf, "confirmed")
}

func (s *Service) Unconfirm(ctx context.Context, id int64) (Coordinator, error) {
	if id <= 0 {
		return Coordinator{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	return s.setConfirmation(ctx, id, false, Confirmation{}, "unconfirmed")
}

func (s *Service) setConfirmation(ctx context.Context, id int64, confirmed bool, conf Confirmation, detail string) (Coordinator, error) {
	var updated Coordinator
	err := s.inTx(ctx, detail, func(tx pgx.Tx) error {
		var err error
		updated, err = s.repo.SetConfirmation(ctx, tx, id, confirmed, conf)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, id, detail)
	})
	if err != nil {
		return Coordinator{}, err
	}
	return updated, nil
}

// AddCall appends a call to the coordinator's history. An event reference,
// when given, must point at an existing event.
func (s *Service) AddCall(ctx context.Context, coordinatorID int64, notes *string, eventID *int64) (Call, error) {
	if coordinatorID <= 0 {
		return Call{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	if eventID != nil && *eventID <= 0 {
		return Call{}, fmt.Errorf("%w: event id must be positive", ErrInvalid)
	}
	notes = trimOptional(notes)

	var call Call
	err := s.inTx(ctx, "add call", func(tx pgx.Tx) error {
		var err error
		call, err = s.repo.AddCall(ctx, tx, coordinatorID, notes, eventID)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionCreate, coordinatorID, fmt.Sprintf("call %d", call.ID))
	})
	if err != nil {
		return Call{}, err
	}
	return call, nil
}

func (s *Service) RemoveCall(ctx context.Context, callID int64) error {
	if callID <= 0 {
		return fmt.Errorf("%w: call id must be positive", ErrInvalid)
	}
	return s.inTx(ctx, "remove call", func(tx pgx.Tx) error {
		call, err := s.repo.RemoveCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionDelete, call.CoordinatorID, fmt.Sprintf("call %d", callID))
	})
}

func (s *Service) AssignEvent(ctx context.Context, coordinatorID, eventID int64) error {
	if coordinatorID <= 0 || eventID <= 0 {
		return fmt.Errorf("%w: ids must be positive", ErrInvalid)
	}
	return s.inTx(ctx, "assign event", func(tx pgx.Tx) error {
		if err := s.repo.AssignEvent(ctx, tx, coordinatorID, eventID); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, coordinatorID, fmt.Sprintf("assigned event %d", eventID))
	})
}

func (s *Service) UnassignEvent(ctx context.Context, coordinatorID, eventID int64) error {
	if coordinatorID <= 0 || eventID <= 0 {
		return fmt.Errorf("%w: ids must be positive", ErrInvalid)
	}
	return s.inTx(ctx, "unassign event", func(tx pgx.Tx) error {
		if err := s.repo.UnassignEvent(ctx, tx, coordinatorID, eventID); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, coordinatorID, fmt.Sprintf("unassigned event %d", eventID))
	})
}

// AddGuest adds a roster entry and returns the refreshed coordinator.
func (s *Service) AddGuest(ctx context.Context, coordinatorID int64, in GuestInput) (Coordinator, error) {
	if coordinatorID <= 0 {
		return Coordinator{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	in.Name = strings.TrimSpace(in.Name)
	in.NationalID = strings.TrimSpace(in.NationalID)
	in.Phone = strings.TrimSpace(in.Phone)
	if in.Name == "" || in.NationalID == "" || in.Phone == "" {
		return Coordinator{}, fmt.Errorf("%w: guest name, national id and phone are required", ErrInvalid)
	}

	err := s.inTx(ctx, "add guest", func(tx pgx.Tx) error {
		g, err := s.repo.AddGuest(ctx, tx, coordinatorID, in)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionCreate, coordinatorID, fmt.Sprintf("guest %d", g.ID))
	})
	if err != nil {
		return Coordinator{}, err
	}
	return s.repo.Get(ctx, coordinatorID)
}

func (s *Service) RemoveGuest(ctx context.Context, coordinatorID, guestID int64) (Coordinator, error) {
	if coordinatorID <= 0 || guestID <= 0 {
		return Coordinator{}, fmt.Errorf("%w: ids must be positive", ErrInvalid)
	}
	err := s.inTx(ctx, "remove guest", func(tx pgx.Tx) error {
		if err := s.repo.RemoveGuest(ctx, tx, coordinatorID, guestID); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionDelete, coordinatorID, fmt.Sprintf("guest %d", guestID))
	})
	if err != nil {
		return Coordinator{}, err
	}
	return s.repo.Get(ctx, coordinatorID)
}

func (s *Service) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("coordinator: %s: begin tx: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("coordinator: %s: commit tx: %w", op, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, action audit.Action, id int64, detail string) error {
	if s.audit == nil {
		return nil
	}
	entry := audit.Entry{
		Username: audit.ActorFrom(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: &id,
		Detail:   detail,
	}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return fmt.Errorf("coordinator: audit: %w", err)
	}
	return nil
}

// locate fills coordinates through the locator when the input has none.
// Lookup failures are logged and leave the coordinates empty.
func (s *Service) locate(ctx context.Context, in Input) Input {
	if s.locator == nil || (in.Latitude != nil && in.Longitude != nil) {
		return in
	}
	loc, err := s.locator.Resolve(ctx, geo.Input{
		Municipality:        in.Municipality,
		Sector:              in.Sector,
		MunicipalityPlaceID: in.MunicipalityPlaceID,
		SectorPlaceID:       in.SectorPlaceID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "resolve coordinates failed",
			slog.String("municipality", in.Municipality),
			slog.String("sector", in.Sector),
			slog.Any("error", err))
		return in
	}
	if loc != nil {
		lat, lng := loc.Lat, loc.Lng
		in.Latitude, in.Longitude = &lat, &lng
	}
	return in
}

func normalizeInput(in Input) (Input, error) {
	in.Municipality = cleanText(in.Municipality)
	in.Sector = cleanText(in.Sector)
	in.FullName = cleanText(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = trimOptional(in.Email)
	in.NationalID = trimOptional(in.NationalID)
	in.Notes = trimOptional(in.Notes)

	if in.Municipality == "" {
		return Input{}, fmt.Errorf("%w: municipality required", ErrInvalid)
	}
	if in.FullName == "" {
		return Input{}, fmt.Errorf("%w: full name required", ErrInvalid)
	}
	if in.Phone == "" {
		return Input{}, fmt.Errorf("%w: phone required", ErrInvalid)
	}
	if (in.Latitude == nil) != (in.Longitude == nil) {
		return Input{}, fmt.Errorf("%w: latitude and longitude go together", ErrInvalid)
	}
	if in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180) {
		return Input{}, fmt.Errorf("%w: coordinates out of range", ErrInvalid)
	}
	if in.Email != nil && !strings.Contains(*in.Email, "@") {
		return Input{}, fmt.Errorf("%w: malformed email", ErrInvalid)
	}
	return in, nil
}

// cleanText trims s and stores it in NFC so composed and decomposed
// accents compare equal in SQL and when grouping.
func cleanText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	t := cleanText(*v)
	if t == "" {
		return nil
	}
	return &t
}
