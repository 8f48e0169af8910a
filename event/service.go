package event

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"coordhub/audit"
	"coordhub/db"
)

type AuditWriter interface {
	Record(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

type Service struct {
	pool  db.TxBeginner
	repo  Repository
	audit AuditWriter
}

func NewService(pool db.TxBeginner, repo Repository, auditWriter AuditWriter) *Service {
	return &Service{pool: pool, repo: repo, audit: auditWriter}
}

func (s *Service) List(ctx context.Context) ([]Event, error) {
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Event, error) {
	if id <= 0 {
		return Event{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, in Input) (Event, error) {
	in, err := validate(in)
	if err != nil {
		return Event{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("event: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Create(ctx, tx, in)
	if err != nil {
		return Event{}, err
	}
	if err := s.record(ctx, tx, audit.ActionCreate, created.ID, created.Name); err != nil {
		return Event{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, fmt.Errorf("event: commit tx: %w", err)
	}
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Event, error) {
	if id <= 0 {
		return Event{}, fmt.Errorf("%w: id must be positive", ErrInvalid)
	}
	in, err := validate(in)
	if err != nil {
		return Event{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("event: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.repo.Update(ctx, tx, id, in)
	if err != nil {
		return Event{}, err
	}
	if err := s.record(ctx, tx, audit.ActionUpdate, id, updated.Name); err != nil {
		return Event{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Event{}, fmt.Errorf("event: commit tx: %w", err)
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalid)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("event: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Delete(ctx, tx, id); err != nil {
		return err
	}
	if err := s.record(ctx, tx, audit.ActionDelete, id, ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("event: commit tx: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, tx pgx.Tx, action audit.Action, id int64, detail string) error {
	if s.audit == nil {
		return nil
	}
	err := s.audit.Record(ctx, tx, audit.Entry{
		Username: audit.ActorFrom(ctx),
		Action:   action,
		Entity:   "event",
		EntityID: &id,
		Detail:   detail,
	})
	if err != nil {
		return fmt.Errorf("event: audit: %w", err)
	}
	return nil
}

func validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Place = strings.TrimSpace(in.Place)
	if in.Notes != nil {
		notes := strings.TrimSpace(*in.Notes)
		if notes == "" {
			in.Notes = nil
		} else {
			in.Notes = &notes
		}
	}

	if in.Name == "" {
		return Input{}, fmt.Errorf("%w: name required", ErrInvalid)
	}
	if in.Place == "" {
		return Input{}, fmt.Errorf("%w: place required", ErrInvalid)
	}
	if in.ScheduledAt.IsZero() {
		return Input{}, fmt.Errorf("%w: scheduled time required", ErrInvalid)
	}
	return in, nil
}
