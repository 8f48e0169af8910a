package event

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("event: not found")
	ErrInvalid  = errors.New("event: invalid input")
)

type Repository interface {
	List(ctx context.Context) ([]Event, error)
	Get(ctx context.Context, id int64) (Event, error)
	Create(ctx context.Context, tx pgx.Tx, in Input) (Event, error)
	Update(ctx context.Context, tx pgx.Tx, id int64, in Input) (Event, error)
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const eventColumns = `id, name, place, scheduled_at, notes, created_at, updated_at`

func (r *PGRepository) List(ctx context.Context) ([]Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events ORDER BY scheduled_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("event: query list: %w", err)
	}
	defer rows.Close()

	list := []Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("event: scan: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event: iterate: %w", err)
	}
	return list, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`

	e, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("event: get: %w", err)
	}
	return e, nil
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, in Input) (Event, error) {
	const query = `
		INSERT INTO events (name, place, scheduled_at, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + eventColumns

	e, err := scanEvent(tx.QueryRow(ctx, query, in.Name, in.Place, in.ScheduledAt, in.Notes))
	if err != nil {
		return Event{}, fmt.Errorf("event: create: %w", err)
	}
	return e, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, id int64, in Input) (Event, error) {
	const query = `
		UPDATE events
		SET name = $2, place = $3, scheduled_at = $4, notes = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + eventColumns

	e, err := scanEvent(tx.QueryRow(ctx, query, id, in.Name, in.Place, in.ScheduledAt, in.Notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Event{}, ErrNotFound
		}
		return Event{}, fmt.Errorf("event: update: %w", err)
	}
	return e, nil
}

// Delete removes the event. Call references are cleared and assignments
// dropped by the foreign keys.
func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("event: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Name, &e.Place, &e.ScheduledAt, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}
