package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("coordinator: not found")
	ErrInvalid  = errors.New("coordinator: invalid input")
)

type Repository interface {
	List(ctx context.Context) ([]Coordinator, error)
	ListByMunicipality(ctx context.Context, municipality string) ([]Coordinator, error)
	ListByConfirmed(ctx context.Context, confirmed bool) ([]Coordinator, error)
	ListByEvent(ctx context.Context, eventID int64) ([]Coordinator, error)
	Get(ctx context.Context, id int64) (Coordinator, error)
	Stats(ctx context.Context) (Stats, error)
	ListCalls(ctx context.Context, coordinatorID int64) ([]Call, error)

	Create(ctx context.Context, tx pgx.Tx, in Input) (Coordinator, error)
	Update(ctx context.Context, tx pgx.Tx, id int64, in Input) (Coordinator, error)
	Delete(ctx context.Context, tx pgx.Tx, id int64) error
	SetConfirmation(ctx context.Context, tx pgx.Tx, id int64, confirmed bool, c Confirmation) (Coordinator, error)
	AddCall(ctx context.Context, tx pgx.Tx, coordinatorID int64, notes *string, eventID *int64) (Call, error)
	RemoveCall(ctx context.Context, tx pgx.Tx, callID int64) (Call, error)
	AssignEvent(ctx context.Context, tx pgx.Tx, coordinatorID, eventID int64) error
	UnassignEvent(ctx context.Context, tx pgx.Tx, coordinatorID, eventID int64) error
	AddGuest(ctx context.Context, tx pgx.Tx, coordinatorID int64, g GuestInput) (Guest, error)
	RemoveGuest(ctx context.Context, tx pgx.Tx, coordinatorID, guestID int64) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const coordinatorColumns = `c.id, c.municipality, c.sector, c.latitude, c.longitude, c.full_name, c.phone,
	c.email, c.national_id, c.notes, c.confirmed, c.guest_count, c.last_call_at, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM calls k WHERE k.coordinator_id = c.id)`

func (r *PGRepository) List(ctx context.Context) ([]Coordinator, error) {
	const query = `SELECT ` + coordinatorColumns + ` FROM coordinators c ORDER BY c.municipality, c.sector, c.id`
	return r.listWith(ctx, "list", query)
}

func (r *PGRepository) ListByMunicipality(ctx context.Context, municipality string) ([]Coordinator, error) {
	const query = `SELECT ` + coordinatorColumns + ` FROM coordinators c
		WHERE lower(c.municipality) = lower($1) ORDER BY c.sector, c.full_name, c.id`
	return r.listWith(ctx, "list by municipality", query, municipality)
}

func (r *PGRepository) ListByConfirmed(ctx context.Context, confirmed bool) ([]Coordinator, error) {
	const query = `SELECT ` + coordinatorColumns + ` FROM coordinators c
		WHERE c.confirmed = $1 ORDER BY c.municipality, c.sector, c.id`
	return r.listWith(ctx, "list by confirmed", query, confirmed)
}

func (r *PGRepository) ListByEvent(ctx context.Context, eventID int64) ([]Coordinator, error) {
	const query = `SELECT ` + coordinatorColumns + ` FROM coordinators c
		WHERE EXISTS (SELECT 1 FROM calls k WHERE k.coordinator_id = c.id AND k.event_id = $1)
		ORDER BY c.municipality, c.sector, c.id`
	return r.listWith(ctx, "list by event", query, eventID)
}

// listWith runs a coordinator query and attaches calls and event ids in two
// batched follow-up queries.
func (r *PGRepository) listWith(ctx context.Context, op, query string, args ...any) ([]Coordinator, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("coordinator: %s: %w", op, err)
	}
	defer rows.Close()

	list := []Coordinator{}
	for rows.Next() {
		c, err := scanCoordinator(rows)
		if err != nil {
			return nil, fmt.Errorf("coordinator: %s scan: %w", op, err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("coordinator: %s: %w", op, err)
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]int64, len(list))
	index := make(map[int64]int, len(list))
	for i, c := range list {
		ids[i] = c.ID
		index[c.ID] = i
	}

	calls, err := r.callsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, call := range calls {
		i := index[call.CoordinatorID]
		list[i].Calls = append(list[i].Calls, call)
	}

	events, err := r.eventsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for coordID, eventIDs := range events {
		list[index[coordID]].EventIDs = eventIDs
	}

	return list, nil
}

func (r *PGRepository) Get(ctx context.Context, id int64) (Coordinator, error) {
	const query = `SELECT ` + coordinatorColumns + ` FROM coordinators c WHERE c.id = $1`

	c, err := scanCoordinator(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Coordinator{}, ErrNotFound
		}
		return Coordinator{}, fmt.Errorf("coordinator: get: %w", err)
	}

	if c.Calls, err = r.callsFor(ctx, []int64{id}); err != nil {
		return Coordinator{}, err
	}
	events, err := r.eventsFor(ctx, []int64{id})
	if err != nil {
		return Coordinator{}, err
	}
	c.EventIDs = events[id]

	const guestsQuery = `
		SELECT id, coordinator_id, name, national_id, phone, created_at
		FROM guests WHERE coordinator_id = $1 ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, guestsQuery, id)
	if err != nil {
		return Coordinator{}, fmt.Errorf("coordinator: get guests: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var g Guest
		if err := rows.Scan(&g.ID, &g.CoordinatorID, &g.Name, &g.NationalID, &g.Phone, &g.CreatedAt); err != nil {
			return Coordinator{}, fmt.Errorf("coordinator: scan guest: %w", err)
		}
		c.Guests = append(c.Guests, g)
	}
	if err := rows.Err(); err != nil {
		return Coordinator{}, fmt.Errorf("coordinator: get guests: %w", err)
	}

	return c, nil
}

func (r *PGRepository) Stats(ctx context.Context) (Stats, error) {
	const query = `SELECT COUNT(*), COUNT(*) FILTER (WHERE confirmed) FROM coordinators`

	var s Stats
	if err := r.pool.QueryRow(ctx, query).Scan(&s.Total, &s.Confirmed); err != nil {
		return Stats{}, fmt.Errorf("coordinator: stats: %w", err)
	}
	s.Pending = s.Total - s.Confirmed
	return s, nil
}

func (r *PGRepository) ListCalls(ctx context.Context, coordinatorID int64) ([]Call, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM coordinators WHERE id = $1)`, coordinatorID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("coordinator: list calls: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	calls, err := r.callsFor(ctx, []int64{coordinatorID})
	if err != nil {
		return nil, err
	}
	if calls == nil {
		calls = []Call{}
	}
	return calls, nil
}

func (r *PGRepository) callsFor(ctx context.Context, ids []int64) ([]Call, error) {
	const query = `
		SELECT id, coordinator_id, called_at, notes, event_id
		FROM calls
		WHERE coordinator_id = ANY($1)
		ORDER BY called_at, id
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("coordinator: query calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("coordinator: scan call: %w", err)
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

func (r *PGRepository) eventsFor(ctx context.Context, ids []int64) (map[int64][]int64, error) {
	const query = `
		SELECT coordinator_id, event_id
		FROM coordinator_events
		WHERE coordinator_id = ANY($1)
		ORDER BY assigned_at, event_id
	`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("coordinator: query events: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var coordID, eventID int64
		if err := rows.Scan(&coordID, &eventID); err != nil {
			return nil, fmt.Errorf("coordinator: scan event: %w", err)
		}
		out[coordID] = append(out[coordID], eventID)
	}
	return out, rows.Err()
}

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, in Input) (Coordinator, error) {
	const query = `
		INSERT INTO coordinators AS c (municipality, sector, latitude, longitude, full_name, phone, email, national_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + coordinatorColumns

	c, err := scanCoordinator(tx.QueryRow(ctx, query,
		in.Municipality, in.Sector, in.Latitude, in.Longitude, in.FullName, in.Phone, in.Email, in.NationalID, in.Notes))
	if err != nil {
		return Coordinator{}, fmt.Errorf("coordinator: create: %w", err)
	}
	return c, nil
}

func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, id int64, in Input) (Coordinator, error) {
	const query = `
		UPDATE coordinators AS c
		SET municipality = $2, sector = $3, latitude = $4, longitude = $5, full_name = $6,
		    phone = $7, email = $8, national_id = $9, notes = $10, updated_at = now()
		WHERE c.id = $1
		RETURNING ` + coordinatorColumns

	c, err := scanCoordinator(tx.QueryRow(ctx, query, id,
		in.Municipality, in.Sector, in.Latitude, in.Longitude, in.FullName, in.Phone, in.Email, in.NationalID, in.Notes))
	if err != nil {
		return Coordinator{}, mapError("update", err)
	}
	return c, nil
}

func (r *PGRepository) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM coordinators WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("coordinator: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetConfirmation(ctx context.Context, tx pgx.Tx, id int64, confirmed bool, conf Confirmation) (Coordinator, error) {
	const query = `
		UPDATE coordinators AS c
		SET confirmed = $2, guest_count = $3, notes = COALESCE($4, c.notes), updated_at = now()
		WHERE c.id = $1
		RETURNING ` + coordinatorColumns

	c, err := scanCoordinator(tx.QueryRow(ctx, query, id, confirmed, conf.GuestCount, conf.Notes))
	if err != nil {
		return Coordinator{}, mapError("set confirmation", err)
	}
	return c, nil
}

func (r *PGRepository) AddCall(ctx context.Context, tx pgx.Tx, coordinatorID int64, notes *string, eventID *int64) (Call, error) {
	const query = `
		INSERT INTO calls (coordinator_id, event_id, notes)
		VALUES ($1, $2, $3)
		RETURNING id, coordinator_id, called_at, notes, event_id
	`
	call, err := scanCall(tx.QueryRow(ctx, query, coordinatorID, eventID, notes))
	if err != nil {
		return Call{}, mapError("add call", err)
	}

	// Concurrent calls may commit out of order; never move last_call_at back.
	const touch = `
		UPDATE coordinators
		SET last_call_at = GREATEST(last_call_at, $2), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, touch, coordinatorID, call.CalledAt); err != nil {
		return Call{}, fmt.Errorf("coordinator: touch last call: %w", err)
	}
	return call, nil
}

func (r *PGRepository) RemoveCall(ctx context.Context, tx pgx.Tx, callID int64) (Call, error) {
	const query = `
		DELETE FROM calls WHERE id = $1
		RETURNING id, coordinator_id, called_at, notes, event_id
	`
	call, err := scanCall(tx.QueryRow(ctx, query, callID))
	if err != nil {
		return Call{}, mapError("remove call", err)
	}

	// The row lock makes the recompute below see every committed call.
	if _, err := tx.Exec(ctx, `SELECT id FROM coordinators WHERE id = $1 FOR NO KEY UPDATE`, call.CoordinatorID); err != nil {
		return Call{}, fmt.Errorf("coordinator: lock for call removal: %w", err)
	}
	const touch = `
		UPDATE coordinators
		SET last_call_at = (SELECT MAX(called_at) FROM calls WHERE coordinator_id = $1), updated_at = now()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, touch, call.CoordinatorID); err != nil {
		return Call{}, fmt.Errorf("coordinator: touch last call: %w", err)
	}
	return call, nil
}

func (r *PGRepository) AssignEvent(ctx context.Context, tx pgx.Tx, coordinatorID, eventID int64) error {
	const query = `
		INSERT INTO coordinator_events (coordinator_id, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, coordinatorID, eventID); err != nil {
		return mapError("assign event", err)
	}
	return nil
}

func (r *PGRepository) UnassignEvent(ctx context.Context, tx pgx.Tx, coordinatorID, eventID int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM coordinator_events WHERE coordinator_id = $1 AND event_id = $2`, coordinatorID, eventID)
	if err != nil {
		return fmt.Errorf("coordinator: unassign event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) AddGuest(ctx context.Context, tx pgx.Tx, coordinatorID int64, in GuestInput) (Guest, error) {
	const query = `
		INSERT INTO guests (coordinator_id, name, national_id, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING id, coordinator_id, name, national_id, phone, created_at
	`
	var g Guest
	err := tx.QueryRow(ctx, query, coordinatorID, in.Name, in.NationalID, in.Phone).
		Scan(&g.ID, &g.CoordinatorID, &g.Name, &g.NationalID, &g.Phone, &g.CreatedAt)
	if err != nil {
		return Guest{}, mapError("add guest", err)
	}
	return g, nil
}

func (r *PGRepository) RemoveGuest(ctx context.Context, tx pgx.Tx, coordinatorID, guestID int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM guests WHERE id = $1 AND coordinator_id = $2`, guestID, coordinatorID)
	if err != nil {
		return fmt.Errorf("coordinator: remove guest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// mapError turns missing rows and dangling foreign keys into ErrNotFound.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
	}
	return fmt.Errorf("coordinator: %s: %w", op, err)
}

func scanCoordinator(row pgx.Row) (Coordinator, error) {
	var (
		c          Coordinator
		lastCallAt *time.Time
	)
	err := row.Scan(
		&c.ID,
		&c.Municipality,
		&c.Sector,
		&c.Latitude,
		&c.Longitude,
		&c.FullName,
		&c.Phone,
		&c.Email,
		&c.NationalID,
		&c.Notes,
		&c.Confirmed,
		&c.GuestCount,
		&lastCallAt,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.CallCount,
	)
	if err != nil {
		return Coordinator{}, err
	}
	c.LastCallAt = lastCallAt
	return c, nil
}

func scanCall(row pgx.Row) (Call, error) {
	var call Call
	err := row.Scan(&call.ID, &call.CoordinatorID, &call.CalledAt, &call.Notes, &call.EventID)
	return call, err
}
