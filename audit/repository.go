package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the audit log.
type Repository interface {
	List(ctx context.Context, q Query) ([]Entry, int, error)
}

// PGRepository reads and writes audit_log rows.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Record inserts an entry inside the caller's transaction so the log commits
// or rolls back together with the mutation it describes.
func (r *PGRepository) Record(ctx context.Context, tx pgx.Tx, e Entry) error {
	const query = `
		INSERT INTO audit_log (username, action, entity, entity_id, detail)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, e.Username, e.Action, e.Entity, e.EntityID, e.Detail); err != nil {
		return fmt.Errorf("audit: record: %w", err)
	}
	return nil
}

func (r *PGRepository) List(ctx context.Context, q Query) ([]Entry, int, error) {
	where := []string{"1=1"}
	args := []any{}

	if q.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, *q.From)
	}
	if q.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, *q.To)
	}
	if q.Entity != "" {
		where = append(where, fmt.Sprintf("entity = $%d", len(args)+1))
		args = append(args, q.Entity)
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	query := fmt.Sprintf(`SELECT id, username, action, entity, entity_id, detail, created_at
		FROM audit_log%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		whereClause, q.Size, q.Page*q.Size)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: query list: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Username, &e.Action, &e.Entity, &e.EntityID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("audit: iterate: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}

	return entries, total, nil
}
