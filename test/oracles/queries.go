package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_last_call_matches_history",
			SQL: `SELECT c.id, c.last_call_at, m.max_called
                  FROM coordinators c
                  LEFT JOIN LATERAL (SELECT MAX(called_at) AS max_called FROM calls WHERE coordinator_id = c.id) m ON true
                  WHERE c.last_call_at IS DISTINCT FROM m.max_called`,
		},
		{
			Name: "O2_guest_count_non_negative",
			SQL:  `SELECT id, guest_count FROM coordinators WHERE guest_count < 0`,
		},
		{
			Name: "O3_unconfirmed_without_guests",
			SQL:  `SELECT id, guest_count FROM coordinators WHERE NOT confirmed AND guest_count <> 0`,
		},
		{
			Name: "O4_no_orphans",
			SQL: `SELECT 'call' AS kind, k.id FROM calls k
                  LEFT JOIN coordinators c ON c.id = k.coordinator_id WHERE c.id IS NULL
                  UNION ALL
                  SELECT 'guest', g.id FROM guests g
                  LEFT JOIN coordinators c ON c.id = g.coordinator_id WHERE c.id IS NULL
                  UNION ALL
                  SELECT 'assignment', ce.coordinator_id FROM coordinator_events ce
                  LEFT JOIN events e ON e.id = ce.event_id WHERE e.id IS NULL`,
		},
		{
			Name: "O5_calls_audited",
			SQL: `SELECT k.id FROM calls k
                  WHERE NOT EXISTS (
                      SELECT 1 FROM audit_log a
                      WHERE a.entity = 'coordinator'
                        AND a.entity_id = k.coordinator_id
                        AND a.action = 'create'
                        AND a.detail = 'call ' || k.id)`,
		},
		{
			Name: "O6_audit_actor_present",
			SQL:  `SELECT id FROM audit_log WHERE btrim(username) = ''`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
