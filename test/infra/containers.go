package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	postgresImage = "postgres:16-alpine"
	// SharedDSNEnv names a database to reuse instead of starting one.
	SharedDSNEnv = "STRESS_TEST_PG_DSN"
)

// Harness owns the database a stress run works against: a reused DSN, a
// throwaway container or a freshly created local database, in that order.
type Harness struct {
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	teardown  func(context.Context) error
}

// NewHarness picks a database and applies the migrations. A reused DSN gets
// an isolated schema that Close drops again.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	h := &Harness{}
	dsn := sharedDSN(overrideDSN)
	shared := dsn != ""

	switch {
	case shared:
	case dockerAvailable(ctx):
		c, cdsn, err := startContainer(ctx)
		if err != nil {
			return nil, fmt.Errorf("start postgres: %w", err)
		}
		h.container, dsn = c, cdsn
	default:
		var err error
		if dsn, err = InitLocalDatabase(ctx); err != nil {
			return nil, fmt.Errorf("init local database: %w", err)
		}
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		_ = h.stopContainer(ctx)
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	h.pool, h.teardown = pool, teardown
	return h, nil
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Close releases the pool, drops an isolated schema and stops the container.
func (h *Harness) Close(ctx context.Context) error {
	h.pool.Close()
	err := h.teardown(ctx)
	if cerr := h.stopContainer(ctx); err == nil {
		err = cerr
	}
	return err
}

// Reset empties every mutable table between epochs.
func (h *Harness) Reset(ctx context.Context) error {
	const truncate = `TRUNCATE TABLE audit_log, guests, calls, coordinator_events, coordinators, events, users RESTART IDENTITY CASCADE`
	if _, err := h.pool.Exec(ctx, truncate); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func (h *Harness) stopContainer(ctx context.Context) error {
	if h.container == nil {
		return nil
	}
	return h.container.Terminate(ctx)
}

// sharedDSN returns the database a run should reuse, preferring the flag
// over the environment. Empty means the harness provisions its own.
func sharedDSN(overrideDSN string) string {
	if overrideDSN != "" {
		return overrideDSN
	}
	return os.Getenv(SharedDSNEnv)
}

func startContainer(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	c, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase("coordhub"),
		postgres.WithUsername("coordhub"),
		postgres.WithPassword("coordhub"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, dsn, nil
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
