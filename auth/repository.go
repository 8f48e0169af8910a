package auth

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
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateUser signals that the username or email is already registered.
	ErrDuplicateUser = errors.New("auth: username or email already exists")
)

// Repository handles data access for users. Administrative writes run in the
// caller's transaction; login bookkeeping runs on its own.
type Repository interface {
	CreateUser(ctx context.Context, tx pgx.Tx, params CreateUserParams) (User, error)
	UpdateUser(ctx context.Context, tx pgx.Tx, id int64, params UpdateUserParams) (User, error)
	DeleteUser(ctx context.Context, tx pgx.Tx, id int64) error
	SetPassword(ctx context.Context, tx pgx.Tx, id int64, hash string, mustChange bool) error
	Unlock(ctx context.Context, tx pgx.Tx, id int64) (User, error)

	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByID(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	RecordLoginFailure(ctx context.Context, id int64, maxAttempts int) (User, error)
	RecordLoginSuccess(ctx context.Context, id int64, at time.Time) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Username           string
	Email              string
	FullName           string
	PasswordHash       string
	Role               Role
	MustChangePassword bool
}

// UpdateUserParams contains write parameters for profile updates.
type UpdateUserParams struct {
	Email    string
	FullName string
	Role     Role
	Active   bool
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, email, full_name, password_hash, role, active, must_change_password,
	failed_attempts, locked, last_login_at, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, tx pgx.Tx, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (username, email, full_name, password_hash, role, must_change_password)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, insertSQL,
		params.Username, params.Email, params.FullName, params.PasswordHash, params.Role, params.MustChangePassword))
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateUser
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

func (r *PGRepository) UpdateUser(ctx context.Context, tx pgx.Tx, id int64, params UpdateUserParams) (User, error) {
	const updateSQL = `
		UPDATE users
		SET email = $2, full_name = $3, role = $4, active = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, updateSQL, id, params.Email, params.FullName, params.Role, params.Active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateUser
		}
		return User{}, fmt.Errorf("auth: update user: %w", err)
	}
	return user, nil
}

func (r *PGRepository) DeleteUser(ctx context.Context, tx pgx.Tx, id int64) error {
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("auth: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PGRepository) SetPassword(ctx context.Context, tx pgx.Tx, id int64, hash string, mustChange bool) error {
	const updateSQL = `
		UPDATE users
		SET password_hash = $2, must_change_password = $3, updated_at = now()
		WHERE id = $1
	`
	tag, err := tx.Exec(ctx, updateSQL, id, hash, mustChange)
	if err != nil {
		return fmt.Errorf("auth: set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *PGRepository) Unlock(ctx context.Context, tx pgx.Tx, id int64) (User, error) {
	const updateSQL = `
		UPDATE users
		SET locked = FALSE, failed_attempts = 0, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(tx.QueryRow(ctx, updateSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: unlock: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username, case-insensitively.
func (r *PGRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by username: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, id int64) (User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return user, nil
}

func (r *PGRepository) ListUsers(ctx context.Context) ([]User, error) {
	const selectSQL = `SELECT ` + userColumns + ` FROM users ORDER BY username`

	rows, err := r.pool.Query(ctx, selectSQL)
	if err != nil {
		return nil, fmt.Errorf("auth: list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auth: list users: %w", err)
	}
	return users, nil
}

// RecordLoginFailure increments the failure counter and locks the account
// once it reaches maxAttempts, in a single statement.
func (r *PGRepository) RecordLoginFailure(ctx context.Context, id int64, maxAttempts int) (User, error) {
	const updateSQL = `
		UPDATE users
		SET failed_attempts = failed_attempts + 1,
		    locked = locked OR failed_attempts + 1 >= $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, id, maxAttempts))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: record login failure: %w", err)
	}
	return user, nil
}

func (r *PGRepository) RecordLoginSuccess(ctx context.Context, id int64, at time.Time) (User, error) {
	const updateSQL = `
		UPDATE users
		SET failed_attempts = 0, last_login_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, updateSQL, id, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: record login success: %w", err)
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Role,
		&user.Active,
		&user.MustChangePassword,
		&user.FailedAttempts,
		&user.Locked,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
