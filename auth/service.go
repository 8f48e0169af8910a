package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"coordhub/audit"
	"coordhub/db"
)

const (
	DefaultTokenTTL        = 24 * time.Hour
	DefaultMaxFailedLogins = 5
	minPasswordLength      = 8
)

var (
	// ErrInvalidCredentials signals wrong username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrPasswordMismatch signals that the confirmation differs from the new password.
	ErrPasswordMismatch = errors.New("auth: password confirmation does not match")
	// ErrAccountLocked signals too many consecutive failed logins.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountInactive signals a disabled account.
	ErrAccountInactive = errors.New("auth: account inactive")
	// ErrInvalidInput signals missing or malformed user fields.
	ErrInvalidInput = errors.New("auth: invalid input")
	// ErrSelfDelete signals an administrator trying to delete their own account.
	ErrSelfDelete = errors.New("auth: cannot delete own account")
	// ErrInvalidToken signals a token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

type AuditWriter interface {
	Record(ctx context.Context, tx pgx.Tx, e audit.Entry) error
}

// Service handles authentication and user management.
type Service struct {
	pool      db.TxBeginner
	repo      Repository
	audit     AuditWriter
	jwtSecret []byte
	tokenTTL  time.Duration
	maxFailed int
	now       func() time.Time
}

// LoginResult bundles the token and domain user returned after a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// NewService creates a new authentication service.
func NewService(pool db.TxBeginner, repo Repository, auditWriter AuditWriter, jwtSecret string) *Service {
	return &Service{
		pool:      pool,
		repo:      repo,
		audit:     auditWriter,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  DefaultTokenTTL,
		maxFailed: DefaultMaxFailedLogins,
		now:       time.Now,
	}
}

func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.tokenTTL = ttl
	}
	return s
}

func (s *Service) WithMaxFailedLogins(n int) *Service {
	if n > 0 {
		s.maxFailed = n
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Login authenticates a user and returns a JWT token. Each wrong password
// counts towards the lockout threshold; a successful login resets it.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	// Account state is only revealed to callers who know the password.
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if user.Active && !user.Locked {
			if _, ferr := s.repo.RecordLoginFailure(ctx, user.ID, s.maxFailed); ferr != nil {
				return LoginResult{}, ferr
			}
		}
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.Active {
		return LoginResult{}, ErrAccountInactive
	}
	if user.Locked {
		return LoginResult{}, ErrAccountLocked
	}

	now := s.now()
	user, err = s.repo.RecordLoginSuccess(ctx, user.ID, now)
	if err != nil {
		return LoginResult{}, err
	}

	expires := now.Add(s.tokenTTL)
	token, err := s.generateToken(user, now, expires)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{Token: token, ExpiresAt: expires, User: user}, nil
}

// VerifyToken validates a JWT token and returns the identity it carries.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}

	rawID, ok := claims["user_id"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: malformed user_id", ErrInvalidToken)
	}
	username, _ := claims["username"].(string)
	roleStr, ok := claims["role"].(string)
	if !ok {
		return Principal{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Principal{}, fmt.Errorf("%w: invalid role %q", ErrInvalidToken, roleStr)
	}

	return Principal{UserID: userID, Username: username, Role: role}, nil
}

// ChangePassword replaces the caller's own password and clears the
// must-change flag.
func (s *Service) ChangePassword(ctx context.Context, userID int64, req ChangePasswordRequest) error {
	if len(req.NewPassword) < minPasswordLength {
		return ErrWeakPassword
	}
	if req.NewPassword != req.ConfirmPassword {
		return ErrPasswordMismatch
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.SetPassword(ctx, tx, userID, hash, false); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, userID, "password changed")
	})
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// GetUserByID retrieves user information by ID.
func (s *Service) GetUserByID(ctx context.Context, userID int64) (User, error) {
	return s.repo.GetUserByID(ctx, userID)
}

// CreateUser creates a new account. Accounts created by an administrator
// must change their password at first login unless mustChange is false.
func (s *Service) CreateUser(ctx context.Context, req CreateUserRequest, mustChange bool) (User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	fullName := strings.TrimSpace(req.FullName)

	if len(req.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}
	if len(username) < 3 || strings.ContainsAny(username, " \t") {
		return User{}, fmt.Errorf("%w: username must be at least 3 characters without spaces", ErrInvalidInput)
	}
	if fullName == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email and full name are required", ErrInvalidInput)
	}
	role := Role(strings.TrimSpace(string(req.Role)))
	if role == "" {
		role = RoleViewer
	}
	if !isValidRole(role) {
		return User{}, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, role)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return User{}, err
	}

	var created User
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		created, err = s.repo.CreateUser(ctx, tx, CreateUserParams{
			Username:           username,
			Email:              email,
			FullName:           fullName,
			PasswordHash:       hash,
			Role:               role,
			MustChangePassword: mustChange,
		})
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionCreate, created.ID, fmt.Sprintf("%s (%s)", created.Username, created.Role))
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

func (s *Service) UpdateUser(ctx context.Context, id int64, req UpdateUserRequest) (User, error) {
	email := strings.TrimSpace(req.Email)
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: email and full name are required", ErrInvalidInput)
	}
	if !isValidRole(req.Role) {
		return User{}, fmt.Errorf("%w: invalid role %q", ErrInvalidInput, req.Role)
	}

	var updated User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		updated, err = s.repo.UpdateUser(ctx, tx, id, UpdateUserParams{
			Email:    email,
			FullName: fullName,
			Role:     req.Role,
			Active:   req.Active,
		})
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, id, fmt.Sprintf("%s (%s)", updated.Username, updated.Role))
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return ErrSelfDelete
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.DeleteUser(ctx, tx, id); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionDelete, id, "")
	})
}

func (s *Service) Unlock(ctx context.Context, id int64) (User, error) {
	var user User
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		user, err = s.repo.Unlock(ctx, tx, id)
		if err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, id, "unlocked")
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ResetPassword sets a temporary password that must be changed at next login.
func (s *Service) ResetPassword(ctx context.Context, id int64, temporary string) error {
	if len(temporary) < minPasswordLength {
		return ErrWeakPassword
	}
	hash, err := hashPassword(temporary)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.SetPassword(ctx, tx, id, hash, true); err != nil {
			return err
		}
		return s.record(ctx, tx, audit.ActionUpdate, id, "password reset")
	})
}

func (s *Service) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("auth: commit tx: %w", err)
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
		Entity:   "user",
		EntityID: &id,
		Detail:   detail,
	})
	if err != nil {
		return fmt.Errorf("auth: audit: %w", err)
	}
	return nil
}

// generateToken creates a JWT token for the user.
func (s *Service) generateToken(user User, issued, expires time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  strconv.FormatInt(user.ID, 10),
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      expires.Unix(),
		"iat":      issued.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

func isValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}
