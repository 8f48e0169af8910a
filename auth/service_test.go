package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"coordhub/audit"
	"coordhub/db/dbtest"
)

func TestService_CreateUserAndLogin(t *testing.T) {
	pool := &dbtest.FakePool{}
	repo := newFakeRepository()
	auditor := &fakeAuditor{}
	svc := NewService(pool, repo, auditor, "test-secret")

	ctx := audit.WithActor(context.Background(), "root")
	user, err := svc.CreateUser(ctx, CreateUserRequest{
		Username: "alice",
		Email:    "alice@example.com",
		FullName: "Alice Coordinator",
		Password: "supersafe",
		Role:     RoleEditor,
	}, false)
	if err != nil {
		t.Fatalf("create user: unexpected error: %v", err)
	}
	if user.Role != RoleEditor {
		t.Fatalf("expected role %s got %s", RoleEditor, user.Role)
	}
	if pool.Committed() != 1 {
		t.Fatalf("expected 1 commit, got %d", pool.Committed())
	}
	if len(auditor.entries) != 1 || auditor.entries[0].Entity != "user" || auditor.entries[0].Username != "root" {
		t.Fatalf("unexpected audit entries %+v", auditor.entries)
	}

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "ALICE", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %d got %d", user.ID, resp.User.ID)
	}
	if resp.User.LastLoginAt == nil {
		t.Fatal("login: expected last login to be stamped")
	}

	principal, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if principal.UserID != user.ID || principal.Role != RoleEditor || principal.Username != "alice" {
		t.Fatalf("verify token: unexpected principal %+v", principal)
	}
}

func TestService_CreateUserValidation(t *testing.T) {
	pool := &dbtest.FakePool{}
	svc := NewService(pool, newFakeRepository(), nil, "test-secret")
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, CreateUserRequest{
		Username: "alice", Email: "alice@example.com", FullName: "Alice", Password: "short",
	}, true)
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	cases := []CreateUserRequest{
		{Username: "al", Email: "a@example.com", FullName: "Al", Password: "longenough"},
		{Username: "has space", Email: "a@example.com", FullName: "Al", Password: "longenough"},
		{Username: "alice", Email: "not-an-email", FullName: "Al", Password: "longenough"},
		{Username: "alice", Email: "a@example.com", FullName: "  ", Password: "longenough"},
		{Username: "alice", Email: "a@example.com", FullName: "Al", Password: "longenough", Role: "owner"},
	}
	for i, req := range cases {
		if _, err := svc.CreateUser(ctx, req, true); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	if len(pool.Txs) != 0 {
		t.Fatalf("expected no transactions, got %d", len(pool.Txs))
	}
}

func TestService_CreateUserDefaultsToViewer(t *testing.T) {
	svc := NewService(&dbtest.FakePool{}, newFakeRepository(), nil, "test-secret")
	user, err := svc.CreateUser(context.Background(), CreateUserRequest{
		Username: "bob", Email: "bob@example.com", FullName: "Bob", Password: "longenough",
	}, true)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if user.Role != RoleViewer || !user.MustChangePassword {
		t.Fatalf("expected viewer with forced password change, got %+v", user)
	}
}

func TestService_CreateUserDuplicate(t *testing.T) {
	pool := &dbtest.FakePool{}
	svc := NewService(pool, newFakeRepository(), nil, "test-secret")
	req := CreateUserRequest{Username: "bob", Email: "bob@example.com", FullName: "Bob", Password: "longenough"}
	if _, err := svc.CreateUser(context.Background(), req, false); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), req, false); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("expected ErrDuplicateUser, got %v", err)
	}
	if !pool.Last().RolledBack {
		t.Fatal("expected failed create to roll back")
	}
}

func TestService_LoginLockout(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret").WithMaxFailedLogins(3)
	ctx := context.Background()
	user := repo.seed(t, "carol", "correct-horse", RoleViewer)

	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, LoginRequest{Username: "carol", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "carol", Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials on third failure, got %v", err)
	}
	if !repo.users[user.ID].Locked {
		t.Fatal("expected account locked after third failure")
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "carol", Password: "correct-horse"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected locked account to reject correct password, got %v", err)
	}

	if _, err := svc.Unlock(ctx, user.ID); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	resp, err := svc.Login(ctx, LoginRequest{Username: "carol", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login after unlock: %v", err)
	}
	if resp.User.FailedAttempts != 0 {
		t.Fatalf("expected failed attempts reset, got %d", resp.User.FailedAttempts)
	}
}

func TestService_LoginResetsCounterOnSuccess(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret").WithMaxFailedLogins(3)
	ctx := context.Background()
	repo.seed(t, "dave", "correct-horse", RoleViewer)

	for i := 0; i < 2; i++ {
		_, _ = svc.Login(ctx, LoginRequest{Username: "dave", Password: "nope-nope"})
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "dave", Password: "correct-horse"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.Login(ctx, LoginRequest{Username: "dave", Password: "nope-nope"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected counter to restart, got %v", err)
		}
	}
}

func TestService_LoginInactiveAndUnknown(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret")
	ctx := context.Background()
	user := repo.seed(t, "erin", "correct-horse", RoleViewer)
	user.Active = false
	repo.users[user.ID] = user

	if _, err := svc.Login(ctx, LoginRequest{Username: "erin", Password: "correct-horse"}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "nobody", Password: "whatever1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for empty request, got %v", err)
	}
}

func TestService_LoginHidesAccountStateWithoutPassword(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret").WithMaxFailedLogins(3)
	ctx := context.Background()

	locked := repo.seed(t, "frank", "correct-horse", RoleViewer)
	locked.Locked = true
	locked.FailedAttempts = 3
	repo.users[locked.ID] = locked
	inactive := repo.seed(t, "gina", "correct-horse", RoleViewer)
	inactive.Active = false
	repo.users[inactive.ID] = inactive

	for _, u := range []User{locked, inactive} {
		if _, err := svc.Login(ctx, LoginRequest{Username: u.Username, Password: "wrong-pass"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("%s: expected ErrInvalidCredentials for wrong password, got %v", u.Username, err)
		}
		if got := repo.users[u.ID].FailedAttempts; got != u.FailedAttempts {
			t.Fatalf("%s: expected failed attempts to stay %d, got %d", u.Username, u.FailedAttempts, got)
		}
	}

	if _, err := svc.Login(ctx, LoginRequest{Username: "frank", Password: "correct-horse"}); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with the right password, got %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "gina", Password: "correct-horse"}); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("expected ErrAccountInactive with the right password, got %v", err)
	}
}

func TestService_VerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	repo := newFakeRepository()
	issued := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	now := issued
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret").
		WithTokenTTL(time.Hour).
		WithClock(func() time.Time { return now })
	repo.seed(t, "frank", "correct-horse", RoleAdmin)

	resp, err := svc.Login(context.Background(), LoginRequest{Username: "frank", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !resp.ExpiresAt.Equal(issued.Add(time.Hour)) {
		t.Fatalf("expected expiry %v got %v", issued.Add(time.Hour), resp.ExpiresAt)
	}

	now = issued.Add(2 * time.Hour)
	if _, err := svc.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}

	now = issued
	other := NewService(&dbtest.FakePool{}, repo, nil, "other-secret").WithClock(func() time.Time { return now })
	if _, err := other.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected foreign token to be rejected, got %v", err)
	}
	if _, err := svc.VerifyToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected malformed token to be rejected, got %v", err)
	}
}

func TestService_ChangePassword(t *testing.T) {
	pool := &dbtest.FakePool{}
	repo := newFakeRepository()
	svc := NewService(pool, repo, nil, "test-secret")
	ctx := context.Background()
	user := repo.seed(t, "gina", "old-password", RoleEditor)
	user.MustChangePassword = true
	repo.users[user.ID] = user

	err := svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "short", ConfirmPassword: "short"})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	err = svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password", ConfirmPassword: "new-passw0rd"})
	if !errors.Is(err, ErrPasswordMismatch) {
		t.Fatalf("expected ErrPasswordMismatch, got %v", err)
	}
	err = svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "wrong", NewPassword: "new-password", ConfirmPassword: "new-password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if len(pool.Txs) != 0 {
		t.Fatalf("expected no transactions before validation passes, got %d", len(pool.Txs))
	}

	err = svc.ChangePassword(ctx, user.ID, ChangePasswordRequest{CurrentPassword: "old-password", NewPassword: "new-password", ConfirmPassword: "new-password"})
	if err != nil {
		t.Fatalf("change password: %v", err)
	}
	if repo.users[user.ID].MustChangePassword {
		t.Fatal("expected must-change flag to be cleared")
	}
	if _, err := svc.Login(ctx, LoginRequest{Username: "gina", Password: "new-password"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestService_ResetPasswordForcesChange(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(&dbtest.FakePool{}, repo, nil, "test-secret")
	user := repo.seed(t, "hank", "old-password", RoleViewer)

	if err := svc.ResetPassword(context.Background(), user.ID, "tmp"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := svc.ResetPassword(context.Background(), user.ID, "temporary1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Username: "hank", Password: "temporary1"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !resp.User.MustChangePassword {
		t.Fatal("expected must-change flag after reset")
	}
}

func TestService_UpdateAndDeleteUser(t *testing.T) {
	pool := &dbtest.FakePool{}
	repo := newFakeRepository()
	auditor := &fakeAuditor{}
	svc := NewService(pool, repo, auditor, "test-secret")
	ctx := context.Background()
	admin := repo.seed(t, "root", "root-password", RoleAdmin)
	user := repo.seed(t, "ivan", "ivan-password", RoleViewer)

	updated, err := svc.UpdateUser(ctx, user.ID, UpdateUserRequest{Email: "ivan@example.com", FullName: "Ivan", Role: RoleEditor, Active: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Role != RoleEditor || updated.Email != "ivan@example.com" {
		t.Fatalf("unexpected updated user %+v", updated)
	}
	if _, err := svc.UpdateUser(ctx, user.ID, UpdateUserRequest{Email: "ivan@example.com", FullName: "Ivan", Role: "boss"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.UpdateUser(ctx, 999, UpdateUserRequest{Email: "x@example.com", FullName: "X", Role: RoleViewer}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := svc.DeleteUser(ctx, admin.ID, admin.ID); !errors.Is(err, ErrSelfDelete) {
		t.Fatalf("expected ErrSelfDelete, got %v", err)
	}
	if err := svc.DeleteUser(ctx, admin.ID, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetUserByID(ctx, user.ID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after delete, got %v", err)
	}

	users, err := svc.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 1 || users[0].Username != "root" {
		t.Fatalf("unexpected users %+v", users)
	}
	if len(auditor.entries) != 2 || auditor.entries[1].Action != audit.ActionDelete {
		t.Fatalf("unexpected audit entries %+v", auditor.entries)
	}
}

func TestService_AuditFailureRollsBack(t *testing.T) {
	pool := &dbtest.FakePool{}
	repo := newFakeRepository()
	svc := NewService(pool, repo, &fakeAuditor{err: errors.New("disk full")}, "test-secret")
	user := repo.seed(t, "judy", "judy-password", RoleViewer)

	if _, err := svc.Unlock(context.Background(), user.ID); err == nil || !strings.Contains(err.Error(), "auth: audit") {
		t.Fatalf("expected wrapped audit error, got %v", err)
	}
	if pool.Committed() != 0 || !pool.Last().RolledBack {
		t.Fatal("expected transaction to roll back")
	}
}

type fakeAuditor struct {
	entries []audit.Entry
	err     error
}

func (f *fakeAuditor) Record(_ context.Context, _ pgx.Tx, e audit.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeRepository struct {
	users  map[int64]User
	nextID int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{users: make(map[int64]User)}
}

func (f *fakeRepository) seed(t *testing.T, username, password string, role Role) User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f.nextID++
	user := User{
		ID:           f.nextID,
		Username:     username,
		Email:        username + "@example.com",
		FullName:     username,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	f.users[user.ID] = user
	return user
}

func (f *fakeRepository) CreateUser(_ context.Context, _ pgx.Tx, params CreateUserParams) (User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Username, params.Username) || strings.EqualFold(u.Email, params.Email) {
			return User{}, ErrDuplicateUser
		}
	}
	f.nextID++
	user := User{
		ID:                 f.nextID,
		Username:           params.Username,
		Email:              params.Email,
		FullName:           params.FullName,
		PasswordHash:       params.PasswordHash,
		Role:               params.Role,
		Active:             true,
		MustChangePassword: params.MustChangePassword,
	}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeRepository) UpdateUser(_ context.Context, _ pgx.Tx, id int64, params UpdateUserParams) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.Email = params.Email
	user.FullName = params.FullName
	user.Role = params.Role
	user.Active = params.Active
	f.users[id] = user
	return user, nil
}

func (f *fakeRepository) DeleteUser(_ context.Context, _ pgx.Tx, id int64) error {
	if _, ok := f.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeRepository) SetPassword(_ context.Context, _ pgx.Tx, id int64, hash string, mustChange bool) error {
	user, ok := f.users[id]
	if !ok {
		return ErrUserNotFound
	}
	user.PasswordHash = hash
	user.MustChangePassword = mustChange
	f.users[id] = user
	return nil
}

func (f *fakeRepository) Unlock(_ context.Context, _ pgx.Tx, id int64) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.Locked = false
	user.FailedAttempts = 0
	f.users[id] = user
	return user, nil
}

func (f *fakeRepository) GetUserByUsername(_ context.Context, username string) (User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (f *fakeRepository) GetUserByID(_ context.Context, id int64) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) ListUsers(context.Context) ([]User, error) {
	out := []User{}
	for _, u := range f.users {
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeRepository) RecordLoginFailure(_ context.Context, id int64, maxAttempts int) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.FailedAttempts++
	if user.FailedAttempts >= maxAttempts {
		user.Locked = true
	}
	f.users[id] = user
	return user, nil
}

func (f *fakeRepository) RecordLoginSuccess(_ context.Context, id int64, at time.Time) (User, error) {
	user, ok := f.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.FailedAttempts = 0
	user.LastLoginAt = &at
	f.users[id] = user
	return user, nil
}
