package auth

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// CanEdit reports whether the role may mutate coordinators, calls, guests,
// events and send messages.
func (r Role) CanEdit() bool {
	return r == RoleAdmin || r == RoleEditor
}

// User is the domain representation of a console user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID                 int64
	Username           string
	Email              string
	FullName           string
	PasswordHash       string
	Role               Role
	Active             bool
	MustChangePassword bool
	FailedAttempts     int
	Locked             bool
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Principal is the identity carried by a verified token.
type Principal struct {
	UserID   int64
	Username string
	Role     Role
}

// CreateUserRequest contains the data an administrator supplies for a new user.
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// UpdateUserRequest replaces a user's profile fields.
type UpdateUserRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
	Active   bool   `json:"active"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest is submitted by a user changing their own password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}
