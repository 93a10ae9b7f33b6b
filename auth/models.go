package auth

import "time"

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleClient   Role = "client"
)

// CanRunLive reports whether the role may trigger a live (non-dry) automation run.
func (r Role) CanRunLive() bool {
	return r == RoleAdmin
}

// CanRunDry reports whether the role may trigger a dry-run preview.
func (r Role) CanRunDry() bool {
	return r == RoleAdmin || r == RoleOperator
}

// User is the domain representation of an authenticated staff user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
