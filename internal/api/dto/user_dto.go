package dto

import (
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// SignupRequest payload for new accounts.
type SignupRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     domain.UserRole `json:"role"`
	Skills   []string        `json:"skills"`
}

// LoginRequest payload for login. Role is optional and must match the account when set.
type LoginRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     domain.UserRole `json:"role"`
}

// UpdateUserRequest payload for admin account changes.
type UpdateUserRequest struct {
	Email  string          `json:"email"`
	Role   domain.UserRole `json:"role"`
	Skills []string        `json:"skills"`
}

// UserResponse is an account without its password hash.
type UserResponse struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Role      domain.UserRole `json:"role"`
	Skills    []string        `json:"skills"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewUserResponse strips private fields from user.
func NewUserResponse(user *domain.User) UserResponse {
	skills := user.Skills
	if skills == nil {
		skills = []string{}
	}
	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Role:      user.Role,
		Skills:    skills,
		CreatedAt: user.CreatedAt,
	}
}
