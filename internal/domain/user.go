package domain

import (
	"strings"
	"time"
)

// UserRole represents account privileges.
type UserRole string

const (
	UserRoleUser      UserRole = "user"
	UserRoleModerator UserRole = "moderator"
	UserRoleAdmin     UserRole = "admin"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case UserRoleUser, UserRoleModerator, UserRoleAdmin:
		return true
	}
	return false
}

// User is an account that submits tickets or, as moderator/admin, handles them.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         UserRole
	Skills       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeSkills trims skill tags and drops blanks, preserving order.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasSkillMatching reports whether any of the user's skills contains any token,
// compared case-insensitively.
func (u *User) HasSkillMatching(tokens []string) bool {
	for _, skill := range u.Skills {
		lowered := strings.ToLower(skill)
		for _, token := range tokens {
			token = strings.ToLower(strings.TrimSpace(token))
			if token != "" && strings.Contains(lowered, token) {
				return true
			}
		}
	}
	return false
}
