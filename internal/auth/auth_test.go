package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util/errorutil"
)

func TestTokenManager_roundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	user := &domain.User{ID: "u-1", Role: domain.UserRoleModerator}

	token, exp, err := tm.GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expiry %v is not in the future", exp)
	}
	claims, err := tm.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Subject != "u-1" || claims.Role != domain.UserRoleModerator {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenManager_rejects(t *testing.T) {
	tm := NewTokenManager("secret", 5)
	other := NewTokenManager("other", 5)
	token, _, _ := other.GenerateToken(&domain.User{ID: "u-1", Role: domain.UserRoleUser})
	if _, err := tm.ParseToken(token); err == nil {
		t.Error("ParseToken() accepted a token signed with another secret")
	}

	expired := NewTokenManager("secret", 5)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, _ = expired.GenerateToken(&domain.User{ID: "u-1", Role: domain.UserRoleUser})
	if _, err := tm.ParseToken(token); err == nil {
		t.Error("ParseToken() accepted an expired token")
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2", 4)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if err := ComparePassword(hash, "hunter2"); err != nil {
		t.Errorf("ComparePassword() error = %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Error("ComparePassword() accepted a wrong password")
	}
}

func TestMiddlewareAndRoles(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	admin := &domain.User{Email: "admin@example.com", Role: domain.UserRoleAdmin}
	member := &domain.User{Email: "user@example.com", Role: domain.UserRoleUser}
	for _, u := range []*domain.User{admin, member} {
		if err := users.Create(context.Background(), u); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	tm := NewTokenManager("secret", 5)
	mw := NewAuthMiddleware(tm, users)

	app := fiber.New(fiber.Config{ErrorHandler: func(c *fiber.Ctx, err error) error {
		de := apperrors.ToDomainError(err)
		return c.SendStatus(de.HTTPStatus)
	}})
	app.Get("/admin", mw.Handle, RequireRole(domain.UserRoleAdmin), func(c *fiber.Ctx) error {
		user, _ := UserFromContext(c)
		return c.SendString(user.Email)
	})

	adminToken, _, _ := tm.GenerateToken(admin)
	memberToken, _, _ := tm.GenerateToken(member)
	ghostToken, _, _ := tm.GenerateToken(&domain.User{ID: "ghost", Role: domain.UserRoleAdmin})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer abc", http.StatusUnauthorized},
		{"unknown user", "Bearer " + ghostToken, http.StatusUnauthorized},
		{"insufficient role", "Bearer " + memberToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
