package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/config"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util/errorutil"
)

// AuthService coordinates registration, login and account administration.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// AuthDependencies bundles collaborators for the auth service. Dispatcher may be nil.
type AuthDependencies struct {
	Config     config.AuthConfig
	UserRepo   repository.UserRepository
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
}

// SignupInput describes a new account. Self-service accounts are always plain
// users; Role may only be empty or "user".
type SignupInput struct {
	Email    string
	Password string
	Role     domain.UserRole
	Skills   []string
}

// UpdateUserInput describes an admin change to an account. Empty Skills keep the
// existing list; an empty Role keeps the existing role.
type UpdateUserInput struct {
	Email  string
	Role   domain.UserRole
	Skills []string
}

// Session is an issued access token.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(deps.Config.JWTSecret, deps.Config.AccessTokenTTLMinutes),
		bcryptCost: deps.Config.BcryptCost,
		dispatcher: deps.Dispatcher,
		logger:     logger,
	}
}

// Signup creates an account and returns a session for it.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*Session, error) {
	email, err := normalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if input.Password == "" {
		return nil, apperrors.NewValidationError("email and password are required", nil)
	}
	role := input.Role
	if role == "" {
		role = domain.UserRoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": role})
	}
	if role != domain.UserRoleUser {
		return nil, apperrors.NewForbidden("elevated roles are granted by an admin")
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", map[string]any{"email": email})
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.MapError(err)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Skills:       domain.NormalizeSkills(input.Skills),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.publishSignup(ctx, user)
	return s.session(user)
}

// EnsureAdmin makes sure an admin account exists for email, creating it with
// password or promoting an existing account. It reports whether anything changed.
func (s *AuthService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == domain.UserRoleAdmin {
			return false, nil
		}
		existing.Role = domain.UserRoleAdmin
		if err := s.users.Update(ctx, existing); err != nil {
			return false, apperrors.MapError(err)
		}
		s.logger.Info("promoted bootstrap admin", zap.String("user_id", existing.ID))
		return true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return false, apperrors.MapError(err)
	}

	if password == "" {
		return false, apperrors.NewValidationError("bootstrap admin password is required", nil)
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return false, apperrors.NewInternalError(err)
	}
	admin := &domain.User{Email: email, PasswordHash: hash, Role: domain.UserRoleAdmin, Skills: []string{}}
	if err := s.users.Create(ctx, admin); err != nil {
		return false, apperrors.MapError(err)
	}
	s.logger.Info("created bootstrap admin", zap.String("user_id", admin.ID))
	return true, nil
}

// publishSignup announces the account. Failures are logged; signup still succeeds.
func (s *AuthService) publishSignup(ctx context.Context, user *domain.User) {
	if s.dispatcher == nil {
		return
	}
	event, err := events.NewUserSignup(events.UserSignupData{UserID: user.ID, Email: user.Email, Role: string(user.Role)})
	if err == nil {
		err = s.dispatcher.Publish(ctx, event)
	}
	if err != nil {
		s.logger.Error("failed to publish user/signup", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// Login authenticates by email and password. When role is set it must match the account.
func (s *AuthService) Login(ctx context.Context, email, password string, role domain.UserRole) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.MapError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if role != "" && role != user.Role {
		return nil, apperrors.NewForbidden("account is registered as '" + string(user.Role) + "', not '" + string(role) + "'")
	}
	return s.session(user)
}

// UpdateUser changes another account's role and skills.
func (s *AuthService) UpdateUser(ctx context.Context, input UpdateUserInput) (*domain.User, error) {
	if input.Role != "" && !input.Role.Valid() {
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": input.Role})
	}
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(input.Email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", map[string]any{"email": input.Email})
		}
		return nil, apperrors.MapError(err)
	}
	if skills := domain.NormalizeSkills(input.Skills); len(skills) > 0 {
		user.Skills = skills
	}
	if input.Role != "" {
		user.Role = input.Role
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, apperrors.MapError(err)
	}
	return user, nil
}

// ListUsers returns every account.
func (s *AuthService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) session(user *domain.User) (*Session, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &Session{User: user, Token: token, ExpiresAt: exp}, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", apperrors.NewValidationError("email and password are required", nil)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.NewValidationError("invalid email", map[string]any{"email": raw})
	}
	return email, nil
}
