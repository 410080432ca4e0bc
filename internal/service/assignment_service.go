package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

// AssignmentService picks the user a triaged ticket is routed to.
type AssignmentService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(users repository.UserRepository, logger *zap.Logger) *AssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssignmentService{users: users, logger: logger}
}

// FindAssignee returns the earliest moderator whose skills contain any of the
// requested tokens, else the earliest admin, else nil. Finding nobody is not an error.
func (s *AssignmentService) FindAssignee(ctx context.Context, skills []string) (*domain.User, error) {
	tokens := domain.NormalizeSkills(skills)
	if len(tokens) > 0 {
		moderator, err := s.users.FindModeratorBySkills(ctx, tokens)
		switch {
		case err == nil:
			return moderator, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, err
		}
	}

	admin, err := s.users.FindOneByRole(ctx, domain.UserRoleAdmin)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.logger.Debug("no moderator matched; falling back to admin",
		zap.Strings("skills", tokens),
		zap.String("admin_id", admin.ID))
	return admin, nil
}
