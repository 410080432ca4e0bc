package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/auth"
	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/events"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/repository"
	apperrors "github.com/spec-kit/ticket-triage/pkg/util/errorutil"
)

// TicketService coordinates ticket intake and access.
type TicketService struct {
	tickets    repository.TicketRepository
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
}

// Pagination bounds list queries.
type Pagination struct {
	Limit  int
	Offset int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		tickets:    deps.TicketRepo,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// CreateTicket persists a ticket in its initial state and hands a ticket/created
// trigger to the queue. It does not wait for the workflow. A failed publish is
// logged and left to the reconciler.
func (s *TicketService) CreateTicket(ctx context.Context, user *domain.User, input TicketCreateInput) (*domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if title == "" || description == "" {
		return nil, apperrors.NewValidationError("title and description are required", nil)
	}

	now := time.Now().UTC()
	ticket := &domain.Ticket{
		TriggeredAt:   &now,
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusReceived,
		Priority:      domain.TicketPriorityMedium,
		RelatedSkills: []string{},
		CreatedBy:     user.ID,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publishCreated(ctx, ticket)
	return ticket, nil
}

// ListTickets returns the caller's own tickets, or every ticket for moderators and admins.
func (s *TicketService) ListTickets(ctx context.Context, user *domain.User, page Pagination) ([]domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	filter := repository.TicketFilter{Limit: page.Limit, Offset: page.Offset}
	if !auth.IsStaff(user.Role) {
		filter.CreatedBy = &user.ID
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return tickets, nil
}

// GetTicket returns a ticket visible to user. Tickets owned by someone else are
// reported as missing to plain users.
func (s *TicketService) GetTicket(ctx context.Context, user *domain.User, ticketID string) (*domain.Ticket, error) {
	if user == nil {
		return nil, apperrors.NewUnauthorized("user required")
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	if !auth.IsStaff(user.Role) && ticket.CreatedBy != user.ID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// DeleteTicket removes a ticket. Only its creator may delete it.
func (s *TicketService) DeleteTicket(ctx context.Context, user *domain.User, ticketID string) error {
	if user == nil {
		return apperrors.NewUnauthorized("user required")
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	if ticket.CreatedBy != user.ID {
		return apperrors.NewForbidden("only the creator can delete this ticket")
	}
	if err := s.tickets.Delete(ctx, ticketID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// RepublishStale re-publishes triggers for tickets still RECEIVED whose last
// trigger is older than olderThan, stamps the new trigger time, and returns how
// many were handed to the queue.
func (s *TicketService) RepublishStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	stale, err := s.tickets.List(ctx, repository.TicketFilter{
		Statuses:        []domain.TicketStatus{domain.TicketStatusReceived},
		TriggeredBefore: &cutoff,
		Limit:           limit,
	})
	if err != nil {
		return 0, err
	}
	published := 0
	for i := range stale {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if !s.publishCreated(ctx, &stale[i]) {
			continue
		}
		published++
		if err := s.tickets.MarkTriggered(ctx, stale[i].ID, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to stamp trigger time", zap.String("ticket_id", stale[i].ID), zap.Error(err))
		}
	}
	return published, nil
}

func (s *TicketService) publishCreated(ctx context.Context, ticket *domain.Ticket) bool {
	if s.dispatcher == nil {
		return false
	}
	event, err := events.NewTicketCreated(events.TicketCreatedData{
		TicketID:    ticket.ID,
		Title:       ticket.Title,
		Description: ticket.Description,
		CreatedBy:   ticket.CreatedBy,
	})
	if err == nil {
		err = s.dispatcher.Publish(ctx, event)
	}
	if err != nil {
		s.metrics.RecordPublish("error")
		s.logger.Error("failed to publish ticket/created", zap.String("ticket_id", ticket.ID), zap.Error(err))
		return false
	}
	s.metrics.RecordPublish("ok")
	s.logger.Info("ticket/created published", zap.String("ticket_id", ticket.ID), zap.String("event_id", event.ID))
	return true
}
