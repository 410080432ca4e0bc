package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/mail"
)

const (
	assignmentSubject = "Ticket Assigned"
	welcomeSubject    = "Welcome to the Ticketing System"
	welcomeBody       = "Hi,\n\nThanks for signing up. We're glad to have you onboard!"
)

// NotificationService tells assignees about their tickets.
type NotificationService struct {
	sender mail.Sender
	logger *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(sender mail.Sender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{sender: sender, logger: logger}
}

// NotifyAssignment sends exactly one message to assignee. Delivery errors are returned.
func (n *NotificationService) NotifyAssignment(ctx context.Context, assignee *domain.User, ticket *domain.Ticket) error {
	body := fmt.Sprintf("A new ticket titled \"%s\" has been assigned to you.", ticket.Title)
	if err := n.sender.Send(ctx, assignee.Email, assignmentSubject, body); err != nil {
		return err
	}
	n.logger.Info("assignment email sent",
		zap.String("ticket_id", ticket.ID),
		zap.String("assignee_id", assignee.ID))
	return nil
}

// SendWelcome greets a newly registered account.
func (n *NotificationService) SendWelcome(ctx context.Context, email string) error {
	if err := n.sender.Send(ctx, email, welcomeSubject, welcomeBody); err != nil {
		return err
	}
	n.logger.Info("welcome email sent")
	return nil
}
