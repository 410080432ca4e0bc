package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
)

// Welcomer greets new accounts.
type Welcomer interface {
	SendWelcome(ctx context.Context, email string) error
}

// StartSignupWorker subscribes the welcome email to user/signup events.
func StartSignupWorker(dispatcher events.Dispatcher, welcomer Welcomer, logger *zap.Logger) {
	if dispatcher == nil || welcomer == nil {
		return
	}
	dispatcher.Subscribe(events.EventUserSignup, func(ctx context.Context, event events.Event) error {
		data, err := event.UserSignup()
		if err != nil {
			return err
		}
		logger.Info("user/signup received",
			zap.String("event_id", event.ID),
			zap.String("user_id", data.UserID))
		if err := welcomer.SendWelcome(ctx, data.Email); err != nil {
			return fmt.Errorf("welcome %s: %w", data.UserID, err)
		}
		return nil
	})
}
