package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
)

// Runner executes the enrichment workflow for one ticket.
type Runner interface {
	Run(ctx context.Context, ticketID string) error
}

// StartTriageWorker subscribes the workflow to ticket/created triggers.
func StartTriageWorker(dispatcher events.Dispatcher, runner Runner, logger *zap.Logger) {
	if dispatcher == nil || runner == nil {
		return
	}
	dispatcher.Subscribe(events.EventTicketCreated, TriageHandler(runner, logger))
}

// TriageHandler adapts a Runner to an event handler. The returned error is only
// logged by dispatchers; the workflow has already applied its own retries.
func TriageHandler(runner Runner, logger *zap.Logger) events.EventHandler {
	return func(ctx context.Context, event events.Event) error {
		data, err := event.TicketCreated()
		if err != nil {
			return err
		}
		logger.Info("ticket/created received",
			zap.String("event_id", event.ID),
			zap.String("ticket_id", data.TicketID))
		if err := runner.Run(ctx, data.TicketID); err != nil {
			return fmt.Errorf("triage ticket %s: %w", data.TicketID, err)
		}
		return nil
	}
}
