package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/domain"
	"github.com/spec-kit/ticket-triage/internal/observability"
	"github.com/spec-kit/ticket-triage/internal/repository"
)

// Step names, in execution order.
const (
	StepFetch    = "fetch-ticket"
	StepMark     = "update-ticket-status"
	StepClassify = "ai-processing"
	StepAssign   = "assign-moderator"
	StepNotify   = "send-email-notification"
)

// Run outcomes reported to metrics.
const (
	OutcomeCompleted  = "completed"
	OutcomeUnassigned = "unassigned"
	OutcomeTerminated = "terminated"
	OutcomeFailed     = "failed"
	OutcomeCancelled  = "cancelled"
)

// TicketStore is the slice of ticket persistence the workflow needs.
type TicketStore interface {
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdateFields(ctx context.Context, id string, update domain.TicketUpdate) error
	ClaimNotification(ctx context.Context, id, assigneeID string, at time.Time) (bool, error)
	ReleaseNotification(ctx context.Context, id, assigneeID string) error
}

// Classifier produces triage data for a ticket. (nil, nil) means no usable result.
type Classifier interface {
	Analyze(ctx context.Context, title, description string) (*domain.TriageResult, error)
}

// Assigner picks the user a ticket should go to. (nil, nil) means nobody.
type Assigner interface {
	FindAssignee(ctx context.Context, skills []string) (*domain.User, error)
}

// Notifier tells an assignee about a ticket.
type Notifier interface {
	NotifyAssignment(ctx context.Context, assignee *domain.User, ticket *domain.Ticket) error
}

// Dependencies bundles the engine collaborators.
type Dependencies struct {
	Tickets    TicketStore
	Classifier Classifier
	Assigner   Assigner
	Notifier   Notifier
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	// MaxRetries is the number of extra attempts per step after the first.
	MaxRetries int
	Backoff    time.Duration
}

// Engine drives one ticket through fetch, mark, classify, assign and notify. Each
// step writes its result before the next begins, and every write is a full
// overwrite with advance-only status, so a repeated run converges on the same state.
// The notice is sent once per assignee: Notify claims a marker on the ticket first.
type Engine struct {
	tickets    TicketStore
	classifier Classifier
	assigner   Assigner
	notifier   Notifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	maxRetries int
	backoff    time.Duration
}

// NewEngine creates an engine.
func NewEngine(deps Dependencies) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := deps.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Engine{
		tickets:    deps.Tickets,
		classifier: deps.Classifier,
		assigner:   deps.Assigner,
		notifier:   deps.Notifier,
		logger:     logger,
		metrics:    deps.Metrics,
		maxRetries: maxRetries,
		backoff:    deps.Backoff,
	}
}

// Run executes the workflow for ticketID. A nil error means the run reached its
// end, with or without an assignee. A terminal StepError means the trigger was
// stale; any other error means a step exhausted its retries.
func (e *Engine) Run(ctx context.Context, ticketID string) (err error) {
	log := e.logger.With(zap.String("ticket_id", ticketID))
	started := time.Now()
	outcome := OutcomeCompleted
	defer func() {
		switch {
		case err == nil:
		case ctx.Err() != nil:
			outcome = OutcomeCancelled
		case IsTerminal(err):
			outcome = OutcomeTerminated
		default:
			outcome = OutcomeFailed
		}
		e.metrics.RecordRun(outcome)
		fields := []zap.Field{zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(started))}
		if err != nil {
			log.Error("workflow run ended", append(fields, zap.Error(err))...)
			return
		}
		log.Info("workflow run ended", fields...)
	}()

	var ticket *domain.Ticket
	err = e.runStep(ctx, log, StepFetch, func(ctx context.Context) error {
		if ticketID == "" {
			return Terminal(StepFetch, ErrTicketNotFound)
		}
		t, err := e.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return storeError(StepFetch, err)
		}
		ticket = t
		return nil
	})
	if err != nil {
		return err
	}

	err = e.runStep(ctx, log, StepMark, func(ctx context.Context) error {
		return e.update(ctx, StepMark, ticketID, domain.TicketUpdate{Status: statusPtr(domain.TicketStatusTriaging)})
	})
	if err != nil {
		return err
	}

	skills, err := e.classify(ctx, log, ticket)
	if err != nil {
		return err
	}

	var assignee *domain.User
	err = e.runStep(ctx, log, StepAssign, func(ctx context.Context) error {
		user, err := e.assigner.FindAssignee(ctx, skills)
		if err != nil {
			return err
		}
		if user == nil {
			// An earlier run's assignee stays in place so status ASSIGNED keeps its owner.
			return nil
		}
		update := domain.TicketUpdate{
			SetAssignee: true,
			AssignedTo:  &user.ID,
			Status:      statusPtr(domain.TicketStatusAssigned),
		}
		if err := e.update(ctx, StepAssign, ticketID, update); err != nil {
			return err
		}
		assignee = user
		return nil
	})
	if err != nil {
		return err
	}

	if assignee == nil {
		outcome = OutcomeUnassigned
		if ticket.AssignedTo != nil {
			log.Info("no assignee found; keeping existing assignment", zap.String("assignee_id", *ticket.AssignedTo))
		} else {
			log.Info("no assignee found; skipping notification")
		}
		return nil
	}
	log.Info("ticket assigned", zap.String("assignee_id", assignee.ID))

	return e.runStep(ctx, log, StepNotify, func(ctx context.Context) error {
		return e.notify(ctx, log, ticketID, assignee)
	})
}

// notify sends the assignment notice unless assignee already holds the marker.
// A failed send releases the marker so the next attempt can claim it again.
func (e *Engine) notify(ctx context.Context, log *zap.Logger, ticketID string, assignee *domain.User) error {
	current, err := e.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return storeError(StepNotify, err)
	}
	if current.WasNotified(assignee.ID) {
		log.Info("assignee already notified; skipping", zap.String("assignee_id", assignee.ID))
		return nil
	}
	claimed, err := e.tickets.ClaimNotification(ctx, ticketID, assignee.ID, time.Now().UTC())
	if err != nil {
		return storeError(StepNotify, err)
	}
	if !claimed {
		log.Info("notification claimed by another run; skipping", zap.String("assignee_id", assignee.ID))
		return nil
	}

	if err := e.notifier.NotifyAssignment(ctx, assignee, current); err != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := e.tickets.ReleaseNotification(releaseCtx, ticketID, assignee.ID); rerr != nil {
			log.Warn("failed to release notification marker", zap.Error(rerr))
		}
		return err
	}
	return nil
}

// classify runs the classifier step and returns the skills for assignment. A
// classifier that stays unavailable after retries yields no skills rather than
// failing the run.
func (e *Engine) classify(ctx context.Context, log *zap.Logger, ticket *domain.Ticket) ([]string, error) {
	skills := []string{}
	err := e.runStep(ctx, log, StepClassify, func(ctx context.Context) error {
		result, err := e.classifier.Analyze(ctx, ticket.Title, ticket.Description)
		if err != nil {
			return &classifierUnavailable{err: err}
		}
		if result == nil {
			log.Warn("classifier returned no usable result; continuing without enrichment")
			skills = []string{}
			return nil
		}

		priority := domain.ParsePriority(result.Priority)
		notes := result.HelpfulNotes
		related := domain.NormalizeSkills(result.RelatedSkills)
		update := domain.TicketUpdate{
			Status:        statusPtr(domain.TicketStatusEnriched),
			Priority:      &priority,
			HelpfulNotes:  &notes,
			RelatedSkills: &related,
		}
		if err := e.update(ctx, StepClassify, ticket.ID, update); err != nil {
			return err
		}
		skills = related
		return nil
	})

	var unavailable *classifierUnavailable
	if err != nil && ctx.Err() == nil && errors.As(err, &unavailable) {
		log.Warn("classifier unavailable after retries; continuing without enrichment", zap.Error(err))
		return []string{}, nil
	}
	return skills, err
}

// runStep calls fn until it succeeds, returns a terminal error, or has been
// attempted 1+maxRetries times.
func (e *Engine) runStep(ctx context.Context, log *zap.Logger, step string, fn func(context.Context) error) error {
	attempts := e.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Retriable(step, err)
		}

		started := time.Now()
		err := fn(ctx)
		elapsed := time.Since(started)
		if err == nil {
			e.metrics.RecordStep(step, "ok", elapsed)
			log.Debug("step completed", zap.String("step", step), zap.Int("attempt", attempt))
			return nil
		}

		if IsTerminal(err) {
			e.metrics.RecordStep(step, "terminal", elapsed)
			log.Warn("step failed permanently", zap.String("step", step), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		e.metrics.RecordStep(step, "error", elapsed)
		log.Warn("step attempt failed",
			zap.String("step", step),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		lastErr = err

		if attempt < attempts {
			if err := e.wait(ctx, attempt); err != nil {
				return Retriable(step, err)
			}
		}
	}
	return Retriable(step, fmt.Errorf("retries exhausted: %w", lastErr))
}

func (e *Engine) wait(ctx context.Context, attempt int) error {
	if e.backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) update(ctx context.Context, step, ticketID string, update domain.TicketUpdate) error {
	if err := e.tickets.UpdateFields(ctx, ticketID, update); err != nil {
		return storeError(step, err)
	}
	return nil
}

// storeError makes a missing ticket terminal; anything else is left retriable.
func storeError(step string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return Terminal(step, ErrTicketNotFound)
	}
	return err
}

func statusPtr(s domain.TicketStatus) *domain.TicketStatus {
	return &s
}
