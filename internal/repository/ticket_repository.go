package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// ErrNotFound is returned by every repository when a record does not exist.
var ErrNotFound = pgx.ErrNoRows

// TicketFilter captures listing parameters.
type TicketFilter struct {
	CreatedBy *string
	Statuses  []domain.TicketStatus
	// TriggeredBefore keeps tickets whose last trigger (or creation, if never
	// triggered) is older than the given time.
	TriggeredBefore *time.Time
	Limit           int
	Offset          int
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, id string) (*domain.Ticket, error)
	UpdateFields(ctx context.Context, id string, update domain.TicketUpdate) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	// MarkTriggered stamps the time a trigger for the ticket was last published.
	MarkTriggered(ctx context.Context, id string, at time.Time) error
	// ClaimNotification records assigneeID as notified unless it already is. It
	// reports false when another run has claimed the same assignee.
	ClaimNotification(ctx context.Context, id, assigneeID string, at time.Time) (bool, error)
	// ReleaseNotification clears a claim held for assigneeID after a failed send.
	ReleaseNotification(ctx context.Context, id, assigneeID string) error
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, title, description, status, priority, helpful_notes, related_skills,
               created_by, assigned_to, triggered_at, notified_to, notified_at, created_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (title, description, status, priority, helpful_notes, related_skills, created_by, triggered_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        RETURNING id, created_at, updated_at`
	skills := ticket.RelatedSkills
	if skills == nil {
		skills = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.HelpfulNotes,
		skills,
		ticket.CreatedBy,
		ticket.TriggeredAt,
	).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	rows, err := r.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

// UpdateFields overwrites the provided fields. A status write that would move the
// ticket backwards in domain.TicketStatusOrder is ignored.
func (r *ticketRepository) UpdateFields(ctx context.Context, id string, update domain.TicketUpdate) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	query, args := ticketUpdateQuery(id, update)
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func ticketUpdateQuery(id string, update domain.TicketUpdate) (string, []any) {
	sets := []string{"updated_at=NOW()"}
	args := []any{id}

	if update.Status != nil {
		order := make([]string, len(domain.TicketStatusOrder))
		for i, s := range domain.TicketStatusOrder {
			order[i] = string(s)
		}
		args = append(args, order, string(*update.Status))
		orderArg := fmt.Sprintf("$%d::text[]", len(args)-1)
		statusArg := fmt.Sprintf("$%d::text", len(args))
		sets = append(sets, fmt.Sprintf(
			"status = CASE WHEN array_position(%[1]s, %[2]s) > COALESCE(array_position(%[1]s, status), 0) THEN %[2]s ELSE status END",
			orderArg, statusArg))
	}
	if update.Priority != nil {
		args = append(args, string(*update.Priority))
		sets = append(sets, fmt.Sprintf("priority=$%d", len(args)))
	}
	if update.HelpfulNotes != nil {
		args = append(args, *update.HelpfulNotes)
		sets = append(sets, fmt.Sprintf("helpful_notes=$%d", len(args)))
	}
	if update.RelatedSkills != nil {
		skills := *update.RelatedSkills
		if skills == nil {
			skills = []string{}
		}
		args = append(args, skills)
		sets = append(sets, fmt.Sprintf("related_skills=$%d", len(args)))
	}
	if update.SetAssignee {
		args = append(args, update.AssignedTo)
		sets = append(sets, fmt.Sprintf("assigned_to=$%d", len(args)))
	}

	return fmt.Sprintf(`UPDATE tickets SET %s WHERE id=$1`, strings.Join(sets, ", ")), args
}

func (r *ticketRepository) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	cmd, err := r.pool.Exec(ctx, `UPDATE tickets SET triggered_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const claimNotificationQuery = `
        WITH claimed AS (
            UPDATE tickets SET notified_to=$2::uuid, notified_at=$3, updated_at=NOW()
            WHERE id=$1 AND notified_to IS DISTINCT FROM $2::uuid
            RETURNING id
        )
        SELECT EXISTS (SELECT 1 FROM tickets WHERE id=$1), EXISTS (SELECT 1 FROM claimed)`

func (r *ticketRepository) ClaimNotification(ctx context.Context, id, assigneeID string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, ErrNotFound
	}
	var found, claimed bool
	if err := r.pool.QueryRow(ctx, claimNotificationQuery, id, assigneeID, at).Scan(&found, &claimed); err != nil {
		return false, err
	}
	if !found {
		return false, ErrNotFound
	}
	return claimed, nil
}

func (r *ticketRepository) ReleaseNotification(ctx context.Context, id, assigneeID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE tickets SET notified_to=NULL, notified_at=NULL WHERE id=$1 AND notified_to=$2::uuid`,
		id, assigneeID)
	return err
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	cmd, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	query, args := ticketListQuery(filter)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func ticketListQuery(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.CreatedBy != nil {
		args = append(args, *filter.CreatedBy)
		clauses = append(clauses, fmt.Sprintf("created_by=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, string(status))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TriggeredBefore != nil {
		args = append(args, *filter.TriggeredBefore)
		clauses = append(clauses, fmt.Sprintf("COALESCE(triggered_at, created_at) < $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	return fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset), args
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Title,
			&ticket.Description,
			&ticket.Status,
			&ticket.Priority,
			&ticket.HelpfulNotes,
			&ticket.RelatedSkills,
			&ticket.CreatedBy,
			&ticket.AssignedTo,
			&ticket.TriggeredAt,
			&ticket.NotifiedTo,
			&ticket.NotifiedAt,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
