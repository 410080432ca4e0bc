package repository

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

// MemoryTicketRepository is an in-process TicketRepository used when no Postgres DSN
// is configured and in tests. Records are copied in and out.
type MemoryTicketRepository struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	order   []string
	now     func() time.Time
}

// NewMemoryTicketRepository creates an empty store.
func NewMemoryTicketRepository() *MemoryTicketRepository {
	return &MemoryTicketRepository{
		tickets: make(map[string]domain.Ticket),
		now:     time.Now,
	}
}

func (r *MemoryTicketRepository) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = now
	}
	ticket.UpdatedAt = now
	r.tickets[ticket.ID] = cloneTicket(*ticket)
	r.order = append(r.order, ticket.ID)
	return nil
}

func (r *MemoryTicketRepository) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTicket(ticket)
	return &out, nil
}

func (r *MemoryTicketRepository) UpdateFields(_ context.Context, id string, update domain.TicketUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	update.Apply(&ticket)
	ticket.UpdatedAt = r.now().UTC()
	r.tickets[id] = ticket
	return nil
}

func (r *MemoryTicketRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(r.tickets, id)
	for i, candidate := range r.order {
		if candidate == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryTicketRepository) List(_ context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []domain.Ticket{}
	for i := len(r.order) - 1; i >= 0; i-- {
		ticket := r.tickets[r.order[i]]
		if filter.CreatedBy != nil && ticket.CreatedBy != *filter.CreatedBy {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ticket.Status) {
			continue
		}
		if filter.TriggeredBefore != nil && !ticket.LastTriggered().Before(*filter.TriggeredBefore) {
			continue
		}
		result = append(result, cloneTicket(ticket))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(result) {
		return []domain.Ticket{}, nil
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (r *MemoryTicketRepository) MarkTriggered(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	ticket.TriggeredAt = &at
	r.tickets[id] = ticket
	return nil
}

func (r *MemoryTicketRepository) ClaimNotification(_ context.Context, id, assigneeID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok {
		return false, ErrNotFound
	}
	if ticket.WasNotified(assigneeID) {
		return false, nil
	}
	at = at.UTC()
	ticket.NotifiedTo = &assigneeID
	ticket.NotifiedAt = &at
	ticket.UpdatedAt = r.now().UTC()
	r.tickets[id] = ticket
	return true, nil
}

func (r *MemoryTicketRepository) ReleaseNotification(_ context.Context, id, assigneeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ticket, ok := r.tickets[id]
	if !ok || !ticket.WasNotified(assigneeID) {
		return nil
	}
	ticket.NotifiedTo = nil
	ticket.NotifiedAt = nil
	r.tickets[id] = ticket
	return nil
}

// MemoryUserRepository is an in-process UserRepository. Natural order is insertion order.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]domain.User
	order []string
	now   func() time.Time
}

// NewMemoryUserRepository creates an empty store.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[string]domain.User),
		now:   time.Now,
	}
}

func (r *MemoryUserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return errDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(*user)
	r.order = append(r.order, user.ID)
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrNotFound
	}
	user.UpdatedAt = r.now().UTC()
	r.users[user.ID] = cloneUser(*user)
	return nil
}

func (r *MemoryUserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneUser(user)
	return &out, nil
}

func (r *MemoryUserRepository) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.findFirst(func(u *domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *MemoryUserRepository) List(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.User, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, cloneUser(r.users[id]))
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *MemoryUserRepository) FindModeratorBySkills(_ context.Context, tokens []string) (*domain.User, error) {
	tokens = domain.NormalizeSkills(tokens)
	if len(tokens) == 0 {
		return nil, ErrNotFound
	}
	return r.findFirst(func(u *domain.User) bool {
		return u.Role == domain.UserRoleModerator && u.HasSkillMatching(tokens)
	})
}

func (r *MemoryUserRepository) FindOneByRole(_ context.Context, role domain.UserRole) (*domain.User, error) {
	return r.findFirst(func(u *domain.User) bool { return u.Role == role })
}

func (r *MemoryUserRepository) findFirst(match func(*domain.User) bool) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		user := r.users[id]
		if match(&user) {
			out := cloneUser(user)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

var errDuplicateEmail = errors.New("email already registered")

func containsStatus(statuses []domain.TicketStatus, status domain.TicketStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneTicket(t domain.Ticket) domain.Ticket {
	if t.RelatedSkills != nil {
		t.RelatedSkills = append([]string(nil), t.RelatedSkills...)
	}
	t.AssignedTo = cloneString(t.AssignedTo)
	t.NotifiedTo = cloneString(t.NotifiedTo)
	t.TriggeredAt = cloneTime(t.TriggeredAt)
	t.NotifiedAt = cloneTime(t.NotifiedAt)
	return t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u domain.User) domain.User {
	if u.Skills != nil {
		u.Skills = append([]string(nil), u.Skills...)
	}
	return u
}
