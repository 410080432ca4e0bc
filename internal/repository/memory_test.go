package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/spec-kit/ticket-triage/internal/domain"
)

func TestMemoryTicketRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()

	ticket := &domain.Ticket{Title: "t", Description: "d", Status: domain.TicketStatusReceived, CreatedBy: "u1", RelatedSkills: []string{}}
	if err := repo.Create(ctx, ticket); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if ticket.ID == "" || ticket.CreatedAt.IsZero() {
		t.Fatalf("Create() did not assign id/timestamps: %+v", ticket)
	}

	skills := []string{"Go"}
	status := domain.TicketStatusEnriched
	if err := repo.UpdateFields(ctx, ticket.ID, domain.TicketUpdate{Status: &status, RelatedSkills: &skills}); err != nil {
		t.Fatalf("UpdateFields() error = %v", err)
	}
	skills[0] = "mutated"

	got, err := repo.GetByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.TicketStatusEnriched || !reflect.DeepEqual(got.RelatedSkills, []string{"Go"}) {
		t.Errorf("stored = %+v", got)
	}
	got.RelatedSkills[0] = "mutated"
	again, _ := repo.GetByID(ctx, ticket.ID)
	if again.RelatedSkills[0] != "Go" {
		t.Error("GetByID() returned shared state")
	}

	back := domain.TicketStatusTriaging
	_ = repo.UpdateFields(ctx, ticket.ID, domain.TicketUpdate{Status: &back})
	again, _ = repo.GetByID(ctx, ticket.ID)
	if again.Status != domain.TicketStatusEnriched {
		t.Errorf("status regressed to %s", again.Status)
	}

	if err := repo.UpdateFields(ctx, "missing", domain.TicketUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFields(missing) error = %v", err)
	}
	if err := repo.Delete(ctx, ticket.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.GetByID(ctx, ticket.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() after delete error = %v", err)
	}
}

func TestMemoryTicketRepository_List(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	old := time.Now().Add(-time.Hour)
	seed := []*domain.Ticket{
		{Title: "a", CreatedBy: "u1", Status: domain.TicketStatusReceived, CreatedAt: old},
		{Title: "b", CreatedBy: "u2", Status: domain.TicketStatusAssigned},
		{Title: "c", CreatedBy: "u1", Status: domain.TicketStatusReceived},
	}
	for _, tk := range seed {
		if err := repo.Create(ctx, tk); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	titles := func(ts []domain.Ticket) []string {
		out := []string{}
		for _, tk := range ts {
			out = append(out, tk.Title)
		}
		return out
	}

	u1 := "u1"
	cutoff := time.Now().Add(-time.Minute)
	tests := []struct {
		name   string
		filter TicketFilter
		want   []string
	}{
		{"all newest first", TicketFilter{}, []string{"c", "b", "a"}},
		{"by creator", TicketFilter{CreatedBy: &u1}, []string{"c", "a"}},
		{"by status", TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusAssigned}}, []string{"b"}},
		{"triggered before", TicketFilter{TriggeredBefore: &cutoff}, []string{"a"}},
		{"paged", TicketFilter{Limit: 1, Offset: 1}, []string{"b"}},
		{"past end", TicketFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if !reflect.DeepEqual(titles(got), tt.want) {
				t.Errorf("List() = %v, want %v", titles(got), tt.want)
			}
		})
	}
}

func TestMemoryTicketRepository_triggerAndNotificationMarkers(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTicketRepository()
	ticket := &domain.Ticket{Title: "t", Description: "d", Status: domain.TicketStatusReceived, CreatedAt: time.Now().Add(-time.Hour)}
	if err := repo.Create(ctx, ticket); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	cutoff := time.Now().Add(-time.Minute)
	stale, _ := repo.List(ctx, TicketFilter{TriggeredBefore: &cutoff})
	if len(stale) != 1 {
		t.Fatalf("List(TriggeredBefore) before trigger = %d tickets, want 1", len(stale))
	}
	if err := repo.MarkTriggered(ctx, ticket.ID, time.Now()); err != nil {
		t.Fatalf("MarkTriggered() error = %v", err)
	}
	stale, _ = repo.List(ctx, TicketFilter{TriggeredBefore: &cutoff})
	if len(stale) != 0 {
		t.Errorf("List(TriggeredBefore) after trigger = %d tickets, want 0", len(stale))
	}

	claimed, err := repo.ClaimNotification(ctx, ticket.ID, "mod-1", time.Now())
	if err != nil || !claimed {
		t.Fatalf("ClaimNotification() = %v, %v; want true", claimed, err)
	}
	if claimed, _ := repo.ClaimNotification(ctx, ticket.ID, "mod-1", time.Now()); claimed {
		t.Error("ClaimNotification() claimed the same assignee twice")
	}
	if claimed, _ := repo.ClaimNotification(ctx, ticket.ID, "mod-2", time.Now()); !claimed {
		t.Error("ClaimNotification() refused a new assignee")
	}
	if err := repo.ReleaseNotification(ctx, ticket.ID, "mod-1"); err != nil {
		t.Fatalf("ReleaseNotification() error = %v", err)
	}
	got, _ := repo.GetByID(ctx, ticket.ID)
	if !got.WasNotified("mod-2") {
		t.Errorf("releasing a stale claim cleared the current one: %v", got.NotifiedTo)
	}
	if err := repo.ReleaseNotification(ctx, ticket.ID, "mod-2"); err != nil {
		t.Fatalf("ReleaseNotification() error = %v", err)
	}
	got, _ = repo.GetByID(ctx, ticket.ID)
	if got.NotifiedTo != nil || got.NotifiedAt != nil {
		t.Errorf("claim not released: %+v", got)
	}
	if _, err := repo.ClaimNotification(ctx, "missing", "mod-1", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("ClaimNotification(missing) error = %v", err)
	}
}

func TestMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()
	users := []*domain.User{
		{Email: "User@Example.com", Role: domain.UserRoleUser, Skills: []string{"Docker"}},
		{Email: "mod1@example.com", Role: domain.UserRoleModerator, Skills: []string{"React"}},
		{Email: "mod2@example.com", Role: domain.UserRoleModerator, Skills: []string{"Docker Compose"}},
		{Email: "admin@example.com", Role: domain.UserRoleAdmin},
	}
	for _, u := range users {
		if err := repo.Create(ctx, u); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.User{Email: "user@example.com"}); err == nil {
		t.Error("Create() accepted a duplicate email")
	}

	if u, err := repo.GetByEmail(ctx, "user@example.com"); err != nil || u.ID != users[0].ID {
		t.Errorf("GetByEmail() = %v, %v", u, err)
	}
	if u, err := repo.FindModeratorBySkills(ctx, []string{"docker"}); err != nil || u.Email != "mod2@example.com" {
		t.Errorf("FindModeratorBySkills(docker) = %v, %v", u, err)
	}
	if _, err := repo.FindModeratorBySkills(ctx, []string{" "}); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindModeratorBySkills(blank) error = %v", err)
	}
	if u, err := repo.FindOneByRole(ctx, domain.UserRoleAdmin); err != nil || u.Email != "admin@example.com" {
		t.Errorf("FindOneByRole(admin) = %v, %v", u, err)
	}

	users[1].Skills = []string{"Go"}
	if err := repo.Update(ctx, users[1]); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if u, _ := repo.GetByID(ctx, users[1].ID); !reflect.DeepEqual(u.Skills, []string{"Go"}) {
		t.Errorf("Update() not persisted: %v", u.Skills)
	}
	all, err := repo.List(ctx)
	if err != nil || len(all) != 4 {
		t.Errorf("List() = %d, %v", len(all), err)
	}
}
