package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets. Statuses only move forward.
type TicketStatus string

const (
	TicketStatusReceived TicketStatus = "RECEIVED"
	TicketStatusTriaging TicketStatus = "TRIAGING"
	TicketStatusEnriched TicketStatus = "ENRICHED"
	TicketStatusAssigned TicketStatus = "ASSIGNED"
)

// TicketStatusOrder lists statuses from earliest to latest.
var TicketStatusOrder = []TicketStatus{
	TicketStatusReceived,
	TicketStatusTriaging,
	TicketStatusEnriched,
	TicketStatusAssigned,
}

// Rank returns the position of the status in TicketStatusOrder, or -1 if unknown.
func (s TicketStatus) Rank() int {
	for i, candidate := range TicketStatusOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Advance returns next when it is later than s, otherwise s.
func (s TicketStatus) Advance(next TicketStatus) TicketStatus {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// TicketPriority enumerates urgency set by triage.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
)

// ParsePriority normalizes a classifier priority, defaulting to medium for anything unknown.
func ParsePriority(raw string) TicketPriority {
	switch p := TicketPriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh:
		return p
	default:
		return TicketPriorityMedium
	}
}

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID            string
	Title         string
	Description   string
	Status        TicketStatus
	Priority      TicketPriority
	HelpfulNotes  string
	RelatedSkills []string
	CreatedBy     string
	AssignedTo    *string
	// TriggeredAt is when a ticket/created trigger was last handed to the queue.
	TriggeredAt *time.Time
	// NotifiedTo records the assignee who has been sent the assignment notice.
	NotifiedTo *string
	NotifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LastTriggered returns TriggeredAt, or CreatedAt for a ticket never triggered.
func (t *Ticket) LastTriggered() time.Time {
	if t.TriggeredAt != nil {
		return *t.TriggeredAt
	}
	return t.CreatedAt
}

// WasNotified reports whether assigneeID has already been sent the assignment notice.
func (t *Ticket) WasNotified(assigneeID string) bool {
	return t.NotifiedTo != nil && *t.NotifiedTo == assigneeID
}

// TicketUpdate carries the workflow-owned fields. Nil fields are left untouched;
// non-nil fields overwrite the stored value.
type TicketUpdate struct {
	Status        *TicketStatus
	Priority      *TicketPriority
	HelpfulNotes  *string
	RelatedSkills *[]string
	// SetAssignee writes AssignedTo even when it is nil.
	SetAssignee bool
	AssignedTo  *string
}

// IsEmpty reports whether the update would write nothing.
func (u TicketUpdate) IsEmpty() bool {
	return u.Status == nil && u.Priority == nil && u.HelpfulNotes == nil && u.RelatedSkills == nil && !u.SetAssignee
}

// Apply folds the update into t, keeping status monotonic.
func (u TicketUpdate) Apply(t *Ticket) {
	if u.Status != nil {
		t.Status = t.Status.Advance(*u.Status)
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.HelpfulNotes != nil {
		t.HelpfulNotes = *u.HelpfulNotes
	}
	if u.RelatedSkills != nil {
		t.RelatedSkills = append([]string(nil), (*u.RelatedSkills)...)
	}
	if u.SetAssignee {
		t.AssignedTo = u.AssignedTo
	}
}
