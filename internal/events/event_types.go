package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventName enumerates supported event identifiers.
type EventName string

const (
	EventTicketCreated EventName = "ticket/created"
	EventUserSignup    EventName = "user/signup"
)

// Event is the envelope carried by every queue transport.
type Event struct {
	ID        string          `json:"id"`
	Name      EventName       `json:"name"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// TicketCreatedData is the ticket/created payload. Only TicketID is required by
// consumers; the rest is informational.
type TicketCreatedData struct {
	TicketID    string `json:"ticketId"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedBy   string `json:"createdBy,omitempty"`
}

// NewTicketCreated builds a ticket/created event with a fresh id.
func NewTicketCreated(data TicketCreatedData) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode ticket/created: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Name:      EventTicketCreated,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// TicketCreated decodes the payload of a ticket/created event.
func (e Event) TicketCreated() (TicketCreatedData, error) {
	var data TicketCreatedData
	if e.Name != EventTicketCreated {
		return data, fmt.Errorf("event %s is not %s", e.Name, EventTicketCreated)
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return data, fmt.Errorf("decode ticket/created: %w", err)
	}
	return data, nil
}

// UserSignupData is the user/signup payload.
type UserSignupData struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// NewUserSignup builds a user/signup event with a fresh id.
func NewUserSignup(data UserSignupData) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode user/signup: %w", err)
	}
	return Event{
		ID:        uuid.NewString(),
		Name:      EventUserSignup,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UserSignup decodes the payload of a user/signup event.
func (e Event) UserSignup() (UserSignupData, error) {
	var data UserSignupData
	if e.Name != EventUserSignup {
		return data, fmt.Errorf("event %s is not %s", e.Name, EventUserSignup)
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return data, fmt.Errorf("decode user/signup: %w", err)
	}
	return data, nil
}

func encodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(body []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Name == "" {
		return Event{}, fmt.Errorf("decode event: missing name")
	}
	return e, nil
}
