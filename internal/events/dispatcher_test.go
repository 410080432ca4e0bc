package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestInMemoryDispatcher_deliversToSubscribers(t *testing.T) {
	d := NewInMemoryDispatcher(4, 2, zap.NewNop())
	received := make(chan TicketCreatedData, 2)
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		data, err := e.TicketCreated()
		if err != nil {
			return err
		}
		received <- data
		return nil
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer d.Close()

	event, err := NewTicketCreated(TicketCreatedData{TicketID: "t-1", Title: "Login broken"})
	if err != nil {
		t.Fatalf("NewTicketCreated() error = %v", err)
	}
	if err := d.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case data := <-received:
		if data.TicketID != "t-1" {
			t.Errorf("TicketID = %q, want t-1", data.TicketID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestInMemoryDispatcher_handlerErrorDoesNotStopDelivery(t *testing.T) {
	d := NewInMemoryDispatcher(4, 1, zap.NewNop())
	var mu sync.Mutex
	calls := 0
	done := make(chan struct{}, 2)
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		done <- struct{}{}
		return errors.New("run failed")
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	for i := 0; i < 2; i++ {
		ev, _ := NewTicketCreated(TicketCreatedData{TicketID: "t"})
		if err := d.Publish(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestInMemoryDispatcher_publishAfterClose(t *testing.T) {
	d := NewInMemoryDispatcher(1, 1, zap.NewNop())
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	ev, _ := NewTicketCreated(TicketCreatedData{TicketID: "t"})
	if err := d.Publish(context.Background(), ev); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("Publish() error = %v, want ErrDispatcherClosed", err)
	}
}

func TestEventEnvelope_roundTrip(t *testing.T) {
	ev, err := NewTicketCreated(TicketCreatedData{TicketID: "abc", CreatedBy: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	body, err := encodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := decodeEvent(body)
	if err != nil {
		t.Fatalf("decodeEvent() error = %v", err)
	}
	data, err := decoded.TicketCreated()
	if err != nil {
		t.Fatalf("TicketCreated() error = %v", err)
	}
	if data.TicketID != "abc" || data.CreatedBy != "u1" {
		t.Errorf("data = %+v", data)
	}
	if routingKey(decoded.Name) != "ticket.created" {
		t.Errorf("routingKey = %q", routingKey(decoded.Name))
	}
}

func TestUserSignupEvent(t *testing.T) {
	ev, err := NewUserSignup(UserSignupData{UserID: "u1", Email: "new@example.com", Role: "user"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := ev.UserSignup()
	if err != nil || data.Email != "new@example.com" || data.UserID != "u1" {
		t.Errorf("UserSignup() = %+v, %v", data, err)
	}
	if _, err := ev.TicketCreated(); err == nil {
		t.Error("TicketCreated() accepted a user/signup event")
	}
	if routingKey(ev.Name) != "user.signup" {
		t.Errorf("routingKey = %q", routingKey(ev.Name))
	}
}

func TestDecodeEvent_rejectsGarbage(t *testing.T) {
	for _, body := range []string{"not json", `{"id":"x"}`} {
		if _, err := decodeEvent([]byte(body)); err == nil {
			t.Errorf("decodeEvent(%q) error = nil", body)
		}
	}
}
