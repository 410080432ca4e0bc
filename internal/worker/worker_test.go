package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-triage/internal/events"
)

type fakeRunner struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *fakeRunner) Run(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *fakeRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestTriageWorker_runsWorkflowPerTrigger(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(8, 1, zap.NewNop())
	runner := &fakeRunner{}
	StartTriageWorker(dispatcher, runner, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer dispatcher.Close()

	event, err := events.NewTicketCreated(events.TicketCreatedData{TicketID: "t-1"})
	if err != nil {
		t.Fatalf("NewTicketCreated() error = %v", err)
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.seen()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := runner.seen(); len(got) != 1 || got[0] != "t-1" {
		t.Fatalf("runs = %v, want [t-1]", got)
	}
}

func TestTriageHandler_errors(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	handler := TriageHandler(runner, zap.NewNop())

	if err := handler(context.Background(), events.Event{Name: "user/signup"}); err == nil {
		t.Error("handler accepted a foreign event")
	}
	event, _ := events.NewTicketCreated(events.TicketCreatedData{TicketID: "t-2"})
	if err := handler(context.Background(), event); err == nil {
		t.Error("handler swallowed the run error")
	}
}

type fakeRepublisher struct {
	mu    sync.Mutex
	calls int
	grace time.Duration
	err   error
}

func (f *fakeRepublisher) RepublishStale(_ context.Context, olderThan time.Duration, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.grace = olderThan
	return 1, f.err
}

func (f *fakeRepublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestReconciler_Run(t *testing.T) {
	repub := &fakeRepublisher{}
	r := NewReconciler(repub, 5*time.Millisecond, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for repub.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if repub.count() < 2 {
		t.Fatalf("calls = %d, want >= 2", repub.count())
	}
	if repub.grace != time.Minute {
		t.Errorf("grace = %v, want 1m", repub.grace)
	}
}

func TestReconciler_disabled(t *testing.T) {
	repub := &fakeRepublisher{}
	NewReconciler(repub, 0, time.Minute, zap.NewNop()).Run(context.Background())
	if repub.count() != 0 {
		t.Errorf("calls = %d, want 0", repub.count())
	}
}

type fakeWelcomer struct {
	mu     sync.Mutex
	emails []string
}

func (w *fakeWelcomer) SendWelcome(_ context.Context, email string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emails = append(w.emails, email)
	return nil
}

func (w *fakeWelcomer) sent() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.emails...)
}

func TestSignupWorker_sendsWelcome(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher(8, 1, zap.NewNop())
	welcomer := &fakeWelcomer{}
	runner := &fakeRunner{}
	StartSignupWorker(dispatcher, welcomer, zap.NewNop())
	StartTriageWorker(dispatcher, runner, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer dispatcher.Close()

	event, err := events.NewUserSignup(events.UserSignupData{UserID: "u-1", Email: "new@example.com", Role: "user"})
	if err != nil {
		t.Fatalf("NewUserSignup() error = %v", err)
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(welcomer.sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := welcomer.sent(); len(got) != 1 || got[0] != "new@example.com" {
		t.Fatalf("welcomes = %v, want [new@example.com]", got)
	}
	if got := runner.seen(); len(got) != 0 {
		t.Errorf("signup triggered triage runs: %v", got)
	}
}
