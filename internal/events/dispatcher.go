package events

import (
	"context"
	"errors"
	"sync"
)

// EventHandler handles a delivered event.
type EventHandler func(context.Context, Event) error

// Dispatcher hands events from publishers to subscribed handlers. Delivery is
// asynchronous: Publish returns once the event is queued, and handlers run on
// consumer goroutines launched by Start. Transports other than memory deliver
// at least once, so handlers must tolerate duplicates.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(name EventName, handler EventHandler)
	Start(ctx context.Context) error
	Close() error
}

// ErrDispatcherClosed is returned by Publish after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type handlerSet struct {
	mu        sync.RWMutex
	listeners map[EventName][]EventHandler
}

func newHandlerSet() *handlerSet {
	return &handlerSet{listeners: make(map[EventName][]EventHandler)}
}

func (h *handlerSet) subscribe(name EventName, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[name] = append(h.listeners[name], handler)
}

// deliver invokes every handler for the event and joins their errors.
func (h *handlerSet) deliver(ctx context.Context, event Event) error {
	h.mu.RLock()
	handlers := append([]EventHandler{}, h.listeners[event.Name]...)
	h.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
