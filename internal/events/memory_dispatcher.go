package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// memoryDispatcher queues events on a buffered channel drained by a fixed worker pool.
type memoryDispatcher struct {
	*handlerSet
	queue   chan Event
	workers int
	logger  *zap.Logger

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewInMemoryDispatcher creates a single-process dispatcher.
func NewInMemoryDispatcher(buffer, workers int, logger *zap.Logger) Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &memoryDispatcher{
		handlerSet: newHandlerSet(),
		queue:      make(chan Event, buffer),
		workers:    workers,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (d *memoryDispatcher) Subscribe(name EventName, handler EventHandler) {
	d.subscribe(name, handler)
}

// Publish blocks while the buffer is full, until ctx is done or the dispatcher closes.
func (d *memoryDispatcher) Publish(ctx context.Context, event Event) error {
	select {
	case <-d.done:
		return ErrDispatcherClosed
	default:
	}
	select {
	case d.queue <- event:
		return nil
	case <-d.done:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *memoryDispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-d.done:
					return
				case event := <-d.queue:
					if err := d.deliver(ctx, event); err != nil {
						d.logger.Error("event handler failed",
							zap.String("event_id", event.ID),
							zap.String("event", string(event.Name)),
							zap.Error(err))
					}
				}
			}
		}()
	}
	return nil
}

func (d *memoryDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}
