package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpDispatcher publishes events to a durable topic exchange and consumes them from
// a durable queue with manual acknowledgements.
type amqpDispatcher struct {
	*handlerSet
	conn     *amqp091.Connection
	pubMu    sync.Mutex
	pubCh    *amqp091.Channel
	exchange string
	queue    string
	workers  int
	logger   *zap.Logger

	mu      sync.Mutex
	subCh   *amqp091.Channel
	cancel  context.CancelFunc
	failure error
	wg      sync.WaitGroup
}

var errConsumerStopped = errors.New("amqp deliveries closed; consumer stopped")

// NewAMQPDispatcher dials the broker and declares the exchange, queue and binding.
func NewAMQPDispatcher(url, exchange, queue string, workers int, logger *zap.Logger) (Dispatcher, error) {
	if workers <= 0 {
		workers = 1
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp exchange: %w", err)
	}
	q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp queue: %w", err)
	}
	for _, key := range []string{"ticket.*", "user.*"} {
		if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			conn.Close()
			return nil, fmt.Errorf("amqp bind %s: %w", key, err)
		}
	}
	d := &amqpDispatcher{
		handlerSet: newHandlerSet(),
		conn:       conn,
		pubCh:      ch,
		exchange:   exchange,
		queue:      q.Name,
		workers:    workers,
		logger:     logger,
	}
	go d.watchConnection(conn.NotifyClose(make(chan *amqp091.Error, 1)))
	return d, nil
}

// watchConnection records an unexpected broker disconnect. A clean Close
// closes the channel without an error.
func (d *amqpDispatcher) watchConnection(closed <-chan *amqp091.Error) {
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	d.logger.Error("amqp connection lost",
		zap.Int("code", amqpErr.Code),
		zap.String("reason", amqpErr.Reason))
	d.markFailed(fmt.Errorf("amqp connection lost: %w", amqpErr))
}

func (d *amqpDispatcher) markFailed(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failure == nil {
		d.failure = err
	}
}

// Enabled reports true; an AMQP dispatcher always has a broker to check.
func (d *amqpDispatcher) Enabled() bool { return true }

// Ping fails once the broker connection or the consumer has gone away.
func (d *amqpDispatcher) Ping(context.Context) error {
	d.mu.Lock()
	failure := d.failure
	d.mu.Unlock()
	if failure != nil {
		return failure
	}
	if d.conn != nil && d.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (d *amqpDispatcher) Subscribe(name EventName, handler EventHandler) {
	d.subscribe(name, handler)
}

func (d *amqpDispatcher) Publish(ctx context.Context, event Event) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	return d.pubCh.PublishWithContext(ctx, d.exchange, routingKey(event.Name), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
}

func (d *amqpDispatcher) Start(ctx context.Context) error {
	ch, err := d.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.Qos(d.workers, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(d.queue, "ticket-triage-"+uuid.NewString(), false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("amqp consume: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.subCh = ch
	d.cancel = cancel
	d.mu.Unlock()

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.consume(ctx, deliveries)
		}()
	}
	return nil
}

func (d *amqpDispatcher) consume(ctx context.Context, deliveries <-chan amqp091.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				if ctx.Err() == nil {
					d.logger.Error("amqp deliveries closed; consumer stopped", zap.String("queue", d.queue))
					d.markFailed(errConsumerStopped)
				}
				return
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *amqpDispatcher) handle(ctx context.Context, msg amqp091.Delivery) {
	event, err := decodeEvent(msg.Body)
	if err != nil {
		d.logger.Error("dropping undecodable event", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}
	if err := d.deliver(ctx, event); err != nil {
		d.logger.Error("event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event", string(event.Name)),
			zap.Error(err))
	}
	if ctx.Err() != nil {
		// Shutting down mid-run: let the broker redeliver.
		_ = msg.Nack(false, true)
		return
	}
	if err := msg.Ack(false); err != nil {
		d.logger.Warn("amqp ack failed", zap.Error(err))
	}
}

func (d *amqpDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	subCh := d.subCh
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if subCh != nil {
		if err := subCh.Close(); err != nil {
			d.logger.Warn("close consumer channel", zap.Error(err))
		}
	}
	d.pubMu.Lock()
	if err := d.pubCh.Close(); err != nil {
		d.logger.Warn("close publisher channel", zap.Error(err))
	}
	d.pubMu.Unlock()
	return d.conn.Close()
}

// routingKey maps "ticket/created" to "ticket.created".
func routingKey(name EventName) string {
	return strings.ReplaceAll(string(name), "/", ".")
}
