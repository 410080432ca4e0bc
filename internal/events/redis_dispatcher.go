package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPollTimeout   = 2 * time.Second
	redisHeartbeatTTL  = 30 * time.Second
	redisHeartbeatTick = 10 * time.Second
)

// redisDispatcher is a reliable-queue dispatcher on a Redis list. Publishers LPUSH;
// consumers BLMOVE the oldest entry into this instance's own processing list and
// LREM it once handled. Each instance registers itself in a consumer set and keeps
// a heartbeat key alive; processing lists of instances whose heartbeat has expired
// are moved back onto the queue.
type redisDispatcher struct {
	*handlerSet
	client     *redis.Client
	key        string
	consumerID string
	workers    int
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisDispatcher builds a dispatcher storing events under key.
func NewRedisDispatcher(client *redis.Client, key string, workers int, logger *zap.Logger) Dispatcher {
	return newRedisDispatcher(client, key, workers, logger)
}

func newRedisDispatcher(client *redis.Client, key string, workers int, logger *zap.Logger) *redisDispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &redisDispatcher{
		handlerSet: newHandlerSet(),
		client:     client,
		key:        key,
		consumerID: uuid.NewString(),
		workers:    workers,
		logger:     logger,
	}
}

func (d *redisDispatcher) consumersKey() string { return d.key + ":consumers" }

func (d *redisDispatcher) processingKey(id string) string { return d.key + ":processing:" + id }

func (d *redisDispatcher) heartbeatKey(id string) string { return d.key + ":consumer:" + id }

func (d *redisDispatcher) Subscribe(name EventName, handler EventHandler) {
	d.subscribe(name, handler)
}

func (d *redisDispatcher) Publish(ctx context.Context, event Event) error {
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	if err := d.client.LPush(ctx, d.key, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (d *redisDispatcher) Start(ctx context.Context) error {
	if err := d.register(ctx); err != nil {
		return err
	}
	if _, err := d.recoverOrphans(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.heartbeat(ctx)
	}()
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.consume(ctx)
		}()
	}
	return nil
}

func (d *redisDispatcher) register(ctx context.Context) error {
	pipe := d.client.TxPipeline()
	pipe.SAdd(ctx, d.consumersKey(), d.consumerID)
	pipe.Set(ctx, d.heartbeatKey(d.consumerID), time.Now().UTC().Format(time.RFC3339), redisHeartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis register consumer: %w", err)
	}
	return nil
}

func (d *redisDispatcher) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(redisHeartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.client.Expire(ctx, d.heartbeatKey(d.consumerID), redisHeartbeatTTL).Err(); err != nil && ctx.Err() == nil {
				d.logger.Warn("redis heartbeat failed", zap.Error(err))
			}
			if _, err := d.recoverOrphans(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("redis orphan recovery failed", zap.Error(err))
			}
		}
	}
}

// recoverOrphans moves the processing lists of consumers without a live heartbeat
// back to the consuming end of the queue and forgets those consumers.
func (d *redisDispatcher) recoverOrphans(ctx context.Context) (int, error) {
	ids, err := d.client.SMembers(ctx, d.consumersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis list consumers: %w", err)
	}
	total := 0
	for _, id := range ids {
		if id == d.consumerID {
			continue
		}
		alive, err := d.client.Exists(ctx, d.heartbeatKey(id)).Result()
		if err != nil {
			return total, fmt.Errorf("redis consumer heartbeat: %w", err)
		}
		if alive > 0 {
			continue
		}
		n, err := d.requeue(ctx, d.processingKey(id))
		total += n
		if err != nil {
			return total, err
		}
		if err := d.client.SRem(ctx, d.consumersKey(), id).Err(); err != nil {
			return total, fmt.Errorf("redis forget consumer: %w", err)
		}
		if n > 0 {
			d.logger.Info("requeued events of departed consumer", zap.String("consumer", id), zap.Int("count", n))
		}
	}
	return total, nil
}

func (d *redisDispatcher) requeue(ctx context.Context, processing string) (int, error) {
	count := 0
	for {
		err := d.client.LMove(ctx, processing, d.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("redis requeue: %w", err)
		}
		count++
	}
}

func (d *redisDispatcher) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		body, err := d.client.BLMove(ctx, d.key, d.processingKey(d.consumerID), "RIGHT", "LEFT", redisPollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("redis consume failed", zap.Error(err))
			sleepCtx(ctx, time.Second)
			continue
		}

		d.handle(ctx, body)
		if ctx.Err() != nil {
			// Left in the processing list; requeued once this consumer's heartbeat lapses.
			return
		}

		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := d.client.LRem(ackCtx, d.processingKey(d.consumerID), 1, body).Err(); err != nil {
			d.logger.Warn("redis ack failed", zap.Error(err))
		}
		cancel()
	}
}

func (d *redisDispatcher) handle(ctx context.Context, body string) {
	event, err := decodeEvent([]byte(body))
	if err != nil {
		d.logger.Error("dropping undecodable event", zap.Error(err))
		return
	}
	if err := d.deliver(ctx, event); err != nil {
		d.logger.Error("event handler failed",
			zap.String("event_id", event.ID),
			zap.String("event", string(event.Name)),
			zap.Error(err))
	}
}

func (d *redisDispatcher) Close() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	if cancel == nil {
		return nil
	}
	// Dropping the heartbeat lets any live instance recover what was left in flight.
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := d.client.Del(ctx, d.heartbeatKey(d.consumerID)).Err(); err != nil {
		return fmt.Errorf("redis deregister consumer: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
