package events

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func encodedTicketEvent(t *testing.T, ticketID string) string {
	t.Helper()
	ev, err := NewTicketCreated(TicketCreatedData{TicketID: ticketID})
	if err != nil {
		t.Fatal(err)
	}
	body, err := encodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestRedisDispatcher_deliversAndAcks(t *testing.T) {
	_, client := newTestRedis(t)
	d := newRedisDispatcher(client, "q", 1, zap.NewNop())
	received := make(chan string, 1)
	d.Subscribe(EventTicketCreated, func(_ context.Context, e Event) error {
		data, err := e.TicketCreated()
		if err != nil {
			return err
		}
		received <- data.TicketID
		return nil
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ev, _ := NewTicketCreated(TicketCreatedData{TicketID: "t-1"})
	if err := d.Publish(ctx, ev); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case id := <-received:
		if id != "t-1" {
			t.Errorf("received %q, want t-1", id)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := client.LLen(ctx, d.processingKey(d.consumerID)).Result(); n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, _ := client.LLen(ctx, d.processingKey(d.consumerID)).Result(); n != 0 {
		t.Errorf("processing list length = %d after ack, want 0", n)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n, _ := client.Exists(ctx, d.heartbeatKey(d.consumerID)).Result(); n != 0 {
		t.Error("heartbeat still present after Close")
	}
}

func TestRedisDispatcher_recoversOnlyDepartedConsumers(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	live := newRedisDispatcher(client, "q", 1, zap.NewNop())
	live.consumerID = "live"
	if err := live.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	client.LPush(ctx, live.processingKey("live"), encodedTicketEvent(t, "in-flight"))

	client.SAdd(ctx, live.consumersKey(), "dead")
	client.LPush(ctx, live.processingKey("dead"), encodedTicketEvent(t, "orphaned"))

	starting := newRedisDispatcher(client, "q", 1, zap.NewNop())
	if err := starting.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	n, err := starting.recoverOrphans(ctx)
	if err != nil || n != 1 {
		t.Fatalf("recoverOrphans() = %d, %v; want 1", n, err)
	}

	if got, _ := client.LLen(ctx, "q").Result(); got != 1 {
		t.Errorf("queue length = %d, want 1", got)
	}
	if got, _ := client.LLen(ctx, live.processingKey("live")).Result(); got != 1 {
		t.Errorf("live consumer lost its in-flight entry: length %d", got)
	}
	members, _ := client.SMembers(ctx, live.consumersKey()).Result()
	for _, m := range members {
		if m == "dead" {
			t.Errorf("departed consumer still registered: %v", members)
		}
	}
}

func TestRedisDispatcher_expiredHeartbeatIsRecovered(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	crashed := newRedisDispatcher(client, "q", 1, zap.NewNop())
	if err := crashed.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	client.LPush(ctx, crashed.processingKey(crashed.consumerID), encodedTicketEvent(t, "t-1"))

	other := newRedisDispatcher(client, "q", 1, zap.NewNop())
	if n, _ := other.recoverOrphans(ctx); n != 0 {
		t.Fatalf("recoverOrphans() = %d while heartbeat alive, want 0", n)
	}

	mr.FastForward(redisHeartbeatTTL + time.Second)
	if n, err := other.recoverOrphans(ctx); err != nil || n != 1 {
		t.Errorf("recoverOrphans() after expiry = %d, %v; want 1", n, err)
	}
}
