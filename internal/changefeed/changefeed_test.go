package changefeed

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func TestLocalDeliversToEverySubscriber(t *testing.T) {
	feed := NewLocal(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, _ := feed.Subscribe(ctx)
	b, _ := feed.Subscribe(ctx)
	if err := feed.Publish(ctx, Event{Op: "reading.create", ShiftIDs: []string{"s1"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan Event{a, b} {
		select {
		case ev := <-ch:
			if !ev.TouchesShift("s1") || ev.TouchesShift("s2") {
				t.Fatalf("unexpected shift match on %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive event")
		}
	}
}

func TestLocalClosesOnCancel(t *testing.T) {
	feed := NewLocal(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := feed.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
	if err := feed.Publish(context.Background(), Event{Op: "noop"}); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("PUMPLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set PUMPLEDGER_TEST_REDIS_ADDR to run redis integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	feed := NewRedis(client, "pumpledger:test:"+time.Now().Format("150405.000000"), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := feed.Subscribe(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := feed.Publish(ctx, Event{Op: "bill.create", ShiftIDs: []string{"s9"}}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Op != "bill.create" || !ev.TouchesShift("s9") {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}
}
