package bus

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// collector records delivered messages on a channel so tests wait on
// delivery rather than sleep.
type collector chan *domain.Message

func (c collector) handle(ctx context.Context, msg *domain.Message) error {
	c <- msg
	return nil
}

func (c collector) next(t *testing.T) *domain.Message {
	t.Helper()
	select {
	case msg := <-c:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

// quiet asserts nothing arrives for a short while.
func (c collector) quiet(t *testing.T) {
	t.Helper()
	select {
	case msg := <-c:
		t.Errorf("unexpected delivery: %s on %s", msg.Payload, msg.Topic)
	case <-time.After(50 * time.Millisecond):
	}
}

func noop(ctx context.Context, msg *domain.Message) error { return nil }

func TestChannelBus(t *testing.T) {
	b := NewChannelBus(100)
	defer b.Close()

	ctx := context.Background()
	const tenantID = "tenant-001"

	t.Run("Delivery", func(t *testing.T) {
		got := make(collector, 1)
		if _, err := b.Subscribe(ctx, tenantID, "delivery", got.handle); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if err := b.Publish(ctx, tenantID, "delivery", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := got.next(t)
		if string(msg.Payload) != "hello" || msg.TenantID != tenantID || msg.Topic != "delivery" {
			t.Errorf("unexpected message %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Errorf("message should be stamped, got id=%q ts=%d", msg.ID, msg.Timestamp)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		mine, theirs := make(collector, 1), make(collector, 1)
		b.Subscribe(ctx, "tenant-001", "isolation", mine.handle)
		b.Subscribe(ctx, "tenant-002", "isolation", theirs.handle)

		b.Publish(ctx, "tenant-001", "isolation", []byte("m"))

		mine.next(t)
		theirs.quiet(t)
	})

	t.Run("FanOut", func(t *testing.T) {
		first, second := make(collector, 1), make(collector, 1)
		b.Subscribe(ctx, tenantID, "fanout", first.handle)
		b.Subscribe(ctx, tenantID, "fanout", second.handle)

		b.Publish(ctx, tenantID, "fanout", []byte("all"))

		first.next(t)
		second.next(t)
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		got := make(collector, 2)
		sub, err := b.Subscribe(ctx, tenantID, "unsub", got.handle)
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if sub.Topic() != "unsub" {
			t.Errorf("expected topic unsub, got %s", sub.Topic())
		}

		b.Publish(ctx, tenantID, "unsub", []byte("before"))
		got.next(t)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		b.Publish(ctx, tenantID, "unsub", []byte("after"))
		got.quiet(t)

		b.mu.RLock()
		remaining := len(b.queues[route{tenantID, "unsub"}])
		b.mu.RUnlock()
		if remaining != 0 {
			t.Errorf("unsubscribed queue still routed: %d", remaining)
		}
	})

	t.Run("SubscriptionContext", func(t *testing.T) {
		got := make(collector, 1)
		subCtx, cancel := context.WithCancel(ctx)
		b.Subscribe(subCtx, tenantID, "ctx", got.handle)
		cancel()

		time.Sleep(10 * time.Millisecond)
		b.Publish(ctx, tenantID, "ctx", []byte("late"))
		got.quiet(t)
	})

	t.Run("RejectsInvalidTenantID", func(t *testing.T) {
		ids := []string{"", "tenant 1", "tenant.1", "tenant>", strings.Repeat("a", domain.MaxTenantIDLength+1)}
		for _, id := range ids {
			if err := b.Publish(ctx, id, "topic", []byte("data")); !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("Publish(%q): expected ErrInvalidTenant, got %v", id, err)
			}
			if _, err := b.Subscribe(ctx, id, "topic", noop); !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("Subscribe(%q): expected ErrInvalidTenant, got %v", id, err)
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := b.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	b.Subscribe(ctx, "tenant-001", "close", noop)
	if err := b.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := b.Publish(ctx, "tenant-001", "close", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Publish, got %v", err)
	}
	if _, err := b.Subscribe(ctx, "tenant-001", "close", noop); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := b.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

// Publishing while another goroutine closes the bus must never panic.
func TestChannelBusCloseDuringPublish(t *testing.T) {
	b := NewChannelBus(1)
	ctx := context.Background()
	b.Subscribe(ctx, "tenant-001", "race", noop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = b.Publish(ctx, "tenant-001", "race", []byte("x"))
		}
	}()
	b.Close()
	<-done
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	b := NewChannelBus(1)
	defer b.Close()
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	_, err := b.Subscribe(ctx, "tenant-001", "slow", func(ctx context.Context, msg *domain.Message) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// One event in the handler and one queued; the rest cannot fit.
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, "tenant-001", "slow", []byte("msg")); err != nil {
			t.Fatalf("publish should not block or fail on a full queue: %v", err)
		}
	}
	if b.dropped.Load() < 1 {
		t.Errorf("expected at least one dropped event, got %d", b.dropped.Load())
	}
}

func TestChannelBusHandlerErrorKeepsDraining(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var calls atomic.Int32
	got := make(collector, 2)
	b.Subscribe(ctx, "tenant-001", "errs", func(ctx context.Context, msg *domain.Message) error {
		got <- msg
		if calls.Add(1) == 1 {
			return errors.New("first delivery fails")
		}
		return nil
	})

	b.Publish(ctx, "tenant-001", "errs", []byte("1"))
	b.Publish(ctx, "tenant-001", "errs", []byte("2"))
	got.next(t)
	got.next(t)
}

func TestChannelBusOrderAndVolume(t *testing.T) {
	b := NewChannelBus(1000)
	defer b.Close()
	ctx := context.Background()

	const n = 100
	got := make(collector, n)
	b.Subscribe(ctx, "tenant-load", "load", got.handle)

	for i := 0; i < n; i++ {
		b.Publish(ctx, "tenant-load", "load", []byte{byte(i)})
	}
	for i := 0; i < n; i++ {
		if msg := got.next(t); msg.Payload[0] != byte(i) {
			t.Fatalf("expected message %d in order, got %d", i, msg.Payload[0])
		}
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()
	if cb, ok := b.(*ChannelBus); !ok || cb.depth != 50 {
		t.Errorf("expected ChannelBus with depth 50, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestPublishEvent(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()
	const tenantID = "tenant-events"

	got := make(chan domain.BatchUploadedEvent, 1)
	_, err := b.Subscribe(ctx, tenantID, domain.TopicBatchUploaded, func(ctx context.Context, msg *domain.Message) error {
		var event domain.BatchUploadedEvent
		if err := DecodeEvent(msg, &event); err != nil {
			return err
		}
		got <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	sent := domain.BatchUploadedEvent{BatchID: "batch-1", TenantID: tenantID, TransactionCount: 3}
	if err := PublishEvent(ctx, b, tenantID, domain.TopicBatchUploaded, sent); err != nil {
		t.Fatalf("PublishEvent failed: %v", err)
	}

	select {
	case event := <-got:
		if event != sent {
			t.Errorf("expected %+v, got %+v", sent, event)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestDecodeEventErrors(t *testing.T) {
	var event domain.AccountAlert

	if err := DecodeEvent(nil, &event); err == nil {
		t.Error("expected error for nil message")
	}
	if err := DecodeEvent(&domain.Message{Topic: "x", Payload: []byte("{not json")}, &event); err == nil {
		t.Error("expected error for malformed payload")
	}
}
