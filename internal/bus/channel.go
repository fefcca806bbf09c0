package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
)

const defaultQueueDepth = 1000

type route struct {
	tenantID string
	topic    string
}

// ChannelBus is the in-process Community tier bus. Every subscription owns
// a bounded queue drained by one goroutine; a full queue drops the event
// rather than stalling the publisher.
type ChannelBus struct {
	mu      sync.RWMutex
	depth   int
	queues  map[route][]*queue
	closed  bool
	dropped atomic.Int64
}

type queue struct {
	bus     *ChannelBus
	route   route
	handler domain.MessageHandler
	events  chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus returns a bus whose subscription queues hold depth events.
func NewChannelBus(depth int) *ChannelBus {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &ChannelBus{
		depth:  depth,
		queues: make(map[route][]*queue),
	}
}

func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	msg := newMessage(ctx, tenantID, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, q := range b.queues[route{tenantID, topic}] {
		select {
		case q.events <- msg:
		default:
			b.dropped.Add(1)
			metrics.EventsDroppedTotal.WithLabelValues(topic).Inc()
			slog.Warn("event queue full, dropping event",
				"tenant_id", tenantID,
				"topic", topic,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	qctx, cancel := context.WithCancel(ctx)
	q := &queue{
		bus:     b,
		route:   route{tenantID, topic},
		handler: handler,
		events:  make(chan *domain.Message, b.depth),
		ctx:     qctx,
		cancel:  cancel,
	}
	b.queues[q.route] = append(b.queues[q.route], q)
	go q.drain()
	return q, nil
}

func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Queued events that were not yet handled
// are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, qs := range b.queues {
		for _, q := range qs {
			q.cancel()
		}
	}
	b.queues = nil
	return nil
}

// detach removes q from the routing table.
func (b *ChannelBus) detach(q *queue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	qs := b.queues[q.route]
	for i, other := range qs {
		if other == q {
			qs = append(qs[:i:i], qs[i+1:]...)
			break
		}
	}
	if len(qs) == 0 {
		delete(b.queues, q.route)
	} else {
		b.queues[q.route] = qs
	}
}

// drain delivers events in order until the subscription ends, then drops
// the queue from the routing table.
func (q *queue) drain() {
	for {
		select {
		case <-q.ctx.Done():
			q.bus.detach(q)
			return
		case msg := <-q.events:
			if err := q.handler(q.ctx, msg); err != nil {
				metrics.EventHandlerErrorsTotal.WithLabelValues(q.route.topic).Inc()
				slog.Debug("event handler failed",
					"tenant_id", q.route.tenantID,
					"topic", q.route.topic,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Unsubscribe detaches synchronously so no publish after it returns can
// reach the queue.
func (q *queue) Unsubscribe() error {
	q.cancel()
	q.bus.detach(q)
	return nil
}

func (q *queue) Topic() string { return q.route.topic }
