package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
)

// NATS header names for message metadata. The payload travels as the raw
// message body.
const (
	headerMessageID = "Mulewatch-Message-Id"
	headerTenantID  = "Mulewatch-Tenant-Id"
	headerTraceID   = "Mulewatch-Trace-Id"
	headerPublished = "Mulewatch-Published"
)

// NATSBus is the Pro tier bus. Subjects are "<topic>.<tenant>", so tenants
// never share a subject.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus    *NATSBus
	topic  string
	sub    *nats.Subscription
	cancel context.CancelFunc
}

// NewNATSBus connects to cfg.NATSUrl. Connection attempts keep retrying in
// the background when the server is not up yet.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}

	opts := []nats.Option{
		nats.Name("mulewatch"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(time.Duration(cfg.NATSReconnectWait) * time.Second),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(cfg.NATSUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSBus{
		conn:  conn,
		queue: cfg.NATSQueue,
		subs:  make(map[*natsSubscription]struct{}),
	}, nil
}

func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	m := toNATS(subjectFor(tenantID, topic), newMessage(ctx, tenantID, topic, payload))
	if err := b.conn.PublishMsg(m); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe attaches handler to the tenant's subject. Uploaded batches are
// consumed through the configured queue group so each one is analyzed once
// across replicas; every other topic fans out.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	sctx, cancel := context.WithCancel(ctx)
	cb := func(m *nats.Msg) {
		msg := fromNATS(m, topic)
		if err := handler(sctx, msg); err != nil {
			metrics.EventHandlerErrorsTotal.WithLabelValues(topic).Inc()
			slog.Debug("event handler failed",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	subject := subjectFor(tenantID, topic)
	var (
		ns  *nats.Subscription
		err error
	)
	if sharedWork(topic) && b.queue != "" {
		ns, err = b.conn.QueueSubscribe(subject, b.queue, cb)
	} else {
		ns, err = b.conn.Subscribe(subject, cb)
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	s := &natsSubscription{bus: b, topic: topic, sub: ns, cancel: cancel}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for s := range b.subs {
		s.cancel()
	}
	b.subs = make(map[*natsSubscription]struct{})
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

func (s *natsSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	if s.bus.conn.IsClosed() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }

func subjectFor(tenantID, topic string) string {
	return topic + "." + tenantID
}

func sharedWork(topic string) bool {
	return topic == domain.TopicBatchUploaded
}

func toNATS(subject string, msg *domain.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Data = msg.Payload
	m.Header.Set(headerMessageID, msg.ID)
	m.Header.Set(headerTenantID, msg.TenantID)
	m.Header.Set(headerPublished, strconv.FormatInt(msg.Timestamp, 10))
	if id := msg.Metadata[MetadataTraceID]; id != "" {
		m.Header.Set(headerTraceID, id)
	}
	return m
}

func fromNATS(m *nats.Msg, topic string) *domain.Message {
	msg := &domain.Message{
		Topic:    topic,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}
	if m.Header == nil {
		return msg
	}
	msg.ID = m.Header.Get(headerMessageID)
	msg.TenantID = m.Header.Get(headerTenantID)
	msg.Timestamp, _ = strconv.ParseInt(m.Header.Get(headerPublished), 10, 64)
	if id := m.Header.Get(headerTraceID); id != "" {
		msg.Metadata[MetadataTraceID] = id
	}
	return msg
}
