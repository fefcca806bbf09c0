// Package bus carries pipeline events between the API and the async worker.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
	"github.com/opensource-finance/mulewatch/internal/tracing"
)

// MetadataTraceID is the message metadata key carrying the publisher's trace id.
const MetadataTraceID = "trace_id"

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("event bus closed")

// New returns the bus selected by cfg.Type: "channel" or "nats".
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishEvent encodes a pipeline event as JSON and publishes it.
func PublishEvent(ctx context.Context, b domain.EventBus, tenantID, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", topic, err)
	}
	if err := b.Publish(ctx, tenantID, topic, payload); err != nil {
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues(topic).Inc()
	return nil
}

// DecodeEvent decodes the JSON payload of a message into v.
func DecodeEvent(msg *domain.Message, v any) error {
	if msg == nil || len(msg.Payload) == 0 {
		return fmt.Errorf("empty message")
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", msg.Topic, err)
	}
	return nil
}

func checkTenant(tenantID string) error {
	if !domain.ValidTenantID(tenantID) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTenant, tenantID)
	}
	return nil
}

// newMessage stamps an outgoing payload with an id, the publish time and
// the caller's trace id.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	md := make(map[string]string)
	if id := tracing.TraceID(ctx); id != "" {
		md[MetadataTraceID] = id
	}
	return &domain.Message{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}
