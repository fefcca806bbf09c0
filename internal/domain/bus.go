package domain

import (
	"context"
)

// EventBus carries pipeline events between the API and the async worker.
// Channels back the Community tier and NATS the Pro tier.
// Every call is scoped to one tenant; see ValidTenantID.
type EventBus interface {
	// Publish sends payload to every subscriber of topic for the tenant.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers handler for topic until the subscription is cancelled
	// or ctx is done.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered event. A returned error is counted
// and logged by the bus; the event is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around an event payload.
type Message struct {
	ID        string
	TenantID  string
	Topic     string
	Payload   []byte
	Metadata  map[string]string // trace id, when the publisher had one
	Timestamp int64             // unix nanoseconds at publish
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" or "nats".
type EventBusConfig struct {
	Type string

	// ChannelBufferSize is the per-subscription queue depth of the channel bus.
	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueue is the queue group shared by worker subscriptions to uploaded
	// batches, so each upload is analyzed by one replica. Empty disables it.
	NATSQueue string
}

// Standard topic names for the analysis pipeline.
const (
	TopicBatchUploaded     = "mulewatch.batch.uploaded"
	TopicAnalysisCompleted = "mulewatch.analysis.completed"
	TopicAlert             = "mulewatch.alert"
)

// BatchUploadedEvent is published when a batch has been stored.
type BatchUploadedEvent struct {
	BatchID          string `json:"batchId"`
	TenantID         string `json:"tenantId"`
	TraceID          string `json:"traceId,omitempty"`
	TransactionCount int    `json:"transactionCount"`
}

// AnalysisCompletedEvent is published after an uploaded batch was analyzed.
type AnalysisCompletedEvent struct {
	BatchID  string           `json:"batchId"`
	TenantID string           `json:"tenantId"`
	TraceID  string           `json:"traceId,omitempty"`
	Summary  AnalysisSummary  `json:"summary"`
	Metadata AnalysisMetadata `json:"metadata"`
}

// AccountAlert is published once per Critical account of an analysis.
type AccountAlert struct {
	BatchID  string     `json:"batchId"`
	TenantID string     `json:"tenantId"`
	Risk     RiskRecord `json:"risk"`
}

// GlobalTenantID is the bus tenant used when no tenant-specific worker is configured.
// Events published there still carry their real tenant in the payload.
const GlobalTenantID = "_global"
