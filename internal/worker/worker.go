// Package worker analyzes uploaded batches asynchronously for the Pro tier.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/mulewatch/internal/bus"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
	"github.com/opensource-finance/mulewatch/internal/scoring"
	"github.com/opensource-finance/mulewatch/internal/tracing"
)

var (
	// ErrBatchNotFound is returned when an uploaded event names a batch that is
	// neither cached nor stored.
	ErrBatchNotFound = errors.New("batch not found")

	// ErrStopped is returned for events delivered after Stop began.
	ErrStopped = errors.New("worker stopped")
)

// Runner runs the analysis pipeline over one batch.
type Runner interface {
	Run(ctx context.Context, batch *domain.Batch) (*domain.Analysis, error)
}

// Worker consumes batch uploaded events from the EventBus and publishes results.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	runner Runner

	batchTTL  time.Duration
	alertTier domain.RiskTier

	subscriptions []domain.Subscription

	// mu orders in-flight registration against Stop so wg.Add never races wg.Wait.
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// BatchTTL is how long a batch loaded from the repository stays cached.
	BatchTTL time.Duration

	// AlertTier is the least severe tier that produces an account alert.
	AlertTier domain.RiskTier
}

// NewWorker creates a new async worker. repo and cache may be nil.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, cache domain.Cache, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		repo:      repo,
		cache:     cache,
		runner:    runner,
		alertTier: domain.TierCritical,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.BatchTTL > 0 {
		w.batchTTL = cfg.BatchTTL
	}
	if cfg.AlertTier != "" {
		w.alertTier = cfg.AlertTier
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker subscribes with domain.GlobalTenantID, which publishers
// use when no tenant-specific worker exists.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.GlobalTenantID, domain.TopicBatchUploaded, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchUploaded, func(ctx context.Context, msg *domain.Message) error {
		return w.processBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicBatchUploaded,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processBatch(ctx, msg.TenantID, msg)
}

// processBatch loads an uploaded batch, analyzes it and publishes the outcome.
func (w *Worker) processBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	if !w.begin() {
		slog.Debug("dropping batch event after stop", "message_id", msg.ID)
		return ErrStopped
	}
	defer w.wg.Done()

	start := time.Now()

	var event domain.BatchUploadedEvent
	if err := bus.DecodeEvent(msg, &event); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use event tenant if provided
	if event.TenantID != "" {
		tenantID = event.TenantID
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.Metadata[bus.MetadataTraceID]
	}
	if traceID == "" {
		traceID = msg.ID
	}

	ctx, span := tracing.StartSpan(ctx, "worker.analyze",
		tracing.TenantID(tenantID),
		tracing.BatchID(event.BatchID),
	)
	defer span.End()

	slog.Debug("processing batch",
		"batch_id", event.BatchID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Load the uploaded records
	record, err := w.loadBatch(ctx, tenantID, event.BatchID)
	if err != nil {
		slog.Error("failed to load batch",
			"batch_id", event.BatchID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	// 2. Analyze
	result, err := w.runner.Run(ctx, domain.NormalizeBatch(record.Records))
	if err != nil {
		slog.Error("batch analysis failed",
			"batch_id", event.BatchID,
			"error", err,
		)
		return err
	}
	result.BatchID = record.ID
	result.TenantID = tenantID
	if result.Metadata.TraceID == "" {
		result.Metadata.TraceID = traceID
	}

	// 3. Publish completion
	completed := domain.AnalysisCompletedEvent{
		BatchID:  record.ID,
		TenantID: tenantID,
		TraceID:  traceID,
		Summary:  result.Summary,
		Metadata: result.Metadata,
	}
	if err := bus.PublishEvent(ctx, w.bus, tenantID, domain.TopicAnalysisCompleted, completed); err != nil {
		slog.Error("failed to publish analysis",
			"batch_id", record.ID,
			"error", err,
		)
	}

	// 4. One alert per account at or above the alert tier
	alerts := scoring.AtOrAbove(result.Risks, w.alertTier)
	for _, risk := range alerts {
		alert := domain.AccountAlert{BatchID: record.ID, TenantID: tenantID, Risk: risk}
		if err := bus.PublishEvent(ctx, w.bus, tenantID, domain.TopicAlert, alert); err != nil {
			slog.Error("failed to publish alert",
				"batch_id", record.ID,
				"account", risk.Account,
				"error", err,
			)
			continue
		}
		metrics.AlertsPublishedTotal.Inc()
	}

	slog.Info("batch analyzed",
		"batch_id", record.ID,
		"tenant_id", tenantID,
		"transactions", result.Summary.Transactions,
		"matches", len(result.Patterns),
		"alerts", len(alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// loadBatch reads a batch from the cache first, then the repository.
// A repository hit repopulates the cache.
func (w *Worker) loadBatch(ctx context.Context, tenantID, batchID string) (*domain.BatchRecord, error) {
	if w.cache != nil {
		record, err := w.cache.GetBatch(ctx, tenantID, batchID)
		if err != nil {
			slog.Warn("batch cache read failed",
				"batch_id", batchID,
				"error", err,
			)
		}
		if record != nil {
			return record, nil
		}
	}

	if w.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}

	record, err := w.repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBatchNotFound, batchID, err)
	}

	if w.cache != nil && w.batchTTL > 0 {
		_ = w.cache.SetBatch(ctx, tenantID, record, w.batchTTL)
	}
	return record, nil
}

// begin registers one in-flight event. It reports false once Stop has begun.
func (w *Worker) begin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return false
	}
	w.wg.Add(1)
	return true
}

// Stop gracefully stops all workers and waits for in-flight batches.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	w.mu.Unlock()

	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
