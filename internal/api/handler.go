package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/mulewatch/internal/analysis"
	"github.com/opensource-finance/mulewatch/internal/bus"
	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/metrics"
	"github.com/opensource-finance/mulewatch/internal/repository"
	"github.com/opensource-finance/mulewatch/internal/rules"
	"github.com/opensource-finance/mulewatch/internal/scoring"
)

const (
	defaultMaxUploadBytes = 32 << 20
	defaultListLimit      = 50
	uploadCounterKey      = "uploads"
	uploadWindow          = time.Minute
)

var (
	// ErrBatchTooLarge is returned when an upload exceeds the byte or record limit.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrQuotaExceeded is returned when a tenant exceeds its upload quota.
	ErrQuotaExceeded = errors.New("upload quota exceeded")

	errUnavailable       = errors.New("repository not available")
	errEngineUnavailable = errors.New("rule engine not available")
)

// Options holds the dependencies of the API.
// Repo, Cache and Bus may be nil; the endpoints that need them answer 503.
type Options struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Analyzer *analysis.Analyzer
	Analysis domain.AnalysisConfig
	BatchTTL time.Duration
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	analyzer *analysis.Analyzer
	cfg      domain.AnalysisConfig
	batchTTL time.Duration
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(opts Options) *Handler {
	analyzer := opts.Analyzer
	if analyzer == nil && opts.Engine != nil {
		analyzer = analysis.NewAnalyzer(opts.Engine, nil, nil)
	}
	cfg := opts.Analysis
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		repo:     opts.Repo,
		cache:    opts.Cache,
		bus:      opts.Bus,
		engine:   opts.Engine,
		analyzer: analyzer,
		cfg:      cfg,
		batchTTL: opts.BatchTTL,
		version:  opts.Version,
	}
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	*domain.Analysis
	Biomarkers []domain.Biomarker `json:"biomarkers"`
}

// UploadResponse is the response for POST /batches.
type UploadResponse struct {
	BatchID          string    `json:"batchId"`
	Filename         string    `json:"filename,omitempty"`
	TransactionCount int       `json:"transactionCount"`
	Incomplete       int       `json:"incomplete"`
	CreatedAt        time.Time `json:"createdAt"`
	TraceID          string    `json:"traceId"`
}

// RiskResponse is the response for GET /batches/{id}/risk.
type RiskResponse struct {
	BatchID    string                 `json:"batchId"`
	Risks      []domain.RiskRecord    `json:"risks"`
	Summary    domain.AnalysisSummary `json:"summary"`
	Biomarkers []domain.Biomarker     `json:"biomarkers"`
}

// PatternsResponse is the response for GET /batches/{id}/patterns.
type PatternsResponse struct {
	BatchID  string                `json:"batchId"`
	Patterns []domain.PatternMatch `json:"patterns"`
	Count    int                   `json:"count"`
}

// GraphResponse is the response for GET /batches/{id}/graph.
type GraphResponse struct {
	BatchID string             `json:"batchId"`
	Graph   *domain.GraphModel `json:"graph"`
	Nodes   int                `json:"nodes"`
	Edges   int                `json:"edges"`
}

// Analyze handles POST /analyze requests.
// The batch is analyzed in-process and never stored.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.analyzer == nil {
		writeError(w, errEngineUnavailable)
		return
	}

	records, err := h.readBatch(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	result, err := h.analyzer.Run(ctx, domain.NormalizeBatch(records))
	if err != nil {
		slog.Error("analysis failed",
			"tenant_id", GetTenantID(ctx),
			"error", err,
		)
		writeError(w, err)
		return
	}
	result.TenantID = GetTenantID(ctx)
	if result.Metadata.TraceID == "" {
		result.Metadata.TraceID = GetTraceID(ctx)
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Analysis:   result,
		Biomarkers: domain.Biomarkers(),
	})
}

// UploadBatch handles POST /batches requests.
// The raw records are stored; analyses are recomputed on every read.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.repo == nil {
		writeError(w, errUnavailable)
		return
	}

	if err := h.checkQuota(ctx, tenantID); err != nil {
		writeError(w, err)
		return
	}

	records, err := h.readBatch(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		filename = r.URL.Query().Get("filename")
	}

	record := &domain.BatchRecord{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Filename:         filename,
		TransactionCount: len(records),
		Records:          records,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.repo.SaveBatch(ctx, tenantID, record); err != nil {
		slog.Error("failed to save batch",
			"tenant_id", tenantID,
			"error", err,
		)
		writeError(w, err)
		return
	}
	metrics.BatchesUploadedTotal.Inc()

	if h.cache != nil && h.batchTTL > 0 {
		if err := h.cache.SetBatch(ctx, tenantID, record, h.batchTTL); err != nil {
			slog.Warn("failed to cache batch",
				"batch_id", record.ID,
				"error", err,
			)
		}
	}

	h.publishUploaded(ctx, record, traceID)

	slog.Info("batch uploaded",
		"batch_id", record.ID,
		"tenant_id", tenantID,
		"transactions", record.TransactionCount,
		"trace_id", traceID,
	)

	writeJSON(w, http.StatusCreated, UploadResponse{
		BatchID:          record.ID,
		Filename:         record.Filename,
		TransactionCount: record.TransactionCount,
		Incomplete:       len(domain.NormalizeBatch(records).Incomplete()),
		CreatedAt:        record.CreatedAt,
		TraceID:          traceID,
	})
}

// publishUploaded notifies the async worker. Without configured worker tenants
// the event goes to the global subscription.
func (h *Handler) publishUploaded(ctx context.Context, record *domain.BatchRecord, traceID string) {
	if h.bus == nil {
		return
	}

	busTenant := record.TenantID
	if len(h.cfg.WorkerTenants) == 0 {
		busTenant = domain.GlobalTenantID
	}

	event := domain.BatchUploadedEvent{
		BatchID:          record.ID,
		TenantID:         record.TenantID,
		TraceID:          traceID,
		TransactionCount: record.TransactionCount,
	}
	if err := bus.PublishEvent(ctx, h.bus, busTenant, domain.TopicBatchUploaded, event); err != nil {
		slog.Error("failed to publish batch upload",
			"batch_id", record.ID,
			"error", err,
		)
	}
}

// checkQuota counts the upload against the tenant's per-minute quota.
// Cache failures never block an upload.
func (h *Handler) checkQuota(ctx context.Context, tenantID string) error {
	if h.cache == nil || h.cfg.UploadsPerMinute <= 0 {
		return nil
	}

	n, err := h.cache.IncrementCounter(ctx, tenantID, uploadCounterKey, uploadWindow)
	if err != nil {
		slog.Warn("upload quota check failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil
	}
	if n > int64(h.cfg.UploadsPerMinute) {
		metrics.QuotaRejectionsTotal.Inc()
		return fmt.Errorf("%w: %d uploads per minute", ErrQuotaExceeded, h.cfg.UploadsPerMinute)
	}
	return nil
}

// ListBatches handles GET /batches requests.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeError(w, errUnavailable)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = n
	}

	batches, err := h.repo.ListBatches(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list batches", "tenant_id", tenantID, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"batches": batches,
		"count":   len(batches),
	})
}

// GetBatch handles GET /batches/{id} requests.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	record, err := h.loadBatch(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// DeleteBatch handles DELETE /batches/{id} requests.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	batchID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, errUnavailable)
		return
	}

	if err := h.repo.DeleteBatch(ctx, tenantID, batchID); err != nil {
		writeError(w, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.DeleteBatch(ctx, tenantID, batchID); err != nil {
			slog.Warn("failed to evict batch", "batch_id", batchID, "error", err)
		}
	}

	slog.Info("batch deleted", "batch_id", batchID, "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "batch deleted",
	})
}

// GetRisk handles GET /batches/{id}/risk requests.
// The optional tier query parameter keeps only accounts at or above that tier.
func (h *Handler) GetRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var minTier domain.RiskTier
	if v := r.URL.Query().Get("tier"); v != "" {
		minTier = domain.RiskTier(v)
		if !validTier(minTier) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "tier must be one of Critical, High, Medium, Low",
			})
			return
		}
	}

	result, err := h.analyzeStored(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	risks := result.Risks
	if minTier != "" {
		risks = scoring.AtOrAbove(risks, minTier)
		if risks == nil {
			risks = []domain.RiskRecord{}
		}
	}

	writeJSON(w, http.StatusOK, RiskResponse{
		BatchID:    result.BatchID,
		Risks:      risks,
		Summary:    result.Summary,
		Biomarkers: domain.Biomarkers(),
	})
}

// GetPatterns handles GET /batches/{id}/patterns requests.
func (h *Handler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.analyzeStored(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PatternsResponse{
		BatchID:  result.BatchID,
		Patterns: result.Patterns,
		Count:    len(result.Patterns),
	})
}

// GetGraph handles GET /batches/{id}/graph requests.
func (h *Handler) GetGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.analyzeStored(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GraphResponse{
		BatchID: result.BatchID,
		Graph:   result.Graph,
		Nodes:   result.Summary.Nodes,
		Edges:   result.Summary.Edges,
	})
}

// analyzeStored loads an uploaded batch and runs the full pipeline over it.
func (h *Handler) analyzeStored(ctx context.Context, batchID string) (*domain.Analysis, error) {
	tenantID := GetTenantID(ctx)

	if h.analyzer == nil {
		return nil, errEngineUnavailable
	}

	record, err := h.loadBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}

	result, err := h.analyzer.Run(ctx, domain.NormalizeBatch(record.Records))
	if err != nil {
		slog.Error("analysis failed",
			"batch_id", batchID,
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}
	result.BatchID = record.ID
	result.TenantID = tenantID
	return result, nil
}

// loadBatch reads a batch from the cache first, then the repository.
func (h *Handler) loadBatch(ctx context.Context, tenantID, batchID string) (*domain.BatchRecord, error) {
	if batchID == "" {
		return nil, fmt.Errorf("%w: batch id is required", repository.ErrInvalidInput)
	}

	if h.cache != nil {
		record, err := h.cache.GetBatch(ctx, tenantID, batchID)
		if err != nil {
			slog.Warn("batch cache read failed", "batch_id", batchID, "error", err)
		}
		if record != nil {
			return record, nil
		}
	}

	if h.repo == nil {
		return nil, errUnavailable
	}

	record, err := h.repo.GetBatch(ctx, tenantID, batchID)
	if err != nil {
		return nil, err
	}

	if h.cache != nil && h.batchTTL > 0 {
		_ = h.cache.SetBatch(ctx, tenantID, record, h.batchTTL)
	}
	return record, nil
}

// readBatch reads and parses an upload body within the configured limits.
// Bodies sent as text/csv are read as CSV with a header row; anything else as JSON.
func (h *Handler) readBatch(w http.ResponseWriter, r *http.Request) ([]domain.RawTransaction, error) {
	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrBatchTooLarge, tooLarge.Limit)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBatch, err)
	}

	var records []domain.RawTransaction
	if strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv") {
		records, err = domain.ParseCSVBatch(bytes.NewReader(data))
	} else {
		records, err = domain.ParseBatch(data)
	}
	if err != nil {
		return nil, err
	}
	if h.cfg.MaxBatchSize > 0 && len(records) > h.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: %d records, limit is %d", ErrBatchTooLarge, len(records), h.cfg.MaxBatchSize)
	}
	return records, nil
}

// ListBiomarkers handles GET /biomarkers requests.
func (h *Handler) ListBiomarkers(w http.ResponseWriter, r *http.Request) {
	biomarkers := domain.Biomarkers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"biomarkers": biomarkers,
		"count":      len(biomarkers),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
// It is ready once a rule table is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil || h.engine.RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListRules returns all loaded rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, errEngineUnavailable)
		return
	}

	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// ValidateRule compiles a rule against the detector's environment without loading it.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, errEngineUnavailable)
		return
	}

	var rule domain.RuleConfig
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.engine.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"id":    rule.ID,
	})
}

func validTier(t domain.RiskTier) bool {
	for _, tier := range domain.Tiers {
		if tier == t {
			return true
		}
	}
	return false
}

// writeError maps sentinel errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, repository.ErrNotFound):
		status, msg = http.StatusNotFound, "batch not found"
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, domain.ErrInvalidBatch):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, ErrBatchTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, ErrQuotaExceeded):
		status, msg = http.StatusTooManyRequests, err.Error()
	case errors.Is(err, errUnavailable), errors.Is(err, errEngineUnavailable):
		status, msg = http.StatusServiceUnavailable, err.Error()
	default:
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
