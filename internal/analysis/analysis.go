// Package analysis runs the detect, score and graph stages over one batch.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/opensource-finance/mulewatch/internal/graph"
	"github.com/opensource-finance/mulewatch/internal/metrics"
	"github.com/opensource-finance/mulewatch/internal/rules"
	"github.com/opensource-finance/mulewatch/internal/scoring"
	"github.com/opensource-finance/mulewatch/internal/tracing"
	"go.opentelemetry.io/otel/codes"
)

// EngineVersion identifies the pipeline in analysis metadata.
const EngineVersion = "mulewatch-1.0"

// Detector finds pattern matches in a batch.
type Detector interface {
	Detect(ctx context.Context, batch *domain.Batch) (*rules.Detection, error)
}

// Analyzer is the batch analysis pipeline.
// It holds no per-run state, so one Analyzer serves concurrent runs.
type Analyzer struct {
	detector Detector
	scorer   *scoring.Scorer
	logger   *slog.Logger
}

// NewAnalyzer creates an analyzer over the given detector and scorer.
// A nil scorer uses default weights; a nil logger uses slog.Default().
func NewAnalyzer(detector Detector, scorer *scoring.Scorer, logger *slog.Logger) *Analyzer {
	if scorer == nil {
		scorer = scoring.NewScorer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{detector: detector, scorer: scorer, logger: logger}
}

// Run analyzes a normalized batch.
// An empty batch yields an empty analysis, never an error.
func (a *Analyzer) Run(ctx context.Context, batch *domain.Batch) (*domain.Analysis, error) {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "analysis.run", tracing.BatchSize(batch.Len()))
	defer span.End()

	result, err := a.run(ctx, batch, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	span.SetAttributes(
		tracing.Matches(len(result.Patterns)),
		tracing.Accounts(result.Summary.Accounts),
	)
	metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	metrics.AnalysisDuration.Observe(time.Since(start).Seconds())
	metrics.BatchTransactions.Observe(float64(batch.Len()))

	return result, nil
}

func (a *Analyzer) run(ctx context.Context, batch *domain.Batch, start time.Time) (*domain.Analysis, error) {
	a.logIncomplete(ctx, batch)

	detectStart := time.Now()
	det, err := a.detector.Detect(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	detectMs := time.Since(detectStart).Milliseconds()

	scoreStart := time.Now()
	risks, err := a.scorer.Score(ctx, batch, det.Matches)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	scoreMs := time.Since(scoreStart).Milliseconds()

	graphStart := time.Now()
	model := graph.Build(batch)
	graphMs := time.Since(graphStart).Milliseconds()

	result := &domain.Analysis{
		Patterns: det.Matches,
		Risks:    risks,
		Graph:    model,
		Summary:  Summarize(batch, det.Matches, risks, model),
		Metadata: domain.AnalysisMetadata{
			TraceID:        tracing.TraceID(ctx),
			DetectMs:       detectMs,
			ScoreMs:        scoreMs,
			GraphMs:        graphMs,
			TotalMs:        time.Since(start).Milliseconds(),
			RulesEvaluated: det.RulesEvaluated,
			EngineVersion:  EngineVersion,
		},
	}

	for _, m := range det.Matches {
		metrics.PatternMatchesTotal.WithLabelValues(string(m.Pattern)).Inc()
	}
	for _, r := range risks {
		metrics.RiskRecordsTotal.WithLabelValues(string(r.Tier)).Inc()
	}

	a.logger.DebugContext(ctx, "batch analyzed",
		"transactions", batch.Len(),
		"accounts", result.Summary.Accounts,
		"matches", len(det.Matches),
		"critical", result.Summary.TierCounts[domain.TierCritical],
		"duration_ms", result.Metadata.TotalMs,
	)

	return result, nil
}

// logIncomplete records every defaulted field so substitutions are never silent.
func (a *Analyzer) logIncomplete(ctx context.Context, batch *domain.Batch) {
	for _, tx := range batch.Incomplete() {
		for _, field := range tx.Defaulted {
			metrics.DefaultedFieldsTotal.WithLabelValues(field).Inc()
		}
		a.logger.DebugContext(ctx, "record defaulted",
			"index", tx.Index,
			"fields", tx.Defaulted,
		)
	}
}

// Summarize computes the headline counts of an analysis.
func Summarize(batch *domain.Batch, matches []domain.PatternMatch, risks []domain.RiskRecord, g *domain.GraphModel) domain.AnalysisSummary {
	s := domain.AnalysisSummary{
		Transactions:  batch.Len(),
		Accounts:      len(risks),
		PatternCounts: make(map[domain.PatternName]int),
		TierCounts:    make(map[domain.RiskTier]int),
	}

	for _, tx := range batch.Incomplete() {
		s.IncompleteRecords = append(s.IncompleteRecords, domain.IncompleteRecord{
			Index:     tx.Index,
			Defaulted: tx.Defaulted,
		})
	}
	s.Incomplete = len(s.IncompleteRecords)

	for _, m := range matches {
		s.PatternCounts[m.Pattern]++
	}
	for _, r := range risks {
		s.TierCounts[r.Tier]++
	}
	s.Nodes, s.Edges = graph.Summary(g)

	return s
}
