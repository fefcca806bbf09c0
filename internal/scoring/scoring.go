// Package scoring folds pattern matches into per-account risk records.
// The scorer aggregates detector output the way a decision processor
// aggregates rule results: a base, weighted contributions, a cap.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// ErrUnknownAccount is returned when a match names an account that never
// appears as a source or destination in the batch.
var ErrUnknownAccount = errors.New("pattern match references unknown account")

// maxRiskFactors is how many detail strings a record keeps.
const maxRiskFactors = 3

// Weights configures score aggregation.
type Weights struct {
	// Base is the starting score of every account.
	Base float64

	// SingleWeight scales matches attributed to one account.
	SingleWeight float64

	// SharedWeight scales matches attributed to several accounts.
	SharedWeight float64

	// Cap is the maximum final score. Final scores never drop below zero.
	Cap float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Base:         10,
		SingleWeight: 0.6,
		SharedWeight: 0.4,
		Cap:          100,
	}
}

// Scorer aggregates pattern matches and produces ranked risk records.
type Scorer struct {
	Weights Weights
}

// NewScorer creates a scorer with default weights.
func NewScorer() *Scorer {
	return &Scorer{Weights: DefaultWeights()}
}

// accumulator is the running state of one account during a run.
type accumulator struct {
	account  string
	score    float64
	total    float64
	count    int
	patterns []domain.PatternName
	seen     map[domain.PatternName]bool
	factors  []string
}

func (a *accumulator) add(m domain.PatternMatch, weight float64) {
	a.score += m.RiskScore * weight
	if !a.seen[m.Pattern] {
		a.seen[m.Pattern] = true
		a.patterns = append(a.patterns, m.Pattern)
	}
	if len(a.factors) < maxRiskFactors {
		a.factors = append(a.factors, m.Details)
	}
}

// Score returns one risk record per account in the batch, highest score first.
func (s *Scorer) Score(ctx context.Context, batch *domain.Batch, matches []domain.PatternMatch) ([]domain.RiskRecord, error) {
	if batch.Len() == 0 {
		return []domain.RiskRecord{}, nil
	}

	w := s.Weights
	var order []*accumulator
	byID := make(map[string]*accumulator)

	touch := func(id string, amount float64) {
		acc, ok := byID[id]
		if !ok {
			acc = &accumulator{account: id, score: w.Base, seen: make(map[domain.PatternName]bool)}
			byID[id] = acc
			order = append(order, acc)
		}
		acc.total += amount
		acc.count++
	}

	for _, tx := range batch.Transactions {
		touch(tx.Source, tx.Amount)
		touch(tx.Destination, tx.Amount)
	}

	for i, m := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		weight := w.SingleWeight
		if m.Shared() {
			weight = w.SharedWeight
		}

		for _, id := range m.Subjects() {
			acc, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %q in match %d (%s)", ErrUnknownAccount, id, i, m.Pattern)
			}
			acc.add(m, weight)
		}
	}

	records := make([]domain.RiskRecord, 0, len(order))
	for _, acc := range order {
		final := clamp(acc.score, 0, w.Cap)
		tier := domain.TierFor(final)

		patterns := acc.patterns
		if patterns == nil {
			patterns = []domain.PatternName{}
		}
		factors := acc.factors
		if factors == nil {
			factors = []string{}
		}

		records = append(records, domain.RiskRecord{
			Account:          acc.account,
			RiskScore:        round1(final),
			Tier:             tier,
			Color:            tier.Color(),
			TotalAmount:      acc.total,
			TransactionCount: acc.count,
			Patterns:         patterns,
			RiskFactors:      factors,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RiskScore > records[j].RiskScore
	})

	return records, nil
}

// clamp bounds v to [lo, hi]. NaN maps to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	return math.Min(v, hi)
}

// round1 rounds a score to one decimal place for reporting.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// AtOrAbove returns the records whose tier is at least as severe as tier.
// Records keep their ranked order.
func AtOrAbove(records []domain.RiskRecord, tier domain.RiskTier) []domain.RiskRecord {
	limit := severity(tier)
	var out []domain.RiskRecord
	for _, r := range records {
		if severity(r.Tier) <= limit {
			out = append(out, r)
		}
	}
	return out
}

// severity is the position of a tier in domain.Tiers, most severe first.
func severity(tier domain.RiskTier) int {
	for i, t := range domain.Tiers {
		if t == tier {
			return i
		}
	}
	return len(domain.Tiers)
}
