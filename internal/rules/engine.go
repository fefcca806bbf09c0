// Package rules provides the CEL-Go based mule pattern detector.
package rules

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
	"github.com/opensource-finance/mulewatch/internal/domain"
)

// Rule scores are clamped to this range after evaluation.
const (
	minRuleScore = 0.0
	maxRuleScore = 100.0
)

// previewAccounts is how many accounts a shared-infrastructure detail lists.
const previewAccounts = 5

// Engine is the CEL-based pattern detection engine.
// The compiled rule table is immutable between reloads and safe to share across runs.
type Engine struct {
	mu    sync.RWMutex
	envs  map[domain.RuleScope]*cel.Env
	rules []*CompiledRule
}

// CompiledRule holds the pre-compiled CEL programs of one rule.
type CompiledRule struct {
	Config    *domain.RuleConfig
	condition cel.Program
	score     cel.Program
	detail    cel.Program
}

// Detection is the output of one detector run.
type Detection struct {
	Matches []domain.PatternMatch

	// Accounts is the aggregate map built during the run. It never outlives the run's caller.
	Accounts *AccountIndex

	RulesEvaluated int
}

// NewEngine creates an engine and compiles the given rule table.
// Disabled rules are skipped; any compile error fails construction.
func NewEngine(configs []*domain.RuleConfig) (*Engine, error) {
	txEnv, err := cel.NewEnv(
		ext.Strings(),
		ext.Math(),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("amount_label", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("destination", cel.StringType),
		cel.Variable("device", cel.StringType),
		cel.Variable("ip", cel.StringType),
		cel.Variable("remarks", cel.StringType),
		cel.Variable("remarks_lower", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction CEL environment: %w", err)
	}

	sharedEnv, err := cel.NewEnv(
		ext.Strings(),
		ext.Math(),
		cel.Variable("key", cel.StringType),
		cel.Variable("account_count", cel.IntType),
		cel.Variable("accounts", cel.ListType(cel.StringType)),
		cel.Variable("accounts_preview", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared CEL environment: %w", err)
	}

	e := &Engine{
		envs: map[domain.RuleScope]*cel.Env{
			domain.ScopeTransaction: txEnv,
			domain.ScopeDevice:      sharedEnv,
			domain.ScopeIP:          sharedEnv,
		},
	}

	if err := e.ReloadRules(configs); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	_, err := e.compileRule(cfg)
	return err
}

// ReloadRules replaces the rule table atomically.
// On error the previously loaded table stays active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	compiled := make([]*CompiledRule, 0, len(configs))
	seen := make(map[string]bool, len(configs))

	for _, cfg := range configs {
		if cfg == nil || !cfg.Enabled {
			continue
		}
		if seen[cfg.ID] {
			return fmt.Errorf("duplicate rule id %s", cfg.ID)
		}
		seen[cfg.ID] = true

		rule, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		compiled = append(compiled, rule)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns the currently loaded rule configurations in table order.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.Config)
	}
	return out
}

// Detect runs the rule table over a batch.
//
// Transaction rules run in one pass over the batch, in table order per transaction.
// Device and IP rules then run once per key of the aggregate indices, in encounter order.
// The result is fully determined by the batch and the rule table.
func (e *Engine) Detect(ctx context.Context, batch *domain.Batch) (*Detection, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	det := &Detection{
		Matches:  []domain.PatternMatch{},
		Accounts: newAccountIndex(),
	}
	if batch.Len() == 0 {
		return det, nil
	}

	var txRules, sharedRules []*CompiledRule
	for _, r := range rules {
		if r.Config.Scope == domain.ScopeTransaction {
			txRules = append(txRules, r)
		} else {
			sharedRules = append(sharedRules, r)
		}
	}

	for _, tx := range batch.Transactions {
		det.Accounts.fold(tx)

		if len(txRules) == 0 {
			continue
		}
		activation := transactionActivation(tx)
		for _, r := range txRules {
			det.RulesEvaluated++
			m, fired, err := r.evaluate(activation)
			if err != nil {
				return nil, fmt.Errorf("rule %s on record %d: %w", r.Config.ID, tx.Index, err)
			}
			if !fired {
				continue
			}
			m.Account = tx.Source
			m.Timestamp = tx.Timestamp
			det.Matches = append(det.Matches, m)
		}
	}

	if len(sharedRules) == 0 {
		return det, nil
	}

	indices := map[domain.RuleScope]*sharedIndex{
		domain.ScopeDevice: buildSharedIndex(det.Accounts, deviceKeys, txDevice),
		domain.ScopeIP:     buildSharedIndex(det.Accounts, ipKeys, txIP),
	}

	for _, r := range sharedRules {
		idx := indices[r.Config.Scope]
		for _, key := range idx.order {
			usage := idx.byKey[key]
			det.RulesEvaluated++
			m, fired, err := r.evaluate(sharedActivation(usage))
			if err != nil {
				return nil, fmt.Errorf("rule %s on %s %s: %w", r.Config.ID, r.Config.Scope, key, err)
			}
			if !fired {
				continue
			}
			m.Accounts = append([]string(nil), usage.accounts...)
			m.Timestamp = usage.latest
			det.Matches = append(det.Matches, m)
		}
	}

	return det, nil
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func transactionActivation(tx domain.Transaction) map[string]any {
	return map[string]any{
		"amount":        tx.Amount,
		"amount_label":  domain.FormatAmount(tx.Amount),
		"source":        tx.Source,
		"destination":   tx.Destination,
		"device":        tx.Device,
		"ip":            tx.IP,
		"remarks":       tx.Remarks,
		"remarks_lower": strings.ToLower(tx.Remarks),
	}
}

func sharedActivation(u *sharedUsage) map[string]any {
	preview := u.accounts
	if len(preview) > previewAccounts {
		preview = preview[:previewAccounts]
	}
	return map[string]any{
		"key":              u.key,
		"account_count":    int64(len(u.accounts)),
		"accounts":         u.accounts,
		"accounts_preview": strings.Join(preview, ", "),
	}
}

// evaluate runs the condition and, when it holds, the score and detail programs.
func (r *CompiledRule) evaluate(activation map[string]any) (domain.PatternMatch, bool, error) {
	out, _, err := r.condition.Eval(activation)
	if err != nil {
		return domain.PatternMatch{}, false, fmt.Errorf("condition: %w", err)
	}
	fired, ok := out.(types.Bool)
	if !ok || !bool(fired) {
		return domain.PatternMatch{}, false, nil
	}

	out, _, err = r.score.Eval(activation)
	if err != nil {
		return domain.PatternMatch{}, false, fmt.Errorf("score: %w", err)
	}
	score := clampScore(toScore(out))

	out, _, err = r.detail.Eval(activation)
	if err != nil {
		return domain.PatternMatch{}, false, fmt.Errorf("detail: %w", err)
	}
	detail, _ := out.(types.String)

	return domain.PatternMatch{
		Pattern:   r.Config.Pattern,
		RuleID:    r.Config.ID,
		Details:   string(detail),
		RiskScore: score,
	}, true, nil
}

// clampScore keeps a rule's score on the 0..100 risk scale.
func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s) || s < minRuleScore:
		return minRuleScore
	case s > maxRuleScore:
		return maxRuleScore
	}
	return s
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}
	if _, ok := domain.LookupBiomarker(cfg.Pattern); !ok {
		return nil, fmt.Errorf("rule %s: unknown pattern %q", cfg.ID, cfg.Pattern)
	}

	env, ok := e.envs[cfg.Scope]
	if !ok {
		return nil, fmt.Errorf("rule %s: unsupported scope %q", cfg.ID, cfg.Scope)
	}

	condition, err := compileProgram(env, cfg.ID, "condition", cfg.Condition, cel.BoolType)
	if err != nil {
		return nil, err
	}
	score, err := compileProgram(env, cfg.ID, "score", cfg.Score, cel.DoubleType, cel.IntType)
	if err != nil {
		return nil, err
	}
	detail, err := compileProgram(env, cfg.ID, "detail", cfg.Detail, cel.StringType)
	if err != nil {
		return nil, err
	}

	return &CompiledRule{
		Config:    cfg,
		condition: condition,
		score:     score,
		detail:    detail,
	}, nil
}

func compileProgram(env *cel.Env, ruleID, part, expr string, allowed ...*cel.Type) (cel.Program, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("rule %s: %s expression is required", ruleID, part)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile %s of rule %s: %w", part, ruleID, issues.Err())
	}

	outputType := ast.OutputType()
	matched := false
	for _, t := range allowed {
		if outputType.IsExactType(t) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("rule %s: %s must return %v, got %s", ruleID, part, allowed, outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s program for rule %s: %w", part, ruleID, err)
	}
	return program, nil
}
