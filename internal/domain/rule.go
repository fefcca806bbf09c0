package domain

// RuleScope tells the detector what a rule is evaluated against.
type RuleScope string

const (
	// ScopeTransaction rules run once per transaction and attach to its source.
	ScopeTransaction RuleScope = "transaction"

	// ScopeDevice rules run once per device id seen in the batch.
	ScopeDevice RuleScope = "device"

	// ScopeIP rules run once per IP address seen in the batch.
	ScopeIP RuleScope = "ip"
)

// RuleConfig defines one detection rule as CEL expressions.
type RuleConfig struct {
	ID          string      `json:"id"`
	Pattern     PatternName `json:"pattern"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Scope       RuleScope   `json:"scope"`

	// Condition must return bool; the rule fires when it is true.
	Condition string `json:"condition"`

	// Score must return int or double on the 0-100 scale.
	Score string `json:"score"`

	// Detail must return the human-readable string attached to the match.
	Detail string `json:"detail"`

	Enabled bool `json:"enabled"`
}
