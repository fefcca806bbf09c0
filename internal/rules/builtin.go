package rules

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// Built-in rule IDs.
const (
	RuleHighVelocity      = "high-velocity"
	RuleCryptoTransfers   = "crypto-transfers"
	RuleSuspiciousRemarks = "suspicious-remarks"
	RuleSharedDevice      = "shared-device"
	RuleSharedIP          = "shared-ip"
)

// DefaultRules returns the built-in mule detection rule table.
// Each call returns fresh copies, so callers may modify the result freely.
func DefaultRules() []*domain.RuleConfig {
	return []*domain.RuleConfig{
		{
			ID:          RuleHighVelocity,
			Pattern:     domain.PatternHighVelocity,
			Description: "Single transfer above 100,000",
			Version:     "1.0.0",
			Scope:       domain.ScopeTransaction,
			Condition:   `amount > 100000.0`,
			Score:       `math.least(95.0, 50.0 + amount / 10000.0)`,
			Detail:      `"High-value transfer: " + amount_label + " from " + source + " to " + destination`,
			Enabled:     true,
		},
		{
			ID:          RuleCryptoTransfers,
			Pattern:     domain.PatternCryptoTransfers,
			Description: "Remark mentions a crypto exchange",
			Version:     "1.0.0",
			Scope:       domain.ScopeTransaction,
			Condition:   `["crypto", "binance", "exchange"].exists(t, remarks_lower.contains(t))`,
			Score:       `90.0`,
			Detail:      `"Suspected crypto transfer: " + amount_label + " with remarks '" + remarks + "'"`,
			Enabled:     true,
		},
		{
			ID:          RuleSuspiciousRemarks,
			Pattern:     domain.PatternSuspiciousRemarks,
			Description: "Remark contains a fraud-associated keyword",
			Version:     "1.0.0",
			Scope:       domain.ScopeTransaction,
			Condition:   `["gift", "loan", "refund", "test", "urgent", "help"].exists(t, remarks_lower.contains(t))`,
			Score:       `60.0`,
			Detail:      `"Suspicious transaction remark: '" + remarks + "' for " + amount_label`,
			Enabled:     true,
		},
		{
			ID:          RuleSharedDevice,
			Pattern:     domain.PatternSharedDeviceIP,
			Description: "Device used by more than 3 accounts",
			Version:     "1.0.0",
			Scope:       domain.ScopeDevice,
			Condition:   `account_count > 3`,
			Score:       `math.least(90.0, 40.0 + 8.0 * double(account_count))`,
			Detail:      `"Device " + key + " used by " + string(account_count) + " accounts: " + accounts_preview`,
			Enabled:     true,
		},
		{
			ID:          RuleSharedIP,
			Pattern:     domain.PatternSharedDeviceIP,
			Description: "IP address used by more than 4 accounts",
			Version:     "1.0.0",
			Scope:       domain.ScopeIP,
			Condition:   `account_count > 4`,
			Score:       `math.least(85.0, 35.0 + 7.0 * double(account_count))`,
			Detail:      `"IP " + key + " used by " + string(account_count) + " accounts: " + accounts_preview`,
			Enabled:     true,
		},
	}
}

// LoadRulesFile reads a rule table from a JSON file holding an array of rule configs.
func LoadRulesFile(path string) ([]*domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var configs []*domain.RuleConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("rules file %s holds no rules", path)
	}
	return configs, nil
}
