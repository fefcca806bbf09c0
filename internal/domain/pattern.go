package domain

import "time"

// PatternName identifies one of the fixed fraud heuristics.
type PatternName string

// The ten patterns of the biomarker catalog.
const (
	PatternReversalLoops     PatternName = "Reversal Loops"
	PatternCryptoTransfers   PatternName = "Crypto Transfers"
	PatternRoundRobin        PatternName = "Round-Robin"
	PatternFixedTimeLoops    PatternName = "Fixed-Time Loops"
	PatternFakeMerchantQR    PatternName = "Fake Merchant QR"
	PatternSuspiciousRemarks PatternName = "Suspicious Remarks"
	PatternHeadlessBrowser   PatternName = "Headless Browser"
	PatternCloudHostedAccess PatternName = "Cloud-Hosted Access"
	PatternSharedDeviceIP    PatternName = "Shared Device/IP"
	PatternHighVelocity      PatternName = "High Velocity"
)

// PatternMatch is one detected fact about a batch.
// Exactly one of Account and Accounts is set.
type PatternMatch struct {
	Pattern   PatternName `json:"pattern"`
	RuleID    string      `json:"ruleId"`
	Account   string      `json:"account,omitempty"`
	Accounts  []string    `json:"accounts,omitempty"`
	Details   string      `json:"details"`
	RiskScore float64     `json:"riskScore"`
	Timestamp time.Time   `json:"timestamp"`
}

// Shared reports whether the match is attributed to several accounts.
func (m PatternMatch) Shared() bool {
	return len(m.Accounts) > 0
}

// Subjects returns the accounts the match is attributed to.
func (m PatternMatch) Subjects() []string {
	if m.Shared() {
		return m.Accounts
	}
	return []string{m.Account}
}
