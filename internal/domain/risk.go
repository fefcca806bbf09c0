package domain

// RiskTier is a step function of the final risk score.
type RiskTier string

const (
	TierCritical RiskTier = "Critical"
	TierHigh     RiskTier = "High"
	TierMedium   RiskTier = "Medium"
	TierLow      RiskTier = "Low"
)

// Tier lower bounds (inclusive).
const (
	CriticalThreshold = 80.0
	HighThreshold     = 60.0
	MediumThreshold   = 35.0
)

// Tiers lists the tiers from most to least severe.
var Tiers = []RiskTier{TierCritical, TierHigh, TierMedium, TierLow}

// TierFor maps a score to its tier.
func TierFor(score float64) RiskTier {
	switch {
	case score >= CriticalThreshold:
		return TierCritical
	case score >= HighThreshold:
		return TierHigh
	case score >= MediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// Color returns the display color paired with the tier.
func (t RiskTier) Color() string {
	switch t {
	case TierCritical:
		return "#FF4444"
	case TierHigh:
		return "#FF8800"
	case TierMedium:
		return "#FFAA00"
	default:
		return "#44AA44"
	}
}

// RiskRecord is the per-account outcome of scoring one batch.
type RiskRecord struct {
	Account          string        `json:"account"`
	RiskScore        float64       `json:"riskScore"`
	Tier             RiskTier      `json:"riskLevel"`
	Color            string        `json:"color"`
	TotalAmount      float64       `json:"totalAmount"`
	TransactionCount int           `json:"transactionCount"`
	Patterns         []PatternName `json:"patterns"`
	RiskFactors      []string      `json:"riskFactors"`
}
