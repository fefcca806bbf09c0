package domain

// Analysis is the complete result of running the pipeline over one batch.
// It is computed on demand and never persisted.
type Analysis struct {
	BatchID  string           `json:"batchId,omitempty"`
	TenantID string           `json:"tenantId,omitempty"`
	Patterns []PatternMatch   `json:"patterns"`
	Risks    []RiskRecord     `json:"risks"`
	Graph    *GraphModel      `json:"graph"`
	Summary  AnalysisSummary  `json:"summary"`
	Metadata AnalysisMetadata `json:"metadata"`
}

// AnalysisSummary holds the headline counts of an analysis.
type AnalysisSummary struct {
	Transactions      int                 `json:"transactions"`
	Accounts          int                 `json:"accounts"`
	Incomplete        int                 `json:"incomplete"`
	IncompleteRecords []IncompleteRecord  `json:"incompleteRecords,omitempty"`
	PatternCounts     map[PatternName]int `json:"patternCounts"`
	TierCounts        map[RiskTier]int    `json:"tierCounts"`
	Nodes             int                 `json:"nodes"`
	Edges             int                 `json:"edges"`
}

// IncompleteRecord flags an input record that needed defaulting.
type IncompleteRecord struct {
	Index     int      `json:"index"`
	Defaulted []string `json:"defaulted"`
}

// AnalysisMetadata contains processing information.
type AnalysisMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	DetectMs       int64  `json:"detectMs"`
	ScoreMs        int64  `json:"scoreMs"`
	GraphMs        int64  `json:"graphMs"`
	TotalMs        int64  `json:"totalMs"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	EngineVersion  string `json:"engineVersion"`
}

// CriticalAccounts returns the risk records in the Critical tier.
func (a *Analysis) CriticalAccounts() []RiskRecord {
	var out []RiskRecord
	for _, r := range a.Risks {
		if r.Tier == TierCritical {
			out = append(out, r)
		}
	}
	return out
}
