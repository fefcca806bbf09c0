package domain

// Biomarker is the catalog entry describing a pattern.
type Biomarker struct {
	Pattern     PatternName `json:"pattern"`
	Description string      `json:"description"`
	RiskWeight  float64     `json:"riskWeight"`
	Example     string      `json:"example"`
}

var biomarkers = []Biomarker{
	{
		Pattern:     PatternReversalLoops,
		Description: "Funds received and quickly refunded to create confusion in audit trails",
		RiskWeight:  75,
		Example:     "₹50,000 received, refunded in 10 minutes",
	},
	{
		Pattern:     PatternCryptoTransfers,
		Description: "Money transferred to cryptocurrency exchanges to obscure ownership",
		RiskWeight:  90,
		Example:     "₹1,20,000 sent to Binance wallet",
	},
	{
		Pattern:     PatternRoundRobin,
		Description: "Money cycles through accounts in loops before exiting",
		RiskWeight:  85,
		Example:     "A → B → C → A with timing variations",
	},
	{
		Pattern:     PatternFixedTimeLoops,
		Description: "Automated transfers at precise, predictable intervals",
		RiskWeight:  70,
		Example:     "₹10,000 daily at exactly 9:01 AM",
	},
	{
		Pattern:     PatternFakeMerchantQR,
		Description: "QR codes labeled as business without valid GST/PAN registration",
		RiskWeight:  80,
		Example:     "QR tagged 'shop' with no GST link",
	},
	{
		Pattern:     PatternSuspiciousRemarks,
		Description: "Transaction comments with fraud-associated keywords",
		RiskWeight:  60,
		Example:     "Words like 'gift', 'loan', 'refund', 'test'",
	},
	{
		Pattern:     PatternHeadlessBrowser,
		Description: "Multiple accounts accessed via automated browser tools",
		RiskWeight:  85,
		Example:     "5 accounts logged in via Chrome Headless within 1 minute",
	},
	{
		Pattern:     PatternCloudHostedAccess,
		Description: "Remote access from cloud servers to manage multiple accounts",
		RiskWeight:  80,
		Example:     "5 accounts accessed from AWS EC2 instance",
	},
	{
		Pattern:     PatternSharedDeviceIP,
		Description: "Multiple accounts using same device or IP address",
		RiskWeight:  75,
		Example:     "Device DEV001 used by 8 different accounts",
	},
	{
		Pattern:     PatternHighVelocity,
		Description: "Rapid succession of high-value transactions",
		RiskWeight:  70,
		Example:     "10 transactions totaling ₹5L in 30 minutes",
	},
}

// Biomarkers returns a copy of the catalog in its canonical order.
func Biomarkers() []Biomarker {
	out := make([]Biomarker, len(biomarkers))
	copy(out, biomarkers)
	return out
}

// LookupBiomarker returns the catalog entry for a pattern.
func LookupBiomarker(name PatternName) (Biomarker, bool) {
	for _, b := range biomarkers {
		if b.Pattern == name {
			return b, true
		}
	}
	return Biomarker{}, false
}
