package domain

import (
	"math"

	"github.com/dustin/go-humanize"
)

// CurrencySymbol prefixes every formatted amount.
const CurrencySymbol = "₹"

// FormatAmount renders an amount in whole currency units with thousands separators,
// e.g. 150000 -> "₹150,000". Halves round to even.
func FormatAmount(amount float64) string {
	whole := math.RoundToEven(amount)
	if whole == 0 {
		// drops the sign of -0
		whole = 0
	}
	return CurrencySymbol + humanize.Commaf(whole)
}
