package billing

import "strings"

// Commission rates are keyed by client pricing tier, then payment method.
// Rates are fractions of the transaction amount.
var commissionRates = map[string]map[string]float64{
	"standard": {
		"ideal":        0.015,
		"creditcard":   0.029,
		"banktransfer": 0.012,
	},
	"plus": {
		"ideal":        0.012,
		"creditcard":   0.025,
		"banktransfer": 0.010,
	},
	"enterprise": {
		"ideal":        0.008,
		"creditcard":   0.020,
		"banktransfer": 0.008,
	},
}

const defaultRate = 0.029

// Commission computes the platform's cut of a transaction. It is a pure
// function of amount, payment method and pricing tier, with a conservative
// default for unknown methods or tiers.
func Commission(amount float64, method, tier string) float64 {
	if amount <= 0 {
		return 0
	}
	methods, ok := commissionRates[strings.ToLower(tier)]
	if !ok {
		return amount * defaultRate
	}
	rate, ok := methods[strings.ToLower(method)]
	if !ok {
		return amount * defaultRate
	}
	return amount * rate
}
