package subscription

import "math"

// DiscountedAmount applies a coupon's discount to a base amount in cents.
// Percent-off rounds to the nearest cent; amount-off floors at zero, never
// negative. A coupon carries either a percent or a fixed amount, not both
func DiscountedAmount(baseAmount int64, percentOff float64, amountOff int64) int64 {
	if percentOff > 0 {
		return int64(math.Round(float64(baseAmount) * (100 - percentOff) / 100))
	}
	if amountOff > 0 {
		discounted := baseAmount - amountOff
		if discounted < 0 {
			return 0
		}
		return discounted
	}
	return baseAmount
}
