package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxLevels is the number of referrer levels paid per payment
const MaxLevels = 3

// Rates holds the commission rate for each level, level 1 first
type Rates [MaxLevels]decimal.Decimal

// DefaultRates pays 50% to the direct referrer and 5% to the next two levels
var DefaultRates = Rates{
	decimal.RequireFromString("0.50"),
	decimal.RequireFromString("0.05"),
	decimal.RequireFromString("0.05"),
}

// Rate returns the rate for level (1-based); out of range levels earn nothing
func (r Rates) Rate(level int) decimal.Decimal {
	if level < 1 || level > MaxLevels {
		return decimal.Zero
	}
	return r[level-1]
}

// Total is the combined rate across all levels
func (r Rates) Total() decimal.Decimal {
	total := decimal.Zero
	for _, rate := range r {
		total = total.Add(rate)
	}
	return total
}

// Commission returns floor(amountCents * rate) for level
func (r Rates) Commission(amountCents int64, level int) int64 {
	return decimal.NewFromInt(amountCents).Mul(r.Rate(level)).Floor().IntPart()
}

// Validate rejects negative rates and totals above 100%
func (r Rates) Validate() error {
	for i, rate := range r {
		if rate.IsNegative() {
			return fmt.Errorf("level %d rate is negative", i+1)
		}
	}
	if r.Total().GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("total rate %s exceeds 1", r.Total())
	}
	return nil
}
