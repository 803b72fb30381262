// Package pricing holds the money arithmetic shared by every calculator:
// round-half-up at a configured precision applied after each step.
package pricing

import "github.com/shopspring/decimal"

// DefaultPrecision is the number of decimal places prices are rounded to.
const DefaultPrecision int32 = 2

var hundred = decimal.NewFromInt(100)

// Round rounds d half away from zero to the given number of decimal places.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Percent returns pct percent of amount, rounded.
func Percent(amount, pct decimal.Decimal, places int32) decimal.Decimal {
	return Round(amount.Mul(pct).Div(hundred), places)
}

// ApplyRate returns amount multiplied by a fractional rate (0.13 for 13%), rounded.
func ApplyRate(amount, rate decimal.Decimal, places int32) decimal.Decimal {
	return Round(amount.Mul(rate), places)
}

// ApplyMarkup raises a catalog price by markupPct percent.
func ApplyMarkup(price, markupPct decimal.Decimal, places int32) decimal.Decimal {
	base := Round(price, places)
	if markupPct.IsZero() {
		return base
	}
	return Round(base.Add(Percent(base, markupPct, places)), places)
}

// Epsilon is one unit at the given precision (0.01 for two places).
func Epsilon(places int32) decimal.Decimal {
	return decimal.New(1, -places)
}

// WithinEpsilon reports whether |a-b| <= eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Sum adds the provided values.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Clamp bounds d to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// Summary aggregates computed quote totals.
type Summary struct {
	Subtotal      decimal.Decimal
	Discount      decimal.Decimal
	FinalSubtotal decimal.Decimal
	Tax           decimal.Decimal
	Shipping      decimal.Decimal
	Total         decimal.Decimal
}

// Compute assembles quote totals. The discount is clamped to the subtotal so
// the taxable base never goes negative.
func Compute(subtotal, discount, tax, shipping decimal.Decimal, places int32) Summary {
	subtotal = Round(subtotal, places)
	discount = Clamp(Round(discount, places), decimal.Zero, subtotal)
	final := Round(subtotal.Sub(discount), places)
	tax = Round(tax, places)
	shipping = Round(shipping, places)
	return Summary{
		Subtotal:      subtotal,
		Discount:      discount,
		FinalSubtotal: final,
		Tax:           tax,
		Shipping:      shipping,
		Total:         Round(final.Add(tax).Add(shipping), places),
	}
}

// Balanced reports whether s.Total matches its components within one unit of precision.
func (s Summary) Balanced(places int32) bool {
	expected := s.Subtotal.Sub(s.Discount).Add(s.Tax).Add(s.Shipping)
	return WithinEpsilon(s.Total, expected, Epsilon(places))
}
