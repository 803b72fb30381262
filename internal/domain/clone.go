package domain

import "github.com/shopspring/decimal"

// Clone returns an independent deep copy of the calculation. Versions store
// clones so later mutation of a caller's value never reaches history.
func (q *QuoteCalculation) Clone() *QuoteCalculation {
	if q == nil {
		return nil
	}
	out := *q
	out.Customer = q.Customer.Clone()
	if q.LineItems != nil {
		out.LineItems = make([]CalculatedLineItem, len(q.LineItems))
		for i, line := range q.LineItems {
			out.LineItems[i] = line.Clone()
		}
	}
	out.Discounts.Applied = cloneDiscounts(q.Discounts.Applied)
	if q.Tax.Details != nil {
		out.Tax.Details = append([]TaxDetail(nil), q.Tax.Details...)
	}
	out.Shipping.InstallationCost = cloneDecimal(q.Shipping.InstallationCost)
	return &out
}

// Clone returns a copy that shares no pointers with c.
func (c Customer) Clone() Customer {
	if c.Address != nil {
		addr := *c.Address
		c.Address = &addr
	}
	return c
}

// Clone returns a copy that shares no pointers or slices with l.
func (l CalculatedLineItem) Clone() CalculatedLineItem {
	l.ProductVariant.WeightLbs = cloneDecimal(l.ProductVariant.WeightLbs)
	l.Discounts = cloneDiscounts(l.Discounts)
	return l
}

// Clone returns a copy of the version with a deep-copied calculation.
func (v QuoteVersion) Clone() QuoteVersion {
	v.Calculation = *v.Calculation.Clone()
	return v
}

func cloneDiscounts(in []AppliedDiscount) []AppliedDiscount {
	if in == nil {
		return nil
	}
	return append([]AppliedDiscount(nil), in...)
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
