package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/noah-isme/cabinet-quote/internal/discount"
)

// ConfigurationError lists every invariant a rule set violates.
type ConfigurationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid business rules: %s", strings.Join(e.Violations, "; "))
}

var one = decimal.NewFromInt(1)

// Validate checks every invariant and returns a *ConfigurationError listing
// all violations, or nil when the rules are consistent.
func Validate(r *BusinessRules) error {
	if r == nil {
		return &ConfigurationError{Violations: []string{"rules are missing"}}
	}
	var err error
	violate := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf(format, args...))
	}
	appendAll := func(msgs []string) {
		for _, m := range msgs {
			err = multierr.Append(err, errors.New(m))
		}
	}

	if r.Pricing.Precision < 0 || r.Pricing.Precision > 6 {
		violate("pricing.precision %d outside 0-6", r.Pricing.Precision)
	}
	if len(r.Pricing.Tiers) == 0 {
		violate("pricing.tiers must define at least one tier")
	}
	for _, name := range sortedKeys(r.Pricing.Tiers) {
		tier := r.Pricing.Tiers[name]
		if !discount.InPercentRange(tier.MarkupPercent) {
			violate("pricing.tiers.%s.markup_percent %s outside 0-100", name, tier.MarkupPercent)
		}
		if !discount.InPercentRange(tier.DiscountPercent) {
			violate("pricing.tiers.%s.discount_percent %s outside 0-100", name, tier.DiscountPercent)
		}
	}

	appendAll(discount.ValidateTiers("discounts.line_bulk_tiers", r.Discounts.LineBulkTiers))
	appendAll(discount.ValidateTiers("discounts.order_bulk_tiers", r.Discounts.OrderBulkTiers))
	if !discount.InPercentRange(r.Discounts.MaxManualDiscountPercent) {
		violate("discounts.max_manual_discount_percent %s outside 0-100", r.Discounts.MaxManualDiscountPercent)
	}
	seenCodes := map[string]bool{}
	for i, p := range r.Discounts.Promotions {
		code := strings.ToUpper(strings.TrimSpace(p.Code))
		if code == "" {
			violate("discounts.promotions[%d]: code is required", i)
		} else if seenCodes[code] {
			violate("discounts.promotions[%d]: duplicate code %s", i, code)
		}
		seenCodes[code] = true
		if p.Kind != discount.PromotionPromotional && p.Kind != discount.PromotionSeasonal {
			violate("discounts.promotions[%d]: unknown kind %q", i, p.Kind)
		}
		if !discount.InPercentRange(p.Percent) {
			violate("discounts.promotions[%d]: percent %s outside 0-100", i, p.Percent)
		}
		if p.MinSubtotal.IsNegative() {
			violate("discounts.promotions[%d]: min_subtotal must be >= 0", i)
		}
		if p.ValidFrom != nil && p.ValidTo != nil && !p.ValidTo.After(*p.ValidFrom) {
			violate("discounts.promotions[%d]: valid_to must be after valid_from", i)
		}
	}

	if !inRateRange(r.Tax.DefaultRate) {
		violate("tax.default_rate %s outside 0-1", r.Tax.DefaultRate)
	}
	for _, key := range sortedKeys(r.Tax.Rates) {
		for _, c := range r.Tax.Rates[key] {
			if strings.TrimSpace(c.Name) == "" {
				violate("tax.rates.%s: component name is required", key)
			}
			if !inRateRange(c.Rate) {
				violate("tax.rates.%s.%s rate %s outside 0-1", key, c.Name, c.Rate)
			}
		}
	}

	s := r.Shipping
	if s.FreeShippingThreshold.IsNegative() {
		violate("shipping.free_shipping_threshold must be >= 0")
	}
	if s.MediumOrderUnits <= 0 || s.LargeOrderUnits <= s.MediumOrderUnits {
		violate("shipping: need 0 < medium_order_units (%d) < large_order_units (%d)", s.MediumOrderUnits, s.LargeOrderUnits)
	}
	for _, required := range []string{"standard", "freight", "white_glove"} {
		if _, ok := s.Methods[required]; !ok {
			violate("shipping.methods.%s is required", required)
		}
	}
	for _, name := range sortedKeys(s.Methods) {
		m := s.Methods[name]
		if m.BaseCost.IsNegative() || m.PerItemCost.IsNegative() || m.PerLbCost.IsNegative() {
			violate("shipping.methods.%s: costs must be >= 0", name)
		}
		if m.MinDays < 0 || m.MaxDays < m.MinDays {
			violate("shipping.methods.%s: need 0 <= min_days <= max_days", name)
		}
	}
	for i, z := range s.Zones {
		if len(z.PostalPrefixes) == 0 {
			violate("shipping.zones[%d] %s: postal_prefixes required", i, z.Name)
		}
		if z.Surcharge.IsNegative() {
			violate("shipping.zones[%d] %s: surcharge must be >= 0", i, z.Name)
		}
		if z.MinDays < 0 || z.MaxDays < z.MinDays {
			violate("shipping.zones[%d] %s: need 0 <= min_days <= max_days", i, z.Name)
		}
	}
	inst := s.Installation
	for name, v := range map[string]decimal.Decimal{
		"base_cost":       inst.BaseCost,
		"per_cabinet":     inst.PerCabinet,
		"per_linear_foot": inst.PerLinearFoot,
		"per_mile":        inst.PerMile,
		"minimum_charge":  inst.MinimumCharge,
	} {
		if v.IsNegative() {
			violate("shipping.installation.%s must be >= 0", name)
		}
	}
	if s.WeightPerUnitLbs.IsNegative() {
		violate("shipping.weight_per_unit_lbs must be >= 0")
	}

	v := r.Validation
	if v.MinQuoteAmount.IsNegative() {
		violate("validation.min_quote_amount must be >= 0")
	}
	if !v.MaxQuoteAmount.GreaterThan(v.MinQuoteAmount) {
		violate("validation.max_quote_amount (%s) must exceed min_quote_amount (%s)", v.MaxQuoteAmount, v.MinQuoteAmount)
	}
	if v.MaxQuoteValidityDays <= 0 {
		violate("validation.max_quote_validity_days must be > 0")
	}
	if v.DefaultValidityDays <= 0 || v.DefaultValidityDays > v.MaxQuoteValidityDays {
		violate("validation.default_validity_days must be within 1-%d", v.MaxQuoteValidityDays)
	}
	if v.MaxLineItemQuantity <= 0 {
		violate("validation.max_line_item_quantity must be > 0")
	}
	if v.MaxLineItems <= 0 {
		violate("validation.max_line_items must be > 0")
	}

	if err == nil {
		return nil
	}
	errs := multierr.Errors(err)
	cfgErr := &ConfigurationError{Violations: make([]string, 0, len(errs))}
	for _, e := range errs {
		cfgErr.Violations = append(cfgErr.Violations, e.Error())
	}
	sort.Strings(cfgErr.Violations)
	return cfgErr
}

func inRateRange(rate decimal.Decimal) bool {
	return !rate.IsNegative() && rate.LessThanOrEqual(one)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
