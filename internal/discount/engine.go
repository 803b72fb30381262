// Package discount computes line-level and order-level discounts. Every
// percentage applies to the un-discounted base; discounts add, never compound.
package discount

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/pricing"
)

var (
	// ErrPromotionUnknown is returned when a promo code matches no configured promotion.
	ErrPromotionUnknown = errors.New("promotion not found")
	// ErrPromotionInactive is returned when the promotion window has not started.
	ErrPromotionInactive = errors.New("promotion not active yet")
	// ErrPromotionExpired is returned when the promotion window has ended.
	ErrPromotionExpired = errors.New("promotion expired")
	// ErrMinimumSubtotalUnmet indicates the order subtotal is below the promotion minimum.
	ErrMinimumSubtotalUnmet = errors.New("promotion minimum subtotal not met")
)

var hundred = decimal.NewFromInt(100)

// BulkTier unlocks DiscountPercentage once quantity reaches MinQuantity.
type BulkTier struct {
	MinQuantity        int             `yaml:"min_quantity" json:"minQuantity"`
	DiscountPercentage decimal.Decimal `yaml:"discount_percentage" json:"discountPercentage"`
}

// BestTier returns the tier with the highest threshold met by qty.
func BestTier(tiers []BulkTier, qty int) (BulkTier, bool) {
	var (
		best  BulkTier
		found bool
	)
	for _, t := range tiers {
		if qty >= t.MinQuantity && (!found || t.MinQuantity > best.MinQuantity) {
			best = t
			found = true
		}
	}
	return best, found
}

// ValidateTiers lists every violation in a tier table: thresholds must be
// positive, percentages within 0-100, and the percentage must strictly
// increase with the threshold.
func ValidateTiers(name string, tiers []BulkTier) []string {
	var out []string
	sorted := append([]BulkTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinQuantity < sorted[j].MinQuantity })
	for i, t := range sorted {
		if t.MinQuantity <= 0 {
			out = append(out, fmt.Sprintf("%s: min_quantity must be positive (got %d)", name, t.MinQuantity))
		}
		if !InPercentRange(t.DiscountPercentage) {
			out = append(out, fmt.Sprintf("%s: discount_percentage %s outside 0-100", name, t.DiscountPercentage))
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if t.MinQuantity == prev.MinQuantity {
			out = append(out, fmt.Sprintf("%s: duplicate min_quantity %d", name, t.MinQuantity))
			continue
		}
		if !t.DiscountPercentage.GreaterThan(prev.DiscountPercentage) {
			out = append(out, fmt.Sprintf("%s: discount_percentage must increase with quantity (%d: %s, %d: %s)",
				name, prev.MinQuantity, prev.DiscountPercentage, t.MinQuantity, t.DiscountPercentage))
		}
	}
	return out
}

// InPercentRange reports whether pct lies in [0, 100].
func InPercentRange(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred)
}

// PromotionKind separates code-activated promotions from calendar ones.
type PromotionKind string

const (
	// PromotionPromotional applies only when the request carries its code.
	PromotionPromotional PromotionKind = "promotional"
	// PromotionSeasonal applies automatically inside its active window.
	PromotionSeasonal PromotionKind = "seasonal"
)

// Promotion captures the runtime constraints of a promotional or seasonal discount.
type Promotion struct {
	Code        string          `yaml:"code" json:"code"`
	Description string          `yaml:"description" json:"description"`
	Kind        PromotionKind   `yaml:"kind" json:"kind"`
	Percent     decimal.Decimal `yaml:"percent" json:"percent"`
	MinSubtotal decimal.Decimal `yaml:"min_subtotal" json:"minSubtotal"`
	ValidFrom   *time.Time      `yaml:"valid_from,omitempty" json:"validFrom,omitempty"`
	ValidTo     *time.Time      `yaml:"valid_to,omitempty" json:"validTo,omitempty"`
}

// Validate ensures the promotion can be applied at the provided instant and subtotal.
func (p Promotion) Validate(now time.Time, subtotal decimal.Decimal) error {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return ErrPromotionInactive
	}
	if p.ValidTo != nil && now.After(*p.ValidTo) {
		return ErrPromotionExpired
	}
	if subtotal.LessThan(p.MinSubtotal) {
		return ErrMinimumSubtotalUnmet
	}
	return nil
}

// FindPromotion looks up a code-activated promotion, case-insensitively.
func FindPromotion(promotions []Promotion, code string) (Promotion, error) {
	code = strings.TrimSpace(code)
	for _, p := range promotions {
		if p.Kind == PromotionPromotional && strings.EqualFold(p.Code, code) {
			return p, nil
		}
	}
	return Promotion{}, ErrPromotionUnknown
}

// LineInput describes one priced line for discounting.
type LineInput struct {
	LineNumber    int
	Subtotal      decimal.Decimal
	Quantity      int
	ManualPercent *decimal.Decimal
}

// LineDiscounts applies the manual percentage first, then the best bulk tier
// for the line quantity. The total is clamped to the line subtotal.
func LineDiscounts(in LineInput, tiers []BulkTier, places int32) ([]domain.AppliedDiscount, decimal.Decimal) {
	var applied []domain.AppliedDiscount
	remaining := in.Subtotal
	add := func(d domain.AppliedDiscount) {
		d.Amount = pricing.Clamp(d.Amount, decimal.Zero, remaining)
		if d.Amount.IsZero() {
			return
		}
		remaining = remaining.Sub(d.Amount)
		applied = append(applied, d)
	}

	if in.ManualPercent != nil && in.ManualPercent.IsPositive() {
		add(domain.AppliedDiscount{
			Kind:        domain.DiscountManual,
			Description: fmt.Sprintf("Manual %s%% discount", in.ManualPercent.String()),
			Percent:     *in.ManualPercent,
			Amount:      pricing.Percent(in.Subtotal, *in.ManualPercent, places),
			LineNumber:  in.LineNumber,
		})
	}
	if tier, ok := BestTier(tiers, in.Quantity); ok && tier.DiscountPercentage.IsPositive() {
		add(domain.AppliedDiscount{
			Kind:        domain.DiscountBulkQuantity,
			Description: fmt.Sprintf("Bulk quantity discount (%d+ units: %s%%)", tier.MinQuantity, tier.DiscountPercentage),
			Percent:     tier.DiscountPercentage,
			Amount:      pricing.Percent(in.Subtotal, tier.DiscountPercentage, places),
			LineNumber:  in.LineNumber,
		})
	}
	return applied, in.Subtotal.Sub(remaining)
}

// OrderInput carries everything order-level discounting depends on.
type OrderInput struct {
	Subtotal          decimal.Decimal
	LineDiscountTotal decimal.Decimal
	TotalUnits        int
	OrderTiers        []BulkTier
	Tier              string
	TierPercent       decimal.Decimal
	PromoCode         string
	Promotions        []Promotion
	Now               time.Time
}

// OrderDiscounts applies the order-wide bulk tier, then the customer tier
// discount, then the requested promotion and any seasonal promotions in
// window. All percentages apply to the un-discounted subtotal; the running
// discount including line discounts never exceeds the subtotal.
//
// An unknown or ineligible promo code is returned as an error wrapping one of
// the package sentinels. Seasonal promotions that do not apply are skipped.
func OrderDiscounts(in OrderInput, places int32) ([]domain.AppliedDiscount, error) {
	var applied []domain.AppliedDiscount
	remaining := in.Subtotal.Sub(in.LineDiscountTotal)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	add := func(d domain.AppliedDiscount) {
		d.Amount = pricing.Clamp(d.Amount, decimal.Zero, remaining)
		if d.Amount.IsZero() {
			return
		}
		remaining = remaining.Sub(d.Amount)
		applied = append(applied, d)
	}

	if tier, ok := BestTier(in.OrderTiers, in.TotalUnits); ok && tier.DiscountPercentage.IsPositive() {
		add(domain.AppliedDiscount{
			Kind:        domain.DiscountBulkQuantity,
			Description: fmt.Sprintf("Order volume discount (%d+ units: %s%%)", tier.MinQuantity, tier.DiscountPercentage),
			Percent:     tier.DiscountPercentage,
			Amount:      pricing.Percent(in.Subtotal, tier.DiscountPercentage, places),
		})
	}
	if in.TierPercent.IsPositive() {
		add(domain.AppliedDiscount{
			Kind:        domain.DiscountTier,
			Description: fmt.Sprintf("%s tier discount (%s%%)", titleCase(in.Tier), in.TierPercent),
			Percent:     in.TierPercent,
			Amount:      pricing.Percent(in.Subtotal, in.TierPercent, places),
		})
	}
	if code := strings.TrimSpace(in.PromoCode); code != "" {
		promo, err := FindPromotion(in.Promotions, code)
		if err == nil {
			err = promo.Validate(in.Now, in.Subtotal)
		}
		if err != nil {
			return nil, fmt.Errorf("promotion %q: %w", code, err)
		}
		add(promotionDiscount(promo, domain.DiscountPromotional, in.Subtotal, places))
	}
	for _, promo := range in.Promotions {
		if promo.Kind != PromotionSeasonal || promo.Validate(in.Now, in.Subtotal) != nil {
			continue
		}
		add(promotionDiscount(promo, domain.DiscountSeasonal, in.Subtotal, places))
	}
	return applied, nil
}

func promotionDiscount(p Promotion, kind domain.DiscountKind, subtotal decimal.Decimal, places int32) domain.AppliedDiscount {
	desc := p.Description
	if desc == "" {
		desc = fmt.Sprintf("Promotion %s (%s%%)", strings.ToUpper(p.Code), p.Percent)
	}
	return domain.AppliedDiscount{
		Kind:        kind,
		Description: desc,
		Percent:     p.Percent,
		Amount:      pricing.Percent(subtotal, p.Percent, places),
		Code:        strings.ToUpper(p.Code),
	}
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
