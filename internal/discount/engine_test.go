package discount

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

var lineTiers = []BulkTier{
	{MinQuantity: 10, DiscountPercentage: dec("2")},
	{MinQuantity: 25, DiscountPercentage: dec("5")},
}

func TestBulkThresholdScenario(t *testing.T) {
	applied, total := LineDiscounts(LineInput{LineNumber: 1, Subtotal: dec("1200"), Quantity: 12}, lineTiers, 2)
	require.Len(t, applied, 1)
	require.Equal(t, domain.DiscountBulkQuantity, applied[0].Kind)
	require.True(t, total.Equal(dec("24")), total.String())
	require.True(t, dec("1200").Sub(total).Equal(dec("1176")))
}

func TestManualThenBulkAreAdditiveOnBase(t *testing.T) {
	applied, total := LineDiscounts(LineInput{
		LineNumber:    2,
		Subtotal:      dec("1000"),
		Quantity:      10,
		ManualPercent: ptr(dec("10")),
	}, lineTiers, 2)
	require.Len(t, applied, 2)
	require.Equal(t, domain.DiscountManual, applied[0].Kind)
	require.Equal(t, domain.DiscountBulkQuantity, applied[1].Kind)
	require.True(t, applied[0].Amount.Equal(dec("100")))
	// 2% of the un-discounted 1000, not of 900
	require.True(t, applied[1].Amount.Equal(dec("20")))
	require.True(t, total.Equal(dec("120")))
	require.Equal(t, 2, applied[1].LineNumber)
}

func TestLineDiscountClampedToSubtotal(t *testing.T) {
	_, total := LineDiscounts(LineInput{Subtotal: dec("50"), Quantity: 30, ManualPercent: ptr(dec("100"))}, lineTiers, 2)
	require.True(t, total.Equal(dec("50")))
}

func TestLineTotalMonotoneInQuantity(t *testing.T) {
	unit := dec("100")
	prevTotal := decimal.Zero
	prevDiscountPct := decimal.Zero
	for qty := 1; qty <= 40; qty++ {
		subtotal := unit.Mul(decimal.NewFromInt(int64(qty)))
		applied, disc := LineDiscounts(LineInput{Subtotal: subtotal, Quantity: qty}, lineTiers, 2)
		lineTotal := subtotal.Sub(disc)
		pct := decimal.Zero
		if len(applied) > 0 {
			pct = applied[0].Percent
		}
		if lineTotal.LessThan(prevTotal) {
			require.True(t, pct.GreaterThan(prevDiscountPct), "qty %d decreased total without crossing a tier", qty)
		}
		prevTotal, prevDiscountPct = lineTotal, pct
	}
}

func TestValidateTiers(t *testing.T) {
	require.Empty(t, ValidateTiers("line", lineTiers))
	violations := ValidateTiers("line", []BulkTier{
		{MinQuantity: 10, DiscountPercentage: dec("5")},
		{MinQuantity: 20, DiscountPercentage: dec("5")},
		{MinQuantity: 30, DiscountPercentage: dec("120")},
	})
	require.Len(t, violations, 2)
	require.Len(t, ValidateTiers("order", []BulkTier{{MinQuantity: 0, DiscountPercentage: dec("1")}}), 1)
}

func TestOrderDiscountsOrderAndClamp(t *testing.T) {
	now := time.Date(2026, 12, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(-24 * time.Hour)
	to := now.Add(24 * time.Hour)
	applied, err := OrderDiscounts(OrderInput{
		Subtotal:          dec("2000"),
		LineDiscountTotal: dec("40"),
		TotalUnits:        30,
		OrderTiers:        []BulkTier{{MinQuantity: 25, DiscountPercentage: dec("3")}},
		Tier:              "contractor",
		TierPercent:       dec("5"),
		PromoCode:         "spring10",
		Promotions: []Promotion{
			{Code: "SPRING10", Kind: PromotionPromotional, Percent: dec("10")},
			{Code: "HOLIDAY", Kind: PromotionSeasonal, Percent: dec("2"), ValidFrom: &from, ValidTo: &to},
		},
		Now: now,
	}, 2)
	require.NoError(t, err)
	require.Len(t, applied, 4)
	require.Equal(t, domain.DiscountBulkQuantity, applied[0].Kind)
	require.True(t, applied[0].Amount.Equal(dec("60")))
	require.Equal(t, domain.DiscountTier, applied[1].Kind)
	require.True(t, applied[1].Amount.Equal(dec("100")))
	require.Equal(t, domain.DiscountPromotional, applied[2].Kind)
	require.True(t, applied[2].Amount.Equal(dec("200")))
	require.Equal(t, "SPRING10", applied[2].Code)
	require.Equal(t, domain.DiscountSeasonal, applied[3].Kind)
	require.True(t, applied[3].Amount.Equal(dec("40")))
}

func TestOrderDiscountsNeverExceedSubtotal(t *testing.T) {
	applied, err := OrderDiscounts(OrderInput{
		Subtotal:          dec("100"),
		LineDiscountTotal: dec("90"),
		Tier:              "wholesale",
		TierPercent:       dec("50"),
	}, 2)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	require.True(t, applied[0].Amount.Equal(dec("10")))
}

func TestOrderDiscountsPromotionErrors(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	promos := []Promotion{
		{Code: "OLD", Kind: PromotionPromotional, Percent: dec("5"), ValidTo: &past},
		{Code: "SOON", Kind: PromotionPromotional, Percent: dec("5"), ValidFrom: &future},
		{Code: "BIG", Kind: PromotionPromotional, Percent: dec("5"), MinSubtotal: dec("5000")},
		{Code: "XMAS", Kind: PromotionSeasonal, Percent: dec("5")},
	}
	cases := map[string]error{
		"OLD":     ErrPromotionExpired,
		"SOON":    ErrPromotionInactive,
		"BIG":     ErrMinimumSubtotalUnmet,
		"MISSING": ErrPromotionUnknown,
		"XMAS":    ErrPromotionUnknown,
	}
	for code, want := range cases {
		_, err := OrderDiscounts(OrderInput{Subtotal: dec("100"), PromoCode: code, Promotions: promos, Now: now}, 2)
		require.True(t, errors.Is(err, want), "code %s: %v", code, err)
	}
}

func TestSeasonalOutsideWindowSkipped(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	from := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	applied, err := OrderDiscounts(OrderInput{
		Subtotal:   dec("1000"),
		Promotions: []Promotion{{Code: "HOLIDAY", Kind: PromotionSeasonal, Percent: dec("5"), ValidFrom: &from, ValidTo: &to}},
		Now:        now,
	}, 2)
	require.NoError(t, err)
	require.Empty(t, applied)
}
