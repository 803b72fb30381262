package shipping

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func line(qty int, width, subtotal string) domain.CalculatedLineItem {
	return domain.CalculatedLineItem{
		Quantity:       qty,
		ProductVariant: domain.ProductVariant{ID: "B" + width, WidthInches: dec(width)},
		LineSubtotal:   dec(subtotal),
	}
}

var toronto = &domain.Address{City: "Toronto", Region: "ON", PostalCode: "M5V 2T6", Country: "CA"}

func TestNoAddressIsPickup(t *testing.T) {
	summary, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(3, "24", "900")}, domain.Customer{}, nil, Options{}, rules.Default())
	require.NoError(t, err)
	require.Equal(t, MethodPickup, summary.Method)
	require.True(t, summary.TotalShippingCost.IsZero())
	require.Equal(t, "Ready for pickup in 1-2 business days", summary.DeliveryEstimate)
	require.Nil(t, summary.InstallationCost)
}

func TestStandardDeliveryCost(t *testing.T) {
	summary, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(2, "24", "1000")}, domain.Customer{}, toronto, Options{}, rules.Default())
	require.NoError(t, err)
	require.Equal(t, MethodStandard, summary.Method)
	require.Equal(t, "GTA", summary.Zone)
	// 75 base + 2 x 5 per item + 90 lbs x 0.10
	require.True(t, summary.ShippingCost.Equal(dec("94")), summary.ShippingCost.String())
	require.True(t, summary.TotalShippingCost.Equal(dec("94")))
	require.Equal(t, "3-5 business days", summary.DeliveryEstimate)
}

func TestFreeShippingRegardlessOfUnits(t *testing.T) {
	r := rules.Default()
	summary, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(40, "30", "5000")}, domain.Customer{}, toronto, Options{}, r)
	require.NoError(t, err)
	require.Equal(t, MethodStandard, summary.Method)
	require.True(t, summary.FreeShipping)
	require.True(t, summary.TotalShippingCost.IsZero())
}

func TestInstallationCostAndFloor(t *testing.T) {
	calc := NewCalculator(zerolog.Nop())
	r := rules.Default()

	summary, err := calc.Calculate([]domain.CalculatedLineItem{line(2, "24", "1000")}, domain.Customer{}, toronto, Options{Installation: true}, r)
	require.NoError(t, err)
	require.Equal(t, MethodInstallation, summary.Method)
	// 200 + 2 x 5 + 90 x 0.05
	require.True(t, summary.ShippingCost.Equal(dec("214.5")), summary.ShippingCost.String())
	// 150 + 2 x 45 + 4 ft x 12 + 15 mi x 1.50
	require.True(t, summary.InstallationCost.Equal(dec("310.5")), summary.InstallationCost.String())
	require.True(t, summary.TotalShippingCost.Equal(dec("525")))

	small, err := calc.Calculate([]domain.CalculatedLineItem{line(1, "12", "300")}, domain.Customer{}, toronto, Options{Method: MethodInstallation}, r)
	require.NoError(t, err)
	require.True(t, small.InstallationCost.Equal(dec("300")))
}

func TestFreeShippingStillChargesInstallation(t *testing.T) {
	summary, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(10, "36", "6000")}, domain.Customer{}, toronto, Options{Installation: true}, rules.Default())
	require.NoError(t, err)
	require.True(t, summary.ShippingCost.IsZero())
	require.True(t, summary.InstallationCost.IsPositive())
	require.True(t, summary.TotalShippingCost.Equal(*summary.InstallationCost))
}

func TestInstallationNeedsAddress(t *testing.T) {
	_, err := NewCalculator(zerolog.Nop()).Calculate(nil, domain.Customer{}, nil, Options{Installation: true}, rules.Default())
	require.True(t, common.IsKind(err, common.KindValidation))
}

func TestUnknownMethodIsValidationError(t *testing.T) {
	_, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(1, "24", "100")}, domain.Customer{}, toronto, Options{Method: "drone"}, rules.Default())
	require.True(t, common.IsKind(err, common.KindValidation))
}

func TestSelectMethodIsMonotone(t *testing.T) {
	s := rules.Default().Shipping
	prev := 0
	for units := 0; units <= 100; units++ {
		rank := Rank(SelectMethod(units, s))
		require.GreaterOrEqual(t, rank, prev, "units %d", units)
		prev = rank
	}
	require.Equal(t, MethodStandard, SelectMethod(9, s))
	require.Equal(t, MethodFreight, SelectMethod(10, s))
	require.Equal(t, MethodWhiteGlove, SelectMethod(25, s))
}

func TestMatchZoneLongestPrefix(t *testing.T) {
	zones := rules.Default().Shipping.Zones
	zone, ok := MatchZone("l4b 1a1", zones)
	require.True(t, ok)
	require.Equal(t, "GTA", zone.Name)

	zone, ok = MatchZone("L9T", zones)
	require.True(t, ok)
	require.Equal(t, "Ontario", zone.Name)

	_, ok = MatchZone("90210", zones)
	require.False(t, ok)
}

func TestNoZoneUsesMethodEstimateAndNoSurcharge(t *testing.T) {
	dest := &domain.Address{PostalCode: "90210", Country: "US", Region: "CA"}
	summary, err := NewCalculator(zerolog.Nop()).Calculate([]domain.CalculatedLineItem{line(1, "24", "100")}, domain.Customer{}, dest, Options{}, rules.Default())
	require.NoError(t, err)
	require.Empty(t, summary.Zone)
	require.Equal(t, "5-7 business days", summary.DeliveryEstimate)
	// 75 + 5 + 45 x 0.10
	require.True(t, summary.ShippingCost.Equal(dec("84.5")))
}

type fixedWeight struct{ lbs decimal.Decimal }

func (f fixedWeight) EstimateWeight(domain.CalculatedLineItem, *rules.BusinessRules) decimal.Decimal {
	return f.lbs
}

func TestPluggableEstimators(t *testing.T) {
	calc := Calculator{Weights: fixedWeight{lbs: dec("1000")}}
	summary, err := calc.Calculate([]domain.CalculatedLineItem{line(1, "24", "100")}, domain.Customer{}, toronto, Options{}, rules.Default())
	require.NoError(t, err)
	// 75 + 5 + 1000 x 0.10
	require.True(t, summary.ShippingCost.Equal(dec("180")))
}

func TestPostalPrefixDistance(t *testing.T) {
	r := rules.Default()
	d := DefaultDistance()
	require.True(t, d.EstimateDistance(domain.Address{PostalCode: "M5V 3L9"}, r).Equal(dec("15")))
	require.True(t, d.EstimateDistance(domain.Address{PostalCode: "M4C"}, r).Equal(dec("60")))
	require.True(t, d.EstimateDistance(domain.Address{PostalCode: "V6B"}, r).Equal(dec("250")))
}
