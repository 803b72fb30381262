package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQuoteCalculationCloneIsIndependent(t *testing.T) {
	weight := decimal.NewFromInt(40)
	install := decimal.NewFromInt(250)
	original := &QuoteCalculation{
		Customer: Customer{ID: "c1", Address: &Address{Region: "ON", Country: "CA"}},
		LineItems: []CalculatedLineItem{{
			LineNumber:     1,
			ProductVariant: ProductVariant{ID: "B24", WeightLbs: &weight},
			Discounts:      []AppliedDiscount{{Kind: DiscountManual, Amount: decimal.NewFromInt(5)}},
		}},
		Discounts: DiscountSummary{Applied: []AppliedDiscount{{Kind: DiscountTier}}},
		Tax:       TaxSummary{Details: []TaxDetail{{Name: "HST", Rate: decimal.RequireFromString("0.13")}}},
		Shipping:  ShippingSummary{InstallationCost: &install},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Customer.Address.Region = "BC"
	clone.LineItems[0].Discounts[0].Kind = DiscountBulkQuantity
	*clone.LineItems[0].ProductVariant.WeightLbs = decimal.NewFromInt(1)
	clone.Discounts.Applied[0].Kind = DiscountSeasonal
	clone.Tax.Details[0].Name = "GST"
	*clone.Shipping.InstallationCost = decimal.Zero

	require.Equal(t, "ON", original.Customer.Address.Region)
	require.Equal(t, DiscountManual, original.LineItems[0].Discounts[0].Kind)
	require.True(t, original.LineItems[0].ProductVariant.WeightLbs.Equal(decimal.NewFromInt(40)))
	require.Equal(t, DiscountTier, original.Discounts.Applied[0].Kind)
	require.Equal(t, "HST", original.Tax.Details[0].Name)
	require.True(t, original.Shipping.InstallationCost.Equal(decimal.NewFromInt(250)))
}

func TestCloneNil(t *testing.T) {
	var q *QuoteCalculation
	require.Nil(t, q.Clone())
}
