package rules

import (
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/discount"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Default returns the built-in rule set: Canadian retail with a handful of
// US destinations.
func Default() *BusinessRules {
	return &BusinessRules{
		Version: 1,
		Pricing: PricingRules{
			Precision: 2,
			Currency:  "CAD",
			Tiers: map[string]TierRule{
				"retail":     {MarkupPercent: d("0"), DiscountPercent: d("0")},
				"contractor": {MarkupPercent: d("0"), DiscountPercent: d("5")},
				"dealer":     {MarkupPercent: d("0"), DiscountPercent: d("10")},
				"wholesale":  {MarkupPercent: d("0"), DiscountPercent: d("15")},
			},
		},
		Discounts: DiscountRules{
			LineBulkTiers: []discount.BulkTier{
				{MinQuantity: 10, DiscountPercentage: d("2")},
				{MinQuantity: 25, DiscountPercentage: d("5")},
				{MinQuantity: 50, DiscountPercentage: d("8")},
			},
			OrderBulkTiers: []discount.BulkTier{
				{MinQuantity: 50, DiscountPercentage: d("2")},
				{MinQuantity: 100, DiscountPercentage: d("4")},
			},
			MaxManualDiscountPercent: d("50"),
		},
		Tax: TaxRules{
			DefaultCountry: "CA",
			DefaultRegion:  "ON",
			DefaultRate:    d("0.05"),
			TaxableJurisdictions: []string{
				"CA", "US-NY", "US-WA", "US-MI",
			},
			Rates: map[string][]TaxComponent{
				"CA-ON": {{Name: "HST", Rate: d("0.13")}},
				"CA-NS": {{Name: "HST", Rate: d("0.15")}},
				"CA-NB": {{Name: "HST", Rate: d("0.15")}},
				"CA-NL": {{Name: "HST", Rate: d("0.15")}},
				"CA-PE": {{Name: "HST", Rate: d("0.15")}},
				"CA-BC": {{Name: "GST", Rate: d("0.05")}, {Name: "PST", Rate: d("0.07")}},
				"CA-MB": {{Name: "GST", Rate: d("0.05")}, {Name: "RST", Rate: d("0.07")}},
				"CA-SK": {{Name: "GST", Rate: d("0.05")}, {Name: "PST", Rate: d("0.06")}},
				"CA-QC": {{Name: "GST", Rate: d("0.05")}, {Name: "QST", Rate: d("0.09975")}},
				"CA-AB": {{Name: "GST", Rate: d("0.05")}},
				"US-NY": {{Name: "State Sales Tax", Rate: d("0.04")}},
				"US-WA": {{Name: "State Sales Tax", Rate: d("0.065")}},
				"US-MI": {{Name: "State Sales Tax", Rate: d("0.06")}},
			},
			CountryAliases: map[string]string{
				"CANADA":                   "CA",
				"CAN":                      "CA",
				"US":                       "US",
				"USA":                      "US",
				"UNITED STATES":            "US",
				"UNITED STATES OF AMERICA": "US",
			},
		},
		Shipping: ShippingRules{
			FreeShippingThreshold: d("5000"),
			MediumOrderUnits:      10,
			LargeOrderUnits:       25,
			Methods: map[string]ShippingMethod{
				"standard":     {BaseCost: d("75"), PerItemCost: d("5"), PerLbCost: d("0.10"), MinDays: 5, MaxDays: 7},
				"freight":      {BaseCost: d("150"), PerItemCost: d("4"), PerLbCost: d("0.08"), MinDays: 7, MaxDays: 10},
				"white_glove":  {BaseCost: d("300"), PerItemCost: d("6"), PerLbCost: d("0.05"), MinDays: 10, MaxDays: 14},
				"installation": {BaseCost: d("200"), PerItemCost: d("5"), PerLbCost: d("0.05"), MinDays: 10, MaxDays: 21},
				"pickup":       {MinDays: 1, MaxDays: 2},
			},
			Zones: []ShippingZone{
				{Name: "GTA", PostalPrefixes: []string{"M", "L4", "L5", "L6"}, Surcharge: d("0"), MinDays: 3, MaxDays: 5},
				{Name: "Ontario", PostalPrefixes: []string{"K", "L", "N", "P"}, Surcharge: d("25"), MinDays: 5, MaxDays: 8},
				{Name: "Quebec", PostalPrefixes: []string{"G", "H", "J"}, Surcharge: d("50"), MinDays: 7, MaxDays: 10},
				{Name: "Western Canada", PostalPrefixes: []string{"R", "S", "T", "V"}, Surcharge: d("150"), MinDays: 10, MaxDays: 15},
				{Name: "Atlantic", PostalPrefixes: []string{"A", "B", "C", "E"}, Surcharge: d("125"), MinDays: 10, MaxDays: 14},
			},
			Installation: InstallationRules{
				BaseCost:      d("150"),
				PerCabinet:    d("45"),
				PerLinearFoot: d("12"),
				PerMile:       d("1.50"),
				MinimumCharge: d("300"),
			},
			WeightPerUnitLbs: d("45"),
			OriginPostalCode: "M5V",
			PickupEstimate:   "Ready for pickup in 1-2 business days",
		},
		Validation: ValidationRules{
			MinQuoteAmount:       d("0"),
			MaxQuoteAmount:       d("1000000"),
			MaxLineItemQuantity:  500,
			MaxLineItems:         200,
			MaxQuoteValidityDays: 90,
			DefaultValidityDays:  30,
		},
	}
}
