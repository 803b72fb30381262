// Package rules owns the BusinessRules value object: its defaults, its
// validation, the stores it is loaded from and the TTL-cached provider the
// calculators read it through.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/discount"
)

// BusinessRules aggregates every rule set a calculation depends on. A value
// handed out by the Provider is shared and must be treated as read-only;
// updates go through Provider.UpdateRules which swaps in a new value.
type BusinessRules struct {
	Version    int             `yaml:"version" json:"version"`
	UpdatedAt  time.Time       `yaml:"updated_at" json:"updatedAt"`
	Pricing    PricingRules    `yaml:"pricing" json:"pricing"`
	Discounts  DiscountRules   `yaml:"discounts" json:"discounts"`
	Tax        TaxRules        `yaml:"tax" json:"tax"`
	Shipping   ShippingRules   `yaml:"shipping" json:"shipping"`
	Validation ValidationRules `yaml:"validation" json:"validation"`
}

// TierRule prices one customer tier.
type TierRule struct {
	// MarkupPercent raises the catalog list price for this tier.
	MarkupPercent decimal.Decimal `yaml:"markup_percent" json:"markupPercent"`
	// DiscountPercent is the order-level tier discount.
	DiscountPercent decimal.Decimal `yaml:"discount_percent" json:"discountPercent"`
}

// PricingRules controls price resolution and rounding.
type PricingRules struct {
	Precision int32               `yaml:"precision" json:"precision"`
	Currency  string              `yaml:"currency" json:"currency"`
	Tiers     map[string]TierRule `yaml:"tiers" json:"tiers"`
}

// DiscountRules holds the bulk tables and promotions.
type DiscountRules struct {
	LineBulkTiers            []discount.BulkTier  `yaml:"line_bulk_tiers" json:"lineBulkTiers"`
	OrderBulkTiers           []discount.BulkTier  `yaml:"order_bulk_tiers" json:"orderBulkTiers"`
	MaxManualDiscountPercent decimal.Decimal      `yaml:"max_manual_discount_percent" json:"maxManualDiscountPercent"`
	Promotions               []discount.Promotion `yaml:"promotions" json:"promotions"`
}

// TaxComponent is one named levy, as a fraction (0.05 for 5%).
type TaxComponent struct {
	Name string          `yaml:"name" json:"name"`
	Rate decimal.Decimal `yaml:"rate" json:"rate"`
}

// TaxRules configures jurisdiction resolution and rates.
type TaxRules struct {
	DefaultCountry string `yaml:"default_country" json:"defaultCountry"`
	DefaultRegion  string `yaml:"default_region" json:"defaultRegion"`
	// DefaultRate is charged in taxable jurisdictions without a configured rate.
	DefaultRate decimal.Decimal `yaml:"default_rate" json:"defaultRate"`
	// TaxableJurisdictions lists country codes ("CA") or country-region labels ("US-NY").
	TaxableJurisdictions []string `yaml:"taxable_jurisdictions" json:"taxableJurisdictions"`
	// Rates is keyed by label ("CA-BC") or bare region code ("BC").
	Rates map[string][]TaxComponent `yaml:"rates" json:"rates"`
	// CountryAliases maps normalised spellings ("CANADA") to canonical codes ("CA").
	CountryAliases    map[string]string `yaml:"country_aliases" json:"countryAliases"`
	ExemptCustomerIDs []string          `yaml:"exempt_customer_ids" json:"exemptCustomerIds"`
}

// ShippingMethod prices one delivery method.
type ShippingMethod struct {
	BaseCost    decimal.Decimal `yaml:"base_cost" json:"baseCost"`
	PerItemCost decimal.Decimal `yaml:"per_item_cost" json:"perItemCost"`
	PerLbCost   decimal.Decimal `yaml:"per_lb_cost" json:"perLbCost"`
	MinDays     int             `yaml:"min_days" json:"minDays"`
	MaxDays     int             `yaml:"max_days" json:"maxDays"`
}

// ShippingZone adds a surcharge and lead time to destinations matching a postal prefix.
type ShippingZone struct {
	Name           string          `yaml:"name" json:"name"`
	PostalPrefixes []string        `yaml:"postal_prefixes" json:"postalPrefixes"`
	Surcharge      decimal.Decimal `yaml:"surcharge" json:"surcharge"`
	MinDays        int             `yaml:"min_days" json:"minDays"`
	MaxDays        int             `yaml:"max_days" json:"maxDays"`
}

// InstallationRules prices on-site installation.
type InstallationRules struct {
	BaseCost      decimal.Decimal `yaml:"base_cost" json:"baseCost"`
	PerCabinet    decimal.Decimal `yaml:"per_cabinet" json:"perCabinet"`
	PerLinearFoot decimal.Decimal `yaml:"per_linear_foot" json:"perLinearFoot"`
	PerMile       decimal.Decimal `yaml:"per_mile" json:"perMile"`
	MinimumCharge decimal.Decimal `yaml:"minimum_charge" json:"minimumCharge"`
}

// ShippingRules configures method selection and costing.
type ShippingRules struct {
	FreeShippingThreshold decimal.Decimal           `yaml:"free_shipping_threshold" json:"freeShippingThreshold"`
	MediumOrderUnits      int                       `yaml:"medium_order_units" json:"mediumOrderUnits"`
	LargeOrderUnits       int                       `yaml:"large_order_units" json:"largeOrderUnits"`
	Methods               map[string]ShippingMethod `yaml:"methods" json:"methods"`
	Zones                 []ShippingZone            `yaml:"zones" json:"zones"`
	Installation          InstallationRules         `yaml:"installation" json:"installation"`
	WeightPerUnitLbs      decimal.Decimal           `yaml:"weight_per_unit_lbs" json:"weightPerUnitLbs"`
	OriginPostalCode      string                    `yaml:"origin_postal_code" json:"originPostalCode"`
	PickupEstimate        string                    `yaml:"pickup_estimate" json:"pickupEstimate"`
}

// ValidationRules bound quotes as a whole.
type ValidationRules struct {
	MinQuoteAmount       decimal.Decimal `yaml:"min_quote_amount" json:"minQuoteAmount"`
	MaxQuoteAmount       decimal.Decimal `yaml:"max_quote_amount" json:"maxQuoteAmount"`
	MaxLineItemQuantity  int             `yaml:"max_line_item_quantity" json:"maxLineItemQuantity"`
	MaxLineItems         int             `yaml:"max_line_items" json:"maxLineItems"`
	MaxQuoteValidityDays int             `yaml:"max_quote_validity_days" json:"maxQuoteValidityDays"`
	DefaultValidityDays  int             `yaml:"default_validity_days" json:"defaultValidityDays"`
}

// Clone returns a deep copy safe to modify.
func (r *BusinessRules) Clone() *BusinessRules {
	if r == nil {
		return nil
	}
	out := *r
	if r.Pricing.Tiers != nil {
		out.Pricing.Tiers = make(map[string]TierRule, len(r.Pricing.Tiers))
		for k, v := range r.Pricing.Tiers {
			out.Pricing.Tiers[k] = v
		}
	}
	out.Discounts.LineBulkTiers = append([]discount.BulkTier(nil), r.Discounts.LineBulkTiers...)
	out.Discounts.OrderBulkTiers = append([]discount.BulkTier(nil), r.Discounts.OrderBulkTiers...)
	if r.Discounts.Promotions != nil {
		out.Discounts.Promotions = make([]discount.Promotion, len(r.Discounts.Promotions))
		for i, p := range r.Discounts.Promotions {
			p.ValidFrom = cloneTime(p.ValidFrom)
			p.ValidTo = cloneTime(p.ValidTo)
			out.Discounts.Promotions[i] = p
		}
	}
	out.Tax.TaxableJurisdictions = append([]string(nil), r.Tax.TaxableJurisdictions...)
	out.Tax.ExemptCustomerIDs = append([]string(nil), r.Tax.ExemptCustomerIDs...)
	if r.Tax.Rates != nil {
		out.Tax.Rates = make(map[string][]TaxComponent, len(r.Tax.Rates))
		for k, v := range r.Tax.Rates {
			out.Tax.Rates[k] = append([]TaxComponent(nil), v...)
		}
	}
	if r.Tax.CountryAliases != nil {
		out.Tax.CountryAliases = make(map[string]string, len(r.Tax.CountryAliases))
		for k, v := range r.Tax.CountryAliases {
			out.Tax.CountryAliases[k] = v
		}
	}
	if r.Shipping.Methods != nil {
		out.Shipping.Methods = make(map[string]ShippingMethod, len(r.Shipping.Methods))
		for k, v := range r.Shipping.Methods {
			out.Shipping.Methods[k] = v
		}
	}
	if r.Shipping.Zones != nil {
		out.Shipping.Zones = make([]ShippingZone, len(r.Shipping.Zones))
		for i, z := range r.Shipping.Zones {
			z.PostalPrefixes = append([]string(nil), z.PostalPrefixes...)
			out.Shipping.Zones[i] = z
		}
	}
	return &out
}

// Precision returns the configured price precision.
func (r *BusinessRules) Precision() int32 {
	return r.Pricing.Precision
}

// Tier returns the rule for a customer tier.
func (r *BusinessRules) Tier(name string) (TierRule, bool) {
	t, ok := r.Pricing.Tiers[name]
	return t, ok
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
