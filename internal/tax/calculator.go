// Package tax resolves a tax jurisdiction and computes the per-component
// tax breakdown for a taxable amount.
package tax

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/obs"
	"github.com/noah-isme/cabinet-quote/internal/pricing"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

// DefaultComponentName labels tax charged at the global default rate.
const DefaultComponentName = "Sales Tax"

// Jurisdiction is a normalised country plus optional region.
type Jurisdiction struct {
	Country string
	Region  string
}

// Label renders the jurisdiction as "CA-BC", or just the country.
func (j Jurisdiction) Label() string {
	if j.Region == "" {
		return j.Country
	}
	return j.Country + "-" + j.Region
}

// Empty reports whether nothing was resolved.
func (j Jurisdiction) Empty() bool {
	return j.Country == "" && j.Region == ""
}

// ParseJurisdiction reads "CA-BC", "BC" or "CA" style strings. A bare two
// letter code that is configured as a region key is treated as a region of
// the default country.
func ParseJurisdiction(raw string, taxRules rules.TaxRules) (Jurisdiction, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return Jurisdiction{}, common.Validation("tax jurisdiction must not be empty")
	}
	if country, region, ok := strings.Cut(raw, "-"); ok {
		return Jurisdiction{Country: NormalizeCountry(country, taxRules), Region: strings.TrimSpace(region)}, nil
	}
	if _, ok := taxRules.Rates[raw]; ok {
		return Jurisdiction{Country: NormalizeCountry(taxRules.DefaultCountry, taxRules), Region: raw}, nil
	}
	if _, ok := taxRules.Rates[NormalizeCountry(taxRules.DefaultCountry, taxRules)+"-"+raw]; ok {
		return Jurisdiction{Country: NormalizeCountry(taxRules.DefaultCountry, taxRules), Region: raw}, nil
	}
	return Jurisdiction{Country: NormalizeCountry(raw, taxRules)}, nil
}

// NormalizeCountry maps country spellings onto canonical codes using the
// configured aliases. Matching ignores case and surrounding or repeated spaces.
func NormalizeCountry(country string, taxRules rules.TaxRules) string {
	key := strings.ToUpper(strings.Join(strings.Fields(country), " "))
	if key == "" {
		return ""
	}
	for alias, code := range taxRules.CountryAliases {
		if strings.ToUpper(strings.Join(strings.Fields(alias), " ")) == key {
			return strings.ToUpper(code)
		}
	}
	return key
}

// ResolveJurisdiction prefers the shipping address, falls back to the
// customer address, and fills the configured default country and region
// when either is missing.
func ResolveJurisdiction(customer domain.Customer, shipTo *domain.Address, taxRules rules.TaxRules) Jurisdiction {
	addr := shipTo
	if addr == nil {
		addr = customer.Address
	}
	var j Jurisdiction
	if addr != nil {
		j.Country = NormalizeCountry(addr.Country, taxRules)
		j.Region = strings.ToUpper(strings.TrimSpace(addr.Region))
	}
	defaultCountry := NormalizeCountry(taxRules.DefaultCountry, taxRules)
	if j.Country == "" {
		j.Country = defaultCountry
	}
	if j.Region == "" && j.Country == defaultCountry {
		j.Region = strings.ToUpper(strings.TrimSpace(taxRules.DefaultRegion))
	}
	return j
}

// Taxable reports whether the jurisdiction is listed as taxable, either by
// its full label or by its country.
func Taxable(j Jurisdiction, taxRules rules.TaxRules) bool {
	for _, entry := range taxRules.TaxableJurisdictions {
		entry = strings.ToUpper(strings.TrimSpace(entry))
		if entry == j.Label() || entry == j.Country {
			return true
		}
	}
	return false
}

// LookupRate returns the configured components for the jurisdiction, trying
// the full label before the bare region. The bool is false when the default
// rate had to be used.
func LookupRate(j Jurisdiction, taxRules rules.TaxRules) ([]rules.TaxComponent, bool, error) {
	if j.Empty() {
		return nil, false, common.Validation("tax jurisdiction must not be empty")
	}
	comps, specific := lookup(j, taxRules)
	return comps, specific, nil
}

func lookup(j Jurisdiction, taxRules rules.TaxRules) ([]rules.TaxComponent, bool) {
	if comps, ok := taxRules.Rates[j.Label()]; ok {
		return comps, true
	}
	if j.Region != "" {
		if comps, ok := taxRules.Rates[j.Region]; ok {
			return comps, true
		}
	}
	return []rules.TaxComponent{{Name: DefaultComponentName, Rate: taxRules.DefaultRate}}, false
}

// Calculator computes tax summaries.
type Calculator struct {
	Logger zerolog.Logger
}

// Calculate returns the tax breakdown for taxable. Opted-out and exempt
// customers get a zero summary tagged with the reason; jurisdictions outside
// the taxable list get zero tax. Each component amount is rounded on its own
// and the tax amount is their sum.
func (c Calculator) Calculate(taxable decimal.Decimal, customer domain.Customer, shipTo *domain.Address, r *rules.BusinessRules, applyTax bool) (domain.TaxSummary, error) {
	places := r.Precision()
	if taxable.IsNegative() {
		return domain.TaxSummary{}, common.Validation("taxable amount must not be negative (got %s)", taxable)
	}
	taxable = pricing.Round(taxable, places)
	j := ResolveJurisdiction(customer, shipTo, r.Tax)
	summary := domain.TaxSummary{
		TaxableAmount: taxable,
		Jurisdiction:  j.Label(),
		Rate:          decimal.Zero,
		TaxAmount:     decimal.Zero,
		Details:       []domain.TaxDetail{},
	}

	switch {
	case !applyTax:
		summary.Status = domain.TaxStatusOptedOut
		return summary, nil
	case isExempt(customer.ID, r.Tax.ExemptCustomerIDs):
		summary.Status = domain.TaxStatusExempt
		summary.Exempt = true
		return summary, nil
	case j.Empty():
		return domain.TaxSummary{}, common.Validation("tax jurisdiction could not be resolved")
	case !Taxable(j, r.Tax):
		summary.Status = domain.TaxStatusNonTaxableJurisdiction
		return summary, nil
	}

	return c.charge(summary, j, r), nil
}

// CalculateForJurisdiction computes tax for an explicit jurisdiction string
// such as "ON" or "CA-BC". Exemptions do not apply.
func (c Calculator) CalculateForJurisdiction(taxable decimal.Decimal, jurisdiction string, r *rules.BusinessRules) (domain.TaxSummary, error) {
	if taxable.IsNegative() {
		return domain.TaxSummary{}, common.Validation("taxable amount must not be negative (got %s)", taxable)
	}
	j, err := ParseJurisdiction(jurisdiction, r.Tax)
	if err != nil {
		return domain.TaxSummary{}, err
	}
	summary := domain.TaxSummary{
		TaxableAmount: pricing.Round(taxable, r.Precision()),
		Jurisdiction:  j.Label(),
		Rate:          decimal.Zero,
		TaxAmount:     decimal.Zero,
		Details:       []domain.TaxDetail{},
	}
	if !Taxable(j, r.Tax) {
		summary.Status = domain.TaxStatusNonTaxableJurisdiction
		return summary, nil
	}
	return c.charge(summary, j, r), nil
}

func (c Calculator) charge(summary domain.TaxSummary, j Jurisdiction, r *rules.BusinessRules) domain.TaxSummary {
	places := r.Precision()
	comps, specific := lookup(j, r.Tax)
	if !specific {
		summary.DefaultRateUsed = true
		obs.IncTaxDefaultRate(j.Label())
		c.Logger.Warn().
			Str("jurisdiction", j.Label()).
			Str("default_rate", r.Tax.DefaultRate.String()).
			Msg("tax_default_rate_used")
	}

	summary.Status = domain.TaxStatusTaxed
	for _, comp := range comps {
		if comp.Rate.IsZero() {
			continue
		}
		amount := pricing.ApplyRate(summary.TaxableAmount, comp.Rate, places)
		summary.Details = append(summary.Details, domain.TaxDetail{Name: comp.Name, Rate: comp.Rate, Amount: amount})
		summary.Rate = summary.Rate.Add(comp.Rate)
		summary.TaxAmount = summary.TaxAmount.Add(amount)
	}
	return summary
}

func isExempt(customerID string, exempt []string) bool {
	for _, id := range exempt {
		if id != "" && id == customerID {
			return true
		}
	}
	return false
}
