package tax

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func customerIn(region, country string) domain.Customer {
	return domain.Customer{ID: "cust-1", Address: &domain.Address{Region: region, Country: country}}
}

func TestCombinedRateJurisdiction(t *testing.T) {
	r := rules.Default()
	summary, err := Calculator{}.Calculate(dec("1000"), customerIn("ON", "Canada"), nil, r, true)
	require.NoError(t, err)
	require.Equal(t, domain.TaxStatusTaxed, summary.Status)
	require.Equal(t, "CA-ON", summary.Jurisdiction)
	require.Len(t, summary.Details, 1)
	require.True(t, summary.Details[0].Amount.Equal(dec("130")))
	require.True(t, summary.TaxAmount.Equal(dec("130")))
	require.True(t, summary.Rate.Equal(dec("0.13")))
}

func TestTwoComponentJurisdiction(t *testing.T) {
	r := rules.Default()
	summary, err := Calculator{}.CalculateForJurisdiction(dec("1000"), "BC", r)
	require.NoError(t, err)
	require.Len(t, summary.Details, 2)
	require.Equal(t, "GST", summary.Details[0].Name)
	require.True(t, summary.Details[0].Amount.Equal(dec("50")))
	require.Equal(t, "PST", summary.Details[1].Name)
	require.True(t, summary.Details[1].Amount.Equal(dec("70")))
	require.True(t, summary.TaxAmount.Equal(dec("120")))
}

func TestComponentsRoundedIndividually(t *testing.T) {
	r := rules.Default()
	summary, err := Calculator{}.CalculateForJurisdiction(dec("99.99"), "CA-QC", r)
	require.NoError(t, err)
	require.True(t, summary.Details[0].Amount.Equal(dec("5")))    // 4.9995
	require.True(t, summary.Details[1].Amount.Equal(dec("9.97"))) // 9.9740025
	require.True(t, summary.TaxAmount.Equal(dec("14.97")))
}

func TestShippingAddressPreferred(t *testing.T) {
	r := rules.Default()
	ship := &domain.Address{Region: "bc", Country: " canada "}
	summary, err := Calculator{}.Calculate(dec("100"), customerIn("ON", "CA"), ship, r, true)
	require.NoError(t, err)
	require.Equal(t, "CA-BC", summary.Jurisdiction)
}

func TestDefaultCountryAndRegion(t *testing.T) {
	r := rules.Default()
	summary, err := Calculator{}.Calculate(dec("100"), domain.Customer{ID: "walk-in"}, nil, r, true)
	require.NoError(t, err)
	require.Equal(t, "CA-ON", summary.Jurisdiction)
	require.True(t, summary.TaxAmount.Equal(dec("13")))
}

func TestExemptAndOptedOutAreDistinct(t *testing.T) {
	r := rules.Default()
	r.Tax.ExemptCustomerIDs = []string{"cust-1"}

	exempt, err := Calculator{}.Calculate(dec("1000"), customerIn("ON", "CA"), nil, r, true)
	require.NoError(t, err)
	require.Equal(t, domain.TaxStatusExempt, exempt.Status)
	require.True(t, exempt.Exempt)
	require.True(t, exempt.TaxAmount.IsZero())

	optedOut, err := Calculator{}.Calculate(dec("1000"), domain.Customer{ID: "other"}, nil, r, false)
	require.NoError(t, err)
	require.Equal(t, domain.TaxStatusOptedOut, optedOut.Status)
	require.False(t, optedOut.Exempt)
	require.Empty(t, optedOut.Details)
}

func TestNonTaxableJurisdictionIsZero(t *testing.T) {
	r := rules.Default()
	summary, err := Calculator{}.Calculate(dec("1000"), customerIn("OR", "USA"), nil, r, true)
	require.NoError(t, err)
	require.Equal(t, "US-OR", summary.Jurisdiction)
	require.Equal(t, domain.TaxStatusNonTaxableJurisdiction, summary.Status)
	require.True(t, summary.TaxAmount.IsZero())
}

func TestDefaultRateFallbackIsLogged(t *testing.T) {
	r := rules.Default()
	r.Tax.TaxableJurisdictions = append(r.Tax.TaxableJurisdictions, "US-TX")
	var buf bytes.Buffer
	calc := Calculator{Logger: zerolog.New(&buf)}

	summary, err := calc.Calculate(dec("200"), customerIn("TX", "United States"), nil, r, true)
	require.NoError(t, err)
	require.True(t, summary.DefaultRateUsed)
	require.Len(t, summary.Details, 1)
	require.Equal(t, DefaultComponentName, summary.Details[0].Name)
	require.True(t, summary.TaxAmount.Equal(dec("10")))
	require.Contains(t, buf.String(), "tax_default_rate_used")
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestZeroRateComponentsOmitted(t *testing.T) {
	r := rules.Default()
	r.Tax.Rates["CA-AB"] = []rules.TaxComponent{{Name: "GST", Rate: dec("0.05")}, {Name: "PST", Rate: decimal.Zero}}
	summary, err := Calculator{}.CalculateForJurisdiction(dec("100"), "AB", r)
	require.NoError(t, err)
	require.Len(t, summary.Details, 1)
	require.Equal(t, "GST", summary.Details[0].Name)
}

func TestValidationFailures(t *testing.T) {
	r := rules.Default()
	_, err := Calculator{}.CalculateForJurisdiction(dec("100"), "  ", r)
	require.True(t, common.IsKind(err, common.KindValidation))

	_, err = Calculator{}.Calculate(dec("-1"), customerIn("ON", "CA"), nil, r, true)
	require.True(t, common.IsKind(err, common.KindValidation))

	_, _, err = LookupRate(Jurisdiction{}, r.Tax)
	require.True(t, common.IsKind(err, common.KindValidation))
}

func TestParseJurisdiction(t *testing.T) {
	r := rules.Default()
	j, err := ParseJurisdiction("qc", r.Tax)
	require.NoError(t, err)
	require.Equal(t, Jurisdiction{Country: "CA", Region: "QC"}, j)

	j, err = ParseJurisdiction("usa-ny", r.Tax)
	require.NoError(t, err)
	require.Equal(t, "US-NY", j.Label())

	j, err = ParseJurisdiction("CANADA", r.Tax)
	require.NoError(t, err)
	require.Equal(t, "CA", j.Label())
}
