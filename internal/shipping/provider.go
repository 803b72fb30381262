package shipping

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

// WeightEstimator estimates the shipping weight of a priced line in pounds.
type WeightEstimator interface {
	EstimateWeight(line domain.CalculatedLineItem, r *rules.BusinessRules) decimal.Decimal
}

// DistanceEstimator estimates the travel distance in miles from the shop to a destination.
type DistanceEstimator interface {
	EstimateDistance(dest domain.Address, r *rules.BusinessRules) decimal.Decimal
}

// UnitWeightEstimator uses the variant weight when the catalog has one and
// the configured per-unit constant otherwise.
type UnitWeightEstimator struct{}

// EstimateWeight implements WeightEstimator.
func (UnitWeightEstimator) EstimateWeight(line domain.CalculatedLineItem, r *rules.BusinessRules) decimal.Decimal {
	per := r.Shipping.WeightPerUnitLbs
	if w := line.ProductVariant.WeightLbs; w != nil && w.IsPositive() {
		per = *w
	}
	return per.Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// PostalPrefixDistance is a coarse placeholder: destinations sharing the
// origin's forward sortation area are local, sharing its first letter are
// regional, anything else is long haul.
type PostalPrefixDistance struct {
	Local    decimal.Decimal
	Regional decimal.Decimal
	LongHaul decimal.Decimal
}

// DefaultDistance returns the estimator with the built-in mileage bands.
func DefaultDistance() PostalPrefixDistance {
	return PostalPrefixDistance{
		Local:    decimal.NewFromInt(15),
		Regional: decimal.NewFromInt(60),
		LongHaul: decimal.NewFromInt(250),
	}
}

// EstimateDistance implements DistanceEstimator.
func (p PostalPrefixDistance) EstimateDistance(dest domain.Address, r *rules.BusinessRules) decimal.Decimal {
	origin := normalizePostal(r.Shipping.OriginPostalCode)
	target := normalizePostal(dest.PostalCode)
	switch {
	case origin == "" || target == "":
		return p.Regional
	case len(origin) >= 3 && len(target) >= 3 && origin[:3] == target[:3]:
		return p.Local
	case origin[0] == target[0]:
		return p.Regional
	default:
		return p.LongHaul
	}
}

func normalizePostal(code string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(code) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
