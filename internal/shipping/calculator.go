// Package shipping selects a delivery method and prices delivery and
// installation for a set of priced lines.
package shipping

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/pricing"
	"github.com/noah-isme/cabinet-quote/internal/rules"
)

// Delivery methods.
const (
	MethodPickup       = "pickup"
	MethodStandard     = "standard"
	MethodFreight      = "freight"
	MethodWhiteGlove   = "white_glove"
	MethodInstallation = "installation"
)

const defaultPickupEstimate = "Ready for pickup in 1-2 business days"

var twelve = decimal.NewFromInt(12)

// Rank orders the unit-count driven methods; higher means a more expensive
// service tier. Methods outside the heuristic rank zero.
func Rank(method string) int {
	switch method {
	case MethodStandard:
		return 1
	case MethodFreight:
		return 2
	case MethodWhiteGlove:
		return 3
	default:
		return 0
	}
}

// SelectMethod applies the unit-count policy: below the medium threshold is
// standard, at or above the large threshold is white glove, freight between.
// More units never select a lower-ranked method.
func SelectMethod(units int, s rules.ShippingRules) string {
	switch {
	case units >= s.LargeOrderUnits:
		return MethodWhiteGlove
	case units >= s.MediumOrderUnits:
		return MethodFreight
	default:
		return MethodStandard
	}
}

// Options are the caller's delivery preferences.
type Options struct {
	// Method forces a configured method; empty selects by unit count.
	Method string
	// Installation requests on-site installation.
	Installation bool
}

// Calculator prices delivery.
type Calculator struct {
	Weights   WeightEstimator
	Distances DistanceEstimator
	Logger    zerolog.Logger
}

// NewCalculator returns a calculator with the default estimators.
func NewCalculator(logger zerolog.Logger) Calculator {
	return Calculator{Weights: UnitWeightEstimator{}, Distances: DefaultDistance(), Logger: logger}
}

// Calculate returns the shipping summary for the priced lines.
func (c Calculator) Calculate(lines []domain.CalculatedLineItem, customer domain.Customer, shipTo *domain.Address, opts Options, r *rules.BusinessRules) (domain.ShippingSummary, error) {
	places := r.Precision()
	requested := strings.ToLower(strings.TrimSpace(opts.Method))
	installation := opts.Installation || requested == MethodInstallation

	if shipTo == nil || requested == MethodPickup {
		if installation {
			return domain.ShippingSummary{}, common.Validation("installation requires a shipping address")
		}
		return c.pickup(r), nil
	}

	units := 0
	subtotal := decimal.Zero
	for _, line := range lines {
		units += line.Quantity
		subtotal = subtotal.Add(line.LineSubtotal)
	}
	subtotal = pricing.Round(subtotal, places)
	free := r.Shipping.FreeShippingThreshold.IsPositive() && subtotal.GreaterThanOrEqual(r.Shipping.FreeShippingThreshold)

	method := requested
	switch {
	case installation:
		method = MethodInstallation
	case free:
		method = MethodStandard
	case method == "":
		method = SelectMethod(units, r.Shipping)
	}
	cfg, ok := r.Shipping.Methods[method]
	if !ok {
		return domain.ShippingSummary{}, common.Validation("unknown shipping method %q", method)
	}

	zone, zoneFound := MatchZone(shipTo.PostalCode, r.Shipping.Zones)
	summary := domain.ShippingSummary{
		Method:           method,
		ShippingCost:     decimal.Zero,
		DeliveryEstimate: deliveryEstimate(cfg, zone, zoneFound),
		FreeShipping:     free,
	}
	if zoneFound {
		summary.Zone = zone.Name
	}

	if !free {
		weight := decimal.Zero
		for _, line := range lines {
			weight = weight.Add(c.weights().EstimateWeight(line, r))
		}
		cost := pricing.Round(cfg.BaseCost, places)
		cost = cost.Add(pricing.Round(cfg.PerItemCost.Mul(decimal.NewFromInt(int64(units))), places))
		cost = cost.Add(pricing.Round(cfg.PerLbCost.Mul(weight), places))
		if zoneFound {
			cost = cost.Add(pricing.Round(zone.Surcharge, places))
		}
		summary.ShippingCost = pricing.Round(cost, places)
	}

	total := summary.ShippingCost
	if installation {
		install := c.installationCost(lines, units, *shipTo, r)
		summary.InstallationCost = &install
		total = total.Add(install)
	}
	summary.TotalShippingCost = pricing.Round(total, places)

	c.Logger.Debug().
		Str("customer_id", customer.ID).
		Str("method", method).
		Int("units", units).
		Bool("free_shipping", free).
		Str("total_shipping", summary.TotalShippingCost.String()).
		Msg("shipping_calculated")
	return summary, nil
}

func (c Calculator) pickup(r *rules.BusinessRules) domain.ShippingSummary {
	estimate := r.Shipping.PickupEstimate
	if estimate == "" {
		estimate = defaultPickupEstimate
	}
	return domain.ShippingSummary{
		Method:            MethodPickup,
		ShippingCost:      decimal.Zero,
		DeliveryEstimate:  estimate,
		TotalShippingCost: decimal.Zero,
	}
}

// installationCost is base + per cabinet + per linear foot of cabinet width
// + travel, floored at the minimum charge.
func (c Calculator) installationCost(lines []domain.CalculatedLineItem, units int, dest domain.Address, r *rules.BusinessRules) decimal.Decimal {
	places := r.Precision()
	inst := r.Shipping.Installation
	feet := decimal.Zero
	for _, line := range lines {
		feet = feet.Add(line.ProductVariant.WidthInches.Div(twelve).Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	miles := c.distances().EstimateDistance(dest, r)

	cost := pricing.Round(inst.BaseCost, places)
	cost = cost.Add(pricing.Round(inst.PerCabinet.Mul(decimal.NewFromInt(int64(units))), places))
	cost = cost.Add(pricing.Round(inst.PerLinearFoot.Mul(feet), places))
	cost = cost.Add(pricing.Round(inst.PerMile.Mul(miles), places))
	cost = pricing.Round(cost, places)
	if cost.LessThan(inst.MinimumCharge) {
		return pricing.Round(inst.MinimumCharge, places)
	}
	return cost
}

func (c Calculator) weights() WeightEstimator {
	if c.Weights == nil {
		return UnitWeightEstimator{}
	}
	return c.Weights
}

func (c Calculator) distances() DistanceEstimator {
	if c.Distances == nil {
		return DefaultDistance()
	}
	return c.Distances
}

// MatchZone finds the zone whose postal prefix matches the destination; the
// longest matching prefix wins.
func MatchZone(postalCode string, zones []rules.ShippingZone) (rules.ShippingZone, bool) {
	code := normalizePostal(postalCode)
	if code == "" {
		return rules.ShippingZone{}, false
	}
	var (
		best    rules.ShippingZone
		bestLen int
	)
	for _, z := range zones {
		for _, prefix := range z.PostalPrefixes {
			p := normalizePostal(prefix)
			if p != "" && strings.HasPrefix(code, p) && len(p) > bestLen {
				best, bestLen = z, len(p)
			}
		}
	}
	return best, bestLen > 0
}

func deliveryEstimate(m rules.ShippingMethod, zone rules.ShippingZone, zoneFound bool) string {
	minDays, maxDays := m.MinDays, m.MaxDays
	if zoneFound && zone.MaxDays > 0 {
		minDays, maxDays = zone.MinDays, zone.MaxDays
	}
	return fmt.Sprintf("%d-%d business days", minDays, maxDays)
}
