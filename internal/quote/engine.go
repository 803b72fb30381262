// Package quote calculates cabinet quotes: it resolves catalog entities,
// prices each line, applies discounts, then adds tax and delivery.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/discount"
	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/obs"
	"github.com/noah-isme/cabinet-quote/internal/pricing"
	"github.com/noah-isme/cabinet-quote/internal/rules"
	"github.com/noah-isme/cabinet-quote/internal/shipping"
)

// DefaultLookupTimeout bounds each catalog lookup when none is configured.
const DefaultLookupTimeout = 2 * time.Second

// maxConcurrentLookups caps in-flight catalog calls for one calculation.
const maxConcurrentLookups = 8

// CatalogProvider resolves the entities a quote references.
type CatalogProvider interface {
	GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error)
	GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error)
	GetBoxMaterial(ctx context.Context, id string) (domain.BoxMaterial, bool, error)
	GetPricing(ctx context.Context, variantID, materialID string) (domain.ProductPricing, bool, error)
}

// RulesSource returns the current business rules snapshot.
type RulesSource interface {
	GetRules(ctx context.Context) (*rules.BusinessRules, error)
}

// TaxCalculator computes the tax summary of a quote.
type TaxCalculator interface {
	Calculate(taxable decimal.Decimal, customer domain.Customer, shipTo *domain.Address, r *rules.BusinessRules, applyTax bool) (domain.TaxSummary, error)
}

// ShippingCalculator computes the delivery summary of a quote.
type ShippingCalculator interface {
	Calculate(lines []domain.CalculatedLineItem, customer domain.Customer, shipTo *domain.Address, opts shipping.Options, r *rules.BusinessRules) (domain.ShippingSummary, error)
}

// EngineDeps wires the engine's collaborators.
type EngineDeps struct {
	Catalog       CatalogProvider
	Rules         RulesSource
	Tax           TaxCalculator
	Shipping      ShippingCalculator
	Logger        zerolog.Logger
	Now           func() time.Time
	LookupTimeout time.Duration
	// Metrics records the outcome of each calculation. Defaults to the
	// Prometheus quote collectors.
	Metrics func(result string, elapsed time.Duration)
}

// Engine computes quote calculations. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	catalog       CatalogProvider
	rules         RulesSource
	tax           TaxCalculator
	shipping      ShippingCalculator
	logger        zerolog.Logger
	now           func() time.Time
	lookupTimeout time.Duration
	metrics       func(string, time.Duration)
	tracer        trace.Tracer
}

// NewEngine constructs an engine, filling in defaults for optional deps.
func NewEngine(deps EngineDeps) *Engine {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	timeout := deps.LookupTimeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = obs.ObserveQuoteCalculation
	}
	return &Engine{
		catalog:       deps.Catalog,
		rules:         deps.Rules,
		tax:           deps.Tax,
		shipping:      deps.Shipping,
		logger:        deps.Logger,
		now:           now,
		lookupTimeout: timeout,
		metrics:       metrics,
		tracer:        otel.Tracer("cabinet-quote/quote"),
	}
}

// Calculate prices the request. Validation errors are returned before any
// lookup is attempted; the engine performs no writes.
func (e *Engine) Calculate(ctx context.Context, req Request) (calc *domain.QuoteCalculation, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "quote.calculate", trace.WithAttributes(
		attribute.String("quote.customer_id", req.CustomerID),
		attribute.Int("quote.items", len(req.Items)),
	))
	defer func() {
		e.metrics(resultLabel(err), time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, resultLabel(err))
		} else {
			span.SetAttributes(attribute.String("quote.total", calc.TotalAmount.String()))
		}
		span.End()
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	res, err := e.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.compute(req, res)
}

// resolved holds every entity a calculation reads, fetched up front.
type resolved struct {
	rules     *rules.BusinessRules
	customer  domain.Customer
	variants  map[string]domain.ProductVariant
	materials map[string]domain.BoxMaterial
	prices    map[string]domain.ProductPricing
}

type outcome[T any] struct {
	value T
	found bool
	err   error
}

// bounded runs fn under the engine's lookup timeout. It returns when the
// deadline passes even if fn ignores its context.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, bool, error)) outcome[T] {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, found, err := fn(lctx)
		done <- outcome[T]{value: v, found: found, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
			out.err = fmt.Errorf("%w: %v", common.ErrLookupTimeout, out.err)
		}
		return out
	case <-lctx.Done():
		if ctx.Err() != nil {
			return outcome[T]{err: ctx.Err()}
		}
		return outcome[T]{err: common.ErrLookupTimeout}
	}
}

// resolve fetches the rules snapshot, the customer and every distinct
// variant, material and price concurrently, then checks the results in a
// fixed order so the reported error does not depend on scheduling.
func (e *Engine) resolve(ctx context.Context, req Request) (*resolved, error) {
	var variantIDs, materialIDs []string
	type pair struct{ variant, material string }
	var pairs []pair
	seenV, seenM, seenP := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, item := range req.Items {
		if !seenV[item.ProductVariantID] {
			seenV[item.ProductVariantID] = true
			variantIDs = append(variantIDs, item.ProductVariantID)
		}
		if !seenM[item.BoxMaterialID] {
			seenM[item.BoxMaterialID] = true
			materialIDs = append(materialIDs, item.BoxMaterialID)
		}
		key := priceKey(item.ProductVariantID, item.BoxMaterialID)
		if !seenP[key] {
			seenP[key] = true
			pairs = append(pairs, pair{item.ProductVariantID, item.BoxMaterialID})
		}
	}

	var (
		rulesOut    outcome[*rules.BusinessRules]
		customerOut outcome[domain.Customer]
		variantOut  = make([]outcome[domain.ProductVariant], len(variantIDs))
		materialOut = make([]outcome[domain.BoxMaterial], len(materialIDs))
		priceOut    = make([]outcome[domain.ProductPricing], len(pairs))
	)

	// Goroutines never fail the group: each records its own outcome so a
	// slow or failing lookup cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(maxConcurrentLookups)
	// The rules provider bounds its own reloads and falls back to its cached
	// snapshot, so it is not held to the catalog lookup timeout.
	g.Go(func() error {
		r, err := e.rules.GetRules(ctx)
		rulesOut = outcome[*rules.BusinessRules]{value: r, found: r != nil, err: err}
		return nil
	})
	g.Go(func() error {
		customerOut = bounded(ctx, e.lookupTimeout, func(ctx context.Context) (domain.Customer, bool, error) {
			return e.catalog.GetCustomer(ctx, req.CustomerID)
		})
		return nil
	})
	for i, id := range variantIDs {
		g.Go(func() error {
			variantOut[i] = bounded(ctx, e.lookupTimeout, func(ctx context.Context) (domain.ProductVariant, bool, error) {
				return e.catalog.GetProductVariant(ctx, id)
			})
			return nil
		})
	}
	for i, id := range materialIDs {
		g.Go(func() error {
			materialOut[i] = bounded(ctx, e.lookupTimeout, func(ctx context.Context) (domain.BoxMaterial, bool, error) {
				return e.catalog.GetBoxMaterial(ctx, id)
			})
			return nil
		})
	}
	for i, p := range pairs {
		g.Go(func() error {
			priceOut[i] = bounded(ctx, e.lookupTimeout, func(ctx context.Context) (domain.ProductPricing, bool, error) {
				return e.catalog.GetPricing(ctx, p.variant, p.material)
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if rulesOut.err != nil || rulesOut.value == nil {
		return nil, e.rulesError(rulesOut.err)
	}

	if err := lookupError("customer", req.CustomerID, customerOut.found, customerOut.err); err != nil {
		return nil, err
	}

	res := &resolved{
		rules:     rulesOut.value,
		customer:  customerOut.value,
		variants:  make(map[string]domain.ProductVariant, len(variantIDs)),
		materials: make(map[string]domain.BoxMaterial, len(materialIDs)),
		prices:    make(map[string]domain.ProductPricing, len(pairs)),
	}
	for i, id := range variantIDs {
		if variantOut[i].found && variantOut[i].err == nil {
			res.variants[id] = variantOut[i].value
		}
	}
	for i, id := range materialIDs {
		if materialOut[i].found && materialOut[i].err == nil {
			res.materials[id] = materialOut[i].value
		}
	}
	priceErrs := make(map[string]error)
	for i, p := range pairs {
		key := priceKey(p.variant, p.material)
		if priceOut[i].err != nil {
			priceErrs[key] = priceOut[i].err
			continue
		}
		if priceOut[i].found {
			res.prices[key] = priceOut[i].value
		}
	}

	vIndex := indexOf(variantIDs)
	mIndex := indexOf(materialIDs)
	for i, item := range req.Items {
		v := variantOut[vIndex[item.ProductVariantID]]
		if err := lookupError("product variant", item.ProductVariantID, v.found, v.err); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		if !v.value.IsActive {
			return nil, common.Validation("items[%d]: product variant %q is not active", i, item.ProductVariantID)
		}
		m := materialOut[mIndex[item.BoxMaterialID]]
		if err := lookupError("box material", item.BoxMaterialID, m.found, m.err); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		if !m.value.IsActive {
			return nil, common.Validation("items[%d]: box material %q is not active", i, item.BoxMaterialID)
		}
		if item.CustomPrice != nil {
			continue
		}
		key := priceKey(item.ProductVariantID, item.BoxMaterialID)
		if err, failed := priceErrs[key]; failed {
			return nil, fmt.Errorf("items[%d]: %w", i, lookupError("pricing", key, false, err))
		}
		if _, priced := res.prices[key]; !priced {
			return nil, fmt.Errorf("items[%d]: %w", i, common.NotFound("pricing", key, nil))
		}
	}
	return res, nil
}

// rulesError converts a rules load failure into a ConfigurationError.
func (e *Engine) rulesError(err error) error {
	msg := "business rules unavailable"
	var cfgErr *rules.ConfigurationError
	if errors.As(err, &cfgErr) {
		msg = "business rules invalid"
	}
	if err == nil {
		err = errors.New("rules source returned no rules")
	}
	appErr := common.Configuration(msg, err)
	e.logger.Error().
		Err(err).
		Str("correlation_id", appErr.CorrelationID).
		Msg("quote_rules_unavailable")
	return appErr
}

// lookupError maps a catalog outcome onto the error taxonomy. Absence and
// timeouts become NotFoundError; transport errors are returned wrapped.
func lookupError(entity, id string, found bool, err error) error {
	switch {
	case err == nil && found:
		return nil
	case err == nil:
		return common.NotFound(entity, id, nil)
	case errors.Is(err, common.ErrLookupTimeout):
		return common.NotFound(entity, id, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("lookup %s %q: %w", entity, id, err)
	}
}

func (e *Engine) compute(req Request, res *resolved) (*domain.QuoteCalculation, error) {
	r := res.rules
	places := r.Precision()

	tierName := strings.ToLower(strings.TrimSpace(req.CustomerTier))
	if tierName == "" {
		tierName = strings.ToLower(strings.TrimSpace(res.customer.Tier))
	}
	if tierName == "" {
		return nil, common.Validation("customer tier is required: customer %q has no tier and none was supplied", res.customer.ID)
	}
	tier, ok := r.Tier(tierName)
	if !ok {
		return nil, common.Validation("unknown customer tier %q", tierName)
	}

	if limit := r.Validation.MaxLineItems; limit > 0 && len(req.Items) > limit {
		return nil, common.Validation("items must contain at most %d lines (got %d)", limit, len(req.Items))
	}
	for i, item := range req.Items {
		if item.DiscountPercent != nil && r.Discounts.MaxManualDiscountPercent.IsPositive() &&
			item.DiscountPercent.GreaterThan(r.Discounts.MaxManualDiscountPercent) {
			return nil, common.Validation("items[%d].discountPercent must be at most %s (got %s)",
				i, r.Discounts.MaxManualDiscountPercent, item.DiscountPercent)
		}
	}

	validityDays := req.ValidityDays
	if validityDays == 0 {
		validityDays = r.Validation.DefaultValidityDays
	}
	if validityDays < 1 || validityDays > r.Validation.MaxQuoteValidityDays {
		return nil, common.Validation("validityDays must be between 1 and %d (got %d)", r.Validation.MaxQuoteValidityDays, validityDays)
	}

	now := e.now().UTC()

	lines := make([]domain.CalculatedLineItem, 0, len(req.Items))
	var lineDiscounts []domain.AppliedDiscount
	subtotal := decimal.Zero
	lineDiscountTotal := decimal.Zero
	units := 0
	for i, item := range req.Items {
		line := e.priceLine(i+1, item, tier, res, places)
		applied, total := discount.LineDiscounts(discount.LineInput{
			LineNumber:    line.LineNumber,
			Subtotal:      line.LineSubtotal,
			Quantity:      line.Quantity,
			ManualPercent: item.DiscountPercent,
		}, r.Discounts.LineBulkTiers, places)
		if applied == nil {
			applied = []domain.AppliedDiscount{}
		}
		line.Discounts = applied
		line.DiscountAmount = pricing.Round(total, places)
		line.LineTotal = pricing.Round(line.LineSubtotal.Sub(line.DiscountAmount), places)

		lines = append(lines, line)
		lineDiscounts = append(lineDiscounts, applied...)
		subtotal = subtotal.Add(line.LineSubtotal)
		lineDiscountTotal = lineDiscountTotal.Add(line.DiscountAmount)
		units += line.Quantity
	}
	subtotal = pricing.Round(subtotal, places)

	orderDiscounts, err := discount.OrderDiscounts(discount.OrderInput{
		Subtotal:          subtotal,
		LineDiscountTotal: lineDiscountTotal,
		TotalUnits:        units,
		OrderTiers:        r.Discounts.OrderBulkTiers,
		Tier:              tierName,
		TierPercent:       tier.DiscountPercent,
		PromoCode:         req.PromoCode,
		Promotions:        r.Discounts.Promotions,
		Now:               now,
	}, places)
	if err != nil {
		return nil, common.Validation("%s", err.Error()).WithCause(err)
	}

	applied := make([]domain.AppliedDiscount, 0, len(lineDiscounts)+len(orderDiscounts))
	applied = append(applied, lineDiscounts...)
	applied = append(applied, orderDiscounts...)
	discountTotal := lineDiscountTotal
	for _, d := range orderDiscounts {
		discountTotal = discountTotal.Add(d.Amount)
	}
	discountTotal = pricing.Round(discountTotal, places)
	finalSubtotal := pricing.Round(subtotal.Sub(discountTotal), places)

	taxSummary, err := e.tax.Calculate(finalSubtotal, res.customer, req.ShippingAddress, r, req.TaxApplies())
	if err != nil {
		return nil, err
	}
	shippingSummary, err := e.shipping.Calculate(lines, res.customer, req.ShippingAddress, shipping.Options{
		Method:       req.ShippingMethod,
		Installation: req.IncludeInstallation,
	}, r)
	if err != nil {
		return nil, err
	}

	summary := pricing.Compute(subtotal, discountTotal, taxSummary.TaxAmount, shippingSummary.TotalShippingCost, places)

	calc := &domain.QuoteCalculation{
		Customer:     res.customer,
		CustomerTier: tierName,
		LineItems:    lines,
		Subtotal:     summary.Subtotal,
		Discounts: domain.DiscountSummary{
			TotalAmount: summary.Discount,
			Applied:     applied,
		},
		FinalSubtotal: summary.FinalSubtotal,
		Tax:           taxSummary,
		Shipping:      shippingSummary,
		TotalAmount:   summary.Total,
		Currency:      r.Pricing.Currency,
		RulesVersion:  r.Version,
		CreatedAt:     now,
		ValidUntil:    now.AddDate(0, 0, validityDays),
		Notes:         req.Notes,
	}

	if err := checkConsistency(calc, summary, places); err != nil {
		appErr := common.Calculation("quote totals are inconsistent", err)
		e.logger.Error().
			Err(err).
			Str("correlation_id", appErr.CorrelationID).
			Str("customer_id", req.CustomerID).
			Msg("quote_calculation_inconsistent")
		return nil, appErr
	}
	if err := checkBounds(calc, r); err != nil {
		appErr := common.Calculation("quote violates business bounds", err)
		e.logger.Error().
			Err(err).
			Str("correlation_id", appErr.CorrelationID).
			Str("customer_id", req.CustomerID).
			Msg("quote_bounds_violated")
		return nil, appErr
	}
	return calc, nil
}

// priceLine resolves the unit price and line subtotal. A custom price
// replaces the marked-up list price; the list price is kept for reference.
func (e *Engine) priceLine(lineNumber int, item domain.QuoteItemInput, tier rules.TierRule, res *resolved, places int32) domain.CalculatedLineItem {
	line := domain.CalculatedLineItem{
		LineNumber:     lineNumber,
		ProductVariant: res.variants[item.ProductVariantID],
		BoxMaterial:    res.materials[item.BoxMaterialID],
		Quantity:       item.Quantity,
		Notes:          item.Notes,
	}
	price, priced := res.prices[priceKey(item.ProductVariantID, item.BoxMaterialID)]
	if priced {
		line.ListPrice = pricing.Round(price.Price, places)
		line.UnitPrice = pricing.ApplyMarkup(line.ListPrice, tier.MarkupPercent, places)
	}
	if item.CustomPrice != nil {
		line.UnitPrice = pricing.Round(*item.CustomPrice, places)
		line.CustomPriced = true
		if !priced {
			line.ListPrice = line.UnitPrice
		}
	}
	line.LineSubtotal = pricing.Round(line.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))), places)
	return line
}

// checkConsistency re-derives the totals from their parts. Any mismatch is a
// defect in a contributing calculator and is never corrected.
func checkConsistency(calc *domain.QuoteCalculation, summary pricing.Summary, places int32) error {
	eps := pricing.Epsilon(places)
	var problems []string

	lineSubtotals := decimal.Zero
	for _, l := range calc.LineItems {
		lineSubtotals = lineSubtotals.Add(l.LineSubtotal)
		if !pricing.WithinEpsilon(l.LineTotal, l.LineSubtotal.Sub(l.DiscountAmount), eps) {
			problems = append(problems, fmt.Sprintf("line %d total %s != %s - %s", l.LineNumber, l.LineTotal, l.LineSubtotal, l.DiscountAmount))
		}
		if l.LineTotal.IsNegative() {
			problems = append(problems, fmt.Sprintf("line %d total %s is negative", l.LineNumber, l.LineTotal))
		}
	}
	if !pricing.WithinEpsilon(lineSubtotals, calc.Subtotal, eps) {
		problems = append(problems, fmt.Sprintf("subtotal %s != sum of lines %s", calc.Subtotal, lineSubtotals))
	}

	appliedTotal := decimal.Zero
	for _, d := range calc.Discounts.Applied {
		appliedTotal = appliedTotal.Add(d.Amount)
	}
	if !pricing.WithinEpsilon(appliedTotal, calc.Discounts.TotalAmount, eps) {
		problems = append(problems, fmt.Sprintf("discount total %s != sum of applied %s", calc.Discounts.TotalAmount, appliedTotal))
	}

	taxTotal := decimal.Zero
	for _, d := range calc.Tax.Details {
		taxTotal = taxTotal.Add(d.Amount)
	}
	if !pricing.WithinEpsilon(taxTotal, calc.Tax.TaxAmount, eps) {
		problems = append(problems, fmt.Sprintf("tax amount %s != sum of components %s", calc.Tax.TaxAmount, taxTotal))
	}

	shippingTotal := calc.Shipping.ShippingCost
	if calc.Shipping.InstallationCost != nil {
		shippingTotal = shippingTotal.Add(*calc.Shipping.InstallationCost)
	}
	if !pricing.WithinEpsilon(shippingTotal, calc.Shipping.TotalShippingCost, eps) {
		problems = append(problems, fmt.Sprintf("total shipping %s != shipping + installation %s", calc.Shipping.TotalShippingCost, shippingTotal))
	}

	if !summary.Balanced(places) {
		problems = append(problems, fmt.Sprintf("total %s != (%s - %s) + %s + %s",
			summary.Total, summary.Subtotal, summary.Discount, summary.Tax, summary.Shipping))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

func checkBounds(calc *domain.QuoteCalculation, r *rules.BusinessRules) error {
	v := r.Validation
	if calc.TotalAmount.LessThan(v.MinQuoteAmount) {
		return fmt.Errorf("total %s is below the minimum quote amount %s", calc.TotalAmount, v.MinQuoteAmount)
	}
	if v.MaxQuoteAmount.IsPositive() && calc.TotalAmount.GreaterThan(v.MaxQuoteAmount) {
		return fmt.Errorf("total %s exceeds the maximum quote amount %s", calc.TotalAmount, v.MaxQuoteAmount)
	}
	if v.MaxLineItemQuantity > 0 {
		for _, l := range calc.LineItems {
			if l.Quantity > v.MaxLineItemQuantity {
				return fmt.Errorf("line %d quantity %d exceeds the maximum %d", l.LineNumber, l.Quantity, v.MaxLineItemQuantity)
			}
		}
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if appErr, ok := common.AsAppError(err); ok && appErr.Kind != "" {
		return string(appErr.Kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

func priceKey(variantID, materialID string) string {
	return variantID + "/" + materialID
}

func indexOf(ids []string) map[string]int {
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i
	}
	return out
}
