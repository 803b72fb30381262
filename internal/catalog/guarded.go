package catalog

import (
	"context"

	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/resilience"
)

// Guarded fails fast with resilience.ErrOpenCircuit while the inner
// provider keeps erroring. Absent entities count as successful lookups.
type Guarded struct {
	Inner   Provider
	Breaker *resilience.Breaker
}

type found[T any] struct {
	value T
	ok    bool
}

func guard[T any](ctx context.Context, g Guarded, load func(context.Context) (T, bool, error)) (T, bool, error) {
	res, err := resilience.Call(ctx, g.Breaker, func(ctx context.Context) (found[T], error) {
		v, ok, err := load(ctx)
		return found[T]{value: v, ok: ok}, err
	})
	return res.value, res.ok, err
}

// GetCustomer implements Provider.
func (g Guarded) GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error) {
	return guard(ctx, g, func(ctx context.Context) (domain.Customer, bool, error) {
		return g.Inner.GetCustomer(ctx, id)
	})
}

// GetProductVariant implements Provider.
func (g Guarded) GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error) {
	return guard(ctx, g, func(ctx context.Context) (domain.ProductVariant, bool, error) {
		return g.Inner.GetProductVariant(ctx, id)
	})
}

// GetBoxMaterial implements Provider.
func (g Guarded) GetBoxMaterial(ctx context.Context, id string) (domain.BoxMaterial, bool, error) {
	return guard(ctx, g, func(ctx context.Context) (domain.BoxMaterial, bool, error) {
		return g.Inner.GetBoxMaterial(ctx, id)
	})
}

// GetPricing implements Provider.
func (g Guarded) GetPricing(ctx context.Context, variantID, materialID string) (domain.ProductPricing, bool, error) {
	return guard(ctx, g, func(ctx context.Context) (domain.ProductPricing, bool, error) {
		return g.Inner.GetPricing(ctx, variantID, materialID)
	})
}
