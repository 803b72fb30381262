package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/domain"
	"github.com/noah-isme/cabinet-quote/internal/resilience"
)

type failingProvider struct {
	Provider
	calls int
}

func (f *failingProvider) GetCustomer(context.Context, string) (domain.Customer, bool, error) {
	f.calls++
	return domain.Customer{}, false, errors.New("dial tcp: connection refused")
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	inner := &failingProvider{Provider: NewMemory().SeedDemo()}
	g := Guarded{Inner: inner, Breaker: resilience.NewBreaker(2, 0.5, time.Minute)}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, err := g.GetCustomer(ctx, "cust-retail")
		require.Error(t, err)
		require.NotErrorIs(t, err, resilience.ErrOpenCircuit)
	}
	_, _, err := g.GetCustomer(ctx, "cust-retail")
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 2, inner.calls)
}

func TestGuardedTreatsAbsenceAsSuccess(t *testing.T) {
	g := Guarded{Inner: NewMemory().SeedDemo(), Breaker: resilience.NewBreaker(1, 0.5, time.Minute)}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, ok, err := g.GetProductVariant(ctx, "missing")
		require.NoError(t, err)
		require.False(t, ok)
	}
	p, ok, err := g.GetPricing(ctx, "B24", "particleboard")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "B24", p.VariantID)
	require.Equal(t, resilience.Closed, g.Breaker.State())
}
