package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

func TestMemorySeedDemo(t *testing.T) {
	m := NewMemory().SeedDemo()
	ctx := context.Background()

	c, ok, err := m.GetCustomer(ctx, "cust-retail")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "retail", c.Tier)

	// returned customers do not alias stored ones
	c.Address.Region = "QC"
	again, _, _ := m.GetCustomer(ctx, "cust-retail")
	require.Equal(t, "ON", again.Address.Region)

	_, ok, err = m.GetProductVariant(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	p, ok, err := m.GetPricing(ctx, "B24", "particleboard")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Price.Equal(decimal.NewFromInt(100)))
}

type countingProvider struct {
	Provider
	variantCalls int
}

func (c *countingProvider) GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error) {
	c.variantCalls++
	return c.Provider.GetProductVariant(ctx, id)
}

func TestCachedServesFromRedisAfterFirstLookup(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	inner := &countingProvider{Provider: NewMemory().SeedDemo()}
	cached := NewCached(inner, client, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, ok, err := cached.GetProductVariant(ctx, "SB36")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists(CacheKey("variant", "SB36")))

	second, ok, err := cached.GetProductVariant(ctx, "SB36")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, inner.variantCalls)
	require.Equal(t, first.SKU, second.SKU)
	require.True(t, first.WidthInches.Equal(second.WidthInches))
	require.True(t, second.WeightLbs.Equal(decimal.NewFromInt(62)))

	// misses are not cached
	_, ok, err = cached.GetProductVariant(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, mr.Exists(CacheKey("variant", "nope")))

	pr, ok, err := cached.GetPricing(ctx, "W3030", "plywood")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pr.Price.Equal(decimal.RequireFromString("152.25")))
	require.True(t, mr.Exists(CacheKey("pricing", "W3030/plywood")))
	ttl := mr.TTL(CacheKey("pricing", "W3030/plywood"))
	require.Equal(t, time.Minute, ttl)
}

func TestCachedDegradesWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	cached := NewCached(NewMemory().SeedDemo(), client, time.Minute, zerolog.Nop())
	c, ok, err := cached.GetCustomer(context.Background(), "cust-contractor")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "contractor", c.Tier)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *decimal.Decimal:
			*p = r.values[i].(decimal.Decimal)
		case *decimal.NullDecimal:
			*p = r.values[i].(decimal.NullDecimal)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

type fakeDB struct {
	rows    map[string]fakeRow
	lastSQL string
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.lastSQL = sql
	key := args[0].(string)
	if row, ok := f.rows[key]; ok {
		return row
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func TestPostgresScansAndMapsNoRows(t *testing.T) {
	d := decimal.RequireFromString
	db := &fakeDB{rows: map[string]fakeRow{
		"v-1": {values: []any{"v-1", "B24-WHITE", "Base 24", "B", d("24"), d("34.5"), d("24"), decimal.NullDecimal{}, true}},
		"c-1": {values: []any{"c-1", "Jane", "", "dealer", "", "", "", "", "", ""}},
		"bad": {err: errors.New("connection reset")},
	}}
	pg := NewPostgres(db)
	ctx := context.Background()

	v, ok, err := pg.GetProductVariant(ctx, "v-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, v.WeightLbs)
	require.True(t, v.WidthInches.Equal(d("24")))
	require.Contains(t, db.lastSQL, "cabinet_system.product_variants")

	c, ok, err := pg.GetCustomer(ctx, "c-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, c.Address)
	require.Equal(t, "dealer", c.Tier)

	_, ok, err = pg.GetBoxMaterial(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = pg.GetCustomer(ctx, "bad")
	require.Error(t, err)
	require.False(t, ok)
	require.True(t, strings.Contains(err.Error(), "query customer"))
}
