package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

// rowQuerier is the subset of pgxpool.Pool the catalog reads through.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads the cabinet_system schema.
type Postgres struct {
	DB rowQuerier
}

// NewPostgres constructs a Postgres catalog over a pool or connection.
func NewPostgres(db rowQuerier) *Postgres {
	return &Postgres{DB: db}
}

const customerSQL = `
SELECT c.id::text, c.name, COALESCE(c.email, ''), COALESCE(c.tier, ''),
       COALESCE(c.address_line1, ''), COALESCE(c.address_line2, ''), COALESCE(c.city, ''),
       COALESCE(c.province, ''), COALESCE(c.postal_code, ''), COALESCE(c.country, '')
FROM cabinet_system.customers c
WHERE c.id::text = $1`

// GetCustomer implements Provider.
func (p *Postgres) GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error) {
	var (
		c    domain.Customer
		addr domain.Address
	)
	err := p.DB.QueryRow(ctx, customerSQL, id).Scan(
		&c.ID, &c.Name, &c.Email, &c.Tier,
		&addr.Line1, &addr.Line2, &addr.City, &addr.Region, &addr.PostalCode, &addr.Country,
	)
	if found, err := rowResult("customer", err); !found || err != nil {
		return domain.Customer{}, false, err
	}
	if addr != (domain.Address{}) {
		c.Address = &addr
	}
	return c, true, nil
}

const variantSQL = `
SELECT v.id::text, v.sku, p.name, COALESCE(ct.code, ''),
       COALESCE(p.width_inches, 0), COALESCE(p.height_inches, 0), COALESCE(p.depth_inches, 0),
       p.weight_lbs, v.is_active AND p.is_active
FROM cabinet_system.product_variants v
JOIN cabinet_system.products p ON p.id = v.product_id
LEFT JOIN cabinet_system.cabinet_types ct ON ct.id = p.cabinet_type_id
WHERE v.id::text = $1`

// GetProductVariant implements Provider.
func (p *Postgres) GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error) {
	var (
		v      domain.ProductVariant
		weight decimal.NullDecimal
	)
	err := p.DB.QueryRow(ctx, variantSQL, id).Scan(
		&v.ID, &v.SKU, &v.Name, &v.CabinetType,
		&v.WidthInches, &v.HeightInches, &v.DepthInches, &weight, &v.IsActive,
	)
	if found, err := rowResult("product variant", err); !found || err != nil {
		return domain.ProductVariant{}, false, err
	}
	if weight.Valid {
		w := weight.Decimal
		v.WeightLbs = &w
	}
	return v, true, nil
}

const materialSQL = `
SELECT m.id::text, m.code, m.name, m.is_active
FROM cabinet_system.box_materials m
WHERE m.id::text = $1 OR m.code = $1
ORDER BY (m.id::text = $1) DESC
LIMIT 1`

// GetBoxMaterial implements Provider. Materials resolve by id or code.
func (p *Postgres) GetBoxMaterial(ctx context.Context, id string) (domain.BoxMaterial, bool, error) {
	var m domain.BoxMaterial
	err := p.DB.QueryRow(ctx, materialSQL, id).Scan(&m.ID, &m.Code, &m.Name, &m.IsActive)
	if found, err := rowResult("box material", err); !found || err != nil {
		return domain.BoxMaterial{}, false, err
	}
	return m, true, nil
}

// pricingSQL picks the most recent price already in effect.
const pricingSQL = `
SELECT pp.product_variant_id::text, pp.box_material_id::text, pp.price
FROM cabinet_system.product_pricing pp
WHERE pp.product_variant_id::text = $1
  AND pp.box_material_id::text = $2
  AND pp.effective_date <= CURRENT_DATE
ORDER BY pp.effective_date DESC
LIMIT 1`

// GetPricing implements Provider.
func (p *Postgres) GetPricing(ctx context.Context, variantID, materialID string) (domain.ProductPricing, bool, error) {
	var pr domain.ProductPricing
	err := p.DB.QueryRow(ctx, pricingSQL, variantID, materialID).Scan(&pr.VariantID, &pr.MaterialID, &pr.Price)
	if found, err := rowResult("pricing", err); !found || err != nil {
		return domain.ProductPricing{}, false, err
	}
	return pr, true, nil
}

func rowResult(entity string, err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("query %s: %w", entity, err)
	}
}
