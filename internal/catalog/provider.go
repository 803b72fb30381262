// Package catalog provides read-only access to customers, cabinet variants,
// box materials and their prices.
package catalog

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/domain"
)

// Provider resolves catalog entities. Each lookup reports absence through
// the found flag rather than an error.
type Provider interface {
	GetCustomer(ctx context.Context, id string) (domain.Customer, bool, error)
	GetProductVariant(ctx context.Context, id string) (domain.ProductVariant, bool, error)
	GetBoxMaterial(ctx context.Context, id string) (domain.BoxMaterial, bool, error)
	GetPricing(ctx context.Context, variantID, materialID string) (domain.ProductPricing, bool, error)
}

// Memory is an in-process catalog.
type Memory struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
	variants  map[string]domain.ProductVariant
	materials map[string]domain.BoxMaterial
	prices    map[string]domain.ProductPricing
}

// NewMemory constructs an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		customers: map[string]domain.Customer{},
		variants:  map[string]domain.ProductVariant{},
		materials: map[string]domain.BoxMaterial{},
		prices:    map[string]domain.ProductPricing{},
	}
}

func pricingKey(variantID, materialID string) string {
	return variantID + "/" + materialID
}

// PutCustomer stores a customer.
func (m *Memory) PutCustomer(c domain.Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c.Clone()
}

// PutVariant stores a product variant.
func (m *Memory) PutVariant(v domain.ProductVariant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

// PutMaterial stores a box material.
func (m *Memory) PutMaterial(b domain.BoxMaterial) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.materials[b.ID] = b
}

// PutPricing stores the price of a variant in a material.
func (m *Memory) PutPricing(p domain.ProductPricing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[pricingKey(p.VariantID, p.MaterialID)] = p
}

// GetCustomer implements Provider.
func (m *Memory) GetCustomer(_ context.Context, id string) (domain.Customer, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	return c.Clone(), ok, nil
}

// GetProductVariant implements Provider.
func (m *Memory) GetProductVariant(_ context.Context, id string) (domain.ProductVariant, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variants[id]
	return v, ok, nil
}

// GetBoxMaterial implements Provider.
func (m *Memory) GetBoxMaterial(_ context.Context, id string) (domain.BoxMaterial, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.materials[id]
	return b, ok, nil
}

// GetPricing implements Provider.
func (m *Memory) GetPricing(_ context.Context, variantID, materialID string) (domain.ProductPricing, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[pricingKey(variantID, materialID)]
	return p, ok, nil
}

// SeedDemo loads a small showroom catalog used by the demo server and tests.
func (m *Memory) SeedDemo() *Memory {
	d := decimal.RequireFromString
	m.PutCustomer(domain.Customer{
		ID: "cust-retail", Name: "Jane Homeowner", Email: "jane@example.com", Tier: "retail",
		Address: &domain.Address{Line1: "12 King St W", City: "Toronto", Region: "ON", PostalCode: "M5V 2T6", Country: "CA"},
	})
	m.PutCustomer(domain.Customer{
		ID: "cust-contractor", Name: "Coastal Renovations", Email: "orders@coastal.example", Tier: "contractor",
		Address: &domain.Address{Line1: "800 Hastings St", City: "Vancouver", Region: "BC", PostalCode: "V6B 1A1", Country: "Canada"},
	})
	m.PutCustomer(domain.Customer{ID: "cust-untiered", Name: "Walk-in", Address: &domain.Address{Country: "CA", Region: "ON"}})

	m.PutVariant(domain.ProductVariant{ID: "B24", SKU: "B24-WHITE_SHAKER", Name: "Base 24\" Full Door", CabinetType: "base",
		WidthInches: d("24"), HeightInches: d("34.5"), DepthInches: d("24"), IsActive: true})
	m.PutVariant(domain.ProductVariant{ID: "SB36", SKU: "SB36-WHITE_SHAKER", Name: "Sink Base 36\"", CabinetType: "base",
		WidthInches: d("36"), HeightInches: d("34.5"), DepthInches: d("24"), WeightLbs: ptr(d("62")), IsActive: true})
	m.PutVariant(domain.ProductVariant{ID: "W3030", SKU: "W3030-WHITE_SHAKER", Name: "Wall 30\" x 30\"", CabinetType: "wall",
		WidthInches: d("30"), HeightInches: d("30"), DepthInches: d("12"), IsActive: true})
	m.PutVariant(domain.ProductVariant{ID: "B15-LEGACY", SKU: "B15-ESPRESSO", Name: "Base 15\" (discontinued)", CabinetType: "base",
		WidthInches: d("15"), HeightInches: d("34.5"), DepthInches: d("24"), IsActive: false})

	m.PutMaterial(domain.BoxMaterial{ID: "particleboard", Code: "particleboard", Name: "ParticleBoard Box", IsActive: true})
	m.PutMaterial(domain.BoxMaterial{ID: "plywood", Code: "plywood", Name: "Plywood Box", IsActive: true})
	m.PutMaterial(domain.BoxMaterial{ID: "uv_birch", Code: "uv_birch", Name: "UV Birch Plywood", IsActive: false})

	for _, p := range []domain.ProductPricing{
		{VariantID: "B24", MaterialID: "particleboard", Price: d("100.00")},
		{VariantID: "B24", MaterialID: "plywood", Price: d("135.00")},
		{VariantID: "SB36", MaterialID: "particleboard", Price: d("189.00")},
		{VariantID: "SB36", MaterialID: "plywood", Price: d("239.00")},
		{VariantID: "W3030", MaterialID: "particleboard", Price: d("119.50")},
		{VariantID: "W3030", MaterialID: "plywood", Price: d("152.25")},
		{VariantID: "B15-LEGACY", MaterialID: "particleboard", Price: d("79.00")},
	} {
		m.PutPricing(p)
	}
	return m
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
