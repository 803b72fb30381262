// Package domain holds the value types shared by the quote calculation and
// versioning components. Monetary amounts are decimal.Decimal throughout.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountKind tags an applied discount with its origin.
type DiscountKind string

const (
	DiscountTier         DiscountKind = "tier"
	DiscountBulkQuantity DiscountKind = "bulk_quantity"
	DiscountPromotional  DiscountKind = "promotional"
	DiscountManual       DiscountKind = "manual"
	DiscountSeasonal     DiscountKind = "seasonal"
)

// TaxStatus distinguishes why a tax summary does or does not carry tax.
type TaxStatus string

const (
	TaxStatusTaxed                  TaxStatus = "taxed"
	TaxStatusExempt                 TaxStatus = "exempt"
	TaxStatusOptedOut               TaxStatus = "opted_out"
	TaxStatusNonTaxableJurisdiction TaxStatus = "non_taxable_jurisdiction"
)

// Address is a postal destination used for tax jurisdiction and shipping zone resolution.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Customer is referenced by quotes and never mutated by the engine.
type Customer struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Email   string   `json:"email,omitempty"`
	Tier    string   `json:"tier,omitempty"`
	Address *Address `json:"address,omitempty"`
}

// ProductVariant is a catalog cabinet (for example B24FD: a 24" base cabinet).
type ProductVariant struct {
	ID           string           `json:"id"`
	SKU          string           `json:"sku"`
	Name         string           `json:"name"`
	CabinetType  string           `json:"cabinetType,omitempty"`
	WidthInches  decimal.Decimal  `json:"widthInches"`
	HeightInches decimal.Decimal  `json:"heightInches"`
	DepthInches  decimal.Decimal  `json:"depthInches"`
	WeightLbs    *decimal.Decimal `json:"weightLbs,omitempty"`
	IsActive     bool             `json:"isActive"`
}

// BoxMaterial is the carcass material a cabinet is built from.
type BoxMaterial struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

// ProductPricing is the catalog list price of a variant in a given material.
type ProductPricing struct {
	VariantID  string          `json:"variantId"`
	MaterialID string          `json:"materialId"`
	Price      decimal.Decimal `json:"price"`
}

// QuoteItemInput is one requested line.
type QuoteItemInput struct {
	ProductVariantID string           `json:"productVariantId" validate:"required"`
	BoxMaterialID    string           `json:"boxMaterialId" validate:"required"`
	Quantity         int              `json:"quantity" validate:"gt=0"`
	CustomPrice      *decimal.Decimal `json:"customPrice,omitempty"`
	DiscountPercent  *decimal.Decimal `json:"discountPercent,omitempty"`
	Notes            string           `json:"notes,omitempty" validate:"max=1000"`
}

// AppliedDiscount is one discount contribution. LineNumber is zero for order-level discounts.
type AppliedDiscount struct {
	Kind        DiscountKind    `json:"kind"`
	Description string          `json:"description"`
	Percent     decimal.Decimal `json:"percent"`
	Amount      decimal.Decimal `json:"amount"`
	LineNumber  int             `json:"lineNumber,omitempty"`
	Code        string          `json:"code,omitempty"`
}

// CalculatedLineItem is a priced line.
type CalculatedLineItem struct {
	LineNumber     int               `json:"lineNumber"`
	ProductVariant ProductVariant    `json:"productVariant"`
	BoxMaterial    BoxMaterial       `json:"boxMaterial"`
	Quantity       int               `json:"quantity"`
	UnitPrice      decimal.Decimal   `json:"unitPrice"`
	ListPrice      decimal.Decimal   `json:"listPrice"`
	CustomPriced   bool              `json:"customPriced"`
	LineSubtotal   decimal.Decimal   `json:"lineSubtotal"`
	Discounts      []AppliedDiscount `json:"discounts"`
	DiscountAmount decimal.Decimal   `json:"discountAmount"`
	LineTotal      decimal.Decimal   `json:"lineTotal"`
	Notes          string            `json:"notes,omitempty"`
}

// Key identifies a line across versions independent of its position.
func (l CalculatedLineItem) Key() string {
	return l.ProductVariant.ID + "/" + l.BoxMaterial.ID
}

// DiscountSummary lists every applied discount in application order.
type DiscountSummary struct {
	TotalAmount decimal.Decimal   `json:"totalAmount"`
	Applied     []AppliedDiscount `json:"applied"`
}

// TaxDetail is one named tax component levied on the taxable base.
type TaxDetail struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// TaxSummary is the tax breakdown of a quote.
type TaxSummary struct {
	Status          TaxStatus       `json:"status"`
	Rate            decimal.Decimal `json:"rate"`
	TaxableAmount   decimal.Decimal `json:"taxableAmount"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	Jurisdiction    string          `json:"jurisdiction"`
	Exempt          bool            `json:"exempt"`
	DefaultRateUsed bool            `json:"defaultRateUsed,omitempty"`
	Details         []TaxDetail     `json:"details"`
}

// ShippingSummary is the delivery and installation cost of a quote.
type ShippingSummary struct {
	Method            string           `json:"method"`
	Zone              string           `json:"zone,omitempty"`
	ShippingCost      decimal.Decimal  `json:"shippingCost"`
	InstallationCost  *decimal.Decimal `json:"installationCost,omitempty"`
	DeliveryEstimate  string           `json:"deliveryEstimate"`
	TotalShippingCost decimal.Decimal  `json:"totalShippingCost"`
	FreeShipping      bool             `json:"freeShipping,omitempty"`
}

// QuoteCalculation is the aggregate result of a calculation.
type QuoteCalculation struct {
	Customer      Customer             `json:"customer"`
	CustomerTier  string               `json:"customerTier"`
	LineItems     []CalculatedLineItem `json:"lineItems"`
	Subtotal      decimal.Decimal      `json:"subtotal"`
	Discounts     DiscountSummary      `json:"discounts"`
	FinalSubtotal decimal.Decimal      `json:"finalSubtotal"`
	Tax           TaxSummary           `json:"tax"`
	Shipping      ShippingSummary      `json:"shipping"`
	TotalAmount   decimal.Decimal      `json:"totalAmount"`
	Currency      string               `json:"currency"`
	RulesVersion  int                  `json:"rulesVersion"`
	ValidUntil    time.Time            `json:"validUntil"`
	CreatedAt     time.Time            `json:"createdAt"`
	Notes         string               `json:"notes,omitempty"`
}

// ChangeKind classifies a detected difference between two calculations.
type ChangeKind string

const (
	ChangeCustomer ChangeKind = "customer_changed"
	ChangeItemAdd  ChangeKind = "item_added"
	ChangeItemDel  ChangeKind = "item_removed"
	ChangeQuantity ChangeKind = "quantity_changed"
	ChangePrice    ChangeKind = "price_changed"
	ChangeDiscount ChangeKind = "discount_changed"
	ChangeSubtotal ChangeKind = "subtotal_changed"
	ChangeTotal    ChangeKind = "total_changed"
	ChangeNotes    ChangeKind = "notes_changed"
	ChangeRestored ChangeKind = "restored"
)

// QuoteVersion is an immutable snapshot of a quote calculation.
type QuoteVersion struct {
	ID             string           `json:"id"`
	QuoteID        string           `json:"quoteId"`
	VersionNumber  int              `json:"versionNumber"`
	Calculation    QuoteCalculation `json:"calculation"`
	ChangesSummary string           `json:"changesSummary"`
	CreatedBy      string           `json:"createdBy"`
	Reason         string           `json:"reason,omitempty"`
	IsCurrent      bool             `json:"isCurrent"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// QuoteChangeLog is one difference detected between two versions.
type QuoteChangeLog struct {
	ID           string     `json:"id"`
	QuoteID      string     `json:"quoteId"`
	VersionFrom  int        `json:"versionFrom"`
	VersionTo    int        `json:"versionTo"`
	Kind         ChangeKind `json:"changeKind"`
	FieldChanged string     `json:"fieldChanged"`
	OldValue     string     `json:"oldValue,omitempty"`
	NewValue     string     `json:"newValue,omitempty"`
	ChangedBy    string     `json:"changedBy"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
