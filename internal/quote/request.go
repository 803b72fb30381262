package quote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/cabinet-quote/internal/common"
	"github.com/noah-isme/cabinet-quote/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Request is the input of a quote calculation.
type Request struct {
	CustomerID string `json:"customerId" validate:"required,max=128"`
	// CustomerTier overrides the tier stored on the customer record.
	CustomerTier        string                  `json:"customerTier,omitempty" validate:"max=64"`
	Items               []domain.QuoteItemInput `json:"items" validate:"required,min=1,dive"`
	ShippingAddress     *domain.Address         `json:"shippingAddress,omitempty"`
	ShippingMethod      string                  `json:"shippingMethod,omitempty" validate:"max=64"`
	IncludeInstallation bool                    `json:"includeInstallation,omitempty"`
	// ApplyTax defaults to true when omitted.
	ApplyTax     *bool  `json:"applyTax,omitempty"`
	PromoCode    string `json:"promoCode,omitempty" validate:"max=64"`
	ValidityDays int    `json:"validityDays,omitempty" validate:"gte=0"`
	Notes        string `json:"notes,omitempty" validate:"max=4000"`
}

// TaxApplies reports whether tax should be charged.
func (r Request) TaxApplies() bool {
	return r.ApplyTax == nil || *r.ApplyTax
}

// Validate checks the request shape and per-item bounds. It performs no I/O.
func (r Request) Validate() error {
	if err := common.ValidateStruct(r); err != nil {
		return err
	}
	for i, item := range r.Items {
		if item.CustomPrice != nil && item.CustomPrice.IsNegative() {
			return common.Validation("items[%d].customPrice must not be negative (got %s)", i, item.CustomPrice).
				WithDetails(map[string]string{fieldName(i, "customPrice"): "must not be negative"})
		}
		if item.DiscountPercent != nil && (item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(hundred)) {
			return common.Validation("items[%d].discountPercent must be between 0 and 100 (got %s)", i, item.DiscountPercent).
				WithDetails(map[string]string{fieldName(i, "discountPercent"): "must be between 0 and 100"})
		}
	}
	return nil
}

func fieldName(i int, field string) string {
	return fmt.Sprintf("items[%d].%s", i, field)
}
