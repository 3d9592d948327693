package money

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing"
)

// Totals holds the derived financial fields of a document. All values are
// rounded to 2 dp.
type Totals struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountRate   decimal.Decimal `json:"discount_rate"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// Discount carries the caller-supplied discount authority. When Rate is set
// it wins and Amount is re-derived; an Amount-only discount derives the rate
// from the subtotal (skipped when subtotal is zero).
type Discount struct {
	Rate   *decimal.Decimal
	Amount *decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Compute derives subtotal, discount, tax and total from line items. It is
// pure: identical inputs always yield identical outputs. The taxable flag is
// reserved for per-item tax treatment; tax currently applies uniformly to
// the discounted subtotal.
func Compute(items []LineItem, taxRate decimal.Decimal, disc Discount) (Totals, error) {
	if taxRate.IsNegative() {
		return Totals{}, fmt.Errorf("%w: tax rate must not be negative", billing.ErrValidation)
	}

	subtotal := decimal.Zero
	for i, li := range items {
		if !li.Valid() {
			return Totals{}, fmt.Errorf("%w: line %d: quantity and rate must not be negative", billing.ErrValidation, i+1)
		}
		subtotal = subtotal.Add(li.Amount())
	}

	var discountRate, discountAmount decimal.Decimal
	switch {
	case disc.Rate != nil:
		discountRate = *disc.Rate
		if discountRate.IsNegative() || discountRate.GreaterThan(hundred) {
			return Totals{}, fmt.Errorf("%w: discount rate must be between 0 and 100", billing.ErrValidation)
		}
		discountAmount = subtotal.Mul(discountRate).Div(hundred)
	case disc.Amount != nil:
		discountAmount = *disc.Amount
		if discountAmount.IsNegative() || discountAmount.GreaterThan(subtotal) {
			return Totals{}, fmt.Errorf("%w: discount amount must be between 0 and subtotal", billing.ErrValidation)
		}
		if subtotal.IsPositive() {
			discountRate = discountAmount.Div(subtotal).Mul(hundred)
		}
	}

	taxBase := subtotal.Sub(discountAmount)
	taxAmount := taxBase.Mul(taxRate).Div(hundred)

	return Totals{
		Subtotal:       Round(subtotal),
		DiscountRate:   Round(discountRate),
		DiscountAmount: Round(discountAmount),
		TaxAmount:      Round(taxAmount),
		TotalAmount:    Round(taxBase.Add(taxAmount)),
	}, nil
}
