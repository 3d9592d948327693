// Package money implements the line-item calculator used by quotations and
// invoices. The same Compute call runs on every edit; there is no partial
// recompute path.
package money

import "github.com/shopspring/decimal"

// LineItem is a value object owned by exactly one quotation or invoice.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	Rate        decimal.Decimal `json:"rate"`
	Taxable     bool            `json:"taxable"`
}

// Amount returns quantity × rate, unrounded. Rounding happens once per
// derived document field, never per line.
func (li LineItem) Amount() decimal.Decimal {
	return li.Quantity.Mul(li.Rate)
}

// Valid reports whether quantity and rate are non-negative.
func (li LineItem) Valid() bool {
	return !li.Quantity.IsNegative() && !li.Rate.IsNegative()
}

// Round applies the billing rounding rule: 2 decimal places, half away
// from zero. decimal.Round already rounds half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
