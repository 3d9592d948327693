package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing/money"
)

type LineItemRequest struct {
	Description string          `json:"description" validate:"required,max=500"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	Rate        decimal.Decimal `json:"rate" validate:"required"`
	Taxable     bool            `json:"taxable"`
}

func (r LineItemRequest) toItem() money.LineItem {
	return money.LineItem{
		Description: r.Description,
		Quantity:    r.Quantity,
		Rate:        r.Rate,
		Taxable:     r.Taxable,
	}
}

type CreateQuotationRequest struct {
	FirmID         int64             `json:"firm_id" validate:"required,gt=0"`
	ClientID       int64             `json:"client_id" validate:"required,gt=0"`
	CaseID         *int64            `json:"case_id,omitempty"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	TaxRate        decimal.Decimal   `json:"tax_rate"`
	DiscountRate   *decimal.Decimal  `json:"discount_rate,omitempty"`
	DiscountAmount *decimal.Decimal  `json:"discount_amount,omitempty"`
	IssueDate      time.Time         `json:"issue_date" validate:"required"`
	ValidUntil     time.Time         `json:"valid_until" validate:"required"`
	Notes          *string           `json:"notes,omitempty"`
	Items          []LineItemRequest `json:"items" validate:"required,min=1,dive"`
	CreatedBy      int64             `json:"created_by"`
}

type UpdateQuotationRequest struct {
	IssueDate      *time.Time         `json:"issue_date,omitempty"`
	ValidUntil     *time.Time         `json:"valid_until,omitempty"`
	TaxRate        *decimal.Decimal   `json:"tax_rate,omitempty"`
	DiscountRate   *decimal.Decimal   `json:"discount_rate,omitempty"`
	DiscountAmount *decimal.Decimal   `json:"discount_amount,omitempty"`
	Notes          *string            `json:"notes,omitempty"`
	Items          *[]LineItemRequest `json:"items,omitempty" validate:"omitempty,min=1,dive"`
}

type ListQuotationsRequest struct {
	FirmID   int64      `json:"firm_id" validate:"required,gt=0"`
	ClientID *int64     `json:"client_id,omitempty"`
	Status   *Status    `json:"status,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Limit    int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int        `json:"offset" validate:"gte=0"`
}
