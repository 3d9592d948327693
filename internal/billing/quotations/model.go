package quotations

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing/money"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusViewed    Status = "VIEWED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
	StatusConverted Status = "CONVERTED"
)

// Terminal reports whether no further workflow transition is allowed.
// Accepted is non-terminal because it may still convert.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCancelled, StatusConverted:
		return true
	}
	return false
}

// Editable reports whether line items and rates may still change.
func (s Status) Editable() bool {
	switch s {
	case StatusDraft, StatusSent, StatusViewed:
		return true
	}
	return false
}

type Quotation struct {
	ID              int64            `json:"id"`
	Number          string           `json:"number"`
	FirmID          int64            `json:"firm_id"`
	ClientID        int64            `json:"client_id"`
	CaseID          *int64           `json:"case_id,omitempty"`
	Items           []money.LineItem `json:"items"`
	Currency        string           `json:"currency"`
	TaxRate         decimal.Decimal  `json:"tax_rate"`
	DiscountRate    decimal.Decimal  `json:"discount_rate"`
	DiscountAmount  decimal.Decimal  `json:"discount_amount"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	TaxAmount       decimal.Decimal  `json:"tax_amount"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	IssueDate       time.Time        `json:"issue_date"`
	ValidUntil      time.Time        `json:"valid_until"`
	Status          Status           `json:"status"`
	SentAt          *time.Time       `json:"sent_at,omitempty"`
	ViewedAt        *time.Time       `json:"viewed_at,omitempty"`
	AcceptedAt      *time.Time       `json:"accepted_at,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	RejectionReason *string          `json:"rejection_reason,omitempty"`
	InvoiceID       *int64           `json:"converted_to_invoice_id,omitempty"`
	ConvertedAt     *time.Time       `json:"converted_at,omitempty"`
	Notes           *string          `json:"notes,omitempty"`
	CreatedBy       int64            `json:"created_by"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
