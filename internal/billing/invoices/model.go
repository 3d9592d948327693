package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing/money"
)

type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSent          Status = "SENT"
	StatusViewed        Status = "VIEWED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusCancelled     Status = "CANCELLED"
	StatusRefunded      Status = "REFUNDED"
)

// Invoice with derived financial fields. PaidAmount and BalanceAmount are
// written by the ledger service only; Status is a materialized cache of
// Derive and is recomputed on every financial mutation.
type Invoice struct {
	ID             int64            `json:"id"`
	Number         string           `json:"number"`
	FirmID         int64            `json:"firm_id"`
	ClientID       int64            `json:"client_id"`
	CaseID         *int64           `json:"case_id,omitempty"`
	QuotationID    *int64           `json:"-"`
	Items          []money.LineItem `json:"items"`
	Currency       string           `json:"currency"`
	TaxRate        decimal.Decimal  `json:"tax_rate"`
	DiscountRate   decimal.Decimal  `json:"discount_rate"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	BalanceAmount  decimal.Decimal  `json:"balance_amount"`
	IssueDate      time.Time        `json:"issue_date"`
	DueDate        time.Time        `json:"due_date"`
	Status         Status           `json:"status"`
	SentAt         *time.Time       `json:"sent_at,omitempty"`
	ViewedAt       *time.Time       `json:"viewed_at,omitempty"`
	PaidAt         *time.Time       `json:"paid_at,omitempty"`
	CancelledAt    *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason   *string          `json:"cancel_reason,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	CreatedBy      int64            `json:"created_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
