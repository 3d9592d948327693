// Package ledger is the subsystem of record for money movement against
// invoices. It is the only writer of an invoice's paid and balance amounts:
// recording, processing and refunding payments all happen here, each as a
// single atomic unit of work covering the payment row and the invoice
// recompute together.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus enumerates the payment lifecycle.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
)

// Payment records money received from a client, applied to at most one
// invoice (or an expense reimbursement). Immutable once completed except
// for refund bookkeeping and reconciliation flags.
type Payment struct {
	ID             int64           `json:"id"`
	Number         string          `json:"number"`
	FirmID         int64           `json:"firm_id"`
	ClientID       int64           `json:"client_id"`
	InvoiceID      *int64          `json:"invoice_id,omitempty"`
	ExpenseID      *int64          `json:"expense_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	RefundedAmount decimal.Decimal `json:"refunded_amount"`
	Currency       string          `json:"currency"`
	Method         string          `json:"method"`
	Status         PaymentStatus   `json:"status"`
	PayerName      *string         `json:"payer_name,omitempty"`
	Note           *string         `json:"note,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Reconciled     bool            `json:"reconciled"`
	BankReference  *string         `json:"bank_reference,omitempty"`
	ReconciledAt   *time.Time      `json:"reconciled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Refundable returns the amount still open for refund.
func (p Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// Refund is one entry in a payment's refund history.
type Refund struct {
	ID        int64           `json:"id"`
	PaymentID int64           `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}
