// Package billing holds types shared by the billing subsystem: the error
// taxonomy, document kinds and the currency amounts convention. Monetary
// values are decimals rounded to 2 dp; persisted columns are NUMERIC.
package billing

import "errors"

// Sentinel errors for the billing domain. Callers match with errors.Is;
// services wrap them with entity id and amount context.
var (
	// ErrValidation indicates malformed input rejected before any write.
	ErrValidation = errors.New("billing: validation failed")
	// ErrInvalidState indicates an illegal lifecycle transition.
	ErrInvalidState = errors.New("billing: invalid state transition")
	// ErrOverpayment indicates a payment that would push balance negative.
	ErrOverpayment = errors.New("billing: payment exceeds invoice balance")
	// ErrOverrefund indicates a refund exceeding the refundable remainder.
	ErrOverrefund = errors.New("billing: refund exceeds refundable amount")
	// ErrExpired indicates an operation on a quotation past its validity window.
	ErrExpired = errors.New("billing: quotation expired")
	// ErrConflict indicates a lost update detected under concurrent writes.
	ErrConflict = errors.New("billing: concurrent modification conflict")
	// ErrNotFound indicates the referenced record does not exist.
	ErrNotFound = errors.New("billing: not found")
)

// DocType enumerates document kinds for sequence allocation.
type DocType string

const (
	DocTypeQuotation DocType = "QUO"
	DocTypeInvoice   DocType = "INV"
	DocTypePayment   DocType = "PAY"
	DocTypeExpense   DocType = "EXP"
)
