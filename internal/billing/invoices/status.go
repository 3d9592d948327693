package invoices

import "time"

// Derive recomputes the invoice status from its underlying facts. The
// stored status is a cache; this function is the source of truth and runs
// on every financial mutation.
//
// Precedence: Cancelled is sticky; a fully refunded invoice that was Paid
// becomes Refunded; payment coverage beats the calendar; Overdue applies
// only after the invoice was actually sent — a Draft never auto-transitions.
func Derive(inv Invoice, now time.Time) Status {
	if inv.CancelledAt != nil {
		return StatusCancelled
	}
	if inv.TotalAmount.IsPositive() && inv.PaidAmount.GreaterThanOrEqual(inv.TotalAmount) {
		return StatusPaid
	}
	if inv.PaidAmount.IsPositive() {
		return StatusPartiallyPaid
	}
	// PaidAmount is zero from here on.
	if inv.Status == StatusPaid || inv.Status == StatusRefunded {
		// Refunds fully offset a previously paid invoice.
		return StatusRefunded
	}
	if inv.SentAt == nil {
		return StatusDraft
	}
	if now.After(inv.DueDate) {
		return StatusOverdue
	}
	if inv.ViewedAt != nil {
		return StatusViewed
	}
	return StatusSent
}
