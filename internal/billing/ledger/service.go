package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/platform/db"
	"github.com/praxis-legal/praxis/internal/shared"
)

// txRetries bounds the optimistic-retry budget for serialization conflicts.
const txRetries = 3

// IdempotencyGuard deduplicates requests by caller-supplied key.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// OpRecorder counts ledger operations for observability.
type OpRecorder interface {
	LedgerOp(op string)
}

type nopRecorder struct{}

func (nopRecorder) LedgerOp(string) {}

// Service records payments and refunds and is the single writer of invoice
// paid and balance amounts. Every mutating operation is one transaction:
// the payment row and the invoice recompute commit together or not at all.
type Service struct {
	store     Store
	idem      IdempotencyGuard
	publisher billing.EventPublisher
	recorder  OpRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service. idem may be nil when callers do not supply
// idempotency keys.
func NewService(store Store, idem IdempotencyGuard, publisher billing.EventPublisher, recorder OpRecorder, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = billing.NopPublisher{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		store:     store,
		idem:      idem,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// RecordPaymentInput describes a payment to record. Pending marks payments
// awaiting settlement (bank transfer before clearance); these have no
// effect on invoice totals until processed.
type RecordPaymentInput struct {
	FirmID         int64
	ClientID       int64
	InvoiceID      *int64
	ExpenseID      *int64
	Amount         decimal.Decimal
	Currency       string
	Method         string
	PayerName      *string
	Note           *string
	Pending        bool
	IdempotencyKey string
}

// RecordPayment validates and persists a payment, applying it to the target
// invoice in the same transaction. A payment that would push the invoice
// balance negative is rejected with ErrOverpayment and nothing is written.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (*Payment, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive, got %s", billing.ErrValidation, in.Amount)
	}
	if in.ClientID <= 0 {
		return nil, fmt.Errorf("%w: client required", billing.ErrValidation)
	}
	if in.Method == "" {
		return nil, fmt.Errorf("%w: payment method required", billing.ErrValidation)
	}
	if in.InvoiceID == nil && in.ExpenseID == nil {
		return nil, fmt.Errorf("%w: payment must target an invoice or an expense", billing.ErrValidation)
	}

	if in.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, in.IdempotencyKey, "ledger"); err != nil {
			return nil, err
		}
	}

	now := s.now()
	var payment *Payment
	var invoicePaid bool
	err := s.inTx(ctx, func(ctx context.Context, tx TxStore) error {
		payment = nil
		invoicePaid = false

		var inv *invoices.Invoice
		if in.InvoiceID != nil {
			var err error
			inv, err = tx.InvoiceForUpdate(ctx, in.FirmID, *in.InvoiceID)
			if err != nil {
				return fmt.Errorf("load invoice %d: %w", *in.InvoiceID, err)
			}
			if inv.Status == invoices.StatusCancelled {
				return fmt.Errorf("%w: invoice %d is cancelled", billing.ErrInvalidState, inv.ID)
			}
			if inv.Currency != in.Currency {
				return fmt.Errorf("%w: invoice %d is in %s, payment in %s", billing.ErrValidation, inv.ID, inv.Currency, in.Currency)
			}
			if !in.Pending && in.Amount.GreaterThan(inv.BalanceAmount) {
				return fmt.Errorf("%w: invoice %d: amount %s exceeds balance %s",
					billing.ErrOverpayment, inv.ID, in.Amount, inv.BalanceAmount)
			}
		}

		number, err := tx.AllocatePaymentNumber(ctx, in.FirmID, now)
		if err != nil {
			return err
		}

		p := Payment{
			Number:         number,
			FirmID:         in.FirmID,
			ClientID:       in.ClientID,
			InvoiceID:      in.InvoiceID,
			ExpenseID:      in.ExpenseID,
			Amount:         in.Amount,
			RefundedAmount: decimal.Zero,
			Currency:       in.Currency,
			Method:         in.Method,
			Status:         PaymentStatusCompleted,
			PayerName:      in.PayerName,
			Note:           in.Note,
		}
		if in.Pending {
			p.Status = PaymentStatusPending
		} else {
			paidAt := now
			p.PaidAt = &paidAt
		}

		id, err := tx.CreatePayment(ctx, p)
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		p.ID = id

		if inv != nil && p.Status == PaymentStatusCompleted {
			status, err := s.applyToInvoice(ctx, tx, inv, in.Amount, now)
			if err != nil {
				return err
			}
			invoicePaid = status == invoices.StatusPaid
		}

		payment = &p
		return nil
	})
	if err != nil {
		if in.IdempotencyKey != "" && s.idem != nil {
			if delErr := s.idem.Delete(ctx, in.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return nil, err
	}

	s.recorder.LedgerOp("record_payment")
	s.publish(ctx, billing.NewEvent(billing.EventPaymentRecorded, in.FirmID, payment.ID, map[string]any{
		"number": payment.Number,
		"amount": payment.Amount.String(),
	}))
	if invoicePaid {
		s.publish(ctx, billing.NewEvent(billing.EventInvoicePaid, in.FirmID, *in.InvoiceID, nil))
	}
	return payment, nil
}

// ProcessPayment settles a pending payment, applying it to the invoice at
// processing time. Overpayment is re-checked against the current balance.
func (s *Service) ProcessPayment(ctx context.Context, firmID, paymentID int64) (*Payment, error) {
	now := s.now()
	var payment *Payment
	var invoicePaid bool
	var invoiceID int64
	err := s.inTx(ctx, func(ctx context.Context, tx TxStore) error {
		payment = nil
		invoicePaid = false

		p, err := tx.PaymentForUpdate(ctx, firmID, paymentID)
		if err != nil {
			return fmt.Errorf("load payment %d: %w", paymentID, err)
		}
		if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing {
			return fmt.Errorf("%w: payment %d is %s, expected PENDING", billing.ErrInvalidState, paymentID, p.Status)
		}

		var inv *invoices.Invoice
		if p.InvoiceID != nil {
			inv, err = tx.InvoiceForUpdate(ctx, firmID, *p.InvoiceID)
			if err != nil {
				return fmt.Errorf("load invoice %d: %w", *p.InvoiceID, err)
			}
			if inv.Status == invoices.StatusCancelled {
				return fmt.Errorf("%w: invoice %d is cancelled", billing.ErrInvalidState, inv.ID)
			}
			if p.Amount.GreaterThan(inv.BalanceAmount) {
				return fmt.Errorf("%w: invoice %d: amount %s exceeds balance %s",
					billing.ErrOverpayment, inv.ID, p.Amount, inv.BalanceAmount)
			}
		}

		p.Status = PaymentStatusCompleted
		paidAt := now
		p.PaidAt = &paidAt
		if err := tx.UpdatePayment(ctx, *p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		if inv != nil {
			status, err := s.applyToInvoice(ctx, tx, inv, p.Amount, now)
			if err != nil {
				return err
			}
			invoicePaid = status == invoices.StatusPaid
			invoiceID = inv.ID
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.LedgerOp("process_payment")
	if invoicePaid {
		s.publish(ctx, billing.NewEvent(billing.EventInvoicePaid, firmID, invoiceID, nil))
	}
	return payment, nil
}

// RefundPayment refunds part or all of a completed payment and
// symmetrically decrements the linked invoice's paid amount in the same
// transaction. Exceeding the refundable remainder fails with ErrOverrefund.
func (s *Service) RefundPayment(ctx context.Context, firmID, paymentID int64, amount decimal.Decimal, reason string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive, got %s", billing.ErrValidation, amount)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: refund reason required", billing.ErrValidation)
	}

	now := s.now()
	var payment *Payment
	err := s.inTx(ctx, func(ctx context.Context, tx TxStore) error {
		payment = nil

		p, err := tx.PaymentForUpdate(ctx, firmID, paymentID)
		if err != nil {
			return fmt.Errorf("load payment %d: %w", paymentID, err)
		}
		if p.Status != PaymentStatusCompleted {
			return fmt.Errorf("%w: payment %d is %s, only COMPLETED can be refunded", billing.ErrInvalidState, paymentID, p.Status)
		}
		if amount.GreaterThan(p.Refundable()) {
			return fmt.Errorf("%w: payment %d: amount %s exceeds refundable %s",
				billing.ErrOverrefund, paymentID, amount, p.Refundable())
		}

		p.RefundedAmount = p.RefundedAmount.Add(amount)
		if p.RefundedAmount.Equal(p.Amount) {
			p.Status = PaymentStatusRefunded
		}
		if _, err := tx.InsertRefund(ctx, Refund{PaymentID: p.ID, Amount: amount, Reason: reason}); err != nil {
			return fmt.Errorf("record refund: %w", err)
		}
		if err := tx.UpdatePayment(ctx, *p); err != nil {
			return fmt.Errorf("update payment: %w", err)
		}

		if p.InvoiceID != nil {
			inv, err := tx.InvoiceForUpdate(ctx, firmID, *p.InvoiceID)
			if err != nil {
				return fmt.Errorf("load invoice %d: %w", *p.InvoiceID, err)
			}
			if _, err := s.applyToInvoice(ctx, tx, inv, amount.Neg(), now); err != nil {
				return err
			}
		}

		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recorder.LedgerOp("refund_payment")
	s.publish(ctx, billing.NewEvent(billing.EventPaymentRefunded, firmID, payment.ID, map[string]any{
		"amount": amount.String(),
		"reason": reason,
	}))
	return payment, nil
}

// Reconcile flags a completed payment as matched against a bank statement.
// Idempotent: reconciling an already reconciled payment returns the existing
// record unchanged.
func (s *Service) Reconcile(ctx context.Context, firmID, paymentID int64, bankReference string) (*Payment, error) {
	if bankReference == "" {
		return nil, fmt.Errorf("%w: bank reference required", billing.ErrValidation)
	}

	now := s.now()
	var payment *Payment
	err := s.inTx(ctx, func(ctx context.Context, tx TxStore) error {
		p, err := tx.PaymentForUpdate(ctx, firmID, paymentID)
		if err != nil {
			return fmt.Errorf("load payment %d: %w", paymentID, err)
		}
		if p.Reconciled {
			payment = p
			return nil
		}
		if p.Status != PaymentStatusCompleted {
			return fmt.Errorf("%w: payment %d is %s, only COMPLETED can be reconciled", billing.ErrInvalidState, paymentID, p.Status)
		}
		if err := tx.MarkReconciled(ctx, p.ID, bankReference, now); err != nil {
			return fmt.Errorf("mark reconciled: %w", err)
		}
		p.Reconciled = true
		p.BankReference = &bankReference
		p.ReconciledAt = &now
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.recorder.LedgerOp("reconcile")
	return payment, nil
}

// ListUnreconciled returns completed, unreconciled payments for the firm.
// Read only; safe to run concurrently with every mutating operation.
func (s *Service) ListUnreconciled(ctx context.Context, firmID int64) ([]Payment, error) {
	return s.store.ListUnreconciled(ctx, firmID)
}

// GetPayment returns a payment within the firm.
func (s *Service) GetPayment(ctx context.Context, firmID, id int64) (*Payment, error) {
	return s.store.GetPayment(ctx, firmID, id)
}

// ListByInvoice returns the payments applied to an invoice.
func (s *Service) ListByInvoice(ctx context.Context, firmID, invoiceID int64) ([]Payment, error) {
	return s.store.ListByInvoice(ctx, firmID, invoiceID)
}

// ListRefunds returns a payment's refund history.
func (s *Service) ListRefunds(ctx context.Context, firmID, paymentID int64) ([]Refund, error) {
	return s.store.ListRefunds(ctx, firmID, paymentID)
}

// applyToInvoice shifts the invoice's paid amount by delta and re-derives
// status and balance. The invoice row is already locked by the caller.
func (s *Service) applyToInvoice(ctx context.Context, tx TxStore, inv *invoices.Invoice, delta decimal.Decimal, now time.Time) (invoices.Status, error) {
	inv.PaidAmount = inv.PaidAmount.Add(delta)
	if inv.PaidAmount.IsNegative() {
		return "", fmt.Errorf("%w: invoice %d paid amount would become negative", billing.ErrOverrefund, inv.ID)
	}
	inv.BalanceAmount = inv.TotalAmount.Sub(inv.PaidAmount)

	status := invoices.Derive(*inv, now)
	paidAt := inv.PaidAt
	if status == invoices.StatusPaid && paidAt == nil {
		at := now
		paidAt = &at
	}
	inv.Status = status
	inv.PaidAt = paidAt

	if err := tx.SetInvoicePaid(ctx, inv.ID, inv.PaidAmount, inv.BalanceAmount, status, paidAt); err != nil {
		return "", fmt.Errorf("update invoice %d: %w", inv.ID, err)
	}
	return status, nil
}

// inTx runs fn with the bounded serialization-conflict retry budget.
func (s *Service) inTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		s.logger.Warn("ledger tx conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: %v", billing.ErrConflict, err)
}

func (s *Service) publish(ctx context.Context, evt billing.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}

var _ IdempotencyGuard = (*shared.IdempotencyStore)(nil)
