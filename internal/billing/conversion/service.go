// Package conversion turns accepted quotations into draft invoices. A
// quotation converts at most once; the row lock on the quotation makes
// concurrent conversion attempts serialize, and the CONVERTED status check
// rejects the loser.
package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/money"
	"github.com/praxis-legal/praxis/internal/billing/quotations"
	"github.com/praxis-legal/praxis/internal/platform/db"
)

const (
	txRetries      = 3
	defaultDueDays = 30
)

type Service struct {
	store     Store
	publisher billing.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, publisher billing.EventPublisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = billing.NopPublisher{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ConvertRequest carries the invoice parameters a conversion may override.
// A zero DueDate defaults to thirty days after the issue date.
type ConvertRequest struct {
	DueDate   time.Time
	Notes     *string
	CreatedBy int64
}

// ConvertToInvoice creates a draft invoice from an accepted quotation and
// marks the quotation converted, both in one transaction. Line items, tax
// rate and discount carry over verbatim; totals are recomputed from them so
// the invoice never inherits a stale figure.
func (s *Service) ConvertToInvoice(ctx context.Context, firmID, quotationID int64, req ConvertRequest) (*invoices.Invoice, error) {
	now := s.now()
	issue := now.Truncate(24 * time.Hour)
	due := req.DueDate
	if due.IsZero() {
		due = issue.AddDate(0, 0, defaultDueDays)
	}
	if due.Before(issue) {
		return nil, fmt.Errorf("%w: due date %s before issue date %s", billing.ErrValidation, due.Format("2006-01-02"), issue.Format("2006-01-02"))
	}

	var created *invoices.Invoice
	err := s.inTx(ctx, func(ctx context.Context, tx TxStore) error {
		created = nil

		quo, err := tx.QuotationForUpdate(ctx, firmID, quotationID)
		if err != nil {
			return fmt.Errorf("load quotation %d: %w", quotationID, err)
		}
		if quo.Status == quotations.StatusConverted {
			return fmt.Errorf("%w: quotation %s already converted", billing.ErrInvalidState, quo.Number)
		}
		if quo.Status != quotations.StatusAccepted {
			return fmt.Errorf("%w: quotation %s is %s, only ACCEPTED converts", billing.ErrInvalidState, quo.Number, quo.Status)
		}

		rate := quo.DiscountRate
		totals, err := money.Compute(quo.Items, quo.TaxRate, money.Discount{Rate: &rate})
		if err != nil {
			return fmt.Errorf("recompute totals for quotation %s: %w", quo.Number, err)
		}

		number, err := tx.AllocateInvoiceNumber(ctx, firmID, now)
		if err != nil {
			return err
		}

		notes := req.Notes
		if notes == nil {
			notes = quo.Notes
		}
		inv := invoices.Invoice{
			Number:         number,
			FirmID:         firmID,
			ClientID:       quo.ClientID,
			CaseID:         quo.CaseID,
			QuotationID:    &quo.ID,
			Items:          quo.Items,
			Currency:       quo.Currency,
			TaxRate:        quo.TaxRate,
			DiscountRate:   totals.DiscountRate,
			DiscountAmount: totals.DiscountAmount,
			Subtotal:       totals.Subtotal,
			TaxAmount:      totals.TaxAmount,
			TotalAmount:    totals.TotalAmount,
			PaidAmount:     decimal.Zero,
			BalanceAmount:  totals.TotalAmount,
			IssueDate:      issue,
			DueDate:        due,
			Status:         invoices.StatusDraft,
			Notes:          notes,
			CreatedBy:      req.CreatedBy,
		}
		id, err := tx.CreateInvoice(ctx, inv)
		if err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}
		inv.ID = id

		if err := tx.MarkConverted(ctx, quo.ID, id, now); err != nil {
			return fmt.Errorf("mark quotation %d converted: %w", quo.ID, err)
		}

		created = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, billing.NewEvent(billing.EventQuotationConverted, firmID, quotationID, map[string]any{
		"invoice_id":     created.ID,
		"invoice_number": created.Number,
	}))
	return created, nil
}

func (s *Service) inTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	var err error
	for attempt := 0; attempt < txRetries; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
		s.logger.Warn("conversion tx conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("%w: %v", billing.ErrConflict, err)
}

func (s *Service) publish(ctx context.Context, evt billing.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}
