package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/quotations"
	"github.com/praxis-legal/praxis/internal/observability"
)

// Sweeps bundles the periodic billing maintenance handlers. Both sweeps are
// idempotent; rerunning them after a crash or overlap is harmless.
type Sweeps struct {
	quotations *quotations.Service
	invoices   *invoices.Service
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewSweeps constructs the sweep handlers.
func NewSweeps(q *quotations.Service, inv *invoices.Service, metrics *observability.Metrics, logger *slog.Logger) *Sweeps {
	return &Sweeps{quotations: q, invoices: inv, metrics: metrics, logger: logger}
}

// HandleQuotationExpiry marks quotations past their validity window EXPIRED.
func (s *Sweeps) HandleQuotationExpiry(ctx context.Context, t *asynq.Task) error {
	n, err := s.quotations.ExpireStale(ctx)
	if err != nil {
		s.metrics.SweepRun("quotation_expiry", "error")
		s.logger.Error("quotation expiry sweep", slog.Any("error", err))
		return err
	}
	s.metrics.SweepRun("quotation_expiry", "ok")
	if n > 0 {
		s.logger.Info("quotation expiry sweep", slog.Int64("expired", n))
	}
	return nil
}

// HandleInvoiceOverdue re-derives status for sent invoices past due date.
func (s *Sweeps) HandleInvoiceOverdue(ctx context.Context, t *asynq.Task) error {
	n, err := s.invoices.RefreshOverdue(ctx)
	if err != nil {
		s.metrics.SweepRun("invoice_overdue", "error")
		s.logger.Error("invoice overdue sweep", slog.Any("error", err))
		return err
	}
	s.metrics.SweepRun("invoice_overdue", "ok")
	if n > 0 {
		s.logger.Info("invoice overdue sweep", slog.Int("marked", n))
	}
	return nil
}
