package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/money"
	"github.com/praxis-legal/praxis/internal/clients"
)

// Allocator issues invoice numbers.
type Allocator interface {
	Next(ctx context.Context, firmID int64, docType billing.DocType, at time.Time) (string, error)
}

// Service covers the invoice workflow except money movement: recording
// payments and refunds is the ledger service's job, and nothing here writes
// paid or balance amounts beyond initialising them to zero.
type Service struct {
	repo      Repository
	directory clients.Directory
	allocator Allocator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, directory clients.Directory, allocator Allocator, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		allocator: allocator,
		logger:    logger,
		now:       time.Now,
	}
}

func toItems(reqs []LineItemRequest) []money.LineItem {
	items := make([]money.LineItem, 0, len(reqs))
	for _, r := range reqs {
		items = append(items, r.toItem())
	}
	return items
}

// Create validates the request, computes totals and persists a DRAFT
// invoice with zero paid amount.
func (s *Service) Create(ctx context.Context, req CreateInvoiceRequest) (*Invoice, error) {
	if !req.DueDate.After(req.IssueDate) {
		return nil, fmt.Errorf("%w: due_date must be after issue_date", billing.ErrValidation)
	}
	if _, err := s.directory.Get(ctx, req.FirmID, req.ClientID); err != nil {
		return nil, fmt.Errorf("%w: client %d: %v", billing.ErrValidation, req.ClientID, err)
	}

	items := toItems(req.Items)
	totals, err := money.Compute(items, req.TaxRate, money.Discount{Rate: req.DiscountRate, Amount: req.DiscountAmount})
	if err != nil {
		return nil, err
	}

	number, err := s.allocator.Next(ctx, req.FirmID, billing.DocTypeInvoice, req.IssueDate)
	if err != nil {
		return nil, err
	}

	inv := Invoice{
		Number:         number,
		FirmID:         req.FirmID,
		ClientID:       req.ClientID,
		CaseID:         req.CaseID,
		Items:          items,
		Currency:       req.Currency,
		TaxRate:        req.TaxRate,
		DiscountRate:   totals.DiscountRate,
		DiscountAmount: totals.DiscountAmount,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		BalanceAmount:  totals.TotalAmount,
		IssueDate:      req.IssueDate,
		DueDate:        req.DueDate,
		Status:         StatusDraft,
		Notes:          req.Notes,
		CreatedBy:      req.CreatedBy,
	}

	id, err := s.repo.Create(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}
	return s.repo.Get(ctx, req.FirmID, id)
}

// Update edits line items or parameters while no payment has been recorded.
func (s *Service) Update(ctx context.Context, firmID, id int64, req UpdateInvoiceRequest) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	switch existing.Status {
	case StatusDraft, StatusSent, StatusViewed, StatusOverdue:
	default:
		return nil, fmt.Errorf("%w: invoice %d is %s and can no longer be edited", billing.ErrInvalidState, id, existing.Status)
	}
	if existing.PaidAmount.IsPositive() {
		return nil, fmt.Errorf("%w: invoice %d has recorded payments", billing.ErrInvalidState, id)
	}

	updated := *existing
	if req.DueDate != nil {
		updated.DueDate = *req.DueDate
	}
	if req.TaxRate != nil {
		updated.TaxRate = *req.TaxRate
	}
	if req.Items != nil {
		updated.Items = toItems(*req.Items)
	}
	if req.Notes != nil {
		updated.Notes = req.Notes
	}

	disc := money.Discount{Rate: req.DiscountRate, Amount: req.DiscountAmount}
	if disc.Rate == nil && disc.Amount == nil {
		rate := existing.DiscountRate
		disc.Rate = &rate
	}
	totals, err := money.Compute(updated.Items, updated.TaxRate, disc)
	if err != nil {
		return nil, err
	}
	updated.DiscountRate = totals.DiscountRate
	updated.DiscountAmount = totals.DiscountAmount
	updated.Subtotal = totals.Subtotal
	updated.TaxAmount = totals.TaxAmount
	updated.TotalAmount = totals.TotalAmount
	updated.BalanceAmount = totals.TotalAmount.Sub(updated.PaidAmount)
	updated.Status = Derive(updated, s.now())

	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update invoice: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// Send transitions DRAFT → SENT and stamps the sent date.
func (s *Service) Send(ctx context.Context, firmID, id int64) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: invoice %d: only DRAFT can be sent, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusSent, s.now()); err != nil {
		return nil, fmt.Errorf("send invoice: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// MarkViewed transitions SENT → VIEWED.
func (s *Service) MarkViewed(ctx context.Context, firmID, id int64) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	if existing.Status != StatusSent {
		return nil, fmt.Errorf("%w: invoice %d: only SENT can be viewed, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusViewed, s.now()); err != nil {
		return nil, fmt.Errorf("mark invoice viewed: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// Cancel voids an invoice. Paid and Refunded invoices cannot be cancelled;
// cancellation is sticky and blocks further status recompute.
func (s *Service) Cancel(ctx context.Context, firmID, id int64, reason *string) (*Invoice, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	switch existing.Status {
	case StatusPaid, StatusRefunded, StatusCancelled:
		return nil, fmt.Errorf("%w: invoice %d is %s and cannot be cancelled", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.Cancel(ctx, id, s.now(), reason); err != nil {
		return nil, fmt.Errorf("cancel invoice: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// RefreshOverdue is the idempotent sweep that materializes OVERDUE for
// sent, unpaid invoices past their due date.
func (s *Service) RefreshOverdue(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.repo.ListDueForOverdue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due invoices: %w", err)
	}
	var updated int
	for _, inv := range due {
		status := Derive(inv, now)
		if status == inv.Status {
			continue
		}
		if err := s.repo.UpdateStatus(ctx, inv.ID, status, now); err != nil {
			return updated, fmt.Errorf("mark invoice %d overdue: %w", inv.ID, err)
		}
		updated++
	}
	if updated > 0 {
		s.logger.Info("marked invoices overdue", slog.Int("count", updated))
	}
	return updated, nil
}

// Get returns an invoice within the firm.
func (s *Service) Get(ctx context.Context, firmID, id int64) (*Invoice, error) {
	return s.repo.Get(ctx, firmID, id)
}

// List returns firm-scoped invoices with filters.
func (s *Service) List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	return s.repo.List(ctx, req)
}

// Aging returns outstanding balances grouped by days overdue.
func (s *Service) Aging(ctx context.Context, firmID int64, asOf time.Time) (AgingBuckets, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	return s.repo.Aging(ctx, firmID, asOf)
}
