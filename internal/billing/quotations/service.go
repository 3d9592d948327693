package quotations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/money"
	"github.com/praxis-legal/praxis/internal/clients"
)

// Allocator issues quotation numbers.
type Allocator interface {
	Next(ctx context.Context, firmID int64, docType billing.DocType, at time.Time) (string, error)
}

// Service implements the quotation lifecycle. Totals are always derived via
// money.Compute; there is no partial recompute path.
type Service struct {
	repo      Repository
	directory clients.Directory
	allocator Allocator
	publisher billing.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository, directory clients.Directory, allocator Allocator, publisher billing.EventPublisher, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = billing.NopPublisher{}
	}
	return &Service{
		repo:      repo,
		directory: directory,
		allocator: allocator,
		publisher: publisher,
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

// Create validates the request, computes totals, allocates a number and
// persists a DRAFT quotation.
func (s *Service) Create(ctx context.Context, req CreateQuotationRequest) (*Quotation, error) {
	if !req.ValidUntil.After(req.IssueDate) {
		return nil, fmt.Errorf("%w: valid_until must be after issue_date", billing.ErrValidation)
	}
	if _, err := s.directory.Get(ctx, req.FirmID, req.ClientID); err != nil {
		return nil, fmt.Errorf("%w: client %d: %v", billing.ErrValidation, req.ClientID, err)
	}

	items := toItems(req.Items)
	totals, err := money.Compute(items, req.TaxRate, money.Discount{Rate: req.DiscountRate, Amount: req.DiscountAmount})
	if err != nil {
		return nil, err
	}

	number, err := s.allocator.Next(ctx, req.FirmID, billing.DocTypeQuotation, req.IssueDate)
	if err != nil {
		return nil, err
	}

	q := Quotation{
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
		IssueDate:      req.IssueDate,
		ValidUntil:     req.ValidUntil,
		Status:         StatusDraft,
		Notes:          req.Notes,
		CreatedBy:      req.CreatedBy,
	}

	id, err := s.repo.Create(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("create quotation: %w", err)
	}
	return s.repo.Get(ctx, req.FirmID, id)
}

// Update edits an editable quotation and recomputes totals from scratch.
func (s *Service) Update(ctx context.Context, firmID, id int64, req UpdateQuotationRequest) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if !existing.Status.Editable() {
		return nil, fmt.Errorf("%w: quotation %d is %s and can no longer be edited", billing.ErrInvalidState, id, existing.Status)
	}

	updated := *existing
	if req.IssueDate != nil {
		updated.IssueDate = *req.IssueDate
	}
	if req.ValidUntil != nil {
		updated.ValidUntil = *req.ValidUntil
	}
	if !updated.ValidUntil.After(updated.IssueDate) {
		return nil, fmt.Errorf("%w: valid_until must be after issue_date", billing.ErrValidation)
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

	if err := s.repo.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update quotation: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// Send transitions DRAFT → SENT and stamps the sent date.
func (s *Service) Send(ctx context.Context, firmID, id int64) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if existing.Status != StatusDraft {
		return nil, fmt.Errorf("%w: quotation %d: only DRAFT can be sent, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusSent, s.now(), nil); err != nil {
		return nil, fmt.Errorf("send quotation: %w", err)
	}
	s.publish(ctx, billing.NewEvent(billing.EventQuotationSent, firmID, id, nil))
	return s.repo.Get(ctx, firmID, id)
}

// MarkViewed transitions SENT → VIEWED.
func (s *Service) MarkViewed(ctx context.Context, firmID, id int64) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if existing.Status != StatusSent {
		return nil, fmt.Errorf("%w: quotation %d: only SENT can be viewed, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusViewed, s.now(), nil); err != nil {
		return nil, fmt.Errorf("mark quotation viewed: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// Accept transitions SENT/VIEWED → ACCEPTED. Accepting past the validity
// window fails with ErrExpired.
func (s *Service) Accept(ctx context.Context, firmID, id int64) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if existing.Status != StatusSent && existing.Status != StatusViewed {
		return nil, fmt.Errorf("%w: quotation %d: only SENT or VIEWED can be accepted, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	now := s.now()
	if now.After(existing.ValidUntil) {
		return nil, fmt.Errorf("%w: quotation %d expired %s", billing.ErrExpired, id, existing.ValidUntil.Format("2006-01-02"))
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusAccepted, now, nil); err != nil {
		return nil, fmt.Errorf("accept quotation: %w", err)
	}
	s.publish(ctx, billing.NewEvent(billing.EventQuotationAccepted, firmID, id, nil))
	return s.repo.Get(ctx, firmID, id)
}

// Reject transitions SENT/VIEWED → REJECTED; a reason is required.
func (s *Service) Reject(ctx context.Context, firmID, id int64, reason string) (*Quotation, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason required", billing.ErrValidation)
	}
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if existing.Status != StatusSent && existing.Status != StatusViewed {
		return nil, fmt.Errorf("%w: quotation %d: only SENT or VIEWED can be rejected, is %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusRejected, s.now(), &reason); err != nil {
		return nil, fmt.Errorf("reject quotation: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// Cancel transitions any non-terminal quotation to CANCELLED.
func (s *Service) Cancel(ctx context.Context, firmID, id int64) (*Quotation, error) {
	existing, err := s.repo.Get(ctx, firmID, id)
	if err != nil {
		return nil, fmt.Errorf("get quotation: %w", err)
	}
	if existing.Status.Terminal() {
		return nil, fmt.Errorf("%w: quotation %d is already %s", billing.ErrInvalidState, id, existing.Status)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusCancelled, s.now(), nil); err != nil {
		return nil, fmt.Errorf("cancel quotation: %w", err)
	}
	return s.repo.Get(ctx, firmID, id)
}

// ExpireStale is the idempotent sweep that marks quotations past their
// validity window as EXPIRED. Safe to run repeatedly.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire quotations: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale quotations", slog.Int64("count", n))
	}
	return n, nil
}

// Get returns a quotation within the firm.
func (s *Service) Get(ctx context.Context, firmID, id int64) (*Quotation, error) {
	return s.repo.Get(ctx, firmID, id)
}

// List returns firm-scoped quotations with filters.
func (s *Service) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	return s.repo.List(ctx, req)
}

func (s *Service) publish(ctx context.Context, evt billing.Event) {
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish event", slog.String("type", string(evt.Type)), slog.Any("error", err))
	}
}
