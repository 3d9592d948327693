package quotations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/clients"
)

type memoryRepo struct {
	byID   map[int64]Quotation
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: map[int64]Quotation{}, nextID: 1}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Create(ctx context.Context, q Quotation) (int64, error) {
	q.ID = m.nextID
	m.nextID++
	q.CreatedAt = time.Now()
	q.UpdatedAt = q.CreatedAt
	m.byID[q.ID] = q
	return q.ID, nil
}

func (m *memoryRepo) Get(ctx context.Context, firmID, id int64) (*Quotation, error) {
	q, ok := m.byID[id]
	if !ok || q.FirmID != firmID {
		return nil, billing.ErrNotFound
	}
	return &q, nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, firmID, id int64) (*Quotation, error) {
	return m.Get(ctx, firmID, id)
}

func (m *memoryRepo) Update(ctx context.Context, q Quotation) error {
	if _, ok := m.byID[q.ID]; !ok {
		return billing.ErrNotFound
	}
	q.UpdatedAt = time.Now()
	m.byID[q.ID] = q
	return nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time, reason *string) error {
	q, ok := m.byID[id]
	if !ok {
		return billing.ErrNotFound
	}
	q.Status = status
	switch status {
	case StatusSent:
		q.SentAt = &at
	case StatusViewed:
		q.ViewedAt = &at
	case StatusAccepted:
		q.AcceptedAt = &at
	case StatusRejected:
		q.RejectedAt = &at
		q.RejectionReason = reason
	}
	m.byID[id] = q
	return nil
}

func (m *memoryRepo) MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error {
	q, ok := m.byID[id]
	if !ok {
		return billing.ErrNotFound
	}
	q.Status = StatusConverted
	q.InvoiceID = &invoiceID
	q.ConvertedAt = &at
	m.byID[id] = q
	return nil
}

func (m *memoryRepo) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
	var out []Quotation
	for _, q := range m.byID {
		if q.FirmID != req.FirmID {
			continue
		}
		if req.Status != nil && q.Status != *req.Status {
			continue
		}
		out = append(out, q)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for id, q := range m.byID {
		if (q.Status == StatusSent || q.Status == StatusViewed) && now.After(q.ValidUntil) {
			q.Status = StatusExpired
			m.byID[id] = q
			n++
		}
	}
	return n, nil
}

type fakeDirectory struct {
	known map[int64]bool
}

func (f fakeDirectory) Get(ctx context.Context, firmID, clientID int64) (*clients.Client, error) {
	if !f.known[clientID] {
		return nil, billing.ErrNotFound
	}
	return &clients.Client{ID: clientID, FirmID: firmID, Name: "Client"}, nil
}

type fakeAllocator struct {
	seq int64
}

func (f *fakeAllocator) Next(ctx context.Context, firmID int64, docType billing.DocType, at time.Time) (string, error) {
	f.seq++
	return fmt.Sprintf("%s-%d-%04d", docType, at.Year(), f.seq), nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func newTestService(repo *memoryRepo) *Service {
	svc := NewService(repo, fakeDirectory{known: map[int64]bool{7: true}}, &fakeAllocator{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

func validCreate() CreateQuotationRequest {
	return CreateQuotationRequest{
		FirmID:   1,
		ClientID: 7,
		Currency: "EUR",
		TaxRate:  dec("15"),
		Items: []LineItemRequest{
			{Description: "Contract review", Quantity: dec("10"), Rate: dec("200.00"), Taxable: true},
		},
		DiscountRate: decPtr("10"),
		IssueDate:    time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		CreatedBy:    42,
	}
}

func TestCreateQuotation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	q, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)

	require.Equal(t, StatusDraft, q.Status)
	require.Equal(t, "QUO-2026-0001", q.Number)
	require.True(t, q.Subtotal.Equal(dec("2000.00")))
	require.True(t, q.DiscountAmount.Equal(dec("200.00")))
	require.True(t, q.TaxAmount.Equal(dec("270.00")))
	require.True(t, q.TotalAmount.Equal(dec("2070.00")))
}

func TestCreateQuotationUnknownClient(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	req := validCreate()
	req.ClientID = 99
	_, err := svc.Create(context.Background(), req)
	require.ErrorIs(t, err, billing.ErrValidation)
}

func TestCreateQuotationDates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	req := validCreate()
	req.ValidUntil = req.IssueDate
	_, err := svc.Create(context.Background(), req)
	require.ErrorIs(t, err, billing.ErrValidation)
}

func TestUpdateRecomputesTotals(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	items := []LineItemRequest{
		{Description: "Litigation", Quantity: dec("5"), Rate: dec("300.00"), Taxable: true},
	}
	q, err = svc.Update(ctx, 1, q.ID, UpdateQuotationRequest{Items: &items})
	require.NoError(t, err)

	// discount rate is retained and reapplied to the new subtotal
	require.True(t, q.Subtotal.Equal(dec("1500.00")))
	require.True(t, q.DiscountRate.Equal(dec("10.00")))
	require.True(t, q.DiscountAmount.Equal(dec("150.00")))
	require.True(t, q.TotalAmount.Equal(dec("1552.50")))
}

func TestUpdateRejectedAfterAccept(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, q.ID)
	require.NoError(t, err)
	_, err = svc.Accept(ctx, 1, q.ID)
	require.NoError(t, err)

	notes := "reworked"
	_, err = svc.Update(ctx, 1, q.ID, UpdateQuotationRequest{Notes: &notes})
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestLifecycleSendViewAccept(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	q, err = svc.Send(ctx, 1, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, q.Status)
	require.NotNil(t, q.SentAt)

	// sending twice fails
	_, err = svc.Send(ctx, 1, q.ID)
	require.ErrorIs(t, err, billing.ErrInvalidState)

	q, err = svc.MarkViewed(ctx, 1, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusViewed, q.Status)

	q, err = svc.Accept(ctx, 1, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusAccepted, q.Status)
	require.NotNil(t, q.AcceptedAt)
}

func TestAcceptExpiredQuotation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	req := validCreate()
	req.IssueDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req.ValidUntil = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	q, err := svc.Create(ctx, req)
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, q.ID)
	require.NoError(t, err)

	// now() is 2026-03-10, past the validity window
	_, err = svc.Accept(ctx, 1, q.ID)
	require.ErrorIs(t, err, billing.ErrExpired)
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, q.ID)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, 1, q.ID, "")
	require.ErrorIs(t, err, billing.ErrValidation)

	q, err = svc.Reject(ctx, 1, q.ID, "rates too high")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, q.Status)
	require.Equal(t, "rates too high", *q.RejectionReason)

	// rejected is terminal
	_, err = svc.Cancel(ctx, 1, q.ID)
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestCancelNonTerminal(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	q, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	q, err = svc.Cancel(ctx, 1, q.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, q.Status)

	_, err = svc.Cancel(ctx, 1, q.ID)
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestExpireStaleSweep(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	stale := validCreate()
	stale.IssueDate = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stale.ValidUntil = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	q1, err := svc.Create(ctx, stale)
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, q1.ID)
	require.NoError(t, err)

	fresh := validCreate()
	q2, err := svc.Create(ctx, fresh)
	require.NoError(t, err)
	_, err = svc.Send(ctx, 1, q2.ID)
	require.NoError(t, err)

	n, err := svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	q1Now, err := svc.Get(ctx, 1, q1.ID)
	require.NoError(t, err)
	require.Equal(t, StatusExpired, q1Now.Status)

	q2Now, err := svc.Get(ctx, 1, q2.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, q2Now.Status)

	// sweep is idempotent
	n, err = svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
