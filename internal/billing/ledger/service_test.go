package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
)

type memoryStore struct {
	mu       sync.Mutex
	payments map[int64]Payment
	refunds  []Refund
	invoices map[int64]invoices.Invoice
	nextID   int64
	seq      int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		payments: map[int64]Payment{},
		invoices: map[int64]invoices.Invoice{},
		nextID:   1,
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshotPayments := make(map[int64]Payment, len(m.payments))
	for k, v := range m.payments {
		snapshotPayments[k] = v
	}
	snapshotInvoices := make(map[int64]invoices.Invoice, len(m.invoices))
	for k, v := range m.invoices {
		snapshotInvoices[k] = v
	}
	snapshotRefunds := append([]Refund(nil), m.refunds...)
	id, seq := m.nextID, m.seq
	if err := fn(ctx, (*memoryTx)(m)); err != nil {
		m.payments = snapshotPayments
		m.invoices = snapshotInvoices
		m.refunds = snapshotRefunds
		m.nextID, m.seq = id, seq
		return err
	}
	return nil
}

func (m *memoryStore) GetPayment(ctx context.Context, firmID, id int64) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.FirmID != firmID {
		return nil, billing.ErrNotFound
	}
	return &p, nil
}

func (m *memoryStore) ListByInvoice(ctx context.Context, firmID, invoiceID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.FirmID == firmID && p.InvoiceID != nil && *p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) ListUnreconciled(ctx context.Context, firmID int64) ([]Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.FirmID == firmID && p.Status == PaymentStatusCompleted && !p.Reconciled {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryStore) ListRefunds(ctx context.Context, firmID, paymentID int64) ([]Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Refund
	for _, r := range m.refunds {
		if r.PaymentID == paymentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// memoryTx reuses the store's maps; WithTx holds the lock for the whole
// transaction and restores snapshots on error.
type memoryTx memoryStore

func (m *memoryTx) AllocatePaymentNumber(ctx context.Context, firmID int64, at time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("PAY-%s-%04d", at.Format("200601"), m.seq), nil
}

func (m *memoryTx) InvoiceForUpdate(ctx context.Context, firmID, invoiceID int64) (*invoices.Invoice, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok || inv.FirmID != firmID {
		return nil, billing.ErrNotFound
	}
	return &inv, nil
}

func (m *memoryTx) SetInvoicePaid(ctx context.Context, invoiceID int64, paid, balance decimal.Decimal, status invoices.Status, paidAt *time.Time) error {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return billing.ErrNotFound
	}
	inv.PaidAmount = paid
	inv.BalanceAmount = balance
	inv.Status = status
	inv.PaidAt = paidAt
	m.invoices[invoiceID] = inv
	return nil
}

func (m *memoryTx) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	p.ID = m.nextID
	m.nextID++
	m.payments[p.ID] = p
	return p.ID, nil
}

func (m *memoryTx) PaymentForUpdate(ctx context.Context, firmID, id int64) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok || p.FirmID != firmID {
		return nil, billing.ErrNotFound
	}
	return &p, nil
}

func (m *memoryTx) UpdatePayment(ctx context.Context, p Payment) error {
	if _, ok := m.payments[p.ID]; !ok {
		return billing.ErrNotFound
	}
	m.payments[p.ID] = p
	return nil
}

func (m *memoryTx) InsertRefund(ctx context.Context, ref Refund) (int64, error) {
	ref.ID = m.nextID
	m.nextID++
	m.refunds = append(m.refunds, ref)
	return ref.ID, nil
}

func (m *memoryTx) MarkReconciled(ctx context.Context, id int64, bankReference string, at time.Time) error {
	p, ok := m.payments[id]
	if !ok {
		return billing.ErrNotFound
	}
	p.Reconciled = true
	p.BankReference = &bankReference
	p.ReconciledAt = &at
	m.payments[id] = p
	return nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []billing.Event
}

func (c *capturedEvents) Publish(ctx context.Context, evt billing.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturedEvents) types() []billing.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]billing.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedInvoice(store *memoryStore, id int64, total string) {
	sent := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.invoices[id] = invoices.Invoice{
		ID:            id,
		Number:        fmt.Sprintf("INV-2026-%04d", id),
		FirmID:        1,
		ClientID:      7,
		Currency:      "EUR",
		TotalAmount:   dec(total),
		PaidAmount:    decimal.Zero,
		BalanceAmount: dec(total),
		IssueDate:     sent,
		DueDate:       sent.AddDate(0, 1, 0),
		Status:        invoices.StatusSent,
		SentAt:        &sent,
	}
}

func newTestService(store *memoryStore) (*Service, *capturedEvents) {
	events := &capturedEvents{}
	svc := NewService(store, nil, events, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return svc, events
}

func invoiceID(id int64) *int64 { return &id }

func TestRecordPaymentPartialThenFull(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, events := newTestService(store)
	ctx := context.Background()

	p1, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("600.00"), Currency: "EUR", Method: "BANK_TRANSFER",
	})
	require.NoError(t, err)
	require.Equal(t, PaymentStatusCompleted, p1.Status)
	require.Equal(t, "PAY-202603-0001", p1.Number)

	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.Equal(dec("600.00")))
	require.True(t, inv.BalanceAmount.Equal(dec("400.00")))
	require.Equal(t, invoices.StatusPartiallyPaid, inv.Status)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("400.00"), Currency: "EUR", Method: "BANK_TRANSFER",
	})
	require.NoError(t, err)

	inv = store.invoices[1]
	require.True(t, inv.BalanceAmount.IsZero())
	require.Equal(t, invoices.StatusPaid, inv.Status)
	require.NotNil(t, inv.PaidAt)
	require.Contains(t, events.types(), billing.EventInvoicePaid)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("600.00"), Currency: "EUR", Method: "CARD",
	})
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "CARD",
	})
	require.ErrorIs(t, err, billing.ErrOverpayment)

	// the rejected payment left no trace
	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.Equal(dec("600.00")))
	require.Len(t, store.payments, 1)
}

func TestRecordPaymentValidation(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "100.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	_, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("0"), Currency: "EUR", Method: "CASH",
	})
	require.ErrorIs(t, err, billing.ErrValidation)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("50.00"), Currency: "USD", Method: "CASH",
	})
	require.ErrorIs(t, err, billing.ErrValidation)

	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7,
		Amount: dec("50.00"), Currency: "EUR", Method: "CASH",
	})
	require.ErrorIs(t, err, billing.ErrValidation)
}

func TestRecordPaymentCancelledInvoice(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "100.00")
	inv := store.invoices[1]
	cancelled := time.Now()
	inv.Status = invoices.StatusCancelled
	inv.CancelledAt = &cancelled
	store.invoices[1] = inv
	svc, _ := newTestService(store)

	_, err := svc.RecordPayment(context.Background(), RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("50.00"), Currency: "EUR", Method: "CASH",
	})
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestPendingPaymentHasNoEffectUntilProcessed(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("1000.00"), Currency: "EUR", Method: "BANK_TRANSFER",
		Pending: true,
	})
	require.NoError(t, err)
	require.Equal(t, PaymentStatusPending, p.Status)
	require.Nil(t, p.PaidAt)

	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.IsZero())
	require.Equal(t, invoices.StatusSent, inv.Status)

	p, err = svc.ProcessPayment(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Equal(t, PaymentStatusCompleted, p.Status)
	require.NotNil(t, p.PaidAt)

	inv = store.invoices[1]
	require.True(t, inv.BalanceAmount.IsZero())
	require.Equal(t, invoices.StatusPaid, inv.Status)

	// processing twice fails
	_, err = svc.ProcessPayment(ctx, 1, p.ID)
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestProcessPaymentRechecksBalance(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	pending, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("800.00"), Currency: "EUR", Method: "BANK_TRANSFER",
		Pending: true,
	})
	require.NoError(t, err)

	// a direct payment settles most of the invoice in the meantime
	_, err = svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "CARD",
	})
	require.NoError(t, err)

	_, err = svc.ProcessPayment(ctx, 1, pending.ID)
	require.ErrorIs(t, err, billing.ErrOverpayment)
}

func TestRefundReopensInvoice(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, events := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("1000.00"), Currency: "EUR", Method: "CARD",
	})
	require.NoError(t, err)
	require.Equal(t, invoices.StatusPaid, store.invoices[1].Status)

	p, err = svc.RefundPayment(ctx, 1, p.ID, dec("300.00"), "billing dispute")
	require.NoError(t, err)
	require.True(t, p.RefundedAmount.Equal(dec("300.00")))
	require.Equal(t, PaymentStatusCompleted, p.Status)

	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.Equal(dec("700.00")))
	require.True(t, inv.BalanceAmount.Equal(dec("300.00")))
	require.Equal(t, invoices.StatusPartiallyPaid, inv.Status)
	require.Contains(t, events.types(), billing.EventPaymentRefunded)

	refunds, err := svc.ListRefunds(ctx, 1, p.ID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	require.Equal(t, "billing dispute", refunds[0].Reason)
}

func TestFullRefundMarksPaymentRefunded(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "500.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "CASH",
	})
	require.NoError(t, err)

	p, err = svc.RefundPayment(ctx, 1, p.ID, dec("500.00"), "matter closed")
	require.NoError(t, err)
	require.Equal(t, PaymentStatusRefunded, p.Status)

	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.IsZero())
	require.Equal(t, invoices.StatusRefunded, inv.Status)
}

func TestRefundRejectsOverrefund(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "500.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "CASH",
	})
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, 1, p.ID, dec("200.00"), "partial")
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, 1, p.ID, dec("400.00"), "too much")
	require.ErrorIs(t, err, billing.ErrOverrefund)

	got, err := svc.GetPayment(ctx, 1, p.ID)
	require.NoError(t, err)
	require.True(t, got.RefundedAmount.Equal(dec("200.00")))
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "500.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "BANK_TRANSFER",
		Pending: true,
	})
	require.NoError(t, err)

	_, err = svc.RefundPayment(ctx, 1, p.ID, dec("100.00"), "early")
	require.ErrorIs(t, err, billing.ErrInvalidState)
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "500.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	p, err := svc.RecordPayment(ctx, RecordPaymentInput{
		FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
		Amount: dec("500.00"), Currency: "EUR", Method: "BANK_TRANSFER",
	})
	require.NoError(t, err)

	unmatched, err := svc.ListUnreconciled(ctx, 1)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)

	p, err = svc.Reconcile(ctx, 1, p.ID, "STMT-2026-03-0042")
	require.NoError(t, err)
	require.True(t, p.Reconciled)
	require.NotNil(t, p.ReconciledAt)
	first := *p.ReconciledAt

	p, err = svc.Reconcile(ctx, 1, p.ID, "STMT-2026-03-9999")
	require.NoError(t, err)
	require.Equal(t, "STMT-2026-03-0042", *p.BankReference)
	require.Equal(t, first, *p.ReconciledAt)

	unmatched, err = svc.ListUnreconciled(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, unmatched)
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	store := newMemoryStore()
	seedInvoice(store, 1, "1000.00")
	svc, _ := newTestService(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RecordPayment(ctx, RecordPaymentInput{
				FirmID: 1, ClientID: 7, InvoiceID: invoiceID(1),
				Amount: dec("400.00"), Currency: "EUR", Method: "CARD",
			})
		}(i)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, billing.ErrOverpayment)
			rejected++
		}
	}
	require.Equal(t, 2, ok)
	require.Equal(t, 2, rejected)

	inv := store.invoices[1]
	require.True(t, inv.PaidAmount.Equal(dec("800.00")))
	require.False(t, inv.PaidAmount.GreaterThan(inv.TotalAmount))
}
