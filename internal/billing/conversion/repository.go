package conversion

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/quotations"
	"github.com/praxis-legal/praxis/internal/billing/sequence"
	"github.com/praxis-legal/praxis/internal/platform/db"
)

// Store opens the transactional scope a conversion runs in.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore spans the quotation, the new invoice and the invoice number
// sequence inside one transaction.
type TxStore interface {
	QuotationForUpdate(ctx context.Context, firmID, id int64) (*quotations.Quotation, error)
	AllocateInvoiceNumber(ctx context.Context, firmID int64, at time.Time) (string, error)
	CreateInvoice(ctx context.Context, inv invoices.Invoice) (int64, error)
	MarkConverted(ctx context.Context, quotationID, invoiceID int64, at time.Time) error
}

// Repository is the pgx-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{
			quotations: quotations.NewTxRepository(tx),
			invoices:   invoices.NewTxRepository(tx),
			sequences:  sequence.NewAllocator(sequence.TxCounterStore{Tx: tx}),
		})
	})
}

type txStore struct {
	quotations quotations.Repository
	invoices   invoices.Repository
	sequences  *sequence.Allocator
}

func (s *txStore) QuotationForUpdate(ctx context.Context, firmID, id int64) (*quotations.Quotation, error) {
	return s.quotations.GetForUpdate(ctx, firmID, id)
}

func (s *txStore) AllocateInvoiceNumber(ctx context.Context, firmID int64, at time.Time) (string, error) {
	return s.sequences.Next(ctx, firmID, billing.DocTypeInvoice, at)
}

func (s *txStore) CreateInvoice(ctx context.Context, inv invoices.Invoice) (int64, error) {
	return s.invoices.Create(ctx, inv)
}

func (s *txStore) MarkConverted(ctx context.Context, quotationID, invoiceID int64, at time.Time) error {
	return s.quotations.MarkConverted(ctx, quotationID, invoiceID, at)
}
