package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/invoices"
	"github.com/praxis-legal/praxis/internal/billing/sequence"
	"github.com/praxis-legal/praxis/internal/platform/db"
)

// Store is the ledger's persistence boundary.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetPayment(ctx context.Context, firmID, id int64) (*Payment, error)
	ListByInvoice(ctx context.Context, firmID, invoiceID int64) ([]Payment, error)
	ListUnreconciled(ctx context.Context, firmID int64) ([]Payment, error)
	ListRefunds(ctx context.Context, firmID, paymentID int64) ([]Refund, error)
}

// TxStore exposes the operations of one atomic unit of work. Row locks
// taken here serialize concurrent read-modify-write cycles; lock order is
// payment before invoice.
type TxStore interface {
	AllocatePaymentNumber(ctx context.Context, firmID int64, at time.Time) (string, error)
	InvoiceForUpdate(ctx context.Context, firmID, invoiceID int64) (*invoices.Invoice, error)
	SetInvoicePaid(ctx context.Context, invoiceID int64, paid, balance decimal.Decimal, status invoices.Status, paidAt *time.Time) error
	CreatePayment(ctx context.Context, p Payment) (int64, error)
	PaymentForUpdate(ctx context.Context, firmID, id int64) (*Payment, error)
	UpdatePayment(ctx context.Context, p Payment) error
	InsertRefund(ctx context.Context, ref Refund) (int64, error)
	MarkReconciled(ctx context.Context, id int64, bankReference string, at time.Time) error
}

// Repository is the PostgreSQL-backed Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in one RepeatableRead transaction spanning payments,
// invoices and the payment sequence counter.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, invoices: invoices.NewTxRepository(tx)})
	})
}

const paymentColumns = `id, number, firm_id, client_id, invoice_id, expense_id, amount,
	refunded_amount, currency, method, status, payer_name, note, paid_at,
	reconciled, bank_reference, reconciled_at, created_at, updated_at`

func (r *Repository) GetPayment(ctx context.Context, firmID, id int64) (*Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND firm_id = $2`, id, firmID)
	return scanPayment(row)
}

func (r *Repository) ListByInvoice(ctx context.Context, firmID, invoiceID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE firm_id = $1 AND invoice_id = $2 ORDER BY id`,
		firmID, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *Repository) ListUnreconciled(ctx context.Context, firmID int64) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE firm_id = $1 AND status = $2 AND NOT reconciled ORDER BY created_at`,
		firmID, PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (r *Repository) ListRefunds(ctx context.Context, firmID, paymentID int64) ([]Refund, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT r.id, r.payment_id, r.amount, r.reason, r.created_at
		FROM payment_refunds r
		JOIN payments p ON p.id = r.payment_id
		WHERE r.payment_id = $1 AND p.firm_id = $2
		ORDER BY r.id`, paymentID, firmID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []Refund
	for rows.Next() {
		var ref Refund
		if err := rows.Scan(&ref.ID, &ref.PaymentID, &ref.Amount, &ref.Reason, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, rows.Err()
}

type txStore struct {
	tx       pgx.Tx
	invoices invoices.Repository
}

func (s *txStore) AllocatePaymentNumber(ctx context.Context, firmID int64, at time.Time) (string, error) {
	alloc := sequence.NewAllocator(sequence.TxCounterStore{Tx: s.tx})
	return alloc.Next(ctx, firmID, billing.DocTypePayment, at)
}

func (s *txStore) InvoiceForUpdate(ctx context.Context, firmID, invoiceID int64) (*invoices.Invoice, error) {
	return s.invoices.GetForUpdate(ctx, firmID, invoiceID)
}

func (s *txStore) SetInvoicePaid(ctx context.Context, invoiceID int64, paid, balance decimal.Decimal, status invoices.Status, paidAt *time.Time) error {
	return s.invoices.SetPaid(ctx, invoiceID, paid, balance, status, paidAt)
}

func (s *txStore) CreatePayment(ctx context.Context, p Payment) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `
		INSERT INTO payments (number, firm_id, client_id, invoice_id, expense_id, amount,
			refunded_amount, currency, method, status, payer_name, note, paid_at,
			reconciled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, FALSE, NOW(), NOW())
		RETURNING id`,
		p.Number, p.FirmID, p.ClientID, p.InvoiceID, p.ExpenseID, p.Amount,
		p.RefundedAmount, p.Currency, p.Method, p.Status, p.PayerName, p.Note, p.PaidAt,
	).Scan(&id)
	return id, err
}

func (s *txStore) PaymentForUpdate(ctx context.Context, firmID, id int64) (*Payment, error) {
	row := s.tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND firm_id = $2 FOR UPDATE`, id, firmID)
	return scanPayment(row)
}

func (s *txStore) UpdatePayment(ctx context.Context, p Payment) error {
	tag, err := s.tx.Exec(ctx, `
		UPDATE payments SET refunded_amount = $1, status = $2, paid_at = $3, updated_at = NOW()
		WHERE id = $4`, p.RefundedAmount, p.Status, p.PaidAt, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *txStore) InsertRefund(ctx context.Context, ref Refund) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `
		INSERT INTO payment_refunds (payment_id, amount, reason, created_at)
		VALUES ($1, $2, $3, NOW()) RETURNING id`,
		ref.PaymentID, ref.Amount, ref.Reason,
	).Scan(&id)
	return id, err
}

func (s *txStore) MarkReconciled(ctx context.Context, id int64, bankReference string, at time.Time) error {
	tag, err := s.tx.Exec(ctx, `
		UPDATE payments SET reconciled = TRUE, bank_reference = $1, reconciled_at = $2, updated_at = NOW()
		WHERE id = $3`, bankReference, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.Number, &p.FirmID, &p.ClientID, &p.InvoiceID, &p.ExpenseID, &p.Amount,
		&p.RefundedAmount, &p.Currency, &p.Method, &p.Status, &p.PayerName, &p.Note, &p.PaidAt,
		&p.Reconciled, &p.BankReference, &p.ReconciledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func collectPayments(rows pgx.Rows) ([]Payment, error) {
	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
