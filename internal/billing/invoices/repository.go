package invoices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/money"
	"github.com/praxis-legal/praxis/internal/platform/db"
)

// Repository defines invoice persistence. SetPaid is reserved for the
// ledger service; no other caller may touch paid/balance columns.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, inv Invoice) (int64, error)
	Get(ctx context.Context, firmID, id int64) (*Invoice, error)
	// GetForUpdate locks the invoice row; only meaningful inside WithTx.
	GetForUpdate(ctx context.Context, firmID, id int64) (*Invoice, error)
	Update(ctx context.Context, inv Invoice) error
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error
	Cancel(ctx context.Context, id int64, at time.Time, reason *string) error
	// SetPaid writes the derived paid/balance/status columns. Ledger only.
	SetPaid(ctx context.Context, id int64, paid, balance decimal.Decimal, status Status, paidAt *time.Time) error
	List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error)
	ListDueForOverdue(ctx context.Context, now time.Time) ([]Invoice, error)
	Aging(ctx context.Context, firmID int64, asOf time.Time) (AgingBuckets, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

// NewTxRepository binds a Repository to an existing transaction so other
// billing components can compose invoice writes into their unit of work.
// Calling WithTx on the result is not supported.
func NewTxRepository(tx pgx.Tx) Repository {
	return &repository{db: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return errors.New("invoices: repository already transaction-bound")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const invoiceColumns = `id, number, firm_id, client_id, case_id, quotation_id, items, currency,
	tax_rate, discount_rate, discount_amount, subtotal, tax_amount, total_amount,
	paid_amount, balance_amount, issue_date, due_date, status, sent_at, viewed_at,
	paid_at, cancelled_at, cancel_reason, notes, created_by, created_at, updated_at`

func (r *repository) Create(ctx context.Context, inv Invoice) (int64, error) {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return 0, fmt.Errorf("invoices: encode items: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO invoices (number, firm_id, client_id, case_id, quotation_id, items, currency,
			tax_rate, discount_rate, discount_amount, subtotal, tax_amount, total_amount,
			paid_amount, balance_amount, issue_date, due_date, status, notes, created_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, NOW(), NOW())
		RETURNING id`,
		inv.Number, inv.FirmID, inv.ClientID, inv.CaseID, inv.QuotationID, items, inv.Currency,
		inv.TaxRate, inv.DiscountRate, inv.DiscountAmount, inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		inv.PaidAmount, inv.BalanceAmount, inv.IssueDate, inv.DueDate, inv.Status, inv.Notes, inv.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, firmID, id int64) (*Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND firm_id = $2`, id, firmID)
	return scanInvoice(row)
}

func (r *repository) GetForUpdate(ctx context.Context, firmID, id int64) (*Invoice, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 AND firm_id = $2 FOR UPDATE`, id, firmID)
	return scanInvoice(row)
}

func (r *repository) Update(ctx context.Context, inv Invoice) error {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return fmt.Errorf("invoices: encode items: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET items = $1, tax_rate = $2, discount_rate = $3, discount_amount = $4,
			subtotal = $5, tax_amount = $6, total_amount = $7, balance_amount = $8,
			due_date = $9, status = $10, notes = $11, updated_at = NOW()
		WHERE id = $12 AND firm_id = $13`,
		items, inv.TaxRate, inv.DiscountRate, inv.DiscountAmount,
		inv.Subtotal, inv.TaxAmount, inv.TotalAmount, inv.BalanceAmount,
		inv.DueDate, inv.Status, inv.Notes, inv.ID, inv.FirmID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	var column string
	switch status {
	case StatusSent:
		column = "sent_at"
	case StatusViewed:
		column = "viewed_at"
	}

	query := `UPDATE invoices SET status = $1, updated_at = NOW()`
	args := []any{status}
	if column != "" {
		query += fmt.Sprintf(", %s = $2", column)
		args = append(args, at)
	}
	query += fmt.Sprintf(" WHERE id = $%d", len(args)+1)
	args = append(args, id)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) Cancel(ctx context.Context, id int64, at time.Time, reason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET status = $1, cancelled_at = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $4`, StatusCancelled, at, reason, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) SetPaid(ctx context.Context, id int64, paid, balance decimal.Decimal, status Status, paidAt *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET paid_amount = $1, balance_amount = $2, status = $3, paid_at = $4, updated_at = NOW()
		WHERE id = $5`, paid, balance, status, paidAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, req ListInvoicesRequest) ([]Invoice, int, error) {
	conditions := []string{"firm_id = $1"}
	args := []any{req.FirmID}

	if req.ClientID != nil {
		args = append(args, *req.ClientID)
		conditions = append(conditions, fmt.Sprintf("client_id = $%d", len(args)))
	}
	if req.Status != nil {
		args = append(args, *req.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if req.DateFrom != nil {
		args = append(args, *req.DateFrom)
		conditions = append(conditions, fmt.Sprintf("issue_date >= $%d", len(args)))
	}
	if req.DateTo != nil {
		args = append(args, *req.DateTo)
		conditions = append(conditions, fmt.Sprintf("issue_date <= $%d", len(args)))
	}

	where := "WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM invoices "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf("SELECT %s FROM invoices %s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d",
		invoiceColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *inv)
	}
	return out, total, rows.Err()
}

// ListDueForOverdue returns sent, unpaid invoices past their due date whose
// cached status has not caught up yet.
func (r *repository) ListDueForOverdue(ctx context.Context, now time.Time) ([]Invoice, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE due_date < $1 AND status IN ($2, $3) AND sent_at IS NOT NULL`,
		now, StatusSent, StatusViewed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// Aging aggregates outstanding balances into day buckets. Read only, no
// locking; safe against concurrent ledger writes.
func (r *repository) Aging(ctx context.Context, firmID int64, asOf time.Time) (AgingBuckets, error) {
	rows, err := r.db.Query(ctx, `
		SELECT due_date, balance_amount FROM invoices
		WHERE firm_id = $1 AND balance_amount > 0 AND sent_at IS NOT NULL AND cancelled_at IS NULL`,
		firmID)
	if err != nil {
		return AgingBuckets{}, err
	}
	defer rows.Close()

	buckets := AgingBuckets{
		Current:   decimal.Zero,
		Bucket30:  decimal.Zero,
		Bucket60:  decimal.Zero,
		Bucket90:  decimal.Zero,
		Bucket120: decimal.Zero,
	}
	for rows.Next() {
		var due time.Time
		var balance decimal.Decimal
		if err := rows.Scan(&due, &balance); err != nil {
			return AgingBuckets{}, err
		}
		days := int(asOf.Sub(due).Hours() / 24)
		switch {
		case days <= 0:
			buckets.Current = buckets.Current.Add(balance)
		case days <= 30:
			buckets.Bucket30 = buckets.Bucket30.Add(balance)
		case days <= 60:
			buckets.Bucket60 = buckets.Bucket60.Add(balance)
		case days <= 90:
			buckets.Bucket90 = buckets.Bucket90.Add(balance)
		default:
			buckets.Bucket120 = buckets.Bucket120.Add(balance)
		}
	}
	return buckets, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var items []byte
	err := row.Scan(
		&inv.ID, &inv.Number, &inv.FirmID, &inv.ClientID, &inv.CaseID, &inv.QuotationID, &items, &inv.Currency,
		&inv.TaxRate, &inv.DiscountRate, &inv.DiscountAmount, &inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount,
		&inv.PaidAmount, &inv.BalanceAmount, &inv.IssueDate, &inv.DueDate, &inv.Status, &inv.SentAt, &inv.ViewedAt,
		&inv.PaidAt, &inv.CancelledAt, &inv.CancelReason, &inv.Notes, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &inv.Items); err != nil {
			return nil, fmt.Errorf("invoices: decode items: %w", err)
		}
	}
	if inv.Items == nil {
		inv.Items = []money.LineItem{}
	}
	return &inv, nil
}
