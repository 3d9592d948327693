package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxis-legal/praxis/internal/billing"
	"github.com/praxis-legal/praxis/internal/billing/money"
	"github.com/praxis-legal/praxis/internal/platform/db"
)

// Repository defines quotation persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Create(ctx context.Context, q Quotation) (int64, error)
	Get(ctx context.Context, firmID, id int64) (*Quotation, error)
	// GetForUpdate locks the quotation row; only meaningful inside WithTx.
	GetForUpdate(ctx context.Context, firmID, id int64) (*Quotation, error)
	Update(ctx context.Context, q Quotation) error
	UpdateStatus(ctx context.Context, id int64, status Status, at time.Time, reason *string) error
	MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error
	List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error)
	// ExpireStale marks quotations past validity as EXPIRED; idempotent.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
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

// NewTxRepository binds a Repository to an existing transaction. Calling
// WithTx on the result is not supported.
func NewTxRepository(tx pgx.Tx) Repository {
	return &repository{db: tx}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return errors.New("quotations: repository already transaction-bound")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

const quotationColumns = `id, number, firm_id, client_id, case_id, items, currency,
	tax_rate, discount_rate, discount_amount, subtotal, tax_amount, total_amount,
	issue_date, valid_until, status, sent_at, viewed_at, accepted_at, rejected_at,
	rejection_reason, invoice_id, converted_at, notes, created_by, created_at, updated_at`

func (r *repository) Create(ctx context.Context, q Quotation) (int64, error) {
	items, err := json.Marshal(q.Items)
	if err != nil {
		return 0, fmt.Errorf("quotations: encode items: %w", err)
	}
	var id int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO quotations (number, firm_id, client_id, case_id, items, currency,
			tax_rate, discount_rate, discount_amount, subtotal, tax_amount, total_amount,
			issue_date, valid_until, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())
		RETURNING id`,
		q.Number, q.FirmID, q.ClientID, q.CaseID, items, q.Currency,
		q.TaxRate, q.DiscountRate, q.DiscountAmount, q.Subtotal, q.TaxAmount, q.TotalAmount,
		q.IssueDate, q.ValidUntil, q.Status, q.Notes, q.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, firmID, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1 AND firm_id = $2`, id, firmID)
	return scanQuotation(row)
}

func (r *repository) GetForUpdate(ctx context.Context, firmID, id int64) (*Quotation, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+quotationColumns+` FROM quotations WHERE id = $1 AND firm_id = $2 FOR UPDATE`, id, firmID)
	return scanQuotation(row)
}

func (r *repository) Update(ctx context.Context, q Quotation) error {
	items, err := json.Marshal(q.Items)
	if err != nil {
		return fmt.Errorf("quotations: encode items: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET items = $1, tax_rate = $2, discount_rate = $3, discount_amount = $4,
			subtotal = $5, tax_amount = $6, total_amount = $7, issue_date = $8, valid_until = $9,
			notes = $10, updated_at = NOW()
		WHERE id = $11 AND firm_id = $12`,
		items, q.TaxRate, q.DiscountRate, q.DiscountAmount,
		q.Subtotal, q.TaxAmount, q.TotalAmount, q.IssueDate, q.ValidUntil,
		q.Notes, q.ID, q.FirmID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, at time.Time, reason *string) error {
	var column string
	switch status {
	case StatusSent:
		column = "sent_at"
	case StatusViewed:
		column = "viewed_at"
	case StatusAccepted:
		column = "accepted_at"
	case StatusRejected:
		column = "rejected_at"
	}

	query := `UPDATE quotations SET status = $1, updated_at = NOW()`
	args := []any{status}
	if column != "" {
		query += fmt.Sprintf(", %s = $2", column)
		args = append(args, at)
	}
	if reason != nil {
		query += fmt.Sprintf(", rejection_reason = $%d", len(args)+1)
		args = append(args, *reason)
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

func (r *repository) MarkConverted(ctx context.Context, id, invoiceID int64, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET status = $1, invoice_id = $2, converted_at = $3, updated_at = NOW()
		WHERE id = $4`, StatusConverted, invoiceID, at, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, req ListQuotationsRequest) ([]Quotation, int, error) {
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
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM quotations "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, req.Offset)
	query := fmt.Sprintf("SELECT %s FROM quotations %s ORDER BY issue_date DESC, id DESC LIMIT $%d OFFSET $%d",
		quotationColumns, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *q)
	}
	return out, total, rows.Err()
}

func (r *repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE quotations SET status = $1, updated_at = NOW()
		WHERE valid_until < $2 AND status IN ($3, $4, $5)`,
		StatusExpired, now, StatusDraft, StatusSent, StatusViewed)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanQuotation(row pgx.Row) (*Quotation, error) {
	var q Quotation
	var items []byte
	err := row.Scan(
		&q.ID, &q.Number, &q.FirmID, &q.ClientID, &q.CaseID, &items, &q.Currency,
		&q.TaxRate, &q.DiscountRate, &q.DiscountAmount, &q.Subtotal, &q.TaxAmount, &q.TotalAmount,
		&q.IssueDate, &q.ValidUntil, &q.Status, &q.SentAt, &q.ViewedAt, &q.AcceptedAt, &q.RejectedAt,
		&q.RejectionReason, &q.InvoiceID, &q.ConvertedAt, &q.Notes, &q.CreatedBy, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &q.Items); err != nil {
			return nil, fmt.Errorf("quotations: decode items: %w", err)
		}
	}
	if q.Items == nil {
		q.Items = []money.LineItem{}
	}
	return &q, nil
}
