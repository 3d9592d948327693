package sequence

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/praxis-legal/praxis/internal/billing"
)

// Repository is the PostgreSQL-backed CounterStore. The upsert with
// RETURNING is a single atomic find-and-increment; concurrent callers for
// the same scope serialize on the counter row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Increment advances the counter for (firm, doc type, period) and returns
// the new value.
func (r *Repository) Increment(ctx context.Context, firmID int64, docType billing.DocType, period string) (int64, error) {
	return increment(ctx, r.pool, firmID, docType, period)
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func increment(ctx context.Context, q execQuerier, firmID int64, docType billing.DocType, period string) (int64, error) {
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (firm_id, doc_type, period, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (firm_id, doc_type, period)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, firmID, docType, period).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// TxCounterStore adapts a transaction to the CounterStore interface so a
// number can be allocated inside the caller's unit of work.
type TxCounterStore struct {
	Tx pgx.Tx
}

// Increment advances the counter within the transaction.
func (s TxCounterStore) Increment(ctx context.Context, firmID int64, docType billing.DocType, period string) (int64, error) {
	return increment(ctx, s.Tx, firmID, docType, period)
}
