// Package clients is the boundary to the firm's client records. Client and
// case management live outside the billing subsystem; billing only verifies
// references here before writing documents.
package clients

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the client does not exist in the firm.
var ErrNotFound = errors.New("clients: not found")

// Client is the minimal view billing needs.
type Client struct {
	ID        int64
	FirmID    int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// Directory resolves client references, firm-scoped.
type Directory interface {
	Get(ctx context.Context, firmID, clientID int64) (*Client, error)
}

// Repository is the PostgreSQL-backed Directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a client within the firm. Cross-firm lookups return ErrNotFound.
func (r *Repository) Get(ctx context.Context, firmID, clientID int64) (*Client, error) {
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, firm_id, name, email, created_at FROM clients WHERE id = $1 AND firm_id = $2`,
		clientID, firmID).Scan(&c.ID, &c.FirmID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
