// Package sequence issues firm-scoped document numbers. Numbers are unique
// and monotonically increasing within (firm, doc type, period); allocation
// fails closed when the counter cannot be advanced.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/praxis-legal/praxis/internal/billing"
)

// CounterStore advances a per-scope counter atomically. Implementations
// must guarantee that two concurrent Increment calls for the same scope
// never observe the same value.
type CounterStore interface {
	Increment(ctx context.Context, firmID int64, docType billing.DocType, period string) (int64, error)
}

// AllocRecorder counts successful allocations per document type.
type AllocRecorder interface {
	SequenceAllocation(docType string)
}

// Allocator formats document numbers backed by a CounterStore.
type Allocator struct {
	store    CounterStore
	recorder AllocRecorder
	retries  int
}

// NewAllocator constructs an Allocator with the default retry budget.
func NewAllocator(store CounterStore) *Allocator {
	return &Allocator{store: store, retries: 3}
}

// Instrument attaches a recorder and returns the allocator for chaining.
func (a *Allocator) Instrument(r AllocRecorder) *Allocator {
	a.recorder = r
	return a
}

// Period returns the sequence period for a document type: calendar year for
// quotations and invoices, year+month for payments and expenses.
func Period(docType billing.DocType, at time.Time) string {
	switch docType {
	case billing.DocTypePayment, billing.DocTypeExpense:
		return at.Format("200601")
	default:
		return at.Format("2006")
	}
}

// Next allocates the next number in the scope, formatted PREFIX-PERIOD-NNNN.
// The counter advance is atomic; exhausting the retry budget aborts the
// caller's create operation entirely.
func (a *Allocator) Next(ctx context.Context, firmID int64, docType billing.DocType, at time.Time) (string, error) {
	period := Period(docType, at)

	var lastErr error
	for attempt := 0; attempt < a.retries; attempt++ {
		seq, err := a.store.Increment(ctx, firmID, docType, period)
		if err != nil {
			lastErr = err
			continue
		}
		if a.recorder != nil {
			a.recorder.SequenceAllocation(string(docType))
		}
		return fmt.Sprintf("%s-%s-%04d", docType, period, seq), nil
	}
	return "", fmt.Errorf("sequence: allocate %s for firm %d period %s: %w", docType, firmID, period, lastErr)
}
