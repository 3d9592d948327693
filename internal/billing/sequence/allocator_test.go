package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/praxis-legal/praxis/internal/billing"
)

type memoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]int64
	failures int
}

func newMemoryCounterStore() *memoryCounterStore {
	return &memoryCounterStore{counters: make(map[string]int64)}
}

func (s *memoryCounterStore) Increment(ctx context.Context, firmID int64, docType billing.DocType, period string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return 0, errors.New("counter contention")
	}
	key := string(docType) + period
	s.counters[key]++
	return s.counters[key], nil
}

func TestNextFormatsNumber(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(newMemoryCounterStore())

	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	num, err := alloc.Next(ctx, 1, billing.DocTypeInvoice, at)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0001", num)

	num, err = alloc.Next(ctx, 1, billing.DocTypeInvoice, at)
	require.NoError(t, err)
	require.Equal(t, "INV-2026-0002", num)

	num, err = alloc.Next(ctx, 1, billing.DocTypePayment, at)
	require.NoError(t, err)
	require.Equal(t, "PAY-202603-0001", num)
}

func TestNextUniqueUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(newMemoryCounterStore())
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	const n = 100
	results := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := alloc.Next(ctx, 7, billing.DocTypeQuotation, at)
			require.NoError(t, err)
			results <- num
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, n)
	for num := range results {
		require.False(t, seen[num], "duplicate number %s", num)
		seen[num] = true
	}
	require.Len(t, seen, n)
}

func TestNextRetriesThenFailsClosed(t *testing.T) {
	ctx := context.Background()
	at := time.Now()

	store := newMemoryCounterStore()
	store.failures = 2
	alloc := NewAllocator(store)

	num, err := alloc.Next(ctx, 1, billing.DocTypeExpense, at)
	require.NoError(t, err, "recovers within retry budget")
	require.Contains(t, num, "EXP-")

	store.failures = 10
	_, err = alloc.Next(ctx, 1, billing.DocTypeExpense, at)
	require.Error(t, err)
	require.Contains(t, err.Error(), "allocate EXP")
}
