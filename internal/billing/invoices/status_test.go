package invoices

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tp(t time.Time) *time.Time { return &t }

func TestDerive(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sent := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dueFuture := now.AddDate(0, 0, 10)
	duePast := now.AddDate(0, 0, -10)

	cases := []struct {
		name string
		inv  Invoice
		want Status
	}{
		{
			name: "draft until sent",
			inv:  Invoice{TotalAmount: dec("100"), DueDate: dueFuture},
			want: StatusDraft,
		},
		{
			name: "draft past due date stays draft",
			inv:  Invoice{TotalAmount: dec("100"), DueDate: duePast},
			want: StatusDraft,
		},
		{
			name: "sent",
			inv:  Invoice{TotalAmount: dec("100"), DueDate: dueFuture, SentAt: tp(sent)},
			want: StatusSent,
		},
		{
			name: "viewed",
			inv:  Invoice{TotalAmount: dec("100"), DueDate: dueFuture, SentAt: tp(sent), ViewedAt: tp(sent)},
			want: StatusViewed,
		},
		{
			name: "overdue after due date",
			inv:  Invoice{TotalAmount: dec("100"), DueDate: duePast, SentAt: tp(sent), ViewedAt: tp(sent)},
			want: StatusOverdue,
		},
		{
			name: "partial payment",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("40"), DueDate: dueFuture, SentAt: tp(sent)},
			want: StatusPartiallyPaid,
		},
		{
			name: "partial payment beats overdue",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("40"), DueDate: duePast, SentAt: tp(sent)},
			want: StatusPartiallyPaid,
		},
		{
			name: "paid in full",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("100"), DueDate: duePast, SentAt: tp(sent)},
			want: StatusPaid,
		},
		{
			name: "fully refunded after paid",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("0"), Status: StatusPaid, DueDate: dueFuture, SentAt: tp(sent)},
			want: StatusRefunded,
		},
		{
			name: "refunded is stable",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("0"), Status: StatusRefunded, DueDate: dueFuture, SentAt: tp(sent)},
			want: StatusRefunded,
		},
		{
			name: "cancelled is sticky",
			inv:  Invoice{TotalAmount: dec("100"), PaidAmount: dec("100"), CancelledAt: tp(sent), DueDate: duePast, SentAt: tp(sent)},
			want: StatusCancelled,
		},
		{
			name: "zero total never paid",
			inv:  Invoice{TotalAmount: dec("0"), DueDate: dueFuture, SentAt: tp(sent)},
			want: StatusSent,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Derive(tc.inv, now))
		})
	}
}

func TestDeriveIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sent := now.AddDate(0, 0, -5)
	inv := Invoice{
		TotalAmount: dec("500"),
		PaidAmount:  dec("200"),
		DueDate:     now.AddDate(0, 0, 14),
		SentAt:      &sent,
	}
	first := Derive(inv, now)
	inv.Status = first
	require.Equal(t, first, Derive(inv, now))
}
