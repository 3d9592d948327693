package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/praxis-legal/praxis/internal/billing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuotationExpiry sweeps quotations past their validity window.
	TaskQuotationExpiry = "billing:quotation_expiry"
	// TaskInvoiceOverdue refreshes overdue statuses on open invoices.
	TaskInvoiceOverdue = "billing:invoice_overdue"
	// TaskBillingEvent delivers a billing domain event to subscribers.
	TaskBillingEvent = "billing:event"
)

// NewQuotationExpiryTask constructs the expiry sweep task.
func NewQuotationExpiryTask() *asynq.Task {
	return asynq.NewTask(TaskQuotationExpiry, nil)
}

// NewInvoiceOverdueTask constructs the overdue sweep task.
func NewInvoiceOverdueTask() *asynq.Task {
	return asynq.NewTask(TaskInvoiceOverdue, nil)
}

// NewBillingEventTask wraps a domain event for queue delivery.
func NewBillingEventTask(evt billing.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBillingEvent, data), nil
}
