package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ListFilter narrows ListBills and ExportBills. Zero values match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	Status    PaymentStatus
}

type BillRepository interface {
	Create(ctx context.Context, b *BillingRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*BillingRecord, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingRecord, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*BillingRecord, int, error)
	// UpdatePayment persists paid_amount, payment_status, payment_date and
	// payment_method.
	UpdatePayment(ctx context.Context, b *BillingRecord) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error
	UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
	// MarkOverdueBefore moves every Pending bill created before cutoff to
	// Overdue and returns their ids.
	MarkOverdueBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	AddItem(ctx context.Context, item *BillingItem) error
	ListItems(ctx context.Context, billID uuid.UUID) ([]*BillingItem, error)
}
