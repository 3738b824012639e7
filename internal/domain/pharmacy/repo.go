package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

type MedicineRepository interface {
	Create(ctx context.Context, m *Medicine) error
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	List(ctx context.Context, limit, offset int) ([]*Medicine, int, error)
	// DecrementStock subtracts qty only if at least qty is in stock, in a
	// single conditional statement. It returns insufficient_stock otherwise
	// and leaves the row untouched.
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (before, after int, err error)
	IncrementStock(ctx context.Context, id uuid.UUID, qty int) (before, after int, err error)
}

type PrescriptionRepository interface {
	CreateItem(ctx context.Context, item *PrescriptionItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error)
	GetItemForUpdate(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error)
	UpdateDispensed(ctx context.Context, id uuid.UUID, dispensed int, status ItemStatus) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status ItemStatus) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error)
}

type MovementRepository interface {
	Create(ctx context.Context, mv *StockMovement) error
	ListByMedicine(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error)
}
