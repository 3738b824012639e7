package medrecord

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, r *MedicalRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicalRecord, error)
	// Update rewrites diagnosis and treatment of an unbilled record.
	Update(ctx context.Context, r *MedicalRecord) error
	// MarkBilled stamps billed_at on an unbilled record.
	MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error)
}
