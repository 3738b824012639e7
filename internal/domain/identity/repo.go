package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}

// Directory is the patient lookup the ward, medical record and billing
// services depend on. *Service answers it from the local table; the
// directory package answers it from a remote registry.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
}
