package medrecord

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
)

type Service struct {
	records  Repository
	patients identity.Directory
}

func NewService(records Repository, patients identity.Directory) *Service {
	return &Service{records: records, patients: patients}
}

func (s *Service) CreateRecord(ctx context.Context, r *MedicalRecord) error {
	if r.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if r.DoctorID == uuid.Nil {
		return apperr.Validation("doctor_id is required")
	}
	r.Diagnosis = strings.TrimSpace(r.Diagnosis)
	if r.Diagnosis == "" {
		return apperr.Validation("diagnosis is required")
	}
	if _, err := s.patients.GetPatient(ctx, r.PatientID); err != nil {
		return err
	}
	r.BilledAt = nil
	return s.records.Create(ctx, r)
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetByID(ctx, id)
}

func (s *Service) UpdateRecord(ctx context.Context, r *MedicalRecord) error {
	r.Diagnosis = strings.TrimSpace(r.Diagnosis)
	if r.Diagnosis == "" {
		return apperr.Validation("diagnosis is required")
	}
	return s.records.Update(ctx, r)
}

func (s *Service) ListRecordsForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

// LockRecord reads the record with a row lock. It must run inside a
// transaction; prescribing and billing use it to serialise on the record.
func (s *Service) LockRecord(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return s.records.GetForUpdate(ctx, id)
}

// MarkBilled freezes the record. A second call fails with
// invalid_state_transition.
func (s *Service) MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.records.MarkBilled(ctx, id, at)
}
