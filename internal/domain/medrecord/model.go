package medrecord

import (
	"time"

	"github.com/google/uuid"
)

// MedicalRecord maps to the medical_record table. Once BilledAt is set the
// record and its prescriptions are frozen.
type MedicalRecord struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	PatientID uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID  uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	Diagnosis string     `db:"diagnosis" json:"diagnosis"`
	Treatment *string    `db:"treatment" json:"treatment,omitempty"`
	BilledAt  *time.Time `db:"billed_at" json:"billed_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *MedicalRecord) IsBilled() bool {
	return r.BilledAt != nil
}
