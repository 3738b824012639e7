package medrecord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const recordCols = `id, patient_id, doctor_id, diagnosis, treatment, billed_at, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, rec *MedicalRecord) error {
	rec.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medical_record (id, patient_id, doctor_id, diagnosis, treatment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		rec.ID, rec.PatientID, rec.DoctorID, rec.Diagnosis, rec.Treatment,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert medical record: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_record WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*MedicalRecord, error) {
	return scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+recordCols+` FROM medical_record WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, rec *MedicalRecord) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medical_record SET diagnosis = $2, treatment = $3, updated_at = NOW()
		WHERE id = $1 AND billed_at IS NULL
		RETURNING patient_id, doctor_id, created_at, updated_at`,
		rec.ID, rec.Diagnosis, rec.Treatment,
	).Scan(&rec.PatientID, &rec.DoctorID, &rec.CreatedAt, &rec.UpdatedAt)
	if db.IsNoRows(err) {
		return r.whyUnchanged(ctx, rec.ID)
	}
	if err != nil {
		return fmt.Errorf("update medical record: %w", err)
	}
	return nil
}

func (r *repoPG) MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE medical_record SET billed_at = $2, updated_at = NOW() WHERE id = $1 AND billed_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark medical record billed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.whyUnchanged(ctx, id)
	}
	return nil
}

// whyUnchanged explains a conditional update that matched no row.
func (r *repoPG) whyUnchanged(ctx context.Context, id uuid.UUID) error {
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec.IsBilled() {
		return apperr.InvalidTransition("medical record is already billed")
	}
	return fmt.Errorf("medical record %s: conditional update matched no row", id)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*MedicalRecord, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM medical_record WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medical records: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+recordCols+` FROM medical_record WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medical records: %w", err)
	}
	defer rows.Close()

	var records []*MedicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func scanRecord(row pgx.Row) (*MedicalRecord, error) {
	var rec MedicalRecord
	err := row.Scan(&rec.ID, &rec.PatientID, &rec.DoctorID, &rec.Diagnosis, &rec.Treatment,
		&rec.BilledAt, &rec.CreatedAt, &rec.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medical record")
	}
	if err != nil {
		return nil, fmt.Errorf("scan medical record: %w", err)
	}
	return &rec, nil
}
