package pharmacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// -- Medicine Repository --

type medicineRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicineRepo(pool *pgxpool.Pool) MedicineRepository {
	return &medicineRepoPG{pool: pool}
}

const medicineCols = `id, name, brand, type, stock_quantity, unit_price, expiry_date, created_at, updated_at`

func (r *medicineRepoPG) Create(ctx context.Context, m *Medicine) error {
	m.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medicine (id, name, brand, type, stock_quantity, unit_price, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.Brand, m.Type, m.StockQuantity, m.UnitPrice, m.ExpiryDate,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert medicine: %w", err)
	}
	return nil
}

func (r *medicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return scanMedicine(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+medicineCols+` FROM medicine WHERE id = $1`, id))
}

func (r *medicineRepoPG) List(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM medicine`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count medicines: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+medicineCols+` FROM medicine ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list medicines: %w", err)
	}
	defer rows.Close()

	var meds []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, err
		}
		meds = append(meds, m)
	}
	return meds, total, rows.Err()
}

func (r *medicineRepoPG) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (int, int, error) {
	q := db.Conn(ctx, r.pool)
	var after int
	err := q.QueryRow(ctx, `
		UPDATE medicine SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity >= $2
		RETURNING stock_quantity`, id, qty).Scan(&after)
	if err == nil {
		return after + qty, after, nil
	}
	if !db.IsNoRows(err) {
		return 0, 0, fmt.Errorf("decrement stock: %w", err)
	}

	var name string
	var available int
	err = q.QueryRow(ctx, `SELECT name, stock_quantity FROM medicine WHERE id = $1`, id).Scan(&name, &available)
	if db.IsNoRows(err) {
		return 0, 0, apperr.NotFound("medicine")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read stock: %w", err)
	}
	return available, available, apperr.InsufficientStock(name, qty, available)
}

func (r *medicineRepoPG) IncrementStock(ctx context.Context, id uuid.UUID, qty int) (int, int, error) {
	var after int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medicine SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock_quantity`, id, qty).Scan(&after)
	if db.IsNoRows(err) {
		return 0, 0, apperr.NotFound("medicine")
	}
	if err != nil {
		return 0, 0, fmt.Errorf("increment stock: %w", err)
	}
	return after - qty, after, nil
}

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(&m.ID, &m.Name, &m.Brand, &m.Type, &m.StockQuantity, &m.UnitPrice, &m.ExpiryDate,
		&m.CreatedAt, &m.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("medicine")
	}
	if err != nil {
		return nil, fmt.Errorf("scan medicine: %w", err)
	}
	return &m, nil
}

// -- Prescription Repository --

type prescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepo(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

const itemCols = `id, medical_record_id, medicine_id, quantity, dispensed_quantity, dosage, frequency, duration,
	status, created_at, updated_at`

func (r *prescriptionRepoPG) CreateItem(ctx context.Context, item *PrescriptionItem) error {
	item.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO prescription_item (id, medical_record_id, medicine_id, quantity, dispensed_quantity,
			dosage, frequency, duration, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		item.ID, item.MedicalRecordID, item.MedicineID, item.Quantity, item.DispensedQuantity,
		item.Dosage, item.Frequency, item.Duration, item.Status,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert prescription item: %w", err)
	}
	return nil
}

func (r *prescriptionRepoPG) GetItem(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM prescription_item WHERE id = $1`, id))
}

func (r *prescriptionRepoPG) GetItemForUpdate(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error) {
	return scanItem(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+itemCols+` FROM prescription_item WHERE id = $1 FOR UPDATE`, id))
}

func (r *prescriptionRepoPG) UpdateDispensed(ctx context.Context, id uuid.UUID, dispensed int, status ItemStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE prescription_item SET dispensed_quantity = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, dispensed, status)
	if err != nil {
		return fmt.Errorf("update dispensed quantity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription item")
	}
	return nil
}

func (r *prescriptionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status ItemStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE prescription_item SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update prescription item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prescription item")
	}
	return nil
}

func (r *prescriptionRepoPG) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+itemCols+` FROM prescription_item WHERE medical_record_id = $1 ORDER BY created_at, id`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list prescription items: %w", err)
	}
	defer rows.Close()

	var items []*PrescriptionItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(row pgx.Row) (*PrescriptionItem, error) {
	var i PrescriptionItem
	err := row.Scan(&i.ID, &i.MedicalRecordID, &i.MedicineID, &i.Quantity, &i.DispensedQuantity,
		&i.Dosage, &i.Frequency, &i.Duration, &i.Status, &i.CreatedAt, &i.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("prescription item")
	}
	if err != nil {
		return nil, fmt.Errorf("scan prescription item: %w", err)
	}
	return &i, nil
}

// -- Movement Repository --

type movementRepoPG struct {
	pool *pgxpool.Pool
}

func NewMovementRepo(pool *pgxpool.Pool) MovementRepository {
	return &movementRepoPG{pool: pool}
}

const movementCols = `id, medicine_id, movement_type, quantity_change, quantity_before, quantity_after,
	reference_id, note, created_by, created_at`

func (r *movementRepoPG) Create(ctx context.Context, mv *StockMovement) error {
	mv.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO stock_movement (id, medicine_id, movement_type, quantity_change, quantity_before,
			quantity_after, reference_id, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		mv.ID, mv.MedicineID, mv.MovementType, mv.QuantityChange, mv.QuantityBefore,
		mv.QuantityAfter, mv.ReferenceID, mv.Note, mv.CreatedBy,
	).Scan(&mv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

func (r *movementRepoPG) ListByMedicine(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movement WHERE medicine_id = $1`, medicineID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count stock movements: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+movementCols+` FROM stock_movement WHERE medicine_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, medicineID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list stock movements: %w", err)
	}
	defer rows.Close()

	var moves []*StockMovement
	for rows.Next() {
		var mv StockMovement
		if err := rows.Scan(&mv.ID, &mv.MedicineID, &mv.MovementType, &mv.QuantityChange, &mv.QuantityBefore,
			&mv.QuantityAfter, &mv.ReferenceID, &mv.Note, &mv.CreatedBy, &mv.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan stock movement: %w", err)
		}
		moves = append(moves, &mv)
	}
	return moves, total, rows.Err()
}
