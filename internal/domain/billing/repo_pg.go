package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type billRepoPG struct {
	pool *pgxpool.Pool
}

func NewBillRepo(pool *pgxpool.Pool) BillRepository {
	return &billRepoPG{pool: pool}
}

const billCols = `id, patient_id, medical_record_id, room_id, total_amount, paid_amount, payment_status,
	payment_date, payment_method, created_at, updated_at`

const billItemCols = `id, billing_id, item_type, description, prescription_item_id, medicine_id,
	quantity, unit_price, total_price, created_at`

func (r *billRepoPG) Create(ctx context.Context, b *BillingRecord) error {
	b.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing_record (id, patient_id, medical_record_id, room_id, total_amount, paid_amount,
			payment_status, payment_date, payment_method)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		b.ID, b.PatientID, b.MedicalRecordID, b.RoomID, b.TotalAmount, b.PaidAmount,
		b.PaymentStatus, b.PaymentDate, b.PaymentMethod,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert billing record: %w", err)
	}
	return nil
}

func (r *billRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*BillingRecord, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+billCols+` FROM billing_record WHERE id = $1`, id))
}

func (r *billRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingRecord, error) {
	return scanBill(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+billCols+` FROM billing_record WHERE id = $1 FOR UPDATE`, id))
}

func (r *billRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*BillingRecord, int, error) {
	var where []string
	var args []interface{}
	if filter.PatientID != nil {
		args = append(args, *filter.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM billing_record`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count billing records: %w", err)
	}

	args = append(args, limit, offset)
	rows, err := q.Query(ctx, fmt.Sprintf(`SELECT %s FROM billing_record%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		billCols, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list billing records: %w", err)
	}
	defer rows.Close()

	var bills []*BillingRecord
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, b)
	}
	return bills, total, rows.Err()
}

func (r *billRepoPG) UpdatePayment(ctx context.Context, b *BillingRecord) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE billing_record SET paid_amount = $2, payment_status = $3, payment_date = $4,
			payment_method = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.PaidAmount, b.PaymentStatus, b.PaymentDate, b.PaymentMethod,
	).Scan(&b.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.NotFound("bill")
	}
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (r *billRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status PaymentStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE billing_record SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update bill status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bill")
	}
	return nil
}

func (r *billRepoPG) UpdateTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE billing_record SET total_amount = $2, updated_at = NOW() WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("update bill total: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bill")
	}
	return nil
}

func (r *billRepoPG) MarkOverdueBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		UPDATE billing_record SET payment_status = 'Overdue', updated_at = NOW()
		WHERE payment_status = 'Pending' AND created_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *billRepoPG) AddItem(ctx context.Context, item *BillingItem) error {
	item.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing_item (id, billing_id, item_type, description, prescription_item_id, medicine_id,
			quantity, unit_price, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		item.ID, item.BillingID, item.ItemType, item.Description, item.PrescriptionItemID, item.MedicineID,
		item.Quantity, item.UnitPrice, item.TotalPrice,
	).Scan(&item.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("bill")
	}
	if db.IsCheckViolation(err, "billing_item_total_check") {
		return apperr.Validation("billing item total_price must equal quantity times unit_price")
	}
	if err != nil {
		return fmt.Errorf("insert billing item: %w", err)
	}
	return nil
}

func (r *billRepoPG) ListItems(ctx context.Context, billID uuid.UUID) ([]*BillingItem, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+billItemCols+` FROM billing_item WHERE billing_id = $1 ORDER BY created_at, id`, billID)
	if err != nil {
		return nil, fmt.Errorf("list billing items: %w", err)
	}
	defer rows.Close()

	var items []*BillingItem
	for rows.Next() {
		var it BillingItem
		if err := rows.Scan(&it.ID, &it.BillingID, &it.ItemType, &it.Description, &it.PrescriptionItemID,
			&it.MedicineID, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan billing item: %w", err)
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

func scanBill(row pgx.Row) (*BillingRecord, error) {
	var b BillingRecord
	err := row.Scan(&b.ID, &b.PatientID, &b.MedicalRecordID, &b.RoomID, &b.TotalAmount, &b.PaidAmount,
		&b.PaymentStatus, &b.PaymentDate, &b.PaymentMethod, &b.CreatedAt, &b.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("bill")
	}
	if err != nil {
		return nil, fmt.Errorf("scan billing record: %w", err)
	}
	return &b, nil
}
