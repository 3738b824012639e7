package pharmacy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Medicine maps to the medicine table. StockQuantity never goes below zero;
// it changes only through Restock and DispenseItem.
type Medicine struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	Name          string          `db:"name" json:"name"`
	Brand         *string         `db:"brand" json:"brand,omitempty"`
	Type          string          `db:"type" json:"type"`
	StockQuantity int             `db:"stock_quantity" json:"stock_quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price" json:"unit_price"`
	ExpiryDate    *time.Time      `db:"expiry_date" json:"expiry_date,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// ExpiredAt reports whether the medicine is past its expiry date at t. The
// expiry date itself is still usable.
func (m *Medicine) ExpiredAt(t time.Time) bool {
	if m.ExpiryDate == nil {
		return false
	}
	y, mo, d := m.ExpiryDate.Date()
	lastDay := time.Date(y, mo, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
	return !t.Before(lastDay)
}

type ItemStatus string

const (
	ItemActive          ItemStatus = "Active"
	ItemFilled          ItemStatus = "Filled"
	ItemPartiallyFilled ItemStatus = "Partially_Filled"
	ItemCancelled       ItemStatus = "Cancelled"
	ItemExpired         ItemStatus = "Expired"
)

// Dispensable reports whether more stock may be handed out against the item.
func (s ItemStatus) Dispensable() bool {
	return s == ItemActive || s == ItemPartiallyFilled
}

// PrescriptionItem maps to the prescription_item table.
type PrescriptionItem struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	MedicalRecordID   uuid.UUID  `db:"medical_record_id" json:"medical_record_id"`
	MedicineID        uuid.UUID  `db:"medicine_id" json:"medicine_id"`
	Quantity          int        `db:"quantity" json:"quantity"`
	DispensedQuantity int        `db:"dispensed_quantity" json:"dispensed_quantity"`
	Dosage            *string    `db:"dosage" json:"dosage,omitempty"`
	Frequency         *string    `db:"frequency" json:"frequency,omitempty"`
	Duration          *string    `db:"duration" json:"duration,omitempty"`
	Status            ItemStatus `db:"status" json:"status"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (i *PrescriptionItem) Remaining() int {
	return i.Quantity - i.DispensedQuantity
}

type MovementType string

const (
	MovementDispense MovementType = "dispense"
	MovementRestock  MovementType = "restock"
)

// StockMovement is an append-only inventory audit row, written in the same
// transaction as the stock change it describes.
type StockMovement struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	MedicineID     uuid.UUID    `db:"medicine_id" json:"medicine_id"`
	MovementType   MovementType `db:"movement_type" json:"movement_type"`
	QuantityChange int          `db:"quantity_change" json:"quantity_change"`
	QuantityBefore int          `db:"quantity_before" json:"quantity_before"`
	QuantityAfter  int          `db:"quantity_after" json:"quantity_after"`
	ReferenceID    *uuid.UUID   `db:"reference_id" json:"reference_id,omitempty"`
	Note           *string      `db:"note" json:"note,omitempty"`
	CreatedBy      *string      `db:"created_by" json:"created_by,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// PrescriptionLine is one requested item of CreatePrescription.
type PrescriptionLine struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	Quantity   int       `json:"quantity"`
	Dosage     *string   `json:"dosage,omitempty"`
	Frequency  *string   `json:"frequency,omitempty"`
	Duration   *string   `json:"duration,omitempty"`
}

type DispenseResult struct {
	Item     *PrescriptionItem `json:"item"`
	Medicine *Medicine         `json:"medicine"`
	Movement *StockMovement    `json:"movement"`
}
