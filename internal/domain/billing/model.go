package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "Pending"
	StatusPaid      PaymentStatus = "Paid"
	StatusOverdue   PaymentStatus = "Overdue"
	StatusCancelled PaymentStatus = "Cancelled"
	StatusPartial   PaymentStatus = "Partial"
)

// Payable reports whether a payment may still be recorded in this status.
func (s PaymentStatus) Payable() bool {
	return s == StatusPending || s == StatusPartial || s == StatusOverdue
}

type ItemType string

const (
	ItemService  ItemType = "service"
	ItemMedicine ItemType = "medicine"
)

var validItemTypes = map[ItemType]bool{ItemService: true, ItemMedicine: true}

// BillingRecord maps to the billing_record table. TotalAmount is always the
// sum of the items' TotalPrice; it is never entered directly.
type BillingRecord struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	PatientID       uuid.UUID       `db:"patient_id" json:"patient_id"`
	MedicalRecordID *uuid.UUID      `db:"medical_record_id" json:"medical_record_id,omitempty"`
	RoomID          *uuid.UUID      `db:"room_id" json:"room_id,omitempty"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount      decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentDate     *time.Time      `db:"payment_date" json:"payment_date,omitempty"`
	PaymentMethod   *string         `db:"payment_method" json:"payment_method,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`

	// EffectiveStatus is the read-time view of PaymentStatus; see DerivedStatus.
	EffectiveStatus PaymentStatus  `db:"-" json:"effective_status"`
	Items           []*BillingItem `db:"-" json:"items,omitempty"`
}

// Balance is what remains to be paid.
func (b *BillingRecord) Balance() decimal.Decimal {
	return b.TotalAmount.Sub(b.PaidAmount)
}

// BillingItem maps to the billing_item table.
type BillingItem struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	BillingID          uuid.UUID       `db:"billing_id" json:"billing_id"`
	ItemType           ItemType        `db:"item_type" json:"item_type"`
	Description        string          `db:"description" json:"description"`
	PrescriptionItemID *uuid.UUID      `db:"prescription_item_id" json:"prescription_item_id,omitempty"`
	MedicineID         *uuid.UUID      `db:"medicine_id" json:"medicine_id,omitempty"`
	Quantity           int             `db:"quantity" json:"quantity"`
	UnitPrice          decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice         decimal.Decimal `db:"total_price" json:"total_price"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
}

// ItemInput is one requested line of CreateBilling or AddItems.
type ItemInput struct {
	ItemType    ItemType        `json:"item_type"`
	Description string          `json:"description"`
	MedicineID  *uuid.UUID      `json:"medicine_id,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateRequest is the input of CreateBilling.
type CreateRequest struct {
	PatientID       uuid.UUID   `json:"patient_id"`
	MedicalRecordID *uuid.UUID  `json:"medical_record_id,omitempty"`
	Items           []ItemInput `json:"items"`
	// IncludePrescriptions appends the dispensed quantities of the medical
	// record's prescription items as medicine lines.
	IncludePrescriptions bool `json:"include_prescriptions,omitempty"`
	// Paid marks the bill paid at the point of service.
	Paid          bool       `json:"paid,omitempty"`
	PaymentMethod *string    `json:"payment_method,omitempty"`
	PaymentDate   *time.Time `json:"payment_date,omitempty"`
}

// Payment is the input of MarkPaid and RecordPayment. Amount is ignored by
// MarkPaid.
type Payment struct {
	Amount decimal.Decimal `json:"amount"`
	Method *string         `json:"payment_method,omitempty"`
	Date   *time.Time      `json:"payment_date,omitempty"`
}

// DerivedStatus is the status a reader should see at now: a stored Pending
// bill older than grace reads as Overdue. It never mutates b.
func DerivedStatus(b *BillingRecord, now time.Time, grace time.Duration) PaymentStatus {
	if b.PaymentStatus == StatusPending && now.Sub(b.CreatedAt) > grace {
		return StatusOverdue
	}
	return b.PaymentStatus
}

// total sums item totals.
func total(items []*BillingItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalPrice)
	}
	return sum
}
