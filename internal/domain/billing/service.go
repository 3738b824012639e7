package billing

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/medrecord"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/websocket"
)

// Collaborators. The ward, medrecord and pharmacy services satisfy these.
type (
	RoomContext interface {
		GetOpenAssignmentForPatient(ctx context.Context, patientID uuid.UUID) (*ward.RoomAssignment, error)
	}

	RecordBiller interface {
		LockRecord(ctx context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error)
		MarkBilled(ctx context.Context, id uuid.UUID, at time.Time) error
	}

	Pharmacy interface {
		GetMedicine(ctx context.Context, id uuid.UUID) (*pharmacy.Medicine, error)
		ListItemsForRecord(ctx context.Context, recordID uuid.UUID) ([]*pharmacy.PrescriptionItem, error)
	}
)

const msgNotPayable = "bill already paid or cancelled"

type Service struct {
	bills    BillRepository
	patients identity.Directory
	rooms    RoomContext
	records  RecordBiller
	pharmacy Pharmacy
	tx       db.Transactor
	events   websocket.EventPublisher
	grace    time.Duration
	now      func() time.Time
}

func NewService(bills BillRepository, patients identity.Directory, rooms RoomContext, records RecordBiller,
	pharm Pharmacy, tx db.Transactor, grace time.Duration) *Service {
	return &Service{
		bills:    bills,
		patients: patients,
		rooms:    rooms,
		records:  records,
		pharmacy: pharm,
		tx:       tx,
		grace:    grace,
		now:      time.Now,
	}
}

// SetEventPublisher attaches an optional feed for committed mutations.
func (s *Service) SetEventPublisher(p websocket.EventPublisher) { s.events = p }

// CreateBilling persists a bill and its items in one transaction. When a
// medical record is referenced it is frozen in the same transaction.
func (s *Service) CreateBilling(ctx context.Context, req CreateRequest) (*BillingRecord, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.IncludePrescriptions && req.MedicalRecordID == nil {
		return nil, apperr.Validation("include_prescriptions requires medical_record_id")
	}
	if len(req.Items) == 0 && !req.IncludePrescriptions {
		return nil, apperr.EmptyBill()
	}
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	if _, err := s.patients.GetPatient(ctx, req.PatientID); err != nil {
		return nil, err
	}
	roomID, err := s.roomContext(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	bill := &BillingRecord{
		PatientID:       req.PatientID,
		MedicalRecordID: req.MedicalRecordID,
		RoomID:          roomID,
		PaymentStatus:   StatusPending,
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if req.MedicalRecordID != nil {
			rec, err := s.records.LockRecord(ctx, *req.MedicalRecordID)
			if err != nil {
				return err
			}
			if rec.PatientID != req.PatientID {
				return apperr.Validation("medical record belongs to another patient")
			}
			if rec.IsBilled() {
				return apperr.InvalidTransition("medical record is already billed")
			}
		}

		items, err := s.buildItems(ctx, req.Items)
		if err != nil {
			return err
		}
		if req.IncludePrescriptions {
			dispensed, err := s.dispensedItems(ctx, *req.MedicalRecordID)
			if err != nil {
				return err
			}
			items = append(items, dispensed...)
		}
		if len(items) == 0 {
			return apperr.EmptyBill()
		}

		bill.TotalAmount = total(items)
		if err := checkMoney("total_amount", bill.TotalAmount); err != nil {
			return err
		}
		bill.PaidAmount = decimal.Zero
		if req.Paid {
			bill.PaymentStatus = StatusPaid
			bill.PaidAmount = bill.TotalAmount
			bill.PaymentMethod = req.PaymentMethod
			bill.PaymentDate = dateOr(req.PaymentDate, now)
		}
		if err := s.bills.Create(ctx, bill); err != nil {
			return err
		}
		for _, it := range items {
			it.BillingID = bill.ID
			if err := s.bills.AddItem(ctx, it); err != nil {
				return err
			}
		}
		bill.Items = items

		if req.MedicalRecordID != nil {
			return s.records.MarkBilled(ctx, *req.MedicalRecordID, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.withEffectiveStatus(bill)
	zerolog.Ctx(ctx).Info().
		Str("bill_id", bill.ID.String()).
		Str("patient_id", bill.PatientID.String()).
		Str("total", bill.TotalAmount.StringFixed(2)).
		Int("items", len(bill.Items)).
		Msg("bill created")
	s.publish(ctx, websocket.EventBillCreated, bill)
	if bill.PaymentStatus == StatusPaid {
		s.publish(ctx, websocket.EventBillPaid, bill)
	}
	return bill, nil
}

// MarkPaid settles the whole outstanding balance.
func (s *Service) MarkPaid(ctx context.Context, billID uuid.UUID, p Payment) (*BillingRecord, error) {
	bill, err := s.mutate(ctx, billID, func(ctx context.Context, b *BillingRecord) error {
		if !b.PaymentStatus.Payable() {
			return apperr.InvalidTransition(msgNotPayable)
		}
		b.PaymentStatus = StatusPaid
		b.PaidAmount = b.TotalAmount
		b.PaymentMethod = p.Method
		b.PaymentDate = dateOr(p.Date, s.now())
		return s.bills.UpdatePayment(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventBillPaid, bill)
	return bill, nil
}

// RecordPayment applies a partial payment. Reaching the total settles the bill.
func (s *Service) RecordPayment(ctx context.Context, billID uuid.UUID, p Payment) (*BillingRecord, error) {
	if !p.Amount.IsPositive() {
		return nil, apperr.Validation("payment amount must be positive")
	}
	if err := checkMoney("payment amount", p.Amount); err != nil {
		return nil, err
	}
	bill, err := s.mutate(ctx, billID, func(ctx context.Context, b *BillingRecord) error {
		if !b.PaymentStatus.Payable() {
			return apperr.InvalidTransition(msgNotPayable)
		}
		if p.Amount.GreaterThan(b.Balance()) {
			return apperr.Validation(fmt.Sprintf("payment of %s exceeds the outstanding balance of %s",
				p.Amount.StringFixed(2), b.Balance().StringFixed(2)))
		}
		b.PaidAmount = b.PaidAmount.Add(p.Amount)
		b.PaymentStatus = StatusPartial
		if b.Balance().IsZero() {
			b.PaymentStatus = StatusPaid
		}
		b.PaymentMethod = p.Method
		b.PaymentDate = dateOr(p.Date, s.now())
		return s.bills.UpdatePayment(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	if bill.PaymentStatus == StatusPaid {
		s.publish(ctx, websocket.EventBillPaid, bill)
	}
	return bill, nil
}

// Cancel is terminal and allowed only from a stored Pending status.
func (s *Service) Cancel(ctx context.Context, caps auth.Capabilities, billID uuid.UUID) (*BillingRecord, error) {
	if !caps.CancelBill {
		return nil, apperr.Forbidden("cancelling a bill requires the cancel_bill capability")
	}
	bill, err := s.mutate(ctx, billID, func(ctx context.Context, b *BillingRecord) error {
		if b.PaymentStatus != StatusPending {
			return apperr.InvalidTransition(fmt.Sprintf("only Pending bills can be cancelled, bill is %s", b.PaymentStatus))
		}
		b.PaymentStatus = StatusCancelled
		return s.bills.UpdateStatus(ctx, b.ID, StatusCancelled)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventBillCancelled, bill)
	return bill, nil
}

// AddItems appends items to a Pending bill and recomputes its total in the
// same transaction.
func (s *Service) AddItems(ctx context.Context, billID uuid.UUID, inputs []ItemInput) (*BillingRecord, error) {
	if len(inputs) == 0 {
		return nil, apperr.EmptyBill()
	}
	if err := validateItems(inputs); err != nil {
		return nil, err
	}
	return s.mutate(ctx, billID, func(ctx context.Context, b *BillingRecord) error {
		if b.PaymentStatus != StatusPending {
			return apperr.InvalidTransition(fmt.Sprintf("items can only be added to Pending bills, bill is %s", b.PaymentStatus))
		}
		items, err := s.buildItems(ctx, inputs)
		if err != nil {
			return err
		}
		for _, it := range items {
			it.BillingID = b.ID
			if err := s.bills.AddItem(ctx, it); err != nil {
				return err
			}
		}
		all, err := s.bills.ListItems(ctx, b.ID)
		if err != nil {
			return err
		}
		b.TotalAmount = total(all)
		if err := checkMoney("total_amount", b.TotalAmount); err != nil {
			return err
		}
		b.Items = all
		return s.bills.UpdateTotal(ctx, b.ID, b.TotalAmount)
	})
}

// RefreshStatus persists Pending -> Overdue when the grace period has
// elapsed. Other bills are returned unchanged.
func (s *Service) RefreshStatus(ctx context.Context, billID uuid.UUID) (*BillingRecord, error) {
	return s.mutate(ctx, billID, func(ctx context.Context, b *BillingRecord) error {
		if DerivedStatus(b, s.now(), s.grace) != StatusOverdue || b.PaymentStatus != StatusPending {
			return nil
		}
		b.PaymentStatus = StatusOverdue
		return s.bills.UpdateStatus(ctx, b.ID, StatusOverdue)
	})
}

// RefreshOverdue persists Overdue for every Pending bill past the grace
// period and returns how many changed.
func (s *Service) RefreshOverdue(ctx context.Context) (int, error) {
	ids, err := s.bills.MarkOverdueBefore(ctx, s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	zerolog.Ctx(ctx).Info().Int("count", len(ids)).Dur("grace", s.grace).Msg("overdue bills refreshed")
	return len(ids), nil
}

func (s *Service) GetBill(ctx context.Context, id uuid.UUID) (*BillingRecord, error) {
	b, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Items, err = s.bills.ListItems(ctx, id); err != nil {
		return nil, err
	}
	s.withEffectiveStatus(b)
	return b, nil
}

func (s *Service) ListBills(ctx context.Context, filter ListFilter, limit, offset int) ([]*BillingRecord, int, error) {
	bills, total, err := s.bills.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, b := range bills {
		s.withEffectiveStatus(b)
	}
	return bills, total, nil
}

// mutate runs fn against the row-locked bill and returns the bill with its
// items and effective status.
func (s *Service) mutate(ctx context.Context, billID uuid.UUID, fn func(ctx context.Context, b *BillingRecord) error) (*BillingRecord, error) {
	var bill *BillingRecord
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bills.GetForUpdate(ctx, billID)
		if err != nil {
			return err
		}
		if err := fn(ctx, b); err != nil {
			return err
		}
		if b.Items == nil {
			if b.Items, err = s.bills.ListItems(ctx, b.ID); err != nil {
				return err
			}
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.withEffectiveStatus(bill)
	return bill, nil
}

func (s *Service) withEffectiveStatus(b *BillingRecord) {
	b.EffectiveStatus = DerivedStatus(b, s.now(), s.grace)
}

// roomContext returns the room the patient currently occupies, if any.
func (s *Service) roomContext(ctx context.Context, patientID uuid.UUID) (*uuid.UUID, error) {
	if s.rooms == nil {
		return nil, nil
	}
	a, err := s.rooms.GetOpenAssignmentForPatient(ctx, patientID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a.RoomID, nil
}

func (s *Service) buildItems(ctx context.Context, inputs []ItemInput) ([]*BillingItem, error) {
	items := make([]*BillingItem, 0, len(inputs))
	for _, in := range inputs {
		it := &BillingItem{
			ItemType:    in.ItemType,
			Description: strings.TrimSpace(in.Description),
			MedicineID:  in.MedicineID,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
		}
		if it.ItemType == "" {
			it.ItemType = ItemService
		}
		if in.MedicineID != nil {
			med, err := s.pharmacy.GetMedicine(ctx, *in.MedicineID)
			if err != nil {
				return nil, err
			}
			if it.Description == "" {
				it.Description = med.Name
			}
		}
		it.TotalPrice = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		items = append(items, it)
	}
	return items, nil
}

// dispensedItems prices what has actually been handed out against the
// record at the medicines' current unit prices.
func (s *Service) dispensedItems(ctx context.Context, recordID uuid.UUID) ([]*BillingItem, error) {
	prescribed, err := s.pharmacy.ListItemsForRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	var items []*BillingItem
	for _, p := range prescribed {
		if p.DispensedQuantity == 0 {
			continue
		}
		med, err := s.pharmacy.GetMedicine(ctx, p.MedicineID)
		if err != nil {
			return nil, err
		}
		prescriptionID, medicineID := p.ID, med.ID
		items = append(items, &BillingItem{
			ItemType:           ItemMedicine,
			Description:        med.Name,
			PrescriptionItemID: &prescriptionID,
			MedicineID:         &medicineID,
			Quantity:           p.DispensedQuantity,
			UnitPrice:          med.UnitPrice,
			TotalPrice:         med.UnitPrice.Mul(decimal.NewFromInt(int64(p.DispensedQuantity))),
		})
	}
	return items, nil
}

func (s *Service) publish(ctx context.Context, eventType string, b *BillingRecord) {
	if s.events == nil {
		return
	}
	evt := websocket.NewEvent(eventType, "BillingRecord", b.ID.String(), b,
		websocket.TopicBilling, websocket.BillTopic(b.ID.String()))
	if err := s.events.Publish(ctx, evt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}

// Money columns are NUMERIC(14,2) and quantities INTEGER.
var maxAmount = decimal.New(1, 12).Sub(decimal.New(1, -2))

const maxQuantity = math.MaxInt32

// checkMoney rejects values the money columns would round or overflow.
func checkMoney(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(2)) {
		return apperr.Validation(fmt.Sprintf("%s must not have more than two decimal places", field))
	}
	if d.Abs().GreaterThan(maxAmount) {
		return apperr.Validation(fmt.Sprintf("%s exceeds the maximum of %s", field, maxAmount.StringFixed(2)))
	}
	return nil
}

func validateItems(items []ItemInput) error {
	for i, it := range items {
		if it.Quantity <= 0 {
			return apperr.InvalidQuantity(fmt.Sprintf("item %d: quantity must be positive", i+1))
		}
		if it.Quantity > maxQuantity {
			return apperr.InvalidQuantity(fmt.Sprintf("item %d: quantity must not exceed %d", i+1, maxQuantity))
		}
		if it.UnitPrice.IsNegative() {
			return apperr.Validation(fmt.Sprintf("item %d: unit_price must not be negative", i+1))
		}
		if err := checkMoney(fmt.Sprintf("item %d: unit_price", i+1), it.UnitPrice); err != nil {
			return err
		}
		line := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if err := checkMoney(fmt.Sprintf("item %d: total_price", i+1), line); err != nil {
			return err
		}
		if it.ItemType != "" && !validItemTypes[it.ItemType] {
			return apperr.Validation(fmt.Sprintf("item %d: invalid item_type: %s", i+1, it.ItemType))
		}
	}
	return nil
}

func dateOr(t *time.Time, fallback time.Time) *time.Time {
	if t != nil {
		return t
	}
	return &fallback
}
