package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/medrecord"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/websocket"
)

// RecordLocker row-locks a medical record inside a transaction.
// *medrecord.Service implements it.
type RecordLocker interface {
	LockRecord(ctx context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error)
}

// unit_price is NUMERIC(14,2).
var maxUnitPrice = decimal.New(1, 12)

// Service is the medicine directory and the prescription/dispensing ledger.
type Service struct {
	medicines     MedicineRepository
	prescriptions PrescriptionRepository
	movements     MovementRepository
	records       RecordLocker
	tx            db.Transactor
	events        websocket.EventPublisher
	now           func() time.Time
}

func NewService(medicines MedicineRepository, prescriptions PrescriptionRepository, movements MovementRepository,
	records RecordLocker, tx db.Transactor) *Service {
	return &Service{
		medicines:     medicines,
		prescriptions: prescriptions,
		movements:     movements,
		records:       records,
		tx:            tx,
		now:           time.Now,
	}
}

// SetEventPublisher attaches an optional feed for committed mutations.
func (s *Service) SetEventPublisher(p websocket.EventPublisher) { s.events = p }

// -- Medicines --

func (s *Service) CreateMedicine(ctx context.Context, m *Medicine) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return apperr.Validation("name is required")
	}
	if m.Type == "" {
		return apperr.Validation("type is required")
	}
	if m.StockQuantity < 0 {
		return apperr.InvalidQuantity("stock_quantity must not be negative")
	}
	if m.UnitPrice.IsNegative() {
		return apperr.Validation("unit_price must not be negative")
	}
	if !m.UnitPrice.Equal(m.UnitPrice.Round(2)) {
		return apperr.Validation("unit_price must not have more than two decimal places")
	}
	if m.UnitPrice.GreaterThanOrEqual(maxUnitPrice) {
		return apperr.Validation("unit_price is out of range")
	}
	return s.medicines.Create(ctx, m)
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return s.medicines.GetByID(ctx, id)
}

func (s *Service) ListMedicines(ctx context.Context, limit, offset int) ([]*Medicine, int, error) {
	return s.medicines.List(ctx, limit, offset)
}

// Restock adds qty units and records the movement.
func (s *Service) Restock(ctx context.Context, medicineID uuid.UUID, qty int, note *string, actor string) (*StockMovement, error) {
	if qty <= 0 {
		return nil, apperr.InvalidQuantity("restock quantity must be positive")
	}
	var mv *StockMovement
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		before, after, err := s.medicines.IncrementStock(ctx, medicineID, qty)
		if err != nil {
			return err
		}
		mv = &StockMovement{
			MedicineID:     medicineID,
			MovementType:   MovementRestock,
			QuantityChange: qty,
			QuantityBefore: before,
			QuantityAfter:  after,
			Note:           note,
			CreatedBy:      actorPtr(actor),
		}
		return s.movements.Create(ctx, mv)
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, websocket.EventMedicineRestocked, "Medicine", medicineID, mv)
	return mv, nil
}

func (s *Service) ListMovements(ctx context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	if _, err := s.medicines.GetByID(ctx, medicineID); err != nil {
		return nil, 0, err
	}
	return s.movements.ListByMedicine(ctx, medicineID, limit, offset)
}

// -- Prescriptions --

// CreatePrescription records one Active item per line. Prescribing does not
// touch stock.
func (s *Service) CreatePrescription(ctx context.Context, recordID uuid.UUID, lines []PrescriptionLine) ([]*PrescriptionItem, error) {
	if len(lines) == 0 {
		return nil, apperr.Validation("prescription has no items")
	}
	for i, l := range lines {
		if l.MedicineID == uuid.Nil {
			return nil, apperr.Validation(fmt.Sprintf("item %d: medicine_id is required", i+1))
		}
		if l.Quantity <= 0 {
			return nil, apperr.InvalidQuantity(fmt.Sprintf("item %d: quantity must be positive", i+1))
		}
	}

	items := make([]*PrescriptionItem, 0, len(lines))
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rec, err := s.records.LockRecord(ctx, recordID)
		if err != nil {
			return err
		}
		if rec.IsBilled() {
			return apperr.InvalidTransition("medical record is already billed")
		}
		for _, l := range lines {
			if _, err := s.medicines.GetByID(ctx, l.MedicineID); err != nil {
				return err
			}
			item := &PrescriptionItem{
				MedicalRecordID: recordID,
				MedicineID:      l.MedicineID,
				Quantity:        l.Quantity,
				Dosage:          l.Dosage,
				Frequency:       l.Frequency,
				Duration:        l.Duration,
				Status:          ItemActive,
			}
			if err := s.prescriptions.CreateItem(ctx, item); err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error) {
	return s.prescriptions.GetItem(ctx, id)
}

func (s *Service) ListItemsForRecord(ctx context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error) {
	return s.prescriptions.ListByRecord(ctx, recordID)
}

// DispenseItem hands out qty units against the item. The stock check and
// decrement are one conditional update, so concurrent dispenses of the last
// unit cannot both succeed; on insufficient stock nothing changes.
func (s *Service) DispenseItem(ctx context.Context, itemID uuid.UUID, qty int, actor string) (*DispenseResult, error) {
	if qty <= 0 {
		return nil, apperr.InvalidQuantity("dispense quantity must be positive")
	}

	var res DispenseResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		item, err := s.prescriptions.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if !item.Status.Dispensable() {
			return apperr.InvalidTransition(fmt.Sprintf("prescription item is %s and cannot be dispensed", item.Status))
		}
		if qty > item.Remaining() {
			return apperr.InvalidQuantity(fmt.Sprintf(
				"dispense quantity %d exceeds the %d remaining on the prescription", qty, item.Remaining()))
		}

		med, err := s.medicines.GetByID(ctx, item.MedicineID)
		if err != nil {
			return err
		}
		if med.ExpiredAt(s.now()) {
			return apperr.InvalidTransition(fmt.Sprintf("%s expired on %s", med.Name, med.ExpiryDate.Format("2006-01-02")))
		}

		before, after, err := s.medicines.DecrementStock(ctx, med.ID, qty)
		if err != nil {
			return err
		}
		med.StockQuantity = after

		item.DispensedQuantity += qty
		item.Status = ItemPartiallyFilled
		if item.Remaining() == 0 {
			item.Status = ItemFilled
		}
		if err := s.prescriptions.UpdateDispensed(ctx, item.ID, item.DispensedQuantity, item.Status); err != nil {
			return err
		}

		ref := item.ID
		mv := &StockMovement{
			MedicineID:     med.ID,
			MovementType:   MovementDispense,
			QuantityChange: -qty,
			QuantityBefore: before,
			QuantityAfter:  after,
			ReferenceID:    &ref,
			CreatedBy:      actorPtr(actor),
		}
		if err := s.movements.Create(ctx, mv); err != nil {
			return err
		}
		res = DispenseResult{Item: item, Medicine: med, Movement: mv}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().
		Str("item_id", itemID.String()).
		Str("medicine_id", res.Medicine.ID.String()).
		Int("quantity", qty).
		Int("stock_after", res.Medicine.StockQuantity).
		Msg("prescription item dispensed")
	s.publish(ctx, websocket.EventItemDispensed, "PrescriptionItem", itemID, res)
	return &res, nil
}

// CancelItem cancels an item nothing has been dispensed against yet.
func (s *Service) CancelItem(ctx context.Context, itemID uuid.UUID) (*PrescriptionItem, error) {
	var item *PrescriptionItem
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		item, err = s.prescriptions.GetItemForUpdate(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Status != ItemActive {
			return apperr.InvalidTransition(fmt.Sprintf("only Active items can be cancelled, item is %s", item.Status))
		}
		if err := s.prescriptions.UpdateStatus(ctx, itemID, ItemCancelled); err != nil {
			return err
		}
		item.Status = ItemCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Service) publish(ctx context.Context, eventType, resourceType string, id uuid.UUID, data interface{}) {
	if s.events == nil {
		return
	}
	evt := websocket.NewEvent(eventType, resourceType, id.String(), data, websocket.TopicPharmacy)
	if err := s.events.Publish(ctx, evt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}

func actorPtr(actor string) *string {
	if actor == "" {
		return nil
	}
	return &actor
}
