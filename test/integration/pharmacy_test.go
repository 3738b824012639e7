package integration

import (
	"context"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/platform/apperr"
)

func TestPharmacy_DispenseDecrementsStockAndRecordsMovement(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	p := s.patient(t, "Dina")
	rec := s.record(t, p.ID)
	amox := s.medicine(t, "Amoxicillin", 30, "5000")

	items, err := s.pharmacy.CreatePrescription(ctx, rec.ID, []pharmacy.PrescriptionLine{{MedicineID: amox.ID, Quantity: 15}})
	if err != nil {
		t.Fatalf("prescribe: %v", err)
	}

	res, err := s.pharmacy.DispenseItem(ctx, items[0].ID, 10, "pharm-1")
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if res.Item.Status != pharmacy.ItemPartiallyFilled {
		t.Errorf("expected Partially_Filled, got %s", res.Item.Status)
	}
	if res.Medicine.StockQuantity != 20 {
		t.Errorf("expected stock 20, got %d", res.Medicine.StockQuantity)
	}

	med, err := s.pharmacy.GetMedicine(ctx, amox.ID)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if med.StockQuantity != 20 {
		t.Fatalf("expected persisted stock 20, got %d", med.StockQuantity)
	}

	moves, total, err := s.pharmacy.ListMovements(ctx, amox.ID, 10, 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if total != 1 || moves[0].QuantityChange != -10 || moves[0].QuantityBefore != 30 || moves[0].QuantityAfter != 20 {
		t.Fatalf("unexpected movement ledger: total=%d %+v", total, moves)
	}
}

func TestPharmacy_InsufficientStockLeavesLedgerUntouched(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	p := s.patient(t, "Eli")
	rec := s.record(t, p.ID)
	med := s.medicine(t, "Ibuprofen", 3, "1200")

	items, err := s.pharmacy.CreatePrescription(ctx, rec.ID, []pharmacy.PrescriptionLine{{MedicineID: med.ID, Quantity: 5}})
	if err != nil {
		t.Fatalf("prescribe: %v", err)
	}

	_, err = s.pharmacy.DispenseItem(ctx, items[0].ID, 5, "pharm-1")
	if !apperr.IsKind(err, apperr.KindInsufficientStock) {
		t.Fatalf("expected insufficient_stock, got %v", err)
	}

	item, err := s.pharmacy.GetItem(ctx, items[0].ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if item.DispensedQuantity != 0 || item.Status != pharmacy.ItemActive {
		t.Fatalf("expected item untouched, got %+v", item)
	}
	_, total, err := s.pharmacy.ListMovements(ctx, med.ID, 10, 0)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no movements, got %d", total)
	}
}

func TestPharmacy_ConcurrentDispensesNeverOversell(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	med := s.medicine(t, "Paracetamol", 5, "800")

	// One prescription item per patient so the items do not serialise on
	// each other, only on the medicine row.
	var pending []*pharmacy.PrescriptionItem
	for i := 0; i < 10; i++ {
		p := s.patient(t, "Race")
		rec := s.record(t, p.ID)
		items, err := s.pharmacy.CreatePrescription(ctx, rec.ID, []pharmacy.PrescriptionLine{{MedicineID: med.ID, Quantity: 1}})
		if err != nil {
			t.Fatalf("prescribe: %v", err)
		}
		pending = append(pending, items[0])
	}

	var filled, short atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range pending {
		item := item
		g.Go(func() error {
			_, err := s.pharmacy.DispenseItem(gctx, item.ID, 1, "pharm-1")
			switch {
			case err == nil:
				filled.Add(1)
			case apperr.IsKind(err, apperr.KindInsufficientStock):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected dispense error: %v", err)
	}

	if filled.Load() != 5 || short.Load() != 5 {
		t.Fatalf("expected 5 filled and 5 short, got %d and %d", filled.Load(), short.Load())
	}
	got, err := s.pharmacy.GetMedicine(ctx, med.ID)
	if err != nil {
		t.Fatalf("get medicine: %v", err)
	}
	if got.StockQuantity != 0 {
		t.Fatalf("expected stock 0, got %d", got.StockQuantity)
	}
}

func TestPharmacy_RestockThenDispense(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	p := s.patient(t, "Finn")
	rec := s.record(t, p.ID)
	med := s.medicine(t, "Cetirizine", 0, "300")

	if _, err := s.pharmacy.Restock(ctx, med.ID, 4, nil, "pharm-1"); err != nil {
		t.Fatalf("restock: %v", err)
	}
	items, err := s.pharmacy.CreatePrescription(ctx, rec.ID, []pharmacy.PrescriptionLine{{MedicineID: med.ID, Quantity: 4}})
	if err != nil {
		t.Fatalf("prescribe: %v", err)
	}
	res, err := s.pharmacy.DispenseItem(ctx, items[0].ID, 4, "pharm-1")
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if res.Item.Status != pharmacy.ItemFilled {
		t.Errorf("expected Filled, got %s", res.Item.Status)
	}
}
