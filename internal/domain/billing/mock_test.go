package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/domain/medrecord"
	"github.com/hms/hms/internal/domain/pharmacy"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db/dbtest"
	"github.com/hms/hms/internal/platform/websocket"
)

// -- Mock Bill Repository --

type mockBillRepo struct {
	mu    sync.Mutex
	bills map[uuid.UUID]BillingRecord
	items []BillingItem
	// failAddItem, when set, is returned by the next AddItem.
	failAddItem error
	// clock stamps created_at so tests control bill age.
	clock func() time.Time
}

func newMockBillRepo(clock func() time.Time) *mockBillRepo {
	return &mockBillRepo{bills: make(map[uuid.UUID]BillingRecord), clock: clock}
}

func (m *mockBillRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]BillingRecord, len(m.bills))
	for k, v := range m.bills {
		saved[k] = v
	}
	savedItems := append([]BillingItem(nil), m.items...)
	return func() {
		m.mu.Lock()
		m.bills = saved
		m.items = savedItems
		m.mu.Unlock()
	}
}

func (m *mockBillRepo) Create(_ context.Context, b *BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.ID = uuid.New()
	b.CreatedAt = m.clock()
	b.UpdatedAt = b.CreatedAt
	stored := *b
	stored.Items = nil
	m.bills[b.ID] = stored
	return nil
}

func (m *mockBillRepo) GetByID(_ context.Context, id uuid.UUID) (*BillingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, apperr.NotFound("bill")
	}
	return &b, nil
}

func (m *mockBillRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*BillingRecord, error) {
	if !dbtest.InTx(ctx) {
		panic("GetForUpdate outside a transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockBillRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*BillingRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*BillingRecord
	for _, b := range m.bills {
		if filter.PatientID != nil && b.PatientID != *filter.PatientID {
			continue
		}
		if filter.Status != "" && b.PaymentStatus != filter.Status {
			continue
		}
		b := b
		all = append(all, &b)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *mockBillRepo) UpdatePayment(_ context.Context, b *BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bills[b.ID]
	if !ok {
		return apperr.NotFound("bill")
	}
	stored.PaidAmount = b.PaidAmount
	stored.PaymentStatus = b.PaymentStatus
	stored.PaymentDate = b.PaymentDate
	stored.PaymentMethod = b.PaymentMethod
	m.bills[b.ID] = stored
	return nil
}

func (m *mockBillRepo) UpdateStatus(_ context.Context, id uuid.UUID, status PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bills[id]
	if !ok {
		return apperr.NotFound("bill")
	}
	stored.PaymentStatus = status
	m.bills[id] = stored
	return nil
}

func (m *mockBillRepo) UpdateTotal(_ context.Context, id uuid.UUID, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bills[id]
	if !ok {
		return apperr.NotFound("bill")
	}
	stored.TotalAmount = total
	m.bills[id] = stored
	return nil
}

func (m *mockBillRepo) MarkOverdueBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, b := range m.bills {
		if b.PaymentStatus == StatusPending && b.CreatedAt.Before(cutoff) {
			b.PaymentStatus = StatusOverdue
			m.bills[id] = b
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *mockBillRepo) AddItem(_ context.Context, item *BillingItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failAddItem; err != nil {
		m.failAddItem = nil
		return err
	}
	if _, ok := m.bills[item.BillingID]; !ok {
		return apperr.NotFound("bill")
	}
	item.ID = uuid.New()
	item.CreatedAt = m.clock()
	m.items = append(m.items, *item)
	return nil
}

func (m *mockBillRepo) ListItems(_ context.Context, billID uuid.UUID) ([]*BillingItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*BillingItem
	for _, it := range m.items {
		if it.BillingID == billID {
			it := it
			result = append(result, &it)
		}
	}
	return result, nil
}

func (m *mockBillRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bills)
}

// -- Collaborators --

type fakeDirectory struct {
	patients map[uuid.UUID]*identity.Patient
}

func (d *fakeDirectory) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient")
	}
	return p, nil
}

func (d *fakeDirectory) add() uuid.UUID {
	id := uuid.New()
	d.patients[id] = &identity.Patient{ID: id, FirstName: "Test", LastName: "Patient", MRN: id.String()[:8]}
	return id
}

type fakeRooms struct {
	open map[uuid.UUID]uuid.UUID
}

func (r *fakeRooms) GetOpenAssignmentForPatient(_ context.Context, patientID uuid.UUID) (*ward.RoomAssignment, error) {
	roomID, ok := r.open[patientID]
	if !ok {
		return nil, apperr.NotFound("open assignment")
	}
	return &ward.RoomAssignment{ID: uuid.New(), RoomID: roomID, PatientID: patientID}, nil
}

// fakeRecords keeps medical records by value and snapshots with the bill
// store, so a rolled back CreateBilling also un-bills the record.
type fakeRecords struct {
	mu      sync.Mutex
	records map[uuid.UUID]medrecord.MedicalRecord
}

func (r *fakeRecords) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[uuid.UUID]medrecord.MedicalRecord, len(r.records))
	for k, v := range r.records {
		saved[k] = v
	}
	return func() {
		r.mu.Lock()
		r.records = saved
		r.mu.Unlock()
	}
}

func (r *fakeRecords) LockRecord(ctx context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error) {
	if !dbtest.InTx(ctx) {
		panic("LockRecord outside a transaction")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperr.NotFound("medical record")
	}
	return &rec, nil
}

func (r *fakeRecords) MarkBilled(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperr.NotFound("medical record")
	}
	if rec.IsBilled() {
		return apperr.InvalidTransition("medical record is already billed")
	}
	rec.BilledAt = &at
	r.records[id] = rec
	return nil
}

func (r *fakeRecords) add(patientID uuid.UUID) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := medrecord.MedicalRecord{ID: uuid.New(), PatientID: patientID, DoctorID: uuid.New(), Diagnosis: "Pneumonia"}
	r.records[rec.ID] = rec
	return rec.ID
}

func (r *fakeRecords) billed(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[id]
	return rec.IsBilled()
}

type fakePharmacy struct {
	medicines map[uuid.UUID]*pharmacy.Medicine
	items     map[uuid.UUID][]*pharmacy.PrescriptionItem
}

func (p *fakePharmacy) GetMedicine(_ context.Context, id uuid.UUID) (*pharmacy.Medicine, error) {
	m, ok := p.medicines[id]
	if !ok {
		return nil, apperr.NotFound("medicine")
	}
	return m, nil
}

func (p *fakePharmacy) ListItemsForRecord(_ context.Context, recordID uuid.UUID) ([]*pharmacy.PrescriptionItem, error) {
	return p.items[recordID], nil
}

func (p *fakePharmacy) medicine(name, price string) *pharmacy.Medicine {
	m := &pharmacy.Medicine{ID: uuid.New(), Name: name, Type: "Tablet", UnitPrice: decimal.RequireFromString(price)}
	p.medicines[m.ID] = m
	return m
}

func (p *fakePharmacy) dispensed(recordID, medicineID uuid.UUID, prescribed, dispensed int) {
	p.items[recordID] = append(p.items[recordID], &pharmacy.PrescriptionItem{
		ID:                uuid.New(),
		MedicalRecordID:   recordID,
		MedicineID:        medicineID,
		Quantity:          prescribed,
		DispensedQuantity: dispensed,
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e websocket.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// -- Fixture --

const testGrace = 30 * 24 * time.Hour

type fixture struct {
	svc      *Service
	bills    *mockBillRepo
	dir      *fakeDirectory
	rooms    *fakeRooms
	records  *fakeRecords
	pharmacy *fakePharmacy
	tx       *dbtest.Transactor
	events   *recordingPublisher
	clock    time.Time
}

func newFixture() *fixture {
	f := &fixture{
		dir:      &fakeDirectory{patients: make(map[uuid.UUID]*identity.Patient)},
		rooms:    &fakeRooms{open: make(map[uuid.UUID]uuid.UUID)},
		records:  &fakeRecords{records: make(map[uuid.UUID]medrecord.MedicalRecord)},
		pharmacy: &fakePharmacy{medicines: make(map[uuid.UUID]*pharmacy.Medicine), items: make(map[uuid.UUID][]*pharmacy.PrescriptionItem)},
		events:   &recordingPublisher{},
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.bills = newMockBillRepo(func() time.Time { return f.clock })
	f.tx = dbtest.NewTransactor(f.bills, f.records)
	f.svc = NewService(f.bills, f.dir, f.rooms, f.records, f.pharmacy, f.tx, testGrace)
	f.svc.SetEventPublisher(f.events)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// pendingBill creates a one-line service bill for a new patient.
func (f *fixture) pendingBill(amount string) *BillingRecord {
	b, err := f.svc.CreateBilling(context.Background(), CreateRequest{
		PatientID: f.dir.add(),
		Items:     []ItemInput{{ItemType: ItemService, Description: "Consultation", Quantity: 1, UnitPrice: price(amount)}},
	})
	if err != nil {
		panic(err)
	}
	return b
}
