package pharmacy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/medrecord"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db/dbtest"
	"github.com/hms/hms/internal/platform/websocket"
)

// -- Mock Medicine Repository --

type mockMedicineRepo struct {
	mu        sync.Mutex
	medicines map[uuid.UUID]Medicine
}

func newMockMedicineRepo() *mockMedicineRepo {
	return &mockMedicineRepo{medicines: make(map[uuid.UUID]Medicine)}
}

func (m *mockMedicineRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Medicine, len(m.medicines))
	for k, v := range m.medicines {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		m.medicines = saved
		m.mu.Unlock()
	}
}

func (m *mockMedicineRepo) Create(_ context.Context, med *Medicine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	med.ID = uuid.New()
	med.CreatedAt = time.Now()
	med.UpdatedAt = med.CreatedAt
	m.medicines[med.ID] = *med
	return nil
}

func (m *mockMedicineRepo) GetByID(_ context.Context, id uuid.UUID) (*Medicine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.medicines[id]
	if !ok {
		return nil, apperr.NotFound("medicine")
	}
	return &med, nil
}

func (m *mockMedicineRepo) List(_ context.Context, limit, offset int) ([]*Medicine, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Medicine
	for _, med := range m.medicines {
		med := med
		result = append(result, &med)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, len(result), nil
}

func (m *mockMedicineRepo) DecrementStock(_ context.Context, id uuid.UUID, qty int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.medicines[id]
	if !ok {
		return 0, 0, apperr.NotFound("medicine")
	}
	if med.StockQuantity < qty {
		return 0, 0, apperr.InsufficientStock(med.Name, qty, med.StockQuantity)
	}
	before := med.StockQuantity
	med.StockQuantity -= qty
	m.medicines[id] = med
	return before, med.StockQuantity, nil
}

func (m *mockMedicineRepo) IncrementStock(_ context.Context, id uuid.UUID, qty int) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	med, ok := m.medicines[id]
	if !ok {
		return 0, 0, apperr.NotFound("medicine")
	}
	before := med.StockQuantity
	med.StockQuantity += qty
	m.medicines[id] = med
	return before, med.StockQuantity, nil
}

func (m *mockMedicineRepo) stock(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.medicines[id].StockQuantity
}

// -- Mock Prescription Repository --

type mockPrescriptionRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]PrescriptionItem
	// failUpdate, when set, is returned by the next UpdateDispensed.
	failUpdate error
}

func newMockPrescriptionRepo() *mockPrescriptionRepo {
	return &mockPrescriptionRepo{items: make(map[uuid.UUID]PrescriptionItem)}
}

func (m *mockPrescriptionRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]PrescriptionItem, len(m.items))
	for k, v := range m.items {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		m.items = saved
		m.mu.Unlock()
	}
}

func (m *mockPrescriptionRepo) CreateItem(_ context.Context, item *PrescriptionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = uuid.New()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	m.items[item.ID] = *item
	return nil
}

func (m *mockPrescriptionRepo) GetItem(_ context.Context, id uuid.UUID) (*PrescriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("prescription item")
	}
	return &item, nil
}

func (m *mockPrescriptionRepo) GetItemForUpdate(ctx context.Context, id uuid.UUID) (*PrescriptionItem, error) {
	if !dbtest.InTx(ctx) {
		panic("GetItemForUpdate outside a transaction")
	}
	return m.GetItem(ctx, id)
}

func (m *mockPrescriptionRepo) UpdateDispensed(_ context.Context, id uuid.UUID, dispensed int, status ItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdate; err != nil {
		m.failUpdate = nil
		return err
	}
	item, ok := m.items[id]
	if !ok {
		return apperr.NotFound("prescription item")
	}
	item.DispensedQuantity = dispensed
	item.Status = status
	m.items[id] = item
	return nil
}

func (m *mockPrescriptionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status ItemStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return apperr.NotFound("prescription item")
	}
	item.Status = status
	m.items[id] = item
	return nil
}

func (m *mockPrescriptionRepo) ListByRecord(_ context.Context, recordID uuid.UUID) ([]*PrescriptionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*PrescriptionItem
	for _, item := range m.items {
		if item.MedicalRecordID == recordID {
			item := item
			result = append(result, &item)
		}
	}
	return result, nil
}

// -- Mock Movement Repository --

type mockMovementRepo struct {
	mu    sync.Mutex
	moves []StockMovement
}

func (m *mockMovementRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := append([]StockMovement(nil), m.moves...)
	return func() {
		m.mu.Lock()
		m.moves = saved
		m.mu.Unlock()
	}
}

func (m *mockMovementRepo) Create(_ context.Context, mv *StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mv.ID = uuid.New()
	mv.CreatedAt = time.Now()
	m.moves = append(m.moves, *mv)
	return nil
}

func (m *mockMovementRepo) ListByMedicine(_ context.Context, medicineID uuid.UUID, limit, offset int) ([]*StockMovement, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*StockMovement
	for _, mv := range m.moves {
		if mv.MedicineID == medicineID {
			mv := mv
			result = append(result, &mv)
		}
	}
	return result, len(result), nil
}

func (m *mockMovementRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.moves)
}

// -- Collaborators --

type fakeRecords struct {
	mu      sync.Mutex
	records map[uuid.UUID]*medrecord.MedicalRecord
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
	cp := *rec
	return &cp, nil
}

func (r *fakeRecords) add(billed bool) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &medrecord.MedicalRecord{ID: uuid.New(), PatientID: uuid.New(), DoctorID: uuid.New(), Diagnosis: "Tonsillitis"}
	if billed {
		at := time.Now()
		rec.BilledAt = &at
	}
	r.records[rec.ID] = rec
	return rec.ID
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

type fixture struct {
	svc           *Service
	medicines     *mockMedicineRepo
	prescriptions *mockPrescriptionRepo
	movements     *mockMovementRepo
	records       *fakeRecords
	tx            *dbtest.Transactor
	events        *recordingPublisher
	clock         time.Time
}

func newFixture() *fixture {
	f := &fixture{
		medicines:     newMockMedicineRepo(),
		prescriptions: newMockPrescriptionRepo(),
		movements:     &mockMovementRepo{},
		records:       &fakeRecords{records: make(map[uuid.UUID]*medrecord.MedicalRecord)},
		events:        &recordingPublisher{},
		clock:         time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.tx = dbtest.NewTransactor(f.medicines, f.prescriptions, f.movements)
	f.svc = NewService(f.medicines, f.prescriptions, f.movements, f.records, f.tx)
	f.svc.SetEventPublisher(f.events)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) medicine(name string, stock int, price string) *Medicine {
	m := &Medicine{Name: name, Type: "Tablet", StockQuantity: stock, UnitPrice: decimal.RequireFromString(price)}
	if err := f.svc.CreateMedicine(context.Background(), m); err != nil {
		panic(err)
	}
	return m
}

// prescribe creates a single-line prescription on a fresh record.
func (f *fixture) prescribe(medicineID uuid.UUID, qty int) *PrescriptionItem {
	items, err := f.svc.CreatePrescription(context.Background(), f.records.add(false),
		[]PrescriptionLine{{MedicineID: medicineID, Quantity: qty}})
	if err != nil {
		panic(err)
	}
	return items[0]
}
