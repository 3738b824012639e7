package ward

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db/dbtest"
	"github.com/hms/hms/internal/platform/websocket"
)

// -- Mock Room Repository --

type mockRoomRepo struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]Room
}

func newMockRoomRepo() *mockRoomRepo {
	return &mockRoomRepo{rooms: make(map[uuid.UUID]Room)}
}

func (m *mockRoomRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]Room, len(m.rooms))
	for k, v := range m.rooms {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		m.rooms = saved
		m.mu.Unlock()
	}
}

func (m *mockRoomRepo) Create(_ context.Context, r *Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rooms {
		if existing.RoomNumber == r.RoomNumber {
			return apperr.Validation("room " + r.RoomNumber + " already exists")
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.rooms[r.ID] = *r
	return nil
}

func (m *mockRoomRepo) GetByID(_ context.Context, id uuid.UUID) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, apperr.NotFound("room")
	}
	return &r, nil
}

func (m *mockRoomRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Room, error) {
	if !dbtest.InTx(ctx) {
		panic("GetForUpdate outside a transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockRoomRepo) List(_ context.Context, limit, offset int) ([]*Room, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*Room
	for _, r := range m.rooms {
		r := r
		result = append(result, &r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RoomNumber < result[j].RoomNumber })
	return result, len(result), nil
}

func (m *mockRoomRepo) UpdateStatus(_ context.Context, id uuid.UUID, status RoomStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return apperr.NotFound("room")
	}
	r.Status = status
	m.rooms[id] = r
	return nil
}

func (m *mockRoomRepo) status(id uuid.UUID) RoomStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[id].Status
}

// -- Mock Assignment Repository --

type mockAssignmentRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]RoomAssignment
	// failCreate, when set, is returned by the next Create.
	failCreate error
}

func newMockAssignmentRepo() *mockAssignmentRepo {
	return &mockAssignmentRepo{items: make(map[uuid.UUID]RoomAssignment)}
}

func (m *mockAssignmentRepo) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[uuid.UUID]RoomAssignment, len(m.items))
	for k, v := range m.items {
		saved[k] = v
	}
	return func() {
		m.mu.Lock()
		m.items = saved
		m.mu.Unlock()
	}
}

func (m *mockAssignmentRepo) Create(_ context.Context, a *RoomAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failCreate; err != nil {
		m.failCreate = nil
		return err
	}
	for _, existing := range m.items {
		if existing.PatientID == a.PatientID && existing.EndDate == nil {
			return apperr.AlreadyAssigned("")
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	m.items[a.ID] = *a
	return nil
}

func (m *mockAssignmentRepo) GetByID(_ context.Context, id uuid.UUID) (*RoomAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("room assignment")
	}
	return &a, nil
}

func (m *mockAssignmentRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	if !dbtest.InTx(ctx) {
		panic("GetForUpdate outside a transaction")
	}
	return m.GetByID(ctx, id)
}

func (m *mockAssignmentRepo) Close(_ context.Context, id uuid.UUID, endDate time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.EndDate != nil {
		return apperr.AlreadyDischarged()
	}
	a.EndDate = &endDate
	m.items[id] = a
	return nil
}

func (m *mockAssignmentRepo) CountOpenForRoom(_ context.Context, roomID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.items {
		if a.RoomID == roomID && a.EndDate == nil {
			n++
		}
	}
	return n, nil
}

func (m *mockAssignmentRepo) ListOpenForRoom(_ context.Context, roomID uuid.UUID) ([]*RoomAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*RoomAssignment
	for _, a := range m.items {
		if a.RoomID == roomID && a.EndDate == nil {
			a := a
			result = append(result, &a)
		}
	}
	return result, nil
}

func (m *mockAssignmentRepo) ListForRoom(_ context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return m.filter(func(a RoomAssignment) bool { return a.RoomID == roomID })
}

func (m *mockAssignmentRepo) GetOpenForPatient(_ context.Context, patientID uuid.UUID) (*RoomAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.items {
		if a.PatientID == patientID && a.EndDate == nil {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *mockAssignmentRepo) ListForPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return m.filter(func(a RoomAssignment) bool { return a.PatientID == patientID })
}

func (m *mockAssignmentRepo) filter(keep func(RoomAssignment) bool) ([]*RoomAssignment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*RoomAssignment
	for _, a := range m.items {
		if keep(a) {
			a := a
			result = append(result, &a)
		}
	}
	return result, len(result), nil
}

func (m *mockAssignmentRepo) openCount(patientID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.items {
		if a.PatientID == patientID && a.EndDate == nil {
			n++
		}
	}
	return n
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

type fakeCache struct {
	mu          sync.Mutex
	data        map[string]Occupancy
	invalidated []string
	// beforePut runs once, just before the next Put stores its value.
	beforePut func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]Occupancy)}
}

func (c *fakeCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return false, nil
	}
	*(dst.(*Occupancy)) = v
	return true, nil
}

func (c *fakeCache) cached(key string) (Occupancy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *fakeCache) Put(_ context.Context, key string, v interface{}) error {
	c.mu.Lock()
	hook := c.beforePut
	c.beforePut = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = *(v.(*Occupancy))
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
		c.invalidated = append(c.invalidated, k)
	}
	return nil
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
	svc         *Service
	rooms       *mockRoomRepo
	assignments *mockAssignmentRepo
	dir         *fakeDirectory
	tx          *dbtest.Transactor
	cache       *fakeCache
	events      *recordingPublisher
	clock       time.Time
}

func newFixture() *fixture {
	f := &fixture{
		rooms:       newMockRoomRepo(),
		assignments: newMockAssignmentRepo(),
		dir:         &fakeDirectory{patients: make(map[uuid.UUID]*identity.Patient)},
		cache:       newFakeCache(),
		events:      &recordingPublisher{},
		clock:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.tx = dbtest.NewTransactor(f.rooms, f.assignments)
	f.svc = NewService(f.rooms, f.assignments, f.dir, f.tx)
	f.svc.SetOccupancyCache(f.cache)
	f.svc.SetEventPublisher(f.events)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) room(number string, capacity int) *Room {
	r := &Room{RoomNumber: number, RoomType: "Ward", Capacity: capacity}
	if err := f.svc.CreateRoom(context.Background(), r); err != nil {
		panic(err)
	}
	return r
}
