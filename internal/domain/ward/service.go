package ward

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/websocket"
)

// OccupancyCache is the read-through store for Occupancy. cache.JSONCache
// satisfies it.
type OccupancyCache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Put(ctx context.Context, key string, v interface{}) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Service is the room directory and the room assignment ledger.
type Service struct {
	rooms       RoomRepository
	assignments AssignmentRepository
	patients    identity.Directory
	tx          db.Transactor
	cache       OccupancyCache
	events      websocket.EventPublisher
	now         func() time.Time
}

func NewService(rooms RoomRepository, assignments AssignmentRepository, patients identity.Directory, tx db.Transactor) *Service {
	return &Service{
		rooms:       rooms,
		assignments: assignments,
		patients:    patients,
		tx:          tx,
		now:         time.Now,
	}
}

// SetOccupancyCache attaches an optional occupancy cache.
func (s *Service) SetOccupancyCache(c OccupancyCache) { s.cache = c }

// SetEventPublisher attaches an optional feed for committed mutations.
func (s *Service) SetEventPublisher(p websocket.EventPublisher) { s.events = p }

// -- Rooms --

func (s *Service) CreateRoom(ctx context.Context, r *Room) error {
	r.RoomNumber = strings.TrimSpace(r.RoomNumber)
	if r.RoomNumber == "" {
		return apperr.Validation("room_number is required")
	}
	if r.Capacity <= 0 {
		return apperr.Validation("capacity must be a positive integer")
	}
	if r.RoomType == "" {
		r.RoomType = "General"
	}
	if r.Status == "" {
		r.Status = RoomAvailable
	}
	if !validRoomStatuses[r.Status] {
		return apperr.Validation(fmt.Sprintf("invalid room status: %s", r.Status))
	}
	if r.Status == RoomOccupied {
		return apperr.Validation("a new room cannot start Occupied")
	}
	return s.rooms.Create(ctx, r)
}

func (s *Service) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	return s.rooms.GetByID(ctx, id)
}

func (s *Service) ListRooms(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return s.rooms.List(ctx, limit, offset)
}

// SetRoomStatus places an empty room on or off a manual hold. Occupied is
// never set by hand.
func (s *Service) SetRoomStatus(ctx context.Context, caps auth.Capabilities, roomID uuid.UUID, status RoomStatus) (*Room, error) {
	if !caps.SetRoomStatus {
		return nil, apperr.Forbidden("changing room status requires the set_room_status capability")
	}
	if !validRoomStatuses[status] {
		return nil, apperr.Validation(fmt.Sprintf("invalid room status: %s", status))
	}
	if status == RoomOccupied {
		return nil, apperr.InvalidTransition("Occupied is derived from open assignments and cannot be set")
	}

	var room *Room
	var previous RoomStatus
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		room, err = s.rooms.GetForUpdate(ctx, roomID)
		if err != nil {
			return err
		}
		open, err := s.assignments.CountOpenForRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if open > 0 {
			return apperr.InvalidTransition(fmt.Sprintf(
				"room %s has %d open assignment(s); discharge or transfer them first", room.RoomNumber, open))
		}
		previous = room.Status
		if previous == status {
			return nil
		}
		if err := s.rooms.UpdateStatus(ctx, roomID, status); err != nil {
			return err
		}
		room.Status = status
		room.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if previous != status {
		s.invalidate(ctx, roomID)
		s.publish(ctx, websocket.EventRoomStatusChanged, "Room", roomID, room, roomID)
	}
	return room, nil
}

// Occupancy reports how many beds of a room are taken.
func (s *Service) Occupancy(ctx context.Context, roomID uuid.UUID) (*Occupancy, error) {
	key := roomID.String()
	if s.cache != nil {
		var cached Occupancy
		hit, err := s.cache.Get(ctx, key, &cached)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", key).Msg("occupancy cache read failed")
		}
		if hit {
			return &cached, nil
		}
	}

	occ, err := s.loadOccupancy(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if s.cache == nil {
		return occ, nil
	}
	if err := s.cache.Put(ctx, key, occ); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room_id", key).Msg("occupancy cache write failed")
		return occ, nil
	}

	// A ledger change that committed and invalidated between the read and
	// the Put would leave a stale entry until the TTL. Read again and drop
	// the entry if anything moved; later invalidations land after the Put.
	fresh, err := s.loadOccupancy(ctx, roomID)
	if err != nil || *fresh != *occ {
		s.invalidate(ctx, roomID)
	}
	if err == nil {
		return fresh, nil
	}
	return occ, nil
}

func (s *Service) loadOccupancy(ctx context.Context, roomID uuid.UUID) (*Occupancy, error) {
	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	open, err := s.assignments.CountOpenForRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	occ := &Occupancy{
		RoomID:     room.ID,
		RoomNumber: room.RoomNumber,
		Capacity:   room.Capacity,
		Open:       open,
		Free:       room.Capacity - open,
		Status:     room.Status,
	}
	if occ.Free < 0 {
		occ.Free = 0
	}
	return occ, nil
}

// -- Assignments --

// Admit opens an assignment for the occupant in the room.
func (s *Service) Admit(ctx context.Context, req AdmitRequest) (*RoomAssignment, error) {
	if req.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id is required")
	}
	if req.RoomID == uuid.Nil {
		return nil, apperr.Validation("room_id is required")
	}
	if req.AssignmentType == "" {
		req.AssignmentType = AssignmentPatient
	}
	if req.AssignmentType != AssignmentPatient && req.AssignmentType != AssignmentStaff {
		return nil, apperr.Validation(fmt.Sprintf("invalid assignment_type: %s", req.AssignmentType))
	}
	if req.AssignmentType == AssignmentPatient {
		if _, err := s.patients.GetPatient(ctx, req.PatientID); err != nil {
			return nil, err
		}
	}
	start := s.now()
	if req.StartDate != nil {
		start = *req.StartDate
	}

	a := &RoomAssignment{
		RoomID:         req.RoomID,
		PatientID:      req.PatientID,
		AssignmentType: req.AssignmentType,
		EpisodeID:      uuid.New(),
		StartDate:      start,
		Notes:          req.Notes,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		room, err := s.rooms.GetForUpdate(ctx, req.RoomID)
		if err != nil {
			return err
		}
		if room.Status.OnHold() {
			return apperr.InvalidTransition(fmt.Sprintf("room %s is under %s", room.RoomNumber, strings.ToLower(string(room.Status))))
		}
		if err := s.ensureNotAssigned(ctx, req.PatientID); err != nil {
			return err
		}
		open, err := s.assignments.CountOpenForRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		if open >= room.Capacity {
			return apperr.CapacityExceeded(room.RoomNumber, room.Capacity)
		}
		if err := s.assignments.Create(ctx, a); err != nil {
			return err
		}
		return s.syncRoomStatus(ctx, room, open+1)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, a.RoomID)
	s.publish(ctx, websocket.EventAssignmentAdmitted, "RoomAssignment", a.ID, a, a.RoomID)
	return a, nil
}

// Transfer closes the open assignment and opens one in newRoomID for the same
// occupant and episode, as one unit of work.
func (s *Service) Transfer(ctx context.Context, assignmentID, newRoomID uuid.UUID, notes *string) (*TransferResult, error) {
	if newRoomID == uuid.Nil {
		return nil, apperr.Validation("new_room_id is required")
	}
	current, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !current.IsOpen() {
		return nil, apperr.AlreadyDischarged()
	}
	if current.RoomID == newRoomID {
		return nil, apperr.Validation("assignment is already in that room")
	}

	var result TransferResult
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		rooms, err := s.lockRooms(ctx, current.RoomID, newRoomID)
		if err != nil {
			return err
		}
		from, to := rooms[current.RoomID], rooms[newRoomID]

		old, err := s.assignments.GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if !old.IsOpen() {
			return apperr.AlreadyDischarged()
		}

		if to.Status.OnHold() {
			return apperr.InvalidTransition(fmt.Sprintf("room %s is under %s", to.RoomNumber, strings.ToLower(string(to.Status))))
		}
		toOpen, err := s.assignments.CountOpenForRoom(ctx, to.ID)
		if err != nil {
			return err
		}
		if toOpen >= to.Capacity {
			return apperr.CapacityExceeded(to.RoomNumber, to.Capacity)
		}

		moved := s.now()
		if moved.Before(old.StartDate) {
			moved = old.StartDate
		}
		if err := s.assignments.Close(ctx, old.ID, moved); err != nil {
			return err
		}
		old.EndDate = &moved

		prev := old.ID
		opened := &RoomAssignment{
			RoomID:               to.ID,
			PatientID:            old.PatientID,
			AssignmentType:       old.AssignmentType,
			EpisodeID:            old.EpisodeID,
			PreviousAssignmentID: &prev,
			StartDate:            moved,
			Notes:                notes,
		}
		if err := s.assignments.Create(ctx, opened); err != nil {
			return err
		}

		fromOpen, err := s.assignments.CountOpenForRoom(ctx, from.ID)
		if err != nil {
			return err
		}
		if err := s.syncRoomStatus(ctx, from, fromOpen); err != nil {
			return err
		}
		if err := s.syncRoomStatus(ctx, to, toOpen+1); err != nil {
			return err
		}
		result = TransferResult{Closed: old, Opened: opened}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, current.RoomID, newRoomID)
	s.publish(ctx, websocket.EventAssignmentTransferred, "RoomAssignment", result.Opened.ID, result,
		current.RoomID, newRoomID)
	return &result, nil
}

// Discharge closes an open assignment at endDate, or now when endDate is nil.
func (s *Service) Discharge(ctx context.Context, assignmentID uuid.UUID, endDate *time.Time) (*RoomAssignment, error) {
	current, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !current.IsOpen() {
		return nil, apperr.AlreadyDischarged()
	}

	var a *RoomAssignment
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		room, err := s.rooms.GetForUpdate(ctx, current.RoomID)
		if err != nil {
			return err
		}
		a, err = s.assignments.GetForUpdate(ctx, assignmentID)
		if err != nil {
			return err
		}
		if !a.IsOpen() {
			return apperr.AlreadyDischarged()
		}
		end := s.now()
		if endDate != nil {
			end = *endDate
		}
		if end.Before(a.StartDate) {
			return apperr.Validation("end_date must not precede start_date")
		}
		if err := s.assignments.Close(ctx, a.ID, end); err != nil {
			return err
		}
		a.EndDate = &end

		open, err := s.assignments.CountOpenForRoom(ctx, room.ID)
		if err != nil {
			return err
		}
		return s.syncRoomStatus(ctx, room, open)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, a.RoomID)
	s.publish(ctx, websocket.EventAssignmentDischarged, "RoomAssignment", a.ID, a, a.RoomID)
	return a, nil
}

func (s *Service) GetAssignment(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return s.assignments.GetByID(ctx, id)
}

func (s *Service) GetOpenAssignmentsForRoom(ctx context.Context, roomID uuid.UUID) ([]*RoomAssignment, error) {
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.assignments.ListOpenForRoom(ctx, roomID)
}

// GetOpenAssignmentForPatient returns a not_found error when the patient is
// not currently in a bed.
func (s *Service) GetOpenAssignmentForPatient(ctx context.Context, patientID uuid.UUID) (*RoomAssignment, error) {
	a, err := s.assignments.GetOpenForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, apperr.NotFound("open assignment")
	}
	return a, nil
}

func (s *Service) ListAssignmentsForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return s.assignments.ListForRoom(ctx, roomID, limit, offset)
}

func (s *Service) ListAssignmentsForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return s.assignments.ListForPatient(ctx, patientID, limit, offset)
}

// ensureNotAssigned fails when the occupant already holds an open assignment.
func (s *Service) ensureNotAssigned(ctx context.Context, patientID uuid.UUID) error {
	existing, err := s.assignments.GetOpenForPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	room, err := s.rooms.GetByID(ctx, existing.RoomID)
	if err != nil {
		return apperr.AlreadyAssigned("")
	}
	return apperr.AlreadyAssigned(room.RoomNumber)
}

// lockRooms row-locks the given rooms in UUID order so that two transfers
// between the same pair of rooms cannot deadlock.
func (s *Service) lockRooms(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*Room, error) {
	ordered := append([]uuid.UUID(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i][:], ordered[j][:]) < 0
	})
	rooms := make(map[uuid.UUID]*Room, len(ordered))
	for _, id := range ordered {
		room, err := s.rooms.GetForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		rooms[id] = room
	}
	return rooms, nil
}

func (s *Service) syncRoomStatus(ctx context.Context, room *Room, open int) error {
	next := derivedStatus(room.Status, open)
	if next == room.Status {
		return nil
	}
	if err := s.rooms.UpdateStatus(ctx, room.ID, next); err != nil {
		return err
	}
	room.Status = next
	return nil
}

func (s *Service) invalidate(ctx context.Context, roomIDs ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	keys := make([]string, len(roomIDs))
	for i, id := range roomIDs {
		keys[i] = id.String()
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Strs("room_ids", keys).Msg("occupancy cache invalidation failed")
	}
}

func (s *Service) publish(ctx context.Context, eventType, resourceType string, id uuid.UUID, data interface{}, roomIDs ...uuid.UUID) {
	if s.events == nil {
		return
	}
	topics := []string{websocket.TopicWard}
	for _, r := range roomIDs {
		topics = append(topics, websocket.RoomTopic(r.String()))
	}
	evt := websocket.NewEvent(eventType, resourceType, id.String(), data, topics...)
	if err := s.events.Publish(ctx, evt); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("event", eventType).Msg("event publish failed")
	}
}
