package ward

import (
	"time"

	"github.com/google/uuid"
)

type RoomStatus string

const (
	RoomAvailable   RoomStatus = "Available"
	RoomOccupied    RoomStatus = "Occupied"
	RoomMaintenance RoomStatus = "Maintenance"
	RoomCleaning    RoomStatus = "Cleaning"
)

var validRoomStatuses = map[RoomStatus]bool{
	RoomAvailable: true, RoomOccupied: true, RoomMaintenance: true, RoomCleaning: true,
}

// OnHold reports whether the room has been taken out of service by hand.
func (s RoomStatus) OnHold() bool {
	return s == RoomMaintenance || s == RoomCleaning
}

type AssignmentType string

const (
	AssignmentPatient AssignmentType = "Patient"
	AssignmentStaff   AssignmentType = "Staff"
)

// Room maps to the room table.
type Room struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	RoomNumber string     `db:"room_number" json:"room_number"`
	RoomType   string     `db:"room_type" json:"room_type"`
	Capacity   int        `db:"capacity" json:"capacity"`
	Status     RoomStatus `db:"status" json:"status"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// RoomAssignment maps to the room_assignment table. A row with a nil EndDate
// is an open assignment. Closed rows are history and are never deleted.
type RoomAssignment struct {
	ID                   uuid.UUID      `db:"id" json:"id"`
	RoomID               uuid.UUID      `db:"room_id" json:"room_id"`
	PatientID            uuid.UUID      `db:"patient_id" json:"patient_id"`
	AssignmentType       AssignmentType `db:"assignment_type" json:"assignment_type"`
	EpisodeID            uuid.UUID      `db:"episode_id" json:"episode_id"`
	PreviousAssignmentID *uuid.UUID     `db:"previous_assignment_id" json:"previous_assignment_id,omitempty"`
	StartDate            time.Time      `db:"start_date" json:"start_date"`
	EndDate              *time.Time     `db:"end_date" json:"end_date,omitempty"`
	Notes                *string        `db:"notes" json:"notes,omitempty"`
	CreatedAt            time.Time      `db:"created_at" json:"created_at"`
}

func (a *RoomAssignment) IsOpen() bool {
	return a.EndDate == nil
}

// Occupancy is the cached read model behind GET /rooms/:id/occupancy.
type Occupancy struct {
	RoomID     uuid.UUID  `json:"room_id"`
	RoomNumber string     `json:"room_number"`
	Capacity   int        `json:"capacity"`
	Open       int        `json:"open"`
	Free       int        `json:"free"`
	Status     RoomStatus `json:"status"`
}

// TransferResult holds both sides of a transfer.
type TransferResult struct {
	Closed *RoomAssignment `json:"closed"`
	Opened *RoomAssignment `json:"opened"`
}

type AdmitRequest struct {
	PatientID      uuid.UUID      `json:"patient_id"`
	RoomID         uuid.UUID      `json:"room_id"`
	StartDate      *time.Time     `json:"start_date,omitempty"`
	AssignmentType AssignmentType `json:"assignment_type,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
}

// derivedStatus returns the status a room must carry given its number of open
// assignments. Manual holds survive only while the room is empty.
func derivedStatus(current RoomStatus, open int) RoomStatus {
	if open > 0 {
		return RoomOccupied
	}
	if current.OnHold() {
		return current
	}
	return RoomAvailable
}
