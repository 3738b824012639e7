package ward

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type RoomRepository interface {
	Create(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	// GetForUpdate reads the room and row-locks it until the surrounding
	// transaction ends. Callers must be inside Transactor.WithinTx.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Room, error)
	List(ctx context.Context, limit, offset int) ([]*Room, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error
}

type AssignmentRepository interface {
	Create(ctx context.Context, a *RoomAssignment) error
	GetByID(ctx context.Context, id uuid.UUID) (*RoomAssignment, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*RoomAssignment, error)
	Close(ctx context.Context, id uuid.UUID, endDate time.Time) error
	CountOpenForRoom(ctx context.Context, roomID uuid.UUID) (int, error)
	ListOpenForRoom(ctx context.Context, roomID uuid.UUID) ([]*RoomAssignment, error)
	ListForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error)
	// GetOpenForPatient returns nil, nil when the patient holds no open assignment.
	GetOpenForPatient(ctx context.Context, patientID uuid.UUID) (*RoomAssignment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error)
}
