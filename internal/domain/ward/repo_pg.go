package ward

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

// -- Room Repository --

type roomRepoPG struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) RoomRepository {
	return &roomRepoPG{pool: pool}
}

const roomCols = `id, room_number, room_type, capacity, status, created_at, updated_at`

func (r *roomRepoPG) Create(ctx context.Context, room *Room) error {
	room.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO room (id, room_number, room_type, capacity, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		room.ID, room.RoomNumber, room.RoomType, room.Capacity, room.Status,
	).Scan(&room.CreatedAt, &room.UpdatedAt)
	if db.IsUniqueViolation(err, "room_room_number_key") {
		return apperr.Validation(fmt.Sprintf("room %s already exists", room.RoomNumber))
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (r *roomRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	return scanRoom(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roomCols+` FROM room WHERE id = $1`, id))
}

func (r *roomRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Room, error) {
	return scanRoom(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roomCols+` FROM room WHERE id = $1 FOR UPDATE`, id))
}

func (r *roomRepoPG) List(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM room`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rooms: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+roomCols+` FROM room ORDER BY room_number LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, room)
	}
	return rooms, total, rows.Err()
}

func (r *roomRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status RoomStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE room SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("room")
	}
	return nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var room Room
	err := row.Scan(&room.ID, &room.RoomNumber, &room.RoomType, &room.Capacity, &room.Status,
		&room.CreatedAt, &room.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("room")
	}
	if err != nil {
		return nil, fmt.Errorf("scan room: %w", err)
	}
	return &room, nil
}

// -- Assignment Repository --

type assignmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepo(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

const assignmentCols = `id, room_id, patient_id, assignment_type, episode_id, previous_assignment_id,
	start_date, end_date, notes, created_at`

// openPerPatientIndex is the partial unique index over open assignments.
const openPerPatientIndex = "room_assignment_one_open_per_patient"

func (r *assignmentRepoPG) Create(ctx context.Context, a *RoomAssignment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO room_assignment (id, room_id, patient_id, assignment_type, episode_id,
			previous_assignment_id, start_date, end_date, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		a.ID, a.RoomID, a.PatientID, a.AssignmentType, a.EpisodeID,
		a.PreviousAssignmentID, a.StartDate, a.EndDate, a.Notes,
	).Scan(&a.CreatedAt)
	switch {
	case db.IsUniqueViolation(err, openPerPatientIndex):
		return apperr.AlreadyAssigned("")
	case db.IsForeignKeyViolation(err):
		return apperr.NotFound("room")
	case err != nil:
		return fmt.Errorf("insert room assignment: %w", err)
	}
	return nil
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return scanAssignment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignment WHERE id = $1`, id))
}

func (r *assignmentRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*RoomAssignment, error) {
	return scanAssignment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignment WHERE id = $1 FOR UPDATE`, id))
}

func (r *assignmentRepoPG) Close(ctx context.Context, id uuid.UUID, endDate time.Time) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE room_assignment SET end_date = $2 WHERE id = $1 AND end_date IS NULL`, id, endDate)
	if err != nil {
		return fmt.Errorf("close room assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.AlreadyDischarged()
	}
	return nil
}

func (r *assignmentRepoPG) CountOpenForRoom(ctx context.Context, roomID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM room_assignment WHERE room_id = $1 AND end_date IS NULL`, roomID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open assignments: %w", err)
	}
	return n, nil
}

func (r *assignmentRepoPG) ListOpenForRoom(ctx context.Context, roomID uuid.UUID) ([]*RoomAssignment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+assignmentCols+` FROM room_assignment
		 WHERE room_id = $1 AND end_date IS NULL ORDER BY start_date`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list open assignments: %w", err)
	}
	return collectAssignments(rows)
}

func (r *assignmentRepoPG) ListForRoom(ctx context.Context, roomID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return r.listWhere(ctx, "room_id", roomID, limit, offset)
}

func (r *assignmentRepoPG) GetOpenForPatient(ctx context.Context, patientID uuid.UUID) (*RoomAssignment, error) {
	a, err := scanAssignment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+assignmentCols+` FROM room_assignment WHERE patient_id = $1 AND end_date IS NULL`, patientID))
	if apperr.IsKind(err, apperr.KindNotFound) {
		return nil, nil
	}
	return a, err
}

func (r *assignmentRepoPG) ListForPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	return r.listWhere(ctx, "patient_id", patientID, limit, offset)
}

// listWhere pages through history newest first. column is one of the two
// fixed names above, never user input.
func (r *assignmentRepoPG) listWhere(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*RoomAssignment, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM room_assignment WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+assignmentCols+` FROM room_assignment WHERE `+column+` = $1
		ORDER BY start_date DESC, created_at DESC LIMIT $2 OFFSET $3`, id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	items, err := collectAssignments(rows)
	return items, total, err
}

func collectAssignments(rows pgx.Rows) ([]*RoomAssignment, error) {
	defer rows.Close()
	var items []*RoomAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func scanAssignment(row pgx.Row) (*RoomAssignment, error) {
	var a RoomAssignment
	err := row.Scan(&a.ID, &a.RoomID, &a.PatientID, &a.AssignmentType, &a.EpisodeID, &a.PreviousAssignmentID,
		&a.StartDate, &a.EndDate, &a.Notes, &a.CreatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("room assignment")
	}
	if err != nil {
		return nil, fmt.Errorf("scan room assignment: %w", err)
	}
	return &a, nil
}
