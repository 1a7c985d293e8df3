package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite.
type RoomRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewRoomRepository creates a new SQLite room repository.
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{pool: pool, mapper: NewErrorMapper()}
}

// CreateRoom inserts a new room into the database.
func (r *RoomRepository) CreateRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" {
		return persistence.ErrConstraintViolation
	}

	const query = `
		INSERT INTO rooms (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.pool.conn(ctx).ExecContext(ctx, query,
		room.ID,
		room.Name,
		room.Description,
		formatTime(room.CreatedAt),
		formatTime(room.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetRoom retrieves a room by ID from the database.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	const query = `
		SELECT id, name, description, created_at, updated_at
		FROM rooms
		WHERE id = ?`

	room, err := scanRoom(r.pool.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Room{}, r.mapper.MapError(err)
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name then ID.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	const query = `
		SELECT id, name, description, created_at, updated_at
		FROM rooms
		ORDER BY name COLLATE NOCASE ASC, id ASC`

	rows, err := r.pool.conn(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var rooms []persistence.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rooms, nil
}

func scanRoom(row rowScanner) (persistence.Room, error) {
	var (
		room                 persistence.Room
		createdAt, updatedAt string
	)
	if err := row.Scan(&room.ID, &room.Name, &room.Description, &createdAt, &updatedAt); err != nil {
		return persistence.Room{}, err
	}
	var err error
	if room.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}

// CreateEventRoom inserts the availability projection of a room.
func (r *RoomRepository) CreateEventRoom(ctx context.Context, room persistence.EventRoom) error {
	const query = `
		INSERT INTO event_rooms (id, room_id, availability, updated_at)
		VALUES (?, ?, ?, ?)`

	_, err := r.pool.conn(ctx).ExecContext(ctx, query,
		room.ID,
		room.RoomID,
		string(room.Availability),
		formatTime(room.UpdatedAt),
	)
	return r.mapper.MapError(err)
}

// GetEventRoom retrieves an event room by its own ID.
func (r *RoomRepository) GetEventRoom(ctx context.Context, id string) (persistence.EventRoom, error) {
	return r.getEventRoom(ctx, "id", id)
}

// GetEventRoomByRoom retrieves the event room attached to a catalog room.
func (r *RoomRepository) GetEventRoomByRoom(ctx context.Context, roomID string) (persistence.EventRoom, error) {
	return r.getEventRoom(ctx, "room_id", roomID)
}

func (r *RoomRepository) getEventRoom(ctx context.Context, column, value string) (persistence.EventRoom, error) {
	query := fmt.Sprintf(`
		SELECT id, room_id, availability, updated_at
		FROM event_rooms
		WHERE %s = ?`, column)

	var (
		room         persistence.EventRoom
		availability string
		updatedAt    string
	)
	err := r.pool.conn(ctx).QueryRowContext(ctx, query, value).Scan(&room.ID, &room.RoomID, &availability, &updatedAt)
	if err != nil {
		return persistence.EventRoom{}, r.mapper.MapError(err)
	}
	room.Availability = persistence.Availability(availability)
	if room.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.EventRoom{}, err
	}
	return room, nil
}

// UpdateEventRoomAvailability overwrites the stored availability.
func (r *RoomRepository) UpdateEventRoomAvailability(ctx context.Context, id string, availability persistence.Availability, at time.Time) error {
	const query = `UPDATE event_rooms SET availability = ?, updated_at = ? WHERE id = ?`

	result, err := r.pool.conn(ctx).ExecContext(ctx, query, string(availability), formatTime(at), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
