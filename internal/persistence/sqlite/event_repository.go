package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/room-tracker/internal/persistence"
)

// EventRepository implements persistence.EventRepository using SQLite.
type EventRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(pool *ConnectionPool) *EventRepository {
	return &EventRepository{pool: pool, mapper: NewErrorMapper()}
}

const eventColumns = `id, room_id, author_id, name, description, start_date, end_date,
	availability, is_all_day, duration, is_recurring, recurrence, occurrences,
	next_occurrence, deleted, deleted_at, created_at, updated_at`

func eventArgs(event persistence.Event) ([]any, error) {
	occurrences := event.Occurrences
	if occurrences == nil {
		occurrences = map[string]bool{}
	}
	encoded, err := json.Marshal(occurrences)
	if err != nil {
		return nil, fmt.Errorf("failed to encode occurrences: %w", err)
	}
	return []any{
		event.ID,
		event.RoomID,
		nullableString(event.AuthorID),
		event.Name,
		event.Description,
		formatTime(event.StartDate),
		formatNullableTime(event.EndDate),
		string(event.Availability),
		boolInt(event.IsAllDay),
		event.Duration,
		boolInt(event.IsRecurring),
		event.Recurrence,
		string(encoded),
		formatNullableTime(event.NextOccurrence),
		boolInt(event.Deleted),
		formatNullableTime(event.DeletedAt),
		formatTime(event.CreatedAt),
		formatTime(event.UpdatedAt),
	}, nil
}

// CreateEvent inserts a new event.
func (r *EventRepository) CreateEvent(ctx context.Context, event persistence.Event) error {
	args, err := eventArgs(event)
	if err != nil {
		return err
	}
	query := `INSERT INTO events (` + eventColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.pool.conn(ctx).ExecContext(ctx, query, args...)
	return r.mapper.MapError(err)
}

// UpdateEvent replaces every mutable column of an existing event.
func (r *EventRepository) UpdateEvent(ctx context.Context, event persistence.Event) error {
	args, err := eventArgs(event)
	if err != nil {
		return err
	}
	const query = `
		UPDATE events SET
			room_id = ?, author_id = ?, name = ?, description = ?, start_date = ?, end_date = ?,
			availability = ?, is_all_day = ?, duration = ?, is_recurring = ?, recurrence = ?,
			occurrences = ?, next_occurrence = ?, deleted = ?, deleted_at = ?, created_at = ?,
			updated_at = ?
		WHERE id = ?`

	// args[0] is the id; it moves to the WHERE clause.
	updateArgs := append(append(make([]any, 0, len(args)), args[1:]...), args[0])
	result, err := r.pool.conn(ctx).ExecContext(ctx, query, updateArgs...)
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

// GetEvent retrieves an event by ID, including soft-deleted ones.
func (r *EventRepository) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	event, err := scanEvent(r.pool.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Event{}, r.mapper.MapError(err)
	}
	return event, nil
}

// ListEvents returns events matching filter ordered by start date.
func (r *EventRepository) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]persistence.Event, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted = 0")
	}
	if filter.RoomID != "" {
		clauses = append(clauses, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.AuthorID != "" {
		clauses = append(clauses, "author_id = ?")
		args = append(args, filter.AuthorID)
	}
	if len(filter.Availabilities) > 0 {
		placeholders := make([]string, len(filter.Availabilities))
		for i, a := range filter.Availabilities {
			placeholders[i] = "?"
			args = append(args, string(a))
		}
		clauses = append(clauses, "availability IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.OpenOnly {
		clauses = append(clauses, "end_date IS NULL")
	}
	if filter.RecurringOnly {
		clauses = append(clauses, "is_recurring = 1")
	}
	if filter.ExcludeID != "" {
		clauses = append(clauses, "id <> ?")
		args = append(args, filter.ExcludeID)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY start_date ASC, id ASC"

	rows, err := r.pool.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var events []persistence.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return events, nil
}

func scanEvent(row rowScanner) (persistence.Event, error) {
	var (
		event                             persistence.Event
		authorID, endDate, nextOccurrence sql.NullString
		deletedAt                         sql.NullString
		startDate, createdAt, updatedAt   string
		availability, occurrences         string
		isAllDay, isRecurring, deleted    int
	)
	err := row.Scan(
		&event.ID, &event.RoomID, &authorID, &event.Name, &event.Description,
		&startDate, &endDate, &availability, &isAllDay, &event.Duration,
		&isRecurring, &event.Recurrence, &occurrences, &nextOccurrence,
		&deleted, &deletedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return persistence.Event{}, err
	}

	event.AuthorID = stringPtr(authorID)
	event.Availability = persistence.Availability(availability)
	event.IsAllDay = isAllDay != 0
	event.IsRecurring = isRecurring != 0
	event.Deleted = deleted != 0

	if err := json.Unmarshal([]byte(occurrences), &event.Occurrences); err != nil {
		return persistence.Event{}, fmt.Errorf("failed to decode occurrences: %w", err)
	}
	if event.StartDate, err = parseTime("start_date", startDate); err != nil {
		return persistence.Event{}, err
	}
	if event.EndDate, err = parseNullableTime("end_date", endDate); err != nil {
		return persistence.Event{}, err
	}
	if event.NextOccurrence, err = parseNullableTime("next_occurrence", nextOccurrence); err != nil {
		return persistence.Event{}, err
	}
	if event.DeletedAt, err = parseNullableTime("deleted_at", deletedAt); err != nil {
		return persistence.Event{}, err
	}
	if event.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Event{}, err
	}
	if event.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return persistence.Event{}, err
	}
	return event, nil
}
