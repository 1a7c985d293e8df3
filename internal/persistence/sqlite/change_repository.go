package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/room-tracker/internal/persistence"
)

// ChangeRepository implements persistence.ChangeRepository using SQLite.
type ChangeRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewChangeRepository creates a new SQLite change repository.
func NewChangeRepository(pool *ConnectionPool) *ChangeRepository {
	return &ChangeRepository{pool: pool, mapper: NewErrorMapper()}
}

const changeColumns = `seq, id, author_id, name, type, changes, digest, object_uuid,
	subject_kind, subject_id, parent_id, reverted_from, hidden, created_at`

// AppendChange inserts a change; seq comes from the AUTOINCREMENT key.
func (r *ChangeRepository) AppendChange(ctx context.Context, change persistence.Change) (persistence.Change, error) {
	const query = `
		INSERT INTO changes (id, author_id, name, type, changes, digest, object_uuid,
			subject_kind, subject_id, parent_id, reverted_from, hidden, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var revertedFrom sql.NullString
	if change.Metadata.RevertedFrom != "" {
		revertedFrom = sql.NullString{String: change.Metadata.RevertedFrom, Valid: true}
	}

	result, err := r.pool.conn(ctx).ExecContext(ctx, query,
		change.ID,
		nullableString(change.AuthorID),
		change.Name,
		change.Type,
		change.Changes,
		change.Digest,
		change.ObjectUUID,
		change.SubjectKind,
		change.SubjectID,
		nullableString(change.ParentID),
		revertedFrom,
		boolInt(change.Metadata.Hidden),
		formatTime(change.CreatedAt),
	)
	if err != nil {
		return persistence.Change{}, r.mapper.MapError(err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return persistence.Change{}, err
	}
	change.Seq = seq
	return change, nil
}

// GetChange retrieves a change by ID.
func (r *ChangeRepository) GetChange(ctx context.Context, id string) (persistence.Change, error) {
	query := `SELECT ` + changeColumns + ` FROM changes WHERE id = ?`
	change, err := scanChange(r.pool.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Change{}, r.mapper.MapError(err)
	}
	return change, nil
}

// LatestChange returns the most recently appended change for the object.
func (r *ChangeRepository) LatestChange(ctx context.Context, objectUUID string) (persistence.Change, error) {
	query := `SELECT ` + changeColumns + ` FROM changes WHERE object_uuid = ? ORDER BY seq DESC LIMIT 1`
	change, err := scanChange(r.pool.conn(ctx).QueryRowContext(ctx, query, objectUUID))
	if err != nil {
		return persistence.Change{}, r.mapper.MapError(err)
	}
	return change, nil
}

// ListChanges returns the chain of an object in insertion order. An empty
// objectUUID lists every change.
func (r *ChangeRepository) ListChanges(ctx context.Context, objectUUID string) ([]persistence.Change, error) {
	query := `SELECT ` + changeColumns + ` FROM changes`
	var args []any
	if objectUUID != "" {
		query += ` WHERE object_uuid = ?`
		args = append(args, objectUUID)
	}
	query += ` ORDER BY seq ASC`

	rows, err := r.pool.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var changes []persistence.Change
	for rows.Next() {
		change, err := scanChange(rows)
		if err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return changes, nil
}

func scanChange(row rowScanner) (persistence.Change, error) {
	var (
		change                           persistence.Change
		authorID, parentID, revertedFrom sql.NullString
		hidden                           int
		createdAt                        string
	)
	err := row.Scan(&change.Seq, &change.ID, &authorID, &change.Name, &change.Type,
		&change.Changes, &change.Digest, &change.ObjectUUID, &change.SubjectKind,
		&change.SubjectID, &parentID, &revertedFrom, &hidden, &createdAt)
	if err != nil {
		return persistence.Change{}, err
	}

	change.AuthorID = stringPtr(authorID)
	change.ParentID = stringPtr(parentID)
	change.Metadata.RevertedFrom = revertedFrom.String
	change.Metadata.Hidden = hidden != 0
	if change.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Change{}, err
	}
	return change, nil
}
