package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/room-tracker/internal/persistence"
)

// ReportRepository implements persistence.ReportRepository using SQLite.
type ReportRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewReportRepository creates a new SQLite report repository.
func NewReportRepository(pool *ConnectionPool) *ReportRepository {
	return &ReportRepository{pool: pool, mapper: NewErrorMapper()}
}

const reportColumns = `id, room_id, author_id, date, name, description, availability, reported_users, created_at`

// CreateReport inserts a new report.
func (r *ReportRepository) CreateReport(ctx context.Context, report persistence.Report) error {
	users := report.ReportedUsers
	if users == nil {
		users = []string{}
	}
	encoded, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("failed to encode reported users: %w", err)
	}

	query := `INSERT INTO reports (` + reportColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.pool.conn(ctx).ExecContext(ctx, query,
		report.ID,
		report.RoomID,
		nullableString(report.AuthorID),
		formatTime(report.Date),
		report.Name,
		report.Description,
		string(report.Availability),
		string(encoded),
		formatTime(report.CreatedAt),
	)
	return r.mapper.MapError(err)
}

// GetReport retrieves a report by ID.
func (r *ReportRepository) GetReport(ctx context.Context, id string) (persistence.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = ?`
	report, err := scanReport(r.pool.conn(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		return persistence.Report{}, r.mapper.MapError(err)
	}
	return report, nil
}

// ListReports returns the reports of an event room ordered by date.
func (r *ReportRepository) ListReports(ctx context.Context, roomID string) ([]persistence.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE room_id = ? ORDER BY date ASC, id ASC`
	rows, err := r.pool.conn(ctx).QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var reports []persistence.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return reports, nil
}

func scanReport(row rowScanner) (persistence.Report, error) {
	var (
		report                      persistence.Report
		authorID                    sql.NullString
		date, createdAt             string
		availability, reportedUsers string
	)
	err := row.Scan(&report.ID, &report.RoomID, &authorID, &date, &report.Name,
		&report.Description, &availability, &reportedUsers, &createdAt)
	if err != nil {
		return persistence.Report{}, err
	}

	report.AuthorID = stringPtr(authorID)
	report.Availability = persistence.Availability(availability)
	if err := json.Unmarshal([]byte(reportedUsers), &report.ReportedUsers); err != nil {
		return persistence.Report{}, fmt.Errorf("failed to decode reported users: %w", err)
	}
	if report.Date, err = parseTime("date", date); err != nil {
		return persistence.Report{}, err
	}
	if report.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return persistence.Report{}, err
	}
	return report, nil
}
