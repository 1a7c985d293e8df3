package application

import (
	"context"
	"fmt"

	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/persistence"
)

// Subject kinds stored with each change.
const (
	SubjectKindEvent  = "event"
	SubjectKindReport = "report"
)

// EventSubject exposes an event to the change log. The occurrence map is
// derived state and stays out of snapshots.
type EventSubject struct {
	Event persistence.Event
}

func (s *EventSubject) SubjectKind() string { return SubjectKindEvent }
func (s *EventSubject) SubjectID() string   { return s.Event.ID }

func (s *EventSubject) Snapshot() changelog.Fields {
	e := s.Event
	return changelog.Fields{
		"room_id":      e.RoomID,
		"author_id":    optionalString(e.AuthorID),
		"name":         e.Name,
		"description":  e.Description,
		"start_date":   changelog.TimeValue(&e.StartDate),
		"end_date":     changelog.TimeValue(e.EndDate),
		"availability": string(e.Availability),
		"is_all_day":   e.IsAllDay,
		"duration":     e.Duration,
		"is_recurring": e.IsRecurring,
		"recurrence":   e.Recurrence,
		"deleted":      e.Deleted,
	}
}

func (s *EventSubject) Apply(fields changelog.Fields) error {
	e := &s.Event
	if fields.Has("name") {
		e.Name = fields.String("name")
	}
	if fields.Has("description") {
		e.Description = fields.String("description")
	}
	if fields.Has("start_date") {
		start, err := fields.Time("start_date")
		if err != nil {
			return err
		}
		if start == nil {
			return fmt.Errorf("event %s: start_date cannot be null", e.ID)
		}
		e.StartDate = *start
	}
	if fields.Has("end_date") {
		end, err := fields.Time("end_date")
		if err != nil {
			return err
		}
		e.EndDate = end
	}
	if fields.Has("availability") {
		e.Availability = persistence.Availability(fields.String("availability"))
	}
	if fields.Has("is_all_day") {
		e.IsAllDay = fields.Bool("is_all_day")
	}
	if fields.Has("duration") {
		e.Duration = fields.Int("duration")
	}
	if fields.Has("is_recurring") {
		e.IsRecurring = fields.Bool("is_recurring")
	}
	if fields.Has("recurrence") {
		e.Recurrence = fields.String("recurrence")
	}
	if fields.Has("deleted") {
		e.Deleted = fields.Bool("deleted")
		if !e.Deleted {
			e.DeletedAt = nil
		}
	}
	return nil
}

// ReportSubject exposes a report to the change log.
type ReportSubject struct {
	Report persistence.Report
}

func (s *ReportSubject) SubjectKind() string { return SubjectKindReport }
func (s *ReportSubject) SubjectID() string   { return s.Report.ID }

func (s *ReportSubject) Snapshot() changelog.Fields {
	r := s.Report
	users := r.ReportedUsers
	if users == nil {
		users = []string{}
	}
	return changelog.Fields{
		"room_id":        r.RoomID,
		"author_id":      optionalString(r.AuthorID),
		"name":           r.Name,
		"description":    r.Description,
		"date":           changelog.TimeValue(&r.Date),
		"availability":   string(r.Availability),
		"reported_users": append([]string(nil), users...),
	}
}

func (s *ReportSubject) Apply(fields changelog.Fields) error {
	r := &s.Report
	if fields.Has("name") {
		r.Name = fields.String("name")
	}
	if fields.Has("description") {
		r.Description = fields.String("description")
	}
	if fields.Has("date") {
		date, err := fields.Time("date")
		if err != nil {
			return err
		}
		if date != nil {
			r.Date = *date
		}
	}
	if fields.Has("availability") {
		r.Availability = persistence.Availability(fields.String("availability"))
	}
	if fields.Has("reported_users") {
		r.ReportedUsers = fields.Strings("reported_users")
	}
	return nil
}

// NewSubjectRegistry resolves events and reports from store, soft-deleted
// events included.
func NewSubjectRegistry(store persistence.Store) *changelog.Registry {
	registry := changelog.NewRegistry()
	registry.Register(SubjectKindEvent, func(ctx context.Context, id string) (changelog.Restorable, error) {
		event, err := store.GetEvent(ctx, id)
		if err != nil {
			return nil, mapRepoError(err)
		}
		return &EventSubject{Event: event}, nil
	})
	registry.Register(SubjectKindReport, func(ctx context.Context, id string) (changelog.Restorable, error) {
		report, err := store.GetReport(ctx, id)
		if err != nil {
			return nil, mapRepoError(err)
		}
		return &ReportSubject{Report: report}, nil
	})
	return registry
}

func optionalString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
