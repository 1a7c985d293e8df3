package persistence

import (
	"context"
	"time"
)

// Transactor runs fn inside a storage transaction carried by the context passed to fn.
// A call made with a context that already carries a transaction joins it.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// RoomRepository exposes catalog operations for rooms and their availability projection.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)

	CreateEventRoom(ctx context.Context, room EventRoom) error
	GetEventRoom(ctx context.Context, id string) (EventRoom, error)
	GetEventRoomByRoom(ctx context.Context, roomID string) (EventRoom, error)
	UpdateEventRoomAvailability(ctx context.Context, id string, availability Availability, at time.Time) error
}

// EventFilter narrows event queries. Zero values do not filter.
type EventFilter struct {
	RoomID         string
	AuthorID       string
	Availabilities []Availability
	OpenOnly       bool
	RecurringOnly  bool
	IncludeDeleted bool
	ExcludeID      string
}

// EventRepository stores occupations and unavailability periods.
type EventRepository interface {
	CreateEvent(ctx context.Context, event Event) error
	UpdateEvent(ctx context.Context, event Event) error
	// GetEvent returns soft-deleted events too; callers check Deleted.
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
}

// ReportRepository stores append-only room reports.
type ReportRepository interface {
	CreateReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, id string) (Report, error)
	ListReports(ctx context.Context, roomID string) ([]Report, error)
}

// ChangeRepository stores the audit log.
type ChangeRepository interface {
	// AppendChange persists the change and returns it with Seq assigned.
	AppendChange(ctx context.Context, change Change) (Change, error)
	GetChange(ctx context.Context, id string) (Change, error)
	LatestChange(ctx context.Context, objectUUID string) (Change, error)
	ListChanges(ctx context.Context, objectUUID string) ([]Change, error)
}

// UserRepository stores accounts and e-mail verifications.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	CreateVerification(ctx context.Context, verification EmailVerification) error
	LatestVerification(ctx context.Context, email string) (EmailVerification, error)
	UpdateVerification(ctx context.Context, verification EmailVerification) error
}

// Store aggregates every repository a backend provides.
type Store interface {
	Transactor
	RoomRepository
	EventRepository
	ReportRepository
	ChangeRepository
	UserRepository
	Close() error
}
