package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

var (
	userCounter  uint64
	roomCounter  uint64
	eventCounter uint64
)

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user record.
type UserFixture struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(time.Duration(idx) * time.Minute)
	fixture := UserFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		Username:     fmt.Sprintf("user%03d", idx),
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUsername overrides the generated username.
func WithUsername(name string) UserOption {
	return func(f *UserFixture) {
		f.Username = name
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		Username:     f.Username,
		PasswordHash: f.PasswordHash,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// Seed stores the user.
func (f UserFixture) Seed(ctx context.Context, store persistence.UserRepository) error {
	return store.CreateUser(ctx, f.Persistence())
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a catalog room and its availability projection.
type RoomFixture struct {
	ID           string
	EventRoomID  string
	Name         string
	Description  string
	Availability persistence.Availability
	CreatedAt    time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:           fmt.Sprintf("room-%03d", idx),
		EventRoomID:  fmt.Sprintf("event-room-%03d", idx),
		Name:         fmt.Sprintf("Room %03d", idx),
		Availability: persistence.AvailabilityUnknown,
		CreatedAt:    referenceTime.Add(time.Duration(idx) * time.Hour),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room and event room IDs.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
		f.EventRoomID = "event-" + id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithRoomAvailability sets the cached availability of the event room.
func WithRoomAvailability(availability persistence.Availability) RoomOption {
	return func(f *RoomFixture) {
		f.Availability = availability
	}
}

// Persistence returns the room and its event room.
func (f RoomFixture) Persistence() (persistence.Room, persistence.EventRoom) {
	return persistence.Room{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			CreatedAt:   f.CreatedAt,
			UpdatedAt:   f.CreatedAt,
		}, persistence.EventRoom{
			ID:           f.EventRoomID,
			RoomID:       f.ID,
			Availability: f.Availability,
			UpdatedAt:    f.CreatedAt,
		}
}

// Seed stores the room and its event room.
func (f RoomFixture) Seed(ctx context.Context, store persistence.RoomRepository) error {
	room, eventRoom := f.Persistence()
	if err := store.CreateRoom(ctx, room); err != nil {
		return err
	}
	return store.CreateEventRoom(ctx, eventRoom)
}

// ----------------------------- Event fixtures -----------------------------

// EventFixture represents a stored event. It defaults to a closed one hour
// BUSY occupation starting at ReferenceTime.
type EventFixture struct {
	Event persistence.Event
}

// EventOption configures the generated event fixture.
type EventOption func(*EventFixture)

// NewEventFixture returns a deterministic event in the given event room.
func NewEventFixture(eventRoomID string, opts ...EventOption) EventFixture {
	idx := atomic.AddUint64(&eventCounter, 1)
	start := referenceTime
	end := start.Add(time.Hour)
	fixture := EventFixture{Event: persistence.Event{
		ID:           fmt.Sprintf("event-%03d", idx),
		RoomID:       eventRoomID,
		StartDate:    start,
		EndDate:      &end,
		Availability: persistence.AvailabilityBusy,
		Duration:     int64(time.Hour / time.Second),
		Occurrences:  map[string]bool{},
		CreatedAt:    start,
		UpdatedAt:    start,
	}}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithEventAuthor sets the author.
func WithEventAuthor(id string) EventOption {
	return func(f *EventFixture) {
		f.Event.AuthorID = &id
	}
}

// WithEventSpan sets start and end. A nil end leaves the event open.
func WithEventSpan(start time.Time, end *time.Time) EventOption {
	return func(f *EventFixture) {
		f.Event.StartDate = start
		f.Event.EndDate = end
		f.Event.Duration = 0
		if end != nil {
			f.Event.Duration = int64(end.Sub(start) / time.Second)
		}
	}
}

// WithEventAvailability sets the availability effect.
func WithEventAvailability(availability persistence.Availability) EventOption {
	return func(f *EventFixture) {
		f.Event.Availability = availability
	}
}

// WithEventRecurrence marks the event recurring with the given rule and
// occurrence dates.
func WithEventRecurrence(rule string, dates ...string) EventOption {
	return func(f *EventFixture) {
		f.Event.IsRecurring = true
		f.Event.Recurrence = rule
		f.Event.Occurrences = make(map[string]bool, len(dates))
		for _, d := range dates {
			f.Event.Occurrences[d] = true
		}
	}
}

// Seed stores the event.
func (f EventFixture) Seed(ctx context.Context, store persistence.EventRepository) error {
	return store.CreateEvent(ctx, f.Event)
}
