// Package memory provides an in-process implementation of the persistence
// repositories. It backs tests and the "memory" storage driver.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

// Storage keeps every record in maps guarded by a single RWMutex.
//
// Transactions are serialized and roll back by restoring a snapshot taken when
// the outermost transaction began. Writes made outside a transaction while one is
// running are lost on rollback.
type Storage struct {
	mu sync.RWMutex
	tx sync.Mutex

	rooms         map[string]persistence.Room
	eventRooms    map[string]persistence.EventRoom
	events        map[string]persistence.Event
	reports       map[string]persistence.Report
	changes       map[string]persistence.Change
	users         map[string]persistence.User
	verifications map[string]persistence.EmailVerification
	seq           int64
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		rooms:         make(map[string]persistence.Room),
		eventRooms:    make(map[string]persistence.EventRoom),
		events:        make(map[string]persistence.Event),
		reports:       make(map[string]persistence.Report),
		changes:       make(map[string]persistence.Change),
		users:         make(map[string]persistence.User),
		verifications: make(map[string]persistence.EmailVerification),
	}
}

// Close releases resources held by the storage. No-op for the in-memory implementation.
func (s *Storage) Close() error {
	return nil
}

type txKey struct{}

// WithinTransaction implements persistence.Transactor.
func (s *Storage) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.tx.Lock()
	defer s.tx.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, struct{}{}))
}

type snapshot struct {
	rooms         map[string]persistence.Room
	eventRooms    map[string]persistence.EventRoom
	events        map[string]persistence.Event
	reports       map[string]persistence.Report
	changes       map[string]persistence.Change
	users         map[string]persistence.User
	verifications map[string]persistence.EmailVerification
	seq           int64
}

// snapshot copies the maps shallowly; stored values are never mutated in place.
func (s *Storage) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{
		rooms:         maps.Clone(s.rooms),
		eventRooms:    maps.Clone(s.eventRooms),
		events:        maps.Clone(s.events),
		reports:       maps.Clone(s.reports),
		changes:       maps.Clone(s.changes),
		users:         maps.Clone(s.users),
		verifications: maps.Clone(s.verifications),
		seq:           s.seq,
	}
}

func (s *Storage) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = snap.rooms
	s.eventRooms = snap.eventRooms
	s.events = snap.events
	s.reports = snap.reports
	s.changes = snap.changes
	s.users = snap.users
	s.verifications = snap.verifications
	s.seq = snap.seq
}

// --- RoomRepository implementation ---

// CreateRoom stores a new room.
func (s *Storage) CreateRoom(ctx context.Context, room persistence.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.rooms[room.ID]; ok {
		return fmt.Errorf("memory: room %s: %w", room.ID, persistence.ErrDuplicate)
	}
	s.rooms[room.ID] = room
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Storage) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

// ListRooms returns all rooms ordered by name.
func (s *Storage) ListRooms(ctx context.Context) ([]persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := slices.Collect(maps.Values(s.rooms))
	sort.Slice(rooms, func(i, j int) bool {
		if strings.EqualFold(rooms[i].Name, rooms[j].Name) {
			return rooms[i].ID < rooms[j].ID
		}
		return strings.ToLower(rooms[i].Name) < strings.ToLower(rooms[j].Name)
	})
	return rooms, nil
}

// CreateEventRoom stores the availability projection of a room.
func (s *Storage) CreateEventRoom(ctx context.Context, room persistence.EventRoom) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room.RoomID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	for _, existing := range s.eventRooms {
		if existing.RoomID == room.RoomID || existing.ID == room.ID {
			return fmt.Errorf("memory: event room for %s: %w", room.RoomID, persistence.ErrDuplicate)
		}
	}
	s.eventRooms[room.ID] = room
	return nil
}

// GetEventRoom retrieves an event room by its own ID.
func (s *Storage) GetEventRoom(ctx context.Context, id string) (persistence.EventRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.eventRooms[id]
	if !ok {
		return persistence.EventRoom{}, persistence.ErrNotFound
	}
	return room, nil
}

// GetEventRoomByRoom retrieves the event room attached to a catalog room.
func (s *Storage) GetEventRoomByRoom(ctx context.Context, roomID string) (persistence.EventRoom, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, room := range s.eventRooms {
		if room.RoomID == roomID {
			return room, nil
		}
	}
	return persistence.EventRoom{}, persistence.ErrNotFound
}

// UpdateEventRoomAvailability overwrites the stored availability.
func (s *Storage) UpdateEventRoomAvailability(ctx context.Context, id string, availability persistence.Availability, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.eventRooms[id]
	if !ok {
		return persistence.ErrNotFound
	}
	room.Availability = availability
	room.UpdatedAt = at
	s.eventRooms[id] = room
	return nil
}

// --- EventRepository implementation ---

// CreateEvent stores a new event.
func (s *Storage) CreateEvent(ctx context.Context, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("memory: event %s: %w", event.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.eventRooms[event.RoomID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	s.events[event.ID] = cloneEvent(event)
	return nil
}

// UpdateEvent replaces an existing event.
func (s *Storage) UpdateEvent(ctx context.Context, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; !ok {
		return persistence.ErrNotFound
	}
	if _, ok := s.eventRooms[event.RoomID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	s.events[event.ID] = cloneEvent(event)
	return nil
}

// GetEvent retrieves an event by ID, including soft-deleted ones.
func (s *Storage) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return persistence.Event{}, persistence.ErrNotFound
	}
	return cloneEvent(event), nil
}

// ListEvents returns events matching filter ordered by start date.
func (s *Storage) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]persistence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make([]persistence.Event, 0)
	for _, event := range s.events {
		if !matchesEventFilter(event, filter) {
			continue
		}
		events = append(events, cloneEvent(event))
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].StartDate.Equal(events[j].StartDate) {
			return events[i].ID < events[j].ID
		}
		return events[i].StartDate.Before(events[j].StartDate)
	})
	return events, nil
}

// --- ReportRepository implementation ---

// CreateReport stores a new report.
func (s *Storage) CreateReport(ctx context.Context, report persistence.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reports[report.ID]; ok {
		return fmt.Errorf("memory: report %s: %w", report.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.eventRooms[report.RoomID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	report.ReportedUsers = slices.Clone(report.ReportedUsers)
	s.reports[report.ID] = report
	return nil
}

// GetReport retrieves a report by ID.
func (s *Storage) GetReport(ctx context.Context, id string) (persistence.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report, ok := s.reports[id]
	if !ok {
		return persistence.Report{}, persistence.ErrNotFound
	}
	report.ReportedUsers = slices.Clone(report.ReportedUsers)
	return report, nil
}

// ListReports returns the reports of an event room ordered by date.
func (s *Storage) ListReports(ctx context.Context, roomID string) ([]persistence.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := make([]persistence.Report, 0)
	for _, report := range s.reports {
		if report.RoomID != roomID {
			continue
		}
		report.ReportedUsers = slices.Clone(report.ReportedUsers)
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Date.Before(reports[j].Date)
	})
	return reports, nil
}

// --- ChangeRepository implementation ---

// AppendChange stores a change and assigns its sequence number.
func (s *Storage) AppendChange(ctx context.Context, change persistence.Change) (persistence.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.changes[change.ID]; ok {
		return persistence.Change{}, fmt.Errorf("memory: change %s: %w", change.ID, persistence.ErrDuplicate)
	}
	s.seq++
	change.Seq = s.seq
	change.Changes = slices.Clone(change.Changes)
	s.changes[change.ID] = change
	return change, nil
}

// GetChange retrieves a change by ID.
func (s *Storage) GetChange(ctx context.Context, id string) (persistence.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	change, ok := s.changes[id]
	if !ok {
		return persistence.Change{}, persistence.ErrNotFound
	}
	return change, nil
}

// LatestChange returns the most recently appended change for the object.
func (s *Storage) LatestChange(ctx context.Context, objectUUID string) (persistence.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest persistence.Change
	found := false
	for _, change := range s.changes {
		if change.ObjectUUID != objectUUID {
			continue
		}
		if !found || change.Seq > latest.Seq {
			latest = change
			found = true
		}
	}
	if !found {
		return persistence.Change{}, persistence.ErrNotFound
	}
	return latest, nil
}

// ListChanges returns the chain of an object in insertion order.
func (s *Storage) ListChanges(ctx context.Context, objectUUID string) ([]persistence.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	changes := make([]persistence.Change, 0)
	for _, change := range s.changes {
		if objectUUID != "" && change.ObjectUUID != objectUUID {
			continue
		}
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Seq < changes[j].Seq })
	return changes, nil
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Storage) CreateUser(ctx context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("memory: user %s: %w", user.ID, persistence.ErrDuplicate)
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return fmt.Errorf("memory: email %s: %w", user.Email, persistence.ErrDuplicate)
		}
	}
	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by ID.
func (s *Storage) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

// CreateVerification stores a new e-mail verification.
func (s *Storage) CreateVerification(ctx context.Context, verification persistence.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.verifications[verification.ID]; ok {
		return fmt.Errorf("memory: verification %s: %w", verification.ID, persistence.ErrDuplicate)
	}
	s.verifications[verification.ID] = verification
	return nil
}

// LatestVerification returns the newest verification issued for the address.
func (s *Storage) LatestVerification(ctx context.Context, email string) (persistence.EmailVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest persistence.EmailVerification
	found := false
	for _, v := range s.verifications {
		if !strings.EqualFold(v.Email, email) {
			continue
		}
		if !found || v.CreatedAt.After(latest.CreatedAt) {
			latest = v
			found = true
		}
	}
	if !found {
		return persistence.EmailVerification{}, persistence.ErrNotFound
	}
	return latest, nil
}

// UpdateVerification replaces an existing verification.
func (s *Storage) UpdateVerification(ctx context.Context, verification persistence.EmailVerification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.verifications[verification.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.verifications[verification.ID] = verification
	return nil
}

// --- Helpers ---

func cloneEvent(event persistence.Event) persistence.Event {
	out := event
	if event.AuthorID != nil {
		author := *event.AuthorID
		out.AuthorID = &author
	}
	if event.EndDate != nil {
		end := *event.EndDate
		out.EndDate = &end
	}
	if event.NextOccurrence != nil {
		next := *event.NextOccurrence
		out.NextOccurrence = &next
	}
	if event.DeletedAt != nil {
		deleted := *event.DeletedAt
		out.DeletedAt = &deleted
	}
	out.Occurrences = maps.Clone(event.Occurrences)
	return out
}

func matchesEventFilter(event persistence.Event, filter persistence.EventFilter) bool {
	if event.Deleted && !filter.IncludeDeleted {
		return false
	}
	if filter.RoomID != "" && event.RoomID != filter.RoomID {
		return false
	}
	if filter.AuthorID != "" && (event.AuthorID == nil || *event.AuthorID != filter.AuthorID) {
		return false
	}
	if len(filter.Availabilities) > 0 && !slices.Contains(filter.Availabilities, event.Availability) {
		return false
	}
	if filter.OpenOnly && event.EndDate != nil {
		return false
	}
	if filter.RecurringOnly && !event.IsRecurring {
		return false
	}
	if filter.ExcludeID != "" && event.ID == filter.ExcludeID {
		return false
	}
	return true
}
