package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

// RoomService manages the room catalog and its read models.
type RoomService struct {
	store       persistence.Store
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewRoomService constructs a room service. A nil logger falls back to the
// default.
func NewRoomService(store persistence.Store, idGenerator func() string, now func() time.Time, logger *slog.Logger) *RoomService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &RoomService{store: store, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "RoomService", operation, attrs...)
}

// CreateRoom persists a room together with its availability projection, which
// starts UNKNOWN until the first resolve.
func (s *RoomService) CreateRoom(ctx context.Context, params CreateRoomParams) (details RoomDetails, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateRoom")
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to create room", err)
			return
		}
		logger.With("room_id", details.Room.ID, "event_room_id", details.EventRoom.ID).InfoContext(ctx, "room created")
	}()

	params.Name = strings.TrimSpace(params.Name)
	params.Description = strings.TrimSpace(params.Description)
	vErr := validateParams(params)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	now := s.now()
	details = RoomDetails{
		Room: persistence.Room{
			ID:          s.idGenerator(),
			Name:        params.Name,
			Description: params.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
	details.EventRoom = persistence.EventRoom{
		ID:           s.idGenerator(),
		RoomID:       details.Room.ID,
		Availability: persistence.AvailabilityUnknown,
		UpdatedAt:    now,
	}

	err = s.store.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.CreateRoom(ctx, details.Room); err != nil {
			return mapRepoError(err)
		}
		return mapRepoError(s.store.CreateEventRoom(ctx, details.EventRoom))
	})
	if err != nil {
		details = RoomDetails{}
	}
	return
}

// GetRoom returns a room and its availability projection.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (RoomDetails, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return RoomDetails{}, mapRepoError(err)
	}
	eventRoom, err := s.store.GetEventRoomByRoom(ctx, roomID)
	if err != nil {
		return RoomDetails{}, mapRepoError(err)
	}
	return RoomDetails{Room: room, EventRoom: eventRoom}, nil
}

// ListRooms returns the catalog ordered by name.
func (s *RoomService) ListRooms(ctx context.Context) (rooms []RoomDetails, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}

	logger := s.loggerWith(ctx, "ListRooms")
	defer func() {
		if err != nil {
			logFailure(ctx, logger, "failed to list rooms", err)
			return
		}
		logger.With("result_count", len(rooms)).DebugContext(ctx, "rooms listed")
	}()

	raw, err := s.store.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	rooms = make([]RoomDetails, 0, len(raw))
	for _, room := range raw {
		eventRoom, err := s.store.GetEventRoomByRoom(ctx, room.ID)
		if err != nil {
			return nil, mapRepoError(err)
		}
		rooms = append(rooms, RoomDetails{Room: room, EventRoom: eventRoom})
	}

	sort.Slice(rooms, func(i, j int) bool {
		a, b := rooms[i].Room, rooms[j].Room
		if strings.EqualFold(a.Name, b.Name) {
			return a.ID < b.ID
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return rooms, nil
}

// ListEvents returns the live events of a room ordered by start.
func (s *RoomService) ListEvents(ctx context.Context, roomID string) ([]persistence.Event, error) {
	details, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, persistence.EventFilter{RoomID: details.EventRoom.ID})
}

// ListReports returns the reports filed for a room.
func (s *RoomService) ListReports(ctx context.Context, roomID string) ([]persistence.Report, error) {
	details, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return s.store.ListReports(ctx, details.EventRoom.ID)
}
