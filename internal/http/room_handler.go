package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/persistence"
)

type roomService interface {
	CreateRoom(ctx context.Context, params application.CreateRoomParams) (application.RoomDetails, error)
	GetRoom(ctx context.Context, roomID string) (application.RoomDetails, error)
	ListRooms(ctx context.Context) ([]application.RoomDetails, error)
	ListEvents(ctx context.Context, roomID string) ([]persistence.Event, error)
	ListReports(ctx context.Context, roomID string) ([]persistence.Report, error)
}

type availabilityService interface {
	AvailabilityAt(ctx context.Context, roomID string, at time.Time) (persistence.Availability, error)
}

type RoomHandler struct {
	rooms        roomService
	availability availabilityService
	responder    responder
	logger       *slog.Logger
}

func NewRoomHandler(rooms roomService, availability availabilityService, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{rooms: rooms, availability: availability, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "RoomHandler", operation, attrs...)
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	details, err := h.rooms.CreateRoom(r.Context(), application.CreateRoomParams{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Create", "room_id", details.Room.ID).DebugContext(r.Context(), "room created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, roomResponse{Room: toRoomDTO(details)})
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.rooms.ListRooms(r.Context())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]roomDTO, 0, len(rooms))
	for _, details := range rooms {
		out = append(out, toRoomDTO(details))
	}
	h.log(r.Context(), "List", "result_count", len(out)).DebugContext(r.Context(), "rooms listed")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listRoomsResponse{Rooms: out})
}

func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	details, err := h.rooms.GetRoom(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, roomResponse{Room: toRoomDTO(details)})
}

// Availability resolves the room at ?at=, or now when absent.
func (h *RoomHandler) Availability(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("id")

	var at time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidTime)
			return
		}
		at = parsed
	}

	availability, err := h.availability.AvailabilityAt(r.Context(), roomID, at)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := availabilityResponse{RoomID: roomID, Availability: string(availability)}
	if !at.IsZero() {
		resp.At = formatTime(at)
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *RoomHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.rooms.ListEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, toEventDTO(event))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listEventsResponse{Events: out})
}

func (h *RoomHandler) Reports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.rooms.ListReports(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	out := make([]reportDTO, 0, len(reports))
	for _, report := range reports {
		out = append(out, toReportDTO(report))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listReportsResponse{Reports: out})
}

type roomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type availabilityResponse struct {
	RoomID       string `json:"room_id"`
	At           string `json:"at,omitempty"`
	Availability string `json:"availability"`
}

type roomDTO struct {
	ID           string `json:"id"`
	EventRoomID  string `json:"event_room_id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Availability string `json:"availability"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func toRoomDTO(details application.RoomDetails) roomDTO {
	return roomDTO{
		ID:           details.Room.ID,
		EventRoomID:  details.EventRoom.ID,
		Name:         details.Room.Name,
		Description:  details.Room.Description,
		Availability: string(details.EventRoom.Availability),
		CreatedAt:    formatTime(details.Room.CreatedAt),
		UpdatedAt:    formatTime(details.Room.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
