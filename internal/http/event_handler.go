package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/persistence"
)

type bookingService interface {
	OccupyRoom(ctx context.Context, params application.OccupyRoomParams) (persistence.Event, error)
	FreeRoom(ctx context.Context, params application.FreeRoomParams) (persistence.Event, error)
	ReportUnavailable(ctx context.Context, params application.ReportUnavailableParams) (application.UnavailableReport, error)
	ReportFree(ctx context.Context, params application.ReportParams) (persistence.Report, error)
	ReportBusy(ctx context.Context, params application.ReportParams) (persistence.Report, error)
	Event(ctx context.Context, id string) (persistence.Event, error)
	EditOccupyRoom(ctx context.Context, params application.EditEventParams) (persistence.Event, error)
	EditReportUnavailableEvent(ctx context.Context, params application.EditEventParams) (persistence.Event, error)
	DeleteOccupyRoom(ctx context.Context, params application.DeleteEventParams) (persistence.Event, error)
	DeleteReportUnavailableEvent(ctx context.Context, params application.DeleteEventParams) (persistence.Event, error)
}

// EventHandler serves occupations, reports and event edits. Every route
// expects RequireUser upstream.
type EventHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewEventHandler(service bookingService, logger *slog.Logger) *EventHandler {
	base := defaultLogger(logger)
	return &EventHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *EventHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return handlerLogger(ctx, h.logger, "EventHandler", operation, attrs...)
}

func (h *EventHandler) Occupy(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req occupyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	event, err := h.service.OccupyRoom(r.Context(), application.OccupyRoomParams{
		RoomID:      r.PathValue("id"),
		AuthorID:    userID,
		Start:       deref(req.Start),
		End:         req.End,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, eventResponse{Event: toEventDTO(event)})
}

func (h *EventHandler) Free(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req freeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	event, err := h.service.FreeRoom(r.Context(), application.FreeRoomParams{
		RoomID:   r.PathValue("id"),
		AuthorID: userID,
		End:      deref(req.End),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, eventResponse{Event: toEventDTO(event)})
}

func (h *EventHandler) ReportUnavailable(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())

	var req unavailableRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ReportUnavailable(r.Context(), application.ReportUnavailableParams{
		RoomID:      r.PathValue("id"),
		AuthorID:    userID,
		Start:       deref(req.Start),
		End:         req.End,
		Name:        req.Name,
		Description: req.Description,
		Recurrence:  req.Recurrence,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	var resp unavailableResponse
	if result.Event != nil {
		dto := toEventDTO(*result.Event)
		resp.Event = &dto
	}
	if result.Report != nil {
		dto := toReportDTO(*result.Report)
		resp.Report = &dto
	}
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, resp)
}

func (h *EventHandler) ReportFree(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "ReportFree", h.service.ReportFree)
}

func (h *EventHandler) ReportBusy(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, "ReportBusy", h.service.ReportBusy)
}

func (h *EventHandler) report(w http.ResponseWriter, r *http.Request, operation string, file func(context.Context, application.ReportParams) (persistence.Report, error)) {
	userID, _ := UserIDFromContext(r.Context())

	var req reportRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	report, err := file(r.Context(), application.ReportParams{
		RoomID:        r.PathValue("id"),
		AuthorID:      userID,
		Date:          deref(req.Date),
		Name:          req.Name,
		Description:   req.Description,
		ReportedUsers: req.ReportedUsers,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), operation, "report_id", report.ID).DebugContext(r.Context(), "report filed")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, reportResponse{Report: toReportDTO(report)})
}

// Edit dispatches on the stored event kind: occupations and unavailability
// periods follow different rules.
func (h *EventHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	eventID := r.PathValue("id")

	var req editRequest
	if err := decodeJSON(r, &req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	current, err := h.service.Event(r.Context(), eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	params := application.EditEventParams{
		EventID:     eventID,
		AuthorID:    userID,
		Start:       req.Start,
		End:         req.End,
		Name:        req.Name,
		Description: req.Description,
		Recurrence:  req.Recurrence,
		Force:       req.Force,
	}
	edit := h.service.EditReportUnavailableEvent
	if current.Availability == persistence.AvailabilityBusy {
		edit = h.service.EditOccupyRoom
	}

	event, err := edit(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.log(r.Context(), "Edit", "event_id", event.ID).DebugContext(r.Context(), "event edited")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, eventResponse{Event: toEventDTO(event)})
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	eventID := r.PathValue("id")

	current, err := h.service.Event(r.Context(), eventID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	remove := h.service.DeleteReportUnavailableEvent
	if current.Availability == persistence.AvailabilityBusy {
		remove = h.service.DeleteOccupyRoom
	}
	if _, err := remove(r.Context(), application.DeleteEventParams{EventID: eventID, AuthorID: userID}); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

type occupyRequest struct {
	Start       *time.Time `json:"start_date"`
	End         *time.Time `json:"end_date"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
}

type freeRequest struct {
	End *time.Time `json:"end_date"`
}

type unavailableRequest struct {
	Start       *time.Time `json:"start_date"`
	End         *time.Time `json:"end_date"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Recurrence  string     `json:"recurrence"`
}

type reportRequest struct {
	Date          *time.Time `json:"date"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	ReportedUsers []string   `json:"reported_users"`
}

type editRequest struct {
	Start       *time.Time `json:"start_date"`
	End         *time.Time `json:"end_date"`
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	Recurrence  *string    `json:"recurrence"`
	Force       bool       `json:"force"`
}

type eventResponse struct {
	Event eventDTO `json:"event"`
}

type listEventsResponse struct {
	Events []eventDTO `json:"events"`
}

type reportResponse struct {
	Report reportDTO `json:"report"`
}

type listReportsResponse struct {
	Reports []reportDTO `json:"reports"`
}

type unavailableResponse struct {
	Event  *eventDTO  `json:"event,omitempty"`
	Report *reportDTO `json:"report,omitempty"`
}

type eventDTO struct {
	ID             string          `json:"id"`
	EventRoomID    string          `json:"event_room_id"`
	AuthorID       *string         `json:"author_id,omitempty"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	StartDate      string          `json:"start_date"`
	EndDate        *string         `json:"end_date"`
	Availability   string          `json:"availability"`
	IsAllDay       bool            `json:"is_all_day"`
	IsRecurring    bool            `json:"is_recurring"`
	Recurrence     string          `json:"recurrence,omitempty"`
	Occurrences    map[string]bool `json:"occurrences,omitempty"`
	NextOccurrence *string         `json:"next_occurrence,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func toEventDTO(event persistence.Event) eventDTO {
	return eventDTO{
		ID:             event.ID,
		EventRoomID:    event.RoomID,
		AuthorID:       event.AuthorID,
		Name:           event.Name,
		Description:    event.Description,
		StartDate:      formatTime(event.StartDate),
		EndDate:        formatTimePtr(event.EndDate),
		Availability:   string(event.Availability),
		IsAllDay:       event.IsAllDay,
		IsRecurring:    event.IsRecurring,
		Recurrence:     event.Recurrence,
		Occurrences:    event.Occurrences,
		NextOccurrence: formatTimePtr(event.NextOccurrence),
		CreatedAt:      formatTime(event.CreatedAt),
		UpdatedAt:      formatTime(event.UpdatedAt),
	}
}

type reportDTO struct {
	ID            string   `json:"id"`
	EventRoomID   string   `json:"event_room_id"`
	AuthorID      *string  `json:"author_id,omitempty"`
	Date          string   `json:"date"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Availability  string   `json:"availability"`
	ReportedUsers []string `json:"reported_users,omitempty"`
	CreatedAt     string   `json:"created_at"`
}

func toReportDTO(report persistence.Report) reportDTO {
	return reportDTO{
		ID:            report.ID,
		EventRoomID:   report.RoomID,
		AuthorID:      report.AuthorID,
		Date:          formatTime(report.Date),
		Name:          report.Name,
		Description:   report.Description,
		Availability:  string(report.Availability),
		ReportedUsers: report.ReportedUsers,
		CreatedAt:     formatTime(report.CreatedAt),
	}
}
