package application

import (
	"time"

	"github.com/example/room-tracker/internal/persistence"
)

// Change types written to the change log.
const (
	ChangeOccupyRoomCreated                 = "OCCUPY_ROOM_CREATED"
	ChangeOccupyRoomEdited                  = "OCCUPY_ROOM_EDITED"
	ChangeOccupyRoomDeleted                 = "OCCUPY_ROOM_DELETED"
	ChangeReportRoomUnavailableCreated      = "REPORT_ROOM_UNAVAILABLE_CREATED"
	ChangeReportRoomUnavailableEventCreated = "REPORT_ROOM_UNAVAILABLE_EVENT_CREATED"
	ChangeReportRoomUnavailableEventEdited  = "REPORT_ROOM_UNAVAILABLE_EVENT_EDITED"
	ChangeReportRoomUnavailableEventDeleted = "REPORT_ROOM_UNAVAILABLE_EVENT_DELETED"
	ChangeReportRoomFreeCreated             = "REPORT_ROOM_FREE_CREATED"
	ChangeReportRoomBusyCreated             = "REPORT_ROOM_BUSY_CREATED"
)

// OccupyRoomParams books a room for the author starting at Start. A nil End
// leaves the room held until FreeRoom.
type OccupyRoomParams struct {
	RoomID      string `validate:"required"`
	AuthorID    string `validate:"required"`
	Start       time.Time
	End         *time.Time
	Name        string
	Description string
	Replay      bool
}

// FreeRoomParams releases the author's open occupation of RoomID at End.
type FreeRoomParams struct {
	RoomID   string `validate:"required"`
	AuthorID string `validate:"required"`
	End      time.Time
	Replay   bool
}

// ReportUnavailableParams reports a room out of service. Without End the
// report is a point observation at Start.
type ReportUnavailableParams struct {
	RoomID      string `validate:"required"`
	AuthorID    string `validate:"required"`
	Start       time.Time
	End         *time.Time
	Name        string
	Description string
	Recurrence  string
	Replay      bool
}

// ReportParams records a free or busy observation of a room.
type ReportParams struct {
	RoomID        string `validate:"required"`
	AuthorID      string `validate:"required"`
	Date          time.Time
	Name          string
	Description   string
	ReportedUsers []string `validate:"dive,required"`
	Replay        bool
}

// EditEventParams changes an existing event. Nil fields are left untouched.
//
// Restored replaces the stored event wholesale; it carries a state rebuilt
// from the change log and also undeletes the event.
type EditEventParams struct {
	EventID     string `validate:"required"`
	AuthorID    string
	Start       *time.Time
	End         *time.Time
	Name        *string
	Description *string
	// Recurrence applies to unavailability events only; "" stops the recurrence.
	Recurrence *string
	Restored   *persistence.Event
	Force      bool
	Replay     bool
}

// DeleteEventParams soft-deletes an event.
type DeleteEventParams struct {
	EventID  string `validate:"required"`
	AuthorID string
	Replay   bool
}

// SetOccurrencesParams selects the materialization window of a recurring
// event. Zero values use the current time and the configured period.
type SetOccurrencesParams struct {
	EventID     string `validate:"required"`
	WindowStart *time.Time
	Period      time.Duration
}

// UnavailableReport is the outcome of ReportUnavailable: a Report for point
// observations, an Event for periods.
type UnavailableReport struct {
	Report *persistence.Report
	Event  *persistence.Event
}

// CreateRoomParams adds a room to the catalog.
type CreateRoomParams struct {
	Name        string `validate:"required,max=255"`
	Description string `validate:"max=2000"`
}

// RoomDetails joins a room with its availability projection.
type RoomDetails struct {
	Room      persistence.Room
	EventRoom persistence.EventRoom
}

// RevertParams selects the change a room history goes back to.
type RevertParams struct {
	ChangeID string `validate:"required"`
	AuthorID string
}

// CreateVerificationParams starts an e-mail ownership check.
type CreateVerificationParams struct {
	Email string `validate:"required,email"`
}

// VerifyEmailParams confirms a verification code.
type VerifyEmailParams struct {
	Email string `validate:"required,email"`
	Code  string `validate:"required,len=6,numeric"`
}

// RegisterUserParams creates an account from a verified e-mail.
type RegisterUserParams struct {
	Email     string `validate:"required,email"`
	Username  string `validate:"required,max=150"`
	Password  string `validate:"required,min=8"`
	Signature string `validate:"required"`
}
