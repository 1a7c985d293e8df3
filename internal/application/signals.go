package application

import (
	"log/slog"
	"time"

	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
)

// OccurrencesSet is published after a recurring event's occurrence map was
// materialized for a window.
type OccurrencesSet struct {
	Event       persistence.Event
	WindowStart time.Time
	WindowEnd   time.Time
}

// AvailabilityChanged is published when a room's cached availability moved.
type AvailabilityChanged struct {
	EventRoom persistence.EventRoom
	Previous  persistence.Availability
}

// ChangeDone is the external notification of a booking mutation. ObjectUUID is
// the event room the history belongs to.
type ChangeDone struct {
	AuthorID   string
	Subject    changelog.Subject
	Type       string
	Message    string
	ObjectUUID string
}

// Signals groups the topics booking operations publish on. Internal topics
// drive availability and occurrence scheduling; ChangeDone feeds the change log.
type Signals struct {
	OccupyCreated *notify.Topic[persistence.Event]
	OccupyEdited  *notify.Topic[persistence.Event]
	OccupyEnded   *notify.Topic[persistence.Event]
	OccupyDeleted *notify.Topic[persistence.Event]

	UnavailableCreated *notify.Topic[persistence.Event]
	UnavailableEdited  *notify.Topic[persistence.Event]
	UnavailableDeleted *notify.Topic[persistence.Event]

	ReportCreated           *notify.Topic[persistence.Report]
	OccurrencesSet          *notify.Topic[OccurrencesSet]
	RoomAvailabilityChanged *notify.Topic[AvailabilityChanged]

	ChangeDone *notify.Topic[ChangeDone]
}

// NewSignals creates every topic.
func NewSignals(logger *slog.Logger) *Signals {
	return &Signals{
		OccupyCreated:           notify.NewTopic[persistence.Event]("occupy_created", logger),
		OccupyEdited:            notify.NewTopic[persistence.Event]("occupy_edited", logger),
		OccupyEnded:             notify.NewTopic[persistence.Event]("occupy_ended", logger),
		OccupyDeleted:           notify.NewTopic[persistence.Event]("occupy_deleted", logger),
		UnavailableCreated:      notify.NewTopic[persistence.Event]("report_unavailable_event_created", logger),
		UnavailableEdited:       notify.NewTopic[persistence.Event]("report_unavailable_event_edited", logger),
		UnavailableDeleted:      notify.NewTopic[persistence.Event]("report_unavailable_event_deleted", logger),
		ReportCreated:           notify.NewTopic[persistence.Report]("report_created", logger),
		OccurrencesSet:          notify.NewTopic[OccurrencesSet]("occurrences_set", logger),
		RoomAvailabilityChanged: notify.NewTopic[AvailabilityChanged]("room_availability_changed", logger),
		ChangeDone:              notify.NewTopic[ChangeDone]("change_done", logger),
	}
}
