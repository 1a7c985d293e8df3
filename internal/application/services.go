package application

import (
	"log/slog"
	"time"

	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/notify"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/tasks"
)

// Dependencies are the collaborators the services share.
type Dependencies struct {
	Store    persistence.Store
	Queue    tasks.Scheduler
	Registry *tasks.Registry
	Codec    *changelog.Codec

	Booking  BookingOptions
	Accounts AccountOptions

	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// Services is the wired application layer.
type Services struct {
	Signals             *Signals
	ChangeLog           *changelog.Log
	Booking             *BookingService
	Availability        *AvailabilityService
	History             *HistoryService
	Rooms               *RoomService
	Accounts            *AccountService
	VerificationCreated *notify.Command[EmailVerificationCreated]
}

// NewServices builds every service and connects signals, the change log and
// task handlers. The verification command starts without handlers.
func NewServices(deps Dependencies) *Services {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	logger := defaultLogger(deps.Logger)

	signals := NewSignals(logger)
	booking := NewBookingService(deps.Store, signals, deps.Booking, deps.IDGenerator, deps.Now, logger)

	availability := NewAvailabilityService(deps.Store, booking, deps.Queue, deps.Now, logger)
	availability.Subscribe()
	if deps.Registry != nil {
		availability.RegisterTasks(deps.Registry)
	}

	log := changelog.New(deps.Store, NewSubjectRegistry(deps.Store), deps.Codec, changelog.Options{
		Now:    deps.Now,
		NewID:  deps.IDGenerator,
		Logger: logger,
	})
	history := NewHistoryService(log, booking, logger)

	verification := notify.NewCommand[EmailVerificationCreated]("email_verification_created", logger)

	return &Services{
		Signals:             signals,
		ChangeLog:           log,
		Booking:             booking,
		Availability:        availability,
		History:             history,
		Rooms:               NewRoomService(deps.Store, deps.IDGenerator, deps.Now, logger),
		Accounts:            NewAccountService(deps.Store, verification, deps.Accounts, deps.IDGenerator, deps.Now, logger),
		VerificationCreated: verification,
	}
}
