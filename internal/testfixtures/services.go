package testfixtures

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/changelog"
	"github.com/example/room-tracker/internal/persistence"
	"github.com/example/room-tracker/internal/persistence/memory"
	"github.com/example/room-tracker/internal/tasks"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       persistence.Store
	Logger      *slog.Logger
	Booking     application.BookingOptions
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Store == nil {
		factory.Store = memory.New()
	}
	if factory.Logger == nil {
		factory.Logger = slog.New(slog.DiscardHandler)
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithStore overrides the in-memory store.
func WithStore(store persistence.Store) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Store = store
	}
}

// WithBookingOptions overrides the booking rules.
func WithBookingOptions(opts application.BookingOptions) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Booking = opts
	}
}

// Harness is a fully wired application over an in-memory task queue.
type Harness struct {
	*application.Services

	Store    persistence.Store
	Queue    *tasks.MemoryQueue
	Registry *tasks.Registry
	Clock    *Clock

	mu         sync.Mutex
	deliveries []application.EmailVerificationCreated
}

// NewHarness wires the services. Verification codes are captured instead of
// sent; see Deliveries.
func (f *ServiceFactory) NewHarness() *Harness {
	registry := tasks.NewRegistry()
	queue := tasks.NewMemoryQueue(registry, f.Logger, f.Clock.NowFunc())
	codec, err := changelog.NewCodec([]byte("test-signing-key"))
	if err != nil {
		panic(err)
	}

	h := &Harness{
		Store:    f.Store,
		Queue:    queue,
		Registry: registry,
		Clock:    f.Clock,
	}
	h.Services = application.NewServices(application.Dependencies{
		Store:       f.Store,
		Queue:       queue,
		Registry:    registry,
		Codec:       codec,
		Booking:     f.Booking,
		Accounts:    application.AccountOptions{SigningKey: []byte("test-signing-key"), PasswordParams: FastArgon2idParams()},
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	})
	h.VerificationCreated.Handle(func(ctx context.Context, v application.EmailVerificationCreated) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.deliveries = append(h.deliveries, v)
		return nil
	})
	return h
}

// Deliveries returns the verification codes handed to the delivery command.
func (h *Harness) Deliveries() []application.EmailVerificationCreated {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]application.EmailVerificationCreated(nil), h.deliveries...)
}

// RunDue runs every task due at the clock's current time.
func (h *Harness) RunDue(ctx context.Context) int {
	return h.Queue.RunDue(ctx, h.Clock.Now())
}

// AdvanceAndRun moves the clock and runs the tasks that became due.
func (h *Harness) AdvanceAndRun(ctx context.Context, d time.Duration) int {
	return h.Queue.RunDue(ctx, h.Clock.Advance(d))
}

// FastArgon2idParams keeps password hashing cheap in tests.
func FastArgon2idParams() application.Argon2idParams {
	return application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}
}
