package testfixtures

import (
	"context"
	"testing"

	"github.com/example/room-tracker/internal/application"
	"github.com/example/room-tracker/internal/persistence"
)

func TestServiceFactoryNewHarness(t *testing.T) {
	factory := NewServiceFactory()
	h := factory.NewHarness()
	ctx := context.Background()

	details, err := h.Rooms.CreateRoom(ctx, application.CreateRoomParams{Name: "Library"})
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}
	if details.Room.ID != "id-1" {
		t.Fatalf("expected generated ID id-1, got %q", details.Room.ID)
	}
	if !details.Room.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), details.Room.CreatedAt)
	}
	if details.EventRoom.Availability != persistence.AvailabilityUnknown {
		t.Fatalf("expected UNKNOWN availability, got %s", details.EventRoom.Availability)
	}
}

func TestHarnessCapturesVerificationCodes(t *testing.T) {
	h := NewServiceFactory().NewHarness()

	if _, err := h.Accounts.CreateEmailVerification(context.Background(), application.CreateVerificationParams{Email: "A@Example.com"}); err != nil {
		t.Fatalf("CreateEmailVerification returned error: %v", err)
	}
	deliveries := h.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("expected one delivery, got %d", len(deliveries))
	}
	if deliveries[0].Email != "a@example.com" || len(deliveries[0].Code) != 6 {
		t.Fatalf("unexpected delivery %+v", deliveries[0])
	}
}

func TestFixturesSeedMemoryStore(t *testing.T) {
	factory := NewServiceFactory()
	ctx := context.Background()

	room := NewRoomFixture(WithRoomID("room-a"), WithRoomName("A"))
	if err := room.Seed(ctx, factory.Store); err != nil {
		t.Fatalf("seed room: %v", err)
	}
	event := NewEventFixture(room.EventRoomID, WithEventAuthor("user-1"))
	if err := event.Seed(ctx, factory.Store); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	got, err := factory.Store.GetEvent(ctx, event.Event.ID)
	if err != nil {
		t.Fatalf("GetEvent returned error: %v", err)
	}
	if got.RoomID != "event-room-a" || got.AuthorID == nil || *got.AuthorID != "user-1" {
		t.Fatalf("unexpected event %+v", got)
	}
}
