package persistence

import "time"

// Availability is the state of a room or the effect an event has on it.
type Availability string

const (
	AvailabilityBusy        Availability = "BUSY"
	AvailabilityFree        Availability = "FREE"
	AvailabilityUnavailable Availability = "UNAVAILABLE"
	AvailabilityUnknown     Availability = "UNKNOWN"
)

// Valid reports whether a is one of the known availability values.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityBusy, AvailabilityFree, AvailabilityUnavailable, AvailabilityUnknown:
		return true
	}
	return false
}

// Room represents a bookable room in the catalog.
type Room struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventRoom is the availability projection of a Room. Exactly one exists per room.
type EventRoom struct {
	ID           string
	RoomID       string
	Availability Availability
	UpdatedAt    time.Time
}

// Event is an occupation (BUSY) or an unavailability period (UNAVAILABLE) of a room.
//
// EndDate may be nil only for BUSY events whose occupant has not released the room yet.
// Occurrences is keyed by ISO date and only populated for recurring events.
type Event struct {
	ID             string
	RoomID         string
	AuthorID       *string
	Name           string
	Description    string
	StartDate      time.Time
	EndDate        *time.Time
	Availability   Availability
	IsAllDay       bool
	Duration       int64
	IsRecurring    bool
	Recurrence     string
	Occurrences    map[string]bool
	NextOccurrence *time.Time
	Deleted        bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Report is an immutable observation of a room's state at a point in time.
type Report struct {
	ID            string
	RoomID        string
	AuthorID      *string
	Date          time.Time
	Name          string
	Description   string
	Availability  Availability
	ReportedUsers []string
	CreatedAt     time.Time
}

// ChangeMetadata carries bookkeeping attached to a change entry.
type ChangeMetadata struct {
	RevertedFrom string `cbor:"reverted_from,omitempty" json:"reverted_from,omitempty"`
	Hidden       bool   `cbor:"hidden,omitempty" json:"hidden,omitempty"`
}

// Change is one entry of the append-only audit log. Entries sharing an ObjectUUID
// form a chain through ParentID; Seq orders entries globally.
type Change struct {
	ID          string
	Seq         int64
	AuthorID    *string
	Name        string
	Type        string
	Changes     []byte
	Digest      string
	ObjectUUID  string
	SubjectKind string
	SubjectID   string
	ParentID    *string
	Metadata    ChangeMetadata
	CreatedAt   time.Time
}

// User is a registered account.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EmailVerification tracks a pending or completed e-mail ownership check.
type EmailVerification struct {
	ID         string
	Email      string
	Code       string
	Signature  string
	ExpiresAt  time.Time
	VerifiedAt *time.Time
	CreatedAt  time.Time
}
