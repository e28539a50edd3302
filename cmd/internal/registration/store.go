package registration

import (
	"context"
	"time"
)

// CreateRecord is a normalized registration insert payload.
type CreateRecord struct {
	ID         string
	UserID     string
	EventID    string
	Credential string
	Metadata   map[string]string
	Now        time.Time
}

// Store is the persistence boundary for registrations.
//
// Atomicity contract:
//   - Create enforces the (user, event) uniqueness constraint and the event
//     capacity bound as a single atomic unit against concurrent creators:
//     of N concurrent duplicate attempts exactly one wins, and an event with
//     capacity C never ends up with more than C rows.
//   - MarkAttended is a conditional write keyed on the current status: of two
//     concurrent calls for the same registration exactly one succeeds, the
//     other observes ErrAlreadyAttended.
//   - DeletePending removes a registration only while it is still pending.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Registration, error)
	Get(ctx context.Context, id string) (Registration, error)
	MarkAttended(ctx context.Context, id string, now time.Time) (Registration, error)
	DeletePending(ctx context.Context, id string) error
	DeleteAllForEvent(ctx context.Context, eventID string) (int64, error)
	ListForUser(ctx context.Context, userID string) ([]Registration, error)
	ListAll(ctx context.Context) ([]Registration, error)
	CountForEvent(ctx context.Context, eventID string) (int64, error)
}

// CapacityResolver reports the capacity of an event for stores that do not
// own the event rows themselves (the in-memory store). ok is false when the
// event does not exist.
type CapacityResolver interface {
	EventCapacity(ctx context.Context, eventRef string) (capacity *int32, ok bool, err error)
}
