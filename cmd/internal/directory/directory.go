package directory

import (
	"context"
	"time"

	"qrpass/cmd/security/token"
)

// EventStatus is the informational lifecycle of an event.
// The ledger does not enforce it.
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
)

// UserSummary is the resolved identity handed to ledger and scan paths.
type UserSummary struct {
	ID          string
	Username    string
	DisplayName string
	IsAdmin     bool
	CreatedAt   time.Time
}

// EventSummary describes an event as the ledger sees it.
// Capacity nil means unbounded.
type EventSummary struct {
	ID          string
	Name        string
	Description string
	Location    string
	StartsAt    time.Time
	Capacity    *int32
	Status      EventStatus
	CreatedBy   string
	CreatedAt   time.Time
}

// CreateUserInput describes a user record to create.
type CreateUserInput struct {
	Username    string
	Password    string
	DisplayName string
	IsAdmin     bool
	Now         time.Time
}

// CreateEventInput describes an event record to create.
type CreateEventInput struct {
	Name        string
	Description string
	Location    string
	StartsAt    time.Time
	Capacity    *int32
	Status      EventStatus
	CreatedBy   string
	Now         time.Time
}

// UserDirectory resolves and authenticates users.
//
// Authenticate returns ErrAuthFailed for unknown users and bad passwords
// alike; callers must not be able to distinguish the two.
type UserDirectory interface {
	FindUser(ctx context.Context, ref string) (UserSummary, error)
	Authenticate(ctx context.Context, username, password string) (UserSummary, error)
	CreateUser(ctx context.Context, in CreateUserInput) (UserSummary, error)

	// IssueSession mints an opaque bearer token for an authenticated user.
	// Only a hash of the token is stored server-side.
	IssueSession(ctx context.Context, userRef string, ttl time.Duration, now time.Time) (string, error)
	// ResolveSession maps a bearer token back to its user, honoring expiry.
	ResolveSession(ctx context.Context, token string, now time.Time) (UserSummary, error)
}

// EventCatalog owns event records.
//
// DeleteEvent removes the event row; callers are responsible for triggering
// the ledger's registration cascade alongside it (the Postgres schema also
// cascades via FK as a backstop).
type EventCatalog interface {
	GetEvent(ctx context.Context, ref string) (EventSummary, error)
	CreateEvent(ctx context.Context, in CreateEventInput) (EventSummary, error)
	ListEvents(ctx context.Context) ([]EventSummary, error)
	DeleteEvent(ctx context.Context, ref string) error
}

const defaultSessionTTL = 12 * time.Hour

// hashSessionToken hashes bearer tokens for server-side storage.
// HMAC mode applies automatically when QRPASS_SESSION_HMAC_KEY is set.
func hashSessionToken(plain string) string {
	return token.HashSessionTokenHex(plain)
}
