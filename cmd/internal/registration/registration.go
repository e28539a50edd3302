package registration

import "time"

// Status is the lifecycle state of a registration.
type Status string

const (
	// StatusPending means the attendee holds a seat but has not been scanned in.
	StatusPending Status = "pending"
	// StatusAttended is terminal: the credential was scanned at the door.
	StatusAttended Status = "attended"
)

// Registration is the central ledger entity.
type Registration struct {
	ID           string
	UserID       string
	EventID      string
	Status       Status
	Credential   string
	Metadata     map[string]string
	RegisteredAt time.Time
	ScannedAt    *time.Time
}

// Attended reports whether the registration reached its terminal state.
func (r Registration) Attended() bool { return r.Status == StatusAttended }
