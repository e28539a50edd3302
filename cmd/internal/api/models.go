package api

import (
	"time"

	"qrpass/cmd/internal/directory"
	"qrpass/cmd/internal/registration"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	IsAdmin     bool      `json:"is_admin"`
	CreatedAt   time.Time `json:"created_at"`
}

type createEventRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	StartsAt    *time.Time `json:"starts_at"`
	Capacity    *int32     `json:"capacity"`
	Status      string     `json:"status"`
}

type eventResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	Capacity    *int32    `json:"capacity"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type eventListResponse struct {
	Events []eventResponse `json:"events"`
}

type deleteEventResponse struct {
	Deleted              bool  `json:"deleted"`
	RemovedRegistrations int64 `json:"removed_registrations"`
}

type createRegistrationRequest struct {
	EventID  string            `json:"event_id"`
	Metadata map[string]string `json:"metadata"`
}

type registrationResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	EventID      string            `json:"event_id"`
	Status       string            `json:"status"`
	Credential   string            `json:"credential,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	ScannedAt    *time.Time        `json:"scanned_at,omitempty"`
}

type registrationListResponse struct {
	Registrations []registrationResponse `json:"registrations"`
}

type scanRequest struct {
	Token string `json:"token"`
}

type scanResponse struct {
	Granted      bool                  `json:"granted"`
	Reason       string                `json:"reason"`
	Registration *registrationResponse `json:"registration,omitempty"`
}

func toUserResponse(u directory.UserSummary) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		IsAdmin:     u.IsAdmin,
		CreatedAt:   u.CreatedAt,
	}
}

func toEventResponse(e directory.EventSummary) eventResponse {
	return eventResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		Location:    e.Location,
		StartsAt:    e.StartsAt,
		Capacity:    e.Capacity,
		Status:      string(e.Status),
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
	}
}

// toRegistrationResponse converts a ledger row. The credential is included
// only for the registration's owner; admin listings must not leak scannable
// tokens.
func toRegistrationResponse(r registration.Registration, includeCredential bool) registrationResponse {
	out := registrationResponse{
		ID:           r.ID,
		UserID:       r.UserID,
		EventID:      r.EventID,
		Status:       string(r.Status),
		Metadata:     r.Metadata,
		RegisteredAt: r.RegisteredAt,
		ScannedAt:    r.ScannedAt,
	}
	if includeCredential {
		out.Credential = r.Credential
	}
	return out
}
