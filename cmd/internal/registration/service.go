package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"qrpass/cmd/internal/directory"
	"qrpass/cmd/internal/ids"
	"qrpass/cmd/internal/metrics"
	"qrpass/cmd/internal/notify"
	"qrpass/cmd/security/credential"
)

const notifyTimeout = 5 * time.Second

// Service is the registration ledger: the only writer of registration state.
type Service struct {
	log     *slog.Logger
	store   Store
	catalog directory.EventCatalog
	sink    notify.Sink
}

// NewService constructs the ledger.
// The sink may be nil; notifications are then skipped entirely.
func NewService(log *slog.Logger, store Store, catalog directory.EventCatalog, sink notify.Sink) (*Service, error) {
	if store == nil || catalog == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, store: store, catalog: catalog, sink: sink}, nil
}

// RegisterInput describes a registration request.
type RegisterInput struct {
	UserRef  string
	EventRef string
	Metadata map[string]string
	Now      time.Time
}

// Register creates a registration and mints its credential.
//
// Rejections: ErrEventNotFound, ErrAlreadyRegistered, ErrCapacityExceeded.
// The store, not this method, is the authority for the last two; the service
// performs no racy pre-checks beyond resolving the event.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registration, error) {
	if s == nil || s.store == nil {
		return Registration{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}

	userRef := strings.TrimSpace(in.UserRef)
	eventRef := strings.TrimSpace(in.EventRef)
	if userRef == "" || eventRef == "" {
		return Registration{}, ErrInvalidInput
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ev, err := s.catalog.GetEvent(ctx, eventRef)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Registration{}, ErrEventNotFound
		}
		return Registration{}, err
	}

	regID, err := ids.NewULID(now)
	if err != nil {
		return Registration{}, err
	}

	// The credential is bound to the registration's own identity so a stale
	// token cannot resolve to a future registration for the same pair.
	token, err := credential.Mint(regID, userRef, ev.ID, now)
	if err != nil {
		return Registration{}, err
	}

	reg, err := s.store.Create(ctx, CreateRecord{
		ID:         regID,
		UserID:     userRef,
		EventID:    ev.ID,
		Credential: token,
		Metadata:   in.Metadata,
		Now:        now,
	})
	if err != nil {
		return Registration{}, err
	}

	metrics.RegistrationsCreated.Inc()
	s.log.Info("registration.created",
		"registration", reg.ID,
		"user", reg.UserID,
		"event", reg.EventID,
	)
	s.notifyAsync(reg.UserID,
		"Registration confirmed",
		fmt.Sprintf("You are registered for %s. Present your pass at the door.", ev.Name),
	)

	return reg, nil
}

// Cancel deletes a pending registration.
//
// Authorization: the requester must own the registration or hold the admin
// capability. Cancellation is refused once attendance is marked; silently
// freeing a capacity slot for an event already attended was judged a bug in
// the predecessor behavior.
func (s *Service) Cancel(ctx context.Context, registrationRef string, requester directory.UserSummary) error {
	if s == nil || s.store == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	registrationRef = strings.TrimSpace(registrationRef)
	if registrationRef == "" || strings.TrimSpace(requester.ID) == "" {
		return ErrInvalidInput
	}

	reg, err := s.store.Get(ctx, registrationRef)
	if err != nil {
		return err
	}
	if reg.UserID != requester.ID && !requester.IsAdmin {
		return ErrNotAuthorized
	}

	// DeletePending re-checks the status; a scan racing this cancellation
	// loses or wins atomically at the store.
	if err := s.store.DeletePending(ctx, registrationRef); err != nil {
		return err
	}

	metrics.RegistrationsCancelled.Inc()
	s.log.Info("registration.cancelled",
		"registration", reg.ID,
		"user", reg.UserID,
		"event", reg.EventID,
		"by", requester.ID,
	)
	return nil
}

// Get fetches a registration by reference.
func (s *Service) Get(ctx context.Context, registrationRef string) (Registration, error) {
	if s == nil || s.store == nil {
		return Registration{}, ErrInvalidInput
	}
	return s.store.Get(ctx, registrationRef)
}

// MarkAttended is the ledger's atomic pending->attended transition, consumed
// by the attendance state machine. No other code path mutates status.
func (s *Service) MarkAttended(ctx context.Context, registrationRef string, now time.Time) (Registration, error) {
	if s == nil || s.store == nil {
		return Registration{}, ErrInvalidInput
	}
	return s.store.MarkAttended(ctx, registrationRef, now)
}

// ListForUser returns the requester's registrations.
func (s *Service) ListForUser(ctx context.Context, userRef string) ([]Registration, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	return s.store.ListForUser(ctx, userRef)
}

// ListAll returns every registration (administrative).
func (s *Service) ListAll(ctx context.Context) ([]Registration, error) {
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	return s.store.ListAll(ctx)
}

// CountForEvent returns the current registration count for an event.
func (s *Service) CountForEvent(ctx context.Context, eventRef string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, ErrInvalidInput
	}
	return s.store.CountForEvent(ctx, eventRef)
}

// DeleteAllForEvent removes every registration for an event. It backs the
// event catalog's cascade delete.
func (s *Service) DeleteAllForEvent(ctx context.Context, eventRef string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, ErrInvalidInput
	}
	removed, err := s.store.DeleteAllForEvent(ctx, eventRef)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("registration.cascade_deleted", "event", eventRef, "removed", removed)
	}
	return removed, nil
}

// notifyAsync delivers a notification without blocking or failing the caller.
func (s *Service) notifyAsync(userRef, title, body string) {
	if s.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		err := s.sink.Notify(ctx, notify.Message{
			UserRef: userRef,
			Title:   title,
			Body:    body,
			At:      time.Now().UTC(),
		})
		if err != nil {
			s.log.Warn("registration.notify.fail", "user", userRef, "err", err)
		}
	}()
}
