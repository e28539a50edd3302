package attendance

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"qrpass/cmd/internal/feed"
	"qrpass/cmd/internal/metrics"
	"qrpass/cmd/internal/notify"
	"qrpass/cmd/internal/registration"
	"qrpass/cmd/security/credential"
)

// Ledger is the slice of the registration store the scanner needs.
type Ledger interface {
	Get(ctx context.Context, id string) (registration.Registration, error)
	MarkAttended(ctx context.Context, id string, now time.Time) (registration.Registration, error)
}

// Broadcaster receives scan decisions for live dashboards.
type Broadcaster interface {
	Broadcast(u feed.ScanUpdate)
}

const notifyTimeout = 5 * time.Second

// Service decides scans. It is safe for concurrent use; the single-grant
// guarantee comes from the ledger's conditional transition, not from any
// locking here.
type Service struct {
	log    *slog.Logger
	ledger Ledger
	bcast  Broadcaster
	sink   notify.Sink
}

// NewService constructs a scan service. bcast and sink may be nil.
func NewService(log *slog.Logger, ledger Ledger, bcast Broadcaster, sink notify.Sink) (*Service, error) {
	if ledger == nil {
		return nil, registration.ErrInvalidInput
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Service{log: log, ledger: ledger, bcast: bcast, sink: sink}, nil
}

// Scan verifies a presented credential and, when it matches a pending
// registration, records attendance. Every decision outcome is returned as
// a ScanResult with a nil error; a non-nil error means the decision could
// not be made (storage failure, context cancellation).
func (s *Service) Scan(ctx context.Context, token string, now time.Time) (ScanResult, error) {
	if s == nil || s.ledger == nil {
		return ScanResult{}, registration.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	claims, err := credential.Decode(token)
	if err != nil {
		return s.decide(ScanResult{Reason: ReasonInvalidFormat, At: now}, "")
	}

	reg, err := s.ledger.Get(ctx, claims.RegistrationRef)
	switch {
	case errors.Is(err, registration.ErrNotFound):
		return s.decide(ScanResult{Reason: ReasonNotFound, At: now}, "")
	case err != nil:
		return ScanResult{}, err
	}

	// The decoded claims must agree with the stored row. A mismatch means
	// the token was minted for a different registration lifecycle and is
	// reported as not found rather than as a distinct failure.
	if reg.UserID != claims.UserRef || reg.EventID != claims.EventRef || reg.Credential != token {
		return s.decide(ScanResult{Reason: ReasonNotFound, At: now}, "")
	}

	if reg.Status == registration.StatusAttended {
		return s.decide(ScanResult{Reason: ReasonAlreadyScanned, Registration: &reg, At: now}, "")
	}

	updated, err := s.ledger.MarkAttended(ctx, reg.ID, now)
	switch {
	case errors.Is(err, registration.ErrAlreadyAttended):
		// Lost the race to a concurrent scan of the same credential.
		return s.decide(ScanResult{Reason: ReasonAlreadyScanned, Registration: &updated, At: now}, "")
	case errors.Is(err, registration.ErrNotFound):
		return s.decide(ScanResult{Reason: ReasonNotFound, At: now}, "")
	case err != nil:
		return ScanResult{}, err
	}

	res, _ := s.decide(ScanResult{Granted: true, Reason: ReasonOK, Registration: &updated, At: now}, updated.UserID)
	s.log.Info("scan.granted",
		"registration_id", updated.ID,
		"event_id", updated.EventID,
		"user_id", updated.UserID,
	)
	return res, nil
}

// decide finalizes a scan outcome: metrics, feed broadcast, and (for
// grants) an attendee notification.
func (s *Service) decide(res ScanResult, notifyUser string) (ScanResult, error) {
	metrics.Scans.WithLabelValues(string(res.Reason)).Inc()

	if s.bcast != nil {
		u := feed.ScanUpdate{
			Granted: res.Granted,
			Reason:  string(res.Reason),
			At:      res.At,
		}
		if res.Registration != nil {
			u.RegistrationID = res.Registration.ID
			u.EventID = res.Registration.EventID
			u.UserID = res.Registration.UserID
		}
		s.bcast.Broadcast(u)
	}

	if !res.Granted {
		s.log.Info("scan.denied", "reason", string(res.Reason))
	}

	if notifyUser != "" && s.sink != nil {
		msg := notify.Message{
			UserRef: notifyUser,
			Title:   "Checked in",
			Body:    "Your attendance has been recorded.",
			At:      res.At,
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			if err := s.sink.Notify(ctx, msg); err != nil {
				s.log.Warn("scan.notify.fail", "user_id", msg.UserRef, "err", err)
			}
		}()
	}

	return res, nil
}
