// Package notify delivers best-effort notifications to attendees.
//
// Delivery is fire-and-forget by contract: a failed notification is logged
// and dropped, never propagated into ledger outcomes.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Message is one notification addressed to a user.
type Message struct {
	UserRef string    `json:"user_ref"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	At      time.Time `json:"at"`
}

// Sink is the notification delivery boundary.
type Sink interface {
	Notify(ctx context.Context, msg Message) error
	Close() error
}

// LogSink writes notifications to the structured log.
// It is the default sink when no broker is configured.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

// Notify logs the notification.
func (s *LogSink) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("notify.message",
		"user", msg.UserRef,
		"title", msg.Title,
		"body", msg.Body,
	)
	return nil
}

// Close closes the sink (noop for LogSink).
func (s *LogSink) Close() error { return nil }
