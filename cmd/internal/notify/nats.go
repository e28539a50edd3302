package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the NATS subject prefix for notification messages.
// Downstream delivery workers (email, push) subscribe to "qrpass.notify.>".
const SubjectPrefix = "qrpass.notify"

// NATSSink publishes notifications to a NATS subject per user.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink connects to NATS with automatic reconnection support.
func NewNATSSink(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSink{conn: nc}, nil
}

// Notify publishes the JSON-encoded message to qrpass.notify.<userRef>.
func (s *NATSSink) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	return s.conn.Publish(SubjectPrefix+"."+msg.UserRef, data)
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}
