package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestLogSink_Notify(t *testing.T) {
	s := NewLogSink(nil)
	defer s.Close()

	err := s.Notify(context.Background(), Message{
		UserRef: "usr-1",
		Title:   "Registration confirmed",
		Body:    "See you there",
		At:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Notify error: %v", err)
	}
}

func TestLogSink_CanceledContext(t *testing.T) {
	s := NewLogSink(nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Notify(ctx, Message{UserRef: "usr-1"}); err == nil {
		t.Fatalf("expected context error")
	}
}

// The wire shape is consumed by out-of-process delivery workers; keep it stable.
func TestMessage_WireShape(t *testing.T) {
	msg := Message{
		UserRef: "usr-1",
		Title:   "t",
		Body:    "b",
		At:      time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"user_ref", "title", "body", "at"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("missing key %q in %s", key, data)
		}
	}
}
