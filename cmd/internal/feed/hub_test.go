package feed

import (
	"testing"
	"time"
)

func TestHubBroadcastDeliversToAllSubscribers(t *testing.T) {
	h := NewHub(nil)

	ch1, cancel1 := h.subscribe()
	defer cancel1()
	ch2, cancel2 := h.subscribe()
	defer cancel2()

	if got := h.Subscribers(); got != 2 {
		t.Fatalf("Subscribers() = %d, want 2", got)
	}

	want := ScanUpdate{
		RegistrationID: "reg-1",
		EventID:        "evt-1",
		UserID:         "usr-1",
		Granted:        true,
		Reason:         "ok",
		At:             time.Now().UTC(),
	}
	h.Broadcast(want)

	for i, ch := range []<-chan ScanUpdate{ch1, ch2} {
		select {
		case got := <-ch:
			if got.RegistrationID != want.RegistrationID || !got.Granted || got.Reason != "ok" {
				t.Fatalf("subscriber %d got %+v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no update", i)
		}
	}
}

func TestHubBroadcastSetsTimestamp(t *testing.T) {
	h := NewHub(nil)

	ch, cancel := h.subscribe()
	defer cancel()

	h.Broadcast(ScanUpdate{Reason: "ok", Granted: true})

	select {
	case got := <-ch:
		if got.At.IsZero() {
			t.Fatal("Broadcast did not fill in At")
		}
	case <-time.After(time.Second):
		t.Fatal("got no update")
	}
}

func TestHubSlowSubscriberDoesNotBlockBroadcast(t *testing.T) {
	h := NewHub(nil)
	h.queueSize = 1

	_, cancel := h.subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.Broadcast(ScanUpdate{Reason: "ok"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a full subscriber queue")
	}
}

func TestHubCancelRemovesSubscriber(t *testing.T) {
	h := NewHub(nil)

	_, cancel := h.subscribe()
	cancel()

	if got := h.Subscribers(); got != 0 {
		t.Fatalf("Subscribers() = %d after cancel, want 0", got)
	}
}
