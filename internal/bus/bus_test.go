package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	defer unsub()

	b.Publish("presence.changed", []string{"u1"})

	select {
	case evt := <-ch:
		if evt.Kind != "presence.changed" {
			t.Errorf("got kind %q, want presence.changed", evt.Kind)
		}
		if evt.Timestamp.IsZero() {
			t.Error("event timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("call.", 10)
	defer unsub()

	b.Publish("presence.changed", nil)
	b.Publish("call.incoming", nil)

	select {
	case evt := <-ch:
		if evt.Kind != "call.incoming" {
			t.Errorf("got kind %q, want call.incoming", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure presence event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestEmptyNamespaceMatchesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	defer unsub()

	b.Publish("presence.changed", nil)
	b.Publish("message.created", nil)

	for _, want := range []string{"presence.changed", "message.created"} {
		select {
		case evt := <-ch:
			if evt.Kind != want {
				t.Errorf("got kind %q, want %q", evt.Kind, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 10)
	unsub()

	b.Publish("presence.changed", nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("call.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish("call.one", nil)
	// This should be dropped (non-blocking).
	b.Publish("call.two", nil)

	evt := <-ch
	if evt.Kind != "call.one" {
		t.Errorf("got %q, want call.one", evt.Kind)
	}
}
