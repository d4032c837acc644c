package signaling

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/metrics"
	"github.com/huddle-chat/huddle/internal/registry"
	"github.com/huddle-chat/huddle/internal/store"
)

type nopConn struct{ id string }

func (c *nopConn) ID() string         { return c.id }
func (c *nopConn) Send(_ []byte) bool { return true }
func (c *nopConn) Close()             {}

func testRelay(t *testing.T) (*Relay, *registry.Registry, *bus.Bus) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.CreateUser(&store.User{ID: "caller", FullName: "Cal Ler", Email: "c@x.com", ProfilePic: "/cal.png"}); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateUser(&store.User{ID: "callee", FullName: "Lee Call", Email: "l@x.com"}); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	m := metrics.New(prometheus.NewRegistry())
	reg := registry.New(b, m, zap.NewNop())
	r := New(reg, db, b, m, zap.NewNop())
	r.Start(context.Background())
	t.Cleanup(r.Stop)
	return r, reg, b
}

func subCalls(t *testing.T, b *bus.Bus) <-chan bus.Event {
	t.Helper()
	ch, unsub := b.Subscribe("call.", 32)
	t.Cleanup(unsub)
	return ch
}

func next(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for call event")
		return bus.Event{}
	}
}

func expectNone(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %q: %+v", evt.Kind, evt.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallOfflineTarget(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	ch := subCalls(t, b)

	r.Call("caller", "callee", json.RawMessage(`{"sdp":"offer"}`), "video")

	evt := next(t, ch)
	if evt.Kind != EventFailed {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventFailed)
	}
	failed := evt.Payload.(FailedEvent)
	if failed.To != "caller" || failed.Reason != ReasonOffline || failed.Target != "callee" {
		t.Errorf("failed event = %+v", failed)
	}
	// Nothing was sent toward the offline callee.
	expectNone(t, ch)
}

func TestCallAnswerEndFlow(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", &nopConn{id: "c2"})
	ch := subCalls(t, b)

	r.Call("caller", "callee", json.RawMessage(`{"sdp":"offer"}`), "")

	evt := next(t, ch)
	if evt.Kind != EventIncoming {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventIncoming)
	}
	in := evt.Payload.(IncomingEvent)
	if in.To != "callee" || in.From != "caller" {
		t.Errorf("incoming = %+v", in)
	}
	if in.CallerName != "Cal Ler" || in.CallerAvatar != "/cal.png" {
		t.Errorf("caller profile = %q, %q", in.CallerName, in.CallerAvatar)
	}
	if in.Type != "video" {
		t.Errorf("call type = %q, want default video", in.Type)
	}

	r.Answer("callee", "caller", json.RawMessage(`{"sdp":"answer"}`))
	evt = next(t, ch)
	if evt.Kind != EventAccepted {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventAccepted)
	}
	acc := evt.Payload.(AcceptedEvent)
	if acc.To != "caller" {
		t.Errorf("accepted = %+v", acc)
	}

	r.End("caller", "callee")
	evt = next(t, ch)
	if evt.Kind != EventEnded {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventEnded)
	}
	if evt.Payload.(EndedEvent).To != "callee" {
		t.Errorf("ended = %+v", evt.Payload)
	}
}

func TestAnswerWithoutPendingCall(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", &nopConn{id: "c2"})
	ch := subCalls(t, b)

	r.Answer("callee", "caller", nil)

	evt := next(t, ch)
	if evt.Kind != EventFailed {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventFailed)
	}
	failed := evt.Payload.(FailedEvent)
	if failed.To != "callee" || failed.Reason != ReasonNoPendingCall {
		t.Errorf("failed = %+v", failed)
	}
}

func TestEndWithoutCall(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", &nopConn{id: "c2"})
	ch := subCalls(t, b)

	r.End("caller", "callee")

	evt := next(t, ch)
	failed, ok := evt.Payload.(FailedEvent)
	if !ok || failed.Reason != ReasonNoPendingCall {
		t.Errorf("event = %q %+v", evt.Kind, evt.Payload)
	}
}

func TestSecondCallWhileRinging(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", &nopConn{id: "c2"})
	ch := subCalls(t, b)

	r.Call("caller", "callee", nil, "audio")
	if evt := next(t, ch); evt.Kind != EventIncoming {
		t.Fatalf("kind = %q", evt.Kind)
	}

	r.Call("caller", "callee", nil, "audio")
	evt := next(t, ch)
	if evt.Kind != EventFailed {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventFailed)
	}
	if evt.Payload.(FailedEvent).Reason != ReasonBusy {
		t.Errorf("reason = %+v", evt.Payload)
	}
}

func TestSignalPassThrough(t *testing.T) {
	r, reg, b := testRelay(t)
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", &nopConn{id: "c2"})
	ch := subCalls(t, b)

	r.Signal("caller", "callee", json.RawMessage(`{"candidate":"x"}`))
	evt := next(t, ch)
	if evt.Kind != EventSignal {
		t.Fatalf("kind = %q", evt.Kind)
	}
	sig := evt.Payload.(SignalEvent)
	if sig.To != "callee" || string(sig.Signal) != `{"candidate":"x"}` {
		t.Errorf("signal = %+v", sig)
	}
}

func TestDisconnectTearsDownCall(t *testing.T) {
	r, reg, b := testRelay(t)
	callee := &nopConn{id: "c2"}
	reg.Register("caller", &nopConn{id: "c1"})
	reg.Register("callee", callee)

	ch := subCalls(t, b)
	r.Call("caller", "callee", nil, "video")
	if evt := next(t, ch); evt.Kind != EventIncoming {
		t.Fatalf("kind = %q", evt.Kind)
	}

	reg.Unregister(callee)

	evt := next(t, ch)
	if evt.Kind != EventEnded {
		t.Fatalf("kind = %q, want %q after disconnect", evt.Kind, EventEnded)
	}
	if evt.Payload.(EndedEvent).To != "caller" {
		t.Errorf("ended = %+v", evt.Payload)
	}

	// The torn-down call no longer exists for the answer path.
	reg.Register("callee", &nopConn{id: "c3"})
	r.Answer("callee", "caller", nil)
	evt = next(t, ch)
	failed, ok := evt.Payload.(FailedEvent)
	if !ok || failed.Reason != ReasonNoPendingCall {
		t.Errorf("event = %q %+v", evt.Kind, evt.Payload)
	}
}
