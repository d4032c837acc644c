package relation

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/store"
)

func testStore(t *testing.T) (*Store, *bus.Bus, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	return New(db, b, zap.NewNop()), b, db
}

func addUser(t *testing.T, db *store.DB, id, name string) {
	t.Helper()
	if err := db.CreateUser(&store.User{ID: id, FullName: name, Email: id + "@example.com"}); err != nil {
		t.Fatal(err)
	}
}

func TestRequestAcceptRemoveCycle(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Request("a", "b"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if err := s.Accept("a", "b"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, err := s.AreFriends(pair[0], pair[1])
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("AreFriends(%s, %s) = false after accept", pair[0], pair[1])
		}
	}

	if err := s.Remove("a", "b"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, _ := s.AreFriends(pair[0], pair[1])
		if ok {
			t.Errorf("AreFriends(%s, %s) = true after remove", pair[0], pair[1])
		}
	}
}

func TestRequestValidation(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Request("a", "a"); !errors.Is(err, ErrSelfReference) {
		t.Errorf("self request = %v, want ErrSelfReference", err)
	}
	if err := s.Request("a", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("request to unknown user = %v, want ErrUserNotFound", err)
	}

	if err := s.Request("a", "b"); err != nil {
		t.Fatal(err)
	}
	// Second request in the same direction.
	if err := s.Request("a", "b"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("duplicate request = %v, want ErrDuplicateRequest", err)
	}
	// Reverse direction while the first is still pending.
	if err := s.Request("b", "a"); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("reverse request = %v, want ErrDuplicateRequest", err)
	}

	// State unchanged after the failures: exactly one pending request.
	reqs, err := s.Requests("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || reqs[0].ID != "a" {
		t.Errorf("Requests(b) = %+v", reqs)
	}

	if err := s.Accept("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Request("a", "b"); !errors.Is(err, ErrAlreadyFriends) {
		t.Errorf("request to friend = %v, want ErrAlreadyFriends", err)
	}
}

func TestAcceptWithoutRequest(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Accept("a", "b"); !errors.Is(err, ErrNoPendingRequest) {
		t.Fatalf("Accept with no request = %v, want ErrNoPendingRequest", err)
	}

	// Neither side's friend list changed.
	for _, u := range []string{"a", "b"} {
		friends, err := s.Friends(u)
		if err != nil {
			t.Fatal(err)
		}
		if len(friends) != 0 {
			t.Errorf("Friends(%s) = %+v, want empty", u, friends)
		}
	}
}

func TestDecline(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Decline("a", "b"); !errors.Is(err, ErrNoPendingRequest) {
		t.Errorf("Decline with no request = %v, want ErrNoPendingRequest", err)
	}

	if err := s.Request("a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := s.Decline("a", "b"); err != nil {
		t.Fatalf("Decline: %v", err)
	}

	ok, _ := s.AreFriends("a", "b")
	if ok {
		t.Error("decline must not create a friendship")
	}
	// Declined pair can start over.
	if err := s.Request("a", "b"); err != nil {
		t.Errorf("re-request after decline = %v", err)
	}
}

func TestRemoveNotFriends(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Remove("a", "b"); !errors.Is(err, ErrNotFriends) {
		t.Errorf("Remove = %v, want ErrNotFriends", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	if err := s.Request("a", "b"); err != nil {
		t.Fatal(err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Accept("a", "b")
		}()
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNoPendingRequest):
			losses++
		default:
			t.Errorf("unexpected accept error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != racers-1 {
		t.Errorf("losses = %d, want %d", losses, racers-1)
	}

	// Outcome is symmetric regardless of the race.
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		ok, _ := s.AreFriends(pair[0], pair[1])
		if !ok {
			t.Errorf("AreFriends(%s, %s) = false", pair[0], pair[1])
		}
	}
}

func TestRelationshipEvents(t *testing.T) {
	s, b, db := testStore(t)
	addUser(t, db, "a", "Alice")
	addUser(t, db, "b", "Bob")

	ch, unsub := b.Subscribe("friend.", 16)
	defer unsub()

	if err := s.Request("a", "b"); err != nil {
		t.Fatal(err)
	}
	evt := waitEvent(t, ch)
	if evt.Kind != EventRequested {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventRequested)
	}
	req := evt.Payload.(RequestEvent)
	if req.To != "b" || req.From.ID != "a" || req.From.FullName != "Alice" {
		t.Errorf("request event = %+v", req)
	}

	if err := s.Accept("a", "b"); err != nil {
		t.Fatal(err)
	}
	evt = waitEvent(t, ch)
	if evt.Kind != EventAccepted {
		t.Fatalf("kind = %q, want %q", evt.Kind, EventAccepted)
	}
	acc := evt.Payload.(AcceptEvent)
	if acc.To != "a" || acc.Friend.ID != "b" {
		t.Errorf("accept event = %+v", acc)
	}
}

func TestSearchExcludesRelated(t *testing.T) {
	s, _, db := testStore(t)
	addUser(t, db, "me", "Sam Porter")
	addUser(t, db, "friend", "Sam Friend")
	addUser(t, db, "pending", "Sam Pending")
	addUser(t, db, "stranger", "Sam Stranger")

	if err := s.Request("me", "friend"); err != nil {
		t.Fatal(err)
	}
	if err := s.Accept("me", "friend"); err != nil {
		t.Fatal(err)
	}
	if err := s.Request("pending", "me"); err != nil {
		t.Fatal(err)
	}

	found, err := s.Search("me", "sam")
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].ID != "stranger" {
		t.Errorf("Search = %+v, want only stranger", found)
	}
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus event")
		return bus.Event{}
	}
}
