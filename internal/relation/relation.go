// Package relation maintains the mutual-friendship graph and pending
// request edges. All mutations for a given user pair are serialized under
// a per-pair lock, and the two-sided writes commit in one transaction, so
// no caller ever observes a half-friendship.
package relation

import (
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/huddle-chat/huddle/internal/bus"
	"github.com/huddle-chat/huddle/internal/store"
)

// Bus event kinds published on relationship changes.
const (
	EventRequested = "friend.requested"
	EventAccepted  = "friend.accepted"
)

// RequestEvent notifies the recipient of a new friend request.
type RequestEvent struct {
	To   string
	From store.User
}

// AcceptEvent notifies the original requester that the request was accepted.
type AcceptEvent struct {
	To     string
	Friend store.User
}

// User-correctable validation and conflict errors. None of them leave any
// state change behind.
var (
	ErrSelfReference    = errors.New("cannot befriend yourself")
	ErrUserNotFound     = errors.New("user not found")
	ErrAlreadyFriends   = errors.New("already friends")
	ErrDuplicateRequest = errors.New("friend request already pending")
	ErrNoPendingRequest = errors.New("no pending friend request")
	ErrNotFriends       = errors.New("not friends")
)

const lockStripes = 64

// SearchLimit bounds the result count of Search.
const SearchLimit = 10

// Store owns relationship-state transitions between user pairs.
type Store struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger

	// Striped per-pair locks: unrelated pairs proceed concurrently, the
	// same pair (in either order) always hits the same stripe.
	locks [lockStripes]sync.Mutex
}

// New creates a relationship store backed by db.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Store {
	return &Store{db: db, bus: b, logger: logger}
}

func (s *Store) pairLock(a, b string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(store.PairKey(a, b)))
	return &s.locks[h.Sum32()%lockStripes]
}

// Request transitions (from, to) from Unrelated to RequestPending(from).
func (s *Store) Request(from, to string) error {
	if from == to {
		return ErrSelfReference
	}

	lock := s.pairLock(from, to)
	lock.Lock()
	err := s.requestLocked(from, to)
	lock.Unlock()
	if err != nil {
		return err
	}

	requester, err := s.db.GetUser(from)
	if err != nil || requester == nil {
		s.logger.Warn("requester profile unavailable for event",
			zap.String("from", from), zap.Error(err))
		requester = &store.User{ID: from}
	}
	s.bus.Publish(EventRequested, RequestEvent{To: to, From: *requester})
	return nil
}

func (s *Store) requestLocked(from, to string) error {
	target, err := s.db.GetUser(to)
	if err != nil {
		return err
	}
	if target == nil {
		return ErrUserNotFound
	}

	friends, err := s.db.AreFriends(from, to)
	if err != nil {
		return err
	}
	if friends {
		return ErrAlreadyFriends
	}

	// Pending in either direction blocks a new request.
	for _, dir := range [][2]string{{from, to}, {to, from}} {
		pending, err := s.db.HasFriendRequest(dir[0], dir[1])
		if err != nil {
			return err
		}
		if pending {
			return ErrDuplicateRequest
		}
	}

	return s.db.CreateFriendRequest(from, to)
}

// Accept transitions RequestPending(requester) to Friends on both records
// atomically. Two racing accepts for the same request resolve to exactly
// one winner; the loser gets ErrNoPendingRequest.
func (s *Store) Accept(requester, accepter string) error {
	lock := s.pairLock(requester, accepter)
	lock.Lock()
	err := s.db.AcceptFriendRequest(requester, accepter)
	lock.Unlock()

	if errors.Is(err, store.ErrNotApplied) {
		return ErrNoPendingRequest
	}
	if err != nil {
		return err
	}

	friend, err := s.db.GetUser(accepter)
	if err != nil || friend == nil {
		s.logger.Warn("accepter profile unavailable for event",
			zap.String("accepter", accepter), zap.Error(err))
		friend = &store.User{ID: accepter}
	}
	s.bus.Publish(EventAccepted, AcceptEvent{To: requester, Friend: *friend})
	return nil
}

// Decline removes a pending request without creating a friendship.
func (s *Store) Decline(requester, decliner string) error {
	lock := s.pairLock(requester, decliner)
	lock.Lock()
	defer lock.Unlock()

	removed, err := s.db.DeleteFriendRequest(requester, decliner)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNoPendingRequest
	}
	return nil
}

// Remove transitions Friends to Unrelated on both records atomically.
func (s *Store) Remove(a, b string) error {
	lock := s.pairLock(a, b)
	lock.Lock()
	defer lock.Unlock()

	err := s.db.RemoveFriendship(a, b)
	if errors.Is(err, store.ErrNotApplied) {
		return ErrNotFriends
	}
	return err
}

// AreFriends reports the current symmetric friendship state of a pair.
func (s *Store) AreFriends(a, b string) (bool, error) {
	return s.db.AreFriends(a, b)
}

// Friends returns the user's friend profiles.
func (s *Store) Friends(userID string) ([]store.User, error) {
	return s.db.ListFriends(userID)
}

// Requests returns profiles of users with a pending request to userID.
func (s *Store) Requests(userID string) ([]store.User, error) {
	return s.db.ListFriendRequests(userID)
}

// Search matches name/email case-insensitively, excluding the searcher and
// everyone already friends or pending with them, capped at SearchLimit.
func (s *Store) Search(userID, query string) ([]store.User, error) {
	related, err := s.db.RelatedIDs(userID)
	if err != nil {
		return nil, err
	}
	exclude := append(related, userID)
	return s.db.SearchUsers(query, exclude, SearchLimit)
}
