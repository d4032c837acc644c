package signaling

import (
	"fmt"
	"slices"
	"sync"
)

// CallState tracks one directed caller -> callee pair.
type CallState string

const (
	// Idle pairs are not stored; it is the implicit state of any pair
	// without a table entry.
	Idle    CallState = "IDLE"
	Ringing CallState = "RINGING"
	Active  CallState = "ACTIVE"
)

// validTransitions defines allowed call state transitions.
var validTransitions = map[CallState][]CallState{
	Idle:    {Ringing},
	Ringing: {Active, Idle},
	Active:  {Idle},
}

type callKey struct {
	caller string
	callee string
}

// stateTable tracks in-progress calls. Purely in-memory: a restart or
// disconnect clears it, matching presence semantics.
type stateTable struct {
	mu    sync.Mutex
	calls map[callKey]CallState
}

func newStateTable() *stateTable {
	return &stateTable{calls: make(map[callKey]CallState)}
}

func (t *stateTable) current(k callKey) CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.calls[k]; ok {
		return st
	}
	return Idle
}

// transition attempts to move a pair to a new state. Returns an error if
// the transition is invalid from the pair's current state.
func (t *stateTable) transition(k callKey, to CallState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from := Idle
	if st, ok := t.calls[k]; ok {
		from = st
	}
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid call transition from %s to %s", from, to)
	}
	if to == Idle {
		delete(t.calls, k)
	} else {
		t.calls[k] = to
	}
	return nil
}

// clearPair removes call state between two users in either direction.
// Returns whether any state existed.
func (t *stateTable) clearPair(a, b string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cleared := false
	for _, k := range []callKey{{caller: a, callee: b}, {caller: b, callee: a}} {
		if _, ok := t.calls[k]; ok {
			delete(t.calls, k)
			cleared = true
		}
	}
	return cleared
}

// dropUser removes every call involving the user and returns the affected
// partners, so they can be told the call ended.
func (t *stateTable) dropUser(user string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var partners []string
	for k := range t.calls {
		if k.caller == user {
			partners = append(partners, k.callee)
			delete(t.calls, k)
		} else if k.callee == user {
			partners = append(partners, k.caller)
			delete(t.calls, k)
		}
	}
	return partners
}
