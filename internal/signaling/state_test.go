package signaling

import "testing"

func TestCallTransitions(t *testing.T) {
	k := callKey{caller: "a", callee: "b"}

	tests := []struct {
		name    string
		from    CallState
		to      CallState
		wantErr bool
	}{
		{"ring from idle", Idle, Ringing, false},
		{"answer while ringing", Ringing, Active, false},
		{"cancel while ringing", Ringing, Idle, false},
		{"hang up active", Active, Idle, false},
		{"answer from idle", Idle, Active, true},
		{"ring while ringing", Ringing, Ringing, true},
		{"ring while active", Active, Ringing, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := newStateTable()
			if tt.from != Idle {
				table.calls[k] = tt.from
			}
			err := table.transition(k, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("transition(%s -> %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestTransitionToIdleClearsEntry(t *testing.T) {
	table := newStateTable()
	k := callKey{caller: "a", callee: "b"}

	if err := table.transition(k, Ringing); err != nil {
		t.Fatal(err)
	}
	if st := table.current(k); st != Ringing {
		t.Fatalf("state = %s, want RINGING", st)
	}

	if err := table.transition(k, Idle); err != nil {
		t.Fatal(err)
	}
	if st := table.current(k); st != Idle {
		t.Errorf("state = %s, want IDLE", st)
	}
	if len(table.calls) != 0 {
		t.Errorf("table still holds %d entries", len(table.calls))
	}
}

func TestDropUserReturnsPartners(t *testing.T) {
	table := newStateTable()
	if err := table.transition(callKey{caller: "a", callee: "b"}, Ringing); err != nil {
		t.Fatal(err)
	}
	if err := table.transition(callKey{caller: "c", callee: "a"}, Ringing); err != nil {
		t.Fatal(err)
	}

	partners := table.dropUser("a")
	if len(partners) != 2 {
		t.Fatalf("partners = %v", partners)
	}
	seen := map[string]bool{}
	for _, p := range partners {
		seen[p] = true
	}
	if !seen["b"] || !seen["c"] {
		t.Errorf("partners = %v, want b and c", partners)
	}
	if table.current(callKey{caller: "a", callee: "b"}) != Idle {
		t.Error("call a->b not cleared")
	}
}
