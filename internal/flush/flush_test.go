package flush

import "testing"

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker()

	if _, ok := tr.Get(7); ok {
		t.Fatal("untracked segment must not report a state")
	}

	tr.Set(7, StateFlushing)
	if s, ok := tr.Get(7); !ok || s != StateFlushing {
		t.Fatalf("got %v ok=%v, want flushing", s, ok)
	}

	tr.Set(7, StateWritten)
	tr.Set(7, StateVerified)
	if s, _ := tr.Get(7); s != StateVerified {
		t.Fatalf("got %v, want verified", s)
	}

	tr.Forget(7)
	if _, ok := tr.Get(7); ok {
		t.Fatal("forgotten segment must not report a state")
	}
}

func TestStateStrings(t *testing.T) {
	cases := map[State]string{
		StateFlushing: "flushing",
		StateWritten:  "written",
		StateVerified: "verified",
		StateFailed:   "failed",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Fatalf("state %d: got %q want %q", state, state.String(), want)
		}
	}
}
