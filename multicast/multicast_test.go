package multicast

import (
	"net"
	"sort"
	"testing"
)

func sortedU16(s []uint16) []uint16 {
	out := append([]uint16(nil), s...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestGroupAddr(t *testing.T) {
	got := GroupAddr(1).String()
	want := net.IPv4(239, 255, 0, 1).String()
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

// TestReconcile: desired {1,2} -> reconcile to enabled {3} leaves the
// desired set == {3}. No socket is bound, so no group is joined or left.
func TestReconcile(t *testing.T) {
	m := New(nil)
	m.Reconcile([]uint16{1, 2})

	got := sortedU16(m.Desired())
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("initial desired set wrong: %v", got)
	}

	m.Reconcile([]uint16{3})
	got = sortedU16(m.Desired())
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("reconciled desired set wrong: %v", got)
	}
}

func TestUniverseZeroNeverJoined(t *testing.T) {
	m := New(nil)
	if err := m.RequestJoin(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m.Desired()) != 0 {
		t.Fatalf("universe 0 must never be joined")
	}

	m.Reconcile([]uint16{0, 5})
	got := m.Desired()
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("reconcile must drop universe 0: %v", got)
	}
}

func TestDesiredSetCapped(t *testing.T) {
	m := New(nil)
	for u := uint16(1); u <= maxGroups; u++ {
		if err := m.RequestJoin(u); err != nil {
			t.Fatalf("join %d: unexpected error: %v", u, err)
		}
	}
	if err := m.RequestJoin(maxGroups + 1); err == nil {
		t.Fatalf("want error when exceeding the group cap")
	}
	if len(m.Desired()) != maxGroups {
		t.Fatalf("desired set should still hold exactly %d groups", maxGroups)
	}
}

func TestRequestLeaveRemovesFromDesired(t *testing.T) {
	m := New(nil)
	m.RequestJoin(7)
	m.RequestLeave(7)
	if len(m.Desired()) != 0 {
		t.Fatalf("leave did not clear the desired set")
	}
}
