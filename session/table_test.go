package session_test

import (
	"testing"

	"github.com/kanchonet/kanchonet-go/api"
	"github.com/kanchonet/kanchonet-go/session"
)

func TestTableAddAssignsMonotonicIDs(t *testing.T) {
	tbl := session.NewTable(10, 4096)
	s1, err := tbl.Add(api.SocketHandle(1))
	if err != nil {
		t.Fatal(err)
	}
	s2, err := tbl.Add(api.SocketHandle(2))
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID() == api.InvalidSessionID || s2.ID() == api.InvalidSessionID {
		t.Fatal("Add must never hand out InvalidSessionID")
	}
	if s2.ID() <= s1.ID() {
		t.Fatalf("SessionIDs must be strictly increasing: %d then %d", s1.ID(), s2.ID())
	}
}

func TestTableCapacity(t *testing.T) {
	tbl := session.NewTable(2, 4096)
	if _, err := tbl.Add(api.SocketHandle(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Add(api.SocketHandle(2)); err != nil {
		t.Fatal(err)
	}
	if !tbl.IsFull() {
		t.Fatal("table should report full at capacity")
	}
	if _, err := tbl.Add(api.SocketHandle(3)); err != api.ErrSessionLimitReached {
		t.Fatalf("Add() past capacity = %v, want ErrSessionLimitReached", err)
	}
}

func TestTableRemoveAndGet(t *testing.T) {
	tbl := session.NewTable(10, 4096)
	s, _ := tbl.Add(api.SocketHandle(1))
	if got, ok := tbl.Get(s.ID()); !ok || got != s {
		t.Fatal("Get() should find the added session")
	}
	if !tbl.Remove(s.ID()) {
		t.Fatal("Remove() should succeed for a present session")
	}
	if _, ok := tbl.Get(s.ID()); ok {
		t.Fatal("Get() should not find a removed session")
	}
	if tbl.Remove(s.ID()) {
		t.Fatal("Remove() should return false for an absent session")
	}
}

func TestTableForEachVisitsAll(t *testing.T) {
	tbl := session.NewTable(10, 4096)
	want := map[api.SessionID]bool{}
	for i := 0; i < 5; i++ {
		s, err := tbl.Add(api.SocketHandle(i))
		if err != nil {
			t.Fatal(err)
		}
		want[s.ID()] = true
	}
	got := map[api.SessionID]bool{}
	tbl.ForEach(func(s *session.Session) {
		got[s.ID()] = true
	})
	if len(got) != len(want) {
		t.Fatalf("ForEach visited %d sessions, want %d", len(got), len(want))
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("ForEach missed session %v", id)
		}
	}
}

func TestSessionLifecycleStateTransitions(t *testing.T) {
	tbl := session.NewTable(1, 4096)
	s, _ := tbl.Add(api.SocketHandle(1))
	if s.State() != api.StateIdle {
		t.Fatalf("new session state = %v, want Idle", s.State())
	}
	s.SetState(api.StateConnected)
	if s.State() != api.StateConnected {
		t.Fatalf("state = %v, want Connected", s.State())
	}
	if !s.CompareAndSwapState(api.StateConnected, api.StateDisconnected) {
		t.Fatal("CompareAndSwapState should succeed on matching state")
	}
	if s.CompareAndSwapState(api.StateConnected, api.StateDisconnected) {
		t.Fatal("CompareAndSwapState must be idempotent: second call should fail")
	}
}

func TestSessionSendInFlightIsSingleWinner(t *testing.T) {
	tbl := session.NewTable(1, 4096)
	s, _ := tbl.Add(api.SocketHandle(1))
	if !s.CompareAndSwapSendInFlight(false, true) {
		t.Fatal("first CompareAndSwapSendInFlight(false, true) should succeed")
	}
	if s.CompareAndSwapSendInFlight(false, true) {
		t.Fatal("second concurrent CompareAndSwapSendInFlight(false, true) must fail (I2)")
	}
}

func TestSessionUserSlotIsOpaque(t *testing.T) {
	tbl := session.NewTable(1, 4096)
	s, _ := tbl.Add(api.SocketHandle(1))
	type cookie struct{ n int }
	s.SetUserSlot(&cookie{n: 42})
	got, ok := s.UserSlot().(*cookie)
	if !ok || got.n != 42 {
		t.Fatal("UserSlot() should round-trip whatever was stored")
	}
}
