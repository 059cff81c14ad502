/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestAssignPairsSequentialArrivals(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	p := NewPairer(r)

	a, err := p.Assign(newFakeConn("alice"))
	if err != nil {
		t.Fatalf("assign alice: %v", err)
	}
	b, err := p.Assign(newFakeConn("bob"))
	if err != nil {
		t.Fatalf("assign bob: %v", err)
	}

	if a != b {
		t.Errorf("expected alice and bob in the same room, got %s and %s", a, b)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 room, got %d", r.Len())
	}
}

func TestAssignSkipsFullRoom(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	p := NewPairer(r)

	full, _ := p.Assign(newFakeConn("alice"))
	p.Assign(newFakeConn("bob"))

	c, err := p.Assign(newFakeConn("charlie"))
	if err != nil {
		t.Fatalf("assign charlie: %v", err)
	}
	if c == full {
		t.Fatalf("charlie placed into full room %s", full)
	}
	if n := len(r.Participants(full)); n != 2 {
		t.Errorf("expected full room to keep 2 participants, got %d", n)
	}

	checkInvariants(t, r)
}

func TestAssignRejectsPairedConnection(t *testing.T) {
	t.Parallel()
	p := NewPairer(newTestRegistry())
	alice := newFakeConn("alice")

	p.Assign(alice)
	if _, err := p.Assign(alice); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("expected ErrAlreadyPaired, got %v", err)
	}
	if _, err := p.Assign(nil); !errors.Is(err, ErrInvalidConn) {
		t.Errorf("expected ErrInvalidConn, got %v", err)
	}
}

func TestAssignConcurrent(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	p := NewPairer(r)

	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := p.Assign(newFakeConn(fmt.Sprintf("player-%d", i))); err != nil {
				t.Errorf("assign %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != n/Capacity {
		t.Errorf("expected %d rooms, got %d", n/Capacity, r.Len())
	}
	for _, room := range r.Snapshot() {
		if len(room.Players) != Capacity {
			t.Errorf("room %s has %d players", room.ID, len(room.Players))
		}
	}

	checkInvariants(t, r)
}

func TestJoinPrivateRoom(t *testing.T) {
	t.Parallel()
	r := newTestRegistry()
	p := NewPairer(r)

	id, err := p.AssignPrivate(newFakeConn("alice"))
	if err != nil {
		t.Fatalf("assign private: %v", err)
	}

	// Auto-pairing never lands in the invite room.
	other, _ := p.Assign(newFakeConn("bob"))
	if other == id {
		t.Fatal("bob auto-paired into private room")
	}

	if err := p.Join(id, newFakeConn("charlie")); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := p.Join(id, newFakeConn("dave")); !errors.Is(err, ErrRoomFull) {
		t.Errorf("expected ErrRoomFull, got %v", err)
	}
	if err := p.Join("nope", newFakeConn("erin")); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}

	checkInvariants(t, r)
}
