/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
)

var errSendFailed = errors.New("send failed")

// fakeConn records everything sent to it.
type fakeConn struct {
	id   string
	name string

	mu       sync.Mutex
	messages [][]byte
	binary   [][]byte
	closed   bool
	failSend bool
}

func newFakeConn(name string) *fakeConn {
	return &fakeConn{id: "conn-" + name, name: name}
}

func (f *fakeConn) ID() string   { return f.id }
func (f *fakeConn) Name() string { return f.name }

func (f *fakeConn) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend {
		return errSendFailed
	}

	f.messages = append(f.messages, append([]byte(nil), payload...))

	return nil
}

func (f *fakeConn) SendBinary(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSend {
		return errSendFailed
	}

	f.binary = append(f.binary, append([]byte(nil), payload...))

	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

func (f *fakeConn) Messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte(nil), f.messages...)
}

func (f *fakeConn) Binary() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([][]byte(nil), f.binary...)
}

func (f *fakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// notices decodes the relay-generated notices of the given type.
func (f *fakeConn) notices(typ string) []Notice {
	var out []Notice
	for _, m := range f.Messages() {
		var n Notice
		if err := json.Unmarshal(m, &n); err == nil && n.Type == typ {
			out = append(out, n)
		}
	}

	return out
}

// newTestRegistry returns a registry with predictable room IDs.
func newTestRegistry() *Registry {
	r := NewRegistry()

	var (
		mu sync.Mutex
		n  int
	)
	r.newID = func() RoomID {
		mu.Lock()
		defer mu.Unlock()
		n++

		return RoomID(fmt.Sprintf("room-%d", n))
	}

	return r
}

// checkInvariants fails the test if any room is over capacity or any
// connection sits in more than one room.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[Conn]RoomID)
	for id, room := range r.rooms {
		if n := len(room.participants); n == 0 || n > Capacity {
			t.Errorf("room %s has %d participants", id, n)
		}
		for _, p := range room.participants {
			if other, dup := seen[p]; dup {
				t.Errorf("connection %s in both %s and %s", p.ID(), other, id)
			}
			seen[p] = id
		}
	}

	if len(r.order) != len(r.rooms) {
		t.Errorf("order tracks %d rooms, map holds %d", len(r.order), len(r.rooms))
	}
}
