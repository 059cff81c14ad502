/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"context"
	"time"
)

const minReapInterval = 10 * time.Millisecond

// Manager reacts to transport connect, message and disconnect events.
// It shares the registry lock, so pairing, relaying and removal are
// serialized against each other.
type Manager struct {
	registry *Registry
	pairer   *Pairer
	states   map[Conn]State

	announceJoins bool
	onPaired      func(c Conn, room RoomInfo)
	logf          Logf
}

type Option func(*Manager)

// WithLogf routes diagnostic output to logf.
func WithLogf(logf Logf) Option {
	return func(m *Manager) {
		if logf != nil {
			m.logf = logf
		}
	}
}

// WithJoinNotices controls whether the waiting participant is told when
// its room fills up.
func WithJoinNotices(enabled bool) Option {
	return func(m *Manager) {
		m.announceJoins = enabled
	}
}

// WithOnPaired registers fn to run right after a connection is placed in a
// room, before any other message can reach it. fn runs under the registry
// lock and is bound by the same rules as Conn.Send.
func WithOnPaired(fn func(c Conn, room RoomInfo)) Option {
	return func(m *Manager) {
		m.onPaired = fn
	}
}

func NewManager(r *Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:      r,
		pairer:        NewPairer(r),
		states:        make(map[Conn]State),
		announceJoins: true,
		logf:          discard,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

// State reports where c is in its lifecycle. A disconnected connection
// reports Closed until it is forgotten.
func (m *Manager) State(c Conn) State {
	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	return m.states[c]
}

// OnConnect pairs c with a waiting connection, or parks it in a new room.
func (m *Manager) OnConnect(c Conn) (RoomID, error) {
	return m.connect(c, func() (RoomID, error) {
		return m.pairer.assignLocked(c)
	})
}

// OnConnectPrivate parks c in a new invite-only room.
func (m *Manager) OnConnectPrivate(c Conn) (RoomID, error) {
	return m.connect(c, func() (RoomID, error) {
		return m.pairer.assignPrivateLocked(c)
	})
}

// OnJoin places c in the named room. ErrRoomNotFound and ErrRoomFull are
// returned wrapped; c stays Unpaired.
func (m *Manager) OnJoin(id RoomID, c Conn) (RoomID, error) {
	return m.connect(c, func() (RoomID, error) {
		if err := m.pairer.joinLocked(id, c); err != nil {
			return "", err
		}

		return id, nil
	})
}

func (m *Manager) connect(c Conn, place func() (RoomID, error)) (RoomID, error) {
	if c == nil {
		return "", ErrInvalidConn
	}

	r := m.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	switch m.states[c] {
	case Paired:
		return "", ErrAlreadyPaired
	case Closed:
		return "", ErrConnClosed
	}

	m.states[c] = Unpaired

	id, err := place()
	if err != nil {
		return "", err
	}

	m.states[c] = Paired

	room := r.rooms[id]

	m.logf("ROOMS: %s (%s) joined %s [%d/%d]", c.ID(), c.Name(), id, len(room.participants), Capacity)

	if m.onPaired != nil {
		m.onPaired(c, room.info())
	}

	if m.announceJoins && len(room.participants) == Capacity {
		for _, p := range room.participants {
			if p != c {
				notifyNotice(m.logf, p, Notice{Type: NoticePeerJoined, Room: id, Name: c.Name()})
			}
		}
	}

	return id, nil
}

// OnDisconnect marks c Closed, removes it from its room and tells the
// remaining participant. Repeated calls are no-ops.
func (m *Manager) OnDisconnect(c Conn) {
	if c == nil {
		return
	}

	r := m.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	if state := m.states[c]; state == Unknown || state == Closed {
		return
	}
	m.states[c] = Closed

	id, paired := r.index[c]
	if !paired {
		m.logf("ROOMS: %s closed before pairing", c.ID())
		return
	}

	remaining := r.removeParticipantLocked(id, c)
	if len(remaining) == 0 {
		m.logf("ROOMS: %s left %s, room deleted", c.ID(), id)
		return
	}

	m.logf("ROOMS: %s left %s [%d/%d]", c.ID(), id, len(remaining), Capacity)

	for _, p := range remaining {
		notifyNotice(m.logf, p, Notice{Type: NoticePeerLeft, Room: id, Name: c.Name()})
	}
}

// Forget drops the record of a closed connection. The transport calls it
// once nothing will report events for c anymore; until then a Closed
// connection cannot be placed again.
func (m *Manager) Forget(c Conn) {
	if c == nil {
		return
	}

	m.registry.mu.Lock()
	defer m.registry.mu.Unlock()

	if m.states[c] == Closed {
		delete(m.states, c)
	}
}

// Relay forwards payload unchanged to the other participants of sender's
// room. Membership is checked at delivery time; a sender without a room or
// without a peer is ignored.
func (m *Manager) Relay(sender Conn, payload []byte) error {
	return m.relay(sender, payload, Notify)
}

// RelayBinary is Relay for binary payloads. Peers implementing BinarySender
// receive them through SendBinary.
func (m *Manager) RelayBinary(sender Conn, payload []byte) error {
	return m.relay(sender, payload, NotifyBinary)
}

func (m *Manager) relay(sender Conn, payload []byte, deliver func(Logf, Conn, []byte)) error {
	if sender == nil {
		return ErrInvalidConn
	}

	r := m.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	room, peers := r.peersLocked(sender)
	if room == nil {
		return nil
	}

	room.LastActive = r.now()

	for _, p := range peers {
		deliver(m.logf, p, payload)
	}

	return nil
}

// Reap closes every connection in rooms idle since before cutoff and returns
// the number of rooms affected. Removal happens when the transport reports
// the disconnects.
func (m *Manager) Reap(cutoff time.Time) int {
	r := m.registry

	r.mu.Lock()
	var (
		stale []Conn
		rooms int
	)
	for _, id := range r.order {
		room := r.rooms[id]
		if room.LastActive.Before(cutoff) {
			rooms++
			stale = append(stale, room.participants...)
			m.logf("ROOMS: Reaping idle room %s", id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		if err := c.Close(); err != nil {
			m.logf("ROOMS: Error closing %s: %v", c.ID(), err)
		}
	}

	return rooms
}

// RunReaper reaps rooms idle for longer than timeout until ctx is done,
// checking every timeout/2 but no more often than minReapInterval.
func (m *Manager) RunReaper(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}

	ticker := time.NewTicker(reapInterval(timeout))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap(m.registry.now().Add(-timeout))
		}
	}
}

func reapInterval(timeout time.Duration) time.Duration {
	return max(timeout/2, minReapInterval)
}
