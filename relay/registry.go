/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"
)

// Capacity is the number of participants a room can hold.
const Capacity = 2

var (
	ErrRoomFull      = errors.New("room is full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlreadyPaired = errors.New("connection already belongs to a room")
	ErrInvalidConn   = errors.New("invalid connection")
	ErrConnClosed    = errors.New("connection closed")
)

// RoomID is an opaque room token.
type RoomID string

// Room pairs at most two connections, ordered by join.
type Room struct {
	ID           RoomID
	Private      bool
	CreatedAt    time.Time
	LastActive   time.Time
	participants []Conn
}

// RoomInfo is a read-only view of a room.
type RoomInfo struct {
	ID         RoomID    `json:"id"`
	Players    []string  `json:"players"`
	Private    bool      `json:"private"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Registry owns every room and the connection → room index.
// All membership changes go through it.
type Registry struct {
	mu    sync.Mutex
	rooms map[RoomID]*Room
	order []RoomID
	index map[Conn]RoomID

	newID func() RoomID
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[RoomID]*Room),
		index: make(map[Conn]RoomID),
		newID: randomRoomID,
		now:   time.Now,
	}
}

// randomRoomID generates a crypto-random 8-character room ID.
func randomRoomID() RoomID {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	const max = byte(255 - (256 % len(letters)))

	out := make([]byte, 0, 8)
	buf := make([]byte, 16)

	for len(out) < 8 {
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, letters[int(b)%len(letters)])
				if len(out) == 8 {
					break
				}
			}
		}
	}

	return RoomID(out)
}

func (r *Registry) CreateRoom() RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.createRoomLocked(false).ID
}

// FindJoinableRoom returns the earliest created public room with a free seat.
func (r *Registry) FindJoinableRoom() (RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.findJoinableRoomLocked()
	if room == nil {
		return "", false
	}

	return room.ID, true
}

func (r *Registry) AddParticipant(id RoomID, c Conn) error {
	if c == nil {
		return ErrInvalidConn
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.addParticipantLocked(id, c)
}

// RemoveParticipant drops c from the room, deletes the room once empty and
// returns whoever is left. Removing an absent connection is a no-op.
func (r *Registry) RemoveParticipant(id RoomID, c Conn) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.removeParticipantLocked(id, c)
}

// RoomOf reports the room c currently belongs to.
func (r *Registry) RoomOf(c Conn) (RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.index[c]

	return id, ok
}

// Participants returns the members of a room in join order.
func (r *Registry) Participants(id RoomID) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return nil
	}

	return append([]Conn(nil), room.participants...)
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.rooms)
}

// Snapshot lists every room in creation order.
func (r *Registry) Snapshot() []RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]RoomInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.rooms[id].info())
	}

	return out
}

// Info describes a single room.
func (r *Registry) Info(id RoomID) (RoomInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return RoomInfo{}, false
	}

	return room.info(), true
}

func (room *Room) info() RoomInfo {
	players := make([]string, 0, len(room.participants))
	for _, p := range room.participants {
		players = append(players, p.Name())
	}

	return RoomInfo{
		ID:         room.ID,
		Players:    players,
		Private:    room.Private,
		CreatedAt:  room.CreatedAt,
		LastActive: room.LastActive,
	}
}

func (r *Registry) createRoomLocked(private bool) *Room {
	id := r.newID()
	for {
		if _, exists := r.rooms[id]; !exists {
			break
		}
		id = r.newID()
	}

	now := r.now()
	room := &Room{
		ID:         id,
		Private:    private,
		CreatedAt:  now,
		LastActive: now,
	}

	r.rooms[id] = room
	r.order = append(r.order, id)

	return room
}

func (r *Registry) findJoinableRoomLocked() *Room {
	for _, id := range r.order {
		room := r.rooms[id]
		if !room.Private && len(room.participants) < Capacity {
			return room
		}
	}

	return nil
}

func (r *Registry) addParticipantLocked(id RoomID, c Conn) error {
	if _, paired := r.index[c]; paired {
		return ErrAlreadyPaired
	}

	room, ok := r.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}

	if len(room.participants) >= Capacity {
		return ErrRoomFull
	}

	room.participants = append(room.participants, c)
	room.LastActive = r.now()
	r.index[c] = id

	return nil
}

func (r *Registry) removeParticipantLocked(id RoomID, c Conn) []Conn {
	room, ok := r.rooms[id]
	if !ok {
		return nil
	}

	found := false
	dst := room.participants[:0]
	for _, p := range room.participants {
		if p == c {
			found = true
			continue
		}
		dst = append(dst, p)
	}
	room.participants = dst

	if !found {
		return append([]Conn(nil), room.participants...)
	}

	if r.index[c] == id {
		delete(r.index, c)
	}

	if len(room.participants) == 0 {
		r.deleteRoomLocked(id)

		return nil
	}

	room.LastActive = r.now()

	return append([]Conn(nil), room.participants...)
}

func (r *Registry) deleteRoomLocked(id RoomID) {
	delete(r.rooms, id)

	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// peersLocked returns the other members of c's room as of now.
func (r *Registry) peersLocked(c Conn) (*Room, []Conn) {
	id, ok := r.index[c]
	if !ok {
		return nil, nil
	}

	room := r.rooms[id]

	peers := make([]Conn, 0, Capacity-1)
	for _, p := range room.participants {
		if p != c {
			peers = append(peers, p)
		}
	}

	return room, peers
}
