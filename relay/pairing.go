/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"errors"
	"fmt"
)

// Pairer decides which room an arriving connection joins.
type Pairer struct {
	registry *Registry
}

func NewPairer(r *Registry) *Pairer {
	return &Pairer{registry: r}
}

// Assign places c in the first joinable room, or in a new one. The lookup
// and the insert happen under a single registry lock.
func (p *Pairer) Assign(c Conn) (RoomID, error) {
	if c == nil {
		return "", ErrInvalidConn
	}

	r := p.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	return p.assignLocked(c)
}

func (p *Pairer) assignLocked(c Conn) (RoomID, error) {
	r := p.registry

	if room := r.findJoinableRoomLocked(); room != nil {
		err := r.addParticipantLocked(room.ID, c)
		switch {
		case err == nil:
			return room.ID, nil
		case !errors.Is(err, ErrRoomFull):
			return "", err
		}
	}

	room := r.createRoomLocked(false)
	if err := r.addParticipantLocked(room.ID, c); err != nil {
		r.deleteRoomLocked(room.ID)

		return "", err
	}

	return room.ID, nil
}

// AssignPrivate creates an invite-only room holding c.
func (p *Pairer) AssignPrivate(c Conn) (RoomID, error) {
	if c == nil {
		return "", ErrInvalidConn
	}

	r := p.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	return p.assignPrivateLocked(c)
}

func (p *Pairer) assignPrivateLocked(c Conn) (RoomID, error) {
	r := p.registry

	room := r.createRoomLocked(true)
	if err := r.addParticipantLocked(room.ID, c); err != nil {
		r.deleteRoomLocked(room.ID)

		return "", err
	}

	return room.ID, nil
}

// Join places c in a named room. Unlike Assign, a full or missing room is
// reported to the caller.
func (p *Pairer) Join(id RoomID, c Conn) error {
	if c == nil {
		return ErrInvalidConn
	}

	r := p.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	return p.joinLocked(id, c)
}

func (p *Pairer) joinLocked(id RoomID, c Conn) error {
	if err := p.registry.addParticipantLocked(id, c); err != nil {
		return fmt.Errorf("join %s: %w", id, err)
	}

	return nil
}
