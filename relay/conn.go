/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package relay pairs anonymous connections two to a room and forwards
// opaque game messages between them.
package relay

// Conn is a transport-owned endpoint. Rooms only hold references to it.
//
// Send must not block and must not call back into the Registry or Manager;
// it is invoked while the registry lock is held.
type Conn interface {
	ID() string
	Name() string
	Send(payload []byte) error
	Close() error
}

// BinarySender is implemented by connections that keep binary payloads
// apart from text ones. It follows the same rules as Conn.Send.
type BinarySender interface {
	SendBinary(payload []byte) error
}

// State is the lifecycle position of a connection. Closed is terminal.
type State int

const (
	Unknown State = iota
	Unpaired
	Paired
	Closed
)

func (s State) String() string {
	switch s {
	case Unpaired:
		return "unpaired"
	case Paired:
		return "paired"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
