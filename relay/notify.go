/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import "encoding/json"

// Notice types generated by the relay itself.
const (
	NoticePeerJoined = "peer_joined"
	NoticePeerLeft   = "peer_left"
)

// Notice is a control message sent to a participant about its peer.
type Notice struct {
	Type string `json:"type"`
	Room RoomID `json:"room,omitempty"`
	Name string `json:"name,omitempty"`
}

// Logf receives diagnostic output.
type Logf func(format string, args ...any)

func discard(string, ...any) {}

// Notify is a best-effort send: failures are logged and never returned.
func Notify(logf Logf, c Conn, payload []byte) {
	if c == nil {
		return
	}

	if err := c.Send(payload); err != nil {
		logf("RELAY: Dropped %d byte message for %s: %v", len(payload), c.ID(), err)
	}
}

// NotifyBinary is Notify for binary payloads. Connections that do not
// implement BinarySender get them through Send.
func NotifyBinary(logf Logf, c Conn, payload []byte) {
	bs, ok := c.(BinarySender)
	if !ok {
		Notify(logf, c, payload)
		return
	}

	if err := bs.SendBinary(payload); err != nil {
		logf("RELAY: Dropped %d byte binary message for %s: %v", len(payload), c.ID(), err)
	}
}

func notifyNotice(logf Logf, c Conn, n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		logf("RELAY: Unable to encode %s notice: %v", n.Type, err)
		return
	}

	Notify(logf, c, data)
}
