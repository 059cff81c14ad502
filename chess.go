/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Chessrelay Online Play
//
// Two anonymous browsers are paired into a room and every message one of
// them sends is forwarded, byte for byte, to the other. The server never
// looks inside game messages; move legality is the clients' business.
//
// Features:
// - WebSocket at /chess/ws pairs with the oldest waiting player
// - /chess/private/ws opens an invite-only room, /chess/room/:roomid/ws joins it
// - Invite page at /chess/room/:roomid, with a QR code at /chess/room/:roomid/qr
//   backed by go-qrcode
// - "session_info" on pairing, "peer_joined" / "peer_left" notices afterwards
// - Rooms idle longer than --idle-timeout are closed
// - Room listing at /chess/rooms, one room at /chess/rooms/:roomid
// - Text and binary frames are relayed as they arrived

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/chessrelay/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxNameLength = 32
	defaultName   = "Anonymous"

	qrSize = 320
)

var (
	errClientClosed  = errors.New("client closed")
	errSendQueueFull = errors.New("send queue full")
)

// SessionInfoMessage is the first thing a client hears once it has a room.
type SessionInfoMessage struct {
	Type    string       `json:"type"` // "session_info"
	ID      string       `json:"id"`
	Room    relay.RoomID `json:"room"`
	Private bool         `json:"private"`
	Peers   []string     `json:"peers"`
	Invite  string       `json:"invite,omitempty"` // path to share for private rooms
}

// ErrorMessage is sent before the server closes a connection it could not place.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// Client is one browser connection. It satisfies relay.Conn.
type Client struct {
	id   string
	name string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan frame
	closed bool
}

// frame is one queued websocket message.
type frame struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

func newClient(cfg *Config, conn *websocket.Conn, name string) *Client {
	return &Client{
		id:   uuid.NewString(),
		name: name,
		conn: conn,
		send: make(chan frame, cfg.sendBuffer),
	}
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Name() string { return c.name }

// Send queues a text message without blocking. A full queue drops the
// message.
func (c *Client) Send(data []byte) error {
	return c.enqueue(frame{kind: websocket.TextMessage, data: data})
}

// SendBinary is Send for binary messages.
func (c *Client) SendBinary(data []byte) error {
	return c.enqueue(frame{kind: websocket.BinaryMessage, data: data})
}

func (c *Client) enqueue(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClientClosed
	}

	select {
	case c.send <- f:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close drops the underlying connection; the read pump then reports the
// disconnect.
func (c *Client) Close() error {
	return c.conn.Close()
}

// shutdown stops the write pump once nothing else will be queued.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return c.Send(data)
}

func displayName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" || !utf8.ValidString(name) {
		return defaultName
	}

	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}

	return name
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// placement decides which room a freshly upgraded client goes to.
type placement func(m *relay.Manager, c *Client, ps httprouter.Params) (relay.RoomID, error)

func placeAuto(m *relay.Manager, c *Client, _ httprouter.Params) (relay.RoomID, error) {
	return m.OnConnect(c)
}

func placePrivate(m *relay.Manager, c *Client, _ httprouter.Params) (relay.RoomID, error) {
	return m.OnConnectPrivate(c)
}

func placeInvite(m *relay.Manager, c *Client, ps httprouter.Params) (relay.RoomID, error) {
	return m.OnJoin(relay.RoomID(ps.ByName("roomid")), c)
}

func placementError(err error) string {
	switch {
	case errors.Is(err, relay.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, relay.ErrRoomFull):
		return "room is full"
	default:
		return "unable to join room"
	}
}

func serveChessWS(cfg *Config, m *relay.Manager, place placement) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		name := displayName(r.URL.Query().Get("name"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Upgrade for %s failed: %v", realIP(r), err)
			return
		}

		client := newClient(cfg, conn, name)

		go client.writePump()

		room, err := place(m, client, ps)
		if err != nil {
			logf(cfg, "ROOMS: %s (%s) from %s could not be placed: %v", client.id, name, realIP(r), err)

			_ = client.sendJSON(ErrorMessage{Type: "error", Message: placementError(err)})
			m.OnDisconnect(client)
			client.shutdown()
			m.Forget(client)

			return
		}

		logf(cfg, "ROOMS: %s (%s) from %s playing in %s", client.id, name, realIP(r), room)

		client.readPump(cfg, m)
	}
}

func (c *Client) readPump(cfg *Config, m *relay.Manager) {
	defer func() {
		m.OnDisconnect(c)
		c.shutdown()
		m.Forget(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logf(cfg, "ERROR: Read from %s failed: %v", c.id, err)
			}
			return
		}

		forward := m.Relay
		if kind == websocket.BinaryMessage {
			forward = m.RelayBinary
		}

		if err := forward(c, data); err != nil {
			logf(cfg, "ERROR: Relay from %s failed: %v", c.id, err)
		}
	}
}

// writePump is the only writer on the connection, so queued messages leave
// in the order they were sent.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func invitePath(cfg *Config, path string, id relay.RoomID) string {
	return cfg.prefix + path + "/room/" + string(id)
}

// sessionInfo greets a newly placed client. It runs under the registry lock.
func sessionInfo(cfg *Config, path string) func(relay.Conn, relay.RoomInfo) {
	return func(conn relay.Conn, room relay.RoomInfo) {
		// The newcomer is always the last to have joined.
		peers := room.Players[:len(room.Players)-1]

		msg := SessionInfoMessage{
			Type:    "session_info",
			ID:      conn.ID(),
			Room:    room.ID,
			Private: room.Private,
			Peers:   peers,
		}
		if room.Private {
			msg.Invite = invitePath(cfg, path, room.ID)
		}

		data, err := json.Marshal(msg)
		if err != nil {
			logf(cfg, "ERROR: Unable to encode session info: %v", err)
			return
		}

		relay.Notify(relayLogf(cfg), conn, data)
	}
}

func serveRooms(cfg *Config, m *relay.Manager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		data, err := json.Marshal(m.Registry().Snapshot())
		if err != nil {
			http.Error(w, "unable to list rooms", http.StatusInternalServerError)
			errs <- err

			return
		}

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Room list (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveRoomInfo(cfg *Config, m *relay.Manager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		info, ok := m.Registry().Info(relay.RoomID(ps.ByName("roomid")))
		if !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(info); err != nil {
			errs <- err
		}
	}
}

// requestScheme is the scheme the client used to reach us. Only http and
// https are accepted from X-Forwarded-Proto.
func requestScheme(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	switch proto = strings.ToLower(strings.TrimSpace(proto)); proto {
	case "http", "https":
		scheme = proto
	}

	return scheme
}

// serveInvite is the page an invite link or QR code opens. It shows who is
// waiting and the websocket address a client joins through.
func serveInvite(cfg *Config, path string, m *relay.Manager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := relay.RoomID(ps.ByName("roomid"))

		info, ok := m.Registry().Info(id)
		if !ok {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)

			io.WriteString(w, newPage("Room not found", "This invite has expired."))

			return
		}

		wsScheme := "ws"
		if requestScheme(r) == "https" {
			wsScheme = "wss"
		}

		join := html.EscapeString(wsScheme + "://" + r.Host + invitePath(cfg, path, id) + "/ws?name=")
		qr := html.EscapeString(invitePath(cfg, path, id) + "/qr")

		status := "Waiting for an opponent."
		if len(info.Players) >= relay.Capacity {
			status = "This room is full."
		}

		var body strings.Builder

		body.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
		body.WriteString(fmt.Sprintf("<title>chessrelay: room %s</title></head><body>", html.EscapeString(string(id))))
		body.WriteString(fmt.Sprintf("<h1>Room %s</h1>", html.EscapeString(string(id))))
		if len(info.Players) > 0 {
			body.WriteString(fmt.Sprintf("<p>Hosted by %s. %s</p>", html.EscapeString(info.Players[0]), status))
		}
		body.WriteString(fmt.Sprintf("<p>Join at <code>%s</code></p>", join))
		body.WriteString(fmt.Sprintf("<img src=\"%s\" alt=\"QR code for this invite\" width=\"%d\" height=\"%d\">", qr, qrSize, qrSize))
		body.WriteString(`</body></html>`)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		if _, err := io.WriteString(w, body.String()); err != nil {
			errs <- err
		}
	}
}

// serveQR renders a PNG QR code pointing at a room's invite URL.
func serveQR(cfg *Config, path string, m *relay.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := relay.RoomID(ps.ByName("roomid"))
		if _, ok := m.Registry().Info(id); !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		url := requestScheme(r) + "://" + r.Host + invitePath(cfg, path, id)

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

// registerChessGame sets up routes so that:
//   - $path/ws                 → auto-paired websocket
//   - $path/private/ws         → websocket in a new invite-only room
//   - $path/rooms              → JSON list of rooms
//   - $path/rooms/:roomid      → JSON description of one room
//   - $path/room/:roomid       → HTML invite page, the target of invite links
//   - $path/room/:roomid/ws    → websocket joining that room
//   - $path/room/:roomid/qr    → PNG QR code for the invite page
func registerChessGame(ctx context.Context, cfg *Config, path string, mux *httprouter.Router, errs chan<- error) *relay.Manager {
	m := relay.NewManager(relay.NewRegistry(),
		relay.WithLogf(relayLogf(cfg)),
		relay.WithJoinNotices(cfg.announceJoins),
		relay.WithOnPaired(sessionInfo(cfg, path)),
	)

	go m.RunReaper(ctx, cfg.idleTimeout)

	mux.GET(cfg.prefix+path+"/ws", serveChessWS(cfg, m, placeAuto))
	mux.GET(cfg.prefix+path+"/private/ws", serveChessWS(cfg, m, placePrivate))
	mux.GET(cfg.prefix+path+"/rooms", serveRooms(cfg, m, errs))
	mux.GET(cfg.prefix+path+"/rooms/:roomid", serveRoomInfo(cfg, m, errs))
	mux.GET(cfg.prefix+path+"/room/:roomid", serveInvite(cfg, path, m, errs))
	mux.GET(cfg.prefix+path+"/room/:roomid/ws", serveChessWS(cfg, m, placeInvite))
	mux.GET(cfg.prefix+path+"/room/:roomid/qr", serveQR(cfg, path, m))

	return m
}
