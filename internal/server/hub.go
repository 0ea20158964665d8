package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petasbytes/codeplayground/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one websocket message.
type Event struct {
	Type      string            `json:"type"` // snapshot, output or finished
	SessionID string            `json:"sessionId"`
	Line      string            `json:"line,omitempty"`
	Outcome   *session.Outcome  `json:"outcome,omitempty"`
	Session   *session.Snapshot `json:"session,omitempty"`
}

// client is a middleman between one websocket connection and the hub.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
}

// Hub fans session events out to websocket subscribers. It implements
// session.Listener.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]map[*client]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[string]map[*client]struct{})}
}

func (h *Hub) OnLine(sessionID, line string) {
	h.broadcast(Event{Type: "output", SessionID: sessionID, Line: line})
}

func (h *Hub) OnFinished(sessionID string, out session.Outcome) {
	h.broadcast(Event{Type: "finished", SessionID: sessionID, Outcome: &out})
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.sessionID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.sessionID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *client) {
	set, ok := h.clients[c.sessionID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.sessionID)
	}
}

// broadcast never blocks the running session; a subscriber whose buffer is
// full is dropped.
func (h *Hub) broadcast(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", "type", ev.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[ev.SessionID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("Dropping slow websocket client", "session_id", c.sessionID)
			h.removeLocked(c)
		}
	}
}

// Subscribers returns the number of clients watching sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[sessionID])
}

// serve upgrades the request and streams events for sessionID, starting with
// snap.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, sessionID string, snap session.Snapshot) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade websocket", "session_id", sessionID, "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer), sessionID: sessionID}
	initial, err := json.Marshal(Event{Type: "snapshot", SessionID: sessionID, Session: &snap})
	if err != nil {
		conn.Close()
		return
	}
	c.send <- initial
	h.register(c)

	go c.writePump()
	go c.readPump(h)
}

// readPump drains the connection so control frames are handled, and
// unregisters the client when the peer goes away.
func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("Unexpected websocket close", "session_id", c.sessionID, "err", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
