package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/gregtusar/liquidvex/pkg/models"
	"github.com/gregtusar/liquidvex/pkg/session"
	"github.com/gregtusar/liquidvex/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPushInterval = 250 * time.Millisecond

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is enforced on the REST routes; the view socket is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewFrame is pushed to every view client whenever the derived state moves.
type ViewFrame struct {
	Type          string                  `json:"type"`
	View          store.View              `json:"view"`
	Status        models.ConnectionStatus `json:"status"`
	Notifications []models.Notification   `json:"notifications"`
	InFlight      bool                    `json:"inFlight"`
}

// frameKey changes whenever a frame would differ from the last one pushed.
type frameKey struct {
	version   uint64
	notes     int
	lastNote  string
	connected bool
	streams   string
	inFlight  bool
}

// streamsKey renders per-stream states as sorted name=state pairs.
func streamsKey(streams map[string]string) string {
	pairs := make([]string, 0, len(streams))
	for name, state := range streams {
		pairs = append(pairs, name+"="+state)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Hub fans the session view out to websocket clients. Run owns the client
// set; everything else talks to it over channels.
type Hub struct {
	store    *store.Store
	session  *session.Session
	logger   *logrus.Logger
	interval time.Duration

	clients    map[*viewClient]struct{}
	register   chan *viewClient
	unregister chan *viewClient
	done       chan struct{}
}

func NewHub(st *store.Store, sess *session.Session, logger *logrus.Logger, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	return &Hub{
		store:      st,
		session:    sess,
		logger:     logger,
		interval:   interval,
		clients:    make(map[*viewClient]struct{}),
		register:   make(chan *viewClient),
		unregister: make(chan *viewClient),
		done:       make(chan struct{}),
	}
}

func (h *Hub) frame() (ViewFrame, frameKey) {
	f := ViewFrame{
		Type:          "view",
		View:          h.store.Snapshot(),
		Status:        h.session.Status(),
		Notifications: h.session.Notifications().List(false),
		InFlight:      h.session.InFlight(),
	}
	key := frameKey{
		version:   f.View.Version,
		notes:     len(f.Notifications),
		connected: f.Status.Connected,
		streams:   streamsKey(f.Status.Streams),
		inFlight:  f.InFlight,
	}
	if len(f.Notifications) > 0 {
		key.lastNote = f.Notifications[0].ID
	}
	return f, key
}

func (h *Hub) encode() ([]byte, frameKey, bool) {
	f, key := h.frame()
	msg, err := json.Marshal(f)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode view frame")
		return nil, key, false
	}
	return msg, key, true
}

// Run polls the view and pushes a frame on every change until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	var last frameKey
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.WithFields(logrus.Fields{"client": c.id, "total": len(h.clients)}).Debug("View client connected")
			if msg, _, ok := h.encode(); ok {
				h.send(c, msg)
			}

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.WithFields(logrus.Fields{"client": c.id, "total": len(h.clients)}).Debug("View client disconnected")
			}

		case <-ticker.C:
			if len(h.clients) == 0 {
				continue
			}
			_, key := h.frame()
			if key == last {
				continue
			}
			msg, key, ok := h.encode()
			if !ok {
				continue
			}
			last = key
			for c := range h.clients {
				h.send(c, msg)
			}
		}
	}
}

// send drops clients that cannot keep up instead of blocking the hub.
func (h *Hub) send(c *viewClient, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.WithField("client", c.id).Warn("View client too slow, dropping")
		h.drop(c)
	}
}

func (h *Hub) drop(c *viewClient) {
	delete(h.clients, c)
	close(c.send)
}

// ServeWS upgrades the request and registers the connection with the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("View socket upgrade failed")
		return
	}
	c := &viewClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump(h)
}

type viewClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// readPump only exists to process control frames and notice the close.
func (c *viewClient) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("View socket read error")
			}
			return
		}
	}
}

func (c *viewClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
