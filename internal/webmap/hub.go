// Package webmap drives the browser map page. The Hub implements
// mapsync.Widget by broadcasting marker operations to every connected
// websocket client and replaying current state to late joiners.
package webmap

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldtrack/tracker/internal/mapsync"
	"github.com/fieldtrack/tracker/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientSendSlot = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The page is served by this process; same-origin checks add nothing.
	CheckOrigin: func(*http.Request) bool { return true },
}

type mapOp struct {
	Op      string                  `json:"op"`
	Marker  *mapsync.Marker         `json:"marker,omitempty"`
	Bounds  *mapsync.Bounds         `json:"bounds,omitempty"`
	MaxZoom int                     `json:"maxZoom,omitempty"`
	Lat     float64                 `json:"lat,omitempty"`
	Lng     float64                 `json:"lng,omitempty"`
	Zoom    int                     `json:"zoom,omitempty"`
	Health  *model.ConnectionHealth `json:"health,omitempty"`
	Message string                  `json:"message,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans map operations out to websocket clients. It keeps the last
// marker per agent and the last framing op so a client that connects late
// sees the current picture immediately.
type Hub struct {
	log *log.Logger

	mu        sync.Mutex
	clients   map[*client]struct{}
	markers   map[string]mapsync.Marker
	markerIDs []string
	lastFrame *mapOp
	health    *model.ConnectionHealth
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		log:     logger,
		clients: make(map[*client]struct{}),
		markers: make(map[string]mapsync.Marker),
	}
}

// Ready implements mapsync.Widget. The hub accepts operations from the
// moment it exists; with no clients connected a broadcast is a no-op and
// state is still recorded for replay.
func (h *Hub) Ready() bool { return true }

func (h *Hub) CreateMarker(m mapsync.Marker) { h.markerOp("create", m) }

func (h *Hub) UpdateMarker(m mapsync.Marker) { h.markerOp("update", m) }

func (h *Hub) RemoveMarker(agentID string) {
	h.mu.Lock()
	if _, ok := h.markers[agentID]; ok {
		delete(h.markers, agentID)
		for i, id := range h.markerIDs {
			if id == agentID {
				h.markerIDs = append(h.markerIDs[:i], h.markerIDs[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	h.broadcast(mapOp{Op: "remove", Marker: &mapsync.Marker{AgentID: agentID}})
}

func (h *Hub) FitBounds(b mapsync.Bounds, maxZoom int) {
	op := mapOp{Op: "fit", Bounds: &b, MaxZoom: maxZoom}
	h.mu.Lock()
	h.lastFrame = &op
	h.mu.Unlock()
	h.broadcast(op)
}

func (h *Hub) SetView(lat, lng float64, zoom int) {
	op := mapOp{Op: "view", Lat: lat, Lng: lng, Zoom: zoom}
	h.mu.Lock()
	h.lastFrame = &op
	h.mu.Unlock()
	h.broadcast(op)
}

// PushHealth forwards connection health to the page's status indicator.
func (h *Hub) PushHealth(health model.ConnectionHealth) {
	h.mu.Lock()
	h.health = &health
	h.mu.Unlock()
	h.broadcast(mapOp{Op: "health", Health: &health})
}

// Notice shows a user-visible, non-blocking message on the page.
func (h *Hub) Notice(msg string) {
	h.broadcast(mapOp{Op: "notice", Message: msg})
}

func (h *Hub) markerOp(kind string, m mapsync.Marker) {
	h.mu.Lock()
	if _, ok := h.markers[m.AgentID]; !ok {
		h.markerIDs = append(h.markerIDs, m.AgentID)
	}
	h.markers[m.AgentID] = m
	h.mu.Unlock()
	h.broadcast(mapOp{Op: kind, Marker: &m})
}

func (h *Hub) broadcast(op mapOp) {
	buf, err := json.Marshal(op)
	if err != nil {
		h.log.Printf("[webmap] marshal op: %v", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- buf:
		default:
			// Slow consumer: drop it rather than stall the sync cycle.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// replayOps builds the catch-up sequence for a new client.
func (h *Hub) replayOps() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out [][]byte
	appendOp := func(op mapOp) {
		if buf, err := json.Marshal(op); err == nil {
			out = append(out, buf)
		}
	}
	if h.health != nil {
		appendOp(mapOp{Op: "health", Health: h.health})
	}
	for _, id := range h.markerIDs {
		m := h.markers[id]
		appendOp(mapOp{Op: "create", Marker: &m})
	}
	if h.lastFrame != nil {
		appendOp(*h.lastFrame)
	}
	return out
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("[webmap] upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientSendSlot)}

	replay := h.replayOps()
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Printf("[webmap] client connected (%d total)", n)

	go h.writePump(c)
	go h.readPump(c)

	for _, buf := range replay {
		select {
		case c.send <- buf:
		default:
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// The page never sends application messages; this loop only
		// services control frames and detects closure.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case buf, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
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

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	_ = c.conn.Close()
	h.log.Printf("[webmap] client disconnected (%d total)", n)
}

// ClientCount returns the number of attached clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
