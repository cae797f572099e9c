package quakepulse

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	Qo "github.com/maroda/quakepulse/obvy"
	Qt "github.com/maroda/quakepulse/types"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

// Message is everything sent down /ws, Type says which fields are set:
// hello, frames, remove, cursor, reset
type Message struct {
	Type    string    `json:"type"`
	Session string    `json:"session,omitempty"`
	Frames  []FrameD3 `json:"frames,omitempty"`
	ID      string    `json:"id,omitempty"`
	Cursor  *CursorD3 `json:"cursor,omitempty"`
	Window  *WindowD3 `json:"window,omitempty"`
	Sent    time.Time `json:"sent"`
}

// FrameD3 is a Frame shaped for the browser: kind by name, times in ms
type FrameD3 struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Radius  float64 `json:"r"`
	Opacity float64 `json:"opacity"`
	Fill    string  `json:"fill"`
	Title   string  `json:"title,omitempty"`
	AtMs    int64   `json:"atMs"`
}

type CursorD3 struct {
	X      float64 `json:"x"`
	Radius float64 `json:"r"`
	Fill   string  `json:"fill"`
	AtMs   int64   `json:"atMs"`
}

type WindowD3 struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func KindName(k Qt.ElementKind) string {
	switch k {
	case Qt.Marker:
		return "marker"
	case Qt.Pulse:
		return "pulse"
	case Qt.Cursor:
		return "cursor"
	default:
		return "unknown"
	}
}

func FrameToD3(f Qt.Frame) FrameD3 {
	return FrameD3{
		ID:      f.ID,
		Kind:    KindName(f.Kind),
		X:       f.X,
		Y:       f.Y,
		Radius:  f.Radius,
		Opacity: f.Opacity,
		Fill:    f.Fill,
		Title:   f.Title,
		AtMs:    f.At.Milliseconds(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is the browser Rendering Surface. Every call is fanned out to all
// connected clients through their own buffered channel. A client that
// cannot keep up loses frames and cursor updates instead of stalling
// playback, but is disconnected when it would lose a remove or reset,
// so its reconnect starts from the current map.
// The latest frames and cursor are kept so late joiners see the map.
type Hub struct {
	MU      sync.RWMutex
	Stats   *Qo.StatsInternal
	clients map[*wsClient]struct{}
	session string
	window  *WindowD3
	last    []FrameD3
	cursor  *CursorD3
}

func NewHub(stats *Qo.StatsInternal) *Hub {
	return &Hub{
		Stats:   stats,
		clients: make(map[*wsClient]struct{}),
	}
}

// SetSession announces a new run to everyone and forgets the old one's frames
func (h *Hub) SetSession(id string, window Qt.ObservationWindow) {
	h.MU.Lock()
	h.session = id
	h.window = &WindowD3{Start: window.Start, End: window.End}
	h.last = nil
	h.cursor = nil
	h.MU.Unlock()

	h.broadcast(Message{Type: "reset"})
	h.broadcast(h.hello())
}

func (h *Hub) Draw(frames []Qt.Frame) {
	d3 := make([]FrameD3, len(frames))
	for i, f := range frames {
		d3[i] = FrameToD3(f)
	}

	h.MU.Lock()
	h.last = d3
	h.MU.Unlock()

	h.broadcast(Message{Type: "frames", Frames: d3})
}

func (h *Hub) Remove(id string) {
	h.broadcast(Message{Type: "remove", ID: id})
}

func (h *Hub) Cursor(x float64, at time.Duration) {
	c := &CursorD3{X: x, Radius: Qt.CursorRadius, Fill: Qt.CursorFill, AtMs: at.Milliseconds()}

	h.MU.Lock()
	h.cursor = c
	h.MU.Unlock()

	h.broadcast(Message{Type: "cursor", Cursor: c})
}

func (h *Hub) Clients() int {
	h.MU.RLock()
	defer h.MU.RUnlock()
	return len(h.clients)
}

func (h *Hub) hello() Message {
	h.MU.RLock()
	defer h.MU.RUnlock()
	return Message{Type: "hello", Session: h.session, Window: h.window}
}

// catchUp is what a new client needs to draw the current state
func (h *Hub) catchUp() []Message {
	msgs := []Message{h.hello()}

	h.MU.RLock()
	defer h.MU.RUnlock()
	if len(h.last) > 0 {
		msgs = append(msgs, Message{Type: "frames", Frames: h.last})
	}
	if h.cursor != nil {
		msgs = append(msgs, Message{Type: "cursor", Cursor: h.cursor})
	}
	return msgs
}

// mustDeliver messages change what is on the map for good
func mustDeliver(msgType string) bool {
	return msgType == "remove" || msgType == "reset"
}

func (h *Hub) broadcast(m Message) {
	m.Sent = time.Now().UTC()
	data, err := json.Marshal(m)
	if err != nil {
		slog.Error("Could not encode websocket message", slog.Any("Error", err))
		return
	}

	var slow []*wsClient
	h.MU.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			if h.Stats != nil {
				h.Stats.IncDropped()
			}
			if mustDeliver(m.Type) {
				slow = append(slow, c)
			}
		}
	}
	h.MU.RUnlock()

	for _, c := range slow {
		slog.Warn("Disconnecting slow websocket client", slog.String("missed", m.Type))
		h.unregister(c)
	}
}

func (h *Hub) register(c *wsClient) {
	h.MU.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.MU.Unlock()

	if h.Stats != nil {
		h.Stats.SetClients(n)
	}
	slog.Info("Websocket client connected", slog.Int("clients", n))
}

func (h *Hub) unregister(c *wsClient) {
	h.MU.Lock()
	if _, ok := h.clients[c]; !ok {
		h.MU.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.MU.Unlock()

	if h.Stats != nil {
		h.Stats.SetClients(n)
	}
	slog.Info("Websocket client disconnected", slog.Int("clients", n))
}

// Close disconnects every client
func (h *Hub) Close() {
	h.MU.Lock()
	defer h.MU.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// WebsocketHandler upgrades the request and streams messages until
// the client goes away
func (h *Hub) WebsocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", slog.Any("Error", err))
		return
	}
	defer conn.Close()

	c := &wsClient{conn: conn, send: make(chan []byte, clientBuffer)}
	for _, m := range h.catchUp() {
		m.Sent = time.Now().UTC()
		if err := conn.WriteJSON(m); err != nil {
			return
		}
	}
	h.register(c)

	// reads only watch for the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
				return
			}
		case <-gone:
			h.unregister(c)
			return
		}
	}
}
