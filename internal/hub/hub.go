package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"idlecore/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
	sendBuffer = 256
)

// Dispatcher applies an inbound command for a player. *session.Manager
// satisfies it.
type Dispatcher interface {
	Handle(ctx context.Context, playerKey string, cmd session.Command) (session.Event, error)
}

// ErrorFunc maps a dispatch error to a short code for the client.
type ErrorFunc func(err error) string

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type errorData struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type errorEvent struct {
	Type string    `json:"type"`
	Data errorData `json:"data"`
}

type client struct {
	hub    *Hub
	player string
	conn   *websocket.Conn
	send   chan []byte
}

// delivery targets every socket of player, or only to when set.
type delivery struct {
	player string
	to     *client
	msg    []byte
}

// Hub fans outbound events out to every socket a player has open.
type Hub struct {
	dispatch  Dispatcher
	errorCode ErrorFunc
	log       *slog.Logger
	upgrader  websocket.Upgrader

	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	deliver    chan delivery
	// done is closed when Run returns.
	done chan struct{}
}

func New(dispatch Dispatcher, errorCode ErrorFunc, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if errorCode == nil {
		errorCode = func(error) string { return "error" }
	}
	return &Hub{
		dispatch:  dispatch,
		errorCode: errorCode,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery, 1024),
		done:       make(chan struct{}),
	}
}

// Run owns the client registry until ctx is done. Only Run closes a
// client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*client]bool)
			return

		case c := <-h.register:
			set := h.clients[c.player]
			if set == nil {
				set = make(map[*client]bool)
				h.clients[c.player] = set
			}
			set[c] = true
			h.log.Debug("socket registered", "player", c.player, "sockets", len(set))

		case c := <-h.unregister:
			h.drop(c)

		case d := <-h.deliver:
			if d.to != nil {
				if h.clients[d.player][d.to] {
					h.push(d.to, d.msg)
				}
				continue
			}
			for c := range h.clients[d.player] {
				h.push(c, d.msg)
			}
		}
	}
}

func (h *Hub) push(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.log.Warn("socket send buffer full, dropping client", "player", c.player)
		h.drop(c)
	}
}

func (h *Hub) drop(c *client) {
	set := h.clients[c.player]
	if !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.player)
	}
}

// Send implements session.Sink.
func (h *Hub) Send(playerKey string, ev session.Event) {
	msg, err := session.Encode(ev)
	if err != nil {
		h.log.Error("encode event", "type", ev.EventType(), "err", err)
		return
	}
	h.queue(delivery{player: playerKey, msg: msg})
}

func (h *Hub) queue(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	default:
		h.log.Warn("hub delivery queue full, message dropped", "player", d.player)
	}
}

// ServeWS upgrades the request and attaches the socket to playerKey.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, playerKey string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "player", playerKey, "err", err)
		return
	}
	c := &client{hub: h, player: playerKey, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read", "player", c.player, "err", err)
			}
			return
		}
		c.handle(raw)
	}
}

func (c *client) handle(raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		c.reply(errorEvent{Type: "error", Data: errorData{Code: "bad_message", Error: err.Error()}})
		return
	}
	cmd, err := session.DecodeCommand(in.Type, in.Data)
	if err != nil {
		c.reply(errorEvent{Type: "error", Data: errorData{Code: "bad_command", Error: err.Error()}})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	ev, err := c.hub.dispatch.Handle(ctx, c.player, cmd)
	// Purchase results reach every socket through the sink.
	if _, ok := ev.(session.PurchaseResult); ok {
		return
	}
	if err != nil {
		c.reply(errorEvent{Type: "error", Data: errorData{Code: c.hub.errorCode(err), Error: err.Error()}})
		return
	}
	msg, err := session.Encode(ev)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

// enqueue routes a direct reply through Run, which owns c.send.
func (c *client) enqueue(msg []byte) {
	c.hub.queue(delivery{player: c.player, to: c, msg: msg})
}

func (c *client) reply(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.enqueue(msg)
}

func (c *client) writePump() {
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
