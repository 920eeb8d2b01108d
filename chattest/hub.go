package chattest

import (
	"log"
	"strings"

	"github.com/gorilla/websocket"

	"homechat/wire"
)

// Hub is the stub broker: it tracks connected clients and their topic
// subscriptions, and fans published frames out to every subscriber of the
// matching topic. All bookkeeping, including subscription changes, happens
// on the Run goroutine.
type Hub struct {
	logger     *log.Logger
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	inbound    chan inboundFrame
	done       chan struct{}
}

type inboundFrame struct {
	from *client // nil for server-originated frames
	env  wire.Envelope
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan wire.Envelope
	topics map[string]bool
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundFrame, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Printf("broker client connected. Total: %d", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Printf("broker client disconnected. Total: %d", len(h.clients))
			}

		case in := <-h.inbound:
			h.handle(in)

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	close(h.done)
}

// Broadcast publishes a server-originated frame (e.g. a STATUS_UPDATE after
// a REST status change) to a topic's subscribers.
func (h *Hub) Broadcast(env wire.Envelope) {
	select {
	case h.inbound <- inboundFrame{env: env}:
	case <-h.done:
	}
}

func (h *Hub) handle(in inboundFrame) {
	switch in.env.Type {
	case wire.TypeSubscribe:
		if in.from != nil {
			in.from.topics[in.env.Destination] = true
		}
	case wire.TypeUnsubscribe:
		if in.from != nil {
			delete(in.from.topics, in.env.Destination)
		}
	default:
		h.fanOut(in.env)
	}
}

func (h *Hub) fanOut(env wire.Envelope) {
	topic := topicFromDestination(env.Destination)
	if topic == "" {
		h.logger.Printf("dropping frame with unroutable destination %q", env.Destination)
		return
	}
	out := env
	out.Destination = topic

	for c := range h.clients {
		if !c.topics[topic] {
			continue
		}
		select {
		case c.send <- out:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// topicFromDestination maps a publish destination to its delivery topic.
// /app/chat/{id}/send and /app/chat/{id}/typing both deliver on
// /topic/chat/{id}; frames already addressed to a topic pass through.
func topicFromDestination(dest string) string {
	if strings.HasPrefix(dest, "/topic/chat/") {
		return dest
	}
	rest := strings.TrimPrefix(dest, "/app/chat/")
	if rest == dest {
		return ""
	}
	roomID, _, ok := strings.Cut(rest, "/")
	if !ok || roomID == "" {
		return ""
	}
	return "/topic/chat/" + roomID
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	for {
		var env wire.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Printf("broker read error: %v", err)
			}
			break
		}
		select {
		case c.hub.inbound <- inboundFrame{from: c, env: env}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for env := range c.send {
		if err := c.conn.WriteJSON(env); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
