// Package transport owns the single realtime connection to the chat broker.
// One Conn is constructed per chat session and injected into whatever needs
// it; there is no package-level connection state.
package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"homechat/wire"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	}
	return "UNKNOWN"
}

type Config struct {
	// BrokerURL is the websocket endpoint, e.g. ws://host/ws/chat.
	BrokerURL string

	// Token is the bearer credential, carried both as an access_token
	// query parameter and in the connect headers.
	Token string

	// ReconnectDelay is the fixed wait between connect attempts
	// (default 5s). Retries continue until Disconnect is called.
	ReconnectDelay time.Duration

	// WriteTimeout bounds a single frame write (default 10s).
	WriteTimeout time.Duration
}

// Conn maintains one authenticated websocket to the broker. It reconnects
// forever at a fixed interval after any failure; there is no backoff and no
// outbound queue. Publishing while not connected logs and drops.
type Conn struct {
	cfg    Config
	logger *log.Logger
	dialer *websocket.Dialer

	onState func(State)
	onFrame func(wire.Envelope)

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	ws      *websocket.Conn
	done    chan struct{}
	subs    map[string]bool
}

func NewConn(cfg Config, logger *log.Logger) *Conn {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Conn{
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:   make(map[string]bool),
	}
}

// OnStateChange registers the state observer. Must be called before Connect.
func (c *Conn) OnStateChange(fn func(State)) {
	c.onState = fn
}

// OnFrame registers the incoming frame handler. Must be called before
// Connect.
func (c *Conn) OnFrame(fn func(wire.Envelope)) {
	c.onFrame = fn
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. No-op if already connecting or
// connected.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.notify(StateConnecting)
	go c.run(done)
}

func (c *Conn) run(done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		ws, resp, err := c.dialer.Dial(c.dialURL(), c.connectHeader())
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			c.logger.Printf("broker dial failed: %v, retrying in %v", err, c.cfg.ReconnectDelay)
			select {
			case <-done:
				return
			case <-time.After(c.cfg.ReconnectDelay):
			}
			continue
		}

		c.mu.Lock()
		if c.state == StateDisconnected {
			// Disconnect raced the dial
			c.mu.Unlock()
			ws.Close()
			return
		}
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()
		c.notify(StateConnected)

		c.readLoop(ws)

		c.mu.Lock()
		if c.state == StateDisconnected {
			c.mu.Unlock()
			return
		}
		c.ws = nil
		c.state = StateConnecting
		c.mu.Unlock()
		c.notify(StateConnecting)

		select {
		case <-done:
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// readLoop reads until the socket dies. A frame that is not valid JSON is
// logged and dropped; only a read error means the connection is gone.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Printf("broker read error: %v", err)
			}
			ws.Close()
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Printf("dropping malformed frame: %v", err)
			continue
		}
		if c.onFrame != nil {
			c.onFrame(env)
		}
	}
}

// Disconnect unsubscribes any live subscriptions, closes the socket and
// stops the retry loop. Safe to call repeatedly.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}

	ws := c.ws
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.subs = make(map[string]bool)
	close(c.done)
	c.ws = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	// best-effort writes happen outside c.mu so a wedged socket cannot
	// stall State() or Publish callers for the write timeout
	if ws != nil {
		for _, topic := range topics {
			env := wire.Envelope{Type: wire.TypeUnsubscribe, Destination: topic}
			if err := c.write(ws, env); err != nil {
				break
			}
		}
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}
	c.notify(StateDisconnected)
}

// Publish sends one event frame to a publish destination. When the
// connection is down the frame is logged and dropped; the caller must not
// assume delivery.
func (c *Conn) Publish(destination, frameType string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode frame body: %w", err)
	}
	env := wire.Envelope{Type: frameType, Destination: destination, Body: data}

	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		c.logger.Printf("not connected, dropping %s frame for %s", frameType, destination)
		return nil
	}
	if err := c.write(ws, env); err != nil {
		c.logger.Printf("publish to %s failed: %v", destination, err)
		return err
	}
	return nil
}

// Subscribe asks the broker for push delivery on a topic. Returns an error
// when not connected; callers defer and retry from their on-connect hook.
func (c *Conn) Subscribe(topic string) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	if connected {
		c.subs[topic] = true
	}
	c.mu.Unlock()

	if !connected || ws == nil {
		return fmt.Errorf("subscribe %s: not connected", topic)
	}
	return c.write(ws, wire.Envelope{Type: wire.TypeSubscribe, Destination: topic})
}

func (c *Conn) Unsubscribe(topic string) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	delete(c.subs, topic)
	c.mu.Unlock()

	if !connected || ws == nil {
		return nil
	}
	return c.write(ws, wire.Envelope{Type: wire.TypeUnsubscribe, Destination: topic})
}

func (c *Conn) write(ws *websocket.Conn, env wire.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return ws.WriteJSON(env)
}

func (c *Conn) notify(s State) {
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Conn) dialURL() string {
	u := c.cfg.BrokerURL
	sep := "?"
	if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
		sep = "&"
	}
	return u + sep + "access_token=" + url.QueryEscape(c.cfg.Token)
}

func (c *Conn) connectHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.Token)
	return h
}
