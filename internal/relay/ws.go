package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/1ureka/videoboard/internal/protocol"
	"github.com/1ureka/videoboard/internal/util"
)

// Frame operations exchanged between Hub and WSClient.
const (
	opPush    = "push"
	opAck     = "ack"
	opDeliver = "deliver"
	opError   = "error"
)

// frame is the JSON unit carried by every WebSocket text message.
type frame struct {
	Op       string             `json:"op"`
	Dst      string             `json:"dst,omitempty"`
	Key      string             `json:"key,omitempty"`
	Envelope *protocol.Envelope `json:"envelope,omitempty"`
	Error    string             `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub (server side)
// ──────────────────────────────────────────────────────────────────────────────

// Hub exposes a backing Relay to remote endpoints over WebSocket.
// Each connection authenticates with ?pin= and names its inbox with ?id=.
// It receives that inbox's deliveries and may push to any other inbox.
type Hub struct {
	pin     string
	backend Relay

	listener net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]context.CancelFunc
}

// NewHub creates a hub over backend. An empty pin disables authentication.
func NewHub(backend Relay, pin string) *Hub {
	return &Hub{
		pin:     pin,
		backend: backend,
		conns:   make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Handler returns the HTTP handler serving /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	return mux
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound port number.
func (h *Hub) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay hub: %w", err)
	}
	h.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	go func() {
		_ = http.Serve(listener, h.Handler())
	}()

	return port, nil
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	if h.pin != "" && r.URL.Query().Get("pin") != h.pin {
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}
	owner := r.URL.Query().Get("id")
	if owner == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.conns[conn] = cancel
	h.mu.Unlock()

	util.LogDebug("relay hub: %q connected from %s", owner, r.RemoteAddr)
	h.serve(ctx, conn, owner)

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	cancel()
	conn.Close()
	util.LogDebug("relay hub: %q disconnected", owner)
}

// serve pumps deliveries for owner to conn and applies frames read from conn
// until either side stops.
func (h *Hub) serve(ctx context.Context, conn *websocket.Conn, owner string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deliveries, err := h.backend.Subscribe(ctx, owner)
	if err != nil {
		util.LogWarning("relay hub: subscribe %q failed: %v", owner, err)
		return
	}

	var writeMu sync.Mutex
	write := func(f *frame) error {
		data, err := sonic.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	go func() {
		defer cancel()
		for d := range deliveries {
			if err := write(&frame{Op: opDeliver, Key: d.Key, Envelope: d.Envelope}); err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			_ = write(&frame{Op: opError, Error: "malformed frame"})
			continue
		}

		switch f.Op {
		case opPush:
			if f.Envelope == nil || f.Dst == "" {
				_ = write(&frame{Op: opError, Error: "push requires dst and envelope"})
				continue
			}
			if err := h.backend.Push(ctx, f.Dst, f.Envelope); err != nil {
				_ = write(&frame{Op: opError, Error: err.Error()})
			}
		case opAck:
			if err := h.backend.Ack(ctx, owner, f.Key); err != nil {
				_ = write(&frame{Op: opError, Error: err.Error()})
			}
		default:
			_ = write(&frame{Op: opError, Error: "unknown op " + f.Op})
		}
	}
}

// Close stops accepting connections and drops every connected client.
func (h *Hub) Close() {
	if h.listener != nil {
		h.listener.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, cancel := range h.conns {
		cancel()
		conn.Close()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// WSClient (endpoint side)
// ──────────────────────────────────────────────────────────────────────────────

// Compile-time interface check.
var _ Relay = (*WSClient)(nil)

// WSClient is a Relay backed by a connection to a Hub. It can only
// subscribe to the inbox it was dialed for.
type WSClient struct {
	conn  *websocket.Conn
	owner string

	writeMu sync.Mutex

	mu         sync.Mutex
	subscribed bool
	sink       chan Delivery

	done      chan struct{}
	closeOnce sync.Once
}

// DialWS connects to a hub at baseURL (for example ws://host:port/ws) as
// owner, authenticating with pin.
func DialWS(ctx context.Context, baseURL, owner, pin string) (*WSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url %q: %w", baseURL, err)
	}
	q := u.Query()
	q.Set("id", owner)
	if pin != "" {
		q.Set("pin", pin)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay hub: %w", err)
	}

	c := &WSClient{
		conn:  conn,
		owner: owner,
		sink:  make(chan Delivery, subscriberBufferSize),
		done:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) readLoop() {
	defer c.Close()
	defer close(c.sink)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			util.LogWarning("relay client: malformed frame: %v", err)
			continue
		}

		switch f.Op {
		case opDeliver:
			if f.Envelope == nil {
				continue
			}
			select {
			case c.sink <- Delivery{Key: f.Key, Envelope: f.Envelope, Arrived: time.Now()}:
			case <-c.done:
				return
			}
		case opError:
			util.LogWarning("relay client: hub reported: %s", f.Error)
		}
	}
}

func (c *WSClient) write(f *frame) error {
	data, err := sonic.Marshal(f)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Push sends env to dst's inbox through the hub.
func (c *WSClient) Push(ctx context.Context, dst string, env *protocol.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(&frame{Op: opPush, Dst: dst, Envelope: env})
}

// Subscribe returns the delivery stream of the client's own inbox. It may be
// called once. The stream ends when ctx is cancelled or the connection drops.
func (c *WSClient) Subscribe(ctx context.Context, owner string) (<-chan Delivery, error) {
	if owner != c.owner {
		return nil, fmt.Errorf("relay client for %q cannot subscribe to %q", c.owner, owner)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribed {
		return nil, errors.New("relay client already subscribed")
	}
	c.subscribed = true

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d, ok := <-c.sink:
				if !ok {
					return
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ack deletes a record from the client's inbox.
func (c *WSClient) Ack(ctx context.Context, owner, key string) error {
	if owner != c.owner {
		return fmt.Errorf("relay client for %q cannot ack in %q", c.owner, owner)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(&frame{Op: opAck, Key: key})
}

// Done returns a channel closed once the connection is gone.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down. Safe to call more than once.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
