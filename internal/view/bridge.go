package view

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/simpletalk/kernel/internal/core/message"
	"github.com/simpletalk/kernel/internal/core/part"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 3 * time.Second
	readBufferSize   = 4_000
	writeBufferSize  = 4_000
	maxFrameSize     = 1 << 20
)

// Poster runs fn on the kernel loop goroutine.
type Poster interface {
	Do(fn func())
}

// Request is one frame sent by a remote renderer.
//
//	bind     {partId}                 observe a part
//	unbind   {partId}                 stop observing
//	event    {partId, event, args}    user event on a bound part
//	send     {partId, message}        dispatch a message at a part
//	snapshot {}                       serialized world
type Request struct {
	Op      string           `json:"op"`
	Ref     string           `json:"ref,omitempty"`
	PartID  string           `json:"partId,omitempty"`
	Event   string           `json:"event,omitempty"`
	Args    []any            `json:"args,omitempty"`
	Message *message.Message `json:"message,omitempty"`
}

// Reply is one frame sent to a remote renderer. Property changes arrive
// unsolicited with Op "propertyChanged"; the rest answer a Request and
// echo its Ref.
type Reply struct {
	Op        string           `json:"op"`
	Ref       string           `json:"ref,omitempty"`
	PartID    string           `json:"partId,omitempty"`
	ViewID    string           `json:"viewId,omitempty"`
	Message   *message.Message `json:"message,omitempty"`
	Outcome   string           `json:"outcome,omitempty"`
	HandledBy string           `json:"handledBy,omitempty"`
	Error     string           `json:"error,omitempty"`
	Snapshot  json.RawMessage  `json:"snapshot,omitempty"`
}

type BridgeConfig struct {
	OutQueueSize int
	WriteTimeout time.Duration
}

// Bridge serves remote renderers over websocket. Network I/O runs on
// per-connection goroutines; every request is applied on the kernel loop
// through the Poster.
type Bridge struct {
	factory  *part.Factory
	inbox    Poster
	cfg      BridgeConfig
	upgrader websocket.Upgrader
	log      *zap.Logger

	nextID  atomic.Uint64
	mu      sync.Mutex
	clients map[uint64]*client
	server  *http.Server
	ln      net.Listener
}

func NewBridge(f *part.Factory, inbox Poster, cfg BridgeConfig, log *zap.Logger) *Bridge {
	if cfg.OutQueueSize <= 0 {
		cfg.OutQueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Bridge{
		factory: f,
		inbox:   inbox,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   readBufferSize,
			WriteBufferSize:  writeBufferSize,
			// Renderers are served from other origins during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[uint64]*client),
	}
}

// Start listens on addr and serves /ws in the background.
func (b *Bridge) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/ws", b)
	b.ln = ln
	b.server = &http.Server{Handler: mux, ReadHeaderTimeout: handshakeTimeout}
	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.log.Error("view bridge stopped", zap.Error(err))
		}
	}()
	b.log.Info("view bridge listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listener address once started.
func (b *Bridge) Addr() net.Addr {
	if b.ln == nil {
		return nil
	}
	return b.ln.Addr()
}

// Shutdown stops accepting and closes every connection.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var err error
	if b.server != nil {
		err = b.server.Shutdown(ctx)
	}
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	return err
}

// Clients returns the number of open connections.
func (b *Bridge) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast sends r to every connection. Loop goroutine only.
func (b *Bridge) Broadcast(r Reply) {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()
	for _, c := range clients {
		c.send(r)
	}
}

// ServeHTTP upgrades the request and starts the connection goroutines.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameSize)

	id := b.nextID.Add(1)
	c := &client{
		id:      id,
		bridge:  b,
		conn:    conn,
		out:     make(chan []byte, b.cfg.OutQueueSize),
		closeCh: make(chan struct{}),
		views:   make(map[string]*View),
		log:     b.log.With(zap.Uint64("conn", id)),
	}
	b.mu.Lock()
	b.clients[id] = c
	b.mu.Unlock()

	c.log.Info("renderer connected", zap.String("remote", r.RemoteAddr))
	go c.readLoop()
	go c.writeLoop()
}

func (b *Bridge) forget(c *client) {
	b.mu.Lock()
	delete(b.clients, c.id)
	b.mu.Unlock()
}

// client is one renderer connection. views is touched on the loop
// goroutine only.
type client struct {
	id     uint64
	bridge *Bridge
	conn   *websocket.Conn
	out    chan []byte

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	views map[string]*View
	log   *zap.Logger
}

// Close shuts the connection and, on the loop, disposes its views.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closeCh)
		c.conn.Close()
		c.bridge.forget(c)
		c.bridge.inbox.Do(c.disposeViews)
		c.log.Info("renderer disconnected")
	})
}

func (c *client) disposeViews() {
	for id, v := range c.views {
		v.Dispose()
		delete(c.views, id)
	}
}

// send queues a reply. A full queue drops the connection: a slow renderer
// must not stall the kernel.
func (c *client) send(r Reply) {
	if c.closed.Load() {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		c.log.Warn("reply encode failed", zap.String("op", r.Op), zap.Error(err))
		return
	}
	select {
	case c.out <- data:
	default:
		c.log.Warn("output queue full, dropping slow renderer")
		c.Close()
	}
}

func (c *client) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read error", zap.Error(err))
			}
			return
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(Reply{Op: "error", Error: "malformed request: " + err.Error()})
			continue
		}
		c.bridge.inbox.Do(func() { c.handle(req) })
	}
}

func (c *client) writeLoop() {
	defer c.Close()
	for {
		select {
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(c.bridge.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if !c.closed.Load() {
					c.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// handle runs on the loop goroutine.
func (c *client) handle(req Request) {
	if c.closed.Load() {
		return
	}
	switch req.Op {
	case "bind":
		c.bind(req)
	case "unbind":
		if v, ok := c.views[req.PartID]; ok {
			v.Dispose()
			delete(c.views, req.PartID)
		}
		c.send(Reply{Op: "unbound", Ref: req.Ref, PartID: req.PartID})
	case "event":
		v, ok := c.views[req.PartID]
		if !ok {
			c.fail(req, "part not bound")
			return
		}
		res, err := v.Trigger(req.Event, req.Args...)
		c.result(req, res, err)
	case "send":
		c.sendMessage(req)
	case "snapshot":
		world := c.bridge.factory.World()
		if world == nil {
			c.fail(req, "no world")
			return
		}
		data, err := part.Serialize(world)
		if err != nil {
			c.fail(req, err.Error())
			return
		}
		c.send(Reply{Op: "snapshot", Ref: req.Ref, Snapshot: data})
	default:
		c.fail(req, "unknown op "+req.Op)
	}
}

func (c *client) bind(req Request) {
	p, ok := c.bridge.factory.Lookup(req.PartID)
	if !ok {
		c.fail(req, "no such part")
		return
	}
	if old, ok := c.views[req.PartID]; ok {
		old.Dispose()
	}
	v := New(c.log)
	v.OnAnyChange(func(v *View, name string, value any) {
		msg := message.PropertyChanged(name, value, v.Model().ID())
		c.send(Reply{Op: "propertyChanged", PartID: msg.PartID, ViewID: v.ID(), Message: &msg})
	})
	c.views[req.PartID] = v
	c.send(Reply{Op: "bound", Ref: req.Ref, PartID: req.PartID, ViewID: v.ID()})
	if err := v.SetModel(p); err != nil {
		delete(c.views, req.PartID)
		c.fail(req, err.Error())
	}
}

func (c *client) sendMessage(req Request) {
	if req.Message == nil {
		c.fail(req, "missing message")
		return
	}
	target, ok := c.bridge.factory.Lookup(req.PartID)
	if !ok {
		c.fail(req, "no such part")
		return
	}
	res, err := c.bridge.factory.Dispatcher().Send(*req.Message, nil, target)
	c.result(req, res, err)
}

func (c *client) result(req Request, res part.Result, err error) {
	if err != nil {
		c.fail(req, err.Error())
		return
	}
	c.send(Reply{
		Op:        "result",
		Ref:       req.Ref,
		PartID:    req.PartID,
		Outcome:   res.Outcome.String(),
		HandledBy: res.HandledBy,
		Message:   res.Notice,
	})
}

func (c *client) fail(req Request, reason string) {
	c.send(Reply{Op: "error", Ref: req.Ref, PartID: req.PartID, Error: reason})
}
