// Package realtime keeps one websocket connection to the event hub, replays the
// session's subscriptions after every reconnect and fans trip, seat and inventory
// events out to registered listeners.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var ErrAlreadyStarted = errors.New("realtime channel already started")

type Config struct {
	URL                  string
	Header               http.Header
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	Dialer               *websocket.Dialer
	Logger               *slog.Logger
}

type Handler func(Event)

type Channel struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	reconnecting   bool
	attempts       int
	started        bool
	closed         bool
	cancel         context.CancelFunc
	done           chan struct{}
	subs           map[string]Subscription
	subOrder       []string
	listeners      map[EventKind]map[uint64]Handler
	stateListeners map[uint64]func(connected bool)
	nextID         uint64

	writeMu sync.Mutex
	// inCallback is non-zero while the run goroutine is inside a listener.
	inCallback atomic.Int32
}

func NewChannel(cfg Config) *Channel {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = 0
	}
	c := &Channel{
		cfg:            cfg,
		dialer:         cfg.Dialer,
		logger:         cfg.Logger,
		done:           make(chan struct{}),
		subs:           make(map[string]Subscription),
		listeners:      make(map[EventKind]map[uint64]Handler),
		stateListeners: make(map[uint64]func(bool)),
	}
	if c.dialer == nil {
		c.dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Start connects in the background. Reconnection after transport failures is
// handled here; callers never need to resubscribe.
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close disconnects on purpose; no reconnection follows. It waits for the
// connection loop to stop unless it is called from a listener, in which case the
// loop stops once that listener returns.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	if started && c.inCallback.Load() == 0 {
		<-c.done
	}
	return nil
}

// Done is closed once the channel stops for good: closed, cancelled, cleanly
// disconnected by the server, or out of reconnection attempts.
func (c *Channel) Done() <-chan struct{} { return c.done }

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnecting
}

// Attempts counts reconnection attempts since the last successful connect.
func (c *Channel) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe adds a scope to the session's set and sends it when connected.
func (c *Channel) Subscribe(sub Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	key := sub.Topic()

	c.mu.Lock()
	if _, ok := c.subs[key]; !ok {
		c.subs[key] = sub
		c.subOrder = append(c.subOrder, key)
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, ControlMessage{Action: ActionSubscribe, Subscription: sub})
}

func (c *Channel) Unsubscribe(sub Subscription) error {
	key := sub.Topic()

	c.mu.Lock()
	if _, ok := c.subs[key]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.subs, key)
	for i, k := range c.subOrder {
		if k == key {
			c.subOrder = append(c.subOrder[:i:i], c.subOrder[i+1:]...)
			break
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, ControlMessage{Action: ActionUnsubscribe, Subscription: sub})
}

func (c *Channel) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, 0, len(c.subOrder))
	for _, key := range c.subOrder {
		out = append(out, c.subs[key])
	}
	return out
}

// On registers a listener for one event kind and returns its unsubscribe func.
func (c *Channel) On(kind EventKind, handler Handler) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	set, ok := c.listeners[kind]
	if !ok {
		set = make(map[uint64]Handler)
		c.listeners[kind] = set
	}
	set[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[kind], id)
	}
}

// Listen registers a typed listener, e.g. Listen(ch, func(e HoldsReleased) {...}).
func Listen[T Event](c *Channel, fn func(T)) func() {
	var zero T
	return c.On(zero.Kind(), func(event Event) {
		if typed, ok := event.(T); ok {
			fn(typed)
		}
	})
}

// OnConnectionChange is called with true after every connect and false after
// every disconnect.
func (c *Channel) OnConnectionChange(fn func(connected bool)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.stateListeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateListeners, id)
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer c.setState(false, false)

	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		if err == nil {
			c.logger.Info("Realtime channel closed by server")
			return
		}

		c.mu.Lock()
		if c.attempts >= c.cfg.MaxReconnectAttempts {
			c.reconnecting = false
			attempts := c.attempts
			c.mu.Unlock()
			c.logger.Warn("Realtime channel giving up reconnecting", "attempts", attempts, "error", err)
			return
		}
		c.attempts++
		c.reconnecting = true
		attempt := c.attempts
		c.mu.Unlock()

		c.logger.Warn("Realtime connection lost, reconnecting",
			"attempt", attempt, "max_attempts", c.cfg.MaxReconnectAttempts, "delay", c.cfg.ReconnectDelay, "error", err)

		timer := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// connectAndServe returns nil for clean disconnects and an error for transport
// failures.
func (c *Channel) connectAndServe(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.reconnecting = false
	c.attempts = 0
	subs := make([]Subscription, 0, len(c.subOrder))
	for _, key := range c.subOrder {
		subs = append(subs, c.subs[key])
	}
	c.mu.Unlock()

	c.logger.Info("Realtime channel connected", "url", c.cfg.URL, "subscriptions", len(subs))
	c.notifyState(true)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	err = c.replay(conn, subs)
	if err == nil {
		err = c.readLoop(conn)
	}

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()
	conn.Close()
	c.notifyState(false)

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (c *Channel) replay(conn *websocket.Conn, subs []Subscription) error {
	for _, sub := range subs {
		if err := c.send(conn, ControlMessage{Action: ActionSubscribe, Subscription: sub}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		event, err := Decode(data)
		if err != nil {
			c.logger.Warn("Dropping realtime message", "error", err)
			continue
		}
		c.dispatch(event)
	}
}

func (c *Channel) send(conn *websocket.Conn, msg ControlMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("send %s %s: %w", msg.Action, msg.Scope, err)
	}
	return nil
}

func (c *Channel) dispatch(event Event) {
	c.mu.Lock()
	set := c.listeners[event.Kind()]
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, set[id])
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		c.deliver(handler, event)
	}
}

// deliver isolates a listener so a panic does not stop delivery to the rest.
func (c *Channel) deliver(handler Handler, event Event) {
	c.inCallback.Add(1)
	defer c.inCallback.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Realtime listener panicked", "event", event.Kind(), "panic", r)
		}
	}()
	handler(event)
}

func (c *Channel) notifyState(connected bool) {
	c.mu.Lock()
	fns := make([]func(bool), 0, len(c.stateListeners))
	for _, fn := range c.stateListeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		func() {
			c.inCallback.Add(1)
			defer c.inCallback.Add(-1)
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Connection listener panicked", "panic", r)
				}
			}()
			fn(connected)
		}()
	}
}

func (c *Channel) setState(connected, reconnecting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = connected
	c.reconnecting = reconnecting
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
