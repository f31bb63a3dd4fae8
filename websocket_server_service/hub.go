package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bus_pos/realtime"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const writeWait = 10 * time.Second

// hub bridges redis pub/sub channels to websocket clients. Each connection owns
// one redis PubSub whose channels follow the client's subscribe and unsubscribe
// control messages.
type hub struct {
	rdb          *redis.Client
	logger       *slog.Logger
	pingInterval time.Duration
	upgrader     websocket.Upgrader
}

func newHub(rdb *redis.Client, pingInterval time.Duration, logger *slog.Logger) *hub {
	return &hub{
		rdb:          rdb,
		logger:       logger,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

type client struct {
	conn     *websocket.Conn
	clientID string
	pubsub   *redis.PubSub
	topics   map[string]bool

	writeMu sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (h *hub) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", h.handleWebSocket)
	router.HandleFunc("/health-check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK")
	}).Methods(http.MethodGet)
	return router
}

func (h *hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Error upgrading connection", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &client{
		conn:     conn,
		clientID: uuid.New().String(),
		pubsub:   h.rdb.Subscribe(ctx),
		topics:   make(map[string]bool),
	}
	defer c.pubsub.Close()

	h.logger.Info("New WebSocket connection", "client_id", c.clientID, "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	go h.forwardEvents(c, done)
	go h.keepAlive(c, done)
	h.awaitMessages(ctx, c, done)

	h.logger.Info("WebSocket connection closed", "client_id", c.clientID, "topics", len(c.topics))
}

// awaitMessages applies control messages until the client goes away.
func (h *hub) awaitMessages(ctx context.Context, c *client, done chan struct{}) {
	defer close(done)

	c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})

	for {
		var msg realtime.ControlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Error reading message", "client_id", c.clientID, "error", err)
			}
			return
		}

		if err := msg.Validate(); err != nil {
			h.logger.Warn("Ignoring control message", "client_id", c.clientID, "action", msg.Action, "error", err)
			continue
		}
		topic := msg.Topic()

		switch msg.Action {
		case realtime.ActionSubscribe:
			if c.topics[topic] {
				continue
			}
			if err := c.pubsub.Subscribe(ctx, topic); err != nil {
				h.logger.Error("Failed to subscribe", "client_id", c.clientID, "topic", topic, "error", err)
				return
			}
			c.topics[topic] = true
		case realtime.ActionUnsubscribe:
			if !c.topics[topic] {
				continue
			}
			if err := c.pubsub.Unsubscribe(ctx, topic); err != nil {
				h.logger.Error("Failed to unsubscribe", "client_id", c.clientID, "topic", topic, "error", err)
				return
			}
			delete(c.topics, topic)
		default:
			h.logger.Warn("Ignoring control message", "client_id", c.clientID, "action", msg.Action)
			continue
		}
		h.logger.Debug("Subscriptions changed", "client_id", c.clientID, "action", msg.Action, "topic", topic)
	}
}

// forwardEvents relays every redis message verbatim as a text frame.
func (h *hub) forwardEvents(c *client, done chan struct{}) {
	messages := c.pubsub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.logger.Debug("Error writing event", "client_id", c.clientID, "error", err)
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (h *hub) keepAlive(c *client, done chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
