package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"bus_pos/api"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// forwardedHeaders are copied from the agent's handshake to the hub's.
var forwardedHeaders = []string{"Authorization", "Cookie", "User-Agent", api.HeaderSessionID}

// loadBalancer spreads agent websocket connections over event hub instances in
// round robin order. Hubs share nothing but redis, so any hub can serve any agent.
type loadBalancer struct {
	backends []string
	current  atomic.Uint64
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newLoadBalancer(backends []string, logger *slog.Logger) *loadBalancer {
	return &loadBalancer{
		backends: backends,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

func (lb *loadBalancer) nextBackend() string {
	idx := (lb.current.Add(1) - 1) % uint64(len(lb.backends))
	return lb.backends[idx]
}

func (lb *loadBalancer) routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", lb.handleWebSocket)
	router.HandleFunc("/health-check", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "OK")
	}).Methods(http.MethodGet)
	return router
}

func (lb *loadBalancer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	backendURL := lb.nextBackend() + r.URL.Path
	if r.URL.RawQuery != "" {
		backendURL += "?" + r.URL.RawQuery
	}

	headers := http.Header{}
	for _, key := range forwardedHeaders {
		for _, value := range r.Header.Values(key) {
			headers.Add(key, value)
		}
	}

	backendConn, _, err := lb.dialer.DialContext(r.Context(), backendURL, headers)
	if err != nil {
		lb.logger.Warn("Failed to connect to backend", "backend", backendURL, "error", err)
		http.Error(w, "event hub unavailable", http.StatusBadGateway)
		return
	}
	defer backendConn.Close()

	clientConn, err := lb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lb.logger.Warn("Failed to upgrade", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer clientConn.Close()

	lb.logger.Debug("Routing to backend", "backend", backendURL, "remote_addr", r.RemoteAddr)

	errc := make(chan error, 2)
	go relay(backendConn, clientConn, errc)
	go relay(clientConn, backendConn, errc)

	err = <-errc
	if closeErr, ok := err.(*websocket.CloseError); ok {
		// pass the close on to whichever side is still open
		message := websocket.FormatCloseMessage(closeErr.Code, closeErr.Text)
		deadline := time.Now().Add(time.Second)
		clientConn.WriteControl(websocket.CloseMessage, message, deadline)
		backendConn.WriteControl(websocket.CloseMessage, message, deadline)
	}
}

// relay copies frames from src to dst until either side fails.
func relay(dst, src *websocket.Conn, errc chan<- error) {
	for {
		messageType, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(messageType, data); err != nil {
			errc <- err
			return
		}
	}
}
