package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bus_pos/config"
	"bus_pos/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchOptionsSubscriptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    watchOptions
		want    []realtime.Subscription
		wantErr bool
	}{
		{
			name: "trips and bases",
			opts: watchOptions{tripIDs: []string{"trip-1"}, baseIDs: []string{"base-1"}},
			want: []realtime.Subscription{realtime.TripSubscription("trip-1"), realtime.BaseSubscription("base-1")},
		},
		{
			name: "outlet day",
			opts: watchOptions{outletID: "outlet-1", serviceDate: "2026-10-17"},
			want: []realtime.Subscription{realtime.OutletDateSubscription("outlet-1", "2026-10-17")},
		},
		{name: "outlet without date", opts: watchOptions{outletID: "outlet-1"}, wantErr: true},
		{name: "nothing", opts: watchOptions{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subs, err := tt.opts.subscriptions()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, subs)
		})
	}
}

func TestWatchPrintsEvents(t *testing.T) {
	controls := make(chan realtime.ControlMessage, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg realtime.ControlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		controls <- msg

		data, _ := realtime.Encode(realtime.TripCanceled{TripID: msg.TripID})
		conn.WriteMessage(websocket.TextMessage, data)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := config.Agent{
		RealtimeURL:    "ws" + strings.TrimPrefix(server.URL, "http"),
		ReconnectDelay: 50 * time.Millisecond,
	}
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() {
		finished <- watch(ctx, cfg, []realtime.Subscription{realtime.TripSubscription("trip-9")}, out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	}()

	select {
	case msg := <-controls:
		assert.Equal(t, realtime.ActionSubscribe, msg.Action)
		assert.Equal(t, "trip-9", msg.TripID)
	case <-time.After(2 * time.Second):
		t.Fatal("no subscription received")
	}

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `TRIP_CANCELED {"tripId":"trip-9"}`)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "# connected")

	cancel()
	select {
	case err := <-finished:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
