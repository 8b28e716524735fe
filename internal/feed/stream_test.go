package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestPriceStreamCachesTrades(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		var sub subscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "subscribe", sub.Action)
		assert.Equal(t, []string{"AAPL", "MSFT"}, sub.Trades)

		conn.WriteJSON([]tradeMessage{
			{Type: "t", Symbol: "AAPL", Price: 201.5},
			{Type: "t", Symbol: "MSFT", Price: 455.0},
			{Type: "q", Symbol: "AAPL", Price: 999},
		})
		conn.WriteJSON(tradeMessage{Type: "t", Symbol: "AAPL", Price: 202.0})

		// Hold the connection open until the client goes away.
		conn.ReadMessage()
	})

	s := NewPriceStream(wsURL(srv), []string{"AAPL", "MSFT"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		p, ok := s.Latest("AAPL")
		return ok && p == 202.0
	}, 2*time.Second, 10*time.Millisecond)

	p, ok := s.Latest("MSFT")
	require.True(t, ok)
	assert.Equal(t, 455.0, p)

	// Quote frames never enter the cache.
	p, _ = s.Latest("AAPL")
	assert.NotEqual(t, 999.0, p)

	snap := s.Snapshot()
	assert.Len(t, snap, 2)

	age, ok := s.Age("AAPL")
	require.True(t, ok)
	assert.Less(t, age, time.Minute)
}

func TestPriceStreamIgnoresGarbageFrames(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage() // subscription
		conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		conn.WriteJSON([]tradeMessage{{Type: "t", Symbol: "NVDA", Price: 900}})
		conn.ReadMessage()
	})

	s := NewPriceStream(wsURL(srv), []string{"NVDA"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		_, ok := s.Latest("NVDA")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPriceStreamReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := wsServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		conn.ReadMessage() // subscription
		if n == 1 {
			return // drop the first connection immediately
		}
		conn.WriteJSON([]tradeMessage{{Type: "t", Symbol: "AAPL", Price: 150}})
		conn.ReadMessage()
	})

	s := NewPriceStream(wsURL(srv), []string{"AAPL"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		p, ok := s.Latest("AAPL")
		return ok && p == 150.0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestPriceStreamStopsOnCancel(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
		conn.ReadMessage()
	})

	s := NewPriceStream(wsURL(srv), []string{"AAPL"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
