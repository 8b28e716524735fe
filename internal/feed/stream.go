package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// PriceStream keeps a latest-trade price cache fed by a websocket market
// data stream. Run owns the connection and reconnects with backoff; readers
// call Latest or Snapshot from any goroutine.
type PriceStream struct {
	url     string
	symbols []string

	mu      sync.RWMutex
	prices  map[string]float64
	updated map[string]time.Time
}

// tradeMessage is the Alpaca-style trade frame: type "t", symbol, price.
type tradeMessage struct {
	Type   string  `json:"T"`
	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
}

type subscribeRequest struct {
	Action string   `json:"action"`
	Trades []string `json:"trades"`
}

func NewPriceStream(url string, symbols []string) *PriceStream {
	return &PriceStream{
		url:     url,
		symbols: symbols,
		prices:  make(map[string]float64),
		updated: make(map[string]time.Time),
	}
}

// Latest returns the last trade price for a symbol, if one has arrived.
func (s *PriceStream) Latest(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[symbol]
	return p, ok
}

// Snapshot copies the full price cache.
func (s *PriceStream) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]float64, len(s.prices))
	for k, v := range s.prices {
		out[k] = v
	}
	return out
}

// Age returns how long ago a symbol's price was updated.
func (s *PriceStream) Age(symbol string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.updated[symbol]
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

// Run connects and consumes trade frames until ctx is cancelled. Connection
// failures back off up to 30s and reconnect with a fresh subscription.
func (s *PriceStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("price stream disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *PriceStream) consume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	defer conn.Close()

	sub := subscribeRequest{Action: "subscribe", Trades: s.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("url", s.url).Int("symbols", len(s.symbols)).Msg("price stream connected")

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		// Frames arrive in batches.
		var msgs []tradeMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			var single tradeMessage
			if err := json.Unmarshal(data, &single); err != nil {
				log.Debug().RawJSON("frame", data).Msg("unrecognized stream frame")
				continue
			}
			msgs = []tradeMessage{single}
		}

		now := time.Now()
		s.mu.Lock()
		for _, m := range msgs {
			if m.Type != "t" || m.Symbol == "" || m.Price <= 0 {
				continue
			}
			s.prices[m.Symbol] = m.Price
			s.updated[m.Symbol] = now
		}
		s.mu.Unlock()
	}
}
