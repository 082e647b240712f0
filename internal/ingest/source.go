package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/devraj-patel/tradecore/internal/market"
)

// TickSource is the external feed ingest reads from. A live deployment
// dials the exchange's websocket tick stream; a backtest or a unit test
// supplies ticks through a channel instead.
type TickSource interface {
	// Run blocks, pushing ticks to out until ctx is cancelled or the feed
	// is exhausted, then returns (closing out is the caller's job, not
	// the source's — out may be shared).
	Run(ctx context.Context, out chan<- market.Tick) error
}

// wsTickMessage is the wire shape of one tick frame on the exchange feed.
type wsTickMessage struct {
	Symbol    string   `json:"symbol"`
	ExchTSMs  int64    `json:"exchange_ts_ms"`
	Price     float64  `json:"price"`
	Volume    int64    `json:"volume"`
	Bid       *float64 `json:"bid,omitempty"`
	Ask       *float64 `json:"ask,omitempty"`
}

// WebSocketTickSource dials a websocket endpoint and decodes each text
// frame as a tick. Reconnects are the caller's responsibility (Run
// returns an error on disconnect so a supervising loop can redial).
type WebSocketTickSource struct {
	URL    string
	Logger *log.Logger
}

// NewWebSocketTickSource creates a source dialing url.
func NewWebSocketTickSource(url string, logger *log.Logger) *WebSocketTickSource {
	return &WebSocketTickSource{URL: url, Logger: logger}
}

// Run dials the feed and streams ticks onto out until ctx is cancelled or
// the connection drops.
func (s *WebSocketTickSource) Run(ctx context.Context, out chan<- market.Tick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("ingest: dial tick feed %s: %w", s.URL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ingest: tick feed read: %w", err)
		}

		var msg wsTickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.Logger.Printf("ingest: malformed tick frame, dropping: %v", err)
			continue
		}

		tick := market.Tick{
			Symbol:       msg.Symbol,
			ExchangeTSMs: msg.ExchTSMs,
			IngestTS:     time.Now().UTC(),
			Price:        msg.Price,
			Volume:       msg.Volume,
			Bid:          msg.Bid,
			Ask:          msg.Ask,
		}

		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ChannelTickSource replays a fixed, pre-built slice of ticks — the test
// double used by backtests and unit tests so neither has to stand up a
// websocket server to exercise TickBuffer/TickAggregator.
type ChannelTickSource struct {
	Ticks []market.Tick
}

// Run pushes every tick in order, then returns nil (feed exhausted).
func (s *ChannelTickSource) Run(ctx context.Context, out chan<- market.Tick) error {
	for _, t := range s.Ticks {
		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
