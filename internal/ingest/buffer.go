// Package ingest implements the tick buffer and aggregator (C4): the two
// cooperative tasks that turn a raw tick feed into 1-minute OHLCV bars in
// the live buffer partition.
package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

// LiveBufferWriter is the subset of storage.LiveBufferStore the buffer
// needs; scoped down so this package doesn't depend on storage directly.
type LiveBufferWriter interface {
	AppendTicks(ctx context.Context, ticks []market.Tick, asOf time.Time) error
}

// maxBufferedTicks bounds in-memory growth if the writer stays down;
// beyond this the buffer drops the oldest records rather than growing
// unbounded (spec §4.2, "writers that accumulate pending data cap memory
// by dropping the oldest records").
const maxBufferedTicks = 1000

// TickBuffer accumulates ticks in memory and periodically flushes them to
// the live buffer partition with the storage layer's retry discipline.
type TickBuffer struct {
	mu     sync.Mutex
	ticks  []market.Tick
	writer LiveBufferWriter
	clk    clock.Clock
	logger *log.Logger
}

// NewTickBuffer creates a buffer writing through writer, timestamped by clk.
func NewTickBuffer(writer LiveBufferWriter, clk clock.Clock, logger *log.Logger) *TickBuffer {
	return &TickBuffer{writer: writer, clk: clk, logger: logger}
}

// Add appends a tick to the buffer, dropping the oldest entry if the
// backlog has grown beyond maxBufferedTicks (a persistently failing
// writer should not grow this process's memory without bound).
func (b *TickBuffer) Add(t market.Tick) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ticks = append(b.ticks, t)
	telemetry.IncTicksIngested(t.Symbol)
	if len(b.ticks) > maxBufferedTicks {
		dropped := len(b.ticks) - maxBufferedTicks
		b.ticks = b.ticks[dropped:]
		b.logger.Printf("ingest: tick buffer over cap, dropped %d oldest ticks", dropped)
	}
}

// Flush drains the buffer and persists it via the live buffer writer.
// Called every 0.5s in live mode, or once per batch in replay. On
// persistent failure the ticks are NOT re-added — the flush already
// retried internally (storage.WithRetry); a further failure here is
// logged and the batch is dropped rather than retried forever.
func (b *TickBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	pending := b.ticks
	b.ticks = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := b.writer.AppendTicks(ctx, pending, b.clk.Now()); err != nil {
		b.logger.Printf("ingest: tick flush failed, dropping %d ticks: %v", len(pending), err)
		return fmt.Errorf("ingest: flush ticks: %w", err)
	}
	return nil
}

// Run flushes on interval until ctx is cancelled.
func (b *TickBuffer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Flush(context.Background())
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				b.logger.Printf("ingest: periodic flush error: %v", err)
			}
		}
	}
}
