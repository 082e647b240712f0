package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

// TickReader is the read side of the live buffer the aggregator pulls
// from; a thin slice of storage.LiveBufferStore.
type TickReader interface {
	ReadTicksSince(ctx context.Context, symbol string, sinceMs int64, asOf time.Time) ([]market.Tick, error)
}

// CandleWriter is the live buffer's candle write side.
type CandleWriter interface {
	WriteLiveCandle(ctx context.Context, bar market.OHLCVBar) error
}

// bucketState accumulates the in-progress 1-minute bar for one symbol
// until a later tick (or session close) finalizes it.
type bucketState struct {
	bucketStart time.Time
	bar         market.OHLCVBar
	haveBar     bool
	lastTSMs    int64
}

// TickAggregator groups buffered ticks into 1-minute bars. A bucket is
// only finalized — written out — once a tick belonging to a later bucket
// arrives, or FlushAtSessionClose is called; it never finalizes on a
// timer alone, so a bar's close price always reflects the true last
// trade in that minute rather than whatever happened to be current when
// the aggregator's clock ticked.
type TickAggregator struct {
	reader   TickReader
	writer   CandleWriter
	calendar *market.Calendar
	clk      clock.Clock
	logger   *log.Logger

	mu      sync.Mutex
	symbols []string
	state   map[string]*bucketState
}

// NewTickAggregator creates an aggregator over the given symbols.
func NewTickAggregator(reader TickReader, writer CandleWriter, calendar *market.Calendar, clk clock.Clock, symbols []string, logger *log.Logger) *TickAggregator {
	return &TickAggregator{
		reader:   reader,
		writer:   writer,
		calendar: calendar,
		clk:      clk,
		symbols:  symbols,
		state:    make(map[string]*bucketState),
		logger:   logger,
	}
}

// Tick processes a single ingest-time run for every tracked symbol: pull
// ticks since the last processed exchange timestamp, fold them into the
// active bucket, and finalize+emit any bucket a later tick has moved past.
func (a *TickAggregator) Tick(ctx context.Context) {
	a.mu.Lock()
	symbols := append([]string(nil), a.symbols...)
	a.mu.Unlock()

	for _, symbol := range symbols {
		a.processSymbol(ctx, symbol)
	}
}

func (a *TickAggregator) processSymbol(ctx context.Context, symbol string) {
	a.mu.Lock()
	st, ok := a.state[symbol]
	if !ok {
		st = &bucketState{}
		a.state[symbol] = st
	}
	sinceMs := st.lastTSMs
	a.mu.Unlock()

	ticks, err := a.reader.ReadTicksSince(ctx, symbol, sinceMs, a.clk.Now())
	if err != nil {
		a.logger.Printf("ingest: aggregator read ticks for %s: %v", symbol, err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range ticks {
		if t.ExchangeTSMs <= st.lastTSMs && st.lastTSMs != 0 {
			continue
		}
		bucket := a.calendar.BucketStart(t.ExchangeTime(), time.Minute)

		if st.haveBar && !bucket.Equal(st.bucketStart) {
			a.emit(ctx, st.bar)
			st.haveBar = false
		}

		if !st.haveBar {
			st.bar = market.OHLCVBar{
				Symbol:    symbol,
				Timestamp: bucket,
				Open:      t.Price,
				High:      t.Price,
				Low:       t.Price,
				Close:     t.Price,
				Volume:    t.Volume,
				Timeframe: time.Minute,
			}
			st.bucketStart = bucket
			st.haveBar = true
		} else {
			if t.Price > st.bar.High {
				st.bar.High = t.Price
			}
			if t.Price < st.bar.Low {
				st.bar.Low = t.Price
			}
			st.bar.Close = t.Price
			st.bar.Volume += t.Volume
		}

		st.lastTSMs = t.ExchangeTSMs
	}
}

// FlushAtSessionClose force-finalizes every symbol's active bucket. The
// aggregator otherwise only finalizes a bucket when it observes a tick in
// a later bucket, so the last minute of the session would never flush on
// its own without this — called once at session close.
func (a *TickAggregator) FlushAtSessionClose(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, st := range a.state {
		if st.haveBar {
			a.emit(ctx, st.bar)
			st.haveBar = false
		}
		_ = symbol
	}
}

// emit must be called with a.mu held.
func (a *TickAggregator) emit(ctx context.Context, bar market.OHLCVBar) {
	if err := a.writer.WriteLiveCandle(ctx, bar); err != nil {
		a.logger.Printf("ingest: aggregator emit %s@%s: %v", bar.Symbol, bar.Timestamp, err)
		return
	}
	telemetry.IncBarsEmitted(bar.Symbol, bar.Timeframe.String())
}

// Run ticks on interval until ctx is cancelled.
func (a *TickAggregator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}
