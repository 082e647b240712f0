package backtest

// recorder.go turns the engine's position telemetry into the per-run
// trade log and equity curve (spec §4.12 step 5: "persist trades and an
// equity-curve sample per trade event"). It never touches C7/C8 state
// itself — it only observes what the engine already published.

import (
	"context"
	"log"
	"sync"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

// tradeRecorder subscribes to the run's telemetry bus and appends one
// BacktestTradeRow per realization event: any fill that moves a
// position's RealizedPnL. A single round trip can span several fills
// (partial exits), so this records each realization rather than trying
// to pair entries with exits after the fact.
type tradeRecorder struct {
	runStore *storage.BacktestRunStore
	equity   *equityTracker
	clk      clock.Clock
	logger   *log.Logger

	mu           sync.Mutex
	lastRealized map[string]float64
	realizations int
}

func newTradeRecorder(runStore *storage.BacktestRunStore, equity *equityTracker, clk clock.Clock, logger *log.Logger) *tradeRecorder {
	return &tradeRecorder{
		runStore:     runStore,
		equity:       equity,
		clk:          clk,
		logger:       logger,
		lastRealized: make(map[string]float64),
	}
}

// Drain consumes sub until ctx is cancelled or the bus closes it. The
// caller subscribes before starting the engine so no position event can
// arrive before the subscription exists, then runs Drain in its own
// goroutine alongside the engine's fill worker.
func (r *tradeRecorder) Drain(ctx context.Context, bus *telemetry.Bus, sub *telemetry.Subscriber) {
	defer bus.Unsubscribe(sub.ID)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Send:
			if !ok {
				return
			}
			if evt.Topic != telemetry.TopicPositions {
				continue
			}
			pos, ok := evt.Data.(position.Position)
			if !ok {
				continue
			}
			r.observe(ctx, pos)
		}
	}
}

func (r *tradeRecorder) observe(ctx context.Context, pos position.Position) {
	r.mu.Lock()
	prev := r.lastRealized[pos.InstrumentKey]
	delta := pos.RealizedPnL - prev
	r.lastRealized[pos.InstrumentKey] = pos.RealizedPnL
	if delta != 0 {
		r.realizations++
	}
	r.mu.Unlock()

	if delta == 0 {
		return
	}
	now := r.clk.Now()
	if err := r.runStore.AppendTrade(ctx, storage.BacktestTradeRow{
		Symbol:     pos.InstrumentKey,
		Side:       string(pos.Side),
		Quantity:   int(pos.Quantity),
		EntryPrice: pos.AvgEntryPrice,
		EntryTS:    now,
		PnL:        delta,
		ExitReason: "realized",
	}); err != nil {
		r.logger.Printf("backtest: append trade for %s: %v", pos.InstrumentKey, err)
	}
	if err := r.runStore.AppendEquityPoint(ctx, now, r.equity.Equity().CurrentEquity); err != nil {
		r.logger.Printf("backtest: append equity point: %v", err)
	}
}

// RealizationCount returns the number of PnL-realization events observed
// so far, used only to populate the run's summary metrics.
func (r *tradeRecorder) RealizationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.realizations
}
