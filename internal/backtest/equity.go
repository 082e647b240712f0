package backtest

// equity.go marks a run's equity to market using last-seen close prices,
// so the risk gate's drawdown check and the final metrics computation
// share one source of truth for "what is this run worth right now".

import (
	"sync"

	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/risk"
)

type equityTracker struct {
	mu        sync.Mutex
	initial   float64
	lastClose map[string]float64
	positions *position.Tracker
}

func newEquityTracker(initial float64, positions *position.Tracker) *equityTracker {
	return &equityTracker{
		initial:   initial,
		lastClose: make(map[string]float64),
		positions: positions,
	}
}

func (e *equityTracker) observeClose(symbol string, close float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastClose[symbol] = close
}

// Close returns the last observed close for symbol, used by the sim
// broker as its fill price for market orders.
func (e *equityTracker) Close(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastClose[symbol]
}

// Equity implements execution.EquitySource.
func (e *equityTracker) Equity() risk.EquitySnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	unrealized := 0.0
	for _, p := range e.positions.All() {
		close, ok := e.lastClose[p.InstrumentKey]
		if !ok || p.Side == position.Flat {
			continue
		}
		sign := 1.0
		if p.Side == position.Short {
			sign = -1.0
		}
		unrealized += sign * (close - p.AvgEntryPrice) * p.Quantity
	}

	realized := 0.0
	for _, p := range e.positions.All() {
		realized += p.RealizedPnL
	}

	return risk.EquitySnapshot{
		InitialEquity: e.initial,
		CurrentEquity: e.initial + realized + unrealized,
	}
}
