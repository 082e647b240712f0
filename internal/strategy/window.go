package strategy

// window.go provides the rolling bar history each concrete strategy keeps
// for itself. The runner hands strategies one bar at a time, so a strategy
// must assemble its own window by appending each bar as it arrives.
//
// A single Strategy instance is evaluated against every configured symbol in
// turn (see internal/runner.Runner.tick), so the window is keyed by symbol
// rather than holding one flat slice.

import "github.com/devraj-patel/tradecore/internal/market"

const defaultWindowCapacity = 250

// symbolWindows holds a bounded bar history per symbol. It is not safe for
// concurrent use, matching the runner's single-goroutine evaluation loop.
type symbolWindows struct {
	capacity int
	bars     map[string][]market.OHLCVBar
}

func newSymbolWindows(capacity int) *symbolWindows {
	if capacity <= 0 {
		capacity = defaultWindowCapacity
	}
	return &symbolWindows{capacity: capacity, bars: make(map[string][]market.OHLCVBar)}
}

// push appends bar to symbol's window, trims it to capacity, and returns the
// window including the new bar.
func (w *symbolWindows) push(symbol string, bar market.OHLCVBar) []market.OHLCVBar {
	history := append(w.bars[symbol], bar)
	if len(history) > w.capacity {
		history = history[len(history)-w.capacity:]
	}
	w.bars[symbol] = history
	return history
}

// analyticsFloat reads key from an AnalyticsSnapshot, returning fallback if
// the snapshot is nil or the key is absent — a strategy's AI-advised
// thresholds degrade gracefully when no analytics provider is wired in.
func analyticsFloat(snap map[string]float64, key string, fallback float64) float64 {
	if snap == nil {
		return fallback
	}
	if v, ok := snap[key]; ok {
		return v
	}
	return fallback
}

// quantityForRisk sizes a position from the fraction of capital the risk
// config allows per trade, capping at what capital can actually afford.
// Returns 0 if the sizing is degenerate (no risk per share, or no capital).
func quantityForRisk(capital, riskPerTradePct, entryPrice, riskPerShare float64) int {
	if riskPerShare <= 0 || entryPrice <= 0 || capital <= 0 {
		return 0
	}
	maxRiskAmount := capital * (riskPerTradePct / 100.0)
	qty := int(maxRiskAmount / riskPerShare)
	if qty <= 0 {
		return 0
	}
	if entryPrice*float64(qty) > capital {
		qty = int(capital / entryPrice)
	}
	return qty
}
