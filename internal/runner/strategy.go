// Package runner implements the deterministic trading runner (C11): the
// clock-driven per-bar loop shared by live trading and backtests.
//
// Design rules (from spec):
//   - A strategy is a pure decision engine: process_bar(bar, ctx) -> signal.
//   - Strategies run in a fixed order, with no shared mutable state and
//     no per-strategy wall-clock calls, so a run is reproducible.
//   - The runner enforces exits before entries on every bar, and never
//     lets a BUY/SELL ride on the same bar an EXIT fired on.
package runner

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
)

// OpenPosition is the runner's own view of a held position, carrying the
// exit parameters registered at entry — separate from C7's net-quantity
// view, since the runner needs the original stop/target/hold-bar terms
// that produced the position, not just its current size.
type OpenPosition struct {
	Side         execution.Side
	EntryPrice   float64
	StopLoss     float64
	Target       float64
	HoldBars     int
	EntryTS      time.Time
	EntryBarIdx  int
	StrategyID   string
}

// AnalyticsSnapshot is a read-only bundle of precomputed indicators or
// ML scores a strategy may consult. Left as a generic map: the runner
// and analytics provider agree on keys out of band, the same way the
// teacher's AI scores traveled as a loosely-typed side channel.
type AnalyticsSnapshot map[string]float64

// MarketRegimeData mirrors the AI-determined market condition a
// strategy may use to scale confidence, without being able to act on it
// directly (AI advises, rules decide).
type MarketRegimeData struct {
	Regime     string
	Confidence float64
}

// StrategyContext is everything besides the current bar a strategy needs
// to make one decision (spec §4.11 step 4). It is assembled fresh every
// bar; a strategy must never retain a reference to it across calls.
type StrategyContext struct {
	Symbol            string
	CurrentPosition   *OpenPosition // nil if flat
	AnalyticsSnapshot AnalyticsSnapshot
	MarketRegime      MarketRegimeData
	StrategyParams    map[string]any
	BarIndex          int
}

// Strategy is the bar-driven decision engine every concrete strategy
// implements. Strategies must be deterministic and side-effect-free:
// same bar + same context always produces the same signal.
type Strategy interface {
	// ID returns the strategy's unique identifier, used for idempotency
	// scoping, RunnerStateRecord rows, and ordering.
	ID() string

	// PreferredTimeframe returns the bar size this strategy wants fed to
	// it, e.g. 5*time.Minute. Zero means "use the runner's default".
	PreferredTimeframe() time.Duration

	// ProcessBar evaluates one bar and returns a signal, or nil for no
	// action. It must never perform I/O or block.
	ProcessBar(bar market.OHLCVBar, ctx StrategyContext) (*execution.SignalEvent, error)
}
