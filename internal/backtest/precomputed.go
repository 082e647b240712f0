package backtest

// precomputed.go implements the batch path (spec §4.12 step 3): for
// strategies that require vectorized, whole-history feature computation
// rather than a streaming per-bar decision, the orchestrator computes
// every event up front and feeds them to the runner through
// PrecomputedSignalStrategy, which looks up a signal by bar timestamp.

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// MetaModelFilter optionally screens precomputed events before they
// reach position sizing. Per the spec's Open Question on whether a
// meta-model filter helps batch backtests: this orchestrator takes no
// opinion — the filter is off unless the caller supplies one.
type MetaModelFilter func(bar market.OHLCVBar, sig execution.SignalEvent) bool

// SizingFunc computes qty/sl/tp for a precomputed event, typically from
// an ATR-based risk sizing rule the batch pipeline ran once up front.
type SizingFunc func(bar market.OHLCVBar, sig execution.SignalEvent) (qty int, sl, tp float64)

// PrecomputedSignalStrategy implements runner.Strategy by looking up a
// signal keyed by bar timestamp from a map built once before the run,
// rather than evaluating indicators bar by bar.
type PrecomputedSignalStrategy struct {
	id        string
	timeframe time.Duration
	events    map[time.Time]execution.SignalEvent
	filter    MetaModelFilter
	sizing    SizingFunc
}

// NewPrecomputedSignalStrategy builds a strategy over a timestamp-keyed
// event map. filter and sizing may be nil.
func NewPrecomputedSignalStrategy(id string, timeframe time.Duration, events map[time.Time]execution.SignalEvent, filter MetaModelFilter, sizing SizingFunc) *PrecomputedSignalStrategy {
	return &PrecomputedSignalStrategy{id: id, timeframe: timeframe, events: events, filter: filter, sizing: sizing}
}

func (s *PrecomputedSignalStrategy) ID() string                       { return s.id }
func (s *PrecomputedSignalStrategy) PreferredTimeframe() time.Duration { return s.timeframe }

func (s *PrecomputedSignalStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	sig, ok := s.events[bar.Timestamp]
	if !ok {
		return nil, nil
	}
	if sig.SignalType == execution.SignalBuy || sig.SignalType == execution.SignalSell {
		if ctx.CurrentPosition != nil {
			return nil, nil
		}
		if s.filter != nil && !s.filter(bar, sig) {
			return nil, nil
		}
	}

	out := sig
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	} else {
		cloned := make(map[string]any, len(sig.Metadata))
		for k, v := range sig.Metadata {
			cloned[k] = v
		}
		out.Metadata = cloned
	}

	if s.sizing != nil && (sig.SignalType == execution.SignalBuy || sig.SignalType == execution.SignalSell) {
		qty, sl, tp := s.sizing(bar, sig)
		out.Metadata["quantity"] = qty
		out.Metadata["sl"] = sl
		out.Metadata["tp"] = tp
	}

	return &out, nil
}
