package runner

// runner.go is the per-bar loop (C11 step 1-6): pull a bar for each
// configured symbol, advance the clock, check exits before entries,
// invoke every strategy in fixed order, forward signals to the
// execution engine, and persist runner state once per (symbol,
// strategy) per bar.

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/storage"
)

// pollInterval is the runner's defense against lock contention in live
// streaming mode (spec §5: "2 Hz poll interval, >= 500ms sleep").
const pollInterval = 500 * time.Millisecond

// BarSource supplies the next bar for a symbol, e.g. the resampling
// provider (C6) or a raw 1-minute market query. A false second return
// means no bar is ready yet.
type BarSource interface {
	GetNextBar(symbol string) (market.OHLCVBar, bool)
}

// advanceableClock is implemented by clock.ReplayClock; live trading's
// clock.RealClock advances on its own and never needs AdvanceTo called.
type advanceableClock interface {
	AdvanceTo(ts time.Time)
}

// Runner drives the bar-by-bar loop. One Runner owns one set of symbols
// and strategies; a backtest constructs a fresh Runner per run, scoped
// to that run's isolated clock, engine, and bar source.
type Runner struct {
	symbols    []string
	strategies []Strategy
	bars       BarSource
	clk        clock.Clock
	advance    advanceableClock // non-nil only for a ReplayClock
	engine     *execution.Engine
	configStore *storage.ConfigStore
	streaming  bool
	logger     *log.Logger

	openPositions map[string]*OpenPosition // keyed by symbol; single-task, no lock needed
	barIndex      map[string]int
	exitedThisBar map[string]bool
}

// New builds a Runner over symbols (in the given, fixed order) and
// strategies (also evaluated in the given order every bar). streaming
// selects the spec's two termination policies: false terminates the
// loop once bars is exhausted (backtest), true sleeps pollInterval and
// keeps polling (live).
func New(symbols []string, strategies []Strategy, bars BarSource, clk clock.Clock, engine *execution.Engine, configStore *storage.ConfigStore, streaming bool, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	r := &Runner{
		symbols:       symbols,
		strategies:    strategies,
		bars:          bars,
		clk:           clk,
		engine:        engine,
		configStore:   configStore,
		streaming:     streaming,
		logger:        logger,
		openPositions: make(map[string]*OpenPosition),
		barIndex:      make(map[string]int),
		exitedThisBar: make(map[string]bool),
	}
	if ac, ok := clk.(advanceableClock); ok {
		r.advance = ac
	}
	return r
}

// RegisterOpenPosition seeds the runner's exit-parameter map for symbol,
// used on restart to resume tracking an already-open position (the
// runner's own bookkeeping is not persisted bar-by-bar; C7/C8 are the
// durable source of truth for whether a position exists at all).
func (r *Runner) RegisterOpenPosition(symbol string, pos OpenPosition) {
	r.openPositions[symbol] = &pos
}

// Run executes the loop to exhaustion (backtest) or until ctx is
// cancelled (live). It returns nil on clean exhaustion or cancellation,
// and a non-nil error only for a genuine failure a caller should treat
// as a run failure (e.g. persistence error from runner state).
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		progressed, err := r.tick(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			if !r.streaming {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
		}
	}
}

// tick runs one pass over every configured symbol. It returns
// progressed=true if at least one symbol produced a bar this pass.
func (r *Runner) tick(ctx context.Context) (bool, error) {
	progressed := false

	for _, symbol := range r.symbols {
		bar, ok := r.bars.GetNextBar(symbol)
		if !ok {
			continue
		}
		progressed = true

		if r.advance != nil {
			r.advance.AdvanceTo(bar.Timestamp)
		}

		r.barIndex[symbol]++
		r.exitedThisBar[symbol] = false

		if err := r.checkExit(ctx, symbol, bar); err != nil {
			return progressed, fmt.Errorf("runner: exit check %s: %w", symbol, err)
		}

		for _, strat := range r.strategies {
			if err := r.evaluate(ctx, symbol, strat, bar); err != nil {
				return progressed, fmt.Errorf("runner: strategy %s on %s: %w", strat.ID(), symbol, err)
			}
		}
	}

	return progressed, nil
}

// checkExit implements spec §4.11 step 3: SL-wins-on-tie, then target,
// then the bar-count time-stop, evaluated against bar.high/low/close
// before any strategy runs this bar.
func (r *Runner) checkExit(ctx context.Context, symbol string, bar market.OHLCVBar) error {
	pos, ok := r.openPositions[symbol]
	if !ok {
		return nil
	}

	var exitPrice float64
	var hit bool

	if pos.Side == execution.Buy {
		switch {
		case bar.Low <= pos.StopLoss:
			exitPrice, hit = pos.StopLoss, true
		case bar.High >= pos.Target:
			exitPrice, hit = pos.Target, true
		case r.barIndex[symbol]-pos.EntryBarIdx >= pos.HoldBars && pos.HoldBars > 0:
			exitPrice, hit = bar.Close, true
		}
	} else {
		switch {
		case bar.High >= pos.StopLoss:
			exitPrice, hit = pos.StopLoss, true
		case bar.Low <= pos.Target:
			exitPrice, hit = pos.Target, true
		case r.barIndex[symbol]-pos.EntryBarIdx >= pos.HoldBars && pos.HoldBars > 0:
			exitPrice, hit = bar.Close, true
		}
	}

	if !hit {
		return nil
	}

	sig := execution.SignalEvent{
		StrategyID: pos.StrategyID,
		Symbol:     symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
		Metadata:   map[string]any{"close_all": true, "exit_price": exitPrice},
	}
	if _, err := r.engine.ProcessSignal(ctx, sig); err != nil {
		r.logger.Printf("runner: exit signal for %s rejected: %v", symbol, err)
	}
	delete(r.openPositions, symbol)
	r.exitedThisBar[symbol] = true
	return nil
}

// evaluate assembles StrategyContext and forwards strat's signal to the
// execution engine, honoring the no-same-bar-flip rule (spec §4.11 step
// 5: an EXIT this bar blocks any BUY/SELL from the same bar).
func (r *Runner) evaluate(ctx context.Context, symbol string, strat Strategy, bar market.OHLCVBar) error {
	stratCtx := StrategyContext{
		Symbol:         symbol,
		StrategyParams: nil,
		BarIndex:       r.barIndex[symbol],
	}
	if pos, ok := r.openPositions[symbol]; ok {
		stratCtx.CurrentPosition = pos
	}

	sig, err := strat.ProcessBar(bar, stratCtx)
	if err != nil {
		return err
	}
	if sig == nil {
		return r.persistState(ctx, symbol, strat, bar, "IDLE", 0)
	}

	if r.exitedThisBar[symbol] && sig.SignalType != execution.SignalHold {
		return r.persistState(ctx, symbol, strat, bar, "SUPPRESSED_POST_EXIT", sig.Confidence)
	}

	ord, err := r.engine.ProcessSignal(ctx, *sig)
	if err != nil {
		r.logger.Printf("runner: signal %s/%s rejected: %v", strat.ID(), symbol, err)
		return r.persistState(ctx, symbol, strat, bar, "REJECTED", sig.Confidence)
	}

	if sig.SignalType == execution.SignalExit {
		r.exitedThisBar[symbol] = true
	}

	if ord != nil && sig.SignalType != execution.SignalExit {
		r.openPositions[symbol] = &OpenPosition{
			Side:        ord.Side,
			EntryPrice:  bar.Close,
			StopLoss:    metaFloat(sig.Metadata, "sl"),
			Target:      metaFloat(sig.Metadata, "tp"),
			HoldBars:    metaInt(sig.Metadata, "h_bars"),
			EntryTS:     bar.Timestamp,
			EntryBarIdx: r.barIndex[symbol],
			StrategyID:  strat.ID(),
		}
	}

	return r.persistState(ctx, symbol, strat, bar, string(sig.SignalType), sig.Confidence)
}

func (r *Runner) persistState(ctx context.Context, symbol string, strat Strategy, bar market.OHLCVBar, signalState string, confidence float64) error {
	if r.configStore == nil {
		return nil
	}
	timeframe := strat.PreferredTimeframe()
	if timeframe == 0 {
		timeframe = bar.Timeframe
	}
	bias := "FLAT"
	if pos, ok := r.openPositions[symbol]; ok {
		if pos.Side == execution.Buy {
			bias = "LONG"
		} else {
			bias = "SHORT"
		}
	}
	row := storage.RunnerStateRow{
		Symbol:      symbol,
		StrategyID:  strat.ID(),
		TimeframeS:  int(timeframe.Seconds()),
		CurrentBias: bias,
		SignalState: signalState,
		Confidence:  confidence,
		LastBarTS:   bar.Timestamp,
		Status:      "ACTIVE",
		UpdatedAt:   r.clk.Now(),
	}
	if err := r.configStore.SaveRunnerState(ctx, row); err != nil {
		return fmt.Errorf("persist runner state: %w", err)
	}
	return nil
}

func metaFloat(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	v, _ := m[key].(float64)
	return v
}

func metaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	v, _ := m[key].(int)
	return v
}
