// Package backtest implements the backtest orchestrator (C12): isolated,
// replayable runs that build a fresh runtime per run and persist results
// to a per-run file plus a shared run index.
package backtest

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/order"
	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/resample"
	"github.com/devraj-patel/tradecore/internal/risk"
	"github.com/devraj-patel/tradecore/internal/runner"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

// BatchStrategyBuilder constructs the batch-path strategy for one run
// (spec §4.12 step 3): given the whole [start, end] range up front, it
// computes every signal a vectorized strategy would emit and returns a
// runner.Strategy (typically a PrecomputedSignalStrategy) ready to be fed
// bar by bar.
type BatchStrategyBuilder func(ctx context.Context, q *market.Query, symbol string, start, end time.Time, params map[string]any) (runner.Strategy, error)

// Orchestrator builds an isolated runtime per run and drives it to
// completion (spec §4.12). One Orchestrator serves many runs; each Run
// call gets its own clock, trackers, broker, and idempotency scope.
type Orchestrator struct {
	mgr         *storage.Manager
	index       *storage.BacktestIndex
	calendar    *market.Calendar
	exchange    string
	initialCash float64
	riskCfg     config.RiskConfig
	slippageBps float64
	logger      *log.Logger

	// strategyBuilders maps a strategy id to a per-bar Strategy
	// constructor; strategies absent here but present in
	// batchStrategyBuilders use the batch path instead.
	strategyBuilders      map[string]func(params map[string]any) (runner.Strategy, error)
	batchStrategyBuilders map[string]BatchStrategyBuilder
}

// NewOrchestrator builds an Orchestrator writing through mgr, with the
// given session calendar, exchange, starting cash, and risk configuration
// applied identically to every run it drives.
func NewOrchestrator(mgr *storage.Manager, calendar *market.Calendar, exchange string, initialCash float64, riskCfg config.RiskConfig, logger *log.Logger) *Orchestrator {
	return NewOrchestratorWithSlippage(mgr, calendar, exchange, initialCash, riskCfg, 0, logger)
}

// NewOrchestratorWithSlippage is NewOrchestrator with an explicit
// simulated slippage (basis points, adverse to the order's side) applied
// to every fill, matching PAPER mode's fill policy so backtest and paper
// runs agree on cost modeling.
func NewOrchestratorWithSlippage(mgr *storage.Manager, calendar *market.Calendar, exchange string, initialCash float64, riskCfg config.RiskConfig, slippageBps float64, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		mgr:                   mgr,
		index:                 storage.NewBacktestIndex(mgr, "backtest/index.db"),
		calendar:              calendar,
		exchange:              exchange,
		initialCash:           initialCash,
		riskCfg:               riskCfg,
		slippageBps:           slippageBps,
		logger:                logger,
		strategyBuilders:      make(map[string]func(params map[string]any) (runner.Strategy, error)),
		batchStrategyBuilders: make(map[string]BatchStrategyBuilder),
	}
}

// RegisterStrategy wires a per-bar strategy id to its constructor.
func (o *Orchestrator) RegisterStrategy(id string, build func(params map[string]any) (runner.Strategy, error)) {
	o.strategyBuilders[id] = build
}

// RegisterBatchStrategy wires a strategy id to the batch path.
func (o *Orchestrator) RegisterBatchStrategy(id string, build BatchStrategyBuilder) {
	o.batchStrategyBuilders[id] = build
}

// Run executes one backtest (spec §4.12 steps 1-6) and returns its
// run_id. A run that fails mid-flight is marked FAILED in the index
// rather than left RUNNING forever.
func (o *Orchestrator) Run(ctx context.Context, strategyID, symbol string, start, end time.Time, params map[string]any, timeframe time.Duration) (string, error) {
	runID := uuid.NewString()
	now := time.Now()

	if err := o.index.Register(ctx, storage.BacktestRunRow{
		RunID: runID, StrategyID: strategyID, Symbol: symbol,
		RangeStart: start, RangeEnd: end, Params: params,
		Status: "RUNNING", CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("backtest: register run: %w", err)
	}

	metrics, runErr := o.execute(ctx, runID, strategyID, symbol, start, end, params, timeframe)
	completedAt := time.Now()

	if runErr != nil {
		if err := o.index.Complete(ctx, runID, map[string]float64{"error": 1}, completedAt); err != nil {
			o.logger.Printf("backtest: mark run %s failed: %v", runID, err)
		}
		return runID, fmt.Errorf("backtest: run %s: %w", runID, runErr)
	}

	if err := o.index.Complete(ctx, runID, metrics, completedAt); err != nil {
		return runID, fmt.Errorf("backtest: complete run %s: %w", runID, err)
	}
	return runID, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID, strategyID, symbol string, start, end time.Time, params map[string]any, timeframe time.Duration) (map[string]float64, error) {
	clk := clock.NewReplayClock(start)

	hist := storage.NewHistoricalStore(o.mgr)
	q := market.NewQuery(o.calendar, hist, nil, o.exchange)

	oneMinBars, err := q.GetCandles(ctx, symbol, time.Minute, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}

	var resampler *resample.Provider
	if timeframe > time.Minute {
		resampler = resample.NewProvider(q, o.calendar, timeframe)
	}

	positions := position.NewTracker()
	orders := order.NewTracker()
	riskMgr := risk.NewManager(o.riskCfg, o.initialCash)
	equity := newEquityTracker(o.initialCash, positions)
	broker := newSimBroker(clk, equity.Close, o.slippageBps)

	barSource := &observingBarSource{
		inner: newReplayBarSource(symbol, oneMinBars, timeframe, resampler),
		onBar: func(sym string, bar market.OHLCVBar) { equity.observeClose(sym, bar.Close) },
	}

	bus := telemetry.NewBus(o.logger)
	engine := execution.NewEngine(execution.Paper, runID, broker, riskMgr, positions, orders, nil, bus, clk, equity, nil, o.logger)

	runStore := storage.NewBacktestRunStore(o.mgr, runID)
	recorder := newTradeRecorder(runStore, equity, clk, o.logger)
	// Subscribed here, synchronously, before either goroutine starts: a
	// position event published before the recorder is listening would
	// otherwise be silently dropped (the bus never buffers for a
	// subscriber that doesn't exist yet).
	recorderSub := bus.Subscribe("backtest-recorder-"+runID, 256)

	engineCtx, cancelEngine := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); engine.Run(engineCtx) }()
	go func() { defer wg.Done(); recorder.Drain(engineCtx, bus, recorderSub) }()

	strat, err := o.buildStrategy(ctx, strategyID, q, symbol, start, end, params, timeframe)
	if err != nil {
		cancelEngine()
		wg.Wait()
		return nil, fmt.Errorf("build strategy: %w", err)
	}

	r := runner.New([]string{symbol}, []runner.Strategy{strat}, barSource, clk, engine, nil, false, o.logger)
	runErr := r.Run(ctx)

	// Wait for every fill the run produced to clear both the engine's
	// queue and the recorder's subscription backlog before tearing
	// anything down, or a trailing fill/trade could be lost to the
	// cancellation race between ctx.Done() and a still-buffered event.
	for engine.PendingFills() > 0 || len(recorderSub.Send) > 0 {
		time.Sleep(time.Millisecond)
	}
	cancelEngine()
	wg.Wait()

	if runErr != nil {
		return nil, fmt.Errorf("runner: %w", runErr)
	}

	trades, err := runStore.Trades(ctx)
	if err != nil {
		return nil, fmt.Errorf("load trades for metrics: %w", err)
	}

	return computeMetrics(len(oneMinBars), recorder.RealizationCount(), trades, equity.Equity().CurrentEquity, o.initialCash), nil
}

func (o *Orchestrator) buildStrategy(ctx context.Context, strategyID string, q *market.Query, symbol string, start, end time.Time, params map[string]any, timeframe time.Duration) (runner.Strategy, error) {
	if build, ok := o.batchStrategyBuilders[strategyID]; ok {
		return build(ctx, q, symbol, start, end, params)
	}
	if build, ok := o.strategyBuilders[strategyID]; ok {
		return build(params)
	}
	return nil, fmt.Errorf("unknown strategy id %q", strategyID)
}

func computeMetrics(bars, realizations int, trades []storage.BacktestTradeRow, finalEquity, initialEquity float64) map[string]float64 {
	m := map[string]float64{
		"bars":           float64(bars),
		"realizations":   float64(realizations),
		"trades":         float64(len(trades)),
		"final_equity":   finalEquity,
		"initial_equity": initialEquity,
	}

	var totalPnL float64
	wins := 0
	var returns []float64
	peak := initialEquity
	maxDrawdown := 0.0
	running := initialEquity

	for _, t := range trades {
		totalPnL += t.PnL
		if t.PnL > 0 {
			wins++
		}
		running += t.PnL
		if running > peak {
			peak = running
		}
		if peak > 0 {
			if dd := (peak - running) / peak; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
		if initialEquity != 0 {
			returns = append(returns, t.PnL/initialEquity)
		}
	}

	// The sim broker applies configurable slippage to every fill price
	// (see newSimBroker); it has no commission model, so fees are always
	// zero for now.
	m["fees"] = 0
	m["total_pnl"] = totalPnL
	m["max_drawdown"] = maxDrawdown
	if len(trades) > 0 {
		m["win_rate"] = float64(wins) / float64(len(trades))
	}
	m["sharpe"] = sharpeRatio(returns)
	return m
}

func sharpeRatio(returns []float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(n - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (mean / stddev) * math.Sqrt(252)
}
