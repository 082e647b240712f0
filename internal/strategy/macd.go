// Package strategy - macd.go implements a MACD crossover swing strategy.
//
// This strategy buys when the MACD line crosses above the signal line
// (bullish crossover), confirming with the histogram turning positive and the
// overall market trend. MACD combines trend and momentum in one indicator —
// the crossover signals a shift from bearish to bullish momentum.
//
// Standard MACD parameters: fast=12, slow=26, signal=9.
//
// Entry rules:
//   - Market regime is BULL
//   - MACD line crosses above signal line (bullish crossover)
//   - MACD histogram is positive (confirms crossover)
//   - MACD line is at or below MaxMACDForEntry, when that limit is non-zero
//     (the default 0 applies no limit)
//   - Trend strength >= threshold
//   - Risk score <= threshold
//   - Liquidity >= threshold
//   - Sufficient bar history (40+)
//
// Exit rules:
//   - MACD line crosses below signal line (bearish crossover)
//   - Histogram turns negative after being positive
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// MACDCrossoverStrategy implements a MACD crossover swing strategy.
type MACDCrossoverStrategy struct {
	FastPeriod   int // default 12
	SlowPeriod   int // default 26
	SignalPeriod int // default 9

	MinTrendStrength float64 // default 0.4
	MaxRiskScore     float64 // default 0.5
	MinLiquidity     float64 // default 0.4
	MaxMACDForEntry  float64 // if non-zero, MACD line must be at or below this to enter (default 0: no limit)

	ExitTrendStrength float64 // default 0.25

	ATRStopMultiplier float64 // default 2.0
	RiskRewardRatio   float64 // default 2.0
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewMACDCrossoverStrategy creates a MACD crossover strategy with sensible defaults.
func NewMACDCrossoverStrategy(riskCfg config.RiskConfig, capital float64) *MACDCrossoverStrategy {
	return &MACDCrossoverStrategy{
		FastPeriod:        12,
		SlowPeriod:        26,
		SignalPeriod:      9,
		MinTrendStrength:  0.4,
		MaxRiskScore:      0.5,
		MinLiquidity:      0.4,
		MaxMACDForEntry:   0,
		ExitTrendStrength: 0.25,
		ATRStopMultiplier: 2.0,
		RiskRewardRatio:   2.0,
		HoldBars:          20,
		Capital:           capital,
		RiskConfig:        riskCfg,
		windows:           newSymbolWindows(0),
	}
}

func (s *MACDCrossoverStrategy) ID() string                        { return "macd_crossover_v1" }
func (s *MACDCrossoverStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the MACD crossover rules to the current bar.
func (s *MACDCrossoverStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *MACDCrossoverStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime != RegimeBull || ctx.MarketRegime.Confidence < 0.6 {
		return nil
	}
	trend := analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0)
	if trend < s.MinTrendStrength {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "liquidity", 0) < s.MinLiquidity {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "risk_score", 1) > s.MaxRiskScore {
		return nil
	}
	if len(bars) < 40 {
		return nil
	}

	macdLine, signalLine, histogram := CalculateMACD(bars, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)
	prevMACD, prevSignal := CalculatePrevMACD(bars, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)

	if macdLine <= signalLine {
		return nil
	}
	if prevMACD > prevSignal {
		return nil
	}
	if histogram <= 0 {
		return nil
	}
	if s.MaxMACDForEntry != 0 && macdLine > s.MaxMACDForEntry {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := entryPrice - (atr * s.ATRStopMultiplier)
	riskPerShare := entryPrice - stopLoss
	target := entryPrice + (riskPerShare * s.RiskRewardRatio)

	qty := quantityForRisk(s.Capital, s.RiskConfig.MaxRiskPerTradePct, entryPrice, riskPerShare)
	if qty <= 0 {
		return nil
	}

	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalBuy,
		Confidence: trend,
		Metadata: map[string]any{
			"quantity": qty,
			"sl":       stopLoss,
			"tp":       target,
			"h_bars":   s.HoldBars,
		},
	}
}

func (s *MACDCrossoverStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.SlowPeriod+s.SignalPeriod {
		macdLine, signalLine, histogram := CalculateMACD(bars, s.FastPeriod, s.SlowPeriod, s.SignalPeriod)
		if macdLine < signalLine || histogram < 0 {
			return s.exitSignal(bar, ctx)
		}
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *MACDCrossoverStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
