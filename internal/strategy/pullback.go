// Package strategy - pullback.go implements an EMA pullback strategy.
//
// This strategy buys dips in a strong uptrend. When a symbol is trending up
// (price above the slow EMA), it waits for a pullback to the fast EMA as a
// buying opportunity — one of the more reliable trend-continuation setups
// because it enters at a discount within an established trend.
//
// Entry rules:
//   - Market regime is BULL
//   - Trend strength >= threshold (must be in an uptrend)
//   - Price is above the slow EMA (uptrend confirmed)
//   - Price has pulled back to near the fast EMA (within tolerance)
//   - RSI(14) is in the 40-60 zone (not oversold/overbought — healthy pullback)
//   - Risk score <= threshold
//   - Liquidity score >= threshold
//   - Sufficient bar history (60+)
//
// Exit rules:
//   - Price breaks below the slow EMA (uptrend broken)
//   - Trend strength drops below exit threshold
//   - Market regime changes to BEAR
package strategy

import (
	"math"
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// PullbackStrategy implements an EMA pullback strategy.
type PullbackStrategy struct {
	MinTrendStrength float64 // default 0.5
	MinLiquidity     float64 // default 0.4
	MaxRiskScore     float64 // default 0.5
	FastEMAPeriod    int     // default 20
	SlowEMAPeriod    int     // default 50
	PullbackPct      float64 // max % distance from fast EMA, above or below, to count as pullback (default 1.0)
	RSILow           float64 // min RSI for healthy pullback (default 40)
	RSIHigh          float64 // max RSI for healthy pullback (default 60)

	ExitTrendStrength float64 // default 0.3

	ATRStopMultiplier float64 // default 2.0
	RiskRewardRatio   float64 // default 2.5
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewPullbackStrategy creates a pullback strategy with sensible defaults.
func NewPullbackStrategy(riskCfg config.RiskConfig, capital float64) *PullbackStrategy {
	return &PullbackStrategy{
		MinTrendStrength:  0.5,
		MinLiquidity:      0.4,
		MaxRiskScore:      0.5,
		FastEMAPeriod:     20,
		SlowEMAPeriod:     50,
		PullbackPct:       1.0,
		RSILow:            40,
		RSIHigh:           60,
		ExitTrendStrength: 0.3,
		ATRStopMultiplier: 2.0,
		RiskRewardRatio:   2.5,
		HoldBars:          20,
		Capital:           capital,
		RiskConfig:        riskCfg,
		windows:           newSymbolWindows(0),
	}
}

func (s *PullbackStrategy) ID() string                        { return "pullback_v1" }
func (s *PullbackStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the pullback rules to the current bar.
func (s *PullbackStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *PullbackStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
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
	if len(bars) < 60 {
		return nil
	}

	fastEMA := CalculateEMA(bars, s.FastEMAPeriod)
	slowEMA := CalculateEMA(bars, s.SlowEMAPeriod)
	if bar.Close <= slowEMA {
		return nil
	}

	if fastEMA == 0 {
		return nil
	}
	distPct := math.Abs(bar.Close-fastEMA) / fastEMA * 100
	if distPct > s.PullbackPct {
		return nil
	}

	rsi := CalculateRSI(bars, 14)
	if rsi < s.RSILow || rsi > s.RSIHigh {
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

func (s *PullbackStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.SlowEMAPeriod && bar.Close < CalculateEMA(bars, s.SlowEMAPeriod) {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *PullbackStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
