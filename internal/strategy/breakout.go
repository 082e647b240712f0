// Package strategy - breakout.go implements a breakout swing strategy.
//
// This strategy buys when price breaks above a resistance level (N-bar high)
// with volume confirmation. Breakouts tend to lead to strong momentum moves.
//
// Entry rules:
//   - Market regime must be BULL
//   - Breakout quality score >= threshold (0.7 — high bar)
//   - Trend strength >= threshold (0.5 — moderate uptrend)
//   - Current price > N-bar high (breakout condition)
//   - Current volume > 1.5x average volume (volume confirmation)
//   - Risk score <= threshold (0.4 — strict)
//   - Liquidity score >= threshold (0.5)
//   - Sufficient bar history (30+)
//
// Exit rules:
//   - Price falls back below entry (failed breakout)
//   - Market regime changes to BEAR
//   - Trend strength drops (momentum fading)
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// BreakoutStrategy implements a breakout swing strategy.
type BreakoutStrategy struct {
	MinBreakoutQuality float64 // default 0.7 (only strong breakouts)
	MinTrendStrength   float64 // default 0.5
	MinLiquidity       float64 // default 0.5
	MaxRiskScore       float64 // default 0.4 (strict)
	VolumeMultiplier   float64 // default 1.5 (volume must be 1.5x avg)
	HighLookback       int     // default 20

	ExitTrendStrength float64 // default 0.3

	ATRStopMultiplier float64 // default 1.5
	RiskRewardRatio   float64 // default 3.0 (breakouts can run far)
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewBreakoutStrategy creates a breakout strategy with sensible defaults.
func NewBreakoutStrategy(riskCfg config.RiskConfig, capital float64) *BreakoutStrategy {
	return &BreakoutStrategy{
		MinBreakoutQuality: 0.7,
		MinTrendStrength:   0.5,
		MinLiquidity:       0.5,
		MaxRiskScore:       0.4,
		VolumeMultiplier:   1.5,
		HighLookback:       20,
		ExitTrendStrength:  0.3,
		ATRStopMultiplier:  1.5,
		RiskRewardRatio:    3.0,
		HoldBars:           20,
		Capital:            capital,
		RiskConfig:         riskCfg,
		windows:            newSymbolWindows(0),
	}
}

func (s *BreakoutStrategy) ID() string                        { return "breakout_v1" }
func (s *BreakoutStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the breakout rules to the current bar.
func (s *BreakoutStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *BreakoutStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime != RegimeBull || ctx.MarketRegime.Confidence < 0.6 {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "breakout_quality", 0) < s.MinBreakoutQuality {
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
	if len(bars) < 30 {
		return nil
	}

	// Look at the high EXCLUDING the current breakout bar.
	prior := bars[:len(bars)-1]
	resistance := HighestHigh(prior, s.HighLookback)
	if bar.Close <= resistance {
		return nil
	}

	avgVol := AverageVolume(prior, s.HighLookback)
	if avgVol > 0 && float64(bar.Volume) < avgVol*s.VolumeMultiplier {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := resistance - (atr * s.ATRStopMultiplier)
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

func (s *BreakoutStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	if ctx.CurrentPosition.EntryPrice > 0 && bar.Close < ctx.CurrentPosition.EntryPrice {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *BreakoutStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
