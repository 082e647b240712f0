// Package strategy - momentum.go implements a momentum swing strategy.
//
// This strategy buys top-ranked symbols with the strongest upward price
// momentum, measured by Rate of Change (ROC) and a composite AI score rank
// carried in ctx.AnalyticsSnapshot. Momentum works on the principle that
// symbols that have been going up tend to continue going up (persistence).
//
// Entry rules:
//   - Market regime must be BULL
//   - Composite score rank <= threshold (top N, default 5)
//   - Trend strength >= threshold (0.7 — very strong trend)
//   - Breakout quality >= threshold (0.6)
//   - ROC(10) > threshold (5% — strong upward momentum)
//   - Risk score <= threshold (0.3 — very strict)
//   - Sufficient bar history (30+)
//
// Exit rules:
//   - ROC turns negative (momentum reversal)
//   - Symbol drops out of top 10 rank
//   - Trend strength drops below 0.5
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// MomentumStrategy implements a momentum-based swing strategy.
type MomentumStrategy struct {
	MaxRank            float64 // default 5 (top 5 symbols only)
	MinTrendStrength   float64 // default 0.7
	MinBreakoutQuality float64 // default 0.6
	MinROC             float64 // default 0.05 (5%)
	MaxRiskScore       float64 // default 0.3 (very strict)
	MinLiquidity       float64 // default 0.6
	ROCPeriod          int     // default 10

	ExitMaxRank       float64 // default 10 (exit if drops out of top 10)
	ExitTrendStrength float64 // default 0.5

	ATRStopMultiplier float64 // default 2.5 (wider for volatile momentum moves)
	RiskRewardRatio   float64 // default 2.5
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewMomentumStrategy creates a momentum strategy with sensible defaults.
func NewMomentumStrategy(riskCfg config.RiskConfig, capital float64) *MomentumStrategy {
	return &MomentumStrategy{
		MaxRank:            5,
		MinTrendStrength:   0.7,
		MinBreakoutQuality: 0.6,
		MinROC:             0.05,
		MaxRiskScore:       0.3,
		MinLiquidity:       0.6,
		ROCPeriod:          10,
		ExitMaxRank:        10,
		ExitTrendStrength:  0.5,
		ATRStopMultiplier:  2.5,
		RiskRewardRatio:    2.5,
		HoldBars:           20,
		Capital:            capital,
		RiskConfig:         riskCfg,
		windows:            newSymbolWindows(0),
	}
}

func (s *MomentumStrategy) ID() string                        { return "momentum_v1" }
func (s *MomentumStrategy) PreferredTimeframe() time.Duration { return 15 * time.Minute }

// ProcessBar applies the momentum rules to the current bar.
func (s *MomentumStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *MomentumStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime != RegimeBull || ctx.MarketRegime.Confidence < 0.7 {
		return nil
	}
	rank := analyticsFloat(ctx.AnalyticsSnapshot, "rank", s.MaxRank+1)
	if rank > s.MaxRank {
		return nil
	}
	trend := analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 0)
	if trend < s.MinTrendStrength {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "breakout_quality", 0) < s.MinBreakoutQuality {
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

	roc := CalculateROC(bars, s.ROCPeriod)
	if roc < s.MinROC {
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

func (s *MomentumStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.ROCPeriod+1 && CalculateROC(bars, s.ROCPeriod) < 0 {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "rank", 0) > s.ExitMaxRank {
		return s.exitSignal(bar, ctx)
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "trend_strength", 1) < s.ExitTrendStrength {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *MomentumStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
