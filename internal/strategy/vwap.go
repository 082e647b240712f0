// Package strategy - vwap.go implements a VWAP reversion swing strategy.
//
// This strategy buys when price dips significantly below VWAP (Volume
// Weighted Average Price) and shows signs of reverting back. VWAP acts as a
// fair value anchor — institutional traders often accumulate near VWAP,
// making it a natural support/resistance level.
//
// Entry rules:
//   - Market regime is BULL or SIDEWAYS
//   - Price is below VWAP by at least the deviation threshold
//   - RSI(14) is in oversold zone (< 40) confirming the dip
//   - Volatility score is moderate (not too wild)
//   - Liquidity score >= threshold (VWAP is meaningless without volume)
//   - Risk score <= threshold
//   - Sufficient bar history (30+)
//
// Exit rules:
//   - Price crosses above VWAP (reversion target reached)
//   - RSI becomes overbought (> 65)
//   - Market regime changes to BEAR
package strategy

import (
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// VWAPReversionStrategy implements a VWAP-anchored mean reversion strategy.
type VWAPReversionStrategy struct {
	VWAPDeviationPct     float64 // min % price must be below VWAP (default 2.0)
	RSIOversoldThreshold float64 // default 40
	MaxVolatility        float64 // max volatility score (default 0.7)
	MinLiquidity         float64 // default 0.5 (VWAP needs good volume)
	MaxRiskScore         float64 // default 0.5
	VWAPLookback         int     // bars for VWAP calc (default 20)

	VWAPOvershootPct       float64 // default 1.5; not read by the rules, which exit as soon as the close is above VWAP
	RSIOverboughtThreshold float64 // default 65

	ATRStopMultiplier float64 // default 1.5
	HoldBars          int

	Capital    float64
	RiskConfig config.RiskConfig

	windows *symbolWindows
}

// NewVWAPReversionStrategy creates a VWAP reversion strategy with sensible defaults.
func NewVWAPReversionStrategy(riskCfg config.RiskConfig, capital float64) *VWAPReversionStrategy {
	return &VWAPReversionStrategy{
		VWAPDeviationPct:       2.0,
		RSIOversoldThreshold:   40,
		MaxVolatility:          0.7,
		MinLiquidity:           0.5,
		MaxRiskScore:           0.5,
		VWAPLookback:           20,
		VWAPOvershootPct:       1.5,
		RSIOverboughtThreshold: 65,
		ATRStopMultiplier:      1.5,
		HoldBars:               15,
		Capital:                capital,
		RiskConfig:             riskCfg,
		windows:                newSymbolWindows(0),
	}
}

func (s *VWAPReversionStrategy) ID() string                        { return "vwap_reversion_v1" }
func (s *VWAPReversionStrategy) PreferredTimeframe() time.Duration { return 5 * time.Minute }

// ProcessBar applies the VWAP reversion rules to the current bar.
func (s *VWAPReversionStrategy) ProcessBar(bar market.OHLCVBar, ctx runner.StrategyContext) (*execution.SignalEvent, error) {
	bars := s.windows.push(ctx.Symbol, bar)

	if ctx.CurrentPosition != nil {
		return s.evaluateExit(bar, ctx, bars), nil
	}
	return s.evaluateEntry(bar, ctx, bars), nil
}

func (s *VWAPReversionStrategy) evaluateEntry(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear || ctx.MarketRegime.Confidence < 0.5 {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "liquidity", 0) < s.MinLiquidity {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "risk_score", 1) > s.MaxRiskScore {
		return nil
	}
	if analyticsFloat(ctx.AnalyticsSnapshot, "volatility", 0) > s.MaxVolatility {
		return nil
	}
	if len(bars) < 30 {
		return nil
	}

	vwap := CalculateVWAP(bars, s.VWAPLookback)
	if vwap == 0 {
		return nil
	}

	deviationPct := (vwap - bar.Close) / vwap * 100
	if deviationPct < s.VWAPDeviationPct {
		return nil
	}

	rsi := CalculateRSI(bars, 14)
	if rsi >= s.RSIOversoldThreshold {
		return nil
	}

	atr := CalculateATR(bars, 14)
	entryPrice := bar.Close
	stopLoss := entryPrice - (atr * s.ATRStopMultiplier)
	target := vwap
	riskPerShare := entryPrice - stopLoss

	qty := quantityForRisk(s.Capital, s.RiskConfig.MaxRiskPerTradePct, entryPrice, riskPerShare)
	if qty <= 0 {
		return nil
	}

	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalBuy,
		Confidence: deviationPct / 100,
		Metadata: map[string]any{
			"quantity": qty,
			"sl":       stopLoss,
			"tp":       target,
			"h_bars":   s.HoldBars,
		},
	}
}

func (s *VWAPReversionStrategy) evaluateExit(bar market.OHLCVBar, ctx runner.StrategyContext, bars []market.OHLCVBar) *execution.SignalEvent {
	if ctx.MarketRegime.Regime == RegimeBear {
		return s.exitSignal(bar, ctx)
	}
	if len(bars) >= s.VWAPLookback {
		vwap := CalculateVWAP(bars, s.VWAPLookback)
		if vwap > 0 && bar.Close > vwap {
			return s.exitSignal(bar, ctx)
		}
	}
	if len(bars) > 14 && CalculateRSI(bars, 14) > s.RSIOverboughtThreshold {
		return s.exitSignal(bar, ctx)
	}
	return nil
}

func (s *VWAPReversionStrategy) exitSignal(bar market.OHLCVBar, ctx runner.StrategyContext) *execution.SignalEvent {
	return &execution.SignalEvent{
		StrategyID: s.ID(),
		Symbol:     ctx.Symbol,
		Timestamp:  bar.Timestamp,
		SignalType: execution.SignalExit,
	}
}
