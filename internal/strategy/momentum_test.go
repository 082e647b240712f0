package strategy

import (
	"testing"
	"time"

	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// makeMomentumBars creates bars with strong upward momentum (ROC > 5%).
func makeMomentumBars(n int, basePrice float64) []market.OHLCVBar {
	bars := make([]market.OHLCVBar, n)
	for i := 0; i < n; i++ {
		price := basePrice + float64(i)*3.0
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 4,
			Low:       price - 3,
			Close:     price,
			Volume:    200000,
		}
	}
	return bars
}

func TestMomentum_SkipsBearRegime(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	bars := makeMomentumBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBear, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength":   0.9,
				"breakout_quality": 0.8,
				"liquidity":        0.8,
				"risk_score":       0.1,
				"rank":             1,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal in BEAR regime, got %+v", sig)
	}
}

func TestMomentum_SkipsLowRank(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	bars := makeMomentumBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength":   0.9,
				"breakout_quality": 0.8,
				"liquidity":        0.8,
				"risk_score":       0.1,
				"rank":             20, // rank too low (> 5)
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no signal for low rank, got %+v", sig)
	}
}

func TestMomentum_BuysTopRankedMomentum(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	bars := makeMomentumBars(50, 100)

	roc := CalculateROC(bars, 10)
	if roc < 0.05 {
		t.Skipf("test data ROC too low: %.4f < 0.05", roc)
	}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength":   0.9,
				"breakout_quality": 0.8,
				"liquidity":        0.8,
				"risk_score":       0.1,
				"rank":             1,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalBuy {
		t.Fatalf("expected BUY for top-ranked momentum symbol, got %+v", sig)
	}
	sl, _ := sig.Metadata["sl"].(float64)
	tp, _ := sig.Metadata["tp"].(float64)
	if sl <= 0 {
		t.Error("expected stop loss to be set")
	}
	if tp <= sl {
		t.Error("expected target above stop loss")
	}
}

func TestMomentum_ExitsOnMomentumLoss(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)

	bars := make([]market.OHLCVBar, 50)
	for i := 0; i < 50; i++ {
		var price float64
		if i < 40 {
			price = 100 + float64(i)*2.0
		} else {
			price = 100 + float64(40)*2.0 - float64(i-40)*5.0
		}
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 3,
			Low:       price - 3,
			Close:     price,
			Volume:    200000,
		}
	}

	roc := CalculateROC(bars, 10)
	if roc >= 0 {
		t.Skipf("test data ROC not negative: %.4f", roc)
	}

	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 150}
	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.6, "rank": 3},
		}
		if idx == len(bars)-1 {
			ctx.CurrentPosition = position
		}
		return ctx
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalExit {
		t.Errorf("expected EXIT on momentum reversal (ROC=%.2f%%), got %+v", roc*100, sig)
	}
}

func TestMomentum_ExitsOnRankDrop(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	bars := makeMomentumBars(50, 100)
	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 100}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.7, "rank": 15}, // dropped out of top 10
		}
		if idx == len(bars)-1 {
			ctx.CurrentPosition = position
		}
		return ctx
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalExit {
		t.Errorf("expected EXIT when rank dropped to 15, got %+v", sig)
	}
}

func TestMomentum_HoldsTopRankedPosition(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	bars := makeMomentumBars(50, 100)
	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 100}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.8, "rank": 2}, // still in top 10
		}
		if idx == len(bars)-1 {
			ctx.CurrentPosition = position
		}
		return ctx
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil {
		t.Errorf("expected no exit signal for top-ranked position, got %+v", sig)
	}
}

func TestMomentum_IDAndTimeframe(t *testing.T) {
	s := NewMomentumStrategy(makeTestRiskConfig(), 500000)
	if s.ID() != "momentum_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.PreferredTimeframe() <= 0 {
		t.Error("preferred timeframe must be positive")
	}
}
