package strategy

import (
	"testing"
	"time"

	"github.com/devraj-patel/tradecore/internal/execution"
	"github.com/devraj-patel/tradecore/internal/market"
	"github.com/devraj-patel/tradecore/internal/runner"
)

// makeBollingerSqueezeBars creates bars with a tight consolidation (squeeze)
// followed by a breakout bar that closes above the upper Bollinger Band.
func makeBollingerSqueezeBars(n int, basePrice float64) []market.OHLCVBar {
	bars := make([]market.OHLCVBar, n)
	for i := 0; i < n; i++ {
		price := basePrice
		highSpread := 0.3
		lowSpread := 0.3
		vol := int64(100000)

		if i == n-1 {
			price = basePrice + 8.0
			highSpread = 3.0
			lowSpread = 1.0
			vol = 200000
		} else {
			price = basePrice + float64(i%3)*0.1 - float64(i%2)*0.05
		}

		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 0.2,
			High:      price + highSpread,
			Low:       price - lowSpread,
			Close:     price,
			Volume:    vol,
		}
	}
	return bars
}

func TestBollinger_SkipsBearRegime(t *testing.T) {
	s := NewBollingerSqueezeStrategy(makeTestRiskConfig(), 500000)
	bars := makeBollingerSqueezeBars(50, 100)

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBear, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength": 0.5,
				"liquidity":      0.6,
				"risk_score":     0.2,
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

func TestBollinger_BuysOnSqueezeBreakout(t *testing.T) {
	s := NewBollingerSqueezeStrategy(makeTestRiskConfig(), 500000)
	bars := makeBollingerSqueezeBars(50, 100)

	prior := bars[:len(bars)-1]
	_, _, _, priorBW := CalculateBollingerBands(prior, 20, 2.0)
	_, upper, _, _ := CalculateBollingerBands(bars, 20, 2.0)
	lastPrice := bars[len(bars)-1].Close

	if priorBW > s.SqueezeBandwidth {
		t.Skipf("test data bandwidth %.4f > %.4f (no squeeze)", priorBW, s.SqueezeBandwidth)
	}
	if lastPrice <= upper {
		t.Skipf("test data price %.2f <= upper %.2f (no breakout)", lastPrice, upper)
	}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength": 0.5,
				"liquidity":      0.6,
				"risk_score":     0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig == nil || sig.SignalType != execution.SignalBuy {
		t.Fatalf("expected BUY on squeeze breakout, got %+v", sig)
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

func TestBollinger_SkipsWhenNoSqueeze(t *testing.T) {
	s := NewBollingerSqueezeStrategy(makeTestRiskConfig(), 500000)

	bars := make([]market.OHLCVBar, 50)
	for i := 0; i < 50; i++ {
		price := 100.0 + float64(i%8)*6.0 - float64(i%5)*4.0
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 3,
			High:      price + 5,
			Low:       price - 5,
			Close:     price,
			Volume:    150000,
		}
	}

	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		return runner.StrategyContext{
			Symbol:       "TEST",
			MarketRegime: runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{
				"trend_strength": 0.5,
				"liquidity":      0.6,
				"risk_score":     0.2,
			},
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig != nil && sig.SignalType == execution.SignalBuy {
		t.Errorf("expected non-BUY for volatile bars (no squeeze), got %+v", sig)
	}
}

func TestBollinger_ExitsBelowMiddleBand(t *testing.T) {
	s := NewBollingerSqueezeStrategy(makeTestRiskConfig(), 500000)

	bars := make([]market.OHLCVBar, 50)
	for i := 0; i < 50; i++ {
		var price float64
		if i < 35 {
			price = 100 + float64(i)*0.5
		} else {
			price = 100 + float64(35)*0.5 - float64(i-35)*3.0
		}
		bars[i] = market.OHLCVBar{
			Symbol:    "TEST",
			Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * 15 * time.Minute),
			Open:      price - 1,
			High:      price + 2,
			Low:       price - 2,
			Close:     price,
			Volume:    150000,
		}
	}

	middle, _, _, _ := CalculateBollingerBands(bars, 20, 2.0)
	lastPrice := bars[len(bars)-1].Close
	if lastPrice >= middle {
		t.Skipf("test data: price %.2f >= middle %.2f", lastPrice, middle)
	}

	position := &runner.OpenPosition{Side: execution.Buy, EntryPrice: 120}
	sig, err := runLastBar(s, bars, func(idx int) runner.StrategyContext {
		ctx := runner.StrategyContext{
			Symbol:            "TEST",
			MarketRegime:      runner.MarketRegimeData{Regime: RegimeBull, Confidence: 0.8},
			AnalyticsSnapshot: runner.AnalyticsSnapshot{"trend_strength": 0.5},
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
		t.Errorf("expected EXIT below middle BB, got %+v", sig)
	}
}

func TestBollinger_IDAndTimeframe(t *testing.T) {
	s := NewBollingerSqueezeStrategy(makeTestRiskConfig(), 500000)
	if s.ID() != "bollinger_squeeze_v1" {
		t.Errorf("unexpected ID: %s", s.ID())
	}
	if s.PreferredTimeframe() <= 0 {
		t.Error("preferred timeframe must be positive")
	}
}
