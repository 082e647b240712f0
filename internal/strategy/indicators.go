// Package strategy - indicators.go provides shared technical indicator calculations.
//
// These are used by multiple strategies (trend follow, mean reversion, breakout,
// momentum, bollinger, macd, pullback, vwap). All functions are stateless and
// deterministic — given the same bar slice, they return the same result. Bars
// are ordered oldest-first, most recent last, matching the window each
// strategy keeps for itself.
package strategy

import (
	"math"

	"github.com/devraj-patel/tradecore/internal/market"
)

// CalculateATR computes the Average True Range over the given period.
// True Range = max(high-low, |high-prevClose|, |low-prevClose|).
// Returns the simple average of the last `period` true ranges.
// Falls back to last bar's range if insufficient data.
func CalculateATR(bars []market.OHLCVBar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) < period+1 {
		last := bars[len(bars)-1]
		return last.High - last.Low
	}

	var totalTR float64
	for i := len(bars) - period; i < len(bars); i++ {
		curr := bars[i]
		prev := bars[i-1]

		tr1 := curr.High - curr.Low
		tr2 := math.Abs(curr.High - prev.Close)
		tr3 := math.Abs(curr.Low - prev.Close)

		tr := math.Max(tr1, math.Max(tr2, tr3))
		totalTR += tr
	}

	return totalTR / float64(period)
}

// CalculateRSI computes the Relative Strength Index over the given period.
// Uses the Wilder smoothing method (exponential moving average of gains/losses).
// Returns a value between 0 and 100.
// Returns 50 (neutral) if insufficient data.
func CalculateRSI(bars []market.OHLCVBar, period int) float64 {
	if len(bars) < period+1 {
		return 50 // neutral if insufficient data
	}

	// Calculate initial average gain and loss over the first `period` changes.
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gainSum += change
		} else {
			lossSum += math.Abs(change)
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	// Apply Wilder smoothing for remaining bars.
	for i := period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = math.Abs(change)
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100 // no losses → RSI is maxed
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateSMA computes the Simple Moving Average of closing prices over the given period.
// Uses the last `period` bars. Returns 0 if insufficient data.
func CalculateSMA(bars []market.OHLCVBar, period int) float64 {
	if len(bars) < period || period <= 0 {
		return 0
	}

	var sum float64
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// CalculateEMA computes the Exponential Moving Average of closing prices over
// the given period, seeded with the SMA of the first `period` closes. Returns
// 0 if insufficient data.
func CalculateEMA(bars []market.OHLCVBar, period int) float64 {
	series := emaSeries(bars, period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

// emaSeries returns the EMA value aligned to each bar from index period-1
// onward (so len(series) == len(bars)-period+1), or nil if insufficient data.
func emaSeries(bars []market.OHLCVBar, period int) []float64 {
	if period <= 0 || len(bars) < period {
		return nil
	}

	var seed float64
	for i := 0; i < period; i++ {
		seed += bars[i].Close
	}
	seed /= float64(period)

	multiplier := 2.0 / float64(period+1)
	series := make([]float64, 0, len(bars)-period+1)
	series = append(series, seed)

	ema := seed
	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close-ema)*multiplier + ema
		series = append(series, ema)
	}
	return series
}

// CalculateBollingerBands computes the Bollinger Bands over the given period
// and standard-deviation multiplier: middle is the SMA, upper/lower are the
// middle plus/minus multiplier*stddev, and bandwidth is (upper-lower)/middle
// — the normalized measure of squeeze the bollinger strategy watches for.
// Returns all zeros if insufficient data.
func CalculateBollingerBands(bars []market.OHLCVBar, period int, multiplier float64) (middle, upper, lower, bandwidth float64) {
	if len(bars) < period || period <= 0 {
		return 0, 0, 0, 0
	}

	middle = CalculateSMA(bars, period)

	var variance float64
	for i := len(bars) - period; i < len(bars); i++ {
		d := bars[i].Close - middle
		variance += d * d
	}
	variance /= float64(period)
	stddev := math.Sqrt(variance)

	upper = middle + multiplier*stddev
	lower = middle - multiplier*stddev
	if middle != 0 {
		bandwidth = (upper - lower) / middle
	}
	return middle, upper, lower, bandwidth
}

// CalculateMACD computes the MACD line (fast EMA - slow EMA), its signal line
// (EMA of the MACD line over signalPeriod), and the histogram (their
// difference), using the full bar slice. Returns all zeros if there isn't
// enough history to seed both EMAs plus the signal line.
func CalculateMACD(bars []market.OHLCVBar, fast, slow, signalPeriod int) (macdLine, signalLine, histogram float64) {
	macdSeries := macdLineSeries(bars, fast, slow)
	if len(macdSeries) < signalPeriod {
		return 0, 0, 0
	}

	macdLine = macdSeries[len(macdSeries)-1]
	signalLine = emaOfSeries(macdSeries, signalPeriod)
	histogram = macdLine - signalLine
	return macdLine, signalLine, histogram
}

// CalculatePrevMACD computes the MACD and signal lines (not the histogram)
// as of one bar earlier, letting callers detect a crossover between two
// consecutive bars.
func CalculatePrevMACD(bars []market.OHLCVBar, fast, slow, signalPeriod int) (macdLine, signalLine float64) {
	if len(bars) < 2 {
		return 0, 0
	}
	macdLine, signalLine, _ = CalculateMACD(bars[:len(bars)-1], fast, slow, signalPeriod)
	return macdLine, signalLine
}

// macdLineSeries aligns the fast and slow EMA series on their common tail and
// returns their difference at every point both are defined.
func macdLineSeries(bars []market.OHLCVBar, fast, slow int) []float64 {
	fastSeries := emaSeries(bars, fast)
	slowSeries := emaSeries(bars, slow)
	if len(fastSeries) == 0 || len(slowSeries) == 0 {
		return nil
	}
	// fastSeries is longer (smaller period, more points); align their tails.
	offset := len(fastSeries) - len(slowSeries)
	if offset < 0 {
		return nil
	}
	out := make([]float64, len(slowSeries))
	for i := range slowSeries {
		out[i] = fastSeries[i+offset] - slowSeries[i]
	}
	return out
}

// emaOfSeries applies the same EMA recurrence as emaSeries but over a
// pre-computed float series (the MACD line) instead of bar closes.
func emaOfSeries(series []float64, period int) float64 {
	if period <= 0 || len(series) < period {
		return 0
	}
	var seed float64
	for i := 0; i < period; i++ {
		seed += series[i]
	}
	seed /= float64(period)

	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(series); i++ {
		ema = (series[i]-ema)*multiplier + ema
	}
	return ema
}

// CalculateVWAP computes the Volume Weighted Average Price over the last
// `lookback` bars: sum(typical price * volume) / sum(volume), where typical
// price is (high+low+close)/3. Returns 0 if there is no volume in the window.
func CalculateVWAP(bars []market.OHLCVBar, lookback int) float64 {
	if len(bars) == 0 || lookback <= 0 {
		return 0
	}
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}

	var pvSum, volSum float64
	for i := start; i < len(bars); i++ {
		typical := (bars[i].High + bars[i].Low + bars[i].Close) / 3
		vol := float64(bars[i].Volume)
		pvSum += typical * vol
		volSum += vol
	}
	if volSum == 0 {
		return 0
	}
	return pvSum / volSum
}

// CalculateROC computes the Rate of Change over the given period, as a
// fraction (0.05 means 5%).
// ROC = (currentClose - closeNPeriodsAgo) / closeNPeriodsAgo
// Returns 0 if insufficient data or division by zero.
func CalculateROC(bars []market.OHLCVBar, period int) float64 {
	if len(bars) < period+1 || period <= 0 {
		return 0
	}

	current := bars[len(bars)-1].Close
	past := bars[len(bars)-1-period].Close

	if past == 0 {
		return 0
	}

	return (current - past) / past
}

// HighestHigh returns the highest high price over the last `period` bars.
// Returns 0 if no bars.
func HighestHigh(bars []market.OHLCVBar, period int) float64 {
	if len(bars) == 0 || period <= 0 {
		return 0
	}

	start := len(bars) - period
	if start < 0 {
		start = 0
	}

	highest := bars[start].High
	for i := start + 1; i < len(bars); i++ {
		if bars[i].High > highest {
			highest = bars[i].High
		}
	}
	return highest
}

// LowestLow returns the lowest low price over the last `period` bars.
// Returns 0 if no bars.
func LowestLow(bars []market.OHLCVBar, period int) float64 {
	if len(bars) == 0 || period <= 0 {
		return 0
	}

	start := len(bars) - period
	if start < 0 {
		start = 0
	}

	lowest := bars[start].Low
	for i := start + 1; i < len(bars); i++ {
		if bars[i].Low < lowest {
			lowest = bars[i].Low
		}
	}
	return lowest
}

// AverageVolume computes the average volume over the last `period` bars.
// Returns 0 if insufficient data.
func AverageVolume(bars []market.OHLCVBar, period int) float64 {
	if len(bars) == 0 || period <= 0 {
		return 0
	}

	start := len(bars) - period
	if start < 0 {
		start = 0
	}

	var totalVol float64
	count := 0
	for i := start; i < len(bars); i++ {
		totalVol += float64(bars[i].Volume)
		count++
	}

	if count == 0 {
		return 0
	}
	return totalVol / float64(count)
}
