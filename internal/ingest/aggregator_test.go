package ingest

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/market"
)

type fakeTickReader struct {
	bySymbol map[string][]market.Tick
}

func (f *fakeTickReader) ReadTicksSince(_ context.Context, symbol string, sinceMs int64, _ time.Time) ([]market.Tick, error) {
	var out []market.Tick
	for _, t := range f.bySymbol[symbol] {
		if t.ExchangeTSMs > sinceMs {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeCandleWriter struct {
	bars []market.OHLCVBar
}

func (f *fakeCandleWriter) WriteLiveCandle(_ context.Context, bar market.OHLCVBar) error {
	f.bars = append(f.bars, bar)
	return nil
}

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestTickAggregator_FinalizesOnLaterBucket(t *testing.T) {
	cal := market.NewCalendarFromHolidays(nil)
	base := time.Date(2026, 2, 2, 9, 15, 0, 0, market.IST)

	reader := &fakeTickReader{bySymbol: map[string][]market.Tick{
		"NSE_EQ|TEST": {
			{Symbol: "NSE_EQ|TEST", ExchangeTSMs: base.UnixMilli(), Price: 100, Volume: 10},
			{Symbol: "NSE_EQ|TEST", ExchangeTSMs: base.Add(10 * time.Second).UnixMilli(), Price: 105, Volume: 5},
			{Symbol: "NSE_EQ|TEST", ExchangeTSMs: base.Add(70 * time.Second).UnixMilli(), Price: 95, Volume: 20},
		},
	}}
	writer := &fakeCandleWriter{}

	agg := NewTickAggregator(reader, writer, cal, clock.NewReplayClock(base), []string{"NSE_EQ|TEST"}, silentLogger())
	agg.Tick(context.Background())

	if len(writer.bars) != 1 {
		t.Fatalf("expected 1 finalized bar after the minute rolled over, got %d", len(writer.bars))
	}
	bar := writer.bars[0]
	if bar.Open != 100 || bar.High != 105 || bar.Low != 100 || bar.Close != 105 || bar.Volume != 15 {
		t.Errorf("unexpected finalized bar: %+v", bar)
	}
}

func TestTickAggregator_FlushAtSessionCloseFinalizesOpenBucket(t *testing.T) {
	cal := market.NewCalendarFromHolidays(nil)
	base := time.Date(2026, 2, 2, 15, 29, 0, 0, market.IST)

	reader := &fakeTickReader{bySymbol: map[string][]market.Tick{
		"NSE_EQ|TEST": {
			{Symbol: "NSE_EQ|TEST", ExchangeTSMs: base.UnixMilli(), Price: 50, Volume: 1},
		},
	}}
	writer := &fakeCandleWriter{}

	agg := NewTickAggregator(reader, writer, cal, clock.NewReplayClock(base), []string{"NSE_EQ|TEST"}, silentLogger())
	agg.Tick(context.Background())
	if len(writer.bars) != 0 {
		t.Fatalf("expected no bar emitted before session close, got %d", len(writer.bars))
	}

	agg.FlushAtSessionClose(context.Background())
	if len(writer.bars) != 1 {
		t.Fatalf("expected the open bucket to be flushed at session close, got %d bars", len(writer.bars))
	}
}

func TestTickBuffer_DropsOldestBeyondCap(t *testing.T) {
	buf := NewTickBuffer(nil, clock.NewReplayClock(time.Now()), silentLogger())
	for i := 0; i < maxBufferedTicks+10; i++ {
		buf.Add(market.Tick{Symbol: "X", ExchangeTSMs: int64(i)})
	}
	if len(buf.ticks) != maxBufferedTicks {
		t.Fatalf("expected buffer bounded at %d, got %d", maxBufferedTicks, len(buf.ticks))
	}
	if buf.ticks[0].ExchangeTSMs != 10 {
		t.Errorf("expected oldest 10 ticks dropped, first remaining ts = %d", buf.ticks[0].ExchangeTSMs)
	}
}
