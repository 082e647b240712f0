package position

import (
	"math"
	"testing"
	"time"
)

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

// TestTracker_NettingAndPnL_S2 reproduces the spec's worked netting
// example: buy 100 @ 100, sell 30 @ 110 (partial close), sell 100 @ 105
// (flip to SHORT).
func TestTracker_NettingAndPnL_S2(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	p := tr.ApplyFill(FillEvent{InstrumentKey: "X", Side: Buy, Quantity: 100, Price: 100, Multiplier: 1, At: now})
	if p.Side != Long || p.Quantity != 100 || !approxEqual(p.AvgEntryPrice, 100) {
		t.Fatalf("after buy 100@100: %+v", p)
	}

	p = tr.ApplyFill(FillEvent{InstrumentKey: "X", Side: Sell, Quantity: 30, Price: 110, Multiplier: 1, At: now})
	if p.Side != Long || p.Quantity != 70 || !approxEqual(p.RealizedPnL, 300) {
		t.Fatalf("after sell 30@110: %+v", p)
	}

	p = tr.ApplyFill(FillEvent{InstrumentKey: "X", Side: Sell, Quantity: 100, Price: 105, Multiplier: 1, At: now})
	if p.Side != Short || p.Quantity != 30 || !approxEqual(p.AvgEntryPrice, 105) {
		t.Fatalf("after sell 100@105 (flip): %+v", p)
	}
	if !approxEqual(p.RealizedPnL, -50) {
		t.Fatalf("expected realized_pnl -50 after flip, got %v", p.RealizedPnL)
	}
}

// TestTracker_ExactCloseZeroesAvgEntryPrice covers boundary B1: a fill
// that exactly closes a position must leave side=FLAT, quantity=0, and
// avg_entry_price=0, not just quantity=0 with a stale average.
func TestTracker_ExactCloseZeroesAvgEntryPrice(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)

	tr.ApplyFill(FillEvent{InstrumentKey: "X", Side: Buy, Quantity: 100, Price: 100, Multiplier: 1, At: now})
	p := tr.ApplyFill(FillEvent{InstrumentKey: "X", Side: Sell, Quantity: 100, Price: 110, Multiplier: 1, At: now})

	if p.Side != Flat || p.Quantity != 0 {
		t.Fatalf("after exact close: expected FLAT/0, got %+v", p)
	}
	if p.AvgEntryPrice != 0 {
		t.Fatalf("after exact close: expected avg_entry_price 0, got %v", p.AvgEntryPrice)
	}
	if !approxEqual(p.RealizedPnL, 1000) {
		t.Fatalf("after exact close: expected realized_pnl 1000, got %v", p.RealizedPnL)
	}

	// Exact close of a SHORT position must zero it too.
	tr2 := NewTracker()
	tr2.ApplyFill(FillEvent{InstrumentKey: "Y", Side: Sell, Quantity: 50, Price: 200, Multiplier: 1, At: now})
	p2 := tr2.ApplyFill(FillEvent{InstrumentKey: "Y", Side: Buy, Quantity: 50, Price: 190, Multiplier: 1, At: now})
	if p2.Side != Flat || p2.Quantity != 0 || p2.AvgEntryPrice != 0 {
		t.Fatalf("after exact close of short: expected FLAT/0/0, got %+v", p2)
	}
}

func TestTracker_FlatInstrumentReadsDefault(t *testing.T) {
	tr := NewTracker()
	p := tr.GetPosition("UNKNOWN")
	if p.Side != Flat || p.Quantity != 0 {
		t.Fatalf("expected flat default position, got %+v", p)
	}
	if tr.HasOpenPosition("UNKNOWN") {
		t.Fatal("expected no open position for unknown instrument")
	}
}

func TestTracker_RestoreRebuildsState(t *testing.T) {
	tr := NewTracker()
	tr.Restore([]Position{
		{InstrumentKey: "Y", Side: Long, Quantity: 50, AvgEntryPrice: 200, RealizedPnL: 10},
	})
	p := tr.GetPosition("Y")
	if p.Side != Long || p.Quantity != 50 || p.AvgEntryPrice != 200 {
		t.Fatalf("restored position mismatch: %+v", p)
	}
}
