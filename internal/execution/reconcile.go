package execution

// reconcile.go runs the periodic (60s) reconciliation job that compares
// the engine's authoritative PositionTracker against the broker's own
// reported positions. It only surfaces mismatches on the telemetry bus —
// never auto-corrects, since silently rewriting a position to match the
// broker could paper over a real bug in the fill pipeline.

import (
	"context"
	"time"

	"github.com/devraj-patel/tradecore/internal/telemetry"
)

const reconcileInterval = 60 * time.Second

// RunReconciliation blocks, comparing tracked positions against the
// broker's reported positions every reconcileInterval, until ctx is
// cancelled. Call it in its own goroutine alongside Run.
func (e *Engine) RunReconciliation(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcileOnce()
		}
	}
}

func (e *Engine) reconcileOnce() {
	if e.broker == nil {
		return
	}
	brokerPositions, err := e.broker.Positions()
	if err != nil {
		e.logger.Printf("execution: reconciliation: broker positions fetch failed: %v", err)
		return
	}
	brokerBySymbol := make(map[string]float64, len(brokerPositions))
	for _, bp := range brokerPositions {
		brokerBySymbol[bp.Symbol] = bp.Quantity
	}

	now := e.clk.Now()
	tracked := e.positions.All()
	seen := make(map[string]bool, len(tracked))

	for _, p := range tracked {
		seen[p.InstrumentKey] = true
		trackerQty := e.positions.NetQuantity(p.InstrumentKey)
		brokerQty, ok := brokerBySymbol[p.InstrumentKey]
		if !ok {
			brokerQty = 0
		}
		if trackerQty != brokerQty {
			e.publishAlert(ReconciliationAlert{
				Symbol:     p.InstrumentKey,
				TrackerQty: trackerQty,
				BrokerQty:  brokerQty,
				Orphaned:   !ok,
				DetectedAt: now,
			})
		}
	}

	for symbol, qty := range brokerBySymbol {
		if seen[symbol] || qty == 0 {
			continue
		}
		e.publishAlert(ReconciliationAlert{
			Symbol:     symbol,
			TrackerQty: 0,
			BrokerQty:  qty,
			Orphaned:   true,
			DetectedAt: now,
		})
	}
}

func (e *Engine) publishAlert(alert ReconciliationAlert) {
	e.logger.Printf("execution: reconciliation mismatch for %s: tracker=%.2f broker=%.2f orphaned=%v",
		alert.Symbol, alert.TrackerQty, alert.BrokerQty, alert.Orphaned)
	if e.bus != nil {
		e.bus.Publish(telemetry.TopicPositions, alert)
	}
}
