// Package execution implements the execution engine (C10): the
// signal-to-fill pipeline. It turns a strategy's SignalEvent into a
// NormalizedOrder, runs it through the risk gate, dispatches it to a
// broker, and folds every resulting FillEvent back into the position
// and order trackers — with idempotency, a re-entry guard, and a
// replay-rebuild path for restart.
package execution

import (
	"time"
)

// SignalType is what a strategy wants to do.
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalExit SignalType = "EXIT"
	SignalHold SignalType = "HOLD"
)

// SignalEvent is a frozen decision from a strategy. EXIT carries no
// direction of its own; direction is resolved from the current position
// at order-factory time.
type SignalEvent struct {
	StrategyID string
	Symbol     string
	Timestamp  time.Time
	SignalType SignalType
	Confidence float64
	Metadata   map[string]any
}

// Side is an order's direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType is the order style sent to the broker.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// NormalizedOrder is the execution engine's broker-agnostic order, built
// by the factory step from a SignalEvent.
type NormalizedOrder struct {
	CorrelationID string
	SignalID      string
	StrategyID    string
	Symbol        string
	Side          Side
	Quantity      int
	OrderType     OrderType
	LimitPrice    *float64
	CreatedAt     time.Time
	GroupID       string // non-empty for a leg of an OrderGroup
}

// FillEvent is one incremental execution against a dispatched order.
type FillEvent struct {
	CorrelationID string
	BrokerOrderID string
	FillQuantity  int
	FillPrice     float64
	FillTime      time.Time
	Fees          float64
}

// BrokerPosition is the broker's own view of a held position, used only
// by reconciliation to compare against the engine's authoritative
// PositionTracker.
type BrokerPosition struct {
	Symbol   string
	Quantity float64 // signed: positive long, negative short
}

// BrokerAdapter is the external port the engine dispatches orders
// through (spec §6). Implementations wrap a real exchange gateway, a
// deterministic paper simulator, or (in DRY_RUN) are never called at all.
type BrokerAdapter interface {
	PlaceOrder(order NormalizedOrder) (brokerOrderID string, err error)
	CancelOrder(brokerOrderID string) (bool, error)
	SubscribeFills(callback func(FillEvent))
	Positions() ([]BrokerPosition, error)
}

// Mode controls whether the engine actually reaches a broker.
type Mode string

const (
	// DryRun never dispatches to the broker; it logs intent and stops
	// short of order placement entirely.
	DryRun Mode = "DRY_RUN"
	// Paper dispatches to a deterministic simulator that fills
	// immediately at the supplied price with slippage.
	Paper Mode = "PAPER"
	// Live dispatches to a real exchange gateway.
	Live Mode = "LIVE"
)

// OrderGroup is a multi-leg order sharing one group_id. Group status
// aggregates leg statuses; group PnL sums across legs.
type OrderGroup struct {
	GroupID string
	Legs    []NormalizedOrder
}

// ReconciliationAlert flags a mismatch the periodic reconciliation job
// found between the engine's PositionTracker and the broker's own
// reported positions. The engine never auto-corrects; it only surfaces.
type ReconciliationAlert struct {
	Symbol          string
	TrackerQty      float64
	BrokerQty       float64
	Orphaned        bool // true if one side has a position the other doesn't know about
	DetectedAt      time.Time
}
