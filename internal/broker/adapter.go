package broker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/devraj-patel/tradecore/internal/execution"
)

// ExecutionAdapter wraps a Broker — the teacher's richer account/order
// management port (funds, holdings, positions, order lifecycle) — into
// execution.BrokerAdapter, the narrower dispatch port the execution engine
// calls. Fills never arrive through this adapter's own return values; they
// are delivered asynchronously by whatever calls DeliverFill (the webhook
// postback server in live/paper mode), matching how the underlying broker
// APIs actually report fills.
type ExecutionAdapter struct {
	broker Broker
	logger *log.Logger

	mu    sync.Mutex
	subs  []func(execution.FillEvent)
}

// NewExecutionAdapter wraps broker so it satisfies execution.BrokerAdapter.
func NewExecutionAdapter(b Broker, logger *log.Logger) *ExecutionAdapter {
	return &ExecutionAdapter{broker: b, logger: logger}
}

// PlaceOrder translates a NormalizedOrder into the broker's Order shape and
// dispatches it. Product defaults to intraday (MIS) since the execution
// engine's orders are all bar-driven intraday signals.
func (a *ExecutionAdapter) PlaceOrder(order execution.NormalizedOrder) (string, error) {
	side := OrderSideBuy
	if order.Side == execution.Sell {
		side = OrderSideSell
	}
	ot := OrderTypeMarket
	price := 0.0
	if order.OrderType == execution.Limit {
		ot = OrderTypeLimit
		if order.LimitPrice != nil {
			price = *order.LimitPrice
		}
	}

	resp, err := a.broker.PlaceOrder(context.Background(), Order{
		Symbol:   order.Symbol,
		Exchange: "NSE",
		Side:     side,
		Type:     ot,
		Quantity: order.Quantity,
		Price:    price,
		Product:  "MIS",
		Tag:      order.CorrelationID,
	})
	if err != nil {
		return "", fmt.Errorf("broker adapter: place order: %w", err)
	}
	if resp.Status == OrderStatusRejected {
		return "", fmt.Errorf("broker adapter: order rejected: %s", resp.Message)
	}

	// Some brokers (PaperBroker, and any REST broker replying synchronously)
	// report the fill in the place-order response itself rather than a later
	// postback. Deliver it now so the engine doesn't wait on a callback that
	// will never arrive.
	if resp.Status == OrderStatusCompleted {
		a.DeliverFill(execution.FillEvent{
			CorrelationID: order.CorrelationID,
			BrokerOrderID: resp.OrderID,
			FillQuantity:  order.Quantity,
			FillPrice:     price,
			FillTime:      resp.Timestamp,
		})
	}

	return resp.OrderID, nil
}

// CancelOrder cancels a previously placed order.
func (a *ExecutionAdapter) CancelOrder(brokerOrderID string) (bool, error) {
	if err := a.broker.CancelOrder(context.Background(), brokerOrderID); err != nil {
		return false, fmt.Errorf("broker adapter: cancel order: %w", err)
	}
	return true, nil
}

// SubscribeFills registers callback to receive fills as they are delivered
// via DeliverFill. Multiple subscribers may register; the execution engine
// registers exactly one, matching its single fill-ingest channel.
func (a *ExecutionAdapter) SubscribeFills(callback func(execution.FillEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, callback)
}

// DeliverFill is called by the postback/webhook layer when an external fill
// notification arrives. It fans the fill out to every registered subscriber.
func (a *ExecutionAdapter) DeliverFill(fill execution.FillEvent) {
	a.mu.Lock()
	subs := make([]func(execution.FillEvent), len(a.subs))
	copy(subs, a.subs)
	a.mu.Unlock()

	for _, cb := range subs {
		cb(fill)
	}
}

// Positions returns the broker's own view of open positions, used only by
// reconciliation to compare against the engine's authoritative tracker.
func (a *ExecutionAdapter) Positions() ([]execution.BrokerPosition, error) {
	positions, err := a.broker.GetPositions(context.Background())
	if err != nil {
		return nil, fmt.Errorf("broker adapter: positions: %w", err)
	}
	out := make([]execution.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		out = append(out, execution.BrokerPosition{
			Symbol:   p.Symbol,
			Quantity: float64(p.Quantity),
		})
	}
	return out, nil
}
