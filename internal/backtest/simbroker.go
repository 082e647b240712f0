package backtest

// simbroker.go is the backtest-local fill simulator: every order fills
// synchronously at the price the caller supplies (the bar close, or the
// order's own limit price), mirroring broker.PaperBroker's immediate-fill
// policy from the live paper-trading path but speaking
// execution.BrokerAdapter instead of the teacher's REST-shaped
// Order/OrderResponse types, so one Engine works unchanged across paper
// and backtest runs.

import (
	"fmt"
	"sync"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/execution"
)

type simBroker struct {
	mu          sync.Mutex
	clk         clock.Clock
	nextID      int
	priceOf     func(symbol string) float64
	onFill      func(execution.FillEvent)
	positions   map[string]float64
	slippageBps float64
}

func newSimBroker(clk clock.Clock, priceOf func(symbol string) float64, slippageBps float64) *simBroker {
	return &simBroker{clk: clk, priceOf: priceOf, positions: make(map[string]float64), slippageBps: slippageBps}
}

// applySlippage nudges price against the order's side by slippageBps,
// mirroring broker.PaperBroker's fill policy so backtest and paper runs
// price fills the same way.
func (b *simBroker) applySlippage(side execution.Side, price float64) float64 {
	if b.slippageBps == 0 {
		return price
	}
	adj := price * b.slippageBps / 10000
	if side == execution.Sell {
		return price - adj
	}
	return price + adj
}

func (b *simBroker) PlaceOrder(order execution.NormalizedOrder) (string, error) {
	b.mu.Lock()
	b.nextID++
	orderID := fmt.Sprintf("SIM-%d", b.nextID)

	fillPrice := 0.0
	if order.LimitPrice != nil {
		fillPrice = *order.LimitPrice
	} else if b.priceOf != nil {
		fillPrice = b.priceOf(order.Symbol)
	}
	fillPrice = b.applySlippage(order.Side, fillPrice)

	delta := float64(order.Quantity)
	if order.Side == execution.Sell {
		delta = -delta
	}
	b.positions[order.Symbol] += delta
	cb := b.onFill
	now := b.clk.Now()
	b.mu.Unlock()

	if cb != nil {
		cb(execution.FillEvent{
			CorrelationID: orderID,
			BrokerOrderID: orderID,
			FillQuantity:  order.Quantity,
			FillPrice:     fillPrice,
			FillTime:      now,
		})
	}
	return orderID, nil
}

func (b *simBroker) CancelOrder(orderID string) (bool, error) {
	return false, fmt.Errorf("backtest: simbroker fills synchronously, nothing to cancel for %s", orderID)
}

func (b *simBroker) SubscribeFills(callback func(execution.FillEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFill = callback
}

func (b *simBroker) Positions() ([]execution.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]execution.BrokerPosition, 0, len(b.positions))
	for symbol, qty := range b.positions {
		out = append(out, execution.BrokerPosition{Symbol: symbol, Quantity: qty})
	}
	return out, nil
}
