// Package broker - paper.go implements the PAPER-mode simulator broker.
//
// Unlike the teacher's delivery-only paper account (which rejects a SELL
// it can't cover from existing holdings), this fills every order
// immediately against a running intraday (MIS) position per symbol,
// including opening or adding to a short, matching the position
// tracker's LONG/SHORT/FLAT model (internal/position). A configurable
// slippage, in basis points adverse to the order's side, is applied to
// the requested price before the fill is recorded — spec'd PAPER
// behavior is "fill immediately at the provided price with slippage."
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperBroker simulates intraday order execution. Every order fills
// immediately at the requested price adjusted by SlippageBps; funds are
// adjusted for cash impact and realized PnL is tracked per symbol the
// same way the live position tracker nets fills.
type PaperBroker struct {
	mu          sync.Mutex
	funds       Fund
	orders      map[string]*paperOrder
	positions   map[string]*paperPosition
	nextID      int
	slippageBps float64
}

type paperOrder struct {
	Order    Order
	Response OrderStatusResponse
}

// paperPosition is the paper broker's own signed-quantity bookkeeping,
// kept separate from (and reconciled against) internal/position.Tracker,
// which remains the engine's single source of truth.
type paperPosition struct {
	symbol       string
	exchange     string
	signedQty    int
	avgPrice     float64
	realizedPnL  float64
	lastPrice    float64
}

// NewPaperBroker creates a paper broker with the given initial capital
// and zero slippage. Use NewPaperBrokerWithSlippage to model fill slippage.
func NewPaperBroker(initialCapital float64) *PaperBroker {
	return NewPaperBrokerWithSlippage(initialCapital, 0)
}

// NewPaperBrokerWithSlippage creates a paper broker that fills orders at
// the requested price moved by slippageBps basis points against the
// order's side (buys fill higher, sells fill lower).
func NewPaperBrokerWithSlippage(initialCapital, slippageBps float64) *PaperBroker {
	return &PaperBroker{
		funds: Fund{
			AvailableCash: initialCapital,
			TotalBalance:  initialCapital,
		},
		orders:      make(map[string]*paperOrder),
		positions:   make(map[string]*paperPosition),
		slippageBps: slippageBps,
	}
}

// applySlippage nudges price against the order's side by slippageBps.
func (pb *PaperBroker) applySlippage(side OrderSide, price float64) float64 {
	if pb.slippageBps == 0 {
		return price
	}
	adj := price * pb.slippageBps / 10000
	if side == OrderSideBuy {
		return price + adj
	}
	return price - adj
}

func (pb *PaperBroker) GetFunds(_ context.Context) (*Fund, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	f := pb.funds
	return &f, nil
}

func (pb *PaperBroker) GetHoldings(_ context.Context) ([]Holding, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	result := make([]Holding, 0, len(pb.positions))
	for _, p := range pb.positions {
		if p.signedQty <= 0 {
			continue // holdings are long-only; shorts surface via GetPositions
		}
		result = append(result, Holding{
			Symbol:       p.symbol,
			Exchange:     p.exchange,
			Quantity:     p.signedQty,
			AveragePrice: p.avgPrice,
			LastPrice:    p.lastPrice,
			PnL:          p.realizedPnL,
		})
	}
	return result, nil
}

func (pb *PaperBroker) GetPositions(_ context.Context) ([]Position, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	positions := make([]Position, 0, len(pb.positions))
	for _, p := range pb.positions {
		if p.signedQty == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:       p.symbol,
			Exchange:     p.exchange,
			Quantity:     p.signedQty,
			AveragePrice: p.avgPrice,
			LastPrice:    p.lastPrice,
			PnL:          p.realizedPnL,
			Product:      "MIS",
		})
	}
	return positions, nil
}

// PlaceOrder fills order immediately at the slippage-adjusted price and
// nets it against any existing paper position for the symbol, opening or
// extending a short when a SELL exceeds (or starts with no) long quantity.
func (pb *PaperBroker) PlaceOrder(_ context.Context, order Order) (*OrderResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.nextID++
	orderID := fmt.Sprintf("PAPER-%d", pb.nextID)

	fillPrice := pb.applySlippage(order.Side, order.Price)

	cost := fillPrice * float64(order.Quantity)
	if order.Side == OrderSideBuy && cost > pb.funds.AvailableCash {
		return &OrderResponse{
			OrderID:   orderID,
			Status:    OrderStatusRejected,
			Message:   "insufficient funds",
			Timestamp: time.Now(),
		}, nil
	}

	p, ok := pb.positions[order.Symbol]
	if !ok {
		p = &paperPosition{symbol: order.Symbol, exchange: order.Exchange}
		pb.positions[order.Symbol] = p
	}
	pb.applyFill(p, order.Side, order.Quantity, fillPrice)

	if order.Side == OrderSideBuy {
		pb.funds.AvailableCash -= cost
		pb.funds.UsedMargin += cost
	} else {
		pb.funds.AvailableCash += cost
		pb.funds.UsedMargin -= cost
	}

	pb.orders[orderID] = &paperOrder{
		Order: order,
		Response: OrderStatusResponse{
			OrderID:      orderID,
			Status:       OrderStatusCompleted,
			FilledQty:    order.Quantity,
			PendingQty:   0,
			AveragePrice: fillPrice,
			Message:      "paper fill",
			Timestamp:    time.Now(),
		},
	}

	return &OrderResponse{
		OrderID:   orderID,
		Status:    OrderStatusCompleted,
		Message:   "paper order filled",
		Timestamp: time.Now(),
	}, nil
}

// applyFill nets a fill into p the same way the position tracker does:
// same-direction fills widen the average entry; an opposite-direction
// fill closes at the existing average (realizing PnL) and, if it
// overshoots, flips the remainder to the other side at the fill price.
func (pb *PaperBroker) applyFill(p *paperPosition, side OrderSide, qty int, price float64) {
	signedFill := qty
	if side == OrderSideSell {
		signedFill = -qty
	}
	newSigned := p.signedQty + signedFill

	switch {
	case sign(p.signedQty) == sign(signedFill) || p.signedQty == 0:
		absPos := absInt(p.signedQty)
		p.avgPrice = (float64(absPos)*p.avgPrice + float64(qty)*price) / float64(absPos+qty)
	case absInt(signedFill) <= absInt(p.signedQty):
		p.realizedPnL += (price - p.avgPrice) * float64(sign(p.signedQty)) * float64(qty)
	default:
		closedQty := absInt(p.signedQty)
		p.realizedPnL += (price - p.avgPrice) * float64(sign(p.signedQty)) * float64(closedQty)
		p.avgPrice = price
	}

	if newSigned == 0 {
		p.avgPrice = 0
	}
	p.signedQty = newSigned
	p.lastPrice = price
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (pb *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return fmt.Errorf("paper broker: order %s not found", orderID)
	}
	if po.Response.Status == OrderStatusCompleted {
		return fmt.Errorf("paper broker: order %s already completed", orderID)
	}

	po.Response.Status = OrderStatusCancelled
	return nil
}

func (pb *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderStatusResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("paper broker: order %s not found", orderID)
	}

	resp := po.Response
	return &resp, nil
}
