// Package order implements the order and fill tracker (C8): the order
// state machine, its volume-weighted average fill price, and the
// replay-rebuild path that reconstructs this state from the trading
// partition on restart.
package order

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a position in the order state machine.
type Status string

const (
	Created   Status = "CREATED"
	Partial   Status = "PARTIAL"
	Filled    Status = "FILLED"
	Cancelled Status = "CANCELLED"
	Rejected  Status = "REJECTED"
)

func (s Status) terminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// ErrTerminal is returned when a fill or cancellation is attempted
// against an order already in a terminal state.
var ErrTerminal = errors.New("order: already in a terminal state")

// ErrOverfill is returned when a fill's cumulative quantity would exceed
// the order's total quantity.
var ErrOverfill = errors.New("order: fill would exceed order quantity")

// ErrNotFound is returned for operations against an unknown order id.
var ErrNotFound = errors.New("order: unknown order id")

// Fill is one execution against an order.
type Fill struct {
	Price    float64
	Quantity int
	At       time.Time
}

// State is the mutable lifecycle state of a single order.
// Invariant: FilledQty + RemainingQty == Quantity until terminal.
type State struct {
	OrderID      string
	SignalID     string
	Symbol       string
	Side         string
	Quantity     int
	Status       Status
	FilledQty    int
	RemainingQty int
	AvgFillPrice float64
	Fills        []Fill
}

// Tracker owns every order's State, keyed by order id. Mutations
// (RegisterOrder, ApplyFill, Cancel, Reject) take the tracker's
// exclusive lock; reads take a shared lock.
type Tracker struct {
	mu     sync.RWMutex
	orders map[string]*State
}

// NewTracker creates an empty order tracker.
func NewTracker() *Tracker {
	return &Tracker{orders: make(map[string]*State)}
}

// RegisterOrder creates a new order in CREATED state after a successful
// broker dispatch.
func (t *Tracker) RegisterOrder(orderID, signalID, symbol, side string, quantity int) *State {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := &State{
		OrderID:      orderID,
		SignalID:     signalID,
		Symbol:       symbol,
		Side:         side,
		Quantity:     quantity,
		Status:       Created,
		RemainingQty: quantity,
	}
	t.orders[orderID] = st
	return st
}

// ApplyFill records a fill against orderID, advancing CREATED/PARTIAL
// toward PARTIAL or FILLED and recomputing the volume-weighted average
// fill price. Rejects fills against a terminal order or one whose
// cumulative quantity would overshoot.
func (t *Tracker) ApplyFill(orderID string, f Fill) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.orders[orderID]
	if !ok {
		return State{}, ErrNotFound
	}
	if st.Status.terminal() {
		return State{}, fmt.Errorf("order %s: %w", orderID, ErrTerminal)
	}
	if st.FilledQty+f.Quantity > st.Quantity {
		return State{}, fmt.Errorf("order %s: %w (filled=%d, new=%d, qty=%d)", orderID, ErrOverfill, st.FilledQty, f.Quantity, st.Quantity)
	}

	totalValue := st.AvgFillPrice*float64(st.FilledQty) + f.Price*float64(f.Quantity)
	st.FilledQty += f.Quantity
	st.RemainingQty = st.Quantity - st.FilledQty
	st.AvgFillPrice = totalValue / float64(st.FilledQty)
	st.Fills = append(st.Fills, f)

	if st.RemainingQty == 0 {
		st.Status = Filled
	} else {
		st.Status = Partial
	}

	return *st, nil
}

// Cancel transitions a non-terminal order to CANCELLED.
func (t *Tracker) Cancel(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if st.Status.terminal() {
		return fmt.Errorf("order %s: %w", orderID, ErrTerminal)
	}
	st.Status = Cancelled
	return nil
}

// Reject transitions a CREATED order to REJECTED (a broker-side rejection
// before any fill).
func (t *Tracker) Reject(orderID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if st.Status.terminal() {
		return fmt.Errorf("order %s: %w", orderID, ErrTerminal)
	}
	st.Status = Rejected
	return nil
}

// Get returns a snapshot of orderID's state.
func (t *Tracker) Get(orderID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.orders[orderID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// OpenOrders returns every order not yet in a terminal state.
func (t *Tracker) OpenOrders() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []State
	for _, st := range t.orders {
		if !st.Status.terminal() {
			out = append(out, *st)
		}
	}
	return out
}

// RebuildEntry is one persisted order plus its persisted fills, used by
// Rebuild to replay state on restart.
type RebuildEntry struct {
	Order State
	Fills []Fill
}

// Rebuild reconstructs tracker state from persisted orders and fills
// (R1: replay orders first, then fills in fill_time order). The order's
// persisted Status/FilledQty/AvgFillPrice are trusted as already
// consistent; fills are replayed only to repopulate the in-memory Fills
// slice for audit/inspection, not to recompute status.
func (t *Tracker) Rebuild(entries []RebuildEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range entries {
		st := e.Order
		fills := append([]Fill(nil), e.Fills...)
		sort.Slice(fills, func(i, j int) bool { return fills[i].At.Before(fills[j].At) })
		st.Fills = fills
		t.orders[st.OrderID] = &st
	}
}
