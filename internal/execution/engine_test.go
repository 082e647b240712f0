package execution

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/config"
	"github.com/devraj-patel/tradecore/internal/order"
	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/risk"
)

type fakeBroker struct {
	mu        sync.Mutex
	orders    []NormalizedOrder
	nextID    int
	fillCB    func(FillEvent)
	placeErr  error
	positions []BrokerPosition
}

func (b *fakeBroker) PlaceOrder(o NormalizedOrder) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return "", b.placeErr
	}
	b.nextID++
	id := fmt.Sprintf("BRK-%d", b.nextID)
	b.orders = append(b.orders, o)
	return id, nil
}

func (b *fakeBroker) CancelOrder(id string) (bool, error) { return true, nil }

func (b *fakeBroker) SubscribeFills(cb func(FillEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fillCB = cb
}

func (b *fakeBroker) Positions() ([]BrokerPosition, error) { return b.positions, nil }

func (b *fakeBroker) deliverFill(f FillEvent) {
	b.mu.Lock()
	cb := b.fillCB
	b.mu.Unlock()
	cb(f)
}

func testRiskManager() *risk.Manager {
	return risk.NewManager(config.RiskConfig{
		MaxDailyTrades: 100,
		MaxOrderQty:    10000,
	}, 1_000_000)
}

func newTestEngine(t *testing.T, broker *fakeBroker, mode Mode) *Engine {
	t.Helper()
	return NewEngine(mode, "test-scope", broker, testRiskManager(),
		position.NewTracker(), order.NewTracker(), nil, nil,
		clock.NewReplayClock(time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)),
		nil, nil, nil)
}

func TestProcessSignal_HoldIsNoop(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	result, err := e.ProcessSignal(context.Background(), SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalHold,
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, broker.orders)
}

func TestProcessSignal_BuyDispatchesToBroker(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	sig := SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalBuy,
		Timestamp: time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC),
		Metadata:  map[string]any{"quantity": 10},
	}
	ord, err := e.ProcessSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, ord)
	assert.Equal(t, Buy, ord.Side)
	assert.Equal(t, 10, ord.Quantity)
	assert.Len(t, broker.orders, 1)
}

func TestProcessSignal_DuplicateSignalIsIdempotent(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	sig := SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalBuy,
		Timestamp: time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC),
		Metadata:  map[string]any{"quantity": 10},
	}
	ctx := context.Background()
	first, err := e.ProcessSignal(ctx, sig)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := e.ProcessSignal(ctx, sig)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, broker.orders, 1)
}

func TestProcessSignal_ExitOnFlatPositionFails(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	_, err := e.ProcessSignal(context.Background(), SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalExit,
		Timestamp: time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC),
	})
	require.Error(t, err)
	var factoryErr *OrderFactoryError
	assert.ErrorAs(t, err, &factoryErr)
}

func TestProcessSignal_DryRunNeverDispatches(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, DryRun)
	sig := SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalBuy,
		Timestamp: time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC),
		Metadata:  map[string]any{"quantity": 5},
	}
	ord, err := e.ProcessSignal(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, ord)
	assert.Empty(t, broker.orders)
}

func TestProcessSignal_ReentryGuardRejectsNestedCall(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	e.inFlight = 1
	_, err := e.ProcessSignal(context.Background(), SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalBuy,
		Metadata: map[string]any{"quantity": 1},
	})
	require.Error(t, err)
	var violation *ExecutionRuleViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "REENTRY", violation.Rule)
}

func TestFillUpdatesPositionAndOrderTracker(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	sig := SignalEvent{
		StrategyID: "s1", Symbol: "RELIANCE", SignalType: SignalBuy,
		Timestamp: time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC),
		Metadata:  map[string]any{"quantity": 10},
	}
	ord, err := e.ProcessSignal(context.Background(), sig)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Run(ctx)
	}()

	broker.deliverFill(FillEvent{
		CorrelationID: ord.CorrelationID,
		FillQuantity:  10,
		FillPrice:     100.0,
		FillTime:      time.Date(2026, 1, 5, 9, 21, 0, 0, time.UTC),
	})

	require.Eventually(t, func() bool {
		return e.positions.HasOpenPosition("RELIANCE")
	}, time.Second, time.Millisecond)

	pos := e.positions.GetPosition("RELIANCE")
	assert.Equal(t, position.Long, pos.Side)
	assert.Equal(t, 10.0, pos.Quantity)

	st, ok := e.orders.Get(ord.CorrelationID)
	require.True(t, ok)
	assert.Equal(t, order.Filled, st.Status)

	cancel()
	wg.Wait()
}

func TestGroupStatus(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestEngine(t, broker, Paper)
	e.orders.RegisterOrder("leg-1", "sig-1", "A", "BUY", 10)
	e.orders.RegisterOrder("leg-2", "sig-2", "B", "BUY", 10)

	assert.Equal(t, order.Created, e.GroupStatus([]string{"leg-1", "leg-2"}))

	_, err := e.orders.ApplyFill("leg-1", order.Fill{Price: 1, Quantity: 10, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, order.Partial, e.GroupStatus([]string{"leg-1", "leg-2"}))

	_, err = e.orders.ApplyFill("leg-2", order.Fill{Price: 1, Quantity: 10, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, order.Filled, e.GroupStatus([]string{"leg-1", "leg-2"}))
}
