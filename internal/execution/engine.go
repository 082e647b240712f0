package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/devraj-patel/tradecore/internal/clock"
	"github.com/devraj-patel/tradecore/internal/order"
	"github.com/devraj-patel/tradecore/internal/position"
	"github.com/devraj-patel/tradecore/internal/risk"
	"github.com/devraj-patel/tradecore/internal/storage"
	"github.com/devraj-patel/tradecore/internal/telemetry"
)

// EquitySource supplies the account-level figures the risk gate's
// drawdown check needs. The execution engine queries it fresh on every
// ProcessSignal call rather than caching equity itself.
type EquitySource interface {
	Equity() risk.EquitySnapshot
}

// SectorLookup resolves a symbol's sector tag for the risk gate's
// concentration check. A nil lookup disables the check (every symbol
// reports an empty sector).
type SectorLookup interface {
	Sector(symbol string) string
}

// Engine is the execution engine (C10). One Engine instance owns one
// idempotency scope (a live session or a single backtest run) and one
// BrokerAdapter; nothing outside it ever calls PlaceOrder/ApplyFill on
// the trackers it wraps.
type Engine struct {
	mode     Mode
	scopeID  string // session_id (live) or run_id (backtest) — never shared across scopes
	broker   BrokerAdapter
	riskMgr  *risk.Manager
	breaker  *risk.CircuitBreaker // nil disables the supplemental failure-rate halt
	positions *position.Tracker
	orders   *order.Tracker
	trading  *storage.TradingStore
	bus      *telemetry.Bus
	clk      clock.Clock
	equity   EquitySource
	sectors  SectorLookup
	logger   *log.Logger

	mu          sync.Mutex
	seenSignals map[string]struct{}
	inFlight    int32 // re-entry guard; 0 = free, 1 = a call is executing

	fills chan fillJob
	done  chan struct{}

	killSwitch atomic.Bool
}

type fillJob struct {
	orderID string
	fill    FillEvent
}

// NewEngine constructs an Engine scoped to scopeID (a session id for
// live trading, a run id for a backtest — spec's recommended idempotency
// policy: never share seenSignals across runs).
func NewEngine(mode Mode, scopeID string, broker BrokerAdapter, riskMgr *risk.Manager, positions *position.Tracker, orders *order.Tracker, trading *storage.TradingStore, bus *telemetry.Bus, clk clock.Clock, equity EquitySource, sectors SectorLookup, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{
		mode:        mode,
		scopeID:     scopeID,
		broker:      broker,
		riskMgr:     riskMgr,
		positions:   positions,
		orders:      orders,
		trading:     trading,
		bus:         bus,
		clk:         clk,
		equity:      equity,
		sectors:     sectors,
		logger:      logger,
		seenSignals: make(map[string]struct{}),
		fills:       make(chan fillJob, 256),
		done:        make(chan struct{}),
	}
	if broker != nil {
		broker.SubscribeFills(e.enqueueFill)
	}
	return e
}

// SetCircuitBreaker attaches the supplemental failure-rate breaker
// (internal/risk.CircuitBreaker): repeated broker failures halt new
// entries without waiting on the slower drawdown check. EXIT orders are
// never blocked by it, matching the breaker's own documented policy.
func (e *Engine) SetCircuitBreaker(cb *risk.CircuitBreaker) { e.breaker = cb }

// Run starts the single fill-handling worker that serializes every
// FillEvent through C7/C8/PnL, regardless of which task the broker
// callback arrived on (spec §5: "a single channel/queue consumed by one
// worker to avoid interleaving updates"). Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(e.done)
			return
		case job := <-e.fills:
			e.applyFill(ctx, job)
		}
	}
}

// Done returns a channel closed once Run has returned, so a caller
// shutting down can wait for the fill worker to drain in-flight work.
func (e *Engine) Done() <-chan struct{} { return e.done }

// PendingFills reports how many fills are queued but not yet applied.
// A backtest driving its own synchronous broker uses this to know when
// it is safe to stop the fill worker without dropping a trailing fill.
func (e *Engine) PendingFills() int { return len(e.fills) }

func (e *Engine) enqueueFill(f FillEvent) {
	// Orders are registered under the broker's id, so that is the key a
	// fill is applied by; CorrelationID is the fallback for fills that
	// carry no broker id.
	orderID := f.BrokerOrderID
	if orderID == "" {
		orderID = f.CorrelationID
	}
	select {
	case e.fills <- fillJob{orderID: orderID, fill: f}:
	default:
		e.logger.Printf("execution: fill queue full, dropping fill for order %s", orderID)
	}
}

// signalID deterministically hashes (symbol, strategy_id, timestamp) per
// spec §4.10 step 1.
func signalID(sig SignalEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d", sig.Symbol, sig.StrategyID, sig.Timestamp.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// TripKillSwitch blocks every future ProcessSignal call until reset. The
// engine never calls it itself (the risk gate's drawdown breach trips the
// risk gate's own kill switch, not this one); it is checked before every
// dispatch in addition to the risk gate's own check.
func (e *Engine) TripKillSwitch()  { e.killSwitch.Store(true) }
func (e *Engine) ResetKillSwitch() { e.killSwitch.Store(false) }

// ProcessSignal is the engine's sole entry point (spec §4.10). It
// returns (nil, nil) for a HOLD signal or a duplicate signal already seen
// in this scope. A risk rejection returns a nil order and a non-nil error
// carrying the ordered audit trail (see riskRejectionError below), so
// callers can log/alert on it. A non-nil error means the order was NOT
// placed.
func (e *Engine) ProcessSignal(ctx context.Context, sig SignalEvent) (*NormalizedOrder, error) {
	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		return nil, &ExecutionRuleViolation{Rule: "REENTRY", Message: "process_signal invoked while another invocation is in flight"}
	}
	defer atomic.StoreInt32(&e.inFlight, 0)

	if e.killSwitch.Load() {
		return nil, &ExecutionRuleViolation{Rule: "KILL_SWITCH", Message: "kill switch active, refusing to dispatch"}
	}

	if sig.SignalType == SignalHold {
		return nil, nil
	}

	sigID := signalID(sig)
	scopedKey := e.scopeID + ":" + sigID

	e.mu.Lock()
	if _, dup := e.seenSignals[scopedKey]; dup {
		e.mu.Unlock()
		return nil, nil
	}
	e.seenSignals[scopedKey] = struct{}{}
	e.mu.Unlock()

	normalized, err := e.factory(sig, sigID)
	if err != nil {
		return nil, err
	}

	if e.breaker != nil && sig.SignalType != SignalExit && e.breaker.IsTripped() {
		return nil, &ExecutionRuleViolation{Rule: "CIRCUIT_BREAKER", Message: fmt.Sprintf("circuit breaker tripped: %s", e.breaker.TripReason())}
	}

	intent := risk.OrderIntent{
		Symbol:   normalized.Symbol,
		Side:     string(normalized.Side),
		Quantity: normalized.Quantity,
		Sector:   e.sectorOf(normalized.Symbol),
	}
	var openPositions []risk.PositionInfo
	for _, p := range e.positions.All() {
		if p.Side == position.Flat {
			continue
		}
		openPositions = append(openPositions, risk.PositionInfo{
			Symbol:   p.InstrumentKey,
			Sector:   e.sectorOf(p.InstrumentKey),
			Price:    p.AvgEntryPrice,
			Quantity: int(p.Quantity),
		})
	}
	var eq risk.EquitySnapshot
	if e.equity != nil {
		eq = e.equity.Equity()
	}

	result := e.riskMgr.Validate(intent, openPositions, eq, e.clk.Now())
	if !result.Approved {
		if result.Rejection != nil {
			telemetry.IncRiskRejection(result.Rejection.Rule)
		}
		return nil, &riskRejectionError{result: result}
	}
	e.riskMgr.RecordTrade(e.clk.Now())

	if e.bus != nil {
		e.bus.Publish(telemetry.TopicLogs, fmt.Sprintf("execution: order approved %s %s x%d", normalized.Side, normalized.Symbol, normalized.Quantity))
	}

	if e.mode == DryRun {
		e.logger.Printf("execution: DRY_RUN intent %s %s x%d (no broker dispatch)", normalized.Side, normalized.Symbol, normalized.Quantity)
		telemetry.IncOrderPlaced(string(e.mode), string(normalized.Side))
		return normalized, nil
	}

	brokerID, err := e.broker.PlaceOrder(*normalized)
	if err != nil {
		if e.breaker != nil {
			e.breaker.RecordFailure(err.Error())
		}
		return nil, &BrokerError{Kind: BrokerErrorTransient, Err: err}
	}
	telemetry.IncOrderPlaced(string(e.mode), string(normalized.Side))
	if e.breaker != nil {
		e.breaker.RecordSuccess()
	}
	normalized.CorrelationID = brokerID

	e.orders.RegisterOrder(brokerID, sigID, normalized.Symbol, string(normalized.Side), normalized.Quantity)

	if e.trading != nil {
		row := storage.OrderRow{
			OrderID:        brokerID,
			SignalID:       sigID,
			IdempotencyKey: scopedKey,
			Symbol:         normalized.Symbol,
			Side:           string(normalized.Side),
			Quantity:       normalized.Quantity,
			Status:         string(order.Created),
			RemainingQty:   normalized.Quantity,
			Mode:           string(e.mode),
			CreatedAt:      normalized.CreatedAt,
			UpdatedAt:      normalized.CreatedAt,
		}
		if err := e.trading.SaveOrder(ctx, row); err != nil {
			e.logger.Printf("execution: persist order %s: %v", brokerID, err)
		}
	}

	if e.bus != nil {
		e.bus.Publish(telemetry.TopicPositions, fmt.Sprintf("order %s dispatched: %s %s x%d", brokerID, normalized.Side, normalized.Symbol, normalized.Quantity))
	}

	return normalized, nil
}

func (e *Engine) sectorOf(symbol string) string {
	if e.sectors == nil {
		return ""
	}
	return e.sectors.Sector(symbol)
}

// factory converts a SignalEvent into a NormalizedOrder (spec §4.10 step
// 3). EXIT signals resolve direction and quantity from the current
// position; EXIT on a FLAT position is a factory error, never silently
// dropped.
func (e *Engine) factory(sig SignalEvent, sigID string) (*NormalizedOrder, error) {
	ord := &NormalizedOrder{
		CorrelationID: uuid.NewString(),
		SignalID:      sigID,
		StrategyID:    sig.StrategyID,
		Symbol:        sig.Symbol,
		OrderType:     Market,
		CreatedAt:     e.clk.Now(),
	}
	if gid, ok := sig.Metadata["group_id"].(string); ok {
		ord.GroupID = gid
	}

	switch sig.SignalType {
	case SignalBuy, SignalSell:
		if sig.SignalType == SignalBuy {
			ord.Side = Buy
		} else {
			ord.Side = Sell
		}
		qty, _ := sig.Metadata["quantity"].(int)
		if qty <= 0 {
			return nil, &OrderFactoryError{Message: fmt.Sprintf("signal %s/%s carries no positive quantity", sig.StrategyID, sig.Symbol)}
		}
		ord.Quantity = qty
		if price, ok := sig.Metadata["limit_price"].(float64); ok {
			ord.OrderType = Limit
			ord.LimitPrice = &price
		}
		return ord, nil

	case SignalExit:
		pos := e.positions.GetPosition(sig.Symbol)
		if pos.Side == position.Flat {
			return nil, &OrderFactoryError{Message: fmt.Sprintf("EXIT signal for %s on a FLAT position", sig.Symbol)}
		}
		if pos.Side == position.Long {
			ord.Side = Sell
		} else {
			ord.Side = Buy
		}
		ord.Quantity = int(pos.Quantity)
		return ord, nil

	default:
		return nil, &OrderFactoryError{Message: fmt.Sprintf("unhandled signal type %q", sig.SignalType)}
	}
}

// riskRejectionError adapts a risk.ValidationResult into an error the
// caller can inspect for the full ordered audit trail (spec §7:
// RiskRejection "carries the ordered audit trail of checks").
type riskRejectionError struct {
	result risk.ValidationResult
}

func (e *riskRejectionError) Error() string {
	if e.result.Rejection == nil {
		return "risk rejection (no reason recorded)"
	}
	return e.result.Rejection.Error()
}

// ChecksRun exposes the ordered list of checks that ran before rejection.
func (e *riskRejectionError) ChecksRun() []string { return e.result.ChecksRun }

// applyFill folds one FillEvent into C8 then C7, publishes telemetry, and
// persists the updated order/position/fill rows — always in that order,
// always on the single fill-handling worker (spec §4.10 step 6).
func (e *Engine) applyFill(ctx context.Context, job fillJob) {
	st, err := e.orders.ApplyFill(job.orderID, order.Fill{
		Price:    job.fill.FillPrice,
		Quantity: job.fill.FillQuantity,
		At:       job.fill.FillTime,
	})
	if err != nil {
		e.logger.Printf("execution: apply fill to order %s: %v", job.orderID, err)
		return
	}

	fillSide := position.Buy
	if st.Side == string(Sell) {
		fillSide = position.Sell
	}
	pos := e.positions.ApplyFill(position.FillEvent{
		InstrumentKey: st.Symbol,
		Side:          fillSide,
		Quantity:      float64(job.fill.FillQuantity),
		Price:         job.fill.FillPrice,
		Multiplier:    1,
		At:            job.fill.FillTime,
	})

	if e.bus != nil {
		e.bus.Publish(telemetry.TopicPositions, pos)
		e.bus.Publish(telemetry.TopicMetrics, fmt.Sprintf("fill: order=%s qty=%d price=%.2f", job.orderID, job.fill.FillQuantity, job.fill.FillPrice))
	}

	if e.trading == nil {
		return
	}
	if err := e.trading.AppendFill(ctx, storage.FillRow{
		OrderID:  job.orderID,
		Price:    job.fill.FillPrice,
		Quantity: job.fill.FillQuantity,
		FillTS:   job.fill.FillTime,
	}); err != nil {
		e.logger.Printf("execution: persist fill for order %s: %v", job.orderID, err)
	}
	if err := e.trading.SaveOrder(ctx, storage.OrderRow{
		OrderID:      st.OrderID,
		SignalID:     st.SignalID,
		Symbol:       st.Symbol,
		Side:         st.Side,
		Quantity:     st.Quantity,
		Status:       string(st.Status),
		FilledQty:    st.FilledQty,
		RemainingQty: st.RemainingQty,
		AvgFillPrice: st.AvgFillPrice,
		Mode:         string(e.mode),
		UpdatedAt:    job.fill.FillTime,
	}); err != nil {
		e.logger.Printf("execution: persist order update %s: %v", job.orderID, err)
	}
	if err := e.trading.SavePosition(ctx, storage.PositionRow{
		InstrumentKey: pos.InstrumentKey,
		Side:          string(pos.Side),
		Quantity:      pos.Quantity,
		AvgEntryPrice: pos.AvgEntryPrice,
		RealizedPnL:   pos.RealizedPnL,
		LastUpdate:    pos.LastUpdate,
	}); err != nil {
		e.logger.Printf("execution: persist position update %s: %v", pos.InstrumentKey, err)
	}
}

// Rebuild reconstructs C7/C8 in-memory state from the trading partition
// on restart. Open orders are restored from their persisted rows, filled
// and remaining quantity and average fill price included; persisted
// fills are not loaded, so a rebuilt order's Fills slice is empty.
// Fills are not re-applied to the position tracker either — the
// persisted PositionRow already reflects every fill that was ever
// applied, so replaying fills a second time through ApplyFill would
// double-count realized PnL.
func (e *Engine) Rebuild(ctx context.Context) error {
	orders, err := e.trading.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("execution: rebuild load orders: %w", err)
	}
	var entries []order.RebuildEntry
	for _, o := range orders {
		entries = append(entries, order.RebuildEntry{
			Order: order.State{
				OrderID:      o.OrderID,
				SignalID:     o.SignalID,
				Symbol:       o.Symbol,
				Side:         o.Side,
				Quantity:     o.Quantity,
				Status:       order.Status(o.Status),
				FilledQty:    o.FilledQty,
				RemainingQty: o.RemainingQty,
				AvgFillPrice: o.AvgFillPrice,
			},
		})
		e.mu.Lock()
		e.seenSignals[e.scopeID+":"+o.SignalID] = struct{}{}
		e.mu.Unlock()
	}
	e.orders.Rebuild(entries)

	positions, err := e.trading.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("execution: rebuild load positions: %w", err)
	}
	var restored []position.Position
	for _, p := range positions {
		restored = append(restored, position.Position{
			InstrumentKey: p.InstrumentKey,
			Side:          position.Side(p.Side),
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			RealizedPnL:   p.RealizedPnL,
			LastUpdate:    p.LastUpdate,
		})
	}
	e.positions.Restore(restored)
	return nil
}

// GroupStatus aggregates an OrderGroup's leg statuses by order id (spec
// §4.10): every leg FILLED -> group FILLED; any leg PARTIAL or a mix of
// FILLED/CREATED -> group PARTIAL; no leg yet touched -> group CREATED.
// An unknown leg id is skipped rather than treated as an error, since a
// group may be queried mid-dispatch before every leg has registered.
func (e *Engine) GroupStatus(legOrderIDs []string) order.Status {
	total, filled, touched := 0, 0, 0
	for _, id := range legOrderIDs {
		st, ok := e.orders.Get(id)
		if !ok {
			continue
		}
		total++
		switch st.Status {
		case order.Filled:
			filled++
			touched++
		case order.Partial:
			touched++
		}
	}
	switch {
	case total == 0:
		return order.Created
	case filled == total:
		return order.Filled
	case touched > 0:
		return order.Partial
	default:
		return order.Created
	}
}

// GroupPnL sums realized PnL across every leg's symbol, reading the
// current position snapshot for each (spec §4.10: "group PnL sums
// across legs").
func (e *Engine) GroupPnL(group OrderGroup) float64 {
	var total float64
	seen := make(map[string]bool)
	for _, leg := range group.Legs {
		if seen[leg.Symbol] {
			continue
		}
		seen[leg.Symbol] = true
		total += e.positions.GetPosition(leg.Symbol).RealizedPnL
	}
	return total
}
