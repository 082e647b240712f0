// Package risk implements the pre-trade risk gate (C9): the final,
// non-negotiable checkpoint every order passes through before reaching
// a broker. Checks run in a fixed order and short-circuit on the first
// rejection — a rejected order never reaches a later check, and a
// strategy's confidence never overrides these limits.
package risk

import (
	"fmt"
	"os"
	"time"

	"github.com/devraj-patel/tradecore/internal/config"
)

// OrderIntent is the risk gate's view of a proposed order: the subset
// of NormalizedOrder and instrument data needed to evaluate every
// check, assembled by the execution engine before calling Validate.
type OrderIntent struct {
	Symbol     string
	Side       string // BUY or SELL
	Quantity   int
	Price      float64
	Sector     string
	IsOption   bool
	OptionLegs []PortfolioLeg // post-trade aggregate Greek inputs, if IsOption
}

// PositionInfo is the risk gate's view of one currently open position.
type PositionInfo struct {
	Symbol   string
	Sector   string
	Price    float64
	Quantity int
}

// EquitySnapshot carries the account-level figures the drawdown check
// needs: equity at the start of the trading day/run, and mark-to-market
// equity right now.
type EquitySnapshot struct {
	InitialEquity float64
	CurrentEquity float64
}

// RejectionReason names the single check that rejected an order and why.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// ValidationResult is the risk gate's verdict. ChecksRun records every
// check that executed before the verdict, in order; on rejection the
// last entry is the failing check.
type ValidationResult struct {
	Approved  bool
	ChecksRun []string
	Rejection *RejectionReason
}

// Manager is the risk gate. It holds the live risk configuration and
// the capital base percentage limits are computed against.
type Manager struct {
	config       config.RiskConfig
	totalCapital float64
	dailyTrades  int
	dailyTradeOn time.Time
	killSwitch   bool
}

// NewManager creates a risk gate with the given configuration and
// capital base.
func NewManager(riskCfg config.RiskConfig, totalCapital float64) *Manager {
	return &Manager{config: riskCfg, totalCapital: totalCapital}
}

// UpdateCapital updates the capital base used for percentage-based limits.
func (m *Manager) UpdateCapital(newCapital float64) {
	if newCapital > 0 {
		m.totalCapital = newCapital
	}
}

// UpdateRiskConfig replaces the risk configuration atomically, for the
// config hot-reload watcher.
func (m *Manager) UpdateRiskConfig(newCfg config.RiskConfig) {
	m.config = newCfg
}

// RecordTrade increments today's trade counter. The counter resets the
// first time it is touched on a new calendar day.
func (m *Manager) RecordTrade(at time.Time) {
	day := at.Truncate(24 * time.Hour)
	if !day.Equal(m.dailyTradeOn) {
		m.dailyTradeOn = day
		m.dailyTrades = 0
	}
	m.dailyTrades++
}

func (m *Manager) dailyTradeCount(now time.Time) int {
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(m.dailyTradeOn) {
		return 0
	}
	return m.dailyTrades
}

// TripKillSwitch activates the in-process kill switch. Once tripped it
// stays tripped until ResetKillSwitch is called or the process restarts.
func (m *Manager) TripKillSwitch() { m.killSwitch = true }

// ResetKillSwitch clears the in-process kill switch latch (operator
// intervention after investigating a drawdown trip).
func (m *Manager) ResetKillSwitch() { m.killSwitch = false }

// Validate runs the ordered, short-circuiting risk checks against
// intent:
//  1. kill switch (manual override file, or auto-activated by a prior drawdown breach)
//  2. daily trade count
//  3. per-order quantity cap
//  4. allow/deny list
//  5. sector concentration (supplemental, slotted in after allow/deny)
//  6. drawdown — breach trips the kill switch for subsequent orders
//  7. Greek envelope (derivatives only)
//
// Every check that runs is appended to ChecksRun; Validate stops at the
// first rejection.
func (m *Manager) Validate(intent OrderIntent, openPositions []PositionInfo, equity EquitySnapshot, now time.Time) ValidationResult {
	result := ValidationResult{Approved: true}

	type namedCheck struct {
		name string
		fn   func() *RejectionReason
	}
	checks := []namedCheck{
		{"KILL_SWITCH", m.checkKillSwitch},
		{"MAX_DAILY_TRADES", func() *RejectionReason { return m.checkDailyTradeCount(now) }},
		{"MAX_ORDER_QTY", func() *RejectionReason { return m.checkOrderQuantity(intent) }},
		{"ALLOW_DENY_LIST", func() *RejectionReason { return m.checkAllowDenyList(intent) }},
		{"MAX_SECTOR_CONCENTRATION", func() *RejectionReason { return m.checkSectorConcentration(intent, openPositions) }},
		{"MAX_DRAWDOWN", func() *RejectionReason { return m.checkDrawdown(equity) }},
		{"GREEK_ENVELOPE", func() *RejectionReason { return m.checkGreekEnvelope(intent) }},
	}

	for _, c := range checks {
		result.ChecksRun = append(result.ChecksRun, c.name)
		if reason := c.fn(); reason != nil {
			result.Approved = false
			result.Rejection = reason
			return result
		}
	}

	return result
}

// checkKillSwitch rejects every order while the manual override file is
// present or the in-process drawdown latch is tripped.
func (m *Manager) checkKillSwitch() *RejectionReason {
	if m.killSwitch {
		return &RejectionReason{Rule: "KILL_SWITCH", Message: "kill switch active (drawdown breach)"}
	}
	if m.config.KillSwitchFilePath == "" {
		return nil
	}
	if _, err := os.Stat(m.config.KillSwitchFilePath); err == nil {
		return &RejectionReason{Rule: "KILL_SWITCH", Message: fmt.Sprintf("kill switch file present: %s", m.config.KillSwitchFilePath)}
	}
	return nil
}

// checkDailyTradeCount rejects once today's trade count would exceed
// MaxDailyTrades.
func (m *Manager) checkDailyTradeCount(now time.Time) *RejectionReason {
	if m.config.MaxDailyTrades <= 0 {
		return nil
	}
	count := m.dailyTradeCount(now)
	if count >= m.config.MaxDailyTrades {
		return &RejectionReason{Rule: "MAX_DAILY_TRADES", Message: fmt.Sprintf("at daily trade limit: %d/%d", count, m.config.MaxDailyTrades)}
	}
	return nil
}

// checkOrderQuantity rejects any single order whose quantity exceeds
// MaxOrderQty.
func (m *Manager) checkOrderQuantity(intent OrderIntent) *RejectionReason {
	if m.config.MaxOrderQty <= 0 {
		return nil
	}
	if intent.Quantity > m.config.MaxOrderQty {
		return &RejectionReason{Rule: "MAX_ORDER_QTY", Message: fmt.Sprintf("order quantity %d exceeds max %d", intent.Quantity, m.config.MaxOrderQty)}
	}
	return nil
}

// checkAllowDenyList rejects instruments on DenyList, or (when AllowList
// is non-empty) any instrument not on it.
func (m *Manager) checkAllowDenyList(intent OrderIntent) *RejectionReason {
	for _, sym := range m.config.DenyList {
		if sym == intent.Symbol {
			return &RejectionReason{Rule: "ALLOW_DENY_LIST", Message: fmt.Sprintf("%s is on the deny list", intent.Symbol)}
		}
	}
	if len(m.config.AllowList) == 0 {
		return nil
	}
	for _, sym := range m.config.AllowList {
		if sym == intent.Symbol {
			return nil
		}
	}
	return &RejectionReason{Rule: "ALLOW_DENY_LIST", Message: fmt.Sprintf("%s is not on the allow list", intent.Symbol)}
}

// checkSectorConcentration caps concurrent open positions sharing one
// sector tag. Disabled when MaxPerSector is 0 or the intent carries no
// sector tag.
func (m *Manager) checkSectorConcentration(intent OrderIntent, positions []PositionInfo) *RejectionReason {
	if m.config.MaxPerSector <= 0 || intent.Sector == "" {
		return nil
	}
	count := 0
	for _, p := range positions {
		if p.Sector == intent.Sector {
			count++
		}
	}
	if count >= m.config.MaxPerSector {
		return &RejectionReason{Rule: "MAX_SECTOR_CONCENTRATION", Message: fmt.Sprintf("already have %d positions in sector %s (max %d)", count, intent.Sector, m.config.MaxPerSector)}
	}
	return nil
}

// checkDrawdown rejects and trips the kill switch once current equity
// has fallen to or below initial_equity * (1 - MaxDrawdownPct/100).
func (m *Manager) checkDrawdown(equity EquitySnapshot) *RejectionReason {
	if m.config.MaxDrawdownPct <= 0 || equity.InitialEquity <= 0 {
		return nil
	}
	floor := equity.InitialEquity * (1 - m.config.MaxDrawdownPct/100.0)
	if equity.CurrentEquity <= floor {
		m.TripKillSwitch()
		return &RejectionReason{Rule: "MAX_DRAWDOWN", Message: fmt.Sprintf("equity %.2f at or below drawdown floor %.2f, kill switch activated", equity.CurrentEquity, floor)}
	}
	return nil
}

// checkGreekEnvelope rejects derivative orders whose post-trade
// portfolio Greeks would exceed the configured envelope.
func (m *Manager) checkGreekEnvelope(intent OrderIntent) *RejectionReason {
	if !intent.IsOption || len(intent.OptionLegs) == 0 {
		return nil
	}
	g := AggregatePortfolio(intent.OptionLegs)
	lim := m.config.Greeks
	if lim.MaxDelta > 0 && absf(g.Delta) > lim.MaxDelta {
		return &RejectionReason{Rule: "GREEK_ENVELOPE", Message: fmt.Sprintf("net delta %.4f exceeds max %.4f", g.Delta, lim.MaxDelta)}
	}
	if lim.MaxVega > 0 && absf(g.Vega) > lim.MaxVega {
		return &RejectionReason{Rule: "GREEK_ENVELOPE", Message: fmt.Sprintf("net vega %.4f exceeds max %.4f", g.Vega, lim.MaxVega)}
	}
	if lim.MaxGamma > 0 && absf(g.Gamma) > lim.MaxGamma {
		return &RejectionReason{Rule: "GREEK_ENVELOPE", Message: fmt.Sprintf("net gamma %.4f exceeds max %.4f", g.Gamma, lim.MaxGamma)}
	}
	return nil
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
