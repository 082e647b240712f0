// Package strategy holds the concrete trading strategies: momentum,
// trend-following, mean reversion, breakout, pullback, MACD crossover,
// Bollinger squeeze, and VWAP reversion. Every strategy implements
// runner.Strategy (internal/runner/strategy.go) — the bar-driven
// process_bar(bar, ctx) -> signal contract.
//
// Design rules:
//   - A strategy is a pure decision engine over its own bar history plus the
//     context the runner hands it.
//   - AI advises (via ctx.AnalyticsSnapshot / ctx.MarketRegime), rules decide.
//   - AI never places orders — strategies produce SignalEvents, which are
//     then validated by the risk gate before becoming orders.
package strategy

// Regime string values a strategy compares against
// runner.StrategyContext.MarketRegime.Regime. The runner's analytics
// provider is the one party that assigns these; strategies only read them.
const (
	RegimeBull     = "BULL"
	RegimeSideways = "SIDEWAYS"
	RegimeBear     = "BEAR"
)
