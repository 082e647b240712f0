package execution

// errors.go declares the typed, non-overlapping error kinds the
// execution engine surfaces (spec §7). None of these are retried by the
// engine itself — a caller that wants retry semantics (e.g. a transient
// BrokerError) does so explicitly.

import "fmt"

// ExecutionRuleViolation signals an idempotency breach, an unauthorized
// re-entry into process_signal, or a tripped kill switch.
type ExecutionRuleViolation struct {
	Rule    string
	Message string
}

func (e *ExecutionRuleViolation) Error() string {
	return fmt.Sprintf("execution rule violation [%s]: %s", e.Rule, e.Message)
}

// OrderFactoryError signals an invalid signal that could not be turned
// into a NormalizedOrder (e.g. EXIT on a FLAT position). The signal is
// discarded by the caller, not retried.
type OrderFactoryError struct {
	Message string
}

func (e *OrderFactoryError) Error() string {
	return fmt.Sprintf("order factory error: %s", e.Message)
}

// BrokerErrorKind distinguishes a transient broker failure (worth a
// bounded retry) from a terminal one (the order is REJECTED outright).
type BrokerErrorKind int

const (
	BrokerErrorTransient BrokerErrorKind = iota
	BrokerErrorTerminal
)

// BrokerError wraps a transport/timeout/rejection failure from the
// broker adapter, classified so the caller knows whether to retry.
type BrokerError struct {
	Kind BrokerErrorKind
	Err  error
}

func (e *BrokerError) Error() string {
	kind := "transient"
	if e.Kind == BrokerErrorTerminal {
		kind = "terminal"
	}
	return fmt.Sprintf("broker error (%s): %v", kind, e.Err)
}

func (e *BrokerError) Unwrap() error { return e.Err }
