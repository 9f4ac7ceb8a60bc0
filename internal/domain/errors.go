package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrUninitializedBook     = errors.New("order book not initialized: first update must be a snapshot")
	ErrInsufficientLiquidity = errors.New("insufficient book liquidity")
	ErrNoLiquidity           = errors.New("no liquidity on one or both sides")
	ErrStaleUpdate           = errors.New("stale order book update")
	ErrWSDisconnect          = errors.New("websocket disconnected")
)

// ValidationError reports an order parameter rejected before submission.
// It never reaches the exchange.
type ValidationError struct {
	Instrument string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid order for %s: %s: %s", e.Instrument, e.Field, e.Reason)
}

// ExecutionFailure is the terminal error for a leg whose retry budget is
// exhausted. The failed OrderResult carries the zero-fill details.
type ExecutionFailure struct {
	Instrument string
	Attempts   int
	Last       error
}

func (e *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failed for %s after %d attempts: %v", e.Instrument, e.Attempts, e.Last)
}

func (e *ExecutionFailure) Unwrap() error { return e.Last }
