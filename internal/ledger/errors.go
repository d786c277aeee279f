package ledger

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by every mutating call after the ledger has reached
// a terminal status (completed or cancelled).
var ErrClosed = errors.New("ledger is closed")

// ErrInvalidQuantity is returned when a caller requests a quantity below 1.
// This is a caller-contract violation, not a customer-correctable outcome.
var ErrInvalidQuantity = errors.New("quantity must be ≥ 1")

// ErrNotFound is returned when a line item ID does not exist in the ledger.
var ErrNotFound = errors.New("line item not found")

// ErrNotCombinable is returned by [Combine] when two line items differ in
// item name or modifier set.
var ErrNotCombinable = errors.New("line items are not combinable")

// ErrDuplicateSession is returned by [Registry.Open] when a ledger for the
// session ID already exists.
var ErrDuplicateSession = errors.New("session already has a ledger")

// WriteError reports a synchronous journal write failure. The in-memory
// mutation that triggered the write is rolled back, so ledger state never
// outruns the durable log. Callers must treat this as fatal for the
// operation and escalate rather than retry blindly.
type WriteError struct {
	// Op is the ledger operation whose journal append failed.
	Op Operation

	// SessionID identifies the affected session.
	SessionID string

	// Err is the underlying journal error.
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger: journal write for %s (session %s) failed: %v", e.Op, e.SessionID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }
