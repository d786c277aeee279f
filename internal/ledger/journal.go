package ledger

import (
	"context"
	"time"
)

// Operation names a mutating ledger call in journal records.
type Operation string

const (
	OpAddLineItem    Operation = "add_line_item"
	OpRemoveLineItem Operation = "remove_line_item"
	OpUpdateQuantity Operation = "update_quantity"
	OpClear          Operation = "clear"
	OpCancel         Operation = "cancel"
	OpComplete       Operation = "complete"
)

// Record is one entry of the append-only incremental log: exactly one
// record is written per mutating ledger call, before the call returns.
// Records exist for audit, debugging, and crash recovery; they are never
// read back into a live ledger during normal operation.
type Record struct {
	// Timestamp is when the mutation was journalled (UTC).
	Timestamp time.Time `json:"timestamp"`

	// SessionID identifies the order session.
	SessionID string `json:"session_id"`

	// Operation names the mutating call.
	Operation Operation `json:"operation"`

	// Payload carries the operation-specific data (the line item added, the
	// ID removed, the new quantity, …).
	Payload any `json:"payload,omitempty"`
}

// SnapshotItem is one consolidated line of a final order snapshot.
type SnapshotItem struct {
	ItemName  string   `json:"item_name"`
	Category  string   `json:"category"`
	Modifiers []string `json:"modifiers"`
	Quantity  int      `json:"quantity"`
}

// Snapshot is the final, immutable record of a completed order session,
// produced exactly once by [Ledger.Complete].
type Snapshot struct {
	// SessionID identifies the completed session.
	SessionID string `json:"session_id"`

	// Items lists the surviving line items in order of creation.
	Items []SnapshotItem `json:"items"`

	// TotalCount is the sum of Quantity across all items.
	TotalCount int `json:"total_count"`

	// Summary is the human-readable order summary.
	Summary string `json:"summary"`

	// CompletedAt is when the session was completed (UTC).
	CompletedAt time.Time `json:"completed_at"`
}

// Journal is the durable persistence seam owned by a [Ledger]. Appends are
// synchronous: a mutating ledger call does not return until its record is
// durably written (or the write has failed loudly).
//
// Implementations must be safe for concurrent use; the ledger serializes
// its own mutations but multiple ledgers may share one backing store.
type Journal interface {
	// Append durably writes one incremental log record.
	Append(ctx context.Context, rec Record) error

	// WriteSnapshot durably writes the final consolidated snapshot of a
	// completed session. Called exactly once per session.
	WriteSnapshot(ctx context.Context, snap Snapshot) error

	// Close releases any resources held by the journal.
	Close() error
}
