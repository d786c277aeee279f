package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vocarta/vocarta/internal/observe"
)

// Status is the lifecycle state of an order session.
type Status string

const (
	// StatusOpen accepts mutations.
	StatusOpen Status = "open"

	// StatusCompleted is terminal: the order was confirmed and snapshotted.
	StatusCompleted Status = "completed"

	// StatusCancelled is terminal: the order was abandoned.
	StatusCancelled Status = "cancelled"
)

// Option is a functional option for [New].
type Option func(*Ledger)

// WithAutoCombine controls whether AddLineItem merges a new line item into
// an existing combinable one (same item name, same modifier set) instead of
// appending a separate line. Disabled by default: items are kept separate
// and merged only through the explicit [Combine] operation.
func WithAutoCombine(enabled bool) Option {
	return func(l *Ledger) { l.autoCombine = enabled }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics enables instrumentation of journal write latency, committed
// mutations, and write failures. Nil (the default) disables it.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// Ledger is the sole mutator and sole source of truth for one order
// session. Exactly one Ledger exists per session; it is never shared across
// sessions.
//
// All mutating operations serialize behind an internal mutex: when the
// conversational runtime dispatches several tool calls of one turn
// concurrently, a second mutation blocks until the first completes, so two
// mutations can never interleave and no update is lost.
//
// Durability follows log-then-acknowledge ordering: the journal record is
// written synchronously before the in-memory mutation becomes visible. A
// journal failure surfaces as a [*WriteError] and leaves the in-memory
// state untouched, so memory never diverges from the durable log.
type Ledger struct {
	mu          sync.Mutex
	sessionID   string
	status      Status
	items       []LineItem
	openedAt    time.Time
	completedAt time.Time

	journal     Journal
	autoCombine bool
	now         func() time.Time
	metrics     *observe.Metrics
}

// New creates an open Ledger for sessionID backed by journal.
func New(sessionID string, journal Journal, opts ...Option) (*Ledger, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("ledger: session id must not be empty")
	}
	if journal == nil {
		return nil, fmt.Errorf("ledger: journal must not be nil")
	}

	l := &Ledger{
		sessionID: sessionID,
		status:    StatusOpen,
		journal:   journal,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	l.openedAt = l.now()
	return l, nil
}

// SessionID returns the session this ledger belongs to.
func (l *Ledger) SessionID() string { return l.sessionID }

// Status returns the current lifecycle state.
func (l *Ledger) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// OpenedAt returns when the session was opened.
func (l *Ledger) OpenedAt() time.Time { return l.openedAt }

// AddLineItem appends a new line item and returns it. No validation is
// performed here: by contract the caller has already validated the item
// against the catalog (tell, don't ask).
//
// With auto-combine enabled, an existing combinable line item absorbs the
// new quantity instead and the merged item (with a fresh ID) is returned.
//
// Returns [ErrClosed] after the session reached a terminal state,
// [ErrInvalidQuantity] for quantity < 1, and [*WriteError] when the
// journal append fails (the ledger is then unchanged).
func (l *Ledger) AddLineItem(ctx context.Context, itemName, category string, modifiers []string, quantity int) (LineItem, error) {
	if quantity < 1 {
		return LineItem{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return LineItem{}, fmt.Errorf("ledger: add line item: %w", ErrClosed)
	}

	id, err := newLineItemID()
	if err != nil {
		return LineItem{}, fmt.Errorf("ledger: generate id: %w", err)
	}

	item := LineItem{
		ID:        id,
		ItemName:  itemName,
		Category:  category,
		Modifiers: append([]string(nil), modifiers...),
		Quantity:  quantity,
		CreatedAt: l.now(),
	}

	// Work out the post-mutation state before journalling so the record
	// reflects exactly what will be committed.
	mergeIdx := -1
	committed := item
	if l.autoCombine {
		for i, existing := range l.items {
			if existing.CombinableWith(item) {
				merged, err := Combine(existing, item)
				if err != nil {
					return LineItem{}, err
				}
				mergeIdx = i
				committed = merged
				break
			}
		}
	}

	if err := l.append(ctx, OpAddLineItem, committed); err != nil {
		return LineItem{}, err
	}

	if mergeIdx >= 0 {
		l.items[mergeIdx] = committed
	} else {
		l.items = append(l.items, committed)
	}
	return committed.Clone(), nil
}

// RemoveLineItem removes the line item with the given ID and returns it.
// Returns [ErrNotFound] when no line item carries the ID.
func (l *Ledger) RemoveLineItem(ctx context.Context, id string) (LineItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return LineItem{}, fmt.Errorf("ledger: remove line item: %w", ErrClosed)
	}

	idx := l.indexOf(id)
	if idx < 0 {
		return LineItem{}, fmt.Errorf("ledger: remove line item %q: %w", id, ErrNotFound)
	}

	if err := l.append(ctx, OpRemoveLineItem, map[string]string{"id": id}); err != nil {
		return LineItem{}, err
	}

	removed := l.items[idx]
	l.items = append(l.items[:idx], l.items[idx+1:]...)
	return removed.Clone(), nil
}

// UpdateQuantity changes the quantity of the line item with the given ID
// and returns the updated item.
//
// Returns [ErrNotFound] for an unknown ID and [ErrInvalidQuantity] for
// quantity < 1 — reducing an item to zero is expressed as [RemoveLineItem],
// never as a zero quantity.
func (l *Ledger) UpdateQuantity(ctx context.Context, id string, quantity int) (LineItem, error) {
	if quantity < 1 {
		return LineItem{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return LineItem{}, fmt.Errorf("ledger: update quantity: %w", ErrClosed)
	}

	idx := l.indexOf(id)
	if idx < 0 {
		return LineItem{}, fmt.Errorf("ledger: update quantity of %q: %w", id, ErrNotFound)
	}

	payload := map[string]any{"id": id, "quantity": quantity}
	if err := l.append(ctx, OpUpdateQuantity, payload); err != nil {
		return LineItem{}, err
	}

	l.items[idx].Quantity = quantity
	return l.items[idx].Clone(), nil
}

// Clear removes all line items. Used for cancellation/restart flows while
// the session stays open.
func (l *Ledger) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return fmt.Errorf("ledger: clear: %w", ErrClosed)
	}

	if err := l.append(ctx, OpClear, nil); err != nil {
		return err
	}

	l.items = nil
	return nil
}

// Cancel transitions the session to the terminal cancelled state. Line
// items are retained for audit; every subsequent mutating call fails with
// [ErrClosed].
func (l *Ledger) Cancel(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return fmt.Errorf("ledger: cancel: %w", ErrClosed)
	}

	if err := l.append(ctx, OpCancel, nil); err != nil {
		return err
	}

	l.status = StatusCancelled
	l.completedAt = l.now()
	return nil
}

// Complete transitions the session to the terminal completed state, writes
// the consolidated final snapshot exactly once, and freezes the session:
// every subsequent mutating call fails with [ErrClosed] while Items and
// Summary keep returning the frozen final state.
func (l *Ledger) Complete(ctx context.Context) (Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusOpen {
		return Snapshot{}, fmt.Errorf("ledger: complete: %w", ErrClosed)
	}

	snap := l.buildSnapshot()

	if err := l.append(ctx, OpComplete, snap); err != nil {
		return Snapshot{}, err
	}
	start := time.Now()
	err := l.journal.WriteSnapshot(ctx, snap)
	if l.metrics != nil {
		l.metrics.JournalWriteDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordJournalError(ctx, "snapshot")
		}
		return Snapshot{}, &WriteError{Op: OpComplete, SessionID: l.sessionID, Err: err}
	}

	l.status = StatusCompleted
	l.completedAt = snap.CompletedAt
	return snap, nil
}

// Items returns deep copies of all line items in creation order. Safe to
// call at any time, including after completion.
func (l *Ledger) Items() []LineItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LineItem, len(l.items))
	for i, li := range l.items {
		out[i] = li.Clone()
	}
	return out
}

// Summary renders the current order as a short human-readable string.
// Safe to call at any time, including after completion.
func (l *Ledger) Summary() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return summarize(l.items)
}

// buildSnapshot assembles the final snapshot from current state.
// Must be called with l.mu held.
func (l *Ledger) buildSnapshot() Snapshot {
	items := make([]SnapshotItem, len(l.items))
	total := 0
	for i, li := range l.items {
		items[i] = SnapshotItem{
			ItemName:  li.ItemName,
			Category:  li.Category,
			Modifiers: append([]string(nil), li.Modifiers...),
			Quantity:  li.Quantity,
		}
		total += li.Quantity
	}
	return Snapshot{
		SessionID:   l.sessionID,
		Items:       items,
		TotalCount:  total,
		Summary:     summarize(l.items),
		CompletedAt: l.now(),
	}
}

// append journals one mutation record. Must be called with l.mu held.
// A failure is wrapped in [*WriteError]; the caller must not commit the
// in-memory mutation in that case.
func (l *Ledger) append(ctx context.Context, op Operation, payload any) error {
	rec := Record{
		Timestamp: l.now(),
		SessionID: l.sessionID,
		Operation: op,
		Payload:   payload,
	}
	start := time.Now()
	err := l.journal.Append(ctx, rec)
	if l.metrics != nil {
		l.metrics.JournalWriteDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if l.metrics != nil {
			l.metrics.RecordJournalError(ctx, string(op))
		}
		return &WriteError{Op: op, SessionID: l.sessionID, Err: err}
	}
	if l.metrics != nil {
		l.metrics.RecordLedgerMutation(ctx, string(op))
	}
	return nil
}

// indexOf returns the index of the line item with the given ID, or -1.
// Must be called with l.mu held.
func (l *Ledger) indexOf(id string) int {
	for i, li := range l.items {
		if li.ID == id {
			return i
		}
	}
	return -1
}

// summarize renders line items as "2x Big Mac (No Pickles); 1x Coke — 3 items".
func summarize(items []LineItem) string {
	if len(items) == 0 {
		return "empty order"
	}

	parts := make([]string, len(items))
	total := 0
	for i, li := range items {
		p := fmt.Sprintf("%dx %s", li.Quantity, li.ItemName)
		if len(li.Modifiers) > 0 {
			p += " (" + strings.Join(li.Modifiers, ", ") + ")"
		}
		parts[i] = p
		total += li.Quantity
	}
	return fmt.Sprintf("%s — %d items", strings.Join(parts, "; "), total)
}
