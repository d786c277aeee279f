// Package ledger holds the mutable, per-session order state of the Vocarta
// order-capture engine: the [Ledger] is the sole mutator and sole source of
// truth for one order session, with every mutation journalled to an
// append-only durable log before it is acknowledged.
package ledger

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// LineItem is one ordered product with quantity and chosen modifiers.
// IDs are unique within a session.
type LineItem struct {
	// ID identifies the line item within its session.
	ID string `json:"id"`

	// ItemName is the canonical catalog name of the product.
	ItemName string `json:"item_name"`

	// Category is the catalog category the product belongs to.
	Category string `json:"category"`

	// Modifiers holds the canonical modifier names chosen for this item.
	// Treated as a set: order does not matter for combinability.
	Modifiers []string `json:"modifiers"`

	// Quantity is how many of the item were ordered. Always ≥ 1.
	Quantity int `json:"quantity"`

	// CreatedAt is when the line item was appended to the ledger.
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy of the line item.
func (li LineItem) Clone() LineItem {
	out := li
	out.Modifiers = make([]string, len(li.Modifiers))
	copy(out.Modifiers, li.Modifiers)
	return out
}

// CombinableWith reports whether li and other may be merged into a single
// line item: equal item names and equal modifier sets, both compared
// case-insensitively and independent of modifier order.
func (li LineItem) CombinableWith(other LineItem) bool {
	if !strings.EqualFold(li.ItemName, other.ItemName) {
		return false
	}
	return modifierSetsEqual(li.Modifiers, other.Modifiers)
}

// Combine merges two combinable line items into a new one carrying the
// summed quantity and a fresh ID distinct from both inputs. It is a pure
// operation: neither input is modified and no ledger is involved.
//
// Returns [ErrNotCombinable] when the items differ in name or modifier set.
func Combine(a, b LineItem) (LineItem, error) {
	if !a.CombinableWith(b) {
		return LineItem{}, fmt.Errorf("%w: %q %v vs %q %v",
			ErrNotCombinable, a.ItemName, a.Modifiers, b.ItemName, b.Modifiers)
	}

	id, err := newLineItemID()
	if err != nil {
		return LineItem{}, fmt.Errorf("ledger: generate id: %w", err)
	}

	merged := a.Clone()
	merged.ID = id
	merged.Quantity = a.Quantity + b.Quantity
	merged.CreatedAt = time.Now().UTC()
	return merged, nil
}

// modifierSetsEqual compares two modifier slices as case-insensitive sets.
func modifierSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, m := range a {
		set[strings.ToLower(strings.TrimSpace(m))]++
	}
	for _, m := range b {
		key := strings.ToLower(strings.TrimSpace(m))
		set[key]--
		if set[key] < 0 {
			return false
		}
	}
	return true
}

// newLineItemID produces a random 8-byte hex string using crypto/rand.
func newLineItemID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
