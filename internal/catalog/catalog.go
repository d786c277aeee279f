// Package catalog provides the immutable product catalog queried by the
// Vocarta order-capture engine.
//
// A [Catalog] is constructed exactly once at process startup from a YAML
// menu file ([Load] or [LoadFromReader]) and is never mutated afterwards.
// All accessors return deep, independent copies so callers can never corrupt
// the shared catalog, which makes a Catalog safe for unbounded concurrent
// use across all sessions.
package catalog

import (
	"strings"
)

// Modifier is an available customization for a catalog item (e.g. "No
// Pickles"). Identity is ID; matching against customer requests is done by
// Name, case-insensitively.
type Modifier struct {
	// ID is a stable identifier derived from the modifier name at load time.
	ID string `json:"id"`

	// Name is the display name offered to customers.
	Name string `json:"name"`
}

// Item is a single orderable product in the catalog.
// Items are immutable once the catalog is loaded.
type Item struct {
	// Category is the menu category the item belongs to.
	Category string `json:"category"`

	// Name is the item's canonical display name.
	Name string `json:"name"`

	// OrderableAsBase reports whether the item can be ordered on its own
	// (false for components that only exist as parts of combos).
	OrderableAsBase bool `json:"orderable_as_base"`

	// Modifiers lists the customizations available for this item.
	Modifiers []Modifier `json:"modifiers"`
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	out.Modifiers = make([]Modifier, len(it.Modifiers))
	copy(out.Modifiers, it.Modifiers)
	return out
}

// HasModifier reports whether the item offers a modifier whose name equals
// name case-insensitively.
func (it Item) HasModifier(name string) bool {
	for _, m := range it.Modifiers {
		if strings.EqualFold(m.Name, name) {
			return true
		}
	}
	return false
}

// ModifierNames returns the names of all modifiers offered by the item.
func (it Item) ModifierNames() []string {
	names := make([]string, len(it.Modifiers))
	for i, m := range it.Modifiers {
		names[i] = m.Name
	}
	return names
}

// Catalog is the read-only product catalog: a mapping from category name to
// an ordered sequence of items. The item order within a category follows the
// source document; category listing order is sorted for determinism.
//
// The zero value is an empty catalog. Construct real catalogs with [Load].
type Catalog struct {
	categories []string          // source order
	items      map[string][]Item // category → items in source order
}

// Categories returns all category names in the order they appeared in the
// source document. The returned slice is a copy.
func (c *Catalog) Categories() []string {
	out := make([]string, len(c.categories))
	copy(out, c.categories)
	return out
}

// Category returns deep copies of all items in the named category
// (case-insensitive). An unknown category yields an empty slice, never an
// error.
func (c *Catalog) Category(name string) []Item {
	for cat, items := range c.items {
		if strings.EqualFold(cat, name) {
			return cloneItems(items)
		}
	}
	return []Item{}
}

// Item returns a deep copy of the item with the given exact name
// (case-insensitive) in the given category. The second return value reports
// whether the item was found.
func (c *Catalog) Item(category, name string) (Item, bool) {
	for cat, items := range c.items {
		if !strings.EqualFold(cat, category) {
			continue
		}
		for _, it := range items {
			if strings.EqualFold(it.Name, name) {
				return it.Clone(), true
			}
		}
	}
	return Item{}, false
}

// Search returns deep copies of all items whose name or any modifier name
// contains keyword, case-insensitively. When category is non-empty the
// search is scoped to that category. No match yields an empty slice, never
// an error.
//
// Results preserve category order first, then item order within each
// category, so repeated searches are deterministic.
func (c *Catalog) Search(keyword, category string) []Item {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return []Item{}
	}

	var out []Item
	for _, cat := range c.categories {
		if category != "" && !strings.EqualFold(cat, category) {
			continue
		}
		for _, it := range c.items[cat] {
			if itemMatches(it, keyword) {
				out = append(out, it.Clone())
			}
		}
	}
	if out == nil {
		out = []Item{}
	}
	return out
}

// Len returns the total number of items across all categories.
func (c *Catalog) Len() int {
	n := 0
	for _, items := range c.items {
		n += len(items)
	}
	return n
}

// itemMatches reports whether the lowercase keyword occurs in the item name
// or in any of its modifier names.
func itemMatches(it Item, keyword string) bool {
	if strings.Contains(strings.ToLower(it.Name), keyword) {
		return true
	}
	for _, m := range it.Modifiers {
		if strings.Contains(strings.ToLower(m.Name), keyword) {
			return true
		}
	}
	return false
}

func cloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
