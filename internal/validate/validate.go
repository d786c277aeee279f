package validate

import (
	"fmt"
	"strings"

	"github.com/vocarta/vocarta/internal/catalog"
)

// Reason is the typed rejection code carried by an invalid [Result].
type Reason string

const (
	// ReasonItemNotFound means the requested item matched nothing in the
	// catalog category, even after fuzzy matching.
	ReasonItemNotFound Reason = "item_not_found"

	// ReasonModifierNotAvailable means one or more requested modifiers are
	// not offered by the matched item.
	ReasonModifierNotAvailable Reason = "modifier_not_available"
)

// Result is the tagged outcome of a validation check. It is never a bare
// boolean: an invalid result always carries the rejection reason and ranked
// suggestions a caller needs to ask the customer for a correction, and a
// valid result always carries the canonical catalog data that was matched.
type Result struct {
	// Valid reports whether the check passed.
	Valid bool

	// Item is the matched catalog item. Set only when Valid.
	Item catalog.Item

	// Modifiers holds the canonical (catalog-spelled) names of all requested
	// modifiers. Set only when Valid.
	Modifiers []string

	// Reason is the typed rejection code. Set only when !Valid.
	Reason Reason

	// Message is a human-readable description of the rejection, suitable for
	// relaying to the LLM/customer. Set only when !Valid.
	Message string

	// Suggestions lists up to three ranked catalog alternatives for the
	// failed input. Set only when !Valid; may be empty.
	Suggestions []string
}

func accepted(item catalog.Item, modifiers []string) Result {
	if modifiers == nil {
		modifiers = []string{}
	}
	return Result{Valid: true, Item: item, Modifiers: modifiers}
}

func rejected(reason Reason, message string, sug []string) Result {
	if sug == nil {
		sug = []string{}
	}
	return Result{Reason: reason, Message: message, Suggestions: sug}
}

// ItemExists checks that an item called name exists in the given catalog
// category. An exact case-insensitive match is tried first; on a miss the
// name is fuzzy-matched against all items in the category.
func ItemExists(name, category string, cat *catalog.Catalog, threshold float64) Result {
	if it, ok := cat.Item(category, name); ok {
		return accepted(it, nil)
	}

	items := cat.Category(category)
	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}

	if m, ok := FuzzyMatch(name, names, threshold); ok {
		it, _ := cat.Item(category, m.Candidate)
		return accepted(it, nil)
	}

	return rejected(
		ReasonItemNotFound,
		fmt.Sprintf("%q is not on the menu under %q", name, category),
		suggestions(name, names),
	)
}

// Modifiers checks that every requested modifier is offered by item, by
// exact case-insensitive or fuzzy name match. An empty requested list is
// always valid. On failure the result lists exactly the requested strings
// that matched nothing, each with its best-guess suggestions.
func Modifiers(item catalog.Item, requested []string, threshold float64) Result {
	if len(requested) == 0 {
		return accepted(item, nil)
	}

	available := item.ModifierNames()

	var (
		canonical []string
		unmatched []string
		sug       []string
	)
	for _, req := range requested {
		if name, ok := matchModifier(req, available, threshold); ok {
			canonical = append(canonical, name)
			continue
		}
		unmatched = append(unmatched, req)
		sug = appendUnique(sug, suggestions(req, available)...)
	}

	if len(unmatched) > 0 {
		return rejected(
			ReasonModifierNotAvailable,
			fmt.Sprintf("%s not available for %q", quoteJoin(unmatched), item.Name),
			sug,
		)
	}
	return accepted(item, canonical)
}

// OrderItem composes [ItemExists] and [Modifiers]: the item check runs
// first and short-circuits on failure, so modifiers are never validated
// against a non-existent item.
func OrderItem(name, category string, modifiers []string, cat *catalog.Catalog, threshold float64) Result {
	res := ItemExists(name, category, cat, threshold)
	if !res.Valid {
		return res
	}
	return Modifiers(res.Item, modifiers, threshold)
}

// matchModifier resolves one requested modifier string to its canonical
// catalog spelling, trying exact case-insensitive equality before fuzzy
// matching.
func matchModifier(requested string, available []string, threshold float64) (string, bool) {
	for _, name := range available {
		if strings.EqualFold(strings.TrimSpace(requested), name) {
			return name, true
		}
	}
	if m, ok := FuzzyMatch(requested, available, threshold); ok {
		return m.Candidate, true
	}
	return "", false
}

// quoteJoin renders a list of strings as `"a", "b"` for rejection messages.
func quoteJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}

// appendUnique appends each value to dst unless already present.
func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
