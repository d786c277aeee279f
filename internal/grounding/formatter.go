package grounding

import (
	"fmt"
	"strings"
)

// FormatGroundingBlock converts a [TurnContext] into a system prompt section
// suitable for direct injection into an order LLM call.
//
// The formatter is pure: it performs no I/O, has no side effects, and is
// safe for concurrent use. Empty sections (no items, no order summary) are
// omitted entirely rather than rendering as empty headers.
func FormatGroundingBlock(tc *TurnContext) string {
	if tc == nil {
		return ""
	}

	var sb strings.Builder

	if len(tc.Items) > 0 {
		sb.WriteString("## Available Menu Items\n")
		sb.WriteString("Only offer and confirm items and modifiers listed here. " +
			"If the customer asks for anything else, say it is not available.\n")

		currentCategory := ""
		for _, it := range tc.Items {
			if it.Category != currentCategory {
				currentCategory = it.Category
				fmt.Fprintf(&sb, "\n### %s\n", currentCategory)
			}
			sb.WriteString("- ")
			sb.WriteString(it.Name)
			if !it.OrderableAsBase {
				sb.WriteString(" (component only, not orderable on its own)")
			}
			if names := it.ModifierNames(); len(names) > 0 {
				fmt.Fprintf(&sb, " — modifiers: %s", strings.Join(names, ", "))
			}
			sb.WriteString("\n")
		}
	}

	if tc.OrderSummary != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Current Order\n")
		sb.WriteString(tc.OrderSummary)
		sb.WriteString("\n")
	}

	return strings.TrimRight(sb.String(), "\n")
}
