// Package ordertools exposes the order ledger to the LLM as a set of
// function-calling tools.
//
// Five tools are exported via [Toolset.Tools]:
//   - "add_item"       — validate an item against the catalog and append it.
//   - "remove_item"    — remove a line item by ID.
//   - "update_item"    — change a line item's quantity.
//   - "complete_order" — finalize the order and write the snapshot.
//   - "show_summary"   — read-only order summary.
//
// This is the only path through which the model mutates order state. Every
// handler returns JSON of the Confirmation | Rejection union — never a bare
// string — so the model always learns whether its call took effect and why
// not. Validation failures are data (a Rejection), not errors; only journal
// write failures propagate as Go errors.
//
// All handlers are safe for concurrent use; the ledger serializes the
// mutations behind its own mutex.
package ordertools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/vocarta/vocarta/internal/catalog"
	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/observe"
	"github.com/vocarta/vocarta/internal/validate"
	"github.com/vocarta/vocarta/pkg/provider/llm"
)

// Rejection reasons beyond the validation ones.
const (
	reasonInvalidQuantity  = "invalid_quantity"
	reasonLineItemNotFound = "line_item_not_found"
	reasonOrderClosed      = "order_closed"
)

// Tool carries an LLM-facing schema together with the handler invoked when
// the model calls it.
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, and JSON Schema parameter specification.
	Definition llm.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns a
	// JSON-encoded result string on success, or a descriptive error.
	// Implementations must be safe for concurrent use and must respect
	// context cancellation.
	Handler func(ctx context.Context, args string) (string, error)
}

// Confirmation is the success branch of the tool result union.
type Confirmation struct {
	Success    bool             `json:"success"` // always true
	Action     string           `json:"action"`
	LineItem   *ledger.LineItem `json:"line_item,omitempty"`
	Summary    string           `json:"summary,omitempty"`
	TotalCount int              `json:"total_count,omitempty"`
}

// Rejection is the failure branch of the tool result union: the request was
// understood but cannot be honored. Suggestions, when present, are close
// catalog matches the model can offer to the customer.
type Rejection struct {
	Success     bool     `json:"success"` // always false
	Reason      string   `json:"reason"`
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Toolset binds the order tools to one session's ledger and the shared
// catalog. Construct one per session via [New].
type Toolset struct {
	led       *ledger.Ledger
	cat       *catalog.Catalog
	threshold float64
	dedup     *Deduper
	log       *slog.Logger
	metrics   *observe.Metrics
}

// Option is a functional option for [New].
type Option func(*Toolset)

// WithFuzzyThreshold overrides the validation match threshold.
// Defaults to [validate.DefaultThreshold].
func WithFuzzyThreshold(threshold float64) Option {
	return func(ts *Toolset) { ts.threshold = threshold }
}

// WithDedupWindow overrides how long identical tool calls replay their first
// result instead of re-executing. Defaults to [DefaultDedupWindow];
// zero disables deduplication.
func WithDedupWindow(window time.Duration) Option {
	return func(ts *Toolset) { ts.dedup = NewDeduper(window) }
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(ts *Toolset) { ts.log = log }
}

// WithMetrics enables instrumentation of rejected tool calls. Nil (the
// default) disables it.
func WithMetrics(m *observe.Metrics) Option {
	return func(ts *Toolset) { ts.metrics = m }
}

// New creates a Toolset over led and cat.
func New(led *ledger.Ledger, cat *catalog.Catalog, opts ...Option) *Toolset {
	ts := &Toolset{
		led:       led,
		cat:       cat,
		threshold: validate.DefaultThreshold,
		dedup:     NewDeduper(DefaultDedupWindow),
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(ts)
	}
	return ts
}

// Tools returns the five order tools ready to offer to the model.
func (ts *Toolset) Tools() []Tool {
	return []Tool{
		{
			Definition: llm.ToolDefinition{
				Name: "add_item",
				Description: "Add an item to the customer's order. The item and all modifiers are " +
					"validated against the menu; a rejection names the problem and suggests close matches.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_name": map[string]any{
							"type":        "string",
							"description": "Menu item name as the customer said it, e.g. \"Big Mac\".",
						},
						"category": map[string]any{
							"type":        "string",
							"description": "Menu category to search, e.g. \"Beef & Pork\". Optional.",
						},
						"modifiers": map[string]any{
							"type":        "array",
							"items":       map[string]any{"type": "string"},
							"description": "Requested modifiers, e.g. [\"No Pickles\"].",
						},
						"quantity": map[string]any{
							"type":        "integer",
							"description": "How many to add. Defaults to 1.",
						},
					},
					"required": []string{"item_name"},
				},
			},
			Handler: ts.deduped("add_item", ts.addItem),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "remove_item",
				Description: "Remove a line item from the order by its line_item_id (from an earlier add_item confirmation or show_summary).",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"line_item_id": map[string]any{
							"type":        "string",
							"description": "ID of the line item to remove.",
						},
					},
					"required": []string{"line_item_id"},
				},
			},
			Handler: ts.deduped("remove_item", ts.removeItem),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "update_item",
				Description: "Change the quantity of an existing line item. To remove an item entirely use remove_item, not quantity 0.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"line_item_id": map[string]any{
							"type":        "string",
							"description": "ID of the line item to update.",
						},
						"quantity": map[string]any{
							"type":        "integer",
							"description": "New quantity, must be at least 1.",
						},
					},
					"required": []string{"line_item_id", "quantity"},
				},
			},
			Handler: ts.deduped("update_item", ts.updateItem),
		},
		{
			Definition: llm.ToolDefinition{
				Name: "complete_order",
				Description: "Finalize the order after the customer confirmed it. The order becomes " +
					"read-only afterwards; call this exactly once, at the end.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: ts.deduped("complete_order", ts.completeOrder),
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "show_summary",
				Description: "Read the current order: every line item with its ID, quantity, and modifiers. Does not change anything.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
			},
			Handler: ts.showSummary,
		},
	}
}

// deduped wraps a mutating handler with the per-turn idempotency window:
// an identical (tool, args) pair inside the window replays the first result
// instead of executing again.
func (ts *Toolset) deduped(name string, h func(ctx context.Context, args string) (string, error)) func(ctx context.Context, args string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		if cached, ok := ts.dedup.Lookup(name, args); ok {
			ts.log.Debug("replaying deduplicated tool call", "tool", name)
			return cached, nil
		}
		result, err := h(ctx, args)
		if err == nil {
			ts.dedup.Store(name, args, result)
		}
		return result, err
	}
}

type addItemArgs struct {
	ItemName  string   `json:"item_name"`
	Category  string   `json:"category"`
	Modifiers []string `json:"modifiers"`
	Quantity  int      `json:"quantity"`
}

func (ts *Toolset) addItem(ctx context.Context, args string) (string, error) {
	var a addItemArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("ordertools: add_item: parse arguments: %w", err)
	}
	if a.Quantity == 0 {
		a.Quantity = 1
	}

	res := ts.validateItem(a)
	if !res.Valid {
		ts.recordRejection(ctx, string(res.Reason))
		return encode(Rejection{
			Reason:      string(res.Reason),
			Message:     res.Message,
			Suggestions: res.Suggestions,
		})
	}

	li, err := ts.led.AddLineItem(ctx, res.Item.Name, res.Item.Category, res.Modifiers, a.Quantity)
	if err != nil {
		return ts.mutationFailure(ctx, "add_item", err)
	}

	return encode(Confirmation{
		Success:  true,
		Action:   "added",
		LineItem: &li,
		Summary:  ts.led.Summary(),
	})
}

// validateItem runs catalog validation for an add_item call. When the model
// omitted the category the item is searched across every category; a
// modifier rejection still wins over an item-not-found one because it means
// the item itself was matched.
func (ts *Toolset) validateItem(a addItemArgs) validate.Result {
	if a.Category != "" {
		return validate.OrderItem(a.ItemName, a.Category, a.Modifiers, ts.cat, ts.threshold)
	}

	var sugs []string
	for _, c := range ts.cat.Categories() {
		res := validate.OrderItem(a.ItemName, c, a.Modifiers, ts.cat, ts.threshold)
		if res.Valid || res.Reason == validate.ReasonModifierNotAvailable {
			return res
		}
		for _, s := range res.Suggestions {
			if len(sugs) < 3 && !slices.Contains(sugs, s) {
				sugs = append(sugs, s)
			}
		}
	}
	return validate.Result{
		Reason:      validate.ReasonItemNotFound,
		Message:     fmt.Sprintf("%q is not on the menu", a.ItemName),
		Suggestions: sugs,
	}
}

type lineItemIDArgs struct {
	LineItemID string `json:"line_item_id"`
	Quantity   int    `json:"quantity"`
}

func (ts *Toolset) removeItem(ctx context.Context, args string) (string, error) {
	var a lineItemIDArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("ordertools: remove_item: parse arguments: %w", err)
	}

	li, err := ts.led.RemoveLineItem(ctx, a.LineItemID)
	if err != nil {
		return ts.mutationFailure(ctx, "remove_item", err)
	}

	return encode(Confirmation{
		Success:  true,
		Action:   "removed",
		LineItem: &li,
		Summary:  ts.led.Summary(),
	})
}

func (ts *Toolset) updateItem(ctx context.Context, args string) (string, error) {
	var a lineItemIDArgs
	if err := json.Unmarshal([]byte(args), &a); err != nil {
		return "", fmt.Errorf("ordertools: update_item: parse arguments: %w", err)
	}

	li, err := ts.led.UpdateQuantity(ctx, a.LineItemID, a.Quantity)
	if err != nil {
		return ts.mutationFailure(ctx, "update_item", err)
	}

	return encode(Confirmation{
		Success:  true,
		Action:   "updated",
		LineItem: &li,
		Summary:  ts.led.Summary(),
	})
}

func (ts *Toolset) completeOrder(ctx context.Context, args string) (string, error) {
	snap, err := ts.led.Complete(ctx)
	if err != nil {
		return ts.mutationFailure(ctx, "complete_order", err)
	}

	return encode(Confirmation{
		Success:    true,
		Action:     "completed",
		Summary:    snap.Summary,
		TotalCount: snap.TotalCount,
	})
}

func (ts *Toolset) showSummary(_ context.Context, _ string) (string, error) {
	items := ts.led.Items()
	total := 0
	for _, li := range items {
		total += li.Quantity
	}

	out := struct {
		Success    bool              `json:"success"`
		Action     string            `json:"action"`
		Items      []ledger.LineItem `json:"items"`
		Summary    string            `json:"summary"`
		TotalCount int               `json:"total_count"`
	}{
		Success:    true,
		Action:     "summary",
		Items:      items,
		Summary:    ts.led.Summary(),
		TotalCount: total,
	}
	return encode(out)
}

// mutationFailure maps a ledger error to the tool result union. Contract
// violations by the model (bad quantity, unknown ID, closed order) become
// Rejections the model can recover from; journal write failures stay errors
// and abort the turn.
func (ts *Toolset) mutationFailure(ctx context.Context, tool string, err error) (string, error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		ts.log.Warn("tool call with invalid quantity", "tool", tool, "err", err)
		ts.recordRejection(ctx, reasonInvalidQuantity)
		return encode(Rejection{
			Reason:  reasonInvalidQuantity,
			Message: "Quantity must be at least 1. To remove the item use remove_item.",
		})
	case errors.Is(err, ledger.ErrNotFound):
		ts.recordRejection(ctx, reasonLineItemNotFound)
		return encode(Rejection{
			Reason:  reasonLineItemNotFound,
			Message: "No line item with that ID exists. Call show_summary to see current IDs.",
		})
	case errors.Is(err, ledger.ErrClosed):
		ts.log.Warn("tool call on closed order", "tool", tool, "err", err)
		ts.recordRejection(ctx, reasonOrderClosed)
		return encode(Rejection{
			Reason:  reasonOrderClosed,
			Message: "The order is already finalized and can no longer change.",
		})
	default:
		return "", fmt.Errorf("ordertools: %s: %w", tool, err)
	}
}

// recordRejection counts one rejected tool call by reason.
func (ts *Toolset) recordRejection(ctx context.Context, reason string) {
	if ts.metrics != nil {
		ts.metrics.RecordValidationRejection(ctx, reason)
	}
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("ordertools: encode result: %w", err)
	}
	return string(data), nil
}
