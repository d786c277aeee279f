// Package grounding assembles the catalog context injected into every order
// LLM call.
//
// The injected layer has two components that are fetched concurrently per
// conversational turn:
//
//  1. Catalog items relevant to the customer's latest utterance, found by
//     keyword fan-out over the catalog and capped at the injector's
//     maxItems setting.
//  2. The current order state from the session ledger.
//
// Use [FormatGroundingBlock] to convert a [TurnContext] into a system prompt
// section ready for LLM injection. The model is instructed to offer and
// confirm only what the injected catalog contains; the tool layer
// re-validates every mutation regardless.
package grounding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vocarta/vocarta/internal/catalog"
	"github.com/vocarta/vocarta/pkg/provider/llm"
)

// DefaultMaxItems caps how many catalog items one turn may inject.
const DefaultMaxItems = 50

// TurnContext is the assembled grounding context for one conversational turn.
type TurnContext struct {
	// Items are the catalog items judged relevant to the latest utterance,
	// in catalog order, capped at the injector's maxItems setting.
	Items []catalog.Item

	// OrderSummary is the human-readable summary of the session's current
	// order state. Empty when no ledger was supplied.
	OrderSummary string

	// AssemblyDuration records how long [Injector.PrepareTurn] took.
	AssemblyDuration time.Duration
}

// OrderStater reports the current order state for prompt injection.
// *ledger.Ledger satisfies it.
type OrderStater interface {
	Summary() string
}

// Injector wraps an [llm.Provider] and grounds every completion in the
// product catalog: the system prompt of each call carries the relevant
// catalog slice and the live order state. Safe for concurrent use.
type Injector struct {
	provider llm.Provider
	cat      *catalog.Catalog
	maxItems int
}

// Option is a functional option for [NewInjector].
type Option func(*Injector)

// WithMaxItems caps the number of catalog items injected per turn.
// Defaults to [DefaultMaxItems].
func WithMaxItems(n int) Option {
	return func(i *Injector) { i.maxItems = n }
}

// NewInjector creates an [Injector] over provider and cat.
func NewInjector(provider llm.Provider, cat *catalog.Catalog, opts ...Option) *Injector {
	i := &Injector{
		provider: provider,
		cat:      cat,
		maxItems: DefaultMaxItems,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// PrepareTurn assembles the grounding context for one turn: catalog items
// matching the utterance's keywords, fetched concurrently per keyword, plus
// the current order summary from order.
//
// When no keyword matches anything (or the utterance yields no keywords),
// the whole catalog is offered up to the item cap, so small menus are always
// fully visible to the model.
func (i *Injector) PrepareTurn(ctx context.Context, utterance string, order OrderStater) (*TurnContext, error) {
	start := time.Now()

	keywords := extractKeywords(utterance)

	var (
		mu      sync.Mutex
		matched = map[string]catalog.Item{}
	)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, kw := range keywords {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return fmt.Errorf("grounding: search %q: %w", kw, err)
			}
			items := i.cat.Search(kw, "")
			mu.Lock()
			for _, it := range items {
				matched[itemKey(it)] = it
			}
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	items := i.catalogOrder(matched)
	if len(items) == 0 {
		items = i.allItems()
	}
	if len(items) > i.maxItems {
		items = items[:i.maxItems]
	}

	tc := &TurnContext{Items: items}
	if order != nil {
		tc.OrderSummary = order.Summary()
	}
	tc.AssemblyDuration = time.Since(start)
	return tc, nil
}

// Complete grounds req in tc and forwards it to the underlying provider.
func (i *Injector) Complete(ctx context.Context, req llm.CompletionRequest, tc *TurnContext) (*llm.CompletionResponse, error) {
	return i.provider.Complete(ctx, i.inject(req, tc))
}

// StreamCompletion grounds req in tc and forwards it to the underlying
// provider, passing the chunk stream through untouched.
func (i *Injector) StreamCompletion(ctx context.Context, req llm.CompletionRequest, tc *TurnContext) (<-chan llm.Chunk, error) {
	return i.provider.StreamCompletion(ctx, i.inject(req, tc))
}

// Provider returns the wrapped provider for calls that need it directly.
func (i *Injector) Provider() llm.Provider { return i.provider }

// inject appends the grounding block to the request's system prompt.
// The original request is not modified.
func (i *Injector) inject(req llm.CompletionRequest, tc *TurnContext) llm.CompletionRequest {
	block := FormatGroundingBlock(tc)
	if block == "" {
		return req
	}
	out := req
	if out.SystemPrompt != "" {
		out.SystemPrompt += "\n\n"
	}
	out.SystemPrompt += block
	return out
}

// catalogOrder returns the matched items in catalog source order.
func (i *Injector) catalogOrder(matched map[string]catalog.Item) []catalog.Item {
	var out []catalog.Item
	for _, cat := range i.cat.Categories() {
		for _, it := range i.cat.Category(cat) {
			if _, ok := matched[itemKey(it)]; ok {
				out = append(out, it)
			}
		}
	}
	return out
}

// allItems returns every catalog item in catalog source order.
func (i *Injector) allItems() []catalog.Item {
	var out []catalog.Item
	for _, cat := range i.cat.Categories() {
		out = append(out, i.cat.Category(cat)...)
	}
	return out
}

func itemKey(it catalog.Item) string {
	return it.Category + "\x00" + it.Name
}
