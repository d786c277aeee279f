package ordertools

import (
	"sync"
	"time"
)

// DefaultDedupWindow is how long an identical tool call replays its first
// result. Long enough to absorb a model emitting the same call twice within
// one turn, short enough that a genuine repeat order ("another Big Mac" a
// minute later) executes normally.
const DefaultDedupWindow = 2 * time.Second

// Deduper suppresses duplicate tool calls: when the model emits the same
// (tool, args) pair twice inside the window, the second call replays the
// first result instead of mutating the ledger again.
//
// Only successful results are cached. A failed call is allowed to execute
// again because the retry may well succeed.
//
// Safe for concurrent use.
type Deduper struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[string]dedupEntry
}

type dedupEntry struct {
	result string
	at     time.Time
}

// NewDeduper creates a Deduper with the given window. A window of zero (or
// less) disables deduplication entirely.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window:  window,
		now:     time.Now,
		entries: make(map[string]dedupEntry),
	}
}

// Lookup returns the cached result for (tool, args) if a matching call
// succeeded within the window.
func (d *Deduper) Lookup(tool, args string) (string, bool) {
	if d.window <= 0 {
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[tool+"\x00"+args]
	if !ok || d.now().Sub(e.at) > d.window {
		return "", false
	}
	return e.result, true
}

// Store records a successful result for (tool, args), evicting any entries
// whose window has lapsed.
func (d *Deduper) Store(tool, args, result string) {
	if d.window <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, e := range d.entries {
		if now.Sub(e.at) > d.window {
			delete(d.entries, k)
		}
	}
	d.entries[tool+"\x00"+args] = dedupEntry{result: result, at: now}
}
