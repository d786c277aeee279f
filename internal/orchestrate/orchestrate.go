// Package orchestrate manages order session lifecycles and drives the
// request/response turn loop between the customer, the LLM, and the order
// tools.
//
// An [Orchestrator] holds the shared, session-independent pieces: the
// catalog, the LLM provider, the journal opener, and the behavioral
// [Policy]. [Orchestrator.StartSession] assembles the per-session pieces —
// a registered ledger, its journal, the grounded injector, and the tool
// set — into a [Session] whose RunTurn method carries one customer
// utterance through completion and tool execution until the model stops
// calling tools.
package orchestrate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vocarta/vocarta/internal/catalog"
	"github.com/vocarta/vocarta/internal/grounding"
	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/observe"
	"github.com/vocarta/vocarta/internal/ordertools"
	"github.com/vocarta/vocarta/internal/validate"
	"github.com/vocarta/vocarta/pkg/provider/llm"
)

// JournalOpener opens the durable journal for a new session. The file and
// PostgreSQL backends both satisfy it; tests plug in their own.
type JournalOpener interface {
	Open(ctx context.Context, sessionID string) (ledger.Journal, error)
}

// JournalOpenerFunc adapts a function to the [JournalOpener] interface.
type JournalOpenerFunc func(ctx context.Context, sessionID string) (ledger.Journal, error)

// Open implements [JournalOpener].
func (f JournalOpenerFunc) Open(ctx context.Context, sessionID string) (ledger.Journal, error) {
	return f(ctx, sessionID)
}

// FileJournals opens one [ledger.FileJournal] per session under Dir.
type FileJournals struct {
	Dir string
}

// Open implements [JournalOpener].
func (f FileJournals) Open(_ context.Context, sessionID string) (ledger.Journal, error) {
	return ledger.NewFileJournal(f.Dir, sessionID)
}

// Policy bundles the behavioral parameters of an order session. The zero
// value is not meaningful; start from [DefaultPolicy].
type Policy struct {
	// ConfirmBeforeCommit instructs the model to read the order back and get
	// an explicit yes before calling complete_order. Expressed in the system
	// prompt contract, not enforced mechanically.
	ConfirmBeforeCommit bool

	// AutoCombine makes the ledger merge a new line item into an existing
	// combinable one instead of appending a separate line.
	AutoCombine bool

	// DedupWindow is how long identical tool calls replay their first result.
	// Zero disables deduplication.
	DedupWindow time.Duration

	// FuzzyThreshold is the minimum similarity score for catalog validation.
	FuzzyThreshold float64

	// MaxContextItems caps how many catalog items one turn may inject into
	// the system prompt.
	MaxContextItems int
}

// DefaultPolicy returns the standard session policy.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmBeforeCommit: true,
		AutoCombine:         false,
		DedupWindow:         ordertools.DefaultDedupWindow,
		FuzzyThreshold:      validate.DefaultThreshold,
		MaxContextItems:     grounding.DefaultMaxItems,
	}
}

// Orchestrator creates and tracks order sessions. Safe for concurrent use;
// each [Session] additionally serializes its own turns.
type Orchestrator struct {
	cat      *catalog.Catalog
	provider llm.Provider
	journals JournalOpener
	registry *ledger.Registry
	log      *slog.Logger
	metrics  *observe.Metrics

	mu     sync.RWMutex
	policy Policy
}

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithPolicy replaces the default session policy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithMetrics enables OTel instrumentation of turns, tool calls, and the
// active-session gauge. Nil (the default) disables instrumentation.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(cat *catalog.Catalog, provider llm.Provider, journals JournalOpener, opts ...Option) (*Orchestrator, error) {
	if cat == nil {
		return nil, fmt.Errorf("orchestrate: catalog must not be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("orchestrate: provider must not be nil")
	}
	if journals == nil {
		return nil, fmt.Errorf("orchestrate: journal opener must not be nil")
	}

	o := &Orchestrator{
		cat:      cat,
		provider: provider,
		journals: journals,
		registry: ledger.NewRegistry(),
		policy:   DefaultPolicy(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartSession opens a new order session: a fresh session ID, a journal from
// the opener, a ledger registered in the registry, and the tool set and
// injector wired to both.
func (o *Orchestrator) StartSession(ctx context.Context) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, fmt.Errorf("orchestrate: generate session id: %w", err)
	}

	pol := o.Policy()

	journal, err := o.journals.Open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("orchestrate: open journal for session %s: %w", id, err)
	}

	led, err := o.registry.Open(id, journal,
		ledger.WithAutoCombine(pol.AutoCombine),
		ledger.WithMetrics(o.metrics),
	)
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	toolset := ordertools.New(led, o.cat,
		ordertools.WithFuzzyThreshold(pol.FuzzyThreshold),
		ordertools.WithDedupWindow(pol.DedupWindow),
		ordertools.WithLogger(o.log),
		ordertools.WithMetrics(o.metrics),
	)

	s := &Session{
		id:           id,
		ledger:       led,
		journal:      journal,
		registry:     o.registry,
		injector:     grounding.NewInjector(o.provider, o.cat, grounding.WithMaxItems(pol.MaxContextItems)),
		tools:        toolset.Tools(),
		systemPrompt: systemPrompt(pol),
		log:          o.log.With("session_id", id),
		metrics:      o.metrics,
		startedAt:    time.Now().UTC(),
	}

	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	o.log.Info("order session started", "session_id", id)
	return s, nil
}

// Resume returns a live session handle for a ledger still present in the
// registry, rebuilding the tool set and injector around it. Conversation
// history does not survive a resume; the order state does.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) (*Session, error) {
	led, ok := o.registry.Get(sessionID)
	if !ok {
		return nil, fmt.Errorf("orchestrate: no open session %q", sessionID)
	}

	pol := o.Policy()

	toolset := ordertools.New(led, o.cat,
		ordertools.WithFuzzyThreshold(pol.FuzzyThreshold),
		ordertools.WithDedupWindow(pol.DedupWindow),
		ordertools.WithLogger(o.log),
		ordertools.WithMetrics(o.metrics),
	)

	if o.metrics != nil {
		o.metrics.ActiveSessions.Add(ctx, 1)
	}
	return &Session{
		id:           sessionID,
		ledger:       led,
		registry:     o.registry,
		injector:     grounding.NewInjector(o.provider, o.cat, grounding.WithMaxItems(pol.MaxContextItems)),
		tools:        toolset.Tools(),
		systemPrompt: systemPrompt(pol),
		log:          o.log.With("session_id", sessionID),
		metrics:      o.metrics,
		startedAt:    led.OpenedAt(),
	}, nil
}

// Policy returns the policy applied to newly started sessions.
func (o *Orchestrator) Policy() Policy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.policy
}

// SetPolicy replaces the policy for sessions started after the call. Running
// sessions keep the policy they were created with.
func (o *Orchestrator) SetPolicy(p Policy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.policy = p
}

// Sessions returns the IDs of all sessions whose ledgers are registered.
func (o *Orchestrator) Sessions() []string { return o.registry.Sessions() }

// Registry exposes the ledger registry for audit tooling.
func (o *Orchestrator) Registry() *ledger.Registry { return o.registry }

// newSessionID returns an ID like "order-20260830T141503Z-9f2c4a1b".
func newSessionID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("order-%s-%s",
		time.Now().UTC().Format("20060102T150405Z"),
		hex.EncodeToString(b[:]),
	), nil
}
