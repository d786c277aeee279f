// Package app wires all Vocarta subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and blocks until the context is cancelled, and
// Shutdown tears everything down in order. Open order sessions are left open
// on shutdown; only their journals and the shared infrastructure close.
//
// For testing, inject doubles via functional options (WithJournalOpener,
// WithProvider). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocarta/vocarta/internal/catalog"
	"github.com/vocarta/vocarta/internal/config"
	"github.com/vocarta/vocarta/internal/health"
	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/ledger/postgres"
	"github.com/vocarta/vocarta/internal/observe"
	"github.com/vocarta/vocarta/internal/orchestrate"
	"github.com/vocarta/vocarta/internal/resilience"
	"github.com/vocarta/vocarta/pkg/provider/llm"
)

// App owns all subsystem lifetimes for the Vocarta order server.
type App struct {
	cfg      *config.Config
	cat      *catalog.Catalog
	provider llm.Provider
	orch     *orchestrate.Orchestrator
	journals orchestrate.JournalOpener
	metrics  *observe.Metrics
	server   *http.Server

	// checkers feed the /readyz endpoint.
	checkers []health.Checker

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects an LLM provider instead of creating one from the
// config registry.
func WithProvider(p llm.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithJournalOpener injects a journal opener instead of building one from
// the journal config.
func WithJournalOpener(j orchestrate.JournalOpener) Option {
	return func(a *App) { a.journals = j }
}

// WithMetrics injects a metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: catalog, LLM
// provider, journal backend, orchestrator, and the HTTP surface (health
// probes and Prometheus metrics).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("app: load catalog: %w", err)
	}
	a.cat = cat
	slog.Info("catalog loaded", "path", cfg.Catalog.Path, "items", cat.Len())

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.provider == nil {
		p, err := buildProvider(cfg.Providers, a.metrics)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.provider = p
	}

	if a.journals == nil {
		if err := a.initJournals(ctx); err != nil {
			return nil, fmt.Errorf("app: init journal backend: %w", err)
		}
	}

	orch, err := orchestrate.New(a.cat, a.provider, a.journals,
		orchestrate.WithPolicy(PolicyFromConfig(cfg.Orders)),
		orchestrate.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build orchestrator: %w", err)
	}
	a.orch = orch

	a.initHTTP()
	return a, nil
}

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *orchestrate.Orchestrator { return a.orch }

// initJournals builds the journal opener named by the config: per-session
// JSONL files or a shared PostgreSQL pool.
func (a *App) initJournals(ctx context.Context) error {
	switch a.cfg.Journal.Backend {
	case config.JournalPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("ping: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.checkers = append(a.checkers, health.Checker{
			Name:  "postgres",
			Check: pool.Ping,
		})

		// Ledgers share the pool; the non-owning journal's Close is a no-op.
		a.journals = orchestrate.JournalOpenerFunc(func(context.Context, string) (ledger.Journal, error) {
			return postgres.NewJournalWithPool(pool), nil
		})
		slog.Info("journal backend ready", "backend", "postgres")

	default:
		dir := a.cfg.Journal.Dir
		if dir == "" {
			dir = "orders"
		}
		a.journals = orchestrate.FileJournals{Dir: dir}
		slog.Info("journal backend ready", "backend", "file", "dir", dir)
	}
	return nil
}

// initHTTP assembles the HTTP surface: health probes, Prometheus metrics,
// and the observability middleware.
func (a *App) initHTTP() {
	checkers := append([]health.Checker{{
		Name: "catalog",
		Check: func(context.Context) error {
			if a.cat.Len() == 0 {
				return fmt.Errorf("catalog is empty")
			}
			return nil
		},
	}}, a.checkers...)

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// With no listen address configured, Run only blocks on ctx.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		slog.Info("no listen address configured; running without HTTP surface")
		<-ctx.Done()
		return ctx.Err()
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", a.server.Addr)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown tears down the HTTP server and all closers in order. It respects
// the context deadline: if ctx expires, remaining closers are skipped and
// the context error is returned. Open sessions stay registered; their order
// state survives in the journal.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "open_sessions", len(a.orch.Sessions()))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http server shutdown error", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// buildProvider creates the configured primary LLM provider and, when
// fallbacks are listed, wraps the chain in a circuit-breaking failover group
// that reports every provider attempt to the metrics.
func buildProvider(pc config.ProvidersConfig, m *observe.Metrics) (llm.Provider, error) {
	reg := config.DefaultRegistry()

	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	slog.Info("provider created", "name", pc.LLM.Name, "model", pc.LLM.Model)

	if len(pc.LLMFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, pc.LLM.Name, resilience.FallbackConfig{
		OnAttempt: func(name string, err error) {
			ctx := context.Background()
			if err != nil {
				m.RecordProviderRequest(ctx, name, "error")
				m.RecordProviderError(ctx, name)
				return
			}
			m.RecordProviderRequest(ctx, name, "ok")
		},
	})
	for _, entry := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("fallback provider created", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// PolicyFromConfig maps the orders config onto a session policy, falling
// back to [orchestrate.DefaultPolicy] for unset fields.
func PolicyFromConfig(o config.OrdersConfig) orchestrate.Policy {
	p := orchestrate.DefaultPolicy()
	if o.ConfirmBeforeCommit != nil {
		p.ConfirmBeforeCommit = *o.ConfirmBeforeCommit
	}
	p.AutoCombine = o.AutoCombine
	if o.DedupWindow != nil {
		p.DedupWindow = o.DedupWindow.Std()
	}
	if o.FuzzyThreshold > 0 {
		p.FuzzyThreshold = o.FuzzyThreshold
	}
	if o.MaxContextItems > 0 {
		p.MaxContextItems = o.MaxContextItems
	}
	return p
}
