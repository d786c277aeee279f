// Command vocarta is the main entry point for the Vocarta order server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vocarta/vocarta/internal/app"
	"github.com/vocarta/vocarta/internal/catalog"
	"github.com/vocarta/vocarta/internal/config"
	"github.com/vocarta/vocarta/internal/ledger"
	"github.com/vocarta/vocarta/internal/observe"
	"github.com/vocarta/vocarta/internal/ordertools"
	"github.com/vocarta/vocarta/internal/ordertools/mcpserver"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	mcpMode := flag.Bool("mcp", false, "serve the order tools over MCP stdio instead of running the server")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vocarta: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "vocarta: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("vocarta starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *mcpMode {
		return runMCP(ctx, cfg)
	}

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "vocarta",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.OrdersChanged {
			application.Orchestrator().SetPolicy(app.PolicyFromConfig(d.NewOrders))
			slog.Info("order policy updated; applies to new sessions")
		}
		if d.RequiresRestart {
			slog.Warn("config change requires a restart to take effect")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// runMCP exposes the order tools of a single fresh session over MCP stdio.
// MCP-speaking runtimes launch the binary with -mcp as a subprocess and call
// add_item, remove_item, update_item, complete_order, and show_summary
// directly; the journal still records every mutation.
func runMCP(ctx context.Context, cfg *config.Config) int {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		slog.Error("failed to load catalog", "err", err)
		return 1
	}

	dir := cfg.Journal.Dir
	if dir == "" {
		dir = "orders"
	}
	sessionID := fmt.Sprintf("mcp-%d", time.Now().UTC().Unix())
	journal, err := ledger.NewFileJournal(dir, sessionID)
	if err != nil {
		slog.Error("failed to open journal", "err", err)
		return 1
	}
	defer journal.Close()

	led, err := ledger.New(sessionID, journal)
	if err != nil {
		slog.Error("failed to create ledger", "err", err)
		return 1
	}

	pol := app.PolicyFromConfig(cfg.Orders)
	toolset := ordertools.New(led, cat,
		ordertools.WithFuzzyThreshold(pol.FuzzyThreshold),
		ordertools.WithDedupWindow(pol.DedupWindow),
	)

	srv, err := mcpserver.New(toolset.Tools())
	if err != nil {
		slog.Error("failed to build MCP server", "err", err)
		return 1
	}

	slog.Info("serving order tools over MCP stdio", "session_id", sessionID)
	if err := mcpserver.Serve(ctx, srv); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("mcp server error", "err", err)
		return 1
	}
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Vocarta — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", cfg.Providers.LLM.Name+" / "+cfg.Providers.LLM.Model)
	printRow("Catalog", cfg.Catalog.Path)
	backend := string(cfg.Journal.Backend)
	if backend == "" {
		backend = "file"
	}
	printRow("Journal", backend)
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns the root logger and its level var so the config watcher
// can adjust verbosity at runtime.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
