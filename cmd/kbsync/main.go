package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/kbsync/config"
	"github.com/hazyhaar/kbsync/orchestrator"
	"github.com/hazyhaar/kbsync/statusapi"
	_ "modernc.org/sqlite"
)

const usage = `usage: kbsync <command> [flags]

commands:
  sync        run a full synchronization
  stats       print cache and embedding statistics
  duplicates  print duplicate content groups
  cleanup     remove stale cache entries and embeddings
  serve       serve the read-only status API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", "info") {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "sync":
		err = runSync(ctx, logger, args)
	case "stats":
		err = runStats(ctx, logger, args)
	case "duplicates":
		err = runDuplicates(ctx, logger, args)
	case "cleanup":
		err = runCleanup(ctx, logger, args)
	case "serve":
		err = runServe(ctx, logger, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// newOrchestrator loads the config file and wires the engine.
func newOrchestrator(logger *slog.Logger, path string) (*orchestrator.Orchestrator, error) {
	sc, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{Sync: sc, Logger: logger})
}

// runSync executes a full run. Per-source and per-stage failures are recorded
// in the summary, not turned into a non-zero exit; only a failure to load the
// config or wire the engine is fatal.
func runSync(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfgPath := fs.String("config", "kbsync.yaml", "path to the sync configuration file")
	fs.Parse(args)

	o, err := newOrchestrator(logger, *cfgPath)
	if err != nil {
		return err
	}
	defer o.Close()

	sum := o.Run(ctx)
	return printJSON(sum)
}

func runStats(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	cfgPath := fs.String("config", "kbsync.yaml", "path to the sync configuration file")
	fs.Parse(args)

	o, err := newOrchestrator(logger, *cfgPath)
	if err != nil {
		return err
	}
	defer o.Close()

	stats, err := o.Cache().Statistics(ctx)
	if err != nil {
		return err
	}
	out := map[string]any{"cache": stats}
	if n, err := o.Store().Count(ctx); err != nil {
		logger.Warn("embedding count unavailable", "error", err)
	} else {
		out["embeddings"] = n
	}
	return printJSON(out)
}

func runDuplicates(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("duplicates", flag.ExitOnError)
	cfgPath := fs.String("config", "kbsync.yaml", "path to the sync configuration file")
	top := fs.Int("top", 10, "number of duplicate groups to show")
	fs.Parse(args)

	o, err := newOrchestrator(logger, *cfgPath)
	if err != nil {
		return err
	}
	defer o.Close()

	sum, err := o.Cache().DuplicateSummary(ctx, *top)
	if err != nil {
		return err
	}
	return printJSON(sum)
}

func runCleanup(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	cfgPath := fs.String("config", "kbsync.yaml", "path to the sync configuration file")
	cacheAge := fs.Duration("cache-age", 30*24*time.Hour, "remove cache entries older than this")
	embedAge := fs.Duration("embeddings-age", 90*24*time.Hour, "remove embeddings older than this")
	fs.Parse(args)

	o, err := newOrchestrator(logger, *cfgPath)
	if err != nil {
		return err
	}
	defer o.Close()

	removed, err := o.Cache().CleanupOlderThan(ctx, *cacheAge)
	if err != nil {
		return err
	}
	embeddings, err := o.Store().CleanupOlderThan(ctx, *embedAge)
	if err != nil {
		// Cache cleanup already happened; report it alongside the failure.
		logger.Warn("embedding cleanup failed", "cache_removed", removed, "error", err)
		return err
	}
	return printJSON(map[string]any{
		"cache_entries_removed": removed,
		"embeddings_removed":    embeddings,
	})
}

func runServe(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "kbsync.yaml", "path to the sync configuration file")
	addr := fs.String("addr", ":"+env("PORT", "8086"), "listen address")
	fs.Parse(args)

	o, err := newOrchestrator(logger, *cfgPath)
	if err != nil {
		return err
	}
	defer o.Close()

	svc := statusapi.New(statusapi.Config{
		Cache:       o.Cache(),
		Store:       o.Store(),
		Checkpoints: o.Checkpoints(),
		Logger:      logger,
	})
	srv := &http.Server{
		Addr:              *addr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status api listening", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
