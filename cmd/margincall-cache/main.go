// Package main is the cache administration tool: inspect what is cached,
// force refresh cycles per ticker, and reclaim space from expired entries.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"margincall/config"
	"margincall/internal/cache"
	"margincall/internal/logging"
	"margincall/internal/metrics"
)

const usage = `Usage: margincall-cache <command> [args]

Commands:
  stats               show cached stocks and entry counts
  invalidate <ticker> delete every cache entry for a ticker
  purge               delete all expired entries
  delete <key>        delete a single entry by cache key
  exists <key>        report whether a valid entry is present (exit 1 if not)
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	os.Exit(run(flag.Args()))
}

func run(args []string) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		return 1
	}
	logging.Setup(cfg.Logging)
	metrics.SetEnabled(cfg.Metrics.Enabled)

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	backend, err := cache.New(cfg)
	if err != nil {
		slog.Error("failed to initialize cache backend", "error", err)
		return 1
	}
	defer backend.Close()

	ctx := context.Background()
	if d := cfg.Timeouts.Runner(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "stats":
		return runStats(ctx, backend)
	case "invalidate":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: margincall-cache invalidate <ticker>")
			return 2
		}
		return runInvalidate(ctx, backend, rest[0])
	case "purge":
		return runPurge(ctx, backend)
	case "delete":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: margincall-cache delete <key>")
			return 2
		}
		return runDelete(ctx, backend, rest[0])
	case "exists":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: margincall-cache exists <key>")
			return 2
		}
		return runExists(ctx, backend, rest[0])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

func runStats(ctx context.Context, backend cache.Backend) int {
	stats, err := backend.Stats(ctx)
	if err != nil {
		slog.Error("failed to read cache stats", "error", err)
		return 1
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		slog.Error("failed to encode stats", "error", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runInvalidate(ctx context.Context, backend cache.Backend, ticker string) int {
	deleted, err := backend.InvalidateTicker(ctx, ticker)
	if err != nil {
		slog.Error("failed to invalidate ticker", "ticker", ticker, "error", err)
		return 1
	}
	fmt.Printf("deleted %d entries for %s\n", deleted, ticker)
	return 0
}

func runPurge(ctx context.Context, backend cache.Backend) int {
	deleted, err := backend.PurgeExpired(ctx)
	if err != nil {
		slog.Error("failed to purge expired entries", "error", err)
		return 1
	}
	fmt.Printf("purged %d expired entries\n", deleted)
	return 0
}

func runDelete(ctx context.Context, backend cache.Backend, key string) int {
	if err := backend.Delete(ctx, key); err != nil {
		slog.Error("failed to delete cache entry", "key", key, "error", err)
		return 1
	}
	fmt.Printf("deleted %s\n", key)
	return 0
}

func runExists(ctx context.Context, backend cache.Backend, key string) int {
	ok, err := backend.Exists(ctx, key)
	if err != nil {
		slog.Error("failed to check cache entry", "key", key, "error", err)
		return 1
	}
	if !ok {
		fmt.Printf("%s: not present\n", key)
		return 1
	}
	fmt.Printf("%s: present\n", key)
	return 0
}
