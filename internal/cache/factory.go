package cache

import (
	"fmt"
	"log/slog"

	"margincall/config"
)

// Backend selector values recognized in configuration.
const (
	BackendSQLite = "sqlite"
	BackendNoop   = "noop"
)

// New constructs the cache backend selected by configuration. Callers
// construct one backend at startup and pass it to every component that
// needs caching; the caller owns Close.
//
// When caching is disabled the noop backend is returned, so callers need
// no disabled-mode conditionals.
func New(cfg *config.Config) (Backend, error) {
	if cfg.Cache.Disabled {
		slog.Info("caching disabled, using noop backend")
		return NewNoop(), nil
	}

	switch cfg.Cache.Backend {
	case "", BackendSQLite:
		return NewSQLite(cfg.Cache.Path)
	case BackendNoop:
		return NewNoop(), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}
