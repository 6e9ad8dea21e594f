package cache

import (
	"context"
	"time"
)

// NoopBackend is used when caching is administratively disabled. Every
// read misses and every write is dropped, so callers need no conditional
// logic around a disabled cache.
type NoopBackend struct{}

var _ Backend = (*NoopBackend)(nil)

// NewNoop returns the always-miss backend.
func NewNoop() *NoopBackend {
	return &NoopBackend{}
}

func (*NoopBackend) Get(_ context.Context, _ string) ([]byte, error) {
	return nil, nil
}

func (*NoopBackend) Put(_ context.Context, _ string, _ []byte, _ time.Duration, _ PutOptions) error {
	return nil
}

func (*NoopBackend) Delete(_ context.Context, _ string) error {
	return nil
}

func (*NoopBackend) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (*NoopBackend) InvalidateTicker(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (*NoopBackend) PurgeExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (*NoopBackend) Stats(_ context.Context) (Stats, error) {
	return Stats{Tickers: []string{}}, nil
}

func (*NoopBackend) Close() error {
	return nil
}
