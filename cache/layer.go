package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/propscout/provider"
)

// Layer is the single path through which provider calls are made. It serves
// fresh results from the cache, enforces the monthly quota on misses, and
// records every call and hit in the usage ledger.
type Layer struct {
	backend Backend
	cache   *Cache
	ledger  *Ledger
	logger  *slog.Logger

	quotaMu sync.RWMutex
	quota   Quota
}

// Option configures a Layer.
type Option func(*layerOptions)

type layerOptions struct {
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	quota    Quota
	observer LookupObserver
}

// WithTTL sets the entry freshness window.
func WithTTL(d time.Duration) Option {
	return func(o *layerOptions) { o.ttl = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *layerOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *layerOptions) { o.logger = logger }
}

// WithQuota sets the initial budget.
func WithQuota(q Quota) Option {
	return func(o *layerOptions) { o.quota = q }
}

// WithObserver reports lookups and entry counts, typically to metrics.
func WithObserver(obs LookupObserver) Option {
	return func(o *layerOptions) { o.observer = obs }
}

// NewLayer builds a layer over backend.
func NewLayer(backend Backend, opts ...Option) *Layer {
	o := layerOptions{ttl: DefaultTTL, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	c := NewCache(backend, o.ttl, o.now, o.logger)
	c.observer = o.observer
	ledger := NewLedger(backend, o.now, o.logger)
	ledger.sweep = c.Sweep
	return &Layer{
		backend: backend,
		cache:   c,
		ledger:  ledger,
		logger:  o.logger,
		quota:   o.quota,
	}
}

// Cache returns the underlying entry store.
func (l *Layer) Cache() *Cache { return l.cache }

// Ledger returns the usage ledger.
func (l *Layer) Ledger() *Ledger { return l.ledger }

// Quota returns the active budget.
func (l *Layer) Quota() Quota {
	l.quotaMu.RLock()
	defer l.quotaMu.RUnlock()
	return l.quota
}

// SetQuota replaces the budget, e.g. after a config reload.
func (l *Layer) SetQuota(q Quota) {
	l.quotaMu.Lock()
	l.quota = q
	l.quotaMu.Unlock()
}

// Result is a value together with where it came from.
type Result[T any] struct {
	Value     T
	FromCache bool
	// StoredAt is when the value entered the cache.
	StoredAt time.Time
}

// Fetch returns the cached value for (t, id) or calls fn and caches its
// result. Hits are counted as cached and make no call. Misses are checked
// against the quota, then counted as a call whether or not fn succeeds.
// Failed calls are not cached.
//
// A successful result is stored even if ctx has been cancelled meanwhile,
// so work already paid for is not lost.
func Fetch[T any](ctx context.Context, l *Layer, t Type, id string, fn func(context.Context) (T, error)) (Result[T], error) {
	var zero Result[T]
	endpoint := string(t)

	raw, storedAt, ok, err := l.cache.Get(ctx, t, id)
	if err != nil {
		l.logger.Warn("Cache read failed, fetching", "type", t, "id", id, "error", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			l.logger.Debug("Cache hit", "type", t, "id", id)
			l.record(ctx, endpoint, true)
			return Result[T]{Value: v, FromCache: true, StoredAt: storedAt}, nil
		}
		l.logger.Debug("Cached value does not decode, refetching", "type", t, "id", id)
	}

	if err := l.checkQuota(ctx, endpoint); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	l.record(ctx, endpoint, false)
	if err != nil {
		return zero, err
	}

	storedAt, err = l.cache.Set(context.WithoutCancel(ctx), t, id, v)
	if err != nil {
		l.logger.Warn("Cache write failed", "type", t, "id", id, "error", err)
	}
	return Result[T]{Value: v, StoredAt: storedAt}, nil
}

// Uncached runs fn as one quota-checked, ledger-recorded call against
// endpoint without storing anything.
func (l *Layer) Uncached(ctx context.Context, endpoint string, fn func(context.Context) error) error {
	if err := l.checkQuota(ctx, endpoint); err != nil {
		return err
	}
	err := fn(ctx)
	l.record(ctx, endpoint, false)
	return err
}

func (l *Layer) checkQuota(ctx context.Context, endpoint string) error {
	q := l.Quota()
	if !q.Enabled() {
		return nil
	}
	// A call that cannot be counted is not made.
	if err := l.ledger.Flush(ctx); errors.Is(err, ErrLedgerFull) {
		l.logger.Warn("Usage ledger cannot be saved, refusing call", "endpoint", endpoint)
		return provider.Errorf(provider.KindQuotaExceeded, endpoint,
			"usage for %s cannot be recorded, cache store is full", endpoint)
	} else if err != nil {
		l.logger.Warn("Usage ledger flush failed", "error", err)
	}
	u, err := l.ledger.Usage(ctx)
	if err != nil {
		l.logger.Warn("Usage ledger unreadable, skipping quota check", "error", err)
		return nil
	}
	if err := q.Check(u, endpoint); err != nil {
		l.logger.Warn("Quota exceeded", "endpoint", endpoint, "total_calls", u.TotalCalls)
		return err
	}
	return nil
}

func (l *Layer) record(ctx context.Context, endpoint string, cached bool) {
	if err := l.ledger.Record(context.WithoutCancel(ctx), endpoint, cached); err != nil {
		l.logger.Warn("Usage not recorded", "endpoint", endpoint, "cached", cached, "error", err)
	}
}

// Clear removes entries of type t, or all entries when t is empty.
func (l *Layer) Clear(ctx context.Context, t Type) (int, error) {
	n, err := l.cache.Clear(ctx, t)
	if err != nil {
		return n, fmt.Errorf("clear cache: %w", err)
	}
	l.logger.Info("Cache cleared", "type", t, "removed", n)
	return n, nil
}

// Stats summarizes the cache contents.
func (l *Layer) Stats(ctx context.Context) (*Stats, error) {
	return l.cache.Stats(ctx)
}

// UsageSummary reports the current month's usage.
func (l *Layer) UsageSummary(ctx context.Context) (*Summary, error) {
	return l.ledger.Summary(ctx)
}

// LoadSecret reads a named secret from the backend. An absent secret is "".
func (l *Layer) LoadSecret(ctx context.Context, name string) (string, error) {
	if strings.HasPrefix(name, KeyPrefix) || name == UsageKey {
		return "", fmt.Errorf("reserved key %q", name)
	}
	data, err := l.backend.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StoreSecret writes a named secret to the backend. An empty value deletes
// it.
func (l *Layer) StoreSecret(ctx context.Context, name, value string) error {
	if strings.HasPrefix(name, KeyPrefix) || name == UsageKey {
		return fmt.Errorf("reserved key %q", name)
	}
	if value == "" {
		return l.backend.Delete(ctx, name)
	}
	ok, err := l.backend.Put(ctx, name, []byte(value))
	if err != nil {
		return err
	}
	if !ok {
		if _, err := l.cache.Sweep(ctx); err != nil {
			return err
		}
		if ok, err = l.backend.Put(ctx, name, []byte(value)); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store %s: cache store full", name)
		}
	}
	return nil
}

// Close closes the backend.
func (l *Layer) Close() error {
	return l.backend.Close()
}
