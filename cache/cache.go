package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// KeyPrefix begins every cache entry key.
const KeyPrefix = "ps_cache_"

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 7 * 24 * time.Hour

// Type names a family of cached values.
type Type string

// Cache types.
const (
	TypeGeocode       Type = "geocode"
	TypePluto         Type = "pluto"
	TypeZoning        Type = "zoning"
	TypeACRIS         Type = "acris"
	TypeHPD           Type = "hpd"
	TypeDOB           Type = "dob"
	TypeECB           Type = "ecb"
	TypePermits       Type = "permits"
	TypeActions       Type = "actions"
	TypePropertyScout Type = "property_scout"
	TypeTitleReport   Type = "title_report"
	TypeFlood         Type = "flood"
	TypeRezonings     Type = "rezonings"
	TypeSalesHistory  Type = "sales_history"
	TypeLiens         Type = "liens"
	TypeMortgage      Type = "mortgage"
	TypeOwner         Type = "owner"

	// TypeLotCoordinates holds a lot's PLUTO coordinates, keyed by BBL.
	TypeLotCoordinates Type = "lot_coordinates"
)

// Types lists every cache type.
var Types = []Type{
	TypeGeocode, TypePluto, TypeZoning, TypeACRIS, TypeHPD, TypeDOB, TypeECB,
	TypePermits, TypeActions, TypePropertyScout, TypeTitleReport, TypeFlood,
	TypeRezonings, TypeSalesHistory, TypeLiens, TypeMortgage, TypeOwner,
	TypeLotCoordinates,
}

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown cache type %q", s)
}

// Key builds the storage key for (t, id). Identifiers are case-insensitive.
func Key(t Type, id string) string {
	return KeyPrefix + string(t) + "_" + strings.ToLower(strings.TrimSpace(id))
}

// typeOfKey recovers the type from a storage key. Known types are matched
// longest first so "property_scout" is not read as "property".
func typeOfKey(key string) string {
	rest := strings.TrimPrefix(key, KeyPrefix)
	best := ""
	for _, t := range Types {
		if strings.HasPrefix(rest, string(t)+"_") && len(t) > len(best) {
			best = string(t)
		}
	}
	if best != "" {
		return best
	}
	if i := strings.IndexByte(rest, '_'); i > 0 {
		return rest[:i]
	}
	return rest
}

// envelope is the persisted form of an entry.
type envelope struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Lookup outcomes reported to a LookupObserver.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
)

// LookupObserver receives cache lookup outcomes and entry counts.
type LookupObserver interface {
	ObserveLookup(cacheType, result string)
	ObserveEntries(n int)
}

// Cache stores JSON values with a fixed TTL. Expiry is checked lazily on
// read. Writes to one key are serialized; an overflow sweep excludes all
// other operations while it runs.
type Cache struct {
	backend  Backend
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer LookupObserver

	// mu is held for reading by ordinary operations and for writing by
	// the overflow sweep.
	mu       sync.RWMutex
	keyLocks [64]sync.Mutex
}

// NewCache wraps backend. ttl <= 0 uses DefaultTTL and a nil now uses
// time.Now.
func NewCache(backend Backend, ttl time.Duration, now func() time.Time, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, ttl: ttl, now: now, logger: logger}
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

func (c *Cache) keyLock(key string) *sync.Mutex {
	return &c.keyLocks[xxhash.Sum64String(key)%uint64(len(c.keyLocks))]
}

func (c *Cache) observe(t Type, result string) {
	if c.observer != nil {
		c.observer.ObserveLookup(string(t), result)
	}
}

// Get returns the fresh value stored for (t, id) and when it was stored.
// Stale and unreadable entries are deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, t Type, id string) (json.RawMessage, time.Time, bool, error) {
	key := Key(t, id)

	c.mu.RLock()
	data, err := c.backend.Get(ctx, key)
	c.mu.RUnlock()
	if errors.Is(err, ErrNotFound) {
		c.observe(t, LookupMiss)
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	env, ok := decodeEnvelope(data)
	if !ok {
		c.logger.Debug("Dropping unreadable cache entry", "key", key)
		c.dropUnusable(ctx, key)
		c.observe(t, LookupMiss)
		return nil, time.Time{}, false, nil
	}

	storedAt := time.UnixMilli(env.Timestamp)
	if !c.fresh(storedAt) {
		c.logger.Debug("Cache entry expired", "key", key, "stored_at", storedAt)
		c.dropUnusable(ctx, key)
		c.observe(t, LookupStale)
		return nil, time.Time{}, false, nil
	}

	c.observe(t, LookupHit)
	return env.Data, storedAt, true, nil
}

func decodeEnvelope(data []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Data) == 0 {
		return envelope{}, false
	}
	return env, true
}

// dropUnusable deletes key if it is still stale or unreadable once the key
// lock is held, so a fresh value written meanwhile survives.
func (c *Cache) dropUnusable(ctx context.Context, key string) {
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return
	}
	if env, ok := decodeEnvelope(data); ok && c.fresh(time.UnixMilli(env.Timestamp)) {
		return
	}
	_ = c.backend.Delete(ctx, key)
}

func (c *Cache) fresh(storedAt time.Time) bool {
	return c.now().Sub(storedAt) < c.ttl
}

// Set stores value under (t, id) and returns the stored timestamp. A value
// that encodes to JSON null is not stored.
//
// If the backend is full, expired entries are swept and the write retried
// once. A write that still does not fit is dropped without error.
func (c *Cache) Set(ctx context.Context, t Type, id string, value any) (time.Time, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode %s entry: %w", t, err)
	}
	storedAt := time.UnixMilli(c.now().UnixMilli())
	if bytes.Equal(data, []byte("null")) {
		return storedAt, nil
	}
	payload, err := json.Marshal(envelope{Data: data, Timestamp: storedAt.UnixMilli()})
	if err != nil {
		return time.Time{}, fmt.Errorf("encode %s envelope: %w", t, err)
	}

	key := Key(t, id)
	lock := c.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	ok, err := c.put(ctx, key, payload)
	if err != nil {
		return time.Time{}, err
	}
	if ok {
		return storedAt, nil
	}

	evicted, err := c.Sweep(ctx)
	if err != nil {
		c.logger.Warn("Cache sweep failed", "error", err)
	}
	ok, err = c.put(ctx, key, payload)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		c.logger.Warn("Cache full, dropping entry", "key", key, "evicted", evicted, "size", len(payload))
	}
	return storedAt, nil
}

func (c *Cache) put(ctx context.Context, key string, payload []byte) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend.Put(ctx, key, payload)
}

// Sweep deletes every expired or unreadable entry and returns how many were
// removed.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.backend.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for _, key := range keys {
		data, err := c.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		if env, ok := decodeEnvelope(data); ok && c.fresh(time.UnixMilli(env.Timestamp)) {
			continue
		}
		if err := c.backend.Delete(ctx, key); err != nil {
			return evicted, err
		}
		evicted++
	}
	c.logger.Debug("Cache sweep complete", "scanned", len(keys), "evicted", evicted)
	return evicted, nil
}

// Clear deletes entries of type t, or every cache entry when t is empty.
// Non-cache keys such as the usage ledger are untouched.
func (c *Cache) Clear(ctx context.Context, t Type) (int, error) {
	prefix := KeyPrefix
	if t != "" {
		prefix = KeyPrefix + string(t) + "_"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.backend.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		// "property_" would otherwise match "property_scout_".
		if t != "" && typeOfKey(key) != string(t) {
			continue
		}
		if err := c.backend.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Stats summarizes the cache contents.
type Stats struct {
	TotalEntries int            `json:"total_entries"`
	TotalSizeKB  int            `json:"total_size_kb"`
	ByType       map[string]int `json:"by_type"`
}

// Stats counts entries by type and their stored size.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys, err := c.backend.Keys(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	stats := &Stats{ByType: map[string]int{}}
	size := 0
	for _, key := range keys {
		data, err := c.backend.Get(ctx, key)
		if err != nil {
			continue
		}
		stats.TotalEntries++
		size += len(data)
		stats.ByType[typeOfKey(key)]++
	}
	stats.TotalSizeKB = int(math.Round(float64(size) / 1024))
	if c.observer != nil {
		c.observer.ObserveEntries(stats.TotalEntries)
	}
	return stats, nil
}

// Types present in s, sorted.
func (s *Stats) Types() []string {
	out := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
