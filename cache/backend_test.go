package cache

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// exerciseBackend runs the behavior every Backend shares.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	_, err := b.Get(ctx, "ps_cache_pluto_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := b.Put(ctx, "ps_cache_pluto_1", []byte("one"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.Put(ctx, "ps_cache_property_scout_2", []byte("two"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.Put(ctx, UsageKey, []byte("{}"))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := b.Get(ctx, "ps_cache_pluto_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	ok, err = b.Put(ctx, "ps_cache_pluto_1", []byte("uno"))
	require.NoError(t, err)
	require.True(t, ok)
	got, err = b.Get(ctx, "ps_cache_pluto_1")
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), got)

	keys, err := b.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{"ps_cache_pluto_1", "ps_cache_property_scout_2"}, keys)

	keys, err = b.Keys(ctx, "ps_cache_pluto_")
	require.NoError(t, err)
	assert.Equal(t, []string{"ps_cache_pluto_1"}, keys)

	require.NoError(t, b.Delete(ctx, "ps_cache_pluto_1"))
	require.NoError(t, b.Delete(ctx, "ps_cache_pluto_1"))
	_, err = b.Get(ctx, "ps_cache_pluto_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend(0))
}

func TestMemoryBackend_SizeLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(10)

	ok, err := m.Put(ctx, "k", []byte("123456789"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10, m.Size())

	ok, err = m.Put(ctx, "j", []byte("1"))
	require.NoError(t, err)
	assert.False(t, ok)

	// Replacing a value only counts the difference.
	ok, err = m.Put(ctx, "k", []byte("12345"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, m.Size())

	require.NoError(t, m.Delete(ctx, "k"))
	assert.Zero(t, m.Size())
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(0)
	v := []byte("abc")
	_, err := m.Put(ctx, "k", v)
	require.NoError(t, err)
	v[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[1] = 'y'

	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func openTestSQLite(t *testing.T, cfg SQLiteConfig) *SQLiteBackend {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "cache.db")
	}
	s, err := OpenSQLite(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteBackend(t *testing.T) {
	exerciseBackend(t, openTestSQLite(t, SQLiteConfig{}))
}

func TestSQLiteBackend_RequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestSQLiteBackend_CompressesLargeValues(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{CompressThreshold: 64})

	large := bytes.Repeat([]byte(`{"doc_type":"DEED"},`), 100)
	ok, err := s.Put(ctx, "ps_cache_acris_big", large)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Put(ctx, "ps_cache_acris_small", []byte("tiny"))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.Get(ctx, "ps_cache_acris_big")
	require.NoError(t, err)
	assert.Equal(t, large, got)

	conn, err := s.pool.Take(ctx)
	require.NoError(t, err)
	defer s.pool.Put(conn)

	stored := map[string]struct {
		encoding int64
		size     int
	}{}
	err = sqlitex.Execute(conn, "SELECT key, encoding, length(value) FROM entries", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			stored[stmt.ColumnText(0)] = struct {
				encoding int64
				size     int
			}{stmt.ColumnInt64(1), stmt.ColumnInt(2)}
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(encodingZstd), stored["ps_cache_acris_big"].encoding)
	assert.Less(t, stored["ps_cache_acris_big"].size, len(large))
	assert.Equal(t, int64(encodingRaw), stored["ps_cache_acris_small"].encoding)
}

func TestSQLiteBackend_ReportsFull(t *testing.T) {
	ctx := context.Background()
	s := openTestSQLite(t, SQLiteConfig{MaxPages: 16, CompressThreshold: -1, PoolSize: 1})

	full := false
	for i := 0; i < 64 && !full; i++ {
		value := make([]byte, 8192)
		_, err := rand.Read(value)
		require.NoError(t, err)

		ok, err := s.Put(ctx, fmt.Sprintf("ps_cache_acris_%02d", i), value)
		require.NoError(t, err, "a full database is not an error")
		full = !ok
	}
	assert.True(t, full, "expected max_page_count to be reached")

	// Space freed by deletes is reused.
	keys, err := s.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	require.NotEmpty(t, keys)
	for _, k := range keys {
		require.NoError(t, s.Delete(ctx, k))
	}
	ok, err := s.Put(ctx, "ps_cache_acris_after", []byte("small"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteBackend_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	_, err = s.Put(ctx, "propertyscout_api_key", []byte("secret"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTestSQLite(t, SQLiteConfig{Path: path})
	got, err := s.Get(ctx, "propertyscout_api_key")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
}

// fakeKV is an in-memory kvStore that enforces a byte limit the way a
// bounded JetStream bucket does.
type fakeKV struct {
	mu       sync.Mutex
	data     map[string][]byte
	maxBytes int
}

func newFakeKV(maxBytes int) *fakeKV {
	return &fakeKV{data: map[string][]byte{}, maxBytes: maxBytes}
}

func (f *fakeKV) get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *fakeKV) put(_ context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	size := len(value)
	for k, v := range f.data {
		if k != key {
			size += len(v)
		}
	}
	if f.maxBytes > 0 && size > f.maxBytes {
		return &jetstream.APIError{Code: 503, Description: "maximum bytes exceeded"}
	}
	f.data[key] = append([]byte(nil), value...)
	return nil
}

func (f *fakeKV) delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) keys(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.data))
	for k := range f.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func TestNATSBackend(t *testing.T) {
	exerciseBackend(t, &NATSBackend{kv: newFakeKV(0)})
}

func TestNATSBackend_KeysAreSubjectSafe(t *testing.T) {
	valid := regexp.MustCompile(`^[A-Za-z0-9_.=-]+$`)
	for _, key := range []string{
		Key(TypeGeocode, "350 5th Avenue, Manhattan"),
		Key(TypeTitleReport, "1 Main St. #4*"),
		UsageKey,
	} {
		k := natsKey(key)
		assert.Regexp(t, valid, k)
		assert.Equal(t, k, natsKey(key), "mapping is deterministic")
	}
	assert.NotEqual(t, natsKey("a"), natsKey("b"))
}

func TestNATSBackend_ForeignEntryReadsAsMissing(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV(0)
	n := &NATSBackend{kv: kv}

	data, err := json.Marshal(natsEnvelope{Key: "someone_else", Value: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, kv.put(ctx, natsKey("ps_cache_pluto_1"), data))

	_, err = n.Get(ctx, "ps_cache_pluto_1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNATSBackend_FullBucket(t *testing.T) {
	ctx := context.Background()
	n := &NATSBackend{kv: newFakeKV(200)}

	ok, err := n.Put(ctx, "ps_cache_pluto_1", []byte(strings.Repeat("a", 60)))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = n.Put(ctx, "ps_cache_pluto_2", []byte(strings.Repeat("b", 60)))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNATSBackend_CacheOverflowSweep(t *testing.T) {
	clock := newFakeClock(epoch)
	ctx := context.Background()
	n := &NATSBackend{kv: newFakeKV(300)}
	c := NewCache(n, DefaultTTL, clock.Now, nil)

	_, err := c.Set(ctx, TypeHPD, "old", strings.Repeat("a", 80))
	require.NoError(t, err)
	clock.Advance(DefaultTTL)
	_, err = c.Set(ctx, TypeHPD, "new", strings.Repeat("b", 80))
	require.NoError(t, err)

	keys, err := n.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{Key(TypeHPD, "new")}, keys)
}

func TestBucketErrorClassification(t *testing.T) {
	assert.True(t, isBucketFull(&jetstream.APIError{Description: "maximum bytes exceeded"}))
	assert.True(t, isBucketFull(fmt.Errorf("put: %w", errors.New("nats: maximum bytes exceeded"))))
	assert.False(t, isBucketFull(errors.New("nats: timeout")))

	assert.True(t, isNotFound(jetstream.ErrKeyNotFound))
	assert.True(t, isNotFound(errors.New("nats: key not found")))
	assert.False(t, isNotFound(nil))
}
