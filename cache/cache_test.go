package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/propscout/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingLookups struct {
	mu      sync.Mutex
	results []string
	entries int
}

func (r *recordingLookups) ObserveLookup(cacheType, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, cacheType+":"+result)
}

func (r *recordingLookups) ObserveEntries(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = n
}

var epoch = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

type lot struct {
	BBL     string  `json:"bbl"`
	LotArea float64 `json:"lot_area"`
}

func counting(calls *atomic.Int32, v lot, err error) func(context.Context) (lot, error) {
	return func(context.Context) (lot, error) {
		calls.Add(1)
		return v, err
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ps_cache_geocode_123 main st, brooklyn", Key(TypeGeocode, "  123 Main St, Brooklyn "))
	assert.Equal(t, "ps_cache_pluto_1008350029", Key(TypePluto, "1008350029"))
}

func TestTypeOfKey(t *testing.T) {
	tests := map[string]string{
		"ps_cache_pluto_1008350029":     "pluto",
		"ps_cache_property_scout_1 a":   "property_scout",
		"ps_cache_sales_history_x":      "sales_history",
		"ps_cache_title_report_350 5th": "title_report",
		"ps_cache_legacy_thing":         "legacy",
	}
	for key, want := range tests {
		assert.Equal(t, want, typeOfKey(key), key)
	}
}

func TestParseType(t *testing.T) {
	got, err := ParseType("hpd")
	require.NoError(t, err)
	assert.Equal(t, TypeHPD, got)

	_, err = ParseType("nope")
	assert.Error(t, err)
}

func TestFetch_MissThenHit(t *testing.T) {
	clock := newFakeClock(epoch)
	obs := &recordingLookups{}
	layer := NewLayer(NewMemoryBackend(0), WithClock(clock.Now), WithObserver(obs))
	ctx := context.Background()

	var calls atomic.Int32
	want := lot{BBL: "1008350029", LotArea: 10000}

	first, err := Fetch(ctx, layer, TypePluto, "1008350029", counting(&calls, want, nil))
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, want, first.Value)
	assert.Equal(t, epoch, first.StoredAt.UTC())

	clock.Advance(time.Hour)
	second, err := Fetch(ctx, layer, TypePluto, "1008350029", counting(&calls, lot{}, nil))
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, want, second.Value)
	assert.Equal(t, first.StoredAt, second.StoredAt)
	assert.Equal(t, int32(1), calls.Load(), "a hit must not call the provider")

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalCalls)
	assert.Equal(t, 1, summary.CacheHits)
	assert.Equal(t, 50, summary.SavingsPercent)
	assert.Equal(t, Counts{Calls: 1, Cached: 1}, summary.ByEndpoint["pluto"])

	assert.Equal(t, []string{"pluto:miss", "pluto:hit"}, obs.results)
}

func TestFetch_IdentifierIsCaseInsensitive(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := Fetch(ctx, layer, TypeGeocode, "123 Main St, Brooklyn", counting(&calls, lot{BBL: "3"}, nil))
	require.NoError(t, err)
	res, err := Fetch(ctx, layer, TypeGeocode, " 123 MAIN ST, BROOKLYN", counting(&calls, lot{}, nil))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_FailureIsCountedButNotCached(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()
	var calls atomic.Int32
	boom := provider.NewError(provider.KindProviderUnavailable, "socrata", errors.New("503"))

	for i := 0; i < 2; i++ {
		_, err := Fetch(ctx, layer, TypeHPD, "1008350029", counting(&calls, lot{}, boom))
		require.Error(t, err)
		assert.True(t, provider.IsKind(err, provider.KindProviderUnavailable))
	}
	assert.Equal(t, int32(2), calls.Load())

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalCalls)
	assert.Zero(t, summary.CacheHits)

	stats, err := layer.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}

func TestFetch_StaleEntryIsRefetched(t *testing.T) {
	clock := newFakeClock(epoch)
	obs := &recordingLookups{}
	layer := NewLayer(NewMemoryBackend(0), WithClock(clock.Now), WithObserver(obs))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := Fetch(ctx, layer, TypeACRIS, "1008350029", counting(&calls, lot{LotArea: 1}, nil))
	require.NoError(t, err)

	clock.Advance(DefaultTTL - time.Millisecond)
	res, err := Fetch(ctx, layer, TypeACRIS, "1008350029", counting(&calls, lot{LotArea: 2}, nil))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1.0, res.Value.LotArea)

	clock.Advance(time.Millisecond)
	res, err = Fetch(ctx, layer, TypeACRIS, "1008350029", counting(&calls, lot{LotArea: 3}, nil))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, 3.0, res.Value.LotArea)
	assert.Equal(t, int32(2), calls.Load())
	assert.Contains(t, obs.results, "acris:stale")
}

func TestFetch_NilValueNotCached(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()
	var calls atomic.Int32
	fn := func(context.Context) (*lot, error) {
		calls.Add(1)
		return nil, nil
	}

	for i := 0; i < 2; i++ {
		res, err := Fetch(ctx, layer, TypeFlood, "1008350029", fn)
		require.NoError(t, err)
		assert.Nil(t, res.Value)
		assert.False(t, res.FromCache)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetch_StoresAfterCancellation(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	_, err := Fetch(ctx, layer, TypePermits, "1008350029", func(context.Context) (lot, error) {
		calls.Add(1)
		cancel()
		return lot{BBL: "orphan"}, nil
	})
	require.NoError(t, err)

	res, err := Fetch(context.Background(), layer, TypePermits, "1008350029", counting(&calls, lot{}, nil))
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, "orphan", res.Value.BBL)
}

func TestFetch_UndecodableEntryIsRefetched(t *testing.T) {
	backend := NewMemoryBackend(0)
	layer := NewLayer(backend)
	ctx := context.Background()

	_, err := backend.Put(ctx, Key(TypeDOB, "x"), []byte("{not json"))
	require.NoError(t, err)

	var calls atomic.Int32
	res, err := Fetch(ctx, layer, TypeDOB, "x", counting(&calls, lot{BBL: "fresh"}, nil))
	require.NoError(t, err)
	assert.False(t, res.FromCache)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_ConcurrentCallersKeepLedgerConsistent(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := Fetch(ctx, layer, TypeECB, fmt.Sprintf("%d", i%4), counting(&calls, lot{BBL: "x"}, nil))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, summary.TotalCalls+summary.CacheHits)
	assert.Equal(t, int(calls.Load()), summary.TotalCalls)
}

func TestCache_OverflowSweepsExpiredAndRetries(t *testing.T) {
	clock := newFakeClock(epoch)
	value := strings.Repeat("a", 100)
	ctx := context.Background()

	// Room for one entry but not two.
	backend := NewMemoryBackend(250)
	c := NewCache(backend, DefaultTTL, clock.Now, nil)

	_, err := c.Set(ctx, TypePluto, "old", value)
	require.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	_, err = c.Set(ctx, TypePluto, "new", value)
	require.NoError(t, err)

	keys, err := backend.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{Key(TypePluto, "new")}, keys)

	_, _, ok, err := c.Get(ctx, TypePluto, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCache_OverflowDropsSilentlyWhenNothingExpired(t *testing.T) {
	clock := newFakeClock(epoch)
	value := strings.Repeat("a", 100)
	ctx := context.Background()

	backend := NewMemoryBackend(250)
	c := NewCache(backend, DefaultTTL, clock.Now, nil)

	_, err := c.Set(ctx, TypePluto, "first", value)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = c.Set(ctx, TypePluto, "second", value)
	require.NoError(t, err, "a dropped write is not an error")

	_, _, ok, err := c.Get(ctx, TypePluto, "second")
	require.NoError(t, err)
	assert.False(t, ok)

	raw, _, ok, err := c.Get(ctx, TypePluto, "first")
	require.NoError(t, err)
	assert.True(t, ok)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, value, got)
}

func TestCache_SweepRemovesCorruptEntries(t *testing.T) {
	clock := newFakeClock(epoch)
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	c := NewCache(backend, DefaultTTL, clock.Now, nil)

	_, err := backend.Put(ctx, KeyPrefix+"pluto_bad", []byte("garbage"))
	require.NoError(t, err)
	_, err = c.Set(ctx, TypePluto, "good", "v")
	require.NoError(t, err)

	n, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	keys, err := backend.Keys(ctx, KeyPrefix)
	require.NoError(t, err)
	assert.Equal(t, []string{Key(TypePluto, "good")}, keys)
}

// interleavingBackend runs afterGet once, right after the first read of key.
type interleavingBackend struct {
	*MemoryBackend
	key      string
	afterGet func()
	once     sync.Once
}

func (b *interleavingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.MemoryBackend.Get(ctx, key)
	if key == b.key {
		b.once.Do(b.afterGet)
	}
	return data, err
}

func TestCache_StaleDeleteKeepsConcurrentWrite(t *testing.T) {
	clock := newFakeClock(epoch)
	ctx := context.Background()
	key := Key(TypePluto, "a")
	backend := &interleavingBackend{MemoryBackend: NewMemoryBackend(0), key: key}
	c := NewCache(backend, DefaultTTL, clock.Now, nil)

	_, err := c.Set(ctx, TypePluto, "a", "old")
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)

	// A writer lands between the stale read and the delete.
	backend.afterGet = func() {
		fresh, err := json.Marshal(envelope{Data: json.RawMessage(`"new"`), Timestamp: clock.Now().UnixMilli()})
		require.NoError(t, err)
		_, err = backend.MemoryBackend.Put(ctx, key, fresh)
		require.NoError(t, err)
	}

	_, _, ok, err := c.Get(ctx, TypePluto, "a")
	require.NoError(t, err)
	assert.False(t, ok, "the read itself saw a stale entry")

	raw, _, ok, err := c.Get(ctx, TypePluto, "a")
	require.NoError(t, err)
	require.True(t, ok, "the fresh write was not deleted")
	assert.JSONEq(t, `"new"`, string(raw))
}

func TestQuota_EnforcedWhenStoreIsFull(t *testing.T) {
	clock := newFakeClock(epoch)
	ctx := context.Background()
	backend := NewMemoryBackend(1200)
	layer := NewLayer(backend, WithClock(clock.Now), WithQuota(Quota{MonthlyLimit: 3}))

	// One fresh entry leaves no room for the usage ledger.
	_, err := layer.Cache().Set(ctx, TypeZoning, "filler", strings.Repeat("a", 1100))
	require.NoError(t, err)

	var calls atomic.Int32
	var refused int
	for i := 0; i < 10; i++ {
		_, err := Fetch(ctx, layer, TypePluto, fmt.Sprintf("lot-%d", i), counting(&calls, lot{BBL: "x"}, nil))
		if err != nil {
			assert.True(t, provider.IsKind(err, provider.KindQuotaExceeded), "got %v", err)
			refused++
		}
	}
	assert.LessOrEqual(t, int(calls.Load()), 3, "calls beyond the budget reached the network")
	assert.Equal(t, 10-int(calls.Load()), refused)

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int(calls.Load()), summary.TotalCalls, "every call made is counted")

	// Once there is room again the pending count is written and calls resume.
	_, err = layer.Clear(ctx, TypeZoning)
	require.NoError(t, err)
	made := calls.Load()
	_, err = Fetch(ctx, layer, TypePluto, "after", counting(&calls, lot{BBL: "x"}, nil))
	require.NoError(t, err)
	assert.Equal(t, made+1, calls.Load())

	data, err := backend.Get(ctx, UsageKey)
	require.NoError(t, err)
	var u Usage
	require.NoError(t, json.Unmarshal(data, &u))
	assert.Equal(t, int(made)+1, u.TotalCalls)
}

func TestLedger_FullStoreSweepsExpiredAndRetries(t *testing.T) {
	clock := newFakeClock(epoch)
	ctx := context.Background()
	backend := NewMemoryBackend(1200)
	layer := NewLayer(backend, WithClock(clock.Now))

	_, err := layer.Cache().Set(ctx, TypeZoning, "filler", strings.Repeat("a", 1100))
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)

	require.NoError(t, layer.Ledger().Record(ctx, "pluto", false))
	_, err = backend.Get(ctx, UsageKey)
	require.NoError(t, err, "expired entries made room for the ledger")
	assert.NoError(t, layer.Ledger().Flush(ctx))
}

func TestLayer_ClearByType(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()
	var calls atomic.Int32

	for _, typ := range []Type{TypePluto, TypePropertyScout, TypeHPD} {
		_, err := Fetch(ctx, layer, typ, "1008350029", counting(&calls, lot{BBL: "x"}, nil))
		require.NoError(t, err)
	}

	n, err := layer.Clear(ctx, TypePropertyScout)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := layer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"pluto": 1, "hpd": 1}, stats.ByType)

	n, err = layer.Clear(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// The ledger survives a full clear.
	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TotalCalls)
}

func TestLayer_Stats(t *testing.T) {
	obs := &recordingLookups{}
	layer := NewLayer(NewMemoryBackend(0), WithObserver(obs))
	ctx := context.Background()
	var calls atomic.Int32

	big := lot{BBL: strings.Repeat("9", 3000)}
	for _, id := range []string{"a", "b"} {
		_, err := Fetch(ctx, layer, TypePropertyScout, id, counting(&calls, big, nil))
		require.NoError(t, err)
	}
	_, err := Fetch(ctx, layer, TypeGeocode, "c", counting(&calls, lot{}, nil))
	require.NoError(t, err)

	stats, err := layer.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, map[string]int{"property_scout": 2, "geocode": 1}, stats.ByType)
	assert.Equal(t, []string{"geocode", "property_scout"}, stats.Types())
	assert.InDelta(t, 6, stats.TotalSizeKB, 1)
	assert.Equal(t, 3, obs.entries)
}

func TestLedger_Rollover(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend(0)
	_, err := backend.Put(ctx, UsageKey, []byte(`{"month":"2024-01","total_calls":42,"cache_hits":7}`))
	require.NoError(t, err)

	clock := newFakeClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	layer := NewLayer(backend, WithClock(clock.Now))

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "February 2024", summary.Month)
	assert.Zero(t, summary.TotalCalls)
	assert.Zero(t, summary.CacheHits)
	assert.Zero(t, summary.SavingsPercent)
	assert.Empty(t, summary.ByEndpoint)
}

func TestLedger_SumsMatchDailyBreakdown(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(epoch)
	ledger := NewLedger(NewMemoryBackend(0), clock.Now, nil)

	endpoints := []string{"pluto", "hpd", "geocode"}
	for i := 0; i < 30; i++ {
		require.NoError(t, ledger.Record(ctx, endpoints[i%3], i%4 == 0))
		if i%7 == 6 {
			clock.Advance(24 * time.Hour)
		}

		u, err := ledger.Usage(ctx)
		require.NoError(t, err)
		sum := 0
		for _, c := range u.ByDate {
			sum += c.Calls + c.Cached
		}
		require.Equal(t, u.TotalCalls+u.CacheHits, sum)
	}

	summary, err := ledger.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "March 2024", summary.Month)
	assert.Equal(t, 30, summary.TotalCalls+summary.CacheHits)
	assert.Equal(t, 2, summary.TodayCalls+summary.TodayCached)
}

func TestLedger_Reset(t *testing.T) {
	ctx := context.Background()
	ledger := NewLedger(NewMemoryBackend(0), nil, nil)
	require.NoError(t, ledger.Record(ctx, "pluto", false))
	require.NoError(t, ledger.Reset(ctx))

	u, err := ledger.Usage(ctx)
	require.NoError(t, err)
	assert.Zero(t, u.TotalCalls)
}

func TestSavingsPercent(t *testing.T) {
	assert.Equal(t, 0, savingsPercent(0, 0))
	assert.Equal(t, 50, savingsPercent(9, 9))
	assert.Equal(t, 67, savingsPercent(1, 2))
	assert.Equal(t, 100, savingsPercent(0, 5))
}

func TestQuota_MonthlyLimit(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0), WithQuota(Quota{MonthlyLimit: 1}))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := Fetch(ctx, layer, TypePluto, "a", counting(&calls, lot{BBL: "a"}, nil))
	require.NoError(t, err)

	_, err = Fetch(ctx, layer, TypePluto, "b", counting(&calls, lot{BBL: "b"}, nil))
	require.Error(t, err)
	assert.True(t, provider.IsKind(err, provider.KindQuotaExceeded))
	assert.Equal(t, int32(1), calls.Load(), "no call once the budget is spent")

	res, err := Fetch(ctx, layer, TypePluto, "a", counting(&calls, lot{}, nil))
	require.NoError(t, err, "cache hits are always served")
	assert.True(t, res.FromCache)
}

func TestQuota_EndpointLimit(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0), WithQuota(Quota{Limits: map[string]int{"property_scout": 1}}))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := Fetch(ctx, layer, TypePropertyScout, "a", counting(&calls, lot{}, nil))
	require.NoError(t, err)

	err = layer.Uncached(ctx, string(TypePropertyScout), func(context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.True(t, provider.IsKind(err, provider.KindQuotaExceeded))

	_, err = Fetch(ctx, layer, TypeHPD, "a", counting(&calls, lot{}, nil))
	require.NoError(t, err, "other endpoints are unaffected")
	assert.Equal(t, int32(2), calls.Load())

	layer.SetQuota(Quota{})
	require.NoError(t, layer.Uncached(ctx, string(TypePropertyScout), func(context.Context) error { return nil }))
}

func TestUncached_RecordsOneCall(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()

	err := layer.Uncached(ctx, "property_scout", func(context.Context) error {
		return provider.NewError(provider.KindProviderUnavailable, "propertyscout", nil)
	})
	require.Error(t, err)

	summary, err := layer.UsageSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Calls: 1}, summary.ByEndpoint["property_scout"])

	stats, err := layer.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}

func TestLayer_Secrets(t *testing.T) {
	layer := NewLayer(NewMemoryBackend(0))
	ctx := context.Background()

	got, err := layer.LoadSecret(ctx, "propertyscout_api_key")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, layer.StoreSecret(ctx, "propertyscout_api_key", "ps_live_123"))
	got, err = layer.LoadSecret(ctx, "propertyscout_api_key")
	require.NoError(t, err)
	assert.Equal(t, "ps_live_123", got)

	require.NoError(t, layer.StoreSecret(ctx, "propertyscout_api_key", ""))
	got, err = layer.LoadSecret(ctx, "propertyscout_api_key")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Error(t, layer.StoreSecret(ctx, UsageKey, "x"))
	assert.Error(t, layer.StoreSecret(ctx, Key(TypePluto, "x"), "x"))
}
