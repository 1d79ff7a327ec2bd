package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// UsageKey is the backend key holding the usage ledger.
const UsageKey = "propertyscout_usage"

// ErrLedgerFull is returned when an update does not fit in the backend even
// after expired entries are swept.
var ErrLedgerFull = errors.New("usage ledger not saved: store full")

// Counts pairs real calls with cache hits.
type Counts struct {
	Calls  int `json:"calls"`
	Cached int `json:"cached"`
}

// Usage is one calendar month of API activity.
type Usage struct {
	Month      string            `json:"month"`
	MonthName  string            `json:"month_name"`
	TotalCalls int               `json:"total_calls"`
	CacheHits  int               `json:"cache_hits"`
	ByEndpoint map[string]Counts `json:"by_endpoint"`
	ByDate     map[string]Counts `json:"by_date"`
	LastReset  time.Time         `json:"last_reset"`
}

// Summary is the caller-facing view of the current month.
type Summary struct {
	Month          string            `json:"month"`
	TotalCalls     int               `json:"total_calls"`
	CacheHits      int               `json:"cache_hits"`
	TodayCalls     int               `json:"today_calls"`
	TodayCached    int               `json:"today_cached"`
	SavingsPercent int               `json:"savings_percent"`
	ByEndpoint     map[string]Counts `json:"by_endpoint"`
}

func newUsage(now time.Time) *Usage {
	return &Usage{
		Month:      now.Format("2006-01"),
		MonthName:  now.Format("January 2006"),
		ByEndpoint: map[string]Counts{},
		ByDate:     map[string]Counts{},
		LastReset:  now,
	}
}

func (u *Usage) clone() *Usage {
	c := *u
	c.ByEndpoint = make(map[string]Counts, len(u.ByEndpoint))
	for k, v := range u.ByEndpoint {
		c.ByEndpoint[k] = v
	}
	c.ByDate = make(map[string]Counts, len(u.ByDate))
	for k, v := range u.ByDate {
		c.ByDate[k] = v
	}
	return &c
}

// Ledger counts calls and cache hits per month, endpoint and day. Every
// update is a read-modify-write of the persisted ledger under one mutex.
//
// An update the backend has no room for is kept in memory and takes
// precedence over the stored copy until a later write succeeds.
type Ledger struct {
	backend Backend
	now     func() time.Time
	logger  *slog.Logger
	// sweep frees space before a failed write is retried.
	sweep func(context.Context) (int, error)

	mu      sync.Mutex
	unsaved *Usage
}

// NewLedger stores its state in backend under UsageKey.
func NewLedger(backend Backend, now func() time.Time, logger *slog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{backend: backend, now: now, logger: logger}
}

// load returns the ledger for the current month. A ledger from an earlier
// month, or one that cannot be read, is replaced by an empty one.
func (l *Ledger) load(ctx context.Context) (*Usage, error) {
	now := l.now()
	if l.unsaved != nil {
		if l.unsaved.Month == now.Format("2006-01") {
			return l.unsaved.clone(), nil
		}
		l.unsaved = nil
	}
	data, err := l.backend.Get(ctx, UsageKey)
	if errors.Is(err, ErrNotFound) {
		return newUsage(now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	var u Usage
	if err := json.Unmarshal(data, &u); err != nil {
		l.logger.Warn("Discarding unreadable usage ledger", "error", err)
		return newUsage(now), nil
	}
	if u.Month != now.Format("2006-01") {
		l.logger.Info("Usage ledger rolled over", "previous_month", u.Month, "previous_calls", u.TotalCalls)
		return newUsage(now), nil
	}
	if u.ByEndpoint == nil {
		u.ByEndpoint = map[string]Counts{}
	}
	if u.ByDate == nil {
		u.ByDate = map[string]Counts{}
	}
	if u.MonthName == "" {
		u.MonthName = now.Format("January 2006")
	}
	return &u, nil
}

func (l *Ledger) save(ctx context.Context, u *Usage) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	ok, err := l.backend.Put(ctx, UsageKey, data)
	if err == nil && !ok && l.sweep != nil {
		if _, serr := l.sweep(ctx); serr != nil {
			l.logger.Warn("Cache sweep failed", "error", serr)
		}
		ok, err = l.backend.Put(ctx, UsageKey, data)
	}
	if err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	if !ok {
		l.unsaved = u
		return ErrLedgerFull
	}
	l.unsaved = nil
	return nil
}

// Flush retries writing an update that previously did not fit. It returns
// ErrLedgerFull while the backend still has no room.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsaved == nil {
		return nil
	}
	if l.unsaved.Month != l.now().Format("2006-01") {
		l.unsaved = nil
		return nil
	}
	return l.save(ctx, l.unsaved)
}

// Record counts one call, or one cache hit when cached is true, against
// endpoint.
func (l *Ledger) Record(ctx context.Context, endpoint string, cached bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.load(ctx)
	if err != nil {
		return err
	}
	today := l.now().Format("2006-01-02")
	ep := u.ByEndpoint[endpoint]
	day := u.ByDate[today]
	if cached {
		u.CacheHits++
		ep.Cached++
		day.Cached++
	} else {
		u.TotalCalls++
		ep.Calls++
		day.Calls++
	}
	u.ByEndpoint[endpoint] = ep
	u.ByDate[today] = day
	return l.save(ctx, u)
}

// Usage returns a copy of the current month's ledger.
func (l *Ledger) Usage(ctx context.Context) (*Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load(ctx)
}

// Summary reports the current month's totals.
func (l *Ledger) Summary(ctx context.Context) (*Summary, error) {
	u, err := l.Usage(ctx)
	if err != nil {
		return nil, err
	}
	today := u.ByDate[l.now().Format("2006-01-02")]
	return &Summary{
		Month:          u.MonthName,
		TotalCalls:     u.TotalCalls,
		CacheHits:      u.CacheHits,
		TodayCalls:     today.Calls,
		TodayCached:    today.Cached,
		SavingsPercent: savingsPercent(u.TotalCalls, u.CacheHits),
		ByEndpoint:     u.ByEndpoint,
	}, nil
}

// Reset discards the ledger.
func (l *Ledger) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsaved = nil
	return l.backend.Delete(ctx, UsageKey)
}

func savingsPercent(calls, hits int) int {
	if calls+hits == 0 {
		return 0
	}
	return int(math.Round(100 * float64(hits) / float64(calls+hits)))
}
