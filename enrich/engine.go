package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/normalize"
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/propertyscout"
	"github.com/c360studio/propscout/provider"
	"github.com/c360studio/propscout/soql"
)

// DefaultRezoningRadius is used when NearbyRezonings is given no radius.
const DefaultRezoningRadius = 500

const rezoningsLimit = 20

// Geocoder resolves addresses to tax lots.
type Geocoder interface {
	Resolve(ctx context.Context, text string) (*geosearch.Resolution, error)
	Autocomplete(ctx context.Context, text string) ([]geosearch.Suggestion, error)
	ResolveBBL(ctx context.Context, parcel bbl.BBL) (*geosearch.Coordinates, error)
}

// PropertyScout is the commercial property data API.
type PropertyScout interface {
	Search(ctx context.Context, address string) (propertyscout.Payload, error)
	ByAPN(ctx context.Context, apn, state, county string) (propertyscout.Payload, error)
	Owner(ctx context.Context, address string) (propertyscout.Payload, error)
	RapidInsights(ctx context.Context, address string) (propertyscout.Payload, error)
	SalesHistory(ctx context.Context, address string) (propertyscout.Payload, error)
	Liens(ctx context.Context, address string) (propertyscout.Payload, error)
	Mortgage(ctx context.Context, address string) (propertyscout.Payload, error)
	TitleReport(ctx context.Context, address string) (*propertyscout.TitleReport, error)
}

// ReportObserver is told how each enrichment ended: "complete", "degraded"
// or "failed".
type ReportObserver interface {
	ObserveReport(status string)
}

// Engine is the caller-facing surface. Every outbound request it makes goes
// through the cache layer.
type Engine struct {
	geo       Geocoder
	rows      Datasets
	ps        PropertyScout
	creds     *propertyscout.Credentials
	layer     *cache.Layer
	assembler *Assembler
	observer  ReportObserver
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger   *slog.Logger
	observer ReportObserver
	deadline time.Duration
	flood    bool
	insights bool
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithReportObserver reports the outcome of each enrichment.
func WithReportObserver(obs ReportObserver) Option {
	return func(o *engineOptions) { o.observer = obs }
}

// WithReportDeadline sets the shared deadline for one report.
func WithReportDeadline(d time.Duration) Option {
	return func(o *engineOptions) { o.deadline = d }
}

// WithoutFloodZone skips the flood hazard lookup.
func WithoutFloodZone() Option {
	return func(o *engineOptions) { o.flood = false }
}

// WithoutInsights leaves PropertyScout out of address reports even when a
// key is configured.
func WithoutInsights() Option {
	return func(o *engineOptions) { o.insights = false }
}

// NewEngine wires the providers to the cache layer. creds may be nil, in
// which case keys are persisted through layer.
func NewEngine(geo Geocoder, rows Datasets, ps PropertyScout, creds *propertyscout.Credentials, layer *cache.Layer, opts ...Option) *Engine {
	o := engineOptions{
		logger:   slog.Default(),
		deadline: DefaultDeadline,
		flood:    true,
		insights: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if creds == nil {
		creds = propertyscout.NewCredentials(layer, "")
	}

	e := &Engine{
		geo:      geo,
		rows:     rows,
		ps:       ps,
		creds:    creds,
		layer:    layer,
		observer: o.observer,
		logger:   o.logger,
	}
	aopts := []AssemblerOption{
		WithDeadline(o.deadline),
		WithFloodZone(o.flood),
		WithAssemblerLogger(o.logger),
	}
	if o.insights && ps != nil {
		aopts = append(aopts, WithInsights(e.reportInsights))
	}
	e.assembler = NewAssembler(rows, layer, aopts...)
	return e
}

// EnrichByAddress geocodes address and assembles the report for its lot.
func (e *Engine) EnrichByAddress(ctx context.Context, address string) (*property.Report, error) {
	address = strings.TrimSpace(address)
	logger := e.logger.With("request_id", uuid.NewString(), "address", address)
	start := time.Now()

	if address == "" {
		return nil, e.finish(logger, start, nil, provider.Errorf(provider.KindNotFound, geosearch.ProviderName, "empty address"))
	}

	res, err := cache.Fetch(ctx, e.layer, cache.TypeGeocode, address, func(ctx context.Context) (*geosearch.Resolution, error) {
		return e.geo.Resolve(ctx, address)
	})
	if err != nil {
		return nil, e.finish(logger, start, nil, fmt.Errorf("geocode: %w", err))
	}
	logger.Debug("Address resolved", "bbl", res.Value.BBL, "from_cache", res.FromCache)

	report, err := e.assembler.Assemble(ctx, res.Value.BBL, res.Value)
	return report, e.finish(logger, start, report, err)
}

// EnrichByBBL assembles the report for a known lot. The report address is
// taken from PLUTO.
func (e *Engine) EnrichByBBL(ctx context.Context, raw string) (*property.Report, error) {
	logger := e.logger.With("request_id", uuid.NewString(), "bbl", raw)
	start := time.Now()

	parcel, err := bbl.Parse(raw)
	if err != nil {
		return nil, e.finish(logger, start, nil, provider.NewError(provider.KindBadRequest, "", err))
	}
	report, err := e.assembler.Assemble(ctx, parcel, nil)
	return report, e.finish(logger, start, report, err)
}

func (e *Engine) finish(logger *slog.Logger, start time.Time, report *property.Report, err error) error {
	elapsed := time.Since(start)
	status := "complete"
	switch {
	case err != nil:
		status = "failed"
		logger.Warn("Enrichment failed", "error", err, "kind", provider.KindOf(err), "elapsed", elapsed)
	case report.Degraded():
		status = "degraded"
		logger.Info("Report assembled", "bbl", report.BBL, "status", status,
			"partial_failures", len(report.PartialFailures), "elapsed", elapsed)
	default:
		logger.Info("Report assembled", "bbl", report.BBL, "status", status, "elapsed", elapsed)
	}
	if e.observer != nil {
		e.observer.ObserveReport(status)
	}
	return err
}

// Autocomplete returns typeahead suggestions. Results are not cached but
// count as geocode calls.
func (e *Engine) Autocomplete(ctx context.Context, text string) ([]geosearch.Suggestion, error) {
	var out []geosearch.Suggestion
	err := e.layer.Uncached(ctx, string(cache.TypeGeocode), func(ctx context.Context) error {
		s, err := e.geo.Autocomplete(ctx, text)
		out = s
		return err
	})
	return out, err
}

// NearbyRezonings lists zoning map amendments within radiusMeters of a
// point, newest first. radiusMeters <= 0 uses DefaultRezoningRadius.
func (e *Engine) NearbyRezonings(ctx context.Context, lat, lng float64, radiusMeters int) ([]property.Rezoning, error) {
	if radiusMeters <= 0 {
		radiusMeters = DefaultRezoningRadius
	}
	id := fmt.Sprintf("%.6f,%.6f,%d", lat, lng, radiusMeters)
	res, err := cache.Fetch(ctx, e.layer, cache.TypeRezonings, id, func(ctx context.Context) ([]property.Rezoning, error) {
		rows, err := e.rows.Fetch(ctx, soql.DatasetZoningActions, soql.Params{
			Where: soql.WithinCircle("the_geom", lat, lng, radiusMeters),
			Order: "effective DESC",
			Limit: rezoningsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.Rezonings(rows), nil
	})
	return res.Value, err
}

// RezoningsNearBBL is NearbyRezonings centred on a lot's PLUTO coordinates.
func (e *Engine) RezoningsNearBBL(ctx context.Context, raw string, radiusMeters int) ([]property.Rezoning, error) {
	parcel, err := bbl.Parse(raw)
	if err != nil {
		return nil, provider.NewError(provider.KindBadRequest, "", err)
	}
	res, err := cache.Fetch(ctx, e.layer, cache.TypeLotCoordinates, parcel.String(), func(ctx context.Context) (*geosearch.Coordinates, error) {
		c, err := e.geo.ResolveBBL(ctx, parcel)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, provider.Errorf(provider.KindNotFound, soql.ProviderName, "no coordinates for %s", parcel)
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return e.NearbyRezonings(ctx, res.Value.Lat, res.Value.Lng, radiusMeters)
}

// DownloadTitleReport fetches the preliminary title report PDF. It is never
// cached and counts as one property_scout call.
func (e *Engine) DownloadTitleReport(ctx context.Context, address string) (*propertyscout.TitleReport, error) {
	if _, err := e.creds.APIKey(ctx); err != nil {
		return nil, err
	}
	var report *propertyscout.TitleReport
	err := e.layer.Uncached(ctx, string(cache.TypePropertyScout), func(ctx context.Context) error {
		r, err := e.ps.TitleReport(ctx, address)
		report = r
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("Title report downloaded", "address", address, "bytes", len(report.Data))
	return report, nil
}

// UsageSummary returns this month's call and cache-hit counts.
func (e *Engine) UsageSummary(ctx context.Context) (*cache.Summary, error) {
	return e.layer.UsageSummary(ctx)
}

// ClearCache removes cached entries of one type, or all entries when typ is
// empty. It returns the number removed.
func (e *Engine) ClearCache(ctx context.Context, typ string) (int, error) {
	var t cache.Type
	if typ != "" {
		var err error
		if t, err = cache.ParseType(typ); err != nil {
			return 0, provider.NewError(provider.KindBadRequest, "", err)
		}
	}
	n, err := e.layer.Clear(ctx, t)
	if err == nil {
		e.logger.Info("Cache cleared", "type", typ, "removed", n)
	}
	return n, err
}

// CacheStats reports entry counts and sizes.
func (e *Engine) CacheStats(ctx context.Context) (*cache.Stats, error) {
	return e.layer.Stats(ctx)
}

// SetPropertyScoutAPIKey persists key. A blank key is a BadRequest.
func (e *Engine) SetPropertyScoutAPIKey(ctx context.Context, key string) error {
	return e.creds.Set(ctx, key)
}

// ClearPropertyScoutAPIKey removes the persisted key.
func (e *Engine) ClearPropertyScoutAPIKey(ctx context.Context) error {
	return e.creds.Clear(ctx)
}

// HasPropertyScoutAPIKey reports whether a key is configured.
func (e *Engine) HasPropertyScoutAPIKey(ctx context.Context) bool {
	return e.creds.Has(ctx)
}

// PropertyScoutKeyVerified reports whether the key was accepted by the last
// authenticated call.
func (e *Engine) PropertyScoutKeyVerified() bool {
	return e.creds.Verified()
}

// reportInsights backs the report's propertyscout section. Without a key
// the section is simply omitted.
func (e *Engine) reportInsights(ctx context.Context, address string) (*property.RapidInsights, error) {
	if !e.creds.Has(ctx) {
		return nil, nil
	}
	return e.RapidInsights(ctx, address)
}

// scoutFetch runs one cached PropertyScout call. A missing key fails before
// the cache is consulted, so it is never counted.
func scoutFetch[T any](ctx context.Context, e *Engine, t cache.Type, id string,
	call func(context.Context) (propertyscout.Payload, error), norm func(map[string]any) T) (T, error) {
	var zero T
	if _, err := e.creds.APIKey(ctx); err != nil {
		return zero, err
	}
	res, err := cache.Fetch(ctx, e.layer, t, id, func(ctx context.Context) (T, error) {
		payload, err := call(ctx)
		if err != nil {
			return zero, err
		}
		return norm(payload), nil
	})
	return res.Value, err
}

func rawPayload(p map[string]any) propertyscout.Payload { return p }

// SearchProperty looks up an address in PropertyScout and returns the raw
// payload.
func (e *Engine) SearchProperty(ctx context.Context, address string) (propertyscout.Payload, error) {
	return scoutFetch(ctx, e, cache.TypePropertyScout, "search/"+address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.Search(ctx, address)
	}, rawPayload)
}

// PropertyByAPN looks up an assessor parcel number.
func (e *Engine) PropertyByAPN(ctx context.Context, apn, state, county string) (propertyscout.Payload, error) {
	id := strings.Join([]string{"apn", apn, state, county}, "/")
	return scoutFetch(ctx, e, cache.TypePropertyScout, id, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.ByAPN(ctx, apn, state, county)
	}, rawPayload)
}

// Owner returns ownership details for an address.
func (e *Engine) Owner(ctx context.Context, address string) (*property.OwnerDetails, error) {
	return scoutFetch(ctx, e, cache.TypeOwner, address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.Owner(ctx, address)
	}, normalize.Owner)
}

// RapidInsights returns the PropertyScout Rapid Insights report.
func (e *Engine) RapidInsights(ctx context.Context, address string) (*property.RapidInsights, error) {
	return scoutFetch(ctx, e, cache.TypePropertyScout, address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.RapidInsights(ctx, address)
	}, normalize.RapidInsights)
}

// SalesHistory returns recorded sales for an address.
func (e *Engine) SalesHistory(ctx context.Context, address string) (*property.SalesHistory, error) {
	return scoutFetch(ctx, e, cache.TypeSalesHistory, address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.SalesHistory(ctx, address)
	}, normalize.SalesHistory)
}

// Liens returns liens recorded against an address.
func (e *Engine) Liens(ctx context.Context, address string) (*property.Liens, error) {
	return scoutFetch(ctx, e, cache.TypeLiens, address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.Liens(ctx, address)
	}, normalize.Liens)
}

// Mortgage returns mortgage details for an address.
func (e *Engine) Mortgage(ctx context.Context, address string) (*property.MortgageSummary, error) {
	return scoutFetch(ctx, e, cache.TypeMortgage, address, func(ctx context.Context) (propertyscout.Payload, error) {
		return e.ps.Mortgage(ctx, address)
	}, normalize.Mortgage)
}

// AllPropertyScoutData runs the four per-address reports concurrently. A
// failed call leaves its member nil and is listed in Errors; only a missing
// key fails the whole call.
func (e *Engine) AllPropertyScoutData(ctx context.Context, address string) (*property.PropertyScoutBundle, error) {
	if _, err := e.creds.APIKey(ctx); err != nil {
		return nil, err
	}

	out := &property.PropertyScoutBundle{Errors: []property.PartialFailure{}}
	var mu sync.Mutex
	settle := func(name string, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		out.Errors = append(out.Errors, partialFailure(name, err))
	}

	var g errgroup.Group
	g.Go(func() (err error) {
		out.RapidInsights, err = e.RapidInsights(ctx, address)
		settle("rapid_insights", err)
		return nil
	})
	g.Go(func() (err error) {
		out.SalesHistory, err = e.SalesHistory(ctx, address)
		settle(string(cache.TypeSalesHistory), err)
		return nil
	})
	g.Go(func() (err error) {
		out.Liens, err = e.Liens(ctx, address)
		settle(string(cache.TypeLiens), err)
		return nil
	})
	g.Go(func() (err error) {
		out.Mortgage, err = e.Mortgage(ctx, address)
		settle(string(cache.TypeMortgage), err)
		return nil
	})
	_ = g.Wait()

	sort.Slice(out.Errors, func(i, j int) bool {
		return out.Errors[i].Component < out.Errors[j].Component
	})
	return out, nil
}
