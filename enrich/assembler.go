// Package enrich assembles Property Reports from the NYC open datasets and
// exposes the operations callers use: enrichment by address or BBL, title
// report download, PropertyScout lookups, and cache and usage management.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/normalize"
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/provider"
	"github.com/c360studio/propscout/soql"
)

// DefaultDeadline bounds the whole fan-out for one report.
const DefaultDeadline = 12 * time.Second

// Sub-report names used in partial failures.
const (
	ComponentPluto         = "pluto"
	ComponentZoning        = "zoning"
	ComponentACRIS         = "acris"
	ComponentHPD           = "hpd"
	ComponentDOB           = "dob"
	ComponentECB           = "ecb"
	ComponentPermits       = "permits"
	ComponentActions       = "actions"
	ComponentPropertyScout = "propertyscout"
)

// Query limits per dataset.
const (
	acrisBatchSize  = 20
	violationsLimit = 100
	permitsLimit    = 50
	actionsLimit    = 10
)

// Datasets is the subset of soql.Client the assembler queries.
type Datasets interface {
	Fetch(ctx context.Context, dataset string, p soql.Params) ([]soql.Row, error)
}

// InsightsFunc fetches PropertyScout Rapid Insights for an address. It
// returns nil without error when no credential is configured.
type InsightsFunc func(ctx context.Context, address string) (*property.RapidInsights, error)

// Assembler builds reports by querying every dataset for a lot concurrently.
type Assembler struct {
	rows     Datasets
	layer    *cache.Layer
	deadline time.Duration
	flood    bool
	insights InsightsFunc
	logger   *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithDeadline sets the shared deadline for one report.
func WithDeadline(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if d > 0 {
			a.deadline = d
		}
	}
}

// WithFloodZone toggles the flood hazard lookup.
func WithFloodZone(enabled bool) AssemblerOption {
	return func(a *Assembler) { a.flood = enabled }
}

// WithInsights adds a PropertyScout sub-fetch to reports built for an
// address.
func WithInsights(fn InsightsFunc) AssemblerOption {
	return func(a *Assembler) { a.insights = fn }
}

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(logger *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = logger }
}

// NewAssembler creates an assembler reading rows through layer.
func NewAssembler(rows Datasets, layer *cache.Layer, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		rows:     rows,
		layer:    layer,
		deadline: DefaultDeadline,
		flood:    true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// parts collects sub-reports as goroutines finish. Each field is written by
// exactly one goroutine.
type parts struct {
	pluto   cache.Result[*property.Pluto]
	lot     *property.ZoningTaxLot
	acris   *property.ACRIS
	hpd     *property.HPDViolations
	dob     *property.DOBViolations
	ecb     *property.ECBViolations
	permits *property.Permits
	actions *property.Actions
	flood   string
	ps      *property.RapidInsights

	mu       sync.Mutex
	failures []property.PartialFailure
}

func (p *parts) fail(component string, err error) {
	p.mu.Lock()
	p.failures = append(p.failures, partialFailure(component, err))
	p.mu.Unlock()
}

// partialFailure describes err for a report. Unclassified errors, such as an
// expired deadline, are reported as ProviderUnavailable.
func partialFailure(component string, err error) property.PartialFailure {
	kind := provider.KindOf(err)
	if kind == "" {
		kind = provider.KindProviderUnavailable
	}
	return property.PartialFailure{
		Component: component,
		ErrorKind: string(kind),
		Message:   err.Error(),
	}
}

// Assemble builds the report for parcel. addr is attached as the report's
// address; when nil one is derived from PLUTO. A missing PLUTO record fails
// the whole report with NotFound. Any other failed sub-fetch leaves its
// sub-report nil and is listed in PartialFailures.
//
// Cancelling ctx returns immediately; fetches still in flight are abandoned
// and whatever they complete is cached.
func (a *Assembler) Assemble(ctx context.Context, parcel bbl.BBL, addr *geosearch.Resolution) (*property.Report, error) {
	if !parcel.Valid() {
		return nil, provider.Errorf(provider.KindBadRequest, "", "%w: %q", bbl.ErrInvalid, parcel)
	}

	dctx, cancel := context.WithTimeout(ctx, a.deadline)
	p := &parts{}
	g, gctx := errgroup.WithContext(dctx)

	g.Go(func() error {
		res, err := a.fetchPluto(gctx, parcel)
		if err != nil {
			return err
		}
		p.pluto = res
		return nil
	})
	a.spawn(gctx, g, p, ComponentZoning, func(ctx context.Context) (err error) {
		p.lot, err = a.fetchZoningTaxLot(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentACRIS, func(ctx context.Context) (err error) {
		p.acris, err = a.fetchACRIS(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentHPD, func(ctx context.Context) (err error) {
		p.hpd, err = a.fetchHPD(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentDOB, func(ctx context.Context) (err error) {
		p.dob, err = a.fetchDOB(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentECB, func(ctx context.Context) (err error) {
		p.ecb, err = a.fetchECB(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentPermits, func(ctx context.Context) (err error) {
		p.permits, err = a.fetchPermits(ctx, parcel)
		return err
	})
	a.spawn(gctx, g, p, ComponentActions, func(ctx context.Context) (err error) {
		p.actions, err = a.fetchActions(ctx, parcel)
		return err
	})
	if a.flood {
		g.Go(func() error {
			zone, err := a.fetchFloodZone(gctx, parcel)
			if err != nil {
				a.logger.Warn("Flood zone lookup failed", "bbl", parcel, "error", err)
				return nil
			}
			p.flood = zone
			return nil
		})
	}
	if a.insights != nil && addr != nil && addr.FormattedAddress != "" {
		a.spawn(gctx, g, p, ComponentPropertyScout, func(ctx context.Context) (err error) {
			p.ps, err = a.insights(ctx, addr.FormattedAddress)
			return err
		})
	}

	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- g.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return a.build(parcel, addr, p), nil
}

// spawn runs fn as a non-fatal sub-fetch: its error is recorded against
// component and never cancels its siblings.
func (a *Assembler) spawn(ctx context.Context, g *errgroup.Group, p *parts, component string, fn func(context.Context) error) {
	g.Go(func() error {
		if err := fn(ctx); err != nil {
			a.logger.Warn("Sub-report unavailable", "component", component, "error", err)
			p.fail(component, err)
		}
		return nil
	})
}

func (a *Assembler) build(parcel bbl.BBL, addr *geosearch.Resolution, p *parts) *property.Report {
	pl := p.pluto.Value
	if addr == nil {
		addr = plutoResolution(parcel, pl)
	}

	var zoning *property.Zoning
	if pl.Zoning != nil {
		z := *pl.Zoning
		zoning = &z
	}
	env := pl.Environmental
	if env != nil && p.flood != "" {
		e := *env
		e.FloodZone = p.flood
		env = &e
	}

	sort.Slice(p.failures, func(i, j int) bool {
		return p.failures[i].Component < p.failures[j].Component
	})

	return &property.Report{
		BBL:             parcel,
		Address:         addr,
		ZolaLink:        parcel.ZolaLink(),
		AsOf:            p.pluto.StoredAt.UTC().Truncate(time.Millisecond),
		Zoning:          normalize.MergeZoning(zoning, p.lot, parcel),
		FAR:             pl.FAR,
		LandUse:         pl.LandUse,
		Building:        pl.Building,
		Tax:             pl.Tax,
		Environmental:   env,
		Community:       pl.Community,
		Actions:         p.actions,
		ACRIS:           p.acris,
		Violations:      normalize.Violations(p.hpd, p.dob, p.ecb),
		Permits:         p.permits,
		PropertyScout:   p.ps,
		PartialFailures: p.failures,
	}
}

func plutoResolution(parcel bbl.BBL, pl *property.Pluto) *geosearch.Resolution {
	r := &geosearch.Resolution{
		FormattedAddress: pl.Address,
		BBL:              parcel,
		Borough:          parcel.BoroughName(),
		Block:            strconv.Itoa(parcel.Block()),
		Lot:              strconv.Itoa(parcel.Lot()),
	}
	if pl.Coordinates != nil {
		r.Coordinates = *pl.Coordinates
	}
	return r
}

func (a *Assembler) fetchPluto(ctx context.Context, parcel bbl.BBL) (cache.Result[*property.Pluto], error) {
	return cache.Fetch(ctx, a.layer, cache.TypePluto, parcel.String(), func(ctx context.Context) (*property.Pluto, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetPLUTO, soql.Params{
			Equals: map[string]string{"bbl": parcel.String()},
			Limit:  1,
		})
		if err != nil {
			return nil, err
		}
		pl := normalize.Pluto(parcel, rows)
		if pl == nil {
			return nil, provider.Errorf(provider.KindNotFound, soql.ProviderName, "no PLUTO record for %s", parcel)
		}
		return pl, nil
	})
}

func (a *Assembler) fetchZoningTaxLot(ctx context.Context, parcel bbl.BBL) (*property.ZoningTaxLot, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeZoning, parcel.String(), func(ctx context.Context) (*property.ZoningTaxLot, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetZoningTaxLot, soql.Params{
			Equals: map[string]string{"bbl": parcel.String()},
			Limit:  1,
		})
		if err != nil {
			return nil, err
		}
		return normalize.ZoningTaxLot(rows), nil
	})
	return res.Value, err
}

// fetchACRIS runs the two-phase lookup: document ids from Legals, then the
// Master records for those ids in batches.
func (a *Assembler) fetchACRIS(ctx context.Context, parcel bbl.BBL) (*property.ACRIS, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeACRIS, parcel.String(), func(ctx context.Context) (*property.ACRIS, error) {
		legals, err := a.rows.Fetch(ctx, soql.DatasetACRISLegals, soql.Params{
			Equals: map[string]string{
				"borough": strconv.Itoa(parcel.Borough()),
				"block":   strconv.Itoa(parcel.Block()),
				"lot":     strconv.Itoa(parcel.Lot()),
			},
			Order: "document_id DESC",
			Limit: 2 * normalize.MaxACRISDocuments,
		})
		if err != nil {
			return nil, fmt.Errorf("acris legals: %w", err)
		}
		ids := normalize.LegalDocumentIDs(legals, normalize.MaxACRISDocuments)
		if len(ids) == 0 {
			return property.NewACRIS(nil), nil
		}

		batches := make([][]soql.Row, (len(ids)+acrisBatchSize-1)/acrisBatchSize)
		g, gctx := errgroup.WithContext(ctx)
		for i := range batches {
			batch := ids[i*acrisBatchSize : min((i+1)*acrisBatchSize, len(ids))]
			g.Go(func() error {
				rows, err := a.rows.Fetch(gctx, soql.DatasetACRISMaster, soql.Params{
					Where: soql.In("document_id", batch),
					Order: "recorded_datetime DESC",
					Limit: len(batch),
				})
				if err != nil {
					return fmt.Errorf("acris master: %w", err)
				}
				batches[i] = rows
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		var master []soql.Row
		for _, rows := range batches {
			master = append(master, rows...)
		}
		return property.NewACRIS(normalize.Documents(master)), nil
	})
	return res.Value, err
}

func (a *Assembler) fetchHPD(ctx context.Context, parcel bbl.BBL) (*property.HPDViolations, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeHPD, parcel.String(), func(ctx context.Context) (*property.HPDViolations, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetHPDViolations, soql.Params{
			Equals: map[string]string{"bbl": parcel.String()},
			Order:  "inspectiondate DESC",
			Limit:  violationsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.HPD(rows), nil
	})
	return res.Value, err
}

// buildingWhere filters the DOB datasets, which key lots by padded block and
// lot rather than BBL.
func buildingWhere(parcel bbl.BBL) string {
	return fmt.Sprintf("boro=%s AND block=%s AND lot=%s",
		soql.Quote(strconv.Itoa(parcel.Borough())),
		soql.Quote(parcel.PaddedBlock()),
		soql.Quote(parcel.PaddedLot()))
}

func (a *Assembler) fetchDOB(ctx context.Context, parcel bbl.BBL) (*property.DOBViolations, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeDOB, parcel.String(), func(ctx context.Context) (*property.DOBViolations, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetDOBViolations, soql.Params{
			Where: buildingWhere(parcel),
			Order: "issue_date DESC",
			Limit: violationsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.DOB(rows), nil
	})
	return res.Value, err
}

func (a *Assembler) fetchECB(ctx context.Context, parcel bbl.BBL) (*property.ECBViolations, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeECB, parcel.String(), func(ctx context.Context) (*property.ECBViolations, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetECBViolations, soql.Params{
			Where: buildingWhere(parcel),
			Order: "issue_date DESC",
			Limit: violationsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.ECB(rows), nil
	})
	return res.Value, err
}

func (a *Assembler) fetchPermits(ctx context.Context, parcel bbl.BBL) (*property.Permits, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypePermits, parcel.String(), func(ctx context.Context) (*property.Permits, error) {
		// The permit issuance dataset names the borough and pads lots to five.
		rows, err := a.rows.Fetch(ctx, soql.DatasetDOBPermits, soql.Params{
			Where: fmt.Sprintf("borough=%s AND block=%s AND lot=%s",
				soql.Quote(strings.ToUpper(parcel.BoroughName())),
				soql.Quote(parcel.PaddedBlock()),
				soql.Quote(fmt.Sprintf("%05d", parcel.Lot()))),
			Order: "issuance_date DESC",
			Limit: permitsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.Permits(rows), nil
	})
	return res.Value, err
}

func (a *Assembler) fetchActions(ctx context.Context, parcel bbl.BBL) (*property.Actions, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeActions, parcel.String(), func(ctx context.Context) (*property.Actions, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetZoningActions, soql.Params{
			Where: "bbl=" + soql.Quote(parcel.String()),
			Order: "ulurpno DESC",
			Limit: actionsLimit,
		})
		if err != nil {
			return nil, err
		}
		return normalize.Actions(rows), nil
	})
	return res.Value, err
}

func (a *Assembler) fetchFloodZone(ctx context.Context, parcel bbl.BBL) (string, error) {
	res, err := cache.Fetch(ctx, a.layer, cache.TypeFlood, parcel.String(), func(ctx context.Context) (string, error) {
		rows, err := a.rows.Fetch(ctx, soql.DatasetFloodHazard, soql.Params{
			Where: "bbl=" + soql.Quote(parcel.String()),
			Limit: 1,
		})
		if err != nil {
			return "", err
		}
		return normalize.FloodZone(rows), nil
	})
	return res.Value, err
}
