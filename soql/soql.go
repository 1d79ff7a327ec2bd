// Package soql is a typed client for NYC Open Data (Socrata) dataset
// endpoints.
package soql

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/c360studio/propscout/provider"
)

// DefaultBaseURL is the NYC Open Data resource root.
const DefaultBaseURL = "https://data.cityofnewyork.us/resource"

// ProviderName labels Socrata failures.
const ProviderName = "socrata"

// DefaultLimit is applied when Params.Limit is zero.
const DefaultLimit = 100

// Dataset identifiers. These are part of the public contract with NYC Open
// Data and must not change without a provider migration.
const (
	DatasetPLUTO         = "64uk-42ks"
	DatasetZoningTaxLot  = "fdkv-4t4z"
	DatasetACRISMaster   = "bnx9-e6tj"
	DatasetACRISLegals   = "8h5j-fqxa"
	DatasetHPDViolations = "wvxf-dwi5"
	DatasetDOBViolations = "3h2n-5cm9"
	DatasetECBViolations = "6bgk-3dad"
	DatasetDOBPermits    = "ipu4-2vj7"
	DatasetZoningActions = "rvhx-8trz"
	DatasetFloodHazard   = "v5dn-kh3t"
)

// Row is one record as returned by Socrata. Values are usually strings but
// numbers, booleans and nested geometry objects also occur.
type Row map[string]any

// Params describes a dataset query.
type Params struct {
	// Equals holds column equality filters sent as bare query parameters.
	Equals map[string]string
	// Where is a raw $where clause.
	Where string
	// Order is the $order clause.
	Order string
	// Limit is $limit; zero means DefaultLimit.
	Limit int
	// Extra carries any other parameters through unchanged.
	Extra url.Values
}

// Values encodes p as query parameters.
func (p Params) Values() url.Values {
	v := url.Values{}
	for k, vs := range p.Extra {
		for _, s := range vs {
			v.Add(k, s)
		}
	}
	for col, val := range p.Equals {
		v.Set(col, val)
	}
	if p.Where != "" {
		v.Set("$where", p.Where)
	}
	if p.Order != "" {
		v.Set("$order", p.Order)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	v.Set("$limit", strconv.Itoa(limit))
	return v
}

// Client fetches dataset rows.
type Client struct {
	http *provider.Client
}

// NewClient creates a Socrata client rooted at baseURL.
func NewClient(baseURL string, opts ...provider.ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: provider.NewClient(ProviderName, baseURL, opts...)}
}

// Fetch returns the parsed JSON array for dataset filtered by p.
func (c *Client) Fetch(ctx context.Context, dataset string, p Params) ([]Row, error) {
	if dataset == "" {
		return nil, provider.Errorf(provider.KindBadRequest, ProviderName, "dataset id is required")
	}

	var rows []Row
	err := c.http.GetJSON(ctx, provider.Request{
		Endpoint: dataset,
		Path:     "/" + dataset + ".json",
		Query:    p.Values(),
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", dataset, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// Quote renders s as a SoQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

var documentIDPattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// ValidDocumentID reports whether id is safe to interpolate into a $where
// clause. IDs are compared after upper-casing.
func ValidDocumentID(id string) bool {
	return documentIDPattern.MatchString(id)
}

// In renders "column in ('a','b')". Every value must already be validated by
// the caller.
func In(column string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}
	return column + " in (" + strings.Join(quoted, ",") + ")"
}

// WithinCircle renders a geospatial radius filter.
func WithinCircle(column string, lat, lng float64, radiusMeters int) string {
	return fmt.Sprintf("within_circle(%s, %s, %s, %d)", column,
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lng, 'f', -1, 64),
		radiusMeters)
}
