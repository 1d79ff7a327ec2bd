// Package geosearch resolves free-text NYC addresses to tax lots using the
// NYC Planning Labs GeoSearch API.
package geosearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/provider"
	"github.com/c360studio/propscout/soql"
)

// DefaultBaseURL is the public GeoSearch host.
const DefaultBaseURL = "https://geosearch.planninglabs.nyc"

// ProviderName labels GeoSearch failures.
const ProviderName = "geosearch"

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Resolution is the canonical parcel identity for an address.
type Resolution struct {
	FormattedAddress string      `json:"formatted_address"`
	BBL              bbl.BBL     `json:"bbl"`
	Borough          string      `json:"borough"`
	Block            string      `json:"block"`
	Lot              string      `json:"lot"`
	BIN              string      `json:"bin,omitempty"`
	Coordinates      Coordinates `json:"coordinates"`
}

// Suggestion is one autocomplete candidate. BBL is empty when GeoSearch did
// not attach a tax lot.
type Suggestion struct {
	Label       string      `json:"label"`
	BBL         bbl.BBL     `json:"bbl,omitempty"`
	Borough     string      `json:"borough"`
	Coordinates Coordinates `json:"coordinates"`
}

// RowFetcher is the subset of soql.Client used for PLUTO lookups.
type RowFetcher interface {
	Fetch(ctx context.Context, dataset string, p soql.Params) ([]soql.Row, error)
}

// Client talks to GeoSearch.
type Client struct {
	http  *provider.Client
	pluto RowFetcher
}

// NewClient creates a geocoder. pluto backs ResolveBBL and may be nil.
//
// The default policy retries only provider outages, once, after 250ms;
// options passed here override it.
func NewClient(baseURL string, pluto RowFetcher, opts ...provider.ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	defaults := []provider.ClientOption{
		provider.WithRetryConfig(provider.GeocoderRetryConfig()),
		provider.WithRetryPolicy(func(err error) bool {
			return provider.IsKind(err, provider.KindProviderUnavailable)
		}),
	}
	return &Client{
		http:  provider.NewClient(ProviderName, baseURL, append(defaults, opts...)...),
		pluto: pluto,
	}
}

// Resolve returns the tax lot for the first GeoSearch match of text.
//
// It fails with NotFound when there are no matches and AmbiguousParcel when
// the top match carries no usable BBL.
func (c *Client) Resolve(ctx context.Context, text string) (*Resolution, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, provider.Errorf(provider.KindNotFound, ProviderName, "empty address")
	}

	fc, err := c.query(ctx, "/v2/search", text)
	if err != nil {
		return nil, err
	}
	if len(fc.Features) == 0 {
		return nil, provider.Errorf(provider.KindNotFound, ProviderName, "no match for %q", text)
	}

	f := fc.Features[0]
	props := f.Properties

	rawBBL := firstNonEmpty(props.Addendum.Pad.BBL.String(), props.PadBBL.String())
	if rawBBL == "" {
		return nil, provider.Errorf(provider.KindAmbiguousParcel, ProviderName, "match %q has no BBL", props.Label)
	}
	parcel, err := bbl.Parse(rawBBL)
	if err != nil {
		return nil, provider.NewError(provider.KindAmbiguousParcel, ProviderName, err)
	}

	borough := props.Borough
	if borough == "" {
		borough = parcel.BoroughName()
	}

	return &Resolution{
		FormattedAddress: firstNonEmpty(props.Label, props.Name),
		BBL:              parcel,
		Borough:          borough,
		Block:            firstNonEmpty(props.Addendum.Pad.Block.String(), props.PadBlock.String()),
		Lot:              firstNonEmpty(props.Addendum.Pad.Lot.String(), props.PadLot.String()),
		BIN:              firstNonEmpty(props.Addendum.Pad.BIN.String(), props.PadBIN.String()),
		Coordinates:      f.coordinates(),
	}, nil
}

// Autocomplete returns typeahead candidates for partial input.
func (c *Client) Autocomplete(ctx context.Context, text string) ([]Suggestion, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []Suggestion{}, nil
	}

	fc, err := c.query(ctx, "/v2/autocomplete", text)
	if err != nil {
		return nil, err
	}

	out := make([]Suggestion, 0, len(fc.Features))
	for _, f := range fc.Features {
		s := Suggestion{
			Label:       firstNonEmpty(f.Properties.Label, f.Properties.Name),
			Borough:     f.Properties.Borough,
			Coordinates: f.coordinates(),
		}
		raw := firstNonEmpty(f.Properties.Addendum.Pad.BBL.String(), f.Properties.PadBBL.String())
		if parcel, err := bbl.Parse(raw); err == nil {
			s.BBL = parcel
		}
		out = append(out, s)
	}
	return out, nil
}

// ResolveBBL looks up the lot's coordinates in PLUTO. It returns nil without
// error when PLUTO has no row or no usable coordinates.
func (c *Client) ResolveBBL(ctx context.Context, parcel bbl.BBL) (*Coordinates, error) {
	if c.pluto == nil {
		return nil, fmt.Errorf("resolve BBL: no PLUTO source configured")
	}
	rows, err := c.pluto.Fetch(ctx, soql.DatasetPLUTO, soql.Params{
		Equals: map[string]string{"bbl": parcel.String()},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	lat, latOK := rowFloat(rows[0], "latitude")
	lng, lngOK := rowFloat(rows[0], "longitude")
	if !latOK || !lngOK {
		return nil, nil
	}
	return &Coordinates{Lat: lat, Lng: lng}, nil
}

func (c *Client) query(ctx context.Context, path, text string) (*featureCollection, error) {
	var fc featureCollection
	err := c.http.GetJSON(ctx, provider.Request{
		Endpoint: strings.TrimPrefix(path, "/v2/"),
		Path:     path,
		Query:    url.Values{"text": {text}},
	}, &fc)
	if err != nil {
		return nil, err
	}
	return &fc, nil
}

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Label    string `json:"label"`
		Name     string `json:"name"`
		Borough  string `json:"borough"`
		Addendum struct {
			Pad struct {
				BBL   flexString `json:"bbl"`
				Block flexString `json:"block"`
				Lot   flexString `json:"lot"`
				BIN   flexString `json:"bin"`
			} `json:"pad"`
		} `json:"addendum"`
		PadBBL   flexString `json:"pad_bbl"`
		PadBlock flexString `json:"pad_block"`
		PadLot   flexString `json:"pad_lot"`
		PadBIN   flexString `json:"pad_bin"`
	} `json:"properties"`
}

// coordinates converts GeoJSON [lng, lat] order.
func (f feature) coordinates() Coordinates {
	if len(f.Geometry.Coordinates) < 2 {
		return Coordinates{}
	}
	return Coordinates{Lat: f.Geometry.Coordinates[1], Lng: f.Geometry.Coordinates[0]}
}

// flexString accepts a JSON string, number or null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(strings.TrimSpace(v))
		return nil
	}
	*s = flexString(data)
	return nil
}

func (s flexString) String() string { return string(s) }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func rowFloat(row soql.Row, key string) (float64, bool) {
	switch v := row[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
