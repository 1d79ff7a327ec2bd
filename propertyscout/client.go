// Package propertyscout is a client for the PropertyScout.io commercial
// property API.
package propertyscout

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/c360studio/propscout/provider"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.propertyscout.io/v1"

// ProviderName labels PropertyScout failures.
const ProviderName = "propertyscout"

// maxTitleReportSize bounds PDF downloads.
const maxTitleReportSize = 64 * 1024 * 1024 // 64MB

// API paths.
const (
	PathSearch        = "/property/search"
	PathAPN           = "/property/apn"
	PathOwner         = "/property/owner"
	PathRapidInsights = "/property/rapid-insights"
	PathSalesHistory  = "/property/sales-history"
	PathLiens         = "/property/liens"
	PathMortgage      = "/property/mortgage"
	PathTitleReport   = "/property/title-report"
)

// Payload is a decoded JSON object from the API. Field naming varies between
// API revisions, so callers normalize it rather than binding a struct.
type Payload map[string]any

// TitleReport is a downloaded preliminary title report.
type TitleReport struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Client calls PropertyScout with the bearer credential attached.
type Client struct {
	http  *provider.Client
	pdf   *provider.Client
	creds *Credentials
}

// NewClient creates a client. creds must not be nil.
func NewClient(baseURL string, creds *Credentials, opts ...provider.ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	pdfOpts := append(append([]provider.ClientOption{}, opts...), provider.WithMaxResponseSize(maxTitleReportSize))
	return &Client{
		http:  provider.NewClient(ProviderName, baseURL, opts...),
		pdf:   provider.NewClient(ProviderName, baseURL, pdfOpts...),
		creds: creds,
	}
}

// Credentials returns the resolver backing this client.
func (c *Client) Credentials() *Credentials { return c.creds }

// Search looks up a property by street address.
func (c *Client) Search(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathSearch, url.Values{"address": {address}})
}

// ByAPN looks up a property by assessor parcel number.
func (c *Client) ByAPN(ctx context.Context, apn, state, county string) (Payload, error) {
	q := url.Values{"apn": {apn}}
	if state != "" {
		q.Set("state", state)
	}
	if county != "" {
		q.Set("county", county)
	}
	return c.getJSON(ctx, PathAPN, q)
}

// Owner returns ownership details for an address.
func (c *Client) Owner(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathOwner, url.Values{"address": {address}})
}

// RapidInsights returns the bundled property report for an address.
func (c *Client) RapidInsights(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathRapidInsights, url.Values{"address": {address}})
}

// SalesHistory returns recorded sales for an address.
func (c *Client) SalesHistory(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathSalesHistory, url.Values{"address": {address}})
}

// Liens returns liens recorded against an address.
func (c *Client) Liens(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathLiens, url.Values{"address": {address}})
}

// Mortgage returns current and historical mortgages for an address.
func (c *Client) Mortgage(ctx context.Context, address string) (Payload, error) {
	return c.getJSON(ctx, PathMortgage, url.Values{"address": {address}})
}

// TitleReport downloads the preliminary title report PDF.
//
// A missing key fails before any request. Every other failure, including a
// rejected key or a truncated body, is ProviderUnavailable.
func (c *Client) TitleReport(ctx context.Context, address string) (*TitleReport, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.pdf.Get(ctx, provider.Request{
		Endpoint: "title-report",
		Path:     PathTitleReport,
		Query:    url.Values{"address": {address}, "format": {"pdf"}},
		Header:   bearer(key),
		Accept:   "application/pdf",
	})
	if err != nil {
		if provider.IsKind(err, provider.KindUnauthorized) {
			c.creds.invalidate()
		}
		return nil, provider.NewError(provider.KindProviderUnavailable, ProviderName, fmt.Errorf("title report: %w", err))
	}
	if len(resp.Body) == 0 {
		return nil, provider.Errorf(provider.KindProviderUnavailable, ProviderName, "title report: empty body")
	}
	c.creds.markVerified()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}

	return &TitleReport{
		Filename:    reportFilename(resp.Header.Get("Content-Disposition"), address),
		ContentType: contentType,
		Data:        resp.Body,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values) (Payload, error) {
	key, err := c.creds.APIKey(ctx)
	if err != nil {
		return nil, err
	}

	var out Payload
	err = c.http.GetJSON(ctx, provider.Request{
		Endpoint: strings.TrimPrefix(path, "/property/"),
		Path:     path,
		Query:    q,
		Header:   bearer(key),
	}, &out)
	if err != nil {
		if provider.IsKind(err, provider.KindUnauthorized) {
			c.creds.invalidate()
		}
		return nil, err
	}
	c.creds.markVerified()
	return out, nil
}

func bearer(key string) http.Header {
	return http.Header{"Authorization": {"Bearer " + key}}
}

// reportFilename prefers the server-supplied name.
func reportFilename(disposition, address string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(address) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimRight(b.String(), "-")
	if slug == "" {
		return "title-report.pdf"
	}
	return "title-report-" + slug + ".pdf"
}
