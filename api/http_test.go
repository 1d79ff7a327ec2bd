package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/propscout/bbl"
	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/enrich"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/propertyscout"
	"github.com/c360studio/propscout/provider"
)

var _ Service = (*enrich.Engine)(nil)

type fakeService struct {
	report     *property.Report
	err        error
	lastBBL    string
	lastAddr   string
	lastRadius int
	lastLatLng [2]float64
	cleared    string
	key        string
	verified   bool
}

func (f *fakeService) EnrichByAddress(_ context.Context, address string) (*property.Report, error) {
	f.lastAddr = address
	return f.report, f.err
}

func (f *fakeService) EnrichByBBL(_ context.Context, raw string) (*property.Report, error) {
	f.lastBBL = raw
	return f.report, f.err
}

func (f *fakeService) Autocomplete(_ context.Context, text string) ([]geosearch.Suggestion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []geosearch.Suggestion{{Label: text + " St, Manhattan", Borough: "Manhattan"}}, nil
}

func (f *fakeService) NearbyRezonings(_ context.Context, lat, lng float64, radius int) ([]property.Rezoning, error) {
	f.lastLatLng = [2]float64{lat, lng}
	f.lastRadius = radius
	return nil, f.err
}

func (f *fakeService) RezoningsNearBBL(_ context.Context, raw string, radius int) ([]property.Rezoning, error) {
	f.lastBBL = raw
	f.lastRadius = radius
	return []property.Rezoning{{ProjectName: "East Midtown"}}, f.err
}

func (f *fakeService) DownloadTitleReport(_ context.Context, address string) (*propertyscout.TitleReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &propertyscout.TitleReport{Filename: "title.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4")}, nil
}

func (f *fakeService) AllPropertyScoutData(_ context.Context, address string) (*property.PropertyScoutBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &property.PropertyScoutBundle{Errors: []property.PartialFailure{}}, nil
}

func (f *fakeService) UsageSummary(context.Context) (*cache.Summary, error) {
	return &cache.Summary{Month: "2026-10", TotalCalls: 4, CacheHits: 2, SavingsPercent: 50}, nil
}

func (f *fakeService) CacheStats(context.Context) (*cache.Stats, error) {
	return &cache.Stats{TotalEntries: 3}, nil
}

func (f *fakeService) ClearCache(_ context.Context, typ string) (int, error) {
	if _, err := cache.ParseType(typ); typ != "" && err != nil {
		return 0, provider.NewError(provider.KindBadRequest, "", err)
	}
	f.cleared = typ
	return 2, nil
}

func (f *fakeService) SetPropertyScoutAPIKey(_ context.Context, key string) error {
	f.key = key
	return nil
}

func (f *fakeService) ClearPropertyScoutAPIKey(context.Context) error {
	f.key = ""
	return nil
}

func (f *fakeService) HasPropertyScoutAPIKey(context.Context) bool { return f.key != "" }
func (f *fakeService) PropertyScoutKeyVerified() bool               { return f.verified }

func newTestServer(t *testing.T, svc *fakeService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(svc, http.NotFoundHandler(), nil).ServeMux())
	t.Cleanup(srv.Close)
	return srv
}

func sampleReport() *property.Report {
	docs := make([]property.Document, 8)
	for i := range docs {
		docs[i] = property.Document{DocumentID: string(rune('A' + i)), DocType: "DEED"}
	}
	return &property.Report{
		BBL:             bbl.MustParse("1008350041"),
		ACRIS:           property.NewACRIS(docs),
		PartialFailures: []property.PartialFailure{},
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind provider.Kind
		want int
	}{
		{provider.KindNotFound, http.StatusNotFound},
		{provider.KindAmbiguousParcel, http.StatusUnprocessableEntity},
		{provider.KindBadRequest, http.StatusBadRequest},
		{provider.KindMissingCredential, http.StatusPreconditionFailed},
		{provider.KindRateLimited, http.StatusTooManyRequests},
		{provider.KindQuotaExceeded, http.StatusTooManyRequests},
		{provider.KindUnauthorized, http.StatusBadGateway},
		{provider.KindProviderUnavailable, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := statusFor(provider.Errorf(tt.kind, "test", "boom"))
			if got != tt.want {
				t.Errorf("statusFor(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}

	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestReport(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantStatus int
		wantKind   string
	}{
		{name: "by address", query: "?address=350+5th+Ave", wantStatus: http.StatusOK},
		{name: "by bbl", query: "?bbl=1-00835-0041", wantStatus: http.StatusOK},
		{name: "missing params", query: "", wantStatus: http.StatusBadRequest, wantKind: "BadRequest"},
		{
			name:       "not found",
			query:      "?address=nowhere",
			err:        provider.Errorf(provider.KindNotFound, "geosearch", "no match"),
			wantStatus: http.StatusNotFound,
			wantKind:   "NotFound",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{report: sampleReport(), err: tt.err}
			srv := newTestServer(t, svc)

			resp, err := http.Get(srv.URL + "/api/report" + tt.query)
			require.NoError(t, err)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			if tt.wantKind != "" {
				var body errorResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.wantKind, body.Error)
				assert.NotEmpty(t, body.Message)
			}
		})
	}
}

func TestReportACRISView(t *testing.T) {
	svc := &fakeService{report: sampleReport()}
	srv := newTestServer(t, svc)

	decode := func(query string) property.Report {
		resp, err := http.Get(srv.URL + "/api/report" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		var r property.Report
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
		return r
	}

	top := decode("?bbl=1008350041")
	assert.Len(t, top.ACRIS.Deeds, property.DefaultDisplayLimit)
	assert.Equal(t, 8, top.ACRIS.Total)
	assert.Equal(t, "1008350041", svc.lastBBL)

	full := decode("?bbl=1008350041&acris=full")
	assert.Len(t, full.ACRIS.Deeds, 8)

	// The service's report is left untouched by the display view.
	assert.Len(t, svc.report.ACRIS.Deeds, 8)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/report"},
		{http.MethodPost, "/api/autocomplete"},
		{http.MethodPut, "/api/rezonings"},
		{http.MethodDelete, "/api/usage"},
		{http.MethodPost, "/api/cache"},
		{http.MethodPost, "/api/apikey"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestAutocomplete(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/api/autocomplete?text=350+5th")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got []geosearch.Suggestion
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "350 5th St, Manhattan", got[0].Label)

	empty, err := http.Get(srv.URL + "/api/autocomplete?text=+")
	require.NoError(t, err)
	defer empty.Body.Close()
	var none []geosearch.Suggestion
	require.NoError(t, json.NewDecoder(empty.Body).Decode(&none))
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRezonings(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/rezonings?lat=40.7484&lng=-73.9857&radius=250")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, body)
	assert.Equal(t, [2]float64{40.7484, -73.9857}, svc.lastLatLng)
	assert.Equal(t, 250, svc.lastRadius)

	resp, err = http.Get(srv.URL + "/api/rezonings?bbl=1008350041")
	require.NoError(t, err)
	body = readBody(t, resp)
	assert.Contains(t, body, "East Midtown")
	assert.Equal(t, 0, svc.lastRadius)

	resp, err = http.Get(srv.URL + "/api/rezonings?lat=abc")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/rezonings?lat=1&lng=2&radius=-5")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTitleReport(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/api/title-report?address=350+5th+Ave")
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="title.pdf"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "%PDF-1.4", body)

	missing := &fakeService{err: provider.Errorf(provider.KindMissingCredential, "propertyscout", "no key")}
	srv = newTestServer(t, missing)
	resp, err = http.Get(srv.URL + "/api/title-report?address=350+5th+Ave")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestCache(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/cache")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), `"total_entries":3`)

	del := func(query string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/cache"+query, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp = del("?type=hpd")
	assert.JSONEq(t, `{"removed":2}`, readBody(t, resp))
	assert.Equal(t, "hpd", svc.cleared)

	resp = del("?type=bogus")
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUsage(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/api/usage")
	require.NoError(t, err)
	var got cache.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	resp.Body.Close()
	assert.Equal(t, "2026-10", got.Month)
	assert.Equal(t, 50, got.SavingsPercent)
}

func TestAPIKey(t *testing.T) {
	svc := &fakeService{}
	srv := newTestServer(t, svc)

	resp, err := http.Get(srv.URL + "/api/apikey")
	require.NoError(t, err)
	assert.JSONEq(t, `{"configured":false,"verified":false}`, readBody(t, resp))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/apikey", strings.NewReader(`{"api_key":"k-123"}`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body := readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"configured":true,"verified":false}`, body)
	assert.NotContains(t, body, "k-123")
	assert.Equal(t, "k-123", svc.key)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/apikey", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"configured":false,"verified":false}`, readBody(t, resp))

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/api/apikey", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPropertyScoutBundle(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/api/propertyscout?address=350+5th+Ave")
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), `"errors":[]`)

	resp, err = http.Get(srv.URL + "/api/propertyscout")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetricsMounted(t *testing.T) {
	srv := newTestServer(t, &fakeService{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, readBody(t, resp))

	// The test metrics handler is http.NotFoundHandler.
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var sb strings.Builder
	_, err := io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	return sb.String()
}
