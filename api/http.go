// Package api serves enrichment operations over HTTP as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/c360studio/propscout/cache"
	"github.com/c360studio/propscout/geosearch"
	"github.com/c360studio/propscout/property"
	"github.com/c360studio/propscout/propertyscout"
	"github.com/c360studio/propscout/provider"
)

// Service is the subset of enrich.Engine the API exposes.
type Service interface {
	EnrichByAddress(ctx context.Context, address string) (*property.Report, error)
	EnrichByBBL(ctx context.Context, raw string) (*property.Report, error)
	Autocomplete(ctx context.Context, text string) ([]geosearch.Suggestion, error)
	NearbyRezonings(ctx context.Context, lat, lng float64, radiusMeters int) ([]property.Rezoning, error)
	RezoningsNearBBL(ctx context.Context, raw string, radiusMeters int) ([]property.Rezoning, error)
	DownloadTitleReport(ctx context.Context, address string) (*propertyscout.TitleReport, error)
	AllPropertyScoutData(ctx context.Context, address string) (*property.PropertyScoutBundle, error)
	UsageSummary(ctx context.Context) (*cache.Summary, error)
	CacheStats(ctx context.Context) (*cache.Stats, error)
	ClearCache(ctx context.Context, typ string) (int, error)
	SetPropertyScoutAPIKey(ctx context.Context, key string) error
	ClearPropertyScoutAPIKey(ctx context.Context) error
	HasPropertyScoutAPIKey(ctx context.Context) bool
	PropertyScoutKeyVerified() bool
}

// Handler routes API requests to a Service.
type Handler struct {
	svc     Service
	metrics http.Handler
	logger  *slog.Logger
}

// NewHandler creates a handler. metrics may be nil.
func NewHandler(svc Service, metrics http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, metrics: metrics, logger: logger}
}

// RegisterHTTPHandlers registers the API under prefix, which includes the
// trailing slash (e.g. "/api/").
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	mux.HandleFunc(prefix+"report", h.handleReport)
	mux.HandleFunc(prefix+"autocomplete", h.handleAutocomplete)
	mux.HandleFunc(prefix+"rezonings", h.handleRezonings)
	mux.HandleFunc(prefix+"title-report", h.handleTitleReport)
	mux.HandleFunc(prefix+"propertyscout", h.handlePropertyScout)
	mux.HandleFunc(prefix+"usage", h.handleUsage)
	mux.HandleFunc(prefix+"cache", h.handleCache)
	mux.HandleFunc(prefix+"apikey", h.handleAPIKey)
	mux.HandleFunc("/healthz", h.handleHealth)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
}

// ServeMux returns a mux with the API mounted at /api/.
func (h *Handler) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterHTTPHandlers("/api/", mux)
	return mux
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch provider.KindOf(err) {
	case provider.KindNotFound:
		return http.StatusNotFound
	case provider.KindAmbiguousParcel:
		return http.StatusUnprocessableEntity
	case provider.KindBadRequest:
		return http.StatusBadRequest
	case provider.KindMissingCredential:
		return http.StatusPreconditionFailed
	case provider.KindRateLimited, provider.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case provider.KindUnauthorized:
		return http.StatusBadGateway
	case provider.KindProviderUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	kind := provider.KindOf(err)
	resp := errorResponse{Error: string(kind), Message: kind.Message(), Detail: err.Error()}
	if kind == "" {
		resp.Error = "Internal"
		resp.Message = http.StatusText(status)
	}
	if status >= 500 {
		h.logger.Error("Request failed", "status", status, "error", err)
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", "error", err)
	}
}

func badRequest(format string, args ...any) error {
	return provider.Errorf(provider.KindBadRequest, "", format, args...)
}

// handleReport handles GET /report?address= and GET /report?bbl=.
func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var (
		report *property.Report
		err    error
	)
	switch {
	case q.Get("bbl") != "":
		report, err = h.svc.EnrichByBBL(r.Context(), q.Get("bbl"))
	case q.Get("address") != "":
		report, err = h.svc.EnrichByAddress(r.Context(), q.Get("address"))
	default:
		h.writeError(w, badRequest("address or bbl is required"))
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	// ?acris=full returns every document; the default is the top-5 view.
	if q.Get("acris") != "full" && report.ACRIS != nil {
		view := *report
		view.ACRIS = report.ACRIS.Display(property.DefaultDisplayLimit)
		report = &view
	}
	h.writeJSON(w, http.StatusOK, report)
}

// handleAutocomplete handles GET /autocomplete?text=.
func (h *Handler) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		h.writeJSON(w, http.StatusOK, []geosearch.Suggestion{})
		return
	}
	suggestions, err := h.svc.Autocomplete(r.Context(), text)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []geosearch.Suggestion{}
	}
	h.writeJSON(w, http.StatusOK, suggestions)
}

// handleRezonings handles GET /rezonings?lat=&lng=[&radius=] and
// GET /rezonings?bbl=[&radius=].
func (h *Handler) handleRezonings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	radius := 0
	if s := q.Get("radius"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.writeError(w, badRequest("radius must be a non-negative integer, got %q", s))
			return
		}
		radius = n
	}

	var (
		out []property.Rezoning
		err error
	)
	if raw := q.Get("bbl"); raw != "" {
		out, err = h.svc.RezoningsNearBBL(r.Context(), raw, radius)
	} else {
		lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
		lng, lngErr := strconv.ParseFloat(q.Get("lng"), 64)
		if latErr != nil || lngErr != nil {
			h.writeError(w, badRequest("lat and lng, or bbl, are required"))
			return
		}
		out, err = h.svc.NearbyRezonings(r.Context(), lat, lng, radius)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if out == nil {
		out = []property.Rezoning{}
	}
	h.writeJSON(w, http.StatusOK, out)
}

// handleTitleReport handles GET /title-report?address= and streams the PDF.
func (h *Handler) handleTitleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.writeError(w, badRequest("address is required"))
		return
	}

	report, err := h.svc.DownloadTitleReport(r.Context(), address)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(report.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(report.Data); err != nil {
		h.logger.Warn("Failed to write title report", "error", err)
	}
}

// handlePropertyScout handles GET /propertyscout?address=.
func (h *Handler) handlePropertyScout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		h.writeError(w, badRequest("address is required"))
		return
	}
	bundle, err := h.svc.AllPropertyScoutData(r.Context(), address)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bundle)
}

// handleUsage handles GET /usage.
func (h *Handler) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.svc.UsageSummary(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// handleCache handles GET /cache (stats) and DELETE /cache[?type=].
func (h *Handler) handleCache(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stats, err := h.svc.CacheStats(r.Context())
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, stats)
	case http.MethodDelete:
		n, err := h.svc.ClearCache(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// APIKeyStatus reports whether a PropertyScout key is configured and was
// accepted by the provider.
type APIKeyStatus struct {
	Configured bool `json:"configured"`
	Verified   bool `json:"verified"`
}

// SetAPIKeyRequest is the body of PUT /apikey.
type SetAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

const maxAPIKeyBody = 4 << 10

// handleAPIKey handles GET, PUT and DELETE /apikey. The key itself is never
// returned.
func (h *Handler) handleAPIKey(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req SetAPIKeyRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIKeyBody)).Decode(&req); err != nil {
			h.writeError(w, badRequest("invalid request body: %v", err))
			return
		}
		if err := h.svc.SetPropertyScoutAPIKey(r.Context(), req.APIKey); err != nil {
			h.writeError(w, err)
			return
		}
		h.logger.Info("PropertyScout API key updated via REST API")
	case http.MethodDelete:
		if err := h.svc.ClearPropertyScoutAPIKey(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
		h.logger.Info("PropertyScout API key removed via REST API")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, APIKeyStatus{
		Configured: h.svc.HasPropertyScoutAPIKey(r.Context()),
		Verified:   h.svc.PropertyScoutKeyVerified(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
