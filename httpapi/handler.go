// Package httpapi implements the HTTP edge from spec §6: the single
// GET /pricing endpoint, enum validation, and the status-code mapping
// from spec §7. The coordinator below it never sees malformed
// parameters; validation happens entirely in this package.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pricing-proxy/pricing-proxy/cache"
	"github.com/pricing-proxy/pricing-proxy/pricing"
)

var (
	periods = map[string]bool{"Summer": true, "Autumn": true, "Winter": true, "Spring": true}
	hotels  = map[string]bool{"FloatingPointResort": true, "GitawayHotel": true, "RecursionRetreat": true}
	rooms   = map[string]bool{"SingletonRoom": true, "BooleanTwin": true, "RestfulKing": true}
)

// Resolver is the subset of *pricing.Coordinator the handler depends
// on, narrowed for testability.
type Resolver interface {
	ResolveDegraded(ctx context.Context, period, hotel, room string) (string, bool, error)
}

// Handler serves GET /pricing.
type Handler struct {
	resolver Resolver
	log      *slog.Logger
	enums    *pricing.EnumGuard
}

// New constructs a Handler. logger may be nil. enumMetrics observes the
// enum-validation cache and may be omitted, in which case NoopMetrics
// is used.
func New(resolver Resolver, logger *slog.Logger, enumMetrics ...cache.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var m cache.Metrics
	if len(enumMetrics) > 0 {
		m = enumMetrics[0]
	}
	return &Handler{resolver: resolver, log: logger, enums: pricing.NewEnumGuard(m)}
}

type successResponse struct {
	Rate    string `json:"rate"`
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	period, hotel, room, ok := h.validate(w, r)
	if !ok {
		return
	}

	value, stale, err := h.resolver.ResolveDegraded(r.Context(), period, hotel, room)
	if err != nil {
		h.writeResolveError(w, err)
		return
	}

	resp := successResponse{Rate: value}
	if stale {
		resp.Warning = "Using cached rate due to temporary service issue"
	}
	writeJSON(w, http.StatusOK, resp)
}

// validate enforces spec §6's three closed enumerations, writing a 400
// and returning ok=false on any violation.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) (period, hotel, room string, ok bool) {
	q := r.URL.Query()
	period, hotel, room = q.Get("period"), q.Get("hotel"), q.Get("room")

	if period == "" || hotel == "" || room == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return "", "", "", false
	}

	// A repeat request for a triple already validated as legal skips the
	// map lookups below entirely; a cached "valid" verdict short-circuits
	// straight to the resolver. A triple cached as invalid is checked
	// again so the 400 names the offending field.
	if _, valid, cached := h.enums.Lookup(period, hotel, room); cached && valid {
		return period, hotel, room, true
	}

	if !periods[period] {
		h.enums.Remember(period, hotel, room, false)
		writeError(w, http.StatusBadRequest, "Invalid period")
		return "", "", "", false
	}
	if !hotels[hotel] {
		h.enums.Remember(period, hotel, room, false)
		writeError(w, http.StatusBadRequest, "Invalid hotel")
		return "", "", "", false
	}
	if !rooms[room] {
		h.enums.Remember(period, hotel, room, false)
		writeError(w, http.StatusBadRequest, "Invalid room")
		return "", "", "", false
	}
	h.enums.Remember(period, hotel, room, true)
	return period, hotel, room, true
}

// writeResolveError maps a typed pricing error to the status codes in
// spec §7.
func (h *Handler) writeResolveError(w http.ResponseWriter, err error) {
	var typed *pricing.Error
	if !errors.As(err, &typed) {
		writeError(w, http.StatusInternalServerError, "unavailable")
		return
	}

	switch typed.Kind {
	case pricing.KindTimeout:
		writeError(w, http.StatusGatewayTimeout, "Upstream request timeout")
	case pricing.KindClientError:
		writeError(w, http.StatusBadGateway, typed.Error())
	case pricing.KindServerError, pricing.KindNetworkError, pricing.KindBreakerOpen:
		writeError(w, http.StatusServiceUnavailable, "Pricing service temporarily unavailable")
	case pricing.KindProtocolError:
		writeError(w, http.StatusBadGateway, typed.Error())
	case pricing.KindBusy:
		writeError(w, http.StatusServiceUnavailable, "Service temporarily busy, please retry")
	case pricing.KindStoreUnavailable:
		writeError(w, http.StatusInternalServerError, "unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "unavailable")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
