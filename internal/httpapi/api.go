package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sisteq/segauth/internal/auth"
	"github.com/sisteq/segauth/internal/obs"
)

// ReadyProbe — readiness check backed by a DB ping when a pool is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the request-shaping knobs the middleware chain needs.
type Options struct {
	MaxBodyBytes       int64
	RateLimitBurst     int
	RateLimitPerSecond int
}

// API — HTTP layer over the authentication core.
type API struct {
	mux        *http.ServeMux
	dispatcher *auth.Dispatcher
	refresh    *auth.RefreshManager
	issuer     *auth.Issuer
	readyProbe ReadyProbe
	opts       Options
	version    string
}

func New(dispatcher *auth.Dispatcher, refresh *auth.RefreshManager, issuer *auth.Issuer, rp ReadyProbe, opts Options, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		dispatcher: dispatcher,
		refresh:    refresh,
		issuer:     issuer,
		readyProbe: rp,
		opts:       opts,
		version:    version,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// authentication surface
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/revoke-all", a.handleRevokeAll)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler: metrics innermost around
// the mux, then bearer authentication, then the request-shaping chain.
func (a *API) Handler() http.Handler {
	h := obs.Instrument(a.mux)
	h = a.withAuth(h)
	if a.opts.MaxBodyBytes > 0 {
		h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	}
	if a.opts.RateLimitPerSecond > 0 {
		h = RateLimit(h, a.opts.RateLimitBurst, a.opts.RateLimitPerSecond)
	}
	h = Logging(h)
	h = RequestID(h)
	return SecurityHeaders(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "segauth-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
