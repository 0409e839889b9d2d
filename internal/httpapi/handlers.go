package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"consulta.cl/internal/auth"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/obs"
)

const (
	serviceName  = "consulta-api"
	maxBodyBytes = 1 << 20
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks readiness by pinging the store.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.Store.Ping(ctx)
}

// Options wires the API's collaborators.
type Options struct {
	Ready       ReadyProbe
	Auth        *auth.Service
	Customers   *customers.Service
	CORSOrigins []string
	// LoginRatePerSec and LoginRateBurst bound login attempts per client IP.
	LoginRatePerSec int
	LoginRateBurst  int
	// TrustProxy keys the login limiter on X-Forwarded-For instead of the
	// peer address. Enable it only behind a proxy that overwrites the header.
	TrustProxy bool
	Version    string
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	auth       *auth.Service
	customers  *customers.Service
	origins    []string
	version    string
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		auth:       opts.Auth,
		customers:  opts.Customers,
		origins:    opts.CORSOrigins,
		version:    opts.Version,
	}
	perSec, burst := opts.LoginRatePerSec, opts.LoginRateBurst
	if perSec <= 0 {
		perSec = 5
	}
	if burst <= 0 {
		burst = 10
	}

	a.mux.Handle("/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), burst, perSec, opts.TrustProxy))
	a.mux.Handle("/auth/me", a.requireAuth(a.handleMe))
	a.mux.Handle("/clientes", a.requireAuth(a.handleCustomers))

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the full middleware chain around the routes.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, maxBodyBytes)
	h = CORS(a.origins)(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
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

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
