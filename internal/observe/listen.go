package observe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// checkTimeout is the maximum time a single readiness check may take before
// its context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check should return nil when the
// dependency is healthy and a non-nil error describing the failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "stt", "notes"). It appears
	// as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// probeResult is the JSON response body for the health endpoints.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Listener is the optional observability HTTP surface. It serves:
//
//   - /metrics — Prometheus scrape endpoint (via the OTel bridge registered
//     by [InitProvider]).
//   - /healthz — liveness probe; always 200 while the process serves HTTP.
//   - /readyz  — readiness probe; 200 only when every [Checker] passes.
//
// All routes run through [Middleware] for request metrics and tracing.
type Listener struct {
	srv      *http.Server
	checkers []Checker
	addr     string
}

// NewListener builds a Listener bound to addr (e.g. "127.0.0.1:9090").
// Nothing is served until Start.
func NewListener(addr string, m *Metrics, checkers ...Checker) *Listener {
	l := &Listener{checkers: append([]Checker(nil), checkers...)}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", l.healthz)
	mux.HandleFunc("GET /readyz", l.readyz)

	l.srv = &http.Server{
		Addr:              addr,
		Handler:           Middleware(m)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return l
}

// Start binds the listen address and begins serving in a background
// goroutine. Bind failures are returned synchronously so startup can abort;
// later serve errors are logged.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.srv.Addr)
	if err != nil {
		return fmt.Errorf("observe: listen %s: %w", l.srv.Addr, err)
	}
	l.addr = ln.Addr().String()

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "err", err)
		}
	}()
	slog.Info("metrics listener started", "addr", l.addr)
	return nil
}

// Addr returns the bound address after Start. Useful when the configured
// address had port 0.
func (l *Listener) Addr() string {
	return l.addr
}

// Shutdown stops the listener, waiting for in-flight requests up to the
// context deadline.
func (l *Listener) Shutdown(ctx context.Context) error {
	return l.srv.Shutdown(ctx)
}

// healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (l *Listener) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker runs with a [checkTimeout] deadline derived
// from the request context.
func (l *Listener) readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(l.checkers))
	allOK := true

	for _, c := range l.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := probeResult{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
