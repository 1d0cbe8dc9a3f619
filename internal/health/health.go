// Package health provides HTTP health and readiness check handlers.
//
// The package exposes four endpoints:
//
//   - /live            — liveness probe; always returns 200 OK.
//   - /ready           — readiness probe; returns 200 only when all
//     registered [Checker] functions pass.
//   - /health          — basic service health, same gate as /ready.
//   - /health/detailed — per-dependency results plus runtime details
//     supplied by the [DetailsFunc].
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "storage",
	// "asr"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// DetailsFunc supplies the runtime details block for /health/detailed,
// typically version, uptime and session-pool counters.
type DetailsFunc func() map[string]any

// result is the JSON response body for health endpoints.
type result struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
	details  DetailsFunc
}

// New creates a [Handler] that evaluates the given checkers on each
// readiness request. The checkers are evaluated sequentially in the order
// provided.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// SetDetails installs the runtime details supplier for /health/detailed.
func (h *Handler) SetDetails(fn DetailsFunc) { h.details = fn }

// Live is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Ready is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	res, status := h.evaluate(r)
	writeJSON(w, status, res)
}

// Health reports basic service health: the same gate as Ready without the
// per-check breakdown.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	res, status := h.evaluate(r)
	res.Checks = nil
	writeJSON(w, status, res)
}

// Detailed reports per-dependency results plus the runtime details block.
func (h *Handler) Detailed(w http.ResponseWriter, r *http.Request) {
	res, status := h.evaluate(r)
	if h.details != nil {
		res.Details = h.details()
	}
	writeJSON(w, status, res)
}

func (h *Handler) evaluate(r *http.Request) (result, int) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
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

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	return res, status
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /live", h.Live)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/detailed", h.Detailed)
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
