// Package health provides HTTP liveness and readiness probes.
//
//   - /healthz — liveness; always 200 while the process can serve HTTP.
//   - /readyz  — readiness; 200 only when every registered [Checker] passes,
//     503 otherwise.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map carrying the per-checker outcome, so an operator can see from
// the probe response which dependency is down.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// defaultCheckTimeout bounds a single readiness check.
const defaultCheckTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy; the error text of a failure ends up in the probe response.
type Checker struct {
	// Name is a short label for the dependency (e.g. "database", "backend").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. The checker list is
// fixed at construction time, so Handler is safe for concurrent use.
type Handler struct {
	checkers     []Checker
	checkTimeout time.Duration
}

// Option is a functional option for New.
type Option func(*Handler)

// WithCheckTimeout overrides the per-checker deadline (default 5s).
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) { h.checkTimeout = d }
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	h := &Handler{
		checkers:     append([]Checker(nil), checkers...),
		checkTimeout: defaultCheckTimeout,
	}
	return h
}

// NewWithOptions creates a [Handler] with options applied.
func NewWithOptions(checkers []Checker, opts ...Option) *Handler {
	h := New(checkers...)
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz is the liveness probe. It always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. It runs every checker under a per-check
// deadline and returns 503 when any of them fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		if err := h.runCheck(r.Context(), c); err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// runCheck executes one checker under the configured deadline.
func (h *Handler) runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain-text 500 when encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
