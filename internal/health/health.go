// Package health serves liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] and answers 503 if any of them fails, with a
// JSON body reporting each check by name.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency is
// usable and must respect context cancellation.
type Checker struct {
	// Name keys the check's result in the /readyz response, e.g. "database".
	Name string

	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] over the given checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz is the readiness probe. Checks run sequentially, each with its own
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := probeResult{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
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

func (h *Handler) runCheck(ctx context.Context, c Checker) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.Check(ctx)
}

type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
