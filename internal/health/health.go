// Package health serves the profiler's liveness and readiness probes.
//
// /healthz reports process liveness and always answers 200: a profiler that
// can serve HTTP is alive, even while every source is reconnecting.
// /readyz answers 200 only while the pipeline can still turn audio into
// published events — the classifier is loaded, the publish sink accepts
// events, and at least one source is streaming (see [ClassifierChecker],
// [SinkChecker], and [SourcesChecker]). Orchestrators should restart the
// process on a failing /healthz but only withhold traffic on a failing
// /readyz: a degraded source recovers on its own retry schedule.
//
// Responses are JSON with a top-level "status" of "ok" or "fail" and a
// "checks" map naming each probe's result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// readyTimeout bounds one readiness check. The checkers only inspect
// in-process state, so anything slower than this is itself a failure.
const readyTimeout = 2 * time.Second

// Checker is one named readiness probe. Check returns nil while the probed
// subsystem can do its part of the pipeline and an error describing what is
// wrong otherwise.
type Checker struct {
	// Name keys this probe's result in the "checks" map of the response
	// (e.g. "classifier", "sink", "sources").
	Name string

	// Check probes the subsystem. It must respect ctx cancellation.
	Check func(ctx context.Context) error
}

// report is the JSON body of both probe endpoints.
type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. The checker set is
// fixed at construction; the handler itself is stateless and safe for
// concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers, in order, on every
// /readyz request. No checkers means always ready.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. It never consults the checkers.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz is the readiness probe: 200 when every checker passes, 503 with the
// failing checks named otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, failed := h.runChecks(r.Context())

	rep := report{Status: "ok", Checks: checks}
	code := http.StatusOK
	if failed > 0 {
		rep.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// runChecks evaluates all checkers, each under its own [readyTimeout] budget
// derived from ctx, and reports the per-check results and the failure count.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, int) {
	checks := make(map[string]string, len(h.checkers))
	failed := 0
	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, readyTimeout)
		err := c.Check(checkCtx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			failed++
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, failed
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// degrades to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
