// Package health provides the HTTP liveness and readiness probes.
//
//   - /healthz — liveness; always 200 once the process serves HTTP.
//   - /readyz  — readiness; 200 only when every registered check passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map naming each probe result.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Check probes one dependency. Nil means healthy. It must respect context
// cancellation.
type Check func(ctx context.Context) error

// Pinger is anything with a context-aware liveness probe, like the postgres
// key-value store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ForPinger adapts a Pinger into a Check.
func ForPinger(p Pinger) Check {
	return p.Ping
}

// Handler serves the probe endpoints. Checks are fixed at construction time
// and evaluated concurrently on each /readyz request.
type Handler struct {
	checks map[string]Check
}

// New creates a Handler from named checks.
func New(checks map[string]Check) *Handler {
	copied := make(map[string]Check, len(checks))
	for name, c := range checks {
		copied[name] = c
	}
	return &Handler{checks: copied}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz always reports ok; a process that can answer is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every check with a per-check timeout and reports 503 when any
// fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
		allOK   = true
	)

	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[name] = "fail: " + err.Error()
				allOK = false
			} else {
				results[name] = "ok"
			}
		}(name, check)
	}
	wg.Wait()

	res := result{Status: "ok", Checks: results}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
