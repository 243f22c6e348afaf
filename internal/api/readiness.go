package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Check reports the health of one dependency. A nil error means ok.
type Check func() error

type readinessCheck struct {
	check    Check
	optional bool
}

// Readiness aggregates dependency checks for /ready. Optional checks are
// reported but never make the server unready.
type Readiness struct {
	mu     sync.RWMutex
	checks map[string]readinessCheck
}

// NewReadiness returns an empty set of checks, which is ready.
func NewReadiness() *Readiness {
	return &Readiness{checks: make(map[string]readinessCheck)}
}

// Add registers or replaces the check called name.
func (r *Readiness) Add(name string, optional bool, check Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[name] = readinessCheck{check: check, optional: optional}
}

type CheckResult struct {
	Status   string `json:"status"`
	Optional bool   `json:"optional,omitempty"`
	Error    string `json:"error,omitempty"`
}

type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

// Evaluate runs every check.
func (r *Readiness) Evaluate() ReadinessResponse {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	checks := make(map[string]readinessCheck, len(r.checks))
	for k, v := range r.checks {
		checks[k] = v
	}
	r.mu.RUnlock()
	sort.Strings(names)

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckResult, len(names))}
	for _, name := range names {
		c := checks[name]
		res := CheckResult{Status: "ok", Optional: c.optional}
		if err := c.check(); err != nil {
			res.Status = "fail"
			res.Error = err.Error()
			if !c.optional {
				resp.Ready = false
			}
		}
		resp.Checks[name] = res
	}
	return resp
}

func (r *Readiness) handler(w http.ResponseWriter, _ *http.Request) {
	resp := r.Evaluate()
	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
