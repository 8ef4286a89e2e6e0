// Package health serves liveness and readiness for the observe server.
//
// /healthz answers 200 with the process uptime as long as HTTP is served.
// /readyz answers 200 only while every registered [Checker] passes: for the
// meter that means the audio session is Ready, the record stream is open and
// frames are still arriving. Both respond with a JSON object carrying a
// "status" of "ok" or "fail"; /readyz adds the outcome of each check.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name keys the check in the /readyz response, e.g. "session".
	Name string

	// Check must return once ctx is done.
	Check func(ctx context.Context) error
}

type result struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	started  time.Time
}

// New returns a Handler evaluating checkers in order on each /readyz request.
// Check names must be unique; New panics on a duplicate, since a later check
// would otherwise hide an earlier failure.
func New(checkers ...Checker) *Handler {
	seen := make(map[string]bool, len(checkers))
	for _, c := range checkers {
		if seen[c.Name] {
			panic(fmt.Sprintf("health: duplicate checker %q", c.Name))
		}
		seen[c.Name] = true
	}
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		started:  time.Now(),
	}
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: h.uptime()})
}

// Readyz reports 503 as soon as one check fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.evaluate(r.Context())
	res := result{Status: "ok", Uptime: h.uptime(), Checks: checks}
	code := http.StatusOK
	if !ok {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// evaluate runs every checker and reports whether all of them passed.
func (h *Handler) evaluate(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ok := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ok = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ok
}

func (h *Handler) uptime() string {
	return time.Since(h.started).Round(time.Second).String()
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}
