package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const readinessTimeout = 3 * time.Second

// CheckFunc probes a single dependency the gateway needs to serve requests.
type CheckFunc func(ctx context.Context) error

// HealthChecker aggregates readiness across the gateway's dependencies.
// Checks are registered during wiring and evaluated on every readiness probe.
type HealthChecker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	order  []string // registration order, kept for stable evaluation
	logger *slog.Logger
}

// HealthStatus is the JSON response for health/readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"` // "ok" or "degraded"
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		checks: make(map[string]CheckFunc),
		logger: logger,
	}
}

// AddCheck registers a named readiness check. Re-registering a name replaces
// the earlier check.
func (h *HealthChecker) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.order = append(h.order, name)
	}
	h.checks[name] = check
}

// AddSandboxRootCheck registers the check that the sandbox root exists and is
// a directory. Every task execution, file read, fetch and query depends on it,
// so a missing root means the service cannot do useful work.
func (h *HealthChecker) AddSandboxRootCheck(root string) {
	h.AddCheck("sandbox_root", func(context.Context) error {
		info, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	})
}

// CheckHealth reports liveness. The process answering at all is the signal.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: "ok"}
}

// CheckReady evaluates every registered check under a shared deadline and
// returns "ok" only when all pass, "degraded" otherwise.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.Lock()
	order := make([]string, len(h.order))
	copy(order, h.order)
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	if len(order) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make(map[string]CheckResult, len(order)),
	}
	for _, name := range order {
		err := checks[name](checkCtx)
		if err == nil {
			status.Checks[name] = CheckResult{Status: "ok"}
			continue
		}
		status.Status = "degraded"
		status.Checks[name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
		}
	}
	return status
}
