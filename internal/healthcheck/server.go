package healthcheck

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kailera/acertaia-api/pkg/utils"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthResponse is the response structure for health check endpoints
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Checker serves the liveness and readiness probes.
type Checker struct {
	version string
	checks  map[string]Pinger
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker creates a checker for the named dependencies.
func NewChecker(version string, logger *zap.Logger) *Checker {
	return &Checker{
		version: version,
		checks:  map[string]Pinger{},
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// Register adds a dependency to the readiness probe.
func (c *Checker) Register(name string, p Pinger) {
	if p != nil {
		c.checks[name] = p
	}
}

// HandleHealth handles the /health endpoint for liveness probes
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSONResponse(w, http.StatusOK, HealthResponse{Status: "UP", Version: c.version})
}

// HandleReady handles the /ready endpoint. Every registered dependency must
// answer its ping.
func (c *Checker) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := HealthResponse{
		Status:  "READY",
		Version: c.version,
		Details: map[string]string{"timestamp": utils.Now().Format(time.RFC3339)},
	}
	status := http.StatusOK
	for _, name := range names {
		if err := c.checks[name].Ping(ctx); err != nil {
			c.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			resp.Details[name] = "DOWN"
			resp.Status = "NOT_READY"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Details[name] = "UP"
	}

	utils.WriteJSONResponse(w, status, resp)
}
