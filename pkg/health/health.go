// Package health probes the external dependencies of a run (PostgreSQL,
// Redis) and reports their state, once at startup and over HTTP while a
// long build or prediction run is in progress.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// Check probes one dependency. A nil error means the dependency is up.
type Check func(ctx context.Context) error

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// Down lists the failed components in name order.
func (r Report) Down() []string {
	var names []string
	for name, c := range r.Components {
		if c.Status == StatusDown {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type Checker struct {
	mu     sync.RWMutex
	checks map[string]Check
	logger *slog.Logger
}

func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]Check),
		logger: slog.Default().With("component", "health"),
	}
}

func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Run executes every check concurrently. The report is down if any
// component is down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for name, check := range checks {
		name, check := name, check
		g.Go(func() error {
			start := time.Now()
			result := ComponentHealth{Status: StatusUp}
			if err := check(ctx); err != nil {
				result = ComponentHealth{Status: StatusDown, Message: err.Error()}
			}
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			report.Components[name] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	if down := report.Down(); len(down) > 0 {
		report.Status = StatusDown
		c.logger.Warn("dependencies down", "components", down)
	}
	return report
}

// Handler serves the report as JSON, with 503 when anything is down.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUp {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}
