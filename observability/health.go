package observability

import "context"

type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// worse reports whether s is a more severe status than o.
func (s HealthStatus) worse(o HealthStatus) bool {
	rank := func(h HealthStatus) int {
		switch h {
		case HealthStatusUp:
			return 0
		case HealthStatusDegraded:
			return 1
		default:
			return 2
		}
	}
	return rank(s) > rank(o)
}

// Health is one component's report. Details holds per-stage states for a
// dataflow graph.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ServiceHealth aggregates component reports; its status is the worst
// component status.
type ServiceHealth struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Version    string       `json:"version,omitempty"`
	Components []Health     `json:"components,omitempty"`
}

// HealthChecker is implemented by components that can report their health.
// A dataflow graph reports up while running, degraded once an item has
// faulted and down before it starts or after it completes.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) Health

func (f HealthCheckFunc) CheckHealth(ctx context.Context) Health { return f(ctx) }

func NewServiceHealth(service, version string) *ServiceHealth {
	return &ServiceHealth{Service: service, Status: HealthStatusUp, Version: version}
}

func (sh *ServiceHealth) AddComponent(h Health) {
	sh.Components = append(sh.Components, h)
	if h.Status.worse(sh.Status) {
		sh.Status = h.Status
	}
}

// Check runs checkers in order and folds their reports into sh.
func (sh *ServiceHealth) Check(ctx context.Context, checkers ...HealthChecker) *ServiceHealth {
	for _, c := range checkers {
		sh.AddComponent(c.CheckHealth(ctx))
	}
	return sh
}

func (sh *ServiceHealth) Healthy() bool {
	return sh.Status == HealthStatusUp
}
