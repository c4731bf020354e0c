package resilience

// ---------------------------------------------------------------------------
// HealthReporter interface
// ---------------------------------------------------------------------------.

type (
	// HealthReporter is implemented by named health adapters around the
	// resilience primitives, so readiness checks can treat a breaker, a
	// bulkhead, or a composite of several the same way.
	HealthReporter interface {
		// Name returns the reporter's name.
		Name() string
		// HealthStatus returns the current health state.
		HealthStatus() PolicyStatus
	}

	// Criticality represents how a pattern's unhealthy state affects readiness.
	Criticality int

	// PolicyStatus represents the current health state of a reporter.
	PolicyStatus struct {
		Name         string         `json:"name"`
		State        string         `json:"state"`
		Dependencies []PolicyStatus `json:"dependencies,omitempty"`
		Criticality  Criticality    `json:"criticality"`
		Healthy      bool           `json:"healthy"`
	}

	// ReadinessStatus is the aggregate result of a [HealthRegistry.CheckReadiness] call.
	ReadinessStatus struct {
		Policies []PolicyStatus `json:"policies"`
		Ready    bool           `json:"ready"`
	}
)

const (
	// CriticalityNone means the pattern has no persistent health state.
	CriticalityNone Criticality = iota
	// CriticalityDegraded means the service can still serve but is impaired.
	CriticalityDegraded
	// CriticalityCritical means the service cannot reliably serve requests.
	CriticalityCritical
)

// String returns the criticality level as a human-readable string.
func (c Criticality) String() string {
	switch c {
	case CriticalityDegraded:
		return "degraded"
	case CriticalityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ---------------------------------------------------------------------------
// namedHealthReporter — generic HealthReporter built from a name and an
// assessment closure, so each primitive gets a reporter without itself
// needing to carry a name or implement the interface directly.
// ---------------------------------------------------------------------------.

type namedHealthReporter struct {
	name   string
	assess func() PolicyStatus
}

func (n *namedHealthReporter) Name() string { return n.name }

func (n *namedHealthReporter) HealthStatus() PolicyStatus { return n.assess() }

// CircuitBreakerHealth adapts cb into a HealthReporter: StateOpen is
// Critical/unhealthy, StateHalfOpen is reported but not unhealthy (it is
// recovering), StateClosed is healthy.
func CircuitBreakerHealth(name string, cb *CircuitBreaker) HealthReporter {
	return &namedHealthReporter{
		name: name,
		assess: func() PolicyStatus {
			status := PolicyStatus{Name: name, Healthy: true, State: "healthy"}

			switch cb.State() {
			case StateOpen:
				status.Healthy = false
				status.Criticality = CriticalityCritical
				status.State = "circuit_open"
			case StateHalfOpen:
				status.State = "circuit_half_open"
			case StateClosed:
			}

			return status
		},
	}
}

// BulkheadHealth adapts bh into a HealthReporter: a bulkhead with no spare
// concurrency capacity is Degraded, never Critical — callers still get
// served, just queued or rejected.
func BulkheadHealth(name string, bh *Bulkhead) HealthReporter {
	return &namedHealthReporter{
		name: name,
		assess: func() PolicyStatus {
			status := PolicyStatus{Name: name, Healthy: true, State: "healthy"}

			if stats := bh.Statistics(); stats.AvailableCapacity <= 0 {
				status.Criticality = CriticalityDegraded
				status.State = "bulkhead_full"
			}

			return status
		},
	}
}

// RateLimiterHealth adapts any rate limiter exposing saturated into a
// HealthReporter. Saturation is Degraded, never Critical.
func RateLimiterHealth(name string, saturated func() bool) HealthReporter {
	return &namedHealthReporter{
		name: name,
		assess: func() PolicyStatus {
			status := PolicyStatus{Name: name, Healthy: true, State: "healthy"}

			if saturated() {
				status.Criticality = CriticalityDegraded
				status.State = "rate_limited"
			}

			return status
		},
	}
}

// CompositeHealth aggregates deps into a single HealthReporter: the
// composite's criticality is the worst of its dependencies', and it is
// unhealthy if any dependency is Critical and unhealthy.
func CompositeHealth(name string, deps ...HealthReporter) HealthReporter {
	return &namedHealthReporter{
		name: name,
		assess: func() PolicyStatus {
			status := PolicyStatus{Name: name, Healthy: true, State: "healthy"}

			for _, dep := range deps {
				depStatus := dep.HealthStatus()
				status.Dependencies = append(status.Dependencies, depStatus)

				if depStatus.Criticality == CriticalityCritical && !depStatus.Healthy {
					status.Healthy = false
					status.Criticality = CriticalityCritical

					if status.State == "healthy" {
						status.State = "dependency_unhealthy"
					}

					continue
				}

				if depStatus.Criticality > status.Criticality {
					status.Criticality = depStatus.Criticality
				}
			}

			return status
		},
	}
}
