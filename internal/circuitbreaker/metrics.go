package circuitbreaker

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atlas_circuit_breaker_state",
			Help: "Current breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"dependency"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_circuit_breaker_requests_total",
			Help: "Calls attempted through a breaker",
		},
		[]string{"dependency", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlas_circuit_breaker_state_changes_total",
			Help: "Breaker state transitions",
		},
		[]string{"dependency", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "atlas_circuit_breaker_open_since_seconds",
			Help: "Unix time the breaker opened (0 if not open)",
		},
		[]string{"dependency"},
	)
)

// Instrumented is a Breaker whose transitions and outcomes are exported
// to prometheus under its dependency name.
type Instrumented struct {
	*Breaker
}

// ForDependency builds an instrumented breaker using SettingsFor(name).
func ForDependency(name string, logger *zap.Logger) *Instrumented {
	s := SettingsFor(name)
	s.OnStateChange = func(dep string, from, to State) {
		breakerTransitions.WithLabelValues(dep, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(dep).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(dep).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(dep).Set(0)
		}
	}
	breakerState.WithLabelValues(name).Set(float64(StateClosed))
	return &Instrumented{Breaker: New(name, s, logger)}
}

// Execute runs fn through the breaker and counts the outcome.
func (i *Instrumented) Execute(ctx context.Context, fn func() error) error {
	err := i.Breaker.Execute(ctx, fn)
	result := "success"
	switch err {
	case nil:
	case ErrCircuitBreakerOpen, ErrTooManyRequests:
		result = "rejected"
	default:
		result = "failure"
	}
	breakerRequests.WithLabelValues(i.name, result).Inc()
	return err
}
