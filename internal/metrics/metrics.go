// Package metrics defines the Prometheus collectors for the step
// engine. Importing the package registers them on the default
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session lifecycle metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_sessions_created_total",
			Help: "Total number of execution sessions created",
		},
	)

	SessionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_sessions_completed_total",
			Help: "Total number of sessions reaching a terminal state",
		},
		[]string{"status"},
	)

	SessionsResumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_sessions_resumed_total",
			Help: "Total number of successful session resumes",
		},
	)

	SessionsRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_sessions_retried_total",
			Help: "Total number of retry sessions created",
		},
	)

	SessionsSuspended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_sessions_suspended_total",
			Help: "Total number of suspensions on user-input steps",
		},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepflow_sessions_active",
			Help: "Number of sessions currently executing",
		},
	)

	// Step metrics
	StepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_steps_executed_total",
			Help: "Total number of steps executed",
		},
		[]string{"step_type", "status"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stepflow_step_duration_ms",
			Help:    "Step execution duration in milliseconds",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000, 120000},
		},
		[]string{"step_type"},
	)

	StepTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stepflow_step_timeouts_total",
			Help: "Total number of steps failed by the per-step timeout",
		},
	)

	// Storage metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_store_operations_total",
			Help: "Total number of session store operations",
		},
		[]string{"backend", "op", "status"},
	)

	// Streaming metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stepflow_events_published_total",
			Help: "Total number of execution events published",
		},
		[]string{"type"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stepflow_event_subscribers",
			Help: "Number of active event stream subscribers",
		},
	)
)
