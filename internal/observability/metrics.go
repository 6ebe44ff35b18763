package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus collectors.
//
// All recording methods are no-ops on a nil receiver.
type Metrics struct {
	// MentionsHandled counts mention turns by outcome.
	// Labels: outcome (replied|failed|duplicate|ignored)
	MentionsHandled *prometheus.CounterVec

	// TurnDuration measures a whole turn from event to reply, in seconds.
	TurnDuration prometheus.Histogram

	// ToolRounds observes how many tool rounds a turn needed.
	ToolRounds prometheus.Histogram

	// ModelRequestDuration measures model round-trip latency in seconds.
	// Labels: model, status (success|error)
	ModelRequestDuration *prometheus.HistogramVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|not_found|invalid_args)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// MediaResolutions counts attachment resolutions.
	// Labels: outcome (hit|upload|reupload|unsupported|timeout|error)
	MediaResolutions *prometheus.CounterVec

	// Errors tracks failures by component.
	// Labels: component (slack|thread|agent|gemini|media|bridge), error_type
	Errors *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MentionsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackagent_mentions_total",
				Help: "Total number of mention events handled, by outcome",
			},
			[]string{"outcome"},
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slackagent_turn_duration_seconds",
				Help:    "Duration of a full mention turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		ToolRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "slackagent_tool_rounds",
				Help:    "Number of tool rounds per completed turn",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 10},
			},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slackagent_model_request_duration_seconds",
				Help:    "Duration of model API round-trips in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model", "status"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackagent_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "slackagent_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool"},
		),

		MediaResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackagent_media_resolutions_total",
				Help: "Total number of attachment resolutions by outcome",
			},
			[]string{"outcome"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "slackagent_errors_total",
				Help: "Total number of errors by component and type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// MentionHandled records the outcome of one mention event.
func (m *Metrics) MentionHandled(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MentionsHandled.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.TurnDuration.Observe(duration.Seconds())
	}
}

// RecordToolRounds records the number of tool rounds a turn took.
func (m *Metrics) RecordToolRounds(rounds int) {
	if m == nil {
		return
	}
	m.ToolRounds.Observe(float64(rounds))
}

// RecordModelRequest records one model round-trip.
func (m *Metrics) RecordModelRequest(model, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ModelRequestDuration.WithLabelValues(model, status).Observe(duration.Seconds())
}

// RecordToolExecution records one tool invocation.
func (m *Metrics) RecordToolExecution(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// MediaResolved records the outcome of one attachment resolution.
func (m *Metrics) MediaResolved(outcome string) {
	if m == nil {
		return
	}
	m.MediaResolutions.WithLabelValues(outcome).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, errorType string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component, errorType).Inc()
}
