// Package metrics defines all Prometheus metrics for dhcp-callout.
// All metrics use the "dhcp_callout_" prefix.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dhcp_callout"

// --- Server-side Invocation Metrics ---

var (
	// Invocations counts hook invocations by hook type and outcome
	// (proceed, override, reject, no_listener, timeout, lock_error, malformed, disabled).
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "invocations_total",
		Help:      "Total callout invocations, by hook and outcome.",
	}, []string{"hook", "outcome"})

	// InvocationDuration tracks the round trip of a callout, lock wait included.
	InvocationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "invocation_duration_seconds",
		Help:      "Callout round trip duration in seconds.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
	}, []string{"hook"})

	// HooksDisabled is 1 once a lock failure has disabled callouts.
	HooksDisabled = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hooks_disabled",
		Help:      "Whether callouts are disabled after a lock failure (1) or active (0).",
	})
)

// --- Peer-side Metrics ---

var (
	// CalloutsHandled counts envelopes answered by the peer, by hook and control code.
	CalloutsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callouts_handled_total",
		Help:      "Total callouts answered by the peer, by hook and control code.",
	}, []string{"hook", "control"})

	// PolicyDuration tracks policy evaluation latency per policy kind.
	PolicyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "policy_duration_seconds",
		Help:      "Policy evaluation duration in seconds.",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 2.5},
	}, []string{"policy"})

	// PolicyErrors counts policy failures that fell back to proceed.
	PolicyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "policy_errors_total",
		Help:      "Total policy evaluation errors, by policy kind.",
	}, []string{"policy"})

	// ScriptExecutions counts script policy runs by status.
	ScriptExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "script_executions_total",
		Help:      "Total script policy executions, by status.",
	}, []string{"status"})
)

// --- Event Bus Metrics ---

var (
	// EventsPublished counts events published to the event bus.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total events published to the event bus, by type.",
	}, []string{"event_type"})

	// EventBufferDrops counts events dropped due to full buffer.
	EventBufferDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_buffer_drops_total",
		Help:      "Total events dropped due to full event buffer.",
	})
)

// --- Journal Metrics ---

var (
	// JournalRecords is a gauge of records held in the callout journal.
	JournalRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "journal_records",
		Help:      "Number of records in the callout journal.",
	})

	// JournalErrors counts failed journal writes.
	JournalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "journal_errors_total",
		Help:      "Total failed callout journal writes.",
	})
)

// --- Packet Metrics ---

var (
	// PacketErrors counts embedded packets that failed to decode, by stage.
	PacketErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "packet_errors_total",
		Help:      "Total embedded packet decode errors, by stage.",
	}, []string{"stage"})
)

// --- System Metrics ---

var (
	// StartTime records the process start time as unix timestamp.
	StartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "start_time_seconds",
		Help:      "Unix timestamp when the process started.",
	})

	// Info exposes the version as a label.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "info",
		Help:      "Build information.",
	}, []string{"version", "role"})
)
