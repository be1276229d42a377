// Package metrics implements the Prometheus metrics surface (C12): queue
// depth, tool invocation latency, approval wait time, and task state
// transitions. Grounded on the promauto-registered *Metrics struct pattern
// from the corpus's observability package, scoped down to the counters and
// histograms this module's components actually emit.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide metrics registry, wired once in
// cmd/moonbotd/main.go and passed by reference to the components that
// record against it.
type Metrics struct {
	// QueueDepth tracks the current number of queued (not yet running)
	// tasks per channel (internal/queue).
	QueueDepth *prometheus.GaugeVec

	// QueueWait measures time a task spent queued before a worker
	// slot opened up.
	QueueWait *prometheus.HistogramVec

	// TaskDuration measures total task wall-clock time by outcome.
	TaskDuration *prometheus.HistogramVec

	// TaskOutcome counts tasks by terminal status (done|failed|aborted).
	TaskOutcome *prometheus.CounterVec

	// ToolInvokeDuration measures Tool Runtime invocation latency by
	// tool id and outcome (ok|error|awaiting_approval).
	ToolInvokeDuration *prometheus.HistogramVec

	// ToolInvokeCounter counts invocations by tool id and outcome.
	ToolInvokeCounter *prometheus.CounterVec

	// ApprovalWait measures time from RequestApproval to resolution.
	ApprovalWait *prometheus.HistogramVec

	// ApprovalOutcome counts resolved approvals by decision
	// (approved|rejected|expired).
	ApprovalOutcome *prometheus.CounterVec

	// GatewayConnections is a gauge of currently connected WebSocket
	// clients.
	GatewayConnections prometheus.Gauge

	// RPCErrors counts sanitized RPC error responses by moonerr code.
	RPCErrors *prometheus.CounterVec
}

// New registers and returns the full metrics set against the default
// Prometheus registry. Call once at process startup.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "moonbot_queue_depth",
				Help: "Current number of queued, not yet running tasks by channel",
			},
			[]string{"channel"},
		),
		QueueWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moonbot_queue_wait_seconds",
				Help:    "Time a task spent queued before it began running",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"channel"},
		),
		TaskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moonbot_task_duration_seconds",
				Help:    "Total task wall-clock time by terminal status",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		TaskOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonbot_tasks_total",
				Help: "Total number of tasks by terminal status",
			},
			[]string{"status"},
		),
		ToolInvokeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moonbot_tool_invoke_duration_seconds",
				Help:    "Tool Runtime invocation latency by tool id and outcome",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_id", "outcome"},
		),
		ToolInvokeCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonbot_tool_invocations_total",
				Help: "Total number of tool invocations by tool id and outcome",
			},
			[]string{"tool_id", "outcome"},
		),
		ApprovalWait: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moonbot_approval_wait_seconds",
				Help:    "Time from approval request to resolution",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 600, 1800, 3600},
			},
			[]string{"tool_id"},
		),
		ApprovalOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonbot_approvals_total",
				Help: "Total number of resolved approvals by decision",
			},
			[]string{"decision"},
		),
		GatewayConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "moonbot_gateway_connections",
				Help: "Current number of connected Gateway WebSocket clients",
			},
		),
		RPCErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moonbot_rpc_errors_total",
				Help: "Total number of sanitized RPC error responses by error code",
			},
			[]string{"code"},
		),
	}
}

// ObserveQueueWait records how long a task waited in queue for channel.
func (m *Metrics) ObserveQueueWait(channel string, wait time.Duration) {
	m.QueueWait.WithLabelValues(channel).Observe(wait.Seconds())
}

// SetQueueDepth sets the current queue depth gauge for channel.
func (m *Metrics) SetQueueDepth(channel string, depth int) {
	m.QueueDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordTask records a task's terminal status and total duration.
func (m *Metrics) RecordTask(status string, duration time.Duration) {
	m.TaskOutcome.WithLabelValues(status).Inc()
	m.TaskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordToolInvoke records a single Tool Runtime invocation.
func (m *Metrics) RecordToolInvoke(toolID, outcome string, duration time.Duration) {
	m.ToolInvokeCounter.WithLabelValues(toolID, outcome).Inc()
	m.ToolInvokeDuration.WithLabelValues(toolID, outcome).Observe(duration.Seconds())
}

// RecordApprovalResolved records an approval's resolution and total wait.
func (m *Metrics) RecordApprovalResolved(toolID, decision string, wait time.Duration) {
	m.ApprovalOutcome.WithLabelValues(decision).Inc()
	m.ApprovalWait.WithLabelValues(toolID).Observe(wait.Seconds())
}

// RecordRPCError increments the error counter for a sanitized error code.
func (m *Metrics) RecordRPCError(code string) {
	m.RPCErrors.WithLabelValues(code).Inc()
}

// IncGatewayConnections records a newly accepted WebSocket client.
func (m *Metrics) IncGatewayConnections() { m.GatewayConnections.Inc() }

// DecGatewayConnections records a closed WebSocket client.
func (m *Metrics) DecGatewayConnections() { m.GatewayConnections.Dec() }
