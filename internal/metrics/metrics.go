// ABOUTME: Prometheus collectors for agent connections, task dispatch, and capture sessions.
// ABOUTME: Implements the metrics hooks consumed by the agent, dispatch, and utsc packages.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/svdleer/PyPNMGui-sub000/internal/agent"
)

// Metrics holds every collector the gateway exports.
type Metrics struct {
	agentsConnected prometheus.Gauge
	authFailures    prometheus.Counter
	supersessions   prometheus.Counter

	tasksPending   prometheus.Gauge
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	sessionsActive  prometheus.Gauge
	sessionsEnded   *prometheus.CounterVec
	triggers        prometheus.Counter
	parseErrors     prometheus.Counter
	samplesStreamed prometheus.Counter
	samplesDropped  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		agentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnm_agents_connected",
			Help: "Number of authenticated agents in the registry.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_agent_auth_failures_total",
			Help: "Agent handshakes rejected for a bad token or timeout.",
		}),
		supersessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_agent_supersessions_total",
			Help: "Agent connections closed because the same id re-authenticated.",
		}),
		tasksPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnm_tasks_pending",
			Help: "Tasks sent to agents and not yet resolved.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pnm_tasks_completed_total",
			Help: "Resolved tasks by outcome.",
		}, []string{"command", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pnm_task_duration_seconds",
			Help:    "Time from task submission to resolution.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"command"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pnm_capture_sessions_active",
			Help: "Live UTSC capture sessions.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pnm_capture_sessions_ended_total",
			Help: "Finished capture sessions by reason.",
		}, []string{"reason"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_capture_triggers_total",
			Help: "UTSC triggers issued, including re-triggers.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_capture_parse_errors_total",
			Help: "Capture files that could not be parsed.",
		}),
		samplesStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_capture_samples_streamed_total",
			Help: "Spectrum samples delivered to subscribers.",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pnm_capture_samples_dropped_total",
			Help: "Samples discarded because a session buffer was full.",
		}),
	}

	reg.MustRegister(
		m.agentsConnected, m.authFailures, m.supersessions,
		m.tasksPending, m.tasksCompleted, m.taskDuration,
		m.sessionsActive, m.sessionsEnded, m.triggers,
		m.parseErrors, m.samplesStreamed, m.samplesDropped,
	)
	return m
}

// AgentConnected implements agent.Observer.
func (m *Metrics) AgentConnected(*agent.Connection) { m.agentsConnected.Inc() }

// AgentSuperseded implements agent.Observer.
func (m *Metrics) AgentSuperseded(*agent.Connection) {
	m.supersessions.Inc()
	m.agentsConnected.Dec()
}

// AgentDisconnected implements agent.Observer.
func (m *Metrics) AgentDisconnected(*agent.Connection) { m.agentsConnected.Dec() }

// AuthFailed counts a rejected handshake.
func (m *Metrics) AuthFailed() { m.authFailures.Inc() }

// TaskStarted implements dispatch.Metrics.
func (m *Metrics) TaskStarted(string) { m.tasksPending.Inc() }

// TaskFinished implements dispatch.Metrics.
func (m *Metrics) TaskFinished(command, outcome string, elapsed time.Duration) {
	m.tasksPending.Dec()
	m.tasksCompleted.WithLabelValues(command, outcome).Inc()
	m.taskDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// SessionStarted implements utsc.Metrics.
func (m *Metrics) SessionStarted() { m.sessionsActive.Inc() }

// SessionEnded implements utsc.Metrics.
func (m *Metrics) SessionEnded(reason string) {
	m.sessionsActive.Dec()
	m.sessionsEnded.WithLabelValues(reason).Inc()
}

// TriggerIssued implements utsc.Metrics.
func (m *Metrics) TriggerIssued() { m.triggers.Inc() }

// ParseFailed implements utsc.Metrics.
func (m *Metrics) ParseFailed() { m.parseErrors.Inc() }

// SampleStreamed implements utsc.Metrics.
func (m *Metrics) SampleStreamed() { m.samplesStreamed.Inc() }

// SampleDropped implements utsc.Metrics.
func (m *Metrics) SampleDropped() { m.samplesDropped.Inc() }
