package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "rpcqueue"
	metricsSubsystem = "dispatch"
	queueLabel       = "queue"
)

// Metrics exports queue events as Prometheus collectors, labelled by queue
// name.
type Metrics struct {
	admitted     *prometheus.CounterVec
	admitBytes   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	requeued     *prometheus.CounterVec
	completed    *prometheus.CounterVec
	abandoned    *prometheus.CounterVec
	usage        *prometheus.GaugeVec
	outstanding  *prometheus.GaugeVec
	pending      *prometheus.GaugeVec
	workerUp     *prometheus.GaugeVec
	cycleAttempt *prometheus.HistogramVec
}

// NewMetrics creates the dispatch collectors and registers them with reg.
// It panics if they are already registered, like prometheus.MustRegister.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, append([]string{queueLabel}, labels...))
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}, []string{queueLabel})
	}

	cycles := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsSubsystem,
		Name:      "attempts_per_success",
		Help:      "Attempts taken by the final cycle of each succeeded task.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13},
	}, []string{queueLabel})

	m := &Metrics{
		admitted:     counter("tasks_admitted_total", "Count of tasks admitted to the queue."),
		admitBytes:   counter("admitted_bytes_total", "Cumulative payload bytes admitted to the queue."),
		dropped:      counter("tasks_dropped_total", "Count of tasks rejected because the queue was closed."),
		attempts:     counter("failed_attempts_total", "Count of failed execution attempts by failure class.", "class"),
		requeued:     counter("tasks_requeued_total", "Count of tasks put back at the front after exhausting retries."),
		completed:    counter("tasks_completed_total", "Count of tasks that succeeded."),
		abandoned:    counter("tasks_abandoned_total", "Count of tasks discarded when a failed worker was restarted."),
		usage:        gauge("usage_bytes", "Payload bytes held by admitted tasks that have not succeeded."),
		outstanding:  gauge("outstanding_tasks", "Tasks admitted but not yet succeeded."),
		pending:      gauge("pending_tasks", "Tasks waiting for the worker."),
		workerUp:     gauge("worker_up", "1 while the queue worker is running, 0 once stopped or failed."),
		cycleAttempt: cycles,
	}

	reg.MustRegister(
		m.admitted, m.admitBytes, m.dropped, m.attempts, m.requeued,
		m.completed, m.abandoned, m.usage, m.outstanding, m.pending,
		m.workerUp, m.cycleAttempt,
	)
	return m
}

// Observer returns an Observer that records events for the named queue.
func (m *Metrics) Observer(queue string) Observer {
	return &queueMetrics{m: m, queue: queue}
}

type queueMetrics struct {
	m     *Metrics
	queue string
}

func (o *queueMetrics) TaskAdmitted(size int) {
	o.m.admitted.WithLabelValues(o.queue).Inc()
	o.m.admitBytes.WithLabelValues(o.queue).Add(float64(size))
}

func (o *queueMetrics) TaskDropped() {
	o.m.dropped.WithLabelValues(o.queue).Inc()
}

func (o *queueMetrics) AttemptFailed(transient bool) {
	class := "fatal"
	if transient {
		class = "transient"
	}
	o.m.attempts.WithLabelValues(o.queue, class).Inc()
}

func (o *queueMetrics) TaskRequeued() {
	o.m.requeued.WithLabelValues(o.queue).Inc()
}

func (o *queueMetrics) TaskCompleted(attempts int) {
	o.m.completed.WithLabelValues(o.queue).Inc()
	o.m.cycleAttempt.WithLabelValues(o.queue).Observe(float64(attempts))
}

func (o *queueMetrics) TaskAbandoned() {
	o.m.abandoned.WithLabelValues(o.queue).Inc()
}

func (o *queueMetrics) WorkerStatus(s Status) {
	up := 0.0
	if s == StatusRunning {
		up = 1
	}
	o.m.workerUp.WithLabelValues(o.queue).Set(up)
}

func (o *queueMetrics) Levels(usage, outstanding, pending int) {
	o.m.usage.WithLabelValues(o.queue).Set(float64(usage))
	o.m.outstanding.WithLabelValues(o.queue).Set(float64(outstanding))
	o.m.pending.WithLabelValues(o.queue).Set(float64(pending))
}
