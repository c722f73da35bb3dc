package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "logreplay"
	metricsSubsystem = "ingest"
)

// Metrics instruments a Pipeline.
type Metrics struct {
	LinesRead       prometheus.Counter
	LinesRejected   prometheus.Counter
	RequestsQueued  prometheus.Counter
	RequestsEvicted prometheus.Counter
	RequestsStale   prometheus.Counter
	QueueLoad       prometheus.Gauge
	WorkingSet      prometheus.Gauge
	State           prometheus.Gauge
}

// NewMetrics creates pipeline metrics registered with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		})
	}
	return &Metrics{
		LinesRead:       counter("lines_read_total", "Log lines read from the source."),
		LinesRejected:   counter("lines_rejected_total", "Log lines that did not parse into a valid request."),
		RequestsQueued:  counter("requests_queued_total", "Requests handed to the replay queue."),
		RequestsEvicted: counter("requests_evicted_total", "Requests evicted from the visible window after ending."),
		RequestsStale:   counter("requests_stale_total", "Requests dequeued after they had already ended."),
		QueueLoad:       gauge("queue_load_percent", "Replay queue fill level in percent."),
		WorkingSet:      gauge("working_set_requests", "Parsed requests waiting to be queued."),
		State:           gauge("state", "Pipeline state: 0 idle, 1 running, 2 draining, 3 stopped."),
	}
}
