package rivulet

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// collector holds the Prometheus series for one Client instance. A
// package-level set of metric vars would do for a single long-lived
// server process, but a library has to assume more than one Client may
// exist in the same process, so every series is created per-instance and
// registered only if the caller opts in via WithMetrics.
type collector struct {
	opTotal      *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	lockTimeouts *prometheus.CounterVec
	readMessages prometheus.Counter
	gcMessages   *prometheus.CounterVec
}

func newCollector() *collector {
	return &collector{
		opTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rivulet_operations_total",
			Help: "Total number of Channel Protocol operations, by op and outcome.",
		}, []string{"op", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rivulet_operation_duration_seconds",
			Help:    "Wall-clock time spent inside a Channel Protocol operation, including any advisory lock wait.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rivulet_lock_timeouts_total",
			Help: "Total number of advisory lock acquisitions that timed out, by op.",
		}, []string{"op"}),
		readMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rivulet_read_messages_total",
			Help: "Total number of envelopes returned across all read sweeps.",
		}),
		gcMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rivulet_gc_messages_total",
			Help: "Total number of messages removed by garbage collection, by path (cooperative-read, unsubscribe, compact).",
		}, []string{"path"}),
	}
}

func (c *collector) register(reg *prometheus.Registry) {
	if c == nil || reg == nil {
		return
	}
	reg.MustRegister(c.opTotal, c.opDuration, c.lockTimeouts, c.readMessages, c.gcMessages)
}

func (c *collector) observe(op string, start time.Time, err error) {
	if c == nil {
		return
	}
	c.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var te *TimeoutError
		if errors.As(err, &te) {
			c.lockTimeouts.WithLabelValues(op).Inc()
		}
	}
	c.opTotal.WithLabelValues(op, outcome).Inc()
}
