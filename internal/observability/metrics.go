package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	steps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "step",
			Name:      "total",
			Help:      "Completed lockstep turns.",
		},
		[]string{"role"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lockstep",
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Wall time of one turn, barrier wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"role"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "frame",
			Name:      "bytes_total",
			Help:      "Frame bytes moved, trailer included.",
		},
		[]string{"role"},
	)
	infoBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "info",
			Name:      "bytes_total",
			Help:      "Telemetry blob bytes moved.",
		},
		[]string{"role"},
	)
	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events.",
		},
		[]string{"role", "event"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lockstep",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"role", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(steps, stepDuration, frameBytes, infoBytes, sessionEvents, httpRequests)
	})
}

// RecordStep counts one completed turn for role.
func RecordStep(role string, frameLen, infoLen int, duration time.Duration) {
	RegisterMetrics()
	steps.WithLabelValues(role).Inc()
	stepDuration.WithLabelValues(role).Observe(duration.Seconds())
	frameBytes.WithLabelValues(role).Add(float64(frameLen))
	if infoLen > 0 {
		infoBytes.WithLabelValues(role).Add(float64(infoLen))
	}
}

// RecordSessionEvent counts accepted/dialed/closed style transitions.
func RecordSessionEvent(role, event string) {
	RegisterMetrics()
	sessionEvents.WithLabelValues(role, event).Inc()
}

func RecordHTTPRequest(role, method, path string, status int) {
	RegisterMetrics()
	httpRequests.WithLabelValues(role, method, path, strconv.Itoa(status)).Inc()
}
