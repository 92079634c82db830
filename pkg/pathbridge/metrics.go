// +build darwin linux

package pathbridge

import (
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
)

var (
	registerMetricsOnce sync.Once

	dispatchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pathbridge",
			Subsystem: "dispatch",
			Name:      "operation_duration_seconds",
			Help:      "Amount of time spent dispatching a single FUSE operation, in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"operation", "status"})

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pathbridge",
			Subsystem: "dispatch",
			Name:      "operations_total",
			Help:      "Total number of dispatched FUSE operations.",
		},
		[]string{"operation", "status"})
)

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(dispatchDurationSeconds, dispatchTotal)
	})
}

// recordDispatch wraps a single FileSystem method dispatch with a
// Prometheus duration histogram and counter, labelled by operation and
// status.
func recordDispatch(operation string, start time.Time, status Status) {
	label := statusLabel(status)
	dispatchDurationSeconds.WithLabelValues(operation, label).Observe(time.Since(start).Seconds())
	dispatchTotal.WithLabelValues(operation, label).Inc()
}

// statusLabel turns a Status into a Prometheus label value. unix.ErrnoName
// is used instead of fuse.Status.String() because the latter embeds the
// raw platform errno integer, which isn't a useful cardinality-bounded
// label across heterogeneous kernels.
func statusLabel(s Status) string {
	if s == OK {
		return "OK"
	}
	if name := unix.ErrnoName(syscall.Errno(s)); name != "" {
		return name
	}
	return "EUNKNOWN"
}
