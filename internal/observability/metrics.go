package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pars",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatchLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "dispatch",
			Name:      "lines_total",
			Help:      "Finished lines by terminal state.",
		},
		[]string{"state"},
	)
	dispatchSubCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "dispatch",
			Name:      "subcommands_total",
			Help:      "Executed sub-commands by slot kind and outcome.",
		},
		[]string{"slot", "success"},
	)
	dispatchSubCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pars",
			Subsystem: "dispatch",
			Name:      "subcommand_duration_seconds",
			Help:      "Sub-command round trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"slot"},
	)
	dispatchSlotsRetired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "dispatch",
			Name:      "slots_retired_total",
			Help:      "Slots retired after a transport failure.",
		},
		[]string{"slot"},
	)
	dispatchFailureObserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "dispatch",
			Name:      "failure_observed_total",
			Help:      "Times the termination flag flipped to failure observed.",
		},
	)
	workerSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pars",
			Subsystem: "worker",
			Name:      "sessions",
			Help:      "Open dispatcher sessions on this worker.",
		},
		[]string{"worker"},
	)
	workerExecs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pars",
			Subsystem: "worker",
			Name:      "execs_total",
			Help:      "Sub-commands executed by the worker.",
		},
		[]string{"worker", "success"},
	)
	workerExecDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pars",
			Subsystem: "worker",
			Name:      "exec_duration_seconds",
			Help:      "Worker sub-command duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"worker"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			dispatchLines,
			dispatchSubCommands,
			dispatchSubCommandDuration,
			dispatchSlotsRetired,
			dispatchFailureObserved,
			workerSessions,
			workerExecs,
			workerExecDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLine(state string) {
	RegisterMetrics()
	dispatchLines.WithLabelValues(state).Inc()
}

func RecordSubCommand(slot string, success bool, duration time.Duration) {
	RegisterMetrics()
	dispatchSubCommands.WithLabelValues(slot, strconv.FormatBool(success)).Inc()
	dispatchSubCommandDuration.WithLabelValues(slot).Observe(duration.Seconds())
}

func RecordSlotRetired(slot string) {
	RegisterMetrics()
	dispatchSlotsRetired.WithLabelValues(slot).Inc()
}

func RecordFailureObserved() {
	RegisterMetrics()
	dispatchFailureObserved.Inc()
}

func WorkerSessionOpened(worker string) {
	RegisterMetrics()
	workerSessions.WithLabelValues(worker).Inc()
}

func WorkerSessionClosed(worker string) {
	RegisterMetrics()
	workerSessions.WithLabelValues(worker).Dec()
}

func RecordWorkerExec(worker string, success bool, duration time.Duration) {
	RegisterMetrics()
	workerExecs.WithLabelValues(worker, strconv.FormatBool(success)).Inc()
	workerExecDuration.WithLabelValues(worker).Observe(duration.Seconds())
}
