package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the process's collectors. A nil *Registry is valid and
// records nothing, so jobs and the LIS client can run without metrics.
type Registry struct {
	reg          *prometheus.Registry
	SyncRuns     *prometheus.CounterVec
	SyncRecords  *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
	LISRequests  *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "labdesk_sync_runs_total",
		Help: "Reconciliation passes by job and outcome.",
	}, []string{"job", "result"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "labdesk_sync_records_total",
		Help: "Records touched by reconciliation passes.",
	}, []string{"job", "action"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "labdesk_sync_duration_seconds",
		Help:    "Wall time of reconciliation passes.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	lis := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "labdesk_lis_requests_total",
		Help: "Requests sent to the external LIS by method and status code.",
	}, []string{"method", "status"})

	r.MustRegister(runs, records, duration, lis)
	r.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return &Registry{
		reg:          r,
		SyncRuns:     runs,
		SyncRecords:  records,
		SyncDuration: duration,
		LISRequests:  lis,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }

// ObserveRun records one pass. result is "ok", "noop", "error", "skipped" or
// "locked".
func (r *Registry) ObserveRun(job, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.SyncRuns.WithLabelValues(job, result).Inc()
	r.SyncDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// AddRecords counts n records under action; zero counts are dropped.
func (r *Registry) AddRecords(job, action string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.SyncRecords.WithLabelValues(job, action).Add(float64(n))
}

// ObserveLISRequest counts one LIS call. status 0 means the remote was unreachable.
func (r *Registry) ObserveLISRequest(method string, status int) {
	if r == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.LISRequests.WithLabelValues(method, label).Inc()
}
