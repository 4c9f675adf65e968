package diag

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dokzlo13/pollsync/internal/reconcile"
)

// MetricsSink exports diagnostics as Prometheus metrics.
type MetricsSink struct {
	runs                *prometheus.CounterVec
	runDuration         *prometheus.HistogramVec
	consecutiveFailures *prometheus.GaugeVec
	lastRunCounts       *prometheus.GaugeVec
	resources           *prometheus.CounterVec
	resourceDuration    *prometheus.HistogramVec
	contractViolations  *prometheus.CounterVec
	slow                *prometheus.CounterVec
}

// NewMetricsSink creates the collectors and registers them on reg.
func NewMetricsSink(reg prometheus.Registerer) *MetricsSink {
	s := &MetricsSink{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollsync",
			Name:      "runs_total",
			Help:      "Reconciliation runs by status.",
		}, []string{"tenant", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pollsync",
			Name:      "run_duration_seconds",
			Help:      "Duration of reconciliation runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}, []string{"tenant"}),
		consecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pollsync",
			Name:      "consecutive_run_failures",
			Help:      "Number of consecutive failed runs.",
		}, []string{"tenant"}),
		lastRunCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pollsync",
			Name:      "last_run_resources",
			Help:      "Resource counts of the last completed run by classification.",
		}, []string{"tenant", "class"}),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollsync",
			Name:      "resources_processed_total",
			Help:      "Resource pipelines by classification and result.",
		}, []string{"tenant", "outcome", "result"}),
		resourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pollsync",
			Name:      "resource_duration_seconds",
			Help:      "Duration of single resource pipelines.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tenant"}),
		contractViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollsync",
			Name:      "listing_violations_total",
			Help:      "Descriptors rejected or duplicated by the lister.",
		}, []string{"tenant", "kind"}),
		slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pollsync",
			Name:      "slow_total",
			Help:      "Runs and resources exceeding their duration thresholds.",
		}, []string{"tenant", "scope"}),
	}

	reg.MustRegister(
		s.runs, s.runDuration, s.consecutiveFailures, s.lastRunCounts,
		s.resources, s.resourceDuration, s.contractViolations, s.slow,
	)
	return s
}

func (s *MetricsSink) RunStarted(RunInfo) {}

func (s *MetricsSink) ResourceRejected(info RunInfo, _ *reconcile.InvariantViolation) {
	s.contractViolations.WithLabelValues(info.Tenant, "invariant").Inc()
}

func (s *MetricsSink) DuplicateResource(info RunInfo, _ *reconcile.DuplicateIDError) {
	s.contractViolations.WithLabelValues(info.Tenant, "duplicate_id").Inc()
}

func (s *MetricsSink) ResourceFinished(ev ResourceEvent) {
	s.resources.WithLabelValues(ev.Tenant, ev.Outcome.String(), ev.Result.String()).Inc()
	s.resourceDuration.WithLabelValues(ev.Tenant).Observe(ev.Duration.Seconds())
	if ev.Slow {
		s.slow.WithLabelValues(ev.Tenant, "resource").Inc()
	}
}

func (s *MetricsSink) RunFinished(sum RunSummary) {
	s.runDuration.WithLabelValues(sum.Tenant).Observe(sum.Duration.Seconds())
	s.consecutiveFailures.WithLabelValues(sum.Tenant).Set(float64(sum.ConsecutiveFailures))
	if sum.Slow {
		s.slow.WithLabelValues(sum.Tenant, "run").Inc()
	}
	if sum.Err != nil {
		s.runs.WithLabelValues(sum.Tenant, "failed").Inc()
		return
	}
	s.runs.WithLabelValues(sum.Tenant, "completed").Inc()

	c := sum.Counts
	for class, v := range map[string]int64{
		"found":             c.Found,
		"new":               c.New,
		"updated":           c.Updated,
		"retried":           c.Retried,
		"retried_after_ban": c.RetriedAfterBan,
		"banned":            c.Banned,
		"nothing_to_do":     c.NothingToDo,
		"stale":             c.Stale,
		"errored":           c.Errored,
	} {
		s.lastRunCounts.WithLabelValues(sum.Tenant, class).Set(float64(v))
	}
}
