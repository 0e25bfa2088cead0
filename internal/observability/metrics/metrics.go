// Package metrics exposes prometheus instruments for the portal's policy
// surfaces: session expiry, escalations, permission denials and the
// scheduler loop.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the singleton instrument set, registered against the default
// registerer on first use.
type Metrics struct {
	sessionsExpired  *prometheus.CounterVec
	escalationsFired prometheus.Counter
	permissionDenied *prometheus.CounterVec
	policyReloads    prometheus.Counter

	jobRuns     *prometheus.CounterVec
	jobErrors   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	runLoopLag  prometheus.Observer

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metrics     *Metrics
)

// Default returns the singleton metrics set.
func Default() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(prometheus.DefaultRegisterer)
	})
	return metrics
}

// ResetForTest resets the singleton so tests can use a fresh registry.
func ResetForTest() {
	metricsOnce = sync.Once{}
	metrics = nil
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	sessionsExpired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tribesportal_sessions_expired_total",
		Help: "Sessions forced out by the timeout policy, by reason.",
	}, []string{"reason"})
	escalationsFired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tribesportal_escalations_fired_total",
		Help: "Escalation events fired by the SLA scan.",
	})
	permissionDenied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tribesportal_permission_denied_total",
		Help: "Authorization denials on gated routes, by permission.",
	}, []string{"permission"})
	policyReloads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tribesportal_policy_reloads_total",
		Help: "Hot reloads of the policy file.",
	})

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tribesportal_scheduler_job_runs_total",
		Help: "Scheduler job runs by name.",
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tribesportal_scheduler_job_errors_total",
		Help: "Scheduler job failures by name.",
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tribesportal_scheduler_job_duration_seconds",
		Help:    "Scheduler job latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tribesportal_scheduler_run_loop_lag_seconds",
		Help:    "Delay of scheduler runs past their planned start.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tribesportal_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	httpDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tribesportal_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "route"})

	return &Metrics{
		sessionsExpired:  register(registerer, sessionsExpired),
		escalationsFired: register(registerer, escalationsFired),
		permissionDenied: register(registerer, permissionDenied),
		policyReloads:    register(registerer, policyReloads),
		jobRuns:          register(registerer, jobRuns),
		jobErrors:        register(registerer, jobErrors),
		jobDuration:      register(registerer, jobDuration),
		runLoopLag:       register(registerer, runLoopLag),
		httpRequests:     register(registerer, httpRequests),
		httpDuration:     register(registerer, httpDuration),
	}
}

// register adds the collector to the registerer, adopting the collector
// already registered under the same descriptor. Rebuilding the singleton
// (tests reset it) must not panic on re-registration.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	are := prometheus.AlreadyRegisteredError{}
	if errors.As(err, &are) {
		return are.ExistingCollector.(C)
	}
	panic(err)
}

func (m *Metrics) IncSessionExpired(reason string) {
	if m == nil {
		return
	}
	m.sessionsExpired.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddEscalationsFired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.escalationsFired.Add(float64(n))
}

func (m *Metrics) IncPermissionDenied(permission string) {
	if m == nil {
		return
	}
	m.permissionDenied.WithLabelValues(permission).Inc()
}

func (m *Metrics) IncPolicyReload() {
	if m == nil {
		return
	}
	m.policyReloads.Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.runLoopLag.Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
