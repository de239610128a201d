// ABOUTME: Prometheus metrics for the router, cell gateways and lifecycle batches
// ABOUTME: Collectors register against a caller-supplied registry so tests stay isolated

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder is what services report through. Nop discards everything.
type Recorder interface {
	RecordRegistration(outcome string)
	RecordLogin(outcome string)
	RecordTokenVerification(outcome string)
	RecordItemOp(op, outcome string)
	RecordBatchJob(batch, status, kind string, duration time.Duration)
}

// Collector implements Recorder with Prometheus metrics
type Collector struct {
	service string

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	registrations   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	itemOps         *prometheus.CounterVec
	batchJobs       *prometheus.CounterVec
	jobDuration     prometheus.Histogram
}

// NewCollector creates a Collector labelled with service and registers it
func NewCollector(reg prometheus.Registerer, service string) *Collector {
	c := &Collector{
		service: service,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"service", "route", "status_code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cellular_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"service", "route"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_registrations_total",
			Help: "User registrations by outcome",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_logins_total",
			Help: "Logins by outcome",
		}, []string{"outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_token_verifications_total",
			Help: "Capability token verifications by outcome",
		}, []string{"service", "outcome"}),
		itemOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_item_operations_total",
			Help: "Cell item operations by type and outcome",
		}, []string{"op", "outcome"}),
		batchJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cellular_batch_jobs_total",
			Help: "Lifecycle batch jobs by status and failure kind",
		}, []string{"status", "kind"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cellular_batch_job_duration_seconds",
			Help:    "Lifecycle batch job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	reg.MustRegister(
		c.requests,
		c.requestDuration,
		c.registrations,
		c.logins,
		c.verifications,
		c.itemOps,
		c.batchJobs,
		c.jobDuration,
	)
	return c
}

// RecordRegistration counts a registration attempt
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin counts a login attempt
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordTokenVerification counts a token check
func (c *Collector) RecordTokenVerification(outcome string) {
	c.verifications.WithLabelValues(c.service, outcome).Inc()
}

// RecordItemOp counts a put, get or delete
func (c *Collector) RecordItemOp(op, outcome string) {
	c.itemOps.WithLabelValues(op, outcome).Inc()
}

// RecordBatchJob counts a finished batch job
func (c *Collector) RecordBatchJob(batch, status, kind string, duration time.Duration) {
	c.batchJobs.WithLabelValues(status, kind).Inc()
	c.jobDuration.Observe(duration.Seconds())
}

// Middleware records request count and latency labelled by chi route pattern
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.requests.WithLabelValues(c.service, route, strconv.Itoa(sw.status)).Inc()
		c.requestDuration.WithLabelValues(c.service, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

// Handler serves the registry for Prometheus scrapes
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop is a Recorder that discards everything
type Nop struct{}

func (Nop) RecordRegistration(string)                            {}
func (Nop) RecordLogin(string)                                   {}
func (Nop) RecordTokenVerification(string)                       {}
func (Nop) RecordItemOp(string, string)                          {}
func (Nop) RecordBatchJob(string, string, string, time.Duration) {}

// Outcome maps an error to a success or failure label
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
