package mbtiles

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var buildInfoMetric = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "eslope",
	Name:      "buildinfo",
}, []string{"version", "revision"})

var buildTimeMetric = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "eslope",
	Name:      "buildtime",
})

func init() {
	prometheus.MustRegister(buildInfoMetric, buildTimeMetric)
}

// SetBuildInfo initializes static metrics with the version, git hash and
// build time.
func SetBuildInfo(version, commit, date string) {
	buildInfoMetric.WithLabelValues(version, commit).Set(1)
	t, err := time.Parse(time.RFC3339, date)
	if err == nil {
		buildTimeMetric.Set(float64(t.Unix()))
	} else {
		buildTimeMetric.Set(0)
	}
}

type metrics struct {
	// overall requests: # requests, request duration, response size by store/status code
	requests        *prometheus.CounterVec
	responseSize    *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	// connection pools: open stores, pool waits
	openStores   prometheus.Gauge
	storeOpens   *prometheus.CounterVec
	poolDuration *prometheus.HistogramVec
}

func isCanceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// utility to time an overall tile request
type requestTracker struct {
	finished bool
	start    time.Time
	metrics  *metrics
}

func (m *metrics) startRequest() *requestTracker {
	return &requestTracker{start: time.Now(), metrics: m}
}

func (r *requestTracker) finish(ctx context.Context, store, handler string, status, responseSize int) {
	if r.finished {
		return
	}
	r.finished = true
	// requests for stores that do not exist are not labelled, to bound cardinality
	statusString := strconv.Itoa(status)
	if status == 404 {
		store = ""
	} else if isCanceled(ctx) {
		statusString = "canceled"
	}
	labels := []string{store, handler, statusString}
	r.metrics.requests.WithLabelValues(labels...).Inc()
	r.metrics.responseSize.WithLabelValues(labels...).Observe(float64(responseSize))
	r.metrics.requestDuration.WithLabelValues(labels...).Observe(time.Since(r.start).Seconds())
}

func (m *metrics) storeOpened(store string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	} else {
		m.openStores.Inc()
	}
	m.storeOpens.WithLabelValues(store, status).Inc()
}

func (m *metrics) observePoolWait(store string, start time.Time) {
	m.poolDuration.WithLabelValues(store).Observe(time.Since(start).Seconds())
}

func register[K prometheus.Collector](logger *zap.Logger, metric K) K {
	if err := prometheus.Register(metric); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(K); ok {
				return existing
			}
		}
		logger.Warn("failed to register metric", zap.Error(err))
	}
	return metric
}

func createMetrics(scope string, logger *zap.Logger) *metrics {
	namespace := "eslope"
	durationBuckets := prometheus.DefBuckets
	kib := 1024.0
	mib := kib * kib
	sizeBuckets := []float64{1.0 * kib, 5.0 * kib, 10.0 * kib, 25.0 * kib, 50.0 * kib, 100 * kib, 250 * kib, 500 * kib, 1.0 * mib}

	return &metrics{
		requests: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "requests_total",
			Help:      "Overall number of requests to the service",
		}, []string{"store", "handler", "status"})),
		responseSize: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "response_size_bytes",
			Help:      "Overall response size in bytes",
			Buckets:   sizeBuckets,
		}, []string{"store", "handler", "status"})),
		requestDuration: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "request_duration_seconds",
			Help:      "Overall request duration in seconds",
			Buckets:   durationBuckets,
		}, []string{"store", "handler", "status"})),

		openStores: register(logger, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "open_stores",
			Help:      "Number of stores with an open connection pool",
		})),
		storeOpens: register(logger, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "store_opens_total",
			Help:      "Attempts to open a connection pool by store and status",
		}, []string{"store", "status"})),
		poolDuration: register(logger, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: scope,
			Name:      "pool_wait_seconds",
			Help:      "Time spent waiting for a pooled connection",
			Buckets:   durationBuckets,
		}, []string{"store"})),
	}
}
