package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the service metrics on a private registry.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         *prometheus.Registry

	// Prediction metrics
	predictions       *prometheus.CounterVec
	grades            *prometheus.CounterVec
	capsApplied       *prometheus.CounterVec
	rejectedRows      *prometheus.CounterVec
	predictionLatency *prometheus.HistogramVec
	batchRows         prometheus.Histogram

	// Model lifecycle
	modelReloads *prometheus.CounterVec
	modelLoaded  prometheus.Gauge

	// Transports
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	grpcRequests        *prometheus.CounterVec
	grpcRequestDuration *prometheus.HistogramVec
}

// NewManager creates a metrics manager. Without WithRegistry it registers on
// a fresh registry that also carries the Go and process collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "grader",
		subsystem:        "predictor",
		histogramBuckets: prometheus.DefBuckets,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "predictions_total",
		Help:        "Total number of predictions by task and outcome",
		ConstLabels: m.constLabels,
	}, []string{"task", "outcome"})

	m.grades = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "grades_total",
		Help:        "Total number of regression predictions by grade band",
		ConstLabels: m.constLabels,
	}, []string{"grade"})

	m.capsApplied = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "caps_applied_total",
		Help:        "Total number of predictions lowered by an academic cap",
		ConstLabels: m.constLabels,
	}, []string{"rule"})

	m.rejectedRows = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "rejected_rows_total",
		Help:        "Total number of batch rows rejected during validation",
		ConstLabels: m.constLabels,
	}, []string{"column"})

	m.predictionLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "prediction_duration_seconds",
		Help:        "Time spent producing a prediction",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"task"})

	m.batchRows = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_rows",
		Help:        "Number of rows per batch request",
		Buckets:     prometheus.ExponentialBuckets(1, 4, 8),
		ConstLabels: m.constLabels,
	})

	m.modelReloads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "model_loads_total",
		Help:        "Total number of model load attempts by result",
		ConstLabels: m.constLabels,
	}, []string{"result"})

	m.modelLoaded = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "model_loaded",
		Help:        "1 when a model is active",
		ConstLabels: m.constLabels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests by route, method and status",
		ConstLabels: m.constLabels,
	}, []string{"route", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_seconds",
		Help:        "HTTP request duration",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"route", "method", "status_code"})

	m.grpcRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "grpc_requests_total",
		Help:        "Total number of gRPC calls by method and status code",
		ConstLabels: m.constLabels,
	}, []string{"method", "code"})

	m.grpcRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "grpc_request_duration_seconds",
		Help:        "gRPC call duration",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"method"})
}

// RecordPrediction counts one prediction and its latency.
func (m *Manager) RecordPrediction(task, outcome string, took time.Duration) {
	m.predictions.WithLabelValues(task, outcome).Inc()
	m.predictionLatency.WithLabelValues(task).Observe(took.Seconds())
}

// RecordGrade counts a graded regression prediction.
func (m *Manager) RecordGrade(grade string) {
	m.grades.WithLabelValues(grade).Inc()
}

// RecordCap counts a prediction lowered by the named rule.
func (m *Manager) RecordCap(rule string) {
	m.capsApplied.WithLabelValues(rule).Inc()
}

// RecordRejectedRow counts a batch row rejected on column.
func (m *Manager) RecordRejectedRow(column string) {
	m.rejectedRows.WithLabelValues(column).Inc()
}

// RecordBatch observes the size of a batch.
func (m *Manager) RecordBatch(rows int) {
	m.batchRows.Observe(float64(rows))
}

// RecordModelLoad counts a load attempt. A success marks the model as loaded;
// a failure leaves the gauge alone since the previous model stays active.
func (m *Manager) RecordModelLoad(err error) {
	if err != nil {
		m.modelReloads.WithLabelValues("error").Inc()
		return
	}
	m.modelReloads.WithLabelValues("ok").Inc()
	m.modelLoaded.Set(1)
}

// RecordHTTPRequest records a served request.
func (m *Manager) RecordHTTPRequest(route, method string, status int, took time.Duration) {
	code := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(route, method, code).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, code).Observe(took.Seconds())
}

// RecordGRPCRequest records a served call.
func (m *Manager) RecordGRPCRequest(method, code string, took time.Duration) {
	m.grpcRequests.WithLabelValues(method, code).Inc()
	m.grpcRequestDuration.WithLabelValues(method).Observe(took.Seconds())
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
