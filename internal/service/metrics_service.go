package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP layer
// and the admission pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	admissionTotal  *prometheus.CounterVec
	admissionWait   prometheus.Observer
	queueDepth      prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	admissionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "admission_attempts_total",
		Help: "Admission attempts by outcome",
	}, []string{"result"})

	admissionWait := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "admission_wait_seconds",
		Help:    "Time an attempt spent queued plus executing",
		Buckets: prometheus.DefBuckets,
	})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "admission_queue_depth",
		Help: "Number of admission attempts submitted but not yet completed",
	})

	registry.MustRegister(requestDuration, requestTotal, admissionTotal, admissionWait, queueDepth)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		admissionTotal:  admissionTotal,
		admissionWait:   admissionWait,
		queueDepth:      queueDepth,
	}
}

// Handler exposes the Prometheus scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one handled HTTP request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveAdmission records one finished admission attempt.
func (s *MetricsService) ObserveAdmission(result string, wait time.Duration) {
	s.admissionTotal.WithLabelValues(result).Inc()
	s.admissionWait.Observe(wait.Seconds())
}

// SetAdmissionQueueDepth updates the queue depth gauge.
func (s *MetricsService) SetAdmissionQueueDepth(depth int64) {
	s.queueDepth.Set(float64(depth))
}
