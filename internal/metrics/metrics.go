// Package metrics holds the Prometheus instruments of the streamer.
//
// Every method is safe on a nil *Metrics so components can run with metrics
// disabled without guarding each call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ha_sensor_streamer"

// Transport label values.
const (
	TransportMJPEG = "mjpeg"
	TransportRTSP  = "rtsp"
)

type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	framesRendered *prometheus.CounterVec
	framesSkipped  *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	bytesSent      *prometheus.CounterVec
	consumers      *prometheus.GaugeVec

	pushFailures     prometheus.Counter
	pipelineErrors   *prometheus.CounterVec
	pipelineRestarts prometheus.Counter

	sensorFetches       *prometheus.CounterVec
	sensorFetchDuration prometheus.Histogram
	sensorsCached       prometheus.Gauge
}

// New creates the instruments and registers them on a private registry
// together with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the instruments on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		framesRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rendered_total",
			Help:      "Frames rendered and handed to a transport.",
		}, []string{"transport"}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_skipped_total",
			Help:      "Frames skipped because rendering or encoding failed.",
		}, []string{"transport"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent resolving, drawing and encoding one frame.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"transport"}),
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_sent_total",
			Help:      "Payload bytes written to consumers.",
		}, []string{"transport"}),
		consumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_consumers",
			Help:      "Currently connected MJPEG consumers or RTSP sessions.",
		}, []string{"transport"}),
		pushFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtsp_push_failures_total",
			Help:      "Raw frames the encoding pipeline refused.",
		}),
		pipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtsp_pipeline_errors_total",
			Help:      "Encoding pipeline errors by category.",
		}, []string{"category"}),
		pipelineRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rtsp_pipeline_restarts_total",
			Help:      "Encoding pipeline rebuilds after an error.",
		}),
		sensorFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_updates_total",
			Help:      "Sensor value updates by source and result.",
		}, []string{"source", "result"}),
		sensorFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sensor_fetch_duration_seconds",
			Help:      "Histogram of Home Assistant state request durations.",
			Buckets:   prometheus.DefBuckets,
		}),
		sensorsCached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensors_cached",
			Help:      "Sensor ids holding a value in the cache.",
		}),
	}

	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpDuration,
		m.framesRendered,
		m.framesSkipped,
		m.renderDuration,
		m.bytesSent,
		m.consumers,
		m.pushFailures,
		m.pipelineErrors,
		m.pipelineRestarts,
		m.sensorFetches,
		m.sensorFetchDuration,
		m.sensorsCached,
	)

	for _, t := range []string{TransportMJPEG, TransportRTSP} {
		m.consumers.WithLabelValues(t).Set(0)
	}

	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// WrapHandler counts requests and records their duration under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) FrameRendered(transport string, took time.Duration, bytes int) {
	if m == nil {
		return
	}
	m.framesRendered.WithLabelValues(transport).Inc()
	m.renderDuration.WithLabelValues(transport).Observe(took.Seconds())
	m.bytesSent.WithLabelValues(transport).Add(float64(bytes))
}

func (m *Metrics) FrameSkipped(transport string) {
	if m == nil {
		return
	}
	m.framesSkipped.WithLabelValues(transport).Inc()
}

func (m *Metrics) BytesSent(transport string, n int) {
	if m == nil {
		return
	}
	m.bytesSent.WithLabelValues(transport).Add(float64(n))
}

func (m *Metrics) ConsumerConnected(transport string) {
	if m == nil {
		return
	}
	m.consumers.WithLabelValues(transport).Inc()
}

func (m *Metrics) ConsumerDisconnected(transport string) {
	if m == nil {
		return
	}
	m.consumers.WithLabelValues(transport).Dec()
}

func (m *Metrics) PushFailed() {
	if m == nil {
		return
	}
	m.pushFailures.Inc()
}

func (m *Metrics) PipelineError(category string) {
	if m == nil {
		return
	}
	m.pipelineErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) PipelineRestarted() {
	if m == nil {
		return
	}
	m.pipelineRestarts.Inc()
}

// SensorUpdate records one cache write attempt from source ("rest" or "mqtt").
func (m *Metrics) SensorUpdate(source string, success bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.sensorFetches.WithLabelValues(source, result).Inc()
}

func (m *Metrics) SensorFetchDuration(took time.Duration) {
	if m == nil {
		return
	}
	m.sensorFetchDuration.Observe(took.Seconds())
}

func (m *Metrics) SetSensorsCached(n int) {
	if m == nil {
		return
	}
	m.sensorsCached.Set(float64(n))
}
