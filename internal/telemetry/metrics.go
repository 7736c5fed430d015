package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zephyrlink"

var (
	Registry = prometheus.NewRegistry()

	// ---- Discovery ----
	AnnouncementsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "announcements_sent_total",
			Help:      "Discovery broadcasts attempted, by result.",
		},
		[]string{"result"}, // ok | error
	)

	DatagramsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Discovery datagrams received, by classification.",
		},
		[]string{"result"}, // ok | malformed | self
	)

	Neighbors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "neighbors",
			Help:      "Number of entries in the neighbor table.",
		},
	)

	// ---- Measurement ----
	Measurements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Delay measurements, by outcome.",
		},
		[]string{"outcome"}, // ok | peer_gone | skipped | canceled
	)

	MeasurementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "measurement_duration_seconds",
			Help:      "Wall time of a timestamp exchange, connect included.",
			// 100us .. ~3s
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	MeasurementsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "measurements_in_flight",
			Help:      "Delay measurements currently running.",
		},
	)

	PeerDelay = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peer_delay_seconds",
			Help:      "Latest delay estimate per neighbor (receive time minus peer send time).",
		},
		[]string{"peer"},
	)

	// ---- Admin HTTP ----
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and node_id).",
		},
		[]string{"version", "node_id"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		AnnouncementsSent, DatagramsReceived, Neighbors,
		Measurements, MeasurementDuration, MeasurementsInFlight, PeerDelay,
		RequestsTotal, RequestDuration, InFlight,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records the running version and node id. The node command calls
// it once the node id is known.
func SetBuildInfo(version, nodeID string) {
	buildInfo.WithLabelValues(version, nodeID).Set(1)
}

// Uptime reports time since the process started.
func Uptime() time.Duration {
	return time.Since(startTime)
}

// recorder captures the status code a handler wrote.
type recorder struct {
	http.ResponseWriter
	status int
}

func (w *recorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument counts admin API requests by op and status class. The node mounts
// each route through it, e.g. op "measure" for POST /neighbors/{id}/measure.
func Instrument(op string, next http.Handler) http.Handler {
	inflight := InFlight.WithLabelValues(op)
	latency := RequestDuration.WithLabelValues(op)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		inflight.Inc()
		defer inflight.Dec()

		began := time.Now()
		next.ServeHTTP(rec, r)
		latency.Observe(time.Since(began).Seconds())
		RequestsTotal.WithLabelValues(op, strconv.Itoa(rec.status/100)+"xx").Inc()
	})
}
