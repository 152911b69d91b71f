package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var phases = []string{"idle", "preparing", "running", "finishing", "done"}

// Metrics holds the watcher's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	transportCalls   *prometheus.CounterVec
	transportLatency *prometheus.HistogramVec
	pollTicks        *prometheus.CounterVec
	pollDuration     *prometheus.HistogramVec
	logSyncs         *prometheus.CounterVec
	logouts          prometheus.Counter
	phase            *prometheus.GaugeVec
	progressRatio    prometheus.Gauge
	etaSeconds       prometheus.Gauge
	logWindowLines   prometheus.Gauge
	feedRequests     *prometheus.CounterVec
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transportCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweepwatch_transport_calls_total",
				Help: "Calls to the job server by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		transportLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sweepwatch_transport_latency_seconds",
				Help:    "Latency of calls to the job server",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"endpoint"},
		),
		pollTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweepwatch_poll_ticks_total",
				Help: "Poll ticks by channel, fetched or skipped while in flight",
			},
			[]string{"channel", "result"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sweepwatch_poll_duration_seconds",
				Help:    "Time from tick to settled fetch",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
			},
			[]string{"channel"},
		),
		logSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweepwatch_log_syncs_total",
				Help: "Log window synchronizations by mode",
			},
			[]string{"mode"},
		),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepwatch_logouts_total",
			Help: "Credential drops caused by 401 or sustained failures",
		}),
		phase: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sweepwatch_phase",
				Help: "Current job phase (1 for the active phase)",
			},
			[]string{"phase"},
		),
		progressRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweepwatch_progress_ratio",
			Help: "Processed share of the current run (0-1)",
		}),
		etaSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweepwatch_eta_seconds",
			Help: "Estimated remaining seconds of the current run",
		}),
		logWindowLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweepwatch_log_window_lines",
			Help: "Lines held in the log window",
		}),
		feedRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweepwatch_feed_requests_total",
				Help: "Requests served by the render feed",
			},
			[]string{"method", "route", "status"},
		),
	}

	m.registry.MustRegister(
		m.transportCalls,
		m.transportLatency,
		m.pollTicks,
		m.pollDuration,
		m.logSyncs,
		m.logouts,
		m.phase,
		m.progressRatio,
		m.etaSeconds,
		m.logWindowLines,
		m.feedRequests,
	)
	m.SetPhase("idle")
	return m
}

// Registry exposes the private registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall implements transport.Observer
func (m *Metrics) ObserveCall(endpoint, outcome string, latency time.Duration) {
	m.transportCalls.WithLabelValues(endpoint, outcome).Inc()
	if outcome != "unauthenticated" {
		m.transportLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
	}
}

// ObserveTick implements poll.Observer
func (m *Metrics) ObserveTick(channel string, skipped bool, took time.Duration) {
	if skipped {
		m.pollTicks.WithLabelValues(channel, "skipped").Inc()
		return
	}
	m.pollTicks.WithLabelValues(channel, "fetched").Inc()
	m.pollDuration.WithLabelValues(channel).Observe(took.Seconds())
}

// ObserveLogSync records one log synchronization
func (m *Metrics) ObserveLogSync(mode string, lines int) {
	m.logSyncs.WithLabelValues(mode).Inc()
	m.logWindowLines.Set(float64(lines))
}

// ObserveLogout counts a credential drop
func (m *Metrics) ObserveLogout() {
	m.logouts.Inc()
}

// SetPhase marks phase as the active one
func (m *Metrics) SetPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.phase.WithLabelValues(p).Set(v)
	}
}

// SetProgress records the progress ratio and remaining time
func (m *Metrics) SetProgress(percent float64, remaining time.Duration) {
	m.progressRatio.Set(percent / 100)
	m.etaSeconds.Set(remaining.Seconds())
}

// Middleware counts requests served by the render feed
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.feedRequests.WithLabelValues(r.Method, route(r), strconv.Itoa(rw.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
