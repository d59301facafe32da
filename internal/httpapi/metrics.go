package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"UserManagementServer/internal/ratelimit"
)

// Metrics owns a private registry so several routers can coexist in one
// process (tests build many).
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	LoginAttempts   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgmt_http_requests_total",
				Help: "HTTP requests by route pattern, method and status code.",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usermgmt_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"route"},
		),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usermgmt_login_attempts_total",
				Help: "Password login attempts by outcome.",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.LoginAttempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveLogin matches service.LoginObserver.
func (m *Metrics) ObserveLogin(result string) {
	m.LoginAttempts.WithLabelValues(result).Inc()
}

// WatchLimiter exports the tracked and blocked key counts of a limiter.
func (m *Metrics) WatchLimiter(name string, l *ratelimit.Limiter) {
	labels := prometheus.Labels{"limiter": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "usermgmt_ratelimit_tracked_keys",
			Help:        "Keys with attempts inside the current window.",
			ConstLabels: labels,
		}, func() float64 { return float64(l.Stats().Keys) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "usermgmt_ratelimit_blocked_keys",
			Help:        "Keys currently blocked.",
			ConstLabels: labels,
		}, func() float64 { return float64(l.Stats().Blocked) }),
	)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instrument records a request under route, which must be a registered
// pattern so label cardinality stays bounded.
func (m *Metrics) instrument(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
