package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Общие HTTP-метрики
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Метрики подсистемы аутентификации.
var (
	authLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	authTokenValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_validation_total",
			Help: "Bearer token validations by result.",
		},
		[]string{"result"},
	)

	authRegistrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registration_total",
			Help: "Account registrations by resulting status.",
		},
		[]string{"status"},
	)

	authApprovals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_approval_total",
			Help: "Approval workflow decisions by action and result.",
		},
		[]string{"action", "result"},
	)
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
			authLogins, authTokenValidations, authRegistrations, authApprovals,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin counts a login attempt.
func ObserveLogin(result string) { authLogins.WithLabelValues(result).Inc() }

// ObserveTokenValidation counts a bearer token validation.
func ObserveTokenValidation(result string) { authTokenValidations.WithLabelValues(result).Inc() }

// ObserveRegistration counts a registration by resulting status.
func ObserveRegistration(status string) { authRegistrations.WithLabelValues(status).Inc() }

// ObserveApproval counts an approve/reject decision.
func ObserveApproval(action, result string) { authApprovals.WithLabelValues(action, result).Inc() }

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// idRoutes lists collection prefixes whose next segment is an identifier,
// with the sub-resources allowed after it.
var idRoutes = map[string][]string{
	"/v1/users":         {"approve", "reject"},
	"/v1/notifications": {"read"},
}

// CanonicalPath collapses identifiers so metric label cardinality stays bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	for prefix, subs := range idRoutes {
		rest, ok := strings.CutPrefix(raw, prefix+"/")
		if !ok || rest == "" {
			continue
		}
		parts := strings.Split(rest, "/")
		switch len(parts) {
		case 1:
			return prefix + "/:id"
		case 2:
			for _, sub := range subs {
				if parts[1] == sub {
					return prefix + "/:id/" + sub
				}
			}
		}
	}
	return raw
}

// statusWriter — локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers keep working behind Instrument.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
