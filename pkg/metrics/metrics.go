package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics представляет систему метрик панели управления
type Metrics struct {
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Доменные метрики
	LoginAttempts  *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
}

// NewMetrics создает и регистрирует систему метрик
func NewMetrics(serviceName string) *Metrics {
	requestCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	loginAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Total number of login attempts",
		},
		[]string{"kind", "result"},
	)

	activeSessions := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "active_sessions",
			Help:      "Number of currently issued sessions",
		},
	)

	// Повторная регистрация не считается ошибкой, используем уже
	// зарегистрированные коллекторы
	collectors := []prometheus.Collector{requestCount, requestDuration, loginAttempts, activeSessions}
	for _, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch existing := are.ExistingCollector.(type) {
				case *prometheus.CounterVec:
					if c == requestCount {
						requestCount = existing
					} else {
						loginAttempts = existing
					}
				case *prometheus.HistogramVec:
					requestDuration = existing
				case prometheus.Gauge:
					activeSessions = existing
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		RequestCount:    requestCount,
		RequestDuration: requestDuration,
		LoginAttempts:   loginAttempts,
		ActiveSessions:  activeSessions,
	}
}

// Handler возвращает HTTP обработчик для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLogin учитывает попытку входа
func (m *Metrics) ObserveLogin(kind string, ok bool) {
	result := "failed"
	if ok {
		result = "success"
	}
	m.LoginAttempts.WithLabelValues(kind, result).Inc()
}

// Middleware собирает метрики по каждому HTTP запросу
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.RequestCount.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

// statusWriter обертка для перехвата статуса ответа
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader перехватывает установку статуса
func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
