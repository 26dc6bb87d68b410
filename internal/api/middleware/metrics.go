// metrics.go — HTTP-метрики API портала для Prometheus.
// Путь в лейблах — шаблон маршрута, логины и id объявлений не попадают.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_http_requests_total",
			Help: "Запросы к API портала по маршруту и статусу ответа",
		},
		[]string{"method", "path", "status"},
	)

	// Вход ждёт bind в LDAP, создание объявления пишет вложение на диск:
	// верхние корзины до ~10 с.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "Время ответа API портала, включая обращения к каталогу LDAP/AD",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и время ответа по шаблону маршрута.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет переменные сегменты пути шаблонами, чтобы
// логины, UUID и имена файлов не попадали в лейблы.
// /announcements/<uuid>/logs → /announcements/{id}/logs
// /employees/ana.souza      → /employees/{username}
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/auth/token", "/auth/logout", "/auth/me", "/auth/departments",
		"/employees", "/employees/sync",
		"/announcements":
		return path
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "employees":
		return "/employees/{username}"
	case len(parts) == 2 && parts[0] == "uploads":
		return "/uploads/{name}"
	case len(parts) == 3 && parts[0] == "announcements":
		switch parts[2] {
		case "acknowledge", "archive", "unarchive", "logs":
			return "/announcements/{id}/" + parts[2]
		}
	}
	return "other"
}
