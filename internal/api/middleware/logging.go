// logging.go — журнал запросов к API портала (slog).
// Путь пишется шаблоном маршрута, пользователь — логином из токена.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// requestLogKey — ключ контекста для полей журнала запроса.
type requestLogKey struct{}

// requestLog заполняется по ходу обработки запроса и пишется после ответа.
type requestLog struct {
	user string
}

// noteUser запоминает логин для журнала. Без RequestLogger ничего не делает.
func noteUser(ctx context.Context, username string) {
	if rl, ok := ctx.Value(requestLogKey{}).(*requestLog); ok {
		rl.user = username
	}
}

// responseWriter — обёртка для перехвата статус-кода и размера ответа.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestLogger пишет строку журнала на каждый запрос.
// Уровень: INFO (1xx-3xx), WARN (4xx), ERROR (5xx); /health и /metrics — DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := newResponseWriter(w)
			rl := &requestLog{}

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), requestLogKey{}, rl)))

			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			case isServicePath(r.URL.Path):
				level = slog.LevelDebug
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", normalizePath(r.URL.Path)),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			if rl.user != "" {
				attrs = append(attrs, slog.String("user", rl.user))
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

// isServicePath — служебные пути оркестратора и Prometheus.
func isServicePath(path string) bool {
	return path == "/health/live" || path == "/health/ready" || path == "/metrics"
}
