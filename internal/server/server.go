// Пакет server — HTTP-сервер портала с graceful shutdown.
// Без TLS: TLS termination на reverse proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zerocore/portal/internal/api/handlers"
	"github.com/zerocore/portal/internal/api/middleware"
	"github.com/zerocore/portal/internal/config"
	"github.com/zerocore/portal/internal/domain/rbac"
)

// publicPrefixes — пути, доступные без токена.
var publicPrefixes = []string{"/health/", "/metrics", "/auth/token", "/auth/logout"}

// Server — HTTP-сервер портала.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// jwtAuth — JWT middleware (может быть nil для тестирования без auth).
func New(cfg *config.Config, logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, h, jwtAuth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter строит chi-роутер со всеми маршрутами портала.
func NewRouter(logger *slog.Logger, h *handlers.APIHandler, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	if jwtAuth != nil {
		router.Use(jwtAuthWithExclusions(jwtAuth, publicPrefixes...))
	}

	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Get("/metrics", h.GetMetrics)

	router.Route("/auth", func(r chi.Router) {
		r.Post("/token", h.IssueToken)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.GetMe)
		r.Get("/departments", h.ListDepartments)
	})

	router.Route("/employees", func(r chi.Router) {
		r.Get("/", h.ListEmployees)
		r.With(middleware.RequireRole(rbac.RoleAdmin)).Post("/sync", h.SyncEmployees)
		r.Get("/{username}", h.GetEmployee)
		r.Put("/{username}", h.UpdateEmployee)
	})

	router.Route("/announcements", func(r chi.Router) {
		r.Get("/", h.ListAnnouncements)
		r.Post("/", h.CreateAnnouncement)
		r.Post("/{id}/acknowledge", h.AcknowledgeAnnouncement)
		r.Post("/{id}/archive", h.ArchiveAnnouncement)
		r.Post("/{id}/unarchive", h.UnarchiveAnnouncement)
		r.Get("/{id}/logs", h.GetAnnouncementLogs)
	})

	router.Get("/uploads/{name}", h.GetUpload)

	return router
}

// jwtAuthWithExclusions оборачивает JWTAuth.Middleware(), пропуская указанные пути.
// Запросы к путям, начинающимся с любого из excludePrefixes, проходят без JWT.
func jwtAuthWithExclusions(jwtAuth *middleware.JWTAuth, excludePrefixes ...string) func(http.Handler) http.Handler {
	jwtMiddleware := jwtAuth.Middleware()

	return func(next http.Handler) http.Handler {
		protected := jwtMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range excludePrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}
			protected.ServeHTTP(w, r)
		})
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
