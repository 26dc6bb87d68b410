// handler.go — основной обработчик API портала.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/api/middleware"
	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/access"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/filestore"
	"github.com/zerocore/portal/internal/service"
)

// AuthAPI — операции входа и списка отделов. Реализуется service.AuthService.
type AuthAPI interface {
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	ListDepartments(ctx context.Context) service.DepartmentList
	InvalidateDepartments(ctx context.Context)
}

// EmployeeAPI — операции с карточками. Реализуется service.EmployeeService.
type EmployeeAPI interface {
	List(ctx context.Context, filter model.EmployeeFilter) ([]model.EmployeeListItem, error)
	Get(ctx context.Context, username string) (*model.UserProfile, error)
	UpdateProfile(ctx context.Context, p access.Principal, username string, upd service.ProfileUpdate) (*service.ProfileUpdateResult, error)
}

// AnnouncementAPI — операции доски объявлений. Реализуется service.AnnouncementService.
type AnnouncementAPI interface {
	List(ctx context.Context, p access.Principal, category *model.Category, showArchived bool) ([]model.AnnouncementView, error)
	Create(ctx context.Context, p access.Principal, in service.NewAnnouncement) (*model.Announcement, error)
	Acknowledge(ctx context.Context, p access.Principal, id string) error
	SetArchived(ctx context.Context, p access.Principal, id string, archived bool) error
	Logs(ctx context.Context, p access.Principal, id string) (*model.AnnouncementLogs, error)
}

// DirectorySyncAPI — массовая синхронизация. Реализуется service.DirectorySyncService.
type DirectorySyncAPI interface {
	SyncNow(ctx context.Context) (*model.DirectorySyncResult, error)
}

// FileOpener — чтение сохранённых вложений. Реализуется filestore.FileStore.
type FileOpener interface {
	Open(name string) (*os.File, error)
}

// Options — параметры HTTP-слоя.
type Options struct {
	// CookieName — имя cookie с токеном
	CookieName string
	// CookieSecure — флаг Secure у cookie
	CookieSecure bool
	// UploadMaxBytes — максимальный размер вложения
	UploadMaxBytes int64
}

// APIHandler — основной обработчик API портала.
type APIHandler struct {
	health        *HealthHandler
	auth          AuthAPI
	employees     EmployeeAPI
	announcements AnnouncementAPI
	sync          DirectorySyncAPI
	files         FileOpener
	opts          Options
	validate      *validator.Validate
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	authAPI AuthAPI,
	employees EmployeeAPI,
	announcements AnnouncementAPI,
	sync DirectorySyncAPI,
	files FileOpener,
	opts Options,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		auth:          authAPI,
		employees:     employees,
		announcements: announcements,
		sync:          sync,
		files:         files,
		opts:          opts,
		validate:      newValidator(),
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — проверка liveness (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — проверка readiness (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// principal возвращает пользователя запроса или пишет 401.
func principal(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
	}
	return p, ok
}

// decodeJSON разбирает и валидирует тело запроса.
func (h *APIHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		apierrors.ValidationError(w, validationMessage(err))
		return false
	}
	return true
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, filestore.ErrTooLarge):
		apierrors.PayloadTooLarge(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrInvalidCredentials):
		apierrors.Unauthorized(w, service.ErrInvalidCredentials.Error())
	case errors.Is(err, directory.ErrNotConfigured), errors.Is(err, directory.ErrUnavailable):
		h.logger.Warn(op, slog.String("error", err.Error()))
		apierrors.DirectoryUnavailable(w, err.Error())
	default:
		h.logger.Error(op, slog.String("error", err.Error()))
		apierrors.InternalError(w, op)
	}
}

// newValidator создаёт валидатор, возвращающий имена полей из json-тегов.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage формирует сообщение из ошибок валидатора.
func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err.Error()
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return "Ошибка валидации: " + strings.Join(msgs, "; ")
}
