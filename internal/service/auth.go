// auth.go — вход через каталог, выпуск токена и сессия запроса.
//
// Вход: bind пользователя в каталоге → нормализация → сверка с БД → токен.
// Недоступность каталога при входе неотличима для клиента от неверного
// пароля; в логах причины различаются.
//
// Prometheus-метрики:
//   - portal_login_attempts_total — попытки входа по результату
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zerocore/portal/internal/auth"
	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/access"
	"github.com/zerocore/portal/internal/domain/identity"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"
	"github.com/zerocore/portal/internal/repository"
)

var loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_login_attempts_total",
	Help: "Попытки входа по результату",
}, []string{"result"})

// Источники списка отделов.
const (
	DepartmentSourceDirectory = "directory"
	DepartmentSourceFallback  = "fallback"
)

// TokenIssuer — выпуск токенов доступа.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

// LoginResult — результат успешного входа.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Profile   *model.UserProfile
	Identity  model.DirectoryIdentity
}

// DepartmentList — список отделов и его источник.
type DepartmentList struct {
	Departments []string
	Source      string
}

// AuthService — вход, список отделов и сессия запроса.
type AuthService struct {
	dir        directory.Directory
	normalizer *identity.Normalizer
	reconciler *Reconciler
	tokens     TokenIssuer
	cache      DepartmentCache
	users      repository.UserRepository
	employees  repository.EmployeeRepository
	logger     *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	dir directory.Directory,
	normalizer *identity.Normalizer,
	reconciler *Reconciler,
	tokens TokenIssuer,
	cache DepartmentCache,
	users repository.UserRepository,
	employees repository.EmployeeRepository,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		dir:        dir,
		normalizer: normalizer,
		reconciler: reconciler,
		tokens:     tokens,
		cache:      cache,
		users:      users,
		employees:  employees,
		logger:     logger.With(slog.String("component", "auth")),
	}
}

// Login проверяет учётные данные в каталоге, сверяет личность с БД
// и выпускает токен. Любая ошибка каталога — ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		loginAttempts.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidCredentials
	}

	entry, err := s.dir.Authenticate(ctx, username, password)
	if err != nil {
		result := "invalid"
		if errors.Is(err, directory.ErrUnavailable) {
			result = "unavailable"
			s.logger.Error("Вход невозможен: каталог недоступен",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Warn("Вход отклонён",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
		}
		loginAttempts.WithLabelValues(result).Inc()
		return nil, ErrInvalidCredentials
	}

	id, err := s.normalizer.Normalize(entry)
	if err != nil {
		loginAttempts.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	profile, err := s.reconciler.Reconcile(ctx, id)
	if err != nil {
		loginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}
	if !id.IsActive {
		loginAttempts.WithLabelValues("inactive").Inc()
		s.logger.Warn("Вход отклонён: учётная запись отключена",
			slog.String("username", id.Username),
		)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.tokens.Issue(auth.Identity{
		UserID:      profile.User.ID,
		Username:    id.Username,
		Name:        id.FullName,
		Role:        id.Role.String(),
		Departments: id.Departments,
		Permissions: id.Permissions.Strings(),
	})
	if err != nil {
		loginAttempts.WithLabelValues("error").Inc()
		return nil, err
	}

	loginAttempts.WithLabelValues("ok").Inc()
	s.logger.Info("Пользователь вошёл",
		slog.String("username", id.Username),
		slog.String("role", id.Role.String()),
		slog.Any("departments", id.Departments),
	)
	return &LoginResult{Token: token, ExpiresAt: expiresAt, Profile: profile, Identity: id}, nil
}

// ListDepartments возвращает отделы по группам каталога с префиксом отдела
// вместе с отделом по умолчанию. Если служебная запись не задана, каталог
// недоступен или групп нет — резервный список.
func (s *AuthService) ListDepartments(ctx context.Context) DepartmentList {
	if depts, ok := s.cache.Get(ctx); ok {
		return DepartmentList{Departments: depts, Source: DepartmentSourceDirectory}
	}

	fallback := DepartmentList{
		Departments: slices.Clone(s.normalizer.Mapping().FallbackDepartments),
		Source:      DepartmentSourceFallback,
	}
	if !s.dir.Configured() {
		return fallback
	}

	groups, err := s.dir.ListGroups(ctx, s.normalizer.Mapping().DepartmentPrefix)
	if err != nil {
		s.logger.Warn("Список отделов недоступен, используется резервный",
			slog.String("error", err.Error()),
		)
		return fallback
	}
	if len(groups) == 0 {
		return fallback
	}

	depts := []string{s.normalizer.Mapping().DefaultDepartment}
	for _, g := range groups {
		cn, ok := g.First("cn")
		if !ok {
			cn = identity.FirstRDNValue(g.DN)
		}
		if name := s.normalizer.NormalizeDepartmentName(cn); name != "" {
			depts = appendUniqueFold(depts, name)
		}
	}
	slices.SortFunc(depts, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})

	s.cache.Set(ctx, depts)
	return DepartmentList{Departments: depts, Source: DepartmentSourceDirectory}
}

// InvalidateDepartments сбрасывает кэш списка отделов.
func (s *AuthService) InvalidateDepartments(ctx context.Context) {
	s.cache.Invalidate(ctx)
}

// ResolvePrincipal строит пользователя запроса по claims токена.
// Роль, активность и отделы читаются из БД; флаги публикации, выданные
// группами каталога, берутся из токена.
func (s *AuthService) ResolvePrincipal(ctx context.Context, claims *auth.Claims) (access.Principal, error) {
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return access.Principal{}, fmt.Errorf("%w: пользователь %s", ErrNotFound, claims.Subject)
		}
		return access.Principal{}, err
	}
	if !user.IsActive {
		return access.Principal{}, ErrInactive
	}

	depts := claims.Departments
	emp, err := s.employees.GetByUserID(ctx, user.ID)
	switch {
	case err == nil:
		depts = emp.Departments()
	case !errors.Is(err, repository.ErrNotFound):
		return access.Principal{}, err
	}

	tokenPerms, err := rbac.ParsePermissions(claims.Permissions)
	if err != nil {
		s.logger.Warn("Неизвестные разрешения в токене",
			slog.String("username", user.Username),
			slog.String("error", err.Error()),
		)
		tokenPerms = nil
	}
	perms := s.normalizer.DerivePermissions(user.Role, depts, nil)
	// Флаги из токена действительны, пока роль не изменилась с момента входа.
	if claims.Role == user.Role.String() {
		perms = rbac.NewPermissionSet(append(perms, tokenPerms...)...)
	}

	return access.Principal{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Departments: depts,
		Permissions: perms,
	}, nil
}

func appendUniqueFold(items []string, v string) []string {
	for _, it := range items {
		if strings.EqualFold(it, v) {
			return items
		}
	}
	return append(items, v)
}
