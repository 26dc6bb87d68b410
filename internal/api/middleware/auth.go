// auth.go — JWT middleware аутентификации и авторизации портала.
// Токен берётся из заголовка Authorization (Bearer) или из cookie.
// После проверки подписи пользователь запроса строится заново по БД:
// роль, активность и отделы могли измениться с момента входа.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/auth"
	"github.com/zerocore/portal/internal/domain/access"
	"github.com/zerocore/portal/internal/domain/rbac"
	"github.com/zerocore/portal/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — claims токена в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
	// ContextKeyPrincipal — пользователь запроса.
	ContextKeyPrincipal contextKey = "principal"
)

// TokenVerifier — проверка подписи и срока действия токена.
// Реализуется auth.Manager.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// PrincipalResolver — построение пользователя запроса по claims.
// Реализуется service.AuthService.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, claims *auth.Claims) (access.Principal, error)
}

// JWTAuth — middleware JWT-аутентификации.
type JWTAuth struct {
	verifier   TokenVerifier
	resolver   PrincipalResolver
	cookieName string
	logger     *slog.Logger
}

// NewJWTAuth создаёт JWT middleware.
// cookieName — имя cookie с токеном (PORTAL_COOKIE_NAME), пустое — только заголовок.
func NewJWTAuth(verifier TokenVerifier, resolver PrincipalResolver, cookieName string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		verifier:   verifier,
		resolver:   resolver,
		cookieName: cookieName,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Помещает в контекст claims и пользователя запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := j.extractToken(r)
			if tokenString == "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			claims, err := j.verifier.Verify(r.Context(), tokenString)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			principal, err := j.resolver.ResolvePrincipal(r.Context(), claims)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrInactive):
					apierrors.Unauthorized(w, "Учётная запись отключена")
				case errors.Is(err, service.ErrNotFound):
					apierrors.Unauthorized(w, "Пользователь не найден")
				default:
					j.logger.Error("Ошибка получения пользователя запроса",
						slog.String("username", claims.Subject),
						slog.String("error", err.Error()),
					)
					apierrors.InternalError(w, "Ошибка проверки пользователя")
				}
				return
			}

			noteUser(r.Context(), principal.Username)
			ctx := WithPrincipal(r.Context(), claims, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken возвращает токен из заголовка или cookie.
// При отсутствии токена — пустая строка и сообщение для клиента.
func (j *JWTAuth) extractToken(r *http.Request) (token, message string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", "Неверный формат Authorization: ожидается Bearer <token>"
		}
		if parts[1] == "" {
			return "", "Пустой Bearer token"
		}
		return parts[1], ""
	}

	if j.cookieName != "" {
		if c, err := r.Cookie(j.cookieName); err == nil && c.Value != "" {
			return c.Value, ""
		}
	}
	return "", "Отсутствует токен доступа"
}

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
				return
			}

			if !slices.Contains(roles, p.Role) {
				names := make([]string, len(roles))
				for i, role := range roles {
					names[i] = role.String()
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(names, " или ")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithPrincipal помещает claims и пользователя запроса в контекст.
func WithPrincipal(ctx context.Context, claims *auth.Claims, p access.Principal) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClaims, claims)
	return context.WithValue(ctx, ContextKeyPrincipal, p)
}

// ClaimsFromContext извлекает claims токена из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ContextKeyClaims).(*auth.Claims)
	return claims
}

// PrincipalFromContext извлекает пользователя запроса.
func PrincipalFromContext(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(ContextKeyPrincipal).(access.Principal)
	return p, ok
}
