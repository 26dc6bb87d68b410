// auth.go — обработчики /auth/* endpoints: вход, выход, текущий пользователь,
// список отделов.
package handlers

import (
	"mime"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/api/middleware"
	"github.com/zerocore/portal/internal/domain/rbac"
)

// IssueToken — POST /auth/token.
// Принимает JSON или форму с username и password, возвращает токен
// и выставляет HttpOnly cookie. Доступ: публичный.
func (h *APIHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseForm(); err != nil {
			apierrors.ValidationError(w, "Некорректная форма: "+err.Error())
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		if err := h.validate.Struct(&req); err != nil {
			apierrors.ValidationError(w, validationMessage(err))
			return
		}
	default:
		if !h.decodeJSON(w, r, &req) {
			return
		}
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка входа")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.ExpiresAt,
		MaxAge:   int(time.Until(res.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	id := res.Identity
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: res.Token,
		TokenType:   "bearer",
		ExpiresAt:   res.ExpiresAt,
		User: userDTO{
			ID:          res.Profile.User.ID,
			Username:    id.Username,
			Name:        id.FullName,
			Email:       emailPtr(id.Email),
			Role:        id.Role.String(),
			Title:       id.Title,
			Departments: id.Departments,
			Permissions: id.Permissions.Strings(),
		},
	})
}

// Logout — POST /auth/logout. Удаляет cookie с токеном. Доступ: публичный.
func (h *APIHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// GetMe — GET /auth/me. Текущий пользователь: claims токена и роль из БД.
func (h *APIHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	resp := meResponse{
		ID:          p.UserID,
		Username:    p.Username,
		Role:        p.Role.String(),
		Departments: p.Departments,
		Permissions: p.Permissions.Strings(),
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		resp.Name = claims.Name
		resp.TokenRole = claims.Role
		if claims.ExpiresAt != nil {
			exp := claims.ExpiresAt.Time
			resp.ExpiresAt = &exp
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListDepartments — GET /auth/departments.
// refresh=true сбрасывает кэш (только admin).
func (h *APIHandler) ListDepartments(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var refresh *bool
	if err := runtime.BindQueryParameter("form", true, false, "refresh", r.URL.Query(), &refresh); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр refresh: "+err.Error())
		return
	}
	if refresh != nil && *refresh {
		if p.Role != rbac.RoleAdmin {
			apierrors.Forbidden(w, "Недостаточно прав: сброс кэша доступен роли admin")
			return
		}
		h.auth.InvalidateDepartments(r.Context())
	}

	list := h.auth.ListDepartments(r.Context())
	writeJSON(w, http.StatusOK, departmentsResponse{
		Departments: list.Departments,
		Source:      list.Source,
	})
}
