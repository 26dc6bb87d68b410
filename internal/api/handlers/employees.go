// employees.go — обработчики /employees endpoints: список, карточка,
// обновление и массовая синхронизация с каталогом.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/service"
)

// ListEmployees — GET /employees.
// Параметры: status (active, inactive, all), search.
func (h *APIHandler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}

	var status, search *string
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "status", q, &status); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр status: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "search", q, &search); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр search: "+err.Error())
		return
	}

	var filter model.EmployeeFilter
	if status != nil {
		filter.Status = model.EmployeeStatus(*status)
	}
	if search != nil {
		filter.Search = *search
	}

	items, err := h.employees.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения списка сотрудников")
		return
	}

	resp := employeeListResponse{
		Items: make([]employeeListItemDTO, len(items)),
		Total: len(items),
	}
	for i, it := range items {
		resp.Items[i] = mapEmployeeListItem(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEmployee — GET /employees/{username}.
func (h *APIHandler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}

	profile, err := h.employees.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения сотрудника")
		return
	}
	writeJSON(w, http.StatusOK, mapEmployee(profile))
}

// UpdateEmployee — PUT /employees/{username}.
// Поля HR меняют admin, diretoria и отдел RH; личные поля — сам сотрудник.
func (h *APIHandler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req employeeUpdateRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	upd := service.ProfileUpdate{
		CPF:             req.CPF,
		Location:        req.Location,
		Departments:     req.Departments,
		AdmissionDate:   timePtr(req.AdmissionDate),
		TerminationDate: timePtr(req.TerminationDate),
		BirthDate:       timePtr(req.BirthDate),
		Phone:           req.Phone,
		EmergencyName:   req.EmergencyName,
		EmergencyPhone:  req.EmergencyPhone,
	}
	if upd.Departments == nil && req.Department != nil {
		upd.Departments = []string{*req.Department}
	}

	res, err := h.employees.UpdateProfile(r.Context(), p, chi.URLParam(r, "username"), upd)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка обновления сотрудника")
		return
	}

	writeJSON(w, http.StatusOK, employeeUpdateResponse{
		Employee:      mapEmployee(res.Profile),
		DirectorySync: res.DirectorySync,
		Warning:       res.Warning,
	})
}

// SyncEmployees — POST /employees/sync. Сверка всех учётных записей
// каталога с БД. Доступ: admin (RequireRole в роутере).
func (h *APIHandler) SyncEmployees(w http.ResponseWriter, r *http.Request) {
	res, err := h.sync.SyncNow(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "Ошибка синхронизации с каталогом")
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		TotalDirectory: res.TotalDirectory,
		Processed:      res.Processed,
		Failed:         res.Failed,
		SyncedAt:       res.SyncedAt,
	})
}
