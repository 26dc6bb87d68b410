// announcements.go — обработчики /announcements endpoints.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/service"
)

// multipartOverhead — запас на поля формы сверх размера вложения.
const multipartOverhead = 1 << 20

// ListAnnouncements — GET /announcements.
// Параметры: category, show_archived.
func (h *APIHandler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var (
		category     *string
		showArchived *bool
	)
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "category", q, &category); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр category: "+err.Error())
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "show_archived", q, &showArchived); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр show_archived: "+err.Error())
		return
	}

	var cat *model.Category
	if category != nil && *category != "" {
		c, err := model.ParseCategory(*category)
		if err != nil {
			apierrors.ValidationError(w, err.Error())
			return
		}
		cat = &c
	}

	views, err := h.announcements.List(r.Context(), p, cat, showArchived != nil && *showArchived)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения объявлений")
		return
	}

	resp := announcementListResponse{Items: make([]announcementDTO, len(views))}
	for i, v := range views {
		resp.Items[i] = mapAnnouncementView(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateAnnouncement — POST /announcements.
// multipart/form-data: title, content, category, target_dept, file (опционально).
func (h *APIHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	limit := h.opts.UploadMaxBytes + multipartOverhead
	if r.ContentLength > limit {
		apierrors.PayloadTooLarge(w, "Запрос превышает допустимый размер")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			apierrors.PayloadTooLarge(w, "Запрос превышает допустимый размер")
			return
		case errors.Is(err, http.ErrNotMultipart):
			if err := r.ParseForm(); err != nil {
				apierrors.ValidationError(w, "Некорректная форма: "+err.Error())
				return
			}
		default:
			apierrors.ValidationError(w, "Некорректная форма: "+err.Error())
			return
		}
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	in := service.NewAnnouncement{
		Title:    r.FormValue("title"),
		Content:  r.FormValue("content"),
		Category: model.Category(r.FormValue("category")),
	}
	if target := r.FormValue("target_dept"); target != "" {
		in.TargetDept = &target
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		in.Attachment = &service.Attachment{Name: header.Filename, Reader: file}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		apierrors.ValidationError(w, "Некорректное вложение: "+err.Error())
		return
	}

	a, err := h.announcements.Create(r.Context(), p, in)
	if err != nil {
		h.writeServiceError(w, err, "Ошибка публикации объявления")
		return
	}
	writeJSON(w, http.StatusCreated, mapAnnouncement(a))
}

// AcknowledgeAnnouncement — POST /announcements/{id}/acknowledge. Идемпотентно.
func (h *APIHandler) AcknowledgeAnnouncement(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.announcements.Acknowledge(r.Context(), p, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err, "Ошибка отметки ознакомления")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

// ArchiveAnnouncement — POST /announcements/{id}/archive.
func (h *APIHandler) ArchiveAnnouncement(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

// UnarchiveAnnouncement — POST /announcements/{id}/unarchive.
func (h *APIHandler) UnarchiveAnnouncement(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *APIHandler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	if err := h.announcements.SetArchived(r.Context(), p, chi.URLParam(r, "id"), archived); err != nil {
		h.writeServiceError(w, err, "Ошибка изменения архива")
		return
	}
	status := "active"
	if archived {
		status = "archived"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// GetAnnouncementLogs — GET /announcements/{id}/logs.
// Доступ: автор и руководство (проверяется в сервисе).
func (h *APIHandler) GetAnnouncementLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	logs, err := h.announcements.Logs(r.Context(), p, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "Ошибка получения журнала ознакомления")
		return
	}
	writeJSON(w, http.StatusOK, mapLogs(logs))
}
