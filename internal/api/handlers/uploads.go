// uploads.go — выдача сохранённых вложений объявлений.
package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/zerocore/portal/internal/api/errors"
	"github.com/zerocore/portal/internal/filestore"
)

// GetUpload — GET /uploads/{name}.
func (h *APIHandler) GetUpload(w http.ResponseWriter, r *http.Request) {
	if _, ok := principal(w, r); !ok {
		return
	}

	name := chi.URLParam(r, "name")
	f, err := h.files.Open(name)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) || errors.Is(err, filestore.ErrInvalidName) {
			apierrors.NotFound(w, "Вложение не найдено")
			return
		}
		h.writeServiceError(w, err, "Ошибка чтения вложения")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeServiceError(w, err, "Ошибка чтения вложения")
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
