// Пакет errors — ответы с ошибками HTTP API портала.
//
// Тело: {"error": {"code": "...", "message": "..."}}. По code фронтенд
// выбирает реакцию (форма входа, баннер «каталог недоступен»), message
// показывается пользователю как есть.
package errors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок API.
const (
	// Форма, query-параметр или вложение не прошли проверку.
	CodeValidationError = "VALIDATION_ERROR"
	// Нет сотрудника, объявления или вложения. Невидимое объявление тоже.
	CodeNotFound = "NOT_FOUND"
	// Нет токена, токен просрочен или неверные учётные данные.
	CodeUnauthorized = "UNAUTHORIZED"
	// Роль или отдел не дают права на действие.
	CodeForbidden = "FORBIDDEN"
	// Повторная запись: логин или почта заняты.
	CodeConflict = "CONFLICT"
	// Вложение объявления больше лимита.
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	// LDAP/AD не ответил; вход и синхронизация групп временно недоступны.
	CodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// statusByCode — HTTP-статус для каждого кода.
var statusByCode = map[string]int{
	CodeValidationError:      http.StatusBadRequest,
	CodeNotFound:             http.StatusNotFound,
	CodeUnauthorized:         http.StatusUnauthorized,
	CodeForbidden:            http.StatusForbidden,
	CodeConflict:             http.StatusConflict,
	CodePayloadTooLarge:      http.StatusRequestEntityTooLarge,
	CodeDirectoryUnavailable: http.StatusBadGateway,
	CodeInternalError:        http.StatusInternalServerError,
}

// directoryRetryAfter — через сколько секунд повторить вход при недоступном каталоге.
const directoryRetryAfter = "30"

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки с явным статусом.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

// Status возвращает HTTP-статус кода; неизвестный код — 500.
func Status(code string) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func write(w http.ResponseWriter, code, message string) {
	WriteError(w, Status(code), code, message)
}

// ValidationError — 400.
func ValidationError(w http.ResponseWriter, message string) {
	write(w, CodeValidationError, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	write(w, CodeNotFound, message)
}

// Unauthorized — 401 с подсказкой схемы Bearer (токен также принимается из cookie).
func Unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="portal"`)
	write(w, CodeUnauthorized, message)
}

// Forbidden — 403.
func Forbidden(w http.ResponseWriter, message string) {
	write(w, CodeForbidden, message)
}

// Conflict — 409.
func Conflict(w http.ResponseWriter, message string) {
	write(w, CodeConflict, message)
}

// PayloadTooLarge — 413.
func PayloadTooLarge(w http.ResponseWriter, message string) {
	write(w, CodePayloadTooLarge, message)
}

// DirectoryUnavailable — 502 с Retry-After.
func DirectoryUnavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Retry-After", directoryRetryAfter)
	write(w, CodeDirectoryUnavailable, message)
}

// InternalError — 500. message не должен раскрывать детали ошибки.
func InternalError(w http.ResponseWriter, message string) {
	write(w, CodeInternalError, message)
}
