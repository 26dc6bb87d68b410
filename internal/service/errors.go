// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrInvalidCredentials — вход отклонён (неверные данные или каталог недоступен).
	ErrInvalidCredentials = errors.New("неверный логин или пароль")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrForbidden — действие запрещено; причина оборачивается.
	ErrForbidden = errors.New("доступ запрещён")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInactive — учётная запись отключена в каталоге.
	ErrInactive = errors.New("учётная запись отключена")
	// ErrNoGroup — для отдела не ведётся группа каталога.
	ErrNoGroup = errors.New("для отдела нет группы каталога")
)
