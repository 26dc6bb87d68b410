// Пакет model — доменные модели портала.
package model

import (
	"time"

	"github.com/zerocore/portal/internal/domain/rbac"
)

// User — учётная запись портала (таблица users).
// role, is_active и last_login принадлежат каталогу и перезаписываются
// при каждой синхронизации. id и username неизменны после создания.
type User struct {
	// ID — UUID пользователя
	ID string
	// Username — логин каталога в нижнем регистре
	Username string
	// Email — адрес почты (nil, если в каталоге пусто)
	Email *string
	// Role — роль из каталога
	Role rbac.Role
	// IsActive — учётная запись не отключена в каталоге
	IsActive bool
	// LastLogin — время последней синхронизации/входа
	LastLogin *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Employee — карточка сотрудника (таблица employees, 1:1 с users).
type Employee struct {
	ID     string
	UserID string
	// FullName — отображаемое имя из каталога
	FullName string
	// CPF — налоговый номер (nil, если не заполнен)
	CPF *string
	// Department — основной отдел для отображения и поиска
	Department string
	// Location — рабочее место
	Location string
	// Title — должность из каталога
	Title string

	// Поля HR.
	AdmissionDate   *time.Time
	TerminationDate *time.Time
	BirthDate       *time.Time

	// Meta — расширяемые атрибуты (depts, телефоны)
	Meta Meta

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Departments возвращает авторитетный список отделов:
// meta.depts, а при его отсутствии — [Department].
func (e *Employee) Departments() []string {
	if depts := e.Meta.Depts(); len(depts) > 0 {
		return depts
	}
	if e.Department == "" {
		return []string{}
	}
	return []string{e.Department}
}

// UserProfile — пользователь вместе с карточкой сотрудника.
type UserProfile struct {
	User     User
	Employee Employee
}

// EmployeeListItem — строка списка сотрудников.
type EmployeeListItem struct {
	UserID     string
	Username   string
	Email      *string
	Role       rbac.Role
	IsActive   bool
	FullName   string
	Department string
	Title      string
	Location   string
}

// EmployeeStatus — фильтр списка сотрудников по активности.
type EmployeeStatus string

// Значения фильтра статуса.
const (
	EmployeeStatusAll      EmployeeStatus = "all"
	EmployeeStatusActive   EmployeeStatus = "active"
	EmployeeStatusInactive EmployeeStatus = "inactive"
)

// EmployeeFilter — параметры списка сотрудников.
type EmployeeFilter struct {
	Status EmployeeStatus
	// Search — подстрока по имени или логину
	Search string
}

// RosterEntry — активный сотрудник для вычисления журнала ознакомления.
type RosterEntry struct {
	UserID     string
	Username   string
	FullName   string
	Department string
}
