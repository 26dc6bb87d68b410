package model

import "github.com/zerocore/portal/internal/domain/rbac"

// DirectoryIdentity — нормализованная личность из каталога.
// Вычисляется заново при каждом входе и синхронизации, в БД не хранится.
// Departments никогда не пуст, Role — ровно одно значение,
// сырые имена групп каталога сюда не попадают.
type DirectoryIdentity struct {
	// Username — логин в нижнем регистре, ключ сверки
	Username string
	// DN — distinguished name записи каталога
	DN string
	// FullName — отображаемое имя
	FullName string
	// Email — первый адрес почты или nil
	Email *string
	// Title — должность (значение по умолчанию, если пусто)
	Title string
	// Role — роль по старшинству групп
	Role rbac.Role
	// Departments — канонические отделы, отсортированы, без дубликатов
	Departments []string
	// PrimaryDepartment — основной отдел для employees.department
	PrimaryDepartment string
	// Permissions — флаги публикации
	Permissions rbac.PermissionSet
	// IsActive — учётная запись не отключена
	IsActive bool
}
