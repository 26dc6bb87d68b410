// Пакет rbac — роли и флаги разрешений портала.
// Роль — одно значение из закрытого перечисления с фиксированным старшинством.
// Разрешения — набор флагов, независимый от роли.
package rbac

import (
	"fmt"
	"slices"
	"strings"
)

// Role — уровень привилегий пользователя.
type Role string

// Роли в порядке убывания привилегий.
const (
	RoleAdmin       Role = "admin"
	RoleDiretoria   Role = "diretoria"
	RoleCoordenador Role = "coordenador"
	RoleSupervisor  Role = "supervisor"
	RoleAdvogado    Role = "advogado"
	RoleEstagiario  Role = "estagiario"
	RoleUser        Role = "user"
)

// Precedence — роли, назначаемые по группам каталога, от старшей к младшей.
// RoleUser сюда не входит: это значение по умолчанию.
var Precedence = []Role{
	RoleAdmin,
	RoleDiretoria,
	RoleCoordenador,
	RoleSupervisor,
	RoleAdvogado,
	RoleEstagiario,
}

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[Role]int{
	RoleUser:        1,
	RoleEstagiario:  2,
	RoleAdvogado:    3,
	RoleSupervisor:  4,
	RoleCoordenador: 5,
	RoleDiretoria:   6,
	RoleAdmin:       7,
}

// ParseRole преобразует строку в Role. Регистр не учитывается.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleWeight[r]; !ok {
		return "", fmt.Errorf("недопустимая роль %q", s)
	}
	return r, nil
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[Role(role)]
	return ok
}

// String реализует fmt.Stringer.
func (r Role) String() string { return string(r) }

// IsPrivileged — admin, diretoria или coordenador.
func (r Role) IsPrivileged() bool {
	return r == RoleAdmin || r == RoleDiretoria || r == RoleCoordenador
}

// IsManagement — привилегированные роли и supervisor.
func (r Role) IsManagement() bool {
	return r.IsPrivileged() || r == RoleSupervisor
}

// AtLeast сообщает, что роль r не ниже other.
func (r Role) AtLeast(other Role) bool {
	return roleWeight[r] >= roleWeight[other]
}

// HighestRole возвращает максимальную роль из набора.
// Для пустого набора возвращает RoleUser.
func HighestRole(roles []Role) Role {
	highest := RoleUser
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// MapGroupsToRole определяет роль по группам каталога.
// Группы сравниваются без учёта регистра. Роли проверяются в порядке Precedence,
// первое совпадение побеждает. Если ни одна ролевая группа не найдена, но есть
// привилегированный псевдоним (например, "Domain Admins"), возвращается admin.
// Иначе — user. Функция тотальна.
func MapGroupsToRole(groups []string, roleGroups map[Role][]string, adminAliases []string) Role {
	have := make(map[string]bool, len(groups))
	for _, g := range groups {
		have[strings.ToUpper(g)] = true
	}

	for _, role := range Precedence {
		for _, g := range roleGroups[role] {
			if have[strings.ToUpper(g)] {
				return role
			}
		}
	}

	for _, alias := range adminAliases {
		if have[strings.ToUpper(alias)] {
			return RoleAdmin
		}
	}

	return RoleUser
}

// Permission — флаг разрешения на публикацию.
type Permission string

// Флаги разрешений.
const (
	PermPostGeneral Permission = "post_general"
	PermPostTech    Permission = "post_tech"
)

// PermissionSet — отсортированный набор уникальных флагов.
type PermissionSet []Permission

// NewPermissionSet строит набор из флагов, отбрасывая дубликаты.
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, 0, len(perms))
	for _, p := range perms {
		if !slices.Contains(set, p) {
			set = append(set, p)
		}
	}
	slices.Sort(set)
	return set
}

// ParsePermissions разбирает флаги из строк (например, из claims токена).
// Неизвестные флаги — ошибка.
func ParsePermissions(values []string) (PermissionSet, error) {
	perms := make([]Permission, 0, len(values))
	for _, v := range values {
		switch p := Permission(v); p {
		case PermPostGeneral, PermPostTech:
			perms = append(perms, p)
		default:
			return nil, fmt.Errorf("недопустимое разрешение %q", v)
		}
	}
	return NewPermissionSet(perms...), nil
}

// Has проверяет наличие флага.
func (s PermissionSet) Has(p Permission) bool {
	return slices.Contains(s, p)
}

// Any — есть хотя бы один флаг публикации.
func (s PermissionSet) Any() bool {
	return len(s) > 0
}

// Strings возвращает флаги как срез строк.
func (s PermissionSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = string(p)
	}
	return out
}
