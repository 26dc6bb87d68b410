// Пакет access — правила доступа к объявлениям.
// Вычислитель без состояния: на вход — роль, отделы и флаги пользователя
// и объявление, на выход — решение.
package access

import (
	"errors"
	"slices"
	"strings"

	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"
)

// Причины отказа. Сообщения показываются пользователю.
var (
	ErrCategoryDenied  = errors.New("нет права публиковать в этой категории")
	ErrSectorMismatch  = errors.New("публиковать в категории SECTOR можно только для своего отдела")
	ErrTargetRequired  = errors.New("для категории SECTOR нужно указать отдел")
	ErrTargetForbidden = errors.New("отдел указывается только для категории SECTOR")
	ErrNotAuthor       = errors.New("архивировать может только автор или руководство")
	ErrLogsDenied      = errors.New("журнал ознакомления доступен автору и руководителям")
)

// Principal — пользователь, от имени которого выполняется запрос.
type Principal struct {
	UserID      string
	Username    string
	Role        rbac.Role
	Departments []string
	Permissions rbac.PermissionSet
}

// InDepartment проверяет членство в отделе без учёта регистра.
func (p Principal) InDepartment(dept string) bool {
	dept = strings.TrimSpace(dept)
	if dept == "" {
		return false
	}
	for _, d := range p.Departments {
		if strings.EqualFold(d, dept) {
			return true
		}
	}
	return false
}

// CanViewArchived — привилегированная роль или любой флаг публикации.
func (p Principal) CanViewArchived() bool {
	return p.Role.IsPrivileged() || p.Permissions.Any()
}

// VisibleCategories возвращает категории, видимые роли, без SECTOR.
func VisibleCategories(role rbac.Role) []model.Category {
	cats := []model.Category{model.CategoryGeneral, model.CategoryTech}
	if role.IsManagement() {
		cats = append(cats, model.CategoryOpsMgmt)
	}
	if role.IsPrivileged() {
		cats = append(cats, model.CategoryStratMgmt)
	}
	return cats
}

// CanRead решает, видит ли пользователь объявление.
// Архивные видны только по явному запросу и при праве на архив.
func CanRead(p Principal, a *model.Announcement, showArchived bool) bool {
	if a.IsArchived && !(showArchived && p.CanViewArchived()) {
		return false
	}
	if a.Category == model.CategorySector {
		return a.TargetDept != nil && p.InDepartment(*a.TargetDept)
	}
	return slices.Contains(VisibleCategories(p.Role), a.Category)
}

// ListScope переводит правила видимости в параметры выборки.
// Архив выбирается, только если он запрошен и разрешён.
func ListScope(p Principal, showArchived bool) model.AnnouncementQuery {
	depts := make([]string, 0, len(p.Departments))
	for _, d := range p.Departments {
		depts = append(depts, strings.ToLower(d))
	}
	return model.AnnouncementQuery{
		Categories:        VisibleCategories(p.Role),
		SectorDepartments: depts,
		Archived:          showArchived && p.CanViewArchived(),
		ViewerID:          p.UserID,
	}
}

// CanWrite проверяет право публикации.
// targetDept обязателен для SECTOR и запрещён для остальных категорий.
func CanWrite(p Principal, category model.Category, targetDept *string) error {
	hasTarget := targetDept != nil && strings.TrimSpace(*targetDept) != ""
	if category == model.CategorySector && !hasTarget {
		return ErrTargetRequired
	}
	if category != model.CategorySector && hasTarget {
		return ErrTargetForbidden
	}

	if p.Role == rbac.RoleAdmin {
		return nil
	}

	general := p.Permissions.Has(rbac.PermPostGeneral)
	switch category {
	case model.CategoryGeneral:
		if general {
			return nil
		}
	case model.CategoryTech:
		if general || p.Permissions.Has(rbac.PermPostTech) {
			return nil
		}
	case model.CategorySector:
		if general {
			return nil
		}
		if p.Role == rbac.RoleSupervisor || p.Role == rbac.RoleCoordenador {
			if p.InDepartment(*targetDept) {
				return nil
			}
			return ErrSectorMismatch
		}
	}
	return ErrCategoryDenied
}

// CanArchive — автор объявления или привилегированная роль.
func CanArchive(p Principal, a *model.Announcement) error {
	if p.Role.IsPrivileged() || isAuthor(p, a) {
		return nil
	}
	return ErrNotAuthor
}

// CanViewLogs — автор или руководитель (включая supervisor).
func CanViewLogs(p Principal, a *model.Announcement) error {
	if p.Role.IsManagement() || isAuthor(p, a) {
		return nil
	}
	return ErrLogsDenied
}

// MatchesSector — отдел сотрудника содержит целевой отдел (без учёта регистра).
func MatchesSector(department, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	return strings.Contains(strings.ToLower(department), strings.ToLower(target))
}

// PendingRoster возвращает активных сотрудников, ещё не ознакомившихся.
// Для SECTOR кандидаты ограничены отделом, для остальных — все активные.
func PendingRoster(a *model.Announcement, roster []model.RosterEntry, acked []model.Acknowledgment) []model.RosterEntry {
	done := make(map[string]bool, len(acked))
	for _, ack := range acked {
		done[ack.UserID] = true
	}

	pending := make([]model.RosterEntry, 0, len(roster))
	for _, r := range roster {
		if done[r.UserID] {
			continue
		}
		if a.Category == model.CategorySector {
			if a.TargetDept == nil || !MatchesSector(r.Department, *a.TargetDept) {
				continue
			}
		}
		pending = append(pending, r)
	}
	return pending
}

func isAuthor(p Principal, a *model.Announcement) bool {
	return a.CreatedBy != nil && p.UserID != "" && *a.CreatedBy == p.UserID
}
