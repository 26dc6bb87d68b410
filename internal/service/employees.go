// employees.go — бизнес-логика карточек сотрудников.
//
// Поля HR (cpf, место работы, отделы, даты) меняют admin, diretoria
// и сотрудники отдела RH. Личные поля (телефон, экстренный контакт)
// сотрудник меняет в своей карточке. Изменение отделов синхронизируется
// с группами каталога; сбой синхронизации не откатывает сохранение.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/zerocore/portal/internal/domain/access"
	"github.com/zerocore/portal/internal/domain/identity"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"
	"github.com/zerocore/portal/internal/repository"
)

// hrDepartment — отдел, сотрудники которого ведут карточки.
const hrDepartment = "RH"

// Состояние синхронизации групп после изменения отделов.
const (
	DirectorySyncSynced  = "synced"
	DirectorySyncPending = "pending"
	DirectorySyncSkipped = "skipped"
)

// GroupSetter — выравнивание групп отделов пользователя в каталоге.
type GroupSetter interface {
	SetUserGroups(ctx context.Context, username string, desired []string) GroupSyncResult
}

// ProfileUpdate — изменения карточки. nil — поле не меняется.
type ProfileUpdate struct {
	// Поля HR.
	CPF             *string
	Location        *string
	Departments     []string
	AdmissionDate   *time.Time
	TerminationDate *time.Time
	BirthDate       *time.Time

	// Личные поля.
	Phone          *string
	EmergencyName  *string
	EmergencyPhone *string
}

// hasHRFields сообщает, что обновление затрагивает поля HR.
func (u ProfileUpdate) hasHRFields() bool {
	return u.CPF != nil || u.Location != nil || u.Departments != nil ||
		u.AdmissionDate != nil || u.TerminationDate != nil || u.BirthDate != nil
}

// hasSelfFields сообщает, что обновление затрагивает личные поля.
func (u ProfileUpdate) hasSelfFields() bool {
	return u.Phone != nil || u.EmergencyName != nil || u.EmergencyPhone != nil
}

// ProfileUpdateResult — итог обновления карточки.
type ProfileUpdateResult struct {
	Profile *model.UserProfile
	// DirectorySync — synced, pending или skipped (отделы не менялись)
	DirectorySync string
	// Warning — причина pending
	Warning string
}

// EmployeeService — бизнес-логика карточек сотрудников.
type EmployeeService struct {
	employees  repository.EmployeeRepository
	groups     GroupSetter
	cache      DepartmentCache
	normalizer *identity.Normalizer
	logger     *slog.Logger
}

// NewEmployeeService создаёт сервис сотрудников.
func NewEmployeeService(
	employees repository.EmployeeRepository,
	groups GroupSetter,
	cache DepartmentCache,
	normalizer *identity.Normalizer,
	logger *slog.Logger,
) *EmployeeService {
	return &EmployeeService{
		employees:  employees,
		groups:     groups,
		cache:      cache,
		normalizer: normalizer,
		logger:     logger.With(slog.String("component", "employees")),
	}
}

// List возвращает сотрудников по фильтру.
func (s *EmployeeService) List(ctx context.Context, filter model.EmployeeFilter) ([]model.EmployeeListItem, error) {
	switch filter.Status {
	case "":
		filter.Status = model.EmployeeStatusAll
	case model.EmployeeStatusAll, model.EmployeeStatusActive, model.EmployeeStatusInactive:
	default:
		return nil, fmt.Errorf("%w: недопустимый статус %q", ErrValidation, filter.Status)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.employees.List(ctx, filter)
}

// Get возвращает карточку сотрудника по логину.
func (s *EmployeeService) Get(ctx context.Context, username string) (*model.UserProfile, error) {
	p, err := s.employees.GetProfile(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: сотрудник %s", ErrNotFound, username)
		}
		return nil, err
	}
	return p, nil
}

// CanEditHR сообщает, что пользователь может менять поля HR любой карточки.
func CanEditHR(p access.Principal) bool {
	return p.Role == rbac.RoleAdmin || p.Role == rbac.RoleDiretoria || p.InDepartment(hrDepartment)
}

// UpdateProfile применяет изменения карточки с разграничением полей.
// Meta и основной отдел сливаются с сохранёнными в БД, поэтому ключи,
// записанные между чтением и сохранением, не теряются.
func (s *EmployeeService) UpdateProfile(ctx context.Context, p access.Principal, username string, upd ProfileUpdate) (*ProfileUpdateResult, error) {
	profile, err := s.Get(ctx, username)
	if err != nil {
		return nil, err
	}

	hr := CanEditHR(p)
	self := strings.EqualFold(p.Username, profile.User.Username)
	if upd.hasHRFields() && !hr {
		return nil, fmt.Errorf("%w: поля HR меняют admin, diretoria и отдел RH", ErrForbidden)
	}
	if upd.hasSelfFields() && !hr && !self {
		return nil, fmt.Errorf("%w: личные поля меняет только сам сотрудник", ErrForbidden)
	}

	emp := &profile.Employee
	oldDepts := emp.Departments()

	if upd.CPF != nil {
		emp.CPF = optionalString(*upd.CPF)
	}
	if upd.Location != nil {
		emp.Location = strings.TrimSpace(*upd.Location)
	}
	if upd.AdmissionDate != nil {
		emp.AdmissionDate = upd.AdmissionDate
	}
	if upd.TerminationDate != nil {
		emp.TerminationDate = upd.TerminationDate
	}
	if upd.BirthDate != nil {
		emp.BirthDate = upd.BirthDate
	}
	if emp.AdmissionDate != nil && emp.TerminationDate != nil && emp.TerminationDate.Before(*emp.AdmissionDate) {
		return nil, fmt.Errorf("%w: дата увольнения раньше даты приёма", ErrValidation)
	}

	// В БД уходят только изменённые ключи meta.
	patch := repository.ProfilePatch{Meta: model.Meta{}}
	var newDepts []string
	if upd.Departments != nil {
		newDepts = s.canonicalDepartments(upd.Departments)
		patch.Meta = patch.Meta.WithDepts(newDepts)
		// Основной отдел всегда входит в новый набор.
		primary := newDepts[0]
		if i := slices.IndexFunc(newDepts, func(d string) bool { return strings.EqualFold(d, emp.Department) }); i >= 0 {
			primary = newDepts[i]
		}
		patch.Department = &primary
	}
	if upd.Phone != nil {
		patch.Meta = patch.Meta.WithString(model.MetaKeyPhone, strings.TrimSpace(*upd.Phone))
	}
	if upd.EmergencyName != nil {
		patch.Meta = patch.Meta.WithString(model.MetaKeyEmergencyName, strings.TrimSpace(*upd.EmergencyName))
	}
	if upd.EmergencyPhone != nil {
		patch.Meta = patch.Meta.WithString(model.MetaKeyEmergencyPhone, strings.TrimSpace(*upd.EmergencyPhone))
	}

	if err := s.employees.UpdateProfile(ctx, emp, patch); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: сотрудник %s", ErrNotFound, username)
		}
		return nil, err
	}

	s.logger.Info("Карточка сотрудника обновлена",
		slog.String("username", profile.User.Username),
		slog.String("by", p.Username),
		slog.Bool("hr_fields", upd.hasHRFields()),
	)

	result := &ProfileUpdateResult{Profile: profile, DirectorySync: DirectorySyncSkipped}
	if newDepts == nil || equalFoldSets(oldDepts, newDepts) {
		return result, nil
	}

	sync := s.groups.SetUserGroups(ctx, profile.User.Username, newDepts)
	if len(sync.Added) > 0 {
		s.cache.Invalidate(ctx)
	}
	if !sync.Synced {
		result.DirectorySync = DirectorySyncPending
		result.Warning = sync.Reason
		s.logger.Warn("Отделы сохранены, группы каталога не синхронизированы",
			slog.String("username", profile.User.Username),
			slog.String("reason", sync.Reason),
		)
		return result, nil
	}
	result.DirectorySync = DirectorySyncSynced
	return result, nil
}

// canonicalDepartments нормализует, убирает дубликаты и сортирует отделы.
// Пустой список заменяется отделом по умолчанию.
func (s *EmployeeService) canonicalDepartments(raw []string) []string {
	var depts []string
	for _, d := range raw {
		if name := s.normalizer.NormalizeDepartmentName(d); name != "" {
			depts = appendUniqueFold(depts, name)
		}
	}
	if len(depts) == 0 {
		return []string{s.normalizer.Mapping().DefaultDepartment}
	}
	slices.SortFunc(depts, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return depts
}

func equalFoldSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !slices.ContainsFunc(b, func(y string) bool { return strings.EqualFold(x, y) }) {
			return false
		}
	}
	return true
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
