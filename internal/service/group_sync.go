// group_sync.go — синхронизация членства пользователя в группах отделов каталога.
//
// Управляются только группы с префиксом отдела (по умолчанию ZC_DEPT_).
// Прочие группы пользователя не затрагиваются. Изменения не атомарны:
// частично применённый набор исправляется следующей синхронизацией.
//
// Prometheus-метрики:
//   - portal_group_sync_operations_total — операции над членством по результату
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/identity"
)

var groupSyncOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "portal_group_sync_operations_total",
	Help: "Операции над членством в группах отделов",
}, []string{"op", "result"})

// Причины несинхронизированного результата.
const (
	ReasonNotConfigured = "каталог не настроен"
	ReasonUnavailable   = "каталог недоступен"
	ReasonUserNotFound  = "пользователь не найден в каталоге"
	ReasonPartial       = "часть изменений не применена"
)

// GroupRef — группа отдела в каталоге.
type GroupRef struct {
	CN string
	DN string
}

// GroupSyncResult — итог SetUserGroups. Ошибкой не бывает: сбои отражаются
// в Synced=false и Reason.
type GroupSyncResult struct {
	// Added — CN групп, куда пользователь добавлен
	Added []string
	// Removed — CN групп, откуда пользователь удалён
	Removed []string
	// Synced — каталог приведён к желаемому набору
	Synced bool
	// Reason — причина, если Synced=false
	Reason string
}

// GroupSynchronizer — создание групп отделов и выравнивание членства.
type GroupSynchronizer struct {
	dir        directory.Directory
	normalizer *identity.Normalizer
	groupsOU   string
	logger     *slog.Logger
}

// NewGroupSynchronizer создаёт синхронизатор групп.
// groupsOU — контейнер, в котором создаются новые группы отделов.
func NewGroupSynchronizer(
	dir directory.Directory,
	normalizer *identity.Normalizer,
	groupsOU string,
	logger *slog.Logger,
) *GroupSynchronizer {
	return &GroupSynchronizer{
		dir:        dir,
		normalizer: normalizer,
		groupsOU:   groupsOU,
		logger:     logger.With(slog.String("component", "group_sync")),
	}
}

// EnsureGroup возвращает группу отдела, создавая её при отсутствии.
// Для отдела по умолчанию и пустого имени — ErrNoGroup.
func (s *GroupSynchronizer) EnsureGroup(ctx context.Context, dept string) (GroupRef, error) {
	cn, ok := s.normalizer.DepartmentGroupCN(dept)
	if !ok {
		return GroupRef{}, fmt.Errorf("%w: %q", ErrNoGroup, dept)
	}

	entry, err := s.dir.FindGroup(ctx, cn)
	if err == nil {
		return GroupRef{CN: cn, DN: entry.DN}, nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return GroupRef{}, fmt.Errorf("поиск группы %s: %w", cn, err)
	}

	// Группа того же отдела с другим написанием CN (созданная вручную).
	if ref, ok, err := s.findEquivalentGroup(ctx, dept); err != nil {
		return GroupRef{}, err
	} else if ok {
		return ref, nil
	}

	dn := "CN=" + ldap.EscapeDN(cn) + "," + s.groupsOU
	canonical := s.normalizer.NormalizeDepartmentName(dept)
	attrs := map[string][]string{
		"objectClass":    {"top", "group"},
		"cn":             {cn},
		"sAMAccountName": {cn},
		"description":    {"Setor ZeroCore: " + canonical},
	}
	if err := s.dir.AddGroup(ctx, dn, attrs); err != nil {
		groupSyncOps.WithLabelValues("create", "error").Inc()
		return GroupRef{}, fmt.Errorf("создание группы %s: %w", cn, err)
	}
	groupSyncOps.WithLabelValues("create", "ok").Inc()

	s.logger.Info("Группа отдела создана в каталоге",
		slog.String("cn", cn),
		slog.String("department", canonical),
	)
	return GroupRef{CN: cn, DN: dn}, nil
}

// SetUserGroups приводит членство пользователя в группах отделов к desired.
// Сначала удаляются лишние группы, затем добавляются недостающие.
func (s *GroupSynchronizer) SetUserGroups(ctx context.Context, username string, desired []string) GroupSyncResult {
	result := GroupSyncResult{Added: []string{}, Removed: []string{}}

	if !s.dir.Configured() {
		result.Reason = ReasonNotConfigured
		s.logger.Warn("Синхронизация групп пропущена: каталог не настроен",
			slog.String("username", username),
		)
		return result
	}

	user, err := s.dir.FindUser(ctx, username)
	if err != nil {
		result.Reason = ReasonUnavailable
		if errors.Is(err, directory.ErrNotFound) {
			result.Reason = ReasonUserNotFound
		}
		s.logger.Warn("Синхронизация групп невозможна",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return result
	}

	// Ключ обеих карт — канонический отдел, а не CN: группа
	// ZC_DEPT_Recursos-Humanos и отдел "Recursos Humanos" совпадают.
	current := make(map[string]string) // отдел -> DN группы
	for _, groupDN := range user.Values("memberOf") {
		cn := identity.FirstRDNValue(groupDN)
		if !s.normalizer.IsDepartmentGroup(cn) {
			continue
		}
		if key := s.departmentKey(cn); key != "" {
			if _, dup := current[key]; !dup {
				current[key] = groupDN
			}
		}
	}

	want := make(map[string]bool)
	for _, dept := range desired {
		if _, ok := s.normalizer.DepartmentGroupCN(dept); ok {
			want[s.departmentKey(dept)] = true
		}
	}

	failed := 0

	for _, key := range sortedKeys(current) {
		if want[key] {
			continue
		}
		groupDN := current[key]
		if err := s.dir.ModifyMembership(ctx, groupDN, directory.MembershipRemove, user.DN); err != nil {
			failed++
			groupSyncOps.WithLabelValues("remove", "error").Inc()
			s.logger.Warn("Ошибка удаления из группы",
				slog.String("username", username),
				slog.String("group", groupDN),
				slog.String("error", err.Error()),
			)
			continue
		}
		groupSyncOps.WithLabelValues("remove", "ok").Inc()
		result.Removed = append(result.Removed, identity.FirstRDNValue(groupDN))
	}

	for _, dept := range desired {
		cn, ok := s.normalizer.DepartmentGroupCN(dept)
		if !ok {
			continue
		}
		key := s.departmentKey(dept)
		if _, exists := current[key]; exists {
			continue
		}
		current[key] = ""

		group, err := s.EnsureGroup(ctx, dept)
		if err == nil {
			cn = group.CN
			err = s.dir.ModifyMembership(ctx, group.DN, directory.MembershipAdd, user.DN)
		}
		if err != nil {
			failed++
			groupSyncOps.WithLabelValues("add", "error").Inc()
			s.logger.Warn("Ошибка добавления в группу",
				slog.String("username", username),
				slog.String("group", cn),
				slog.String("error", err.Error()),
			)
			continue
		}
		groupSyncOps.WithLabelValues("add", "ok").Inc()
		result.Added = append(result.Added, cn)
	}

	if failed > 0 {
		result.Reason = ReasonPartial
		return result
	}
	result.Synced = true

	s.logger.Info("Группы отделов синхронизированы",
		slog.String("username", username),
		slog.Any("added", result.Added),
		slog.Any("removed", result.Removed),
	)
	return result
}

// departmentKey — ключ сравнения отделов: каноническое имя в верхнем регистре.
func (s *GroupSynchronizer) departmentKey(name string) string {
	return strings.ToUpper(s.normalizer.NormalizeDepartmentName(name))
}

// findEquivalentGroup ищет среди групп отделов группу того же канонического отдела.
func (s *GroupSynchronizer) findEquivalentGroup(ctx context.Context, dept string) (GroupRef, bool, error) {
	groups, err := s.dir.ListGroups(ctx, s.normalizer.Mapping().DepartmentPrefix)
	if err != nil {
		return GroupRef{}, false, fmt.Errorf("список групп отделов: %w", err)
	}
	key := s.departmentKey(dept)
	for _, g := range groups {
		cn := identity.FirstRDNValue(g.DN)
		if v, ok := g.First("cn"); ok {
			cn = v
		}
		if s.departmentKey(cn) == key {
			return GroupRef{CN: cn, DN: g.DN}, true, nil
		}
	}
	return GroupRef{}, false, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
