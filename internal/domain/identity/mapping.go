// Пакет identity — нормализация записей каталога в DirectoryIdentity.
// Нормализация чистая: работает только с уже полученными атрибутами,
// без обращений к каталогу.
package identity

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zerocore/portal/internal/domain/rbac"
)

// Mapping — соглашения об именах групп и подразделений каталога.
// Значения по умолчанию — DefaultMapping, файл YAML их переопределяет.
type Mapping struct {
	// DepartmentPrefix — префикс групп отделов (ZC_DEPT_)
	DepartmentPrefix string `yaml:"department_prefix"`
	// RoleGroups — группы каталога для каждой роли
	RoleGroups map[string][]string `yaml:"role_groups"`
	// AdminAliases — встроенные привилегированные группы (Domain Admins)
	AdminAliases []string `yaml:"admin_aliases"`
	// CommsGroups — группы, дающие post_general
	CommsGroups []string `yaml:"comms_groups"`
	// TechGroups — группы, дающие post_tech
	TechGroups []string `yaml:"tech_groups"`
	// GeneralDepartments — отделы, дающие post_general
	GeneralDepartments []string `yaml:"general_departments"`
	// TechDepartments — отделы, дающие post_tech
	TechDepartments []string `yaml:"tech_departments"`
	// StructuralOUs — служебные OU, не являющиеся отделами
	StructuralOUs []string `yaml:"structural_ous"`
	// Acronyms — слова, остающиеся в верхнем регистре (TI, RH)
	Acronyms []string `yaml:"acronyms"`
	// DefaultDepartment — отдел-заглушка, если ничего не найдено
	DefaultDepartment string `yaml:"default_department"`
	// DefaultTitle — должность по умолчанию
	DefaultTitle string `yaml:"default_title"`
	// FallbackDepartments — список отделов, когда каталог не настроен или недоступен
	FallbackDepartments []string `yaml:"fallback_departments"`
}

// DefaultMapping возвращает соглашения каталога ZeroCore.
func DefaultMapping() *Mapping {
	return &Mapping{
		DepartmentPrefix: "ZC_DEPT_",
		RoleGroups: map[string][]string{
			string(rbac.RoleAdmin):       {"ZC_ROLE_ADMIN"},
			string(rbac.RoleDiretoria):   {"ZC_ROLE_DIRETORIA"},
			string(rbac.RoleCoordenador): {"ZC_ROLE_COORDENADOR"},
			string(rbac.RoleSupervisor):  {"ZC_ROLE_SUPERVISOR"},
			string(rbac.RoleAdvogado):    {"ZC_ROLE_ADVOGADO"},
			string(rbac.RoleEstagiario):  {"ZC_ROLE_ESTAGIARIO"},
		},
		AdminAliases:        []string{"Domain Admins", "Administradores"},
		CommsGroups:         []string{"ZC_PERM_COMMS"},
		TechGroups:          []string{"ZC_PERM_TECH"},
		GeneralDepartments:  []string{"RH", "Marketing", "Comunicação"},
		TechDepartments:     []string{"TI"},
		StructuralOUs:       []string{"Users", "Groups", "Computers", "Domain Controllers", "Builtin", "MDR", "98_Grupos", "Seguranca"},
		Acronyms:            []string{"TI", "RH", "DP", "IT", "HR"},
		DefaultDepartment:   "Geral",
		DefaultTitle:        "Colaborador",
		FallbackDepartments: []string{"Geral", "TI", "RH", "Administrativo"},
	}
}

// LoadMapping читает YAML-файл поверх DefaultMapping.
// Пустой путь — только значения по умолчанию.
func LoadMapping(path string) (*Mapping, error) {
	m := DefaultMapping()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение маппинга каталога %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("разбор маппинга каталога %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("маппинг каталога %s: %w", path, err)
	}
	return m, nil
}

// Validate проверяет согласованность маппинга.
func (m *Mapping) Validate() error {
	if strings.TrimSpace(m.DepartmentPrefix) == "" {
		return fmt.Errorf("department_prefix не задан")
	}
	if strings.TrimSpace(m.DefaultDepartment) == "" {
		return fmt.Errorf("default_department не задан")
	}
	for role := range m.RoleGroups {
		r, err := rbac.ParseRole(role)
		if err != nil {
			return fmt.Errorf("role_groups: %w", err)
		}
		if r == rbac.RoleUser {
			return fmt.Errorf("role_groups: роль user назначается по умолчанию и не маппится на группы")
		}
	}
	return nil
}

// roleGroups возвращает RoleGroups с типизированными ключами.
func (m *Mapping) roleGroups() map[rbac.Role][]string {
	out := make(map[rbac.Role][]string, len(m.RoleGroups))
	for role, groups := range m.RoleGroups {
		if r, err := rbac.ParseRole(role); err == nil {
			out[r] = groups
		}
	}
	return out
}
