package rbac

import (
	"slices"
	"testing"
)

// defaultRoleGroups — ролевые группы, как в каталоге по умолчанию.
func defaultRoleGroups() map[Role][]string {
	return map[Role][]string{
		RoleAdmin:       {"ZC_ROLE_ADMIN"},
		RoleDiretoria:   {"ZC_ROLE_DIRETORIA"},
		RoleCoordenador: {"ZC_ROLE_COORDENADOR"},
		RoleSupervisor:  {"ZC_ROLE_SUPERVISOR"},
		RoleAdvogado:    {"ZC_ROLE_ADVOGADO"},
		RoleEstagiario:  {"ZC_ROLE_ESTAGIARIO"},
	}
}

func TestMapGroupsToRole(t *testing.T) {
	aliases := []string{"Domain Admins"}

	tests := []struct {
		name   string
		groups []string
		want   Role
	}{
		{name: "группа admin -> admin", groups: []string{"ZC_ROLE_ADMIN"}, want: RoleAdmin},
		{name: "supervisor + admin -> admin", groups: []string{"ZC_ROLE_SUPERVISOR", "ZC_ROLE_ADMIN"}, want: RoleAdmin},
		{name: "estagiario + coordenador -> coordenador", groups: []string{"ZC_ROLE_ESTAGIARIO", "ZC_ROLE_COORDENADOR"}, want: RoleCoordenador},
		{name: "регистр не учитывается", groups: []string{"zc_role_diretoria"}, want: RoleDiretoria},
		{name: "только advogado", groups: []string{"ZC_DEPT_JURIDICO", "ZC_ROLE_ADVOGADO"}, want: RoleAdvogado},
		{name: "псевдоним Domain Admins -> admin", groups: []string{"DOMAIN ADMINS"}, want: RoleAdmin},
		{name: "ролевая группа важнее псевдонима", groups: []string{"Domain Admins", "ZC_ROLE_SUPERVISOR"}, want: RoleSupervisor},
		{name: "нет совпадений -> user", groups: []string{"ZC_DEPT_TI", "Print Operators"}, want: RoleUser},
		{name: "пустой список -> user", groups: nil, want: RoleUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapGroupsToRole(tt.groups, defaultRoleGroups(), aliases)
			if got != tt.want {
				t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", tt.groups, got, tt.want)
			}
		})
	}
}

// Результат всегда из закрытого перечисления и совпадает со старшей ролью.
func TestMapGroupsToRole_AlwaysHighest(t *testing.T) {
	groups := defaultRoleGroups()
	for i := range Precedence {
		// Все ролевые группы, начиная с i-й.
		var names []string
		for _, r := range Precedence[i:] {
			names = append(names, groups[r]...)
		}
		slices.Reverse(names)

		got := MapGroupsToRole(names, groups, nil)
		if got != Precedence[i] {
			t.Errorf("MapGroupsToRole(%v) = %q, хотели %q", names, got, Precedence[i])
		}
		if !IsValidRole(string(got)) {
			t.Errorf("роль %q вне перечисления", got)
		}
	}
}

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		want  Role
	}{
		{name: "пустой набор", roles: nil, want: RoleUser},
		{name: "один supervisor", roles: []Role{RoleSupervisor}, want: RoleSupervisor},
		{name: "advogado + diretoria", roles: []Role{RoleAdvogado, RoleDiretoria}, want: RoleDiretoria},
		{name: "admin в конце", roles: []Role{RoleUser, RoleEstagiario, RoleAdmin}, want: RoleAdmin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "admin", want: RoleAdmin},
		{in: " Coordenador ", want: RoleCoordenador},
		{in: "user", want: RoleUser},
		{in: "readonly", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRole(%q) ошибка = %v, ожидалась ошибка: %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRole(%q) = %q, хотели %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRolePredicates(t *testing.T) {
	tests := []struct {
		role       Role
		privileged bool
		management bool
	}{
		{RoleAdmin, true, true},
		{RoleDiretoria, true, true},
		{RoleCoordenador, true, true},
		{RoleSupervisor, false, true},
		{RoleAdvogado, false, false},
		{RoleEstagiario, false, false},
		{RoleUser, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			if got := tt.role.IsPrivileged(); got != tt.privileged {
				t.Errorf("IsPrivileged() = %v, хотели %v", got, tt.privileged)
			}
			if got := tt.role.IsManagement(); got != tt.management {
				t.Errorf("IsManagement() = %v, хотели %v", got, tt.management)
			}
		})
	}

	if !RoleAdmin.AtLeast(RoleSupervisor) || RoleEstagiario.AtLeast(RoleAdvogado) {
		t.Error("AtLeast() нарушает порядок ролей")
	}
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet(PermPostTech, PermPostGeneral, PermPostTech)
	if len(set) != 2 {
		t.Fatalf("len = %d, хотели 2 (дубликаты отброшены)", len(set))
	}
	if set[0] != PermPostGeneral {
		t.Errorf("набор не отсортирован: %v", set)
	}
	if !set.Has(PermPostTech) || !set.Any() {
		t.Error("Has/Any не видят флаг post_tech")
	}
	if NewPermissionSet().Any() {
		t.Error("пустой набор: Any() = true")
	}

	parsed, err := ParsePermissions([]string{"post_tech"})
	if err != nil {
		t.Fatalf("ParsePermissions: %v", err)
	}
	if !parsed.Has(PermPostTech) || parsed.Has(PermPostGeneral) {
		t.Errorf("ParsePermissions = %v", parsed)
	}
	if _, err := ParsePermissions([]string{"post_everything"}); err == nil {
		t.Error("ParsePermissions не вернул ошибку для неизвестного флага")
	}
}
