package directory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func testFixture() MemoryFixture {
	return MemoryFixture{
		BaseDN:   "DC=mdr,DC=local",
		GroupsOU: "OU=Grupos,DC=mdr,DC=local",
		Users: []MemoryUser{
			{
				Username: "ana",
				Password: "pw",
				DN:       "CN=Ana,OU=TI,DC=mdr,DC=local",
				Attributes: map[string][]string{
					"displayName": {"Ana Souza"},
				},
				Groups: []string{"ZC_DEPT_TI", "VPN Users"},
			},
			{Username: "bruno", Password: "pw2", Groups: []string{"ZC_DEPT_RH"}},
		},
	}
}

func TestMemory_Authenticate(t *testing.T) {
	m := NewMemory(testFixture())
	ctx := context.Background()

	entry, err := m.Authenticate(ctx, "ANA", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	want := []string{"CN=VPN Users,OU=Grupos,DC=mdr,DC=local", "CN=ZC_DEPT_TI,OU=Grupos,DC=mdr,DC=local"}
	if got := entry.Values("memberOf"); !slices.Equal(got, want) {
		t.Errorf("memberOf = %v, хотели %v", got, want)
	}

	if _, err := m.Authenticate(ctx, "ana", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("неверный пароль: %v", err)
	}
	if _, err := m.Authenticate(ctx, "ghost", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("неизвестный пользователь: %v", err)
	}

	m.SetUnavailable(true)
	if _, err := m.Authenticate(ctx, "ana", "pw"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("недоступный каталог: %v", err)
	}
}

func TestMemory_GroupsAndMembership(t *testing.T) {
	m := NewMemory(testFixture())
	ctx := context.Background()

	groups, err := m.ListGroups(ctx, "zc_dept_")
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("групп с префиксом = %d, хотели 2", len(groups))
	}

	dn := "CN=ZC_DEPT_VENDAS," + m.GroupsOU()
	for range 2 {
		if err := m.AddGroup(ctx, dn, map[string][]string{"objectClass": {"top", "group"}}); err != nil {
			t.Fatalf("AddGroup: %v", err)
		}
	}
	if m.GroupCount() != 4 {
		t.Errorf("GroupCount = %d, хотели 4 (повторное создание — без дубликата)", m.GroupCount())
	}

	user, err := m.FindUser(ctx, "bruno")
	if err != nil {
		t.Fatalf("FindUser: %v", err)
	}
	if err := m.ModifyMembership(ctx, dn, MembershipAdd, user.DN); err != nil {
		t.Fatalf("ModifyMembership add: %v", err)
	}
	if err := m.ModifyMembership(ctx, dn, MembershipAdd, user.DN); err != nil {
		t.Fatalf("повторное добавление: %v", err)
	}
	if got := m.UserGroups("bruno"); !slices.Equal(got, []string{"ZC_DEPT_RH", "ZC_DEPT_VENDAS"}) {
		t.Errorf("UserGroups = %v", got)
	}

	if err := m.ModifyMembership(ctx, dn, MembershipRemove, user.DN); err != nil {
		t.Fatalf("ModifyMembership remove: %v", err)
	}
	if got := m.UserGroups("bruno"); !slices.Equal(got, []string{"ZC_DEPT_RH"}) {
		t.Errorf("UserGroups после удаления = %v", got)
	}

	if _, err := m.FindGroup(ctx, "ZC_DEPT_NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindGroup: %v, хотели ErrNotFound", err)
	}
}

func TestMemory_NotConfigured(t *testing.T) {
	m := NewMemory(testFixture())
	m.SetConfigured(false)

	if _, err := m.ListUsers(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListUsers: %v, хотели ErrNotConfigured", err)
	}
	if _, err := m.Authenticate(context.Background(), "ana", "pw"); err != nil {
		t.Errorf("Authenticate не требует служебной записи: %v", err)
	}
}

func TestLoadMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	data := `
base_dn: DC=zerocore,DC=local
users:
  - username: carla
    password: secret
    attributes:
      mail: [carla@zerocore.local]
    groups: [ZC_ROLE_SUPERVISOR]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	m, err := LoadMemory(path)
	if err != nil {
		t.Fatalf("LoadMemory: %v", err)
	}
	users, err := m.ListUsers(context.Background())
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers = %v, %v", users, err)
	}
	if users[0].DN != "CN=carla,CN=Users,DC=zerocore,DC=local" {
		t.Errorf("DN по умолчанию = %q", users[0].DN)
	}
	if got, _ := users[0].First("mail"); got != "carla@zerocore.local" {
		t.Errorf("mail = %q", got)
	}
}
