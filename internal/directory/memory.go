package directory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"gopkg.in/yaml.v3"
)

// MemoryUser — пользователь фикстуры каталога.
type MemoryUser struct {
	Username   string              `yaml:"username"`
	Password   string              `yaml:"password"`
	DN         string              `yaml:"dn"`
	Attributes map[string][]string `yaml:"attributes"`
	// Groups — CN групп, в которых состоит пользователь
	Groups []string `yaml:"groups"`
}

// MemoryFixture — содержимое каталога в памяти.
type MemoryFixture struct {
	BaseDN   string       `yaml:"base_dn"`
	GroupsOU string       `yaml:"groups_ou"`
	Users    []MemoryUser `yaml:"users"`
}

type memUser struct {
	dn       string
	password string
	attrs    map[string][]string
}

type memGroup struct {
	dn      string
	attrs   map[string][]string
	members []string
}

// Memory — каталог в памяти. Используется в тестах и в режиме mock.
// Потокобезопасен.
type Memory struct {
	mu          sync.RWMutex
	groupsOU    string
	users       map[string]*memUser  // ключ — логин в нижнем регистре
	groups      map[string]*memGroup // ключ — CN в верхнем регистре
	configured  bool
	unavailable bool
}

// NewMemory создаёт каталог из фикстуры. Группы, упомянутые у пользователей,
// создаются в GroupsOU.
func NewMemory(f MemoryFixture) *Memory {
	groupsOU := f.GroupsOU
	if groupsOU == "" {
		groupsOU = "OU=Grupos," + f.BaseDN
	}

	m := &Memory{
		groupsOU:   groupsOU,
		users:      make(map[string]*memUser, len(f.Users)),
		groups:     make(map[string]*memGroup),
		configured: true,
	}

	for _, u := range f.Users {
		dn := u.DN
		if dn == "" {
			dn = fmt.Sprintf("CN=%s,CN=Users,%s", u.Username, f.BaseDN)
		}
		attrs := make(map[string][]string, len(u.Attributes)+1)
		for k, v := range u.Attributes {
			attrs[k] = slices.Clone(v)
		}
		attrs["sAMAccountName"] = []string{u.Username}
		m.users[strings.ToLower(u.Username)] = &memUser{dn: dn, password: u.Password, attrs: attrs}

		for _, cn := range u.Groups {
			g := m.ensureGroupLocked(cn)
			if !containsFold(g.members, dn) {
				g.members = append(g.members, dn)
			}
		}
	}
	return m
}

// LoadMemory читает YAML-фикстуру и создаёт каталог в памяти.
func LoadMemory(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение фикстуры каталога %s: %w", path, err)
	}
	var f MemoryFixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("разбор фикстуры каталога %s: %w", path, err)
	}
	return NewMemory(f), nil
}

// SetUnavailable имитирует недоступность каталога.
func (m *Memory) SetUnavailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = v
}

// SetConfigured имитирует наличие или отсутствие служебной учётной записи.
func (m *Memory) SetConfigured(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configured = v
}

// GroupsOU возвращает контейнер групп.
func (m *Memory) GroupsOU() string {
	return m.groupsOU
}

// UserGroups возвращает отсортированные CN групп пользователя.
func (m *Memory) UserGroups(username string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[strings.ToLower(username)]
	if !ok {
		return nil
	}
	var cns []string
	for _, g := range m.groups {
		if containsFold(g.members, u.dn) {
			cns = append(cns, g.attrs["cn"][0])
		}
	}
	slices.Sort(cns)
	return cns
}

// GroupCount возвращает число групп.
func (m *Memory) GroupCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.groups)
}

// Configured реализует Directory.
func (m *Memory) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.configured
}

// Ping реализует Directory.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.unavailable {
		return ErrUnavailable
	}
	return nil
}

// Authenticate реализует Directory.
func (m *Memory) Authenticate(_ context.Context, username, password string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.unavailable {
		return nil, ErrUnavailable
	}
	u, ok := m.users[strings.ToLower(strings.TrimSpace(username))]
	if !ok || password == "" || u.password != password {
		return nil, ErrInvalidCredentials
	}
	return m.userEntryLocked(u), nil
}

// FindUser реализует Directory.
func (m *Memory) FindUser(_ context.Context, username string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	u, ok := m.users[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.userEntryLocked(u), nil
}

// ListUsers реализует Directory.
func (m *Memory) ListUsers(context.Context) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(m.users))
	for _, name := range sortedKeys(m.users) {
		entries = append(entries, m.userEntryLocked(m.users[name]))
	}
	return entries, nil
}

// FindGroup реализует Directory.
func (m *Memory) FindGroup(_ context.Context, cn string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	g, ok := m.groups[strings.ToUpper(cn)]
	if !ok {
		return nil, ErrNotFound
	}
	return groupEntry(g), nil
}

// ListGroups реализует Directory.
func (m *Memory) ListGroups(_ context.Context, prefix string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkLocked(); err != nil {
		return nil, err
	}
	var entries []*Entry
	for _, key := range sortedKeys(m.groups) {
		if strings.HasPrefix(key, strings.ToUpper(prefix)) {
			entries = append(entries, groupEntry(m.groups[key]))
		}
	}
	return entries, nil
}

// AddGroup реализует Directory.
func (m *Memory) AddGroup(_ context.Context, dn string, attrs map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	cn := rdnValue(dn)
	if cn == "" {
		return fmt.Errorf("некорректный DN группы %q", dn)
	}
	if _, ok := m.groups[strings.ToUpper(cn)]; ok {
		return nil
	}

	stored := make(map[string][]string, len(attrs)+1)
	for k, v := range attrs {
		stored[k] = slices.Clone(v)
	}
	stored["cn"] = []string{cn}
	m.groups[strings.ToUpper(cn)] = &memGroup{dn: dn, attrs: stored}
	return nil
}

// ModifyMembership реализует Directory.
func (m *Memory) ModifyMembership(_ context.Context, groupDN string, op MembershipOp, memberDN string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(); err != nil {
		return err
	}
	var group *memGroup
	for _, g := range m.groups {
		if strings.EqualFold(g.dn, groupDN) {
			group = g
			break
		}
	}
	if group == nil {
		return fmt.Errorf("%w: группа %s", ErrNotFound, groupDN)
	}

	switch op {
	case MembershipAdd:
		if !containsFold(group.members, memberDN) {
			group.members = append(group.members, memberDN)
		}
	case MembershipRemove:
		group.members = slices.DeleteFunc(group.members, func(dn string) bool {
			return strings.EqualFold(dn, memberDN)
		})
	}
	return nil
}

func (m *Memory) checkLocked() error {
	if m.unavailable {
		return ErrUnavailable
	}
	if !m.configured {
		return ErrNotConfigured
	}
	return nil
}

func (m *Memory) ensureGroupLocked(cn string) *memGroup {
	key := strings.ToUpper(cn)
	if g, ok := m.groups[key]; ok {
		return g
	}
	g := &memGroup{
		dn:    "CN=" + ldap.EscapeDN(cn) + "," + m.groupsOU,
		attrs: map[string][]string{"cn": {cn}, "sAMAccountName": {cn}},
	}
	m.groups[key] = g
	return g
}

// userEntryLocked собирает запись пользователя с вычисленным memberOf.
func (m *Memory) userEntryLocked(u *memUser) *Entry {
	attrs := make(map[string][]string, len(u.attrs)+2)
	for k, v := range u.attrs {
		attrs[k] = v
	}
	var memberOf []string
	for _, key := range sortedKeys(m.groups) {
		if g := m.groups[key]; containsFold(g.members, u.dn) {
			memberOf = append(memberOf, g.dn)
		}
	}
	attrs["memberOf"] = memberOf
	attrs["distinguishedName"] = []string{u.dn}
	return NewEntry(u.dn, attrs)
}

func groupEntry(g *memGroup) *Entry {
	attrs := make(map[string][]string, len(g.attrs)+1)
	for k, v := range g.attrs {
		attrs[k] = v
	}
	attrs["member"] = g.members
	return NewEntry(g.dn, attrs)
}

// rdnValue возвращает значение первого RDN.
func rdnValue(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		return ""
	}
	return parsed.RDNs[0].Attributes[0].Value
}

func containsFold(items []string, v string) bool {
	return slices.ContainsFunc(items, func(s string) bool { return strings.EqualFold(s, v) })
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
