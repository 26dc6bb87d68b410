package identity

import (
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"
)

// Атрибуты записи каталога, используемые нормализатором.
const (
	AttrUsername    = "sAMAccountName"
	AttrDisplayName = "displayName"
	AttrCN          = "cn"
	AttrMail        = "mail"
	AttrDepartment  = "department"
	AttrTitle       = "title"
	AttrUAC         = "userAccountControl"
	AttrMemberOf    = "memberOf"
)

// uacAccountDisable — бит "учётная запись отключена" в userAccountControl.
const uacAccountDisable = 0x2

// ErrNoUsername — у записи каталога нет sAMAccountName.
var ErrNoUsername = errors.New("запись каталога без sAMAccountName")

// placeholderValues — значения-заглушки, которыми в каталоге заполняют пустые поля.
var placeholderValues = map[string]bool{
	"NÃO INFORMADO": true,
	"NAO INFORMADO": true,
	"NULL":          true,
	"NONE":          true,
	"N/A":           true,
	"-":             true,
}

// Source — уже полученная запись каталога.
type Source interface {
	// DistinguishedName возвращает DN записи.
	DistinguishedName() string
	// Values возвращает ноль или более значений атрибута.
	Values(attr string) []string
}

// Normalizer превращает сырые атрибуты каталога в DirectoryIdentity.
// Безопасен для конкурентного использования.
type Normalizer struct {
	mapping    *Mapping
	roleGroups map[rbac.Role][]string
	acronyms   map[string]bool
	structural map[string]bool
}

// NewNormalizer создаёт нормализатор. nil — DefaultMapping.
func NewNormalizer(m *Mapping) *Normalizer {
	if m == nil {
		m = DefaultMapping()
	}
	return &Normalizer{
		mapping:    m,
		roleGroups: m.roleGroups(),
		acronyms:   upperSet(m.Acronyms),
		structural: upperSet(m.StructuralOUs),
	}
}

// Mapping возвращает соглашения, с которыми работает нормализатор.
func (n *Normalizer) Mapping() *Mapping {
	return n.mapping
}

// Normalize строит DirectoryIdentity из записи каталога.
// Детерминирована: одинаковый вход даёт одинаковый результат.
func (n *Normalizer) Normalize(src Source) (model.DirectoryIdentity, error) {
	username := strings.ToLower(strings.TrimSpace(first(src.Values(AttrUsername))))
	if username == "" {
		return model.DirectoryIdentity{}, ErrNoUsername
	}

	groups := n.GroupNames(src.Values(AttrMemberOf))
	role := n.ResolveRole(groups)
	deptAttr := first(src.Values(AttrDepartment))
	depts := n.ResolveDepartments(groups, src.DistinguishedName(), deptAttr)

	id := model.DirectoryIdentity{
		Username:          username,
		DN:                src.DistinguishedName(),
		FullName:          n.fullName(src, username),
		Email:             normalizeEmail(src.Values(AttrMail)),
		Title:             n.title(first(src.Values(AttrTitle))),
		Role:              role,
		Departments:       depts,
		PrimaryDepartment: n.primaryDepartment(depts, deptAttr),
		Permissions:       n.DerivePermissions(role, depts, groups),
		IsActive:          isActive(first(src.Values(AttrUAC))),
	}
	return id, nil
}

// GroupNames извлекает CN групп из DN атрибута memberOf.
func (n *Normalizer) GroupNames(memberOf []string) []string {
	names := make([]string, 0, len(memberOf))
	for _, dn := range memberOf {
		if cn := FirstRDNValue(dn); cn != "" {
			names = append(names, cn)
		}
	}
	return names
}

// ResolveRole выбирает одну роль по старшинству групп.
func (n *Normalizer) ResolveRole(groups []string) rbac.Role {
	return rbac.MapGroupsToRole(groups, n.roleGroups, n.mapping.AdminAliases)
}

// ResolveDepartments вычисляет канонические отделы:
// группы с префиксом → OU из DN → атрибут department → отдел по умолчанию.
// Результат не пуст, отсортирован и без дубликатов.
func (n *Normalizer) ResolveDepartments(groups []string, dn, deptAttr string) []string {
	var depts []string
	for _, g := range groups {
		if !n.IsDepartmentGroup(g) {
			continue
		}
		if name := n.NormalizeDepartmentName(g); name != "" {
			depts = append(depts, name)
		}
	}

	if len(depts) == 0 {
		if ou := n.departmentFromDN(dn); ou != "" {
			depts = append(depts, ou)
		}
	}

	if len(depts) == 0 && !isPlaceholder(deptAttr) {
		if name := n.NormalizeDepartmentName(deptAttr); name != "" {
			depts = append(depts, name)
		}
	}

	if len(depts) == 0 {
		depts = append(depts, n.mapping.DefaultDepartment)
	}

	return dedupeFold(depts)
}

// DerivePermissions выводит флаги публикации из роли, отделов и групп.
func (n *Normalizer) DerivePermissions(role rbac.Role, depts, groups []string) rbac.PermissionSet {
	var perms []rbac.Permission

	if role.IsPrivileged() ||
		intersectsFold(depts, n.mapping.GeneralDepartments) ||
		intersectsFold(groups, n.mapping.CommsGroups) {
		perms = append(perms, rbac.PermPostGeneral)
	}

	if intersectsFold(groups, n.mapping.TechGroups) ||
		intersectsFold(depts, n.mapping.TechDepartments) {
		perms = append(perms, rbac.PermPostTech)
	}

	return rbac.NewPermissionSet(perms...)
}

// NormalizeDepartmentName приводит имя группы или отдела к каноническому виду:
// префикс отбрасывается, разделители становятся пробелами, слова — с заглавной
// буквы, аббревиатуры из маппинга — прописными. Идемпотентна.
func (n *Normalizer) NormalizeDepartmentName(raw string) string {
	name := strings.TrimSpace(raw)
	prefix := n.mapping.DepartmentPrefix
	if len(name) >= len(prefix) && strings.EqualFold(name[:len(prefix)], prefix) {
		name = name[len(prefix):]
	}

	name = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}

	// Caser хранит состояние, поэтому создаётся на каждый вызов.
	caser := cases.Title(language.BrazilianPortuguese)
	for i, w := range words {
		if n.acronyms[strings.ToUpper(w)] {
			words[i] = strings.ToUpper(w)
			continue
		}
		words[i] = caser.String(w)
	}
	return strings.Join(words, " ")
}

// IsDepartmentGroup сообщает, что CN группы — группа отдела.
func (n *Normalizer) IsDepartmentGroup(cn string) bool {
	prefix := n.mapping.DepartmentPrefix
	return len(cn) > len(prefix) && strings.EqualFold(cn[:len(prefix)], prefix)
}

// IsDefaultDepartment сообщает, что отдел — заглушка без группы в каталоге.
func (n *Normalizer) IsDefaultDepartment(name string) bool {
	return strings.EqualFold(n.NormalizeDepartmentName(name), n.mapping.DefaultDepartment)
}

// DepartmentGroupCN строит CN группы отдела: <PREFIX><DEPT>, пробелы → "_".
// Для пустого имени и отдела по умолчанию возвращает false.
func (n *Normalizer) DepartmentGroupCN(dept string) (string, bool) {
	canonical := n.NormalizeDepartmentName(dept)
	if canonical == "" || strings.EqualFold(canonical, n.mapping.DefaultDepartment) {
		return "", false
	}
	suffix := strings.ToUpper(strings.ReplaceAll(canonical, " ", "_"))
	return n.mapping.DepartmentPrefix + suffix, true
}

// departmentFromDN возвращает первый не служебный OU из DN.
func (n *Normalizer) departmentFromDN(dn string) string {
	for _, ou := range organizationalUnits(dn) {
		if n.structural[strings.ToUpper(ou)] {
			continue
		}
		if name := n.NormalizeDepartmentName(ou); name != "" {
			return name
		}
	}
	return ""
}

func (n *Normalizer) fullName(src Source, username string) string {
	if v := strings.TrimSpace(first(src.Values(AttrDisplayName))); v != "" {
		return v
	}
	if v := strings.TrimSpace(first(src.Values(AttrCN))); v != "" {
		return v
	}
	return username
}

func (n *Normalizer) title(raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" || isPlaceholder(t) {
		return n.mapping.DefaultTitle
	}
	return t
}

// primaryDepartment — канонический атрибут department, если он входит в набор,
// иначе первый отдел набора.
func (n *Normalizer) primaryDepartment(depts []string, deptAttr string) string {
	if !isPlaceholder(deptAttr) {
		canonical := n.NormalizeDepartmentName(deptAttr)
		for _, d := range depts {
			if strings.EqualFold(d, canonical) {
				return d
			}
		}
	}
	return depts[0]
}

// FirstRDNValue возвращает значение первого RDN (CN группы из DN).
// Для некорректного DN разбирает строку вручную.
func FirstRDNValue(dn string) string {
	if parsed, err := ldap.ParseDN(dn); err == nil {
		if len(parsed.RDNs) > 0 && len(parsed.RDNs[0].Attributes) > 0 {
			return strings.TrimSpace(parsed.RDNs[0].Attributes[0].Value)
		}
		return ""
	}

	head, _, _ := strings.Cut(dn, ",")
	if _, value, ok := strings.Cut(head, "="); ok {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(head)
}

// organizationalUnits возвращает значения OU из DN в порядке следования.
func organizationalUnits(dn string) []string {
	if dn == "" {
		return nil
	}

	var ous []string
	if parsed, err := ldap.ParseDN(dn); err == nil {
		for _, rdn := range parsed.RDNs {
			for _, attr := range rdn.Attributes {
				if strings.EqualFold(attr.Type, "OU") {
					ous = append(ous, attr.Value)
				}
			}
		}
		return ous
	}

	for _, part := range strings.Split(dn, ",") {
		typ, value, ok := strings.Cut(part, "=")
		if ok && strings.EqualFold(strings.TrimSpace(typ), "OU") {
			ous = append(ous, strings.TrimSpace(value))
		}
	}
	return ous
}

// normalizeEmail берёт первое непустое значение mail или nil.
func normalizeEmail(values []string) *string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			email := strings.ToLower(v)
			return &email
		}
	}
	return nil
}

// isActive — учётная запись активна, если бит отключения не выставлен.
// Отсутствующий или нечисловой userAccountControl считается активным.
func isActive(uac string) bool {
	v, err := strconv.ParseInt(strings.TrimSpace(uac), 10, 64)
	if err != nil {
		return true
	}
	return v&uacAccountDisable == 0
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func isPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || placeholderValues[strings.ToUpper(v)]
}

func upperSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[strings.ToUpper(item)] = true
	}
	return s
}

func intersectsFold(values, candidates []string) bool {
	for _, v := range values {
		for _, c := range candidates {
			if strings.EqualFold(v, c) {
				return true
			}
		}
	}
	return false
}

// dedupeFold убирает дубликаты без учёта регистра и сортирует.
func dedupeFold(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.ToUpper(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	slices.Sort(out)
	return out
}
