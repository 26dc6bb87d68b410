// Пакет directory — клиент каталога (LDAP / Active Directory).
// Операции: аутентификация (bind), поиск пользователей и групп,
// создание групп, изменение членства. Любой сбой протокола на границе
// пакета превращается в ErrUnavailable.
//
// Реализации: Client (реальный LDAP) и Memory (каталог в памяти для тестов
// и режима mock).
package directory

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// Ошибки каталога.
var (
	// ErrUnavailable — каталог недоступен (соединение, bind служебной записи, поиск).
	ErrUnavailable = errors.New("каталог недоступен")
	// ErrInvalidCredentials — неверный логин или пароль пользователя.
	ErrInvalidCredentials = errors.New("неверные учётные данные")
	// ErrNotFound — каталог доступен, но запись не найдена.
	ErrNotFound = errors.New("запись каталога не найдена")
	// ErrNotConfigured — служебная учётная запись не задана.
	ErrNotConfigured = errors.New("служебная учётная запись каталога не настроена")
)

// MembershipOp — операция над членством в группе.
type MembershipOp int

// Операции членства.
const (
	MembershipAdd MembershipOp = iota
	MembershipRemove
)

// String реализует fmt.Stringer.
func (op MembershipOp) String() string {
	if op == MembershipRemove {
		return "remove"
	}
	return "add"
}

// Directory — операции каталога, используемые сервисами.
// Пустой срез с nil-ошибкой означает "каталог доступен, результатов нет";
// ErrUnavailable — "каталог недоступен".
type Directory interface {
	// Authenticate выполняет bind от имени пользователя и возвращает его запись.
	Authenticate(ctx context.Context, username, password string) (*Entry, error)
	// FindUser ищет пользователя по sAMAccountName.
	FindUser(ctx context.Context, username string) (*Entry, error)
	// ListUsers возвращает все учётные записи людей.
	ListUsers(ctx context.Context) ([]*Entry, error)
	// FindGroup ищет группу по CN.
	FindGroup(ctx context.Context, cn string) (*Entry, error)
	// ListGroups возвращает группы, CN которых начинается с prefix.
	ListGroups(ctx context.Context, prefix string) ([]*Entry, error)
	// AddGroup создаёт группу. Существующая группа — не ошибка.
	AddGroup(ctx context.Context, dn string, attrs map[string][]string) error
	// ModifyMembership добавляет или удаляет участника группы.
	// Повторное добавление и удаление отсутствующего — не ошибка.
	ModifyMembership(ctx context.Context, groupDN string, op MembershipOp, memberDN string) error
	// Configured сообщает, задана ли служебная учётная запись.
	Configured() bool
	// Ping проверяет доступность каталога.
	Ping(ctx context.Context) error
}

// Entry — запись каталога с нормализованными атрибутами.
// Имена атрибутов не чувствительны к регистру, пустые значения отброшены,
// отсутствующий атрибут — пустой срез.
type Entry struct {
	DN    string
	attrs map[string][]string
}

// NewEntry создаёт запись из сырых атрибутов.
func NewEntry(dn string, attrs map[string][]string) *Entry {
	e := &Entry{DN: dn, attrs: make(map[string][]string, len(attrs))}
	for name, values := range attrs {
		key := strings.ToLower(name)
		for _, v := range values {
			if strings.TrimSpace(v) != "" {
				e.attrs[key] = append(e.attrs[key], v)
			}
		}
	}
	return e
}

// DistinguishedName возвращает DN записи.
func (e *Entry) DistinguishedName() string {
	return e.DN
}

// Values возвращает ноль или более значений атрибута.
func (e *Entry) Values(name string) []string {
	return slices.Clone(e.attrs[strings.ToLower(name)])
}

// First возвращает первое значение атрибута.
func (e *Entry) First(name string) (string, bool) {
	values := e.attrs[strings.ToLower(name)]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// Атрибуты, запрашиваемые для пользователей и групп.
var (
	userAttributes = []string{
		"sAMAccountName", "displayName", "cn", "mail", "department",
		"title", "userAccountControl", "memberOf", "distinguishedName",
	}
	groupAttributes = []string{"cn", "sAMAccountName", "description", "member", "distinguishedName"}
)
