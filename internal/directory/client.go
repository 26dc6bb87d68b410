package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pageSize — размер страницы при выгрузке всех пользователей.
const pageSize = 500

// Фильтры поиска Active Directory.
const (
	userFilter      = "(&(objectClass=user)(sAMAccountName=%s))"
	listUsersFilter = "(&(objectCategory=person)(objectClass=user)(sAMAccountType=805306368))"
	groupFilter     = "(&(objectClass=group)(cn=%s))"
	groupPrefixFilt = "(&(objectClass=group)(cn=%s*))"
)

// Метрики операций с каталогом.
var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portal_directory_operations_total",
			Help: "Количество операций с каталогом по результату",
		},
		[]string{"op", "result"},
	)
	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portal_directory_operation_duration_seconds",
			Help:    "Длительность операций с каталогом",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// Config — параметры подключения к каталогу.
type Config struct {
	// URL — ldap://host:389 или ldaps://host:636
	URL string
	// Domain — суффикс UPN (username@domain); пусто — bind по логину как есть
	Domain string
	// BaseDN — база поиска
	BaseDN string
	// BindUser, BindPassword — служебная учётная запись
	BindUser     string
	BindPassword string
	// Timeout — таймаут подключения и каждого запроса
	Timeout time.Duration
	// InsecureSkipVerify — не проверять сертификат LDAPS
	InsecureSkipVerify bool
}

// conn — подмножество *ldap.Conn, используемое клиентом.
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
	Add(req *ldap.AddRequest) error
	Modify(req *ldap.ModifyRequest) error
}

// dialFunc открывает соединение и возвращает функцию его закрытия.
type dialFunc func(ctx context.Context) (conn, func(), error)

// Client — клиент LDAP. Каждая операция открывает своё соединение
// и закрывает его на любом пути выхода; общих соединений нет.
type Client struct {
	cfg    Config
	dial   dialFunc
	logger *slog.Logger
}

// NewClient создаёт клиент каталога.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "directory_client")),
	}
	c.dial = c.dialLDAP
	return c
}

// Configured сообщает, задана ли служебная учётная запись.
func (c *Client) Configured() bool {
	return c.cfg.BindUser != "" && c.cfg.BindPassword != ""
}

// Authenticate выполняет bind как username@domain и читает запись пользователя.
// Пустой пароль отклоняется: иначе сервер выполнил бы анонимный bind.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*Entry, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var entry *Entry
	err := c.withConn(ctx, "authenticate", func(cn conn) error {
		if err := cn.Bind(c.userPrincipal(username), password); err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
				return ErrInvalidCredentials
			}
			return unavailable("bind пользователя", err)
		}

		var err error
		entry, err = c.searchOne(cn, fmt.Sprintf(userFilter, ldap.EscapeFilter(username)), userAttributes)
		return err
	})
	return entry, err
}

// FindUser ищет пользователя по sAMAccountName от имени служебной записи.
func (c *Client) FindUser(ctx context.Context, username string) (*Entry, error) {
	var entry *Entry
	err := c.withServiceConn(ctx, "find_user", func(cn conn) error {
		var err error
		entry, err = c.searchOne(cn, fmt.Sprintf(userFilter, ldap.EscapeFilter(username)), userAttributes)
		return err
	})
	return entry, err
}

// ListUsers выгружает все учётные записи людей постранично.
func (c *Client) ListUsers(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	err := c.withServiceConn(ctx, "list_users", func(cn conn) error {
		res, err := cn.SearchWithPaging(c.searchRequest(listUsersFilter, userAttributes, 0), pageSize)
		if err != nil {
			return unavailable("поиск пользователей", err)
		}
		entries = convertEntries(res.Entries)
		return nil
	})
	return entries, err
}

// FindGroup ищет группу по CN.
func (c *Client) FindGroup(ctx context.Context, cn string) (*Entry, error) {
	var entry *Entry
	err := c.withServiceConn(ctx, "find_group", func(lc conn) error {
		var err error
		entry, err = c.searchOne(lc, fmt.Sprintf(groupFilter, ldap.EscapeFilter(cn)), groupAttributes)
		return err
	})
	return entry, err
}

// ListGroups возвращает группы с CN, начинающимся на prefix.
func (c *Client) ListGroups(ctx context.Context, prefix string) ([]*Entry, error) {
	var entries []*Entry
	err := c.withServiceConn(ctx, "list_groups", func(cn conn) error {
		res, err := cn.Search(c.searchRequest(fmt.Sprintf(groupPrefixFilt, ldap.EscapeFilter(prefix)), []string{"cn", "description"}, 0))
		if err != nil {
			return unavailable("поиск групп", err)
		}
		entries = convertEntries(res.Entries)
		return nil
	})
	return entries, err
}

// AddGroup создаёт группу. Ответ "entry already exists" считается успехом.
func (c *Client) AddGroup(ctx context.Context, dn string, attrs map[string][]string) error {
	return c.withServiceConn(ctx, "add_group", func(cn conn) error {
		req := ldap.NewAddRequest(dn, nil)
		for _, name := range slices.Sorted(maps.Keys(attrs)) {
			req.Attribute(name, attrs[name])
		}
		if err := cn.Add(req); err != nil {
			if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
				c.logger.Debug("Группа уже существует", slog.String("dn", dn))
				return nil
			}
			return unavailable("создание группы", err)
		}
		c.logger.Info("Группа создана в каталоге", slog.String("dn", dn))
		return nil
	})
}

// ModifyMembership добавляет или удаляет member группы.
// Коды "уже участник" и "не участник" считаются успехом: повтор безопасен.
func (c *Client) ModifyMembership(ctx context.Context, groupDN string, op MembershipOp, memberDN string) error {
	return c.withServiceConn(ctx, "modify_membership", func(cn conn) error {
		req := ldap.NewModifyRequest(groupDN, nil)
		var idempotent []uint16
		switch op {
		case MembershipAdd:
			req.Add("member", []string{memberDN})
			// AD отвечает 68 на повторное добавление участника.
			idempotent = []uint16{ldap.LDAPResultAttributeOrValueExists, ldap.LDAPResultEntryAlreadyExists}
		case MembershipRemove:
			req.Delete("member", []string{memberDN})
			// AD отвечает 53 на удаление не участника.
			idempotent = []uint16{ldap.LDAPResultNoSuchAttribute, ldap.LDAPResultUnwillingToPerform}
		default:
			return fmt.Errorf("неизвестная операция членства %d", op)
		}

		if err := cn.Modify(req); err != nil {
			for _, code := range idempotent {
				if ldap.IsErrorWithCode(err, code) {
					return nil
				}
			}
			return unavailable("изменение членства", err)
		}
		return nil
	})
}

// Ping открывает соединение и, если задана служебная запись, выполняет bind.
func (c *Client) Ping(ctx context.Context) error {
	return c.withConn(ctx, "ping", func(cn conn) error {
		if !c.Configured() {
			return nil
		}
		return c.bindService(cn)
	})
}

// --- Внутренние помощники ---

// withConn открывает соединение, выполняет fn и закрывает соединение.
// Ошибки без классификации превращаются в ErrUnavailable.
func (c *Client) withConn(ctx context.Context, op string, fn func(conn) error) (err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if err := ctx.Err(); err != nil {
		return unavailable("контекст отменён", err)
	}

	cn, closeConn, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("Каталог недоступен",
			slog.String("op", op),
			slog.String("url", c.cfg.URL),
			slog.String("error", err.Error()),
		)
		return unavailable("подключение", err)
	}
	defer closeConn()

	return fn(cn)
}

// withServiceConn — withConn с предварительным bind служебной записи.
func (c *Client) withServiceConn(ctx context.Context, op string, fn func(conn) error) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	return c.withConn(ctx, op, func(cn conn) error {
		if err := c.bindService(cn); err != nil {
			return err
		}
		return fn(cn)
	})
}

func (c *Client) bindService(cn conn) error {
	if err := cn.Bind(c.userPrincipal(c.cfg.BindUser), c.cfg.BindPassword); err != nil {
		c.logger.Error("Ошибка bind служебной учётной записи",
			slog.String("bind_user", c.cfg.BindUser),
			slog.String("error", err.Error()),
		)
		return unavailable("bind служебной записи", err)
	}
	return nil
}

// dialLDAP — подключение к реальному серверу с таймаутами.
func (c *Client) dialLDAP(ctx context.Context) (conn, func(), error) {
	timeout := c.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	lc, err := ldap.DialURL(c.cfg.URL,
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
		ldap.DialWithTLSConfig(&tls.Config{
			InsecureSkipVerify: c.cfg.InsecureSkipVerify, //nolint:gosec // самоподписанные DC
			MinVersion:         tls.VersionTLS12,
		}),
	)
	if err != nil {
		return nil, nil, err
	}
	lc.SetTimeout(timeout)
	return lc, func() { lc.Close() }, nil
}

// userPrincipal строит UPN: логин без домена дополняется суффиксом.
func (c *Client) userPrincipal(username string) string {
	if c.cfg.Domain == "" || strings.ContainsAny(username, "@=\\") {
		return username
	}
	return username + "@" + c.cfg.Domain
}

func (c *Client) searchRequest(filter string, attrs []string, sizeLimit int) *ldap.SearchRequest {
	return ldap.NewSearchRequest(
		c.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		sizeLimit, int(c.cfg.Timeout.Seconds()), false,
		filter,
		attrs,
		nil,
	)
}

// searchOne возвращает первую найденную запись или ErrNotFound.
func (c *Client) searchOne(cn conn, filter string, attrs []string) (*Entry, error) {
	res, err := cn.Search(c.searchRequest(filter, attrs, 2))
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, ErrNotFound
		}
		return nil, unavailable("поиск", err)
	}
	if len(res.Entries) == 0 {
		return nil, ErrNotFound
	}
	return convertEntry(res.Entries[0]), nil
}

func convertEntry(e *ldap.Entry) *Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		attrs[a.Name] = append(attrs[a.Name], a.Values...)
	}
	return NewEntry(e.DN, attrs)
}

func convertEntries(entries []*ldap.Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, convertEntry(e))
	}
	return out
}

// unavailable оборачивает ошибку протокола в ErrUnavailable.
func unavailable(stage string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, stage, err)
}

func observe(op string, start time.Time, err error) {
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidCredentials):
		result = "invalid_credentials"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	opsTotal.WithLabelValues(op, result).Inc()
}
