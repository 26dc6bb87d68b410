package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
)

// testLogger создаёт логгер для тестов (вывод отключён).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn — поддельное LDAP-соединение, записывающее вызовы.
type fakeConn struct {
	binds     []string
	bindErr   map[string]error
	searchRes *ldap.SearchResult
	searchErr error
	filters   []string
	added     []*ldap.AddRequest
	addErr    error
	modified  []*ldap.ModifyRequest
	modifyErr error
	closed    int
}

func (f *fakeConn) Bind(username, password string) error {
	f.binds = append(f.binds, username)
	if err, ok := f.bindErr[username]; ok {
		return err
	}
	return nil
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.filters = append(f.filters, req.Filter)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchRes == nil {
		return &ldap.SearchResult{}, nil
	}
	return f.searchRes, nil
}

func (f *fakeConn) SearchWithPaging(req *ldap.SearchRequest, _ uint32) (*ldap.SearchResult, error) {
	return f.Search(req)
}

func (f *fakeConn) Add(req *ldap.AddRequest) error {
	f.added = append(f.added, req)
	return f.addErr
}

func (f *fakeConn) Modify(req *ldap.ModifyRequest) error {
	f.modified = append(f.modified, req)
	return f.modifyErr
}

func newTestClient(fc *fakeConn, cfg Config) *Client {
	c := NewClient(cfg, testLogger())
	c.dial = func(context.Context) (conn, func(), error) {
		return fc, func() { fc.closed++ }, nil
	}
	return c
}

func serviceConfig() Config {
	return Config{
		URL:          "ldap://dc01:389",
		Domain:       "mdr.local",
		BaseDN:       "DC=mdr,DC=local",
		BindUser:     "svc_portal",
		BindPassword: "svc-secret",
	}
}

func TestAuthenticate_Success(t *testing.T) {
	fc := &fakeConn{searchRes: &ldap.SearchResult{Entries: []*ldap.Entry{
		ldap.NewEntry("CN=Ana,OU=TI,DC=mdr,DC=local", map[string][]string{
			"sAMAccountName": {"ana"},
			"mail":           {},
			"memberOf":       {"CN=ZC_DEPT_TI,OU=Grupos,DC=mdr,DC=local"},
		}),
	}}}
	c := newTestClient(fc, serviceConfig())

	entry, err := c.Authenticate(context.Background(), "ana", "pw")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if len(fc.binds) != 1 || fc.binds[0] != "ana@mdr.local" {
		t.Errorf("bind = %v, хотели [ana@mdr.local]", fc.binds)
	}
	if !strings.Contains(fc.filters[0], "(sAMAccountName=ana)") {
		t.Errorf("фильтр = %q", fc.filters[0])
	}
	if _, ok := entry.First("mail"); ok {
		t.Error("пустой mail должен читаться как отсутствие значения")
	}
	if got := entry.Values("MEMBEROF"); len(got) != 1 {
		t.Errorf("memberOf = %v", got)
	}
	if fc.closed != 1 {
		t.Errorf("соединение закрыто %d раз, хотели 1", fc.closed)
	}
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		password string
		conn     *fakeConn
		wantErr  error
	}{
		{
			name:     "пустой пароль не уходит на сервер",
			password: "",
			conn:     &fakeConn{},
			wantErr:  ErrInvalidCredentials,
		},
		{
			name:     "код 49 -> неверные учётные данные",
			password: "bad",
			conn: &fakeConn{bindErr: map[string]error{
				"ana@mdr.local": ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid")),
			}},
			wantErr: ErrInvalidCredentials,
		},
		{
			name:     "прочие коды bind -> недоступен",
			password: "pw",
			conn: &fakeConn{bindErr: map[string]error{
				"ana@mdr.local": ldap.NewError(ldap.LDAPResultBusy, errors.New("busy")),
			}},
			wantErr: ErrUnavailable,
		},
		{
			name:     "ошибка поиска -> недоступен",
			password: "pw",
			conn:     &fakeConn{searchErr: ldap.NewError(ldap.ErrorNetwork, errors.New("reset"))},
			wantErr:  ErrUnavailable,
		},
		{
			name:     "пустой результат -> не найден",
			password: "pw",
			conn:     &fakeConn{},
			wantErr:  ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(tt.conn, serviceConfig())
			_, err := c.Authenticate(context.Background(), "ana", tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, хотели %v", err, tt.wantErr)
			}
			if tt.password == "" && len(tt.conn.binds) != 0 {
				t.Error("bind выполнен с пустым паролем")
			}
		})
	}
}

func TestClient_DialFailureIsUnavailable(t *testing.T) {
	c := NewClient(serviceConfig(), testLogger())
	c.dial = func(context.Context) (conn, func(), error) {
		return nil, nil, errors.New("connection refused")
	}

	if _, err := c.FindUser(context.Background(), "ana"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("FindUser: %v, хотели ErrUnavailable", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Ping: %v, хотели ErrUnavailable", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	cfg := serviceConfig()
	cfg.BindUser, cfg.BindPassword = "", ""
	fc := &fakeConn{}
	c := newTestClient(fc, cfg)

	if c.Configured() {
		t.Error("Configured() = true без служебной записи")
	}
	if _, err := c.ListGroups(context.Background(), "ZC_DEPT_"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListGroups: %v, хотели ErrNotConfigured", err)
	}
	if fc.closed != 0 {
		t.Error("соединение открыто без служебной записи")
	}
}

func TestClient_ListGroupsEscapesPrefix(t *testing.T) {
	fc := &fakeConn{}
	c := newTestClient(fc, serviceConfig())

	entries, err := c.ListGroups(context.Background(), "ZC_(DEPT)_")
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("entries = %v, хотели пустой срез", entries)
	}
	want := `(&(objectClass=group)(cn=ZC_\28DEPT\29_*))`
	if fc.filters[0] != want {
		t.Errorf("фильтр = %q, хотели %q", fc.filters[0], want)
	}
	if fc.binds[0] != "svc_portal@mdr.local" {
		t.Errorf("bind = %q", fc.binds[0])
	}
}

func TestClient_AddGroupIdempotent(t *testing.T) {
	fc := &fakeConn{addErr: ldap.NewError(ldap.LDAPResultEntryAlreadyExists, errors.New("exists"))}
	c := newTestClient(fc, serviceConfig())

	err := c.AddGroup(context.Background(), "CN=ZC_DEPT_TI,OU=Grupos,DC=mdr,DC=local", map[string][]string{
		"objectClass":    {"top", "group"},
		"sAMAccountName": {"ZC_DEPT_TI"},
	})
	if err != nil {
		t.Errorf("AddGroup для существующей группы: %v", err)
	}
	if len(fc.added) != 1 || len(fc.added[0].Attributes) != 2 {
		t.Errorf("запрос add = %+v", fc.added)
	}
}

func TestClient_ModifyMembership(t *testing.T) {
	tests := []struct {
		name    string
		op      MembershipOp
		err     error
		wantErr error
	}{
		{"добавление", MembershipAdd, nil, nil},
		{"повторное добавление", MembershipAdd, ldap.NewError(ldap.LDAPResultAttributeOrValueExists, errors.New("dup")), nil},
		{"удаление не участника", MembershipRemove, ldap.NewError(ldap.LDAPResultNoSuchAttribute, errors.New("none")), nil},
		{"отказ сервера", MembershipAdd, ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("denied")), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeConn{modifyErr: tt.err}
			c := newTestClient(fc, serviceConfig())

			err := c.ModifyMembership(context.Background(), "CN=G,DC=x", tt.op, "CN=U,DC=x")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ошибка = %v, хотели %v", err, tt.wantErr)
			}
			if len(fc.modified) != 1 {
				t.Fatalf("modify вызван %d раз", len(fc.modified))
			}
		})
	}
}

func TestUserPrincipal(t *testing.T) {
	c := NewClient(serviceConfig(), testLogger())

	tests := map[string]string{
		"ana":                    "ana@mdr.local",
		"ana@other.local":        "ana@other.local",
		"CN=svc,DC=mdr,DC=local": "CN=svc,DC=mdr,DC=local",
		`MDR\ana`:                `MDR\ana`,
	}
	for in, want := range tests {
		if got := c.userPrincipal(in); got != want {
			t.Errorf("userPrincipal(%q) = %q, хотели %q", in, got, want)
		}
	}
}

func TestEntry_Normalization(t *testing.T) {
	e := NewEntry("CN=x", map[string][]string{
		"Mail":  {"", "  ", "a@b"},
		"title": nil,
	})

	if got := e.Values("mail"); len(got) != 1 || got[0] != "a@b" {
		t.Errorf("Values(mail) = %v", got)
	}
	if got := e.Values("title"); len(got) != 0 {
		t.Errorf("Values(title) = %v, хотели пусто", got)
	}
	if _, ok := e.First("missing"); ok {
		t.Error("First(missing) вернул значение")
	}
}
