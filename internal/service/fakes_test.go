package service

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zerocore/portal/internal/auth"
	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/filestore"
	"github.com/zerocore/portal/internal/repository"
)

// testLogger создаёт логгер для тестов (вывод отключён).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memDB — in-memory замена users/employees/announcements.
type memDB struct {
	mu        sync.Mutex
	users     map[string]*model.User     // ключ — id
	employees map[string]*model.Employee // ключ — user_id
	anns      map[string]*model.Announcement
	acks      map[string][]model.Acknowledgment // ключ — announcement id

	// createErr — ошибка, возвращаемая следующим users.Create
	createErr error
	// txCalls — число вызовов RunInTx
	txCalls int
}

func newMemDB() *memDB {
	return &memDB{
		users:     make(map[string]*model.User),
		employees: make(map[string]*model.Employee),
		anns:      make(map[string]*model.Announcement),
		acks:      make(map[string][]model.Acknowledgment),
	}
}

// RunInTx реализует repository.IdentityStore. Откат не имитируется.
func (db *memDB) RunInTx(_ context.Context, fn func(repos repository.IdentityTx) error) error {
	db.mu.Lock()
	db.txCalls++
	db.mu.Unlock()
	return fn(repository.IdentityTx{Users: memUsers{db}, Employees: memEmployees{db}})
}

func (db *memDB) userByName(username string) *model.User {
	for _, u := range db.users {
		if strings.EqualFold(u.Username, username) {
			return u
		}
	}
	return nil
}

// emailTaken — почта занята записью с другим id (без учёта регистра).
func (db *memDB) emailTaken(email *string, id string) bool {
	if email == nil {
		return false
	}
	for _, u := range db.users {
		if u.ID != id && u.Email != nil && strings.EqualFold(*u.Email, *email) {
			return true
		}
	}
	return false
}

// --- users ---

type memUsers struct{ db *memDB }

func (r memUsers) Create(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.db.createErr; err != nil {
		r.db.createErr = nil
		return err
	}
	if r.db.userByName(u.Username) != nil {
		return repository.ErrConflict
	}
	if r.db.emailTaken(u.Email, u.ID) {
		return repository.ErrEmailTaken
	}
	u.CreatedAt = time.Now()
	cp := *u
	r.db.users[u.ID] = &cp
	return nil
}

func (r memUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u := r.db.userByName(username); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if u, ok := r.db.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r memUsers) UpdateDirectoryFields(_ context.Context, u *model.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.db.emailTaken(u.Email, u.ID) {
		return repository.ErrEmailTaken
	}
	cur.Email, cur.Role, cur.IsActive, cur.LastLogin = u.Email, u.Role, u.IsActive, u.LastLogin
	return nil
}

// --- employees ---

type memEmployees struct{ db *memDB }

func (r memEmployees) Create(_ context.Context, e *model.Employee) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.employees[e.UserID]; ok {
		return repository.ErrConflict
	}
	cp := *e
	cp.Meta = e.Meta.Clone()
	r.db.employees[e.UserID] = &cp
	return nil
}

func (r memEmployees) GetByUserID(_ context.Context, userID string) (*model.Employee, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if e, ok := r.db.employees[userID]; ok {
		cp := *e
		cp.Meta = e.Meta.Clone()
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r memEmployees) UpdateDirectoryFields(_ context.Context, e *model.Employee) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.employees[e.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.FullName, cur.Title, cur.Department = e.FullName, e.Title, e.Department
	cur.Meta = cur.Meta.WithDepts(e.Meta.Depts())
	e.Meta = cur.Meta.Clone()
	return nil
}

func (r memEmployees) UpdateProfile(_ context.Context, e *model.Employee, patch repository.ProfilePatch) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.employees[e.UserID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.CPF, cur.Location = e.CPF, e.Location
	cur.AdmissionDate, cur.TerminationDate, cur.BirthDate = e.AdmissionDate, e.TerminationDate, e.BirthDate
	if patch.Department != nil {
		cur.Department = *patch.Department
	}
	merged := cur.Meta.Clone()
	maps.Copy(merged, patch.Meta)
	cur.Meta = merged
	e.Department, e.Meta = cur.Department, cur.Meta.Clone()
	return nil
}

func (r memEmployees) GetProfile(_ context.Context, username string) (*model.UserProfile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u := r.db.userByName(username)
	if u == nil {
		return nil, repository.ErrNotFound
	}
	e, ok := r.db.employees[u.ID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p := &model.UserProfile{User: *u, Employee: *e}
	p.Employee.Meta = e.Meta.Clone()
	return p, nil
}

func (r memEmployees) List(_ context.Context, filter model.EmployeeFilter) ([]model.EmployeeListItem, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	items := []model.EmployeeListItem{}
	for _, u := range r.db.users {
		if filter.Status == model.EmployeeStatusActive && !u.IsActive ||
			filter.Status == model.EmployeeStatusInactive && u.IsActive {
			continue
		}
		it := model.EmployeeListItem{UserID: u.ID, Username: u.Username, Role: u.Role, IsActive: u.IsActive}
		if e, ok := r.db.employees[u.ID]; ok {
			it.FullName, it.Department = e.FullName, e.Department
		}
		if filter.Search != "" &&
			!strings.Contains(strings.ToLower(it.FullName+" "+it.Username), strings.ToLower(filter.Search)) {
			continue
		}
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b model.EmployeeListItem) int {
		return strings.Compare(strings.ToLower(a.FullName), strings.ToLower(b.FullName))
	})
	return items, nil
}

func (r memEmployees) ActiveRoster(_ context.Context) ([]model.RosterEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	roster := []model.RosterEntry{}
	for _, u := range r.db.users {
		if !u.IsActive {
			continue
		}
		re := model.RosterEntry{UserID: u.ID, Username: u.Username, FullName: u.Username}
		if e, ok := r.db.employees[u.ID]; ok {
			re.FullName = e.FullName
			re.Department = strings.Join(e.Departments(), ", ")
		}
		roster = append(roster, re)
	}
	slices.SortFunc(roster, func(a, b model.RosterEntry) int { return strings.Compare(a.Username, b.Username) })
	return roster, nil
}

// --- announcements ---

type memAnnouncements struct{ db *memDB }

func (r memAnnouncements) Create(_ context.Context, a *model.Announcement) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cp := *a
	r.db.anns[a.ID] = &cp
	return nil
}

func (r memAnnouncements) GetByID(_ context.Context, id string) (*model.Announcement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if a, ok := r.db.anns[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (r memAnnouncements) List(_ context.Context, q model.AnnouncementQuery) ([]model.AnnouncementView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	views := []model.AnnouncementView{}
	for _, a := range r.db.anns {
		if a.IsArchived != q.Archived {
			continue
		}
		if q.Category != nil && a.Category != *q.Category {
			continue
		}
		visible := slices.Contains(q.Categories, a.Category)
		if a.Category == model.CategorySector && a.TargetDept != nil {
			visible = slices.Contains(q.SectorDepartments, strings.ToLower(*a.TargetDept))
		}
		if !visible {
			continue
		}
		v := model.AnnouncementView{Announcement: *a, AckCount: len(r.db.acks[a.ID])}
		for _, ack := range r.db.acks[a.ID] {
			if ack.UserID == q.ViewerID {
				v.HasAcknowledged = true
			}
		}
		views = append(views, v)
	}
	slices.SortFunc(views, func(a, b model.AnnouncementView) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return views, nil
}

func (r memAnnouncements) SetArchived(_ context.Context, id string, archived bool) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	a, ok := r.db.anns[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.IsArchived = archived
	return nil
}

func (r memAnnouncements) Acknowledge(_ context.Context, annID, userID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.anns[annID]; !ok {
		return false, repository.ErrNotFound
	}
	for _, ack := range r.db.acks[annID] {
		if ack.UserID == userID {
			return false, nil
		}
	}
	ack := model.Acknowledgment{UserID: userID, AcknowledgedAt: time.Now()}
	if e, ok := r.db.employees[userID]; ok {
		ack.FullName, ack.Department = e.FullName, e.Department
	}
	r.db.acks[annID] = append(r.db.acks[annID], ack)
	return true, nil
}

func (r memAnnouncements) Acknowledgments(_ context.Context, annID string) ([]model.Acknowledgment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return slices.Clone(r.db.acks[annID]), nil
}

func (r memAnnouncements) AckCount(_ context.Context, annID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.db.acks[annID]), nil
}

// --- sync_state ---

type memSyncState struct {
	at    *time.Time
	count int
}

func (s *memSyncState) Get(context.Context) (*model.SyncState, error) {
	return &model.SyncState{ID: 1, LastDirectorySyncAt: s.at, LastDirectorySyncCount: s.count}, nil
}

func (s *memSyncState) UpdateDirectorySync(_ context.Context, t time.Time, count int) error {
	s.at, s.count = &t, count
	return nil
}

// --- прочее ---

// fakeIssuer запоминает последнюю выпущенную личность.
type fakeIssuer struct {
	last auth.Identity
}

func (f *fakeIssuer) Issue(id auth.Identity) (string, time.Time, error) {
	f.last = id
	return "token-" + id.Username, time.Now().Add(time.Hour), nil
}

// fakeGroups запоминает вызовы SetUserGroups.
type fakeGroups struct {
	calls  [][]string
	result GroupSyncResult
}

func (f *fakeGroups) SetUserGroups(_ context.Context, _ string, desired []string) GroupSyncResult {
	f.calls = append(f.calls, slices.Clone(desired))
	return f.result
}

// memSink — хранилище вложений в памяти.
type memSink struct {
	saved   map[string][]byte
	deleted []string
}

func (s *memSink) Save(r io.Reader, name string) (*filestore.SaveResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	stored := "00000000-0000-0000-0000-000000000001.pdf"
	s.saved[stored] = data
	return &filestore.SaveResult{
		Name: stored, URL: filestore.URLPrefix + stored, OriginalName: name, Size: int64(len(data)),
	}, nil
}

func (s *memSink) Delete(name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

// testDirectory — каталог ZeroCore для тестов сервисов.
func testDirectory() *directory.Memory {
	return directory.NewMemory(directory.MemoryFixture{
		BaseDN:   "DC=zerocore,DC=local",
		GroupsOU: "OU=Grupos,DC=zerocore,DC=local",
		Users: []directory.MemoryUser{
			{
				Username: "ana.souza",
				Password: "senha-ana",
				DN:       "CN=Ana Souza,OU=TI,DC=zerocore,DC=local",
				Attributes: map[string][]string{
					"displayName":        {"Ana Souza"},
					"mail":               {"Ana.Souza@zerocore.local"},
					"title":              {"Analista"},
					"userAccountControl": {"512"},
				},
				Groups: []string{"ZC_DEPT_TI", "ZC_ROLE_SUPERVISOR"},
			},
			{
				Username: "bruno.lima",
				Password: "senha-bruno",
				Attributes: map[string][]string{
					"displayName":        {"Bruno Lima"},
					"userAccountControl": {"512"},
				},
				Groups: []string{"ZC_DEPT_RH"},
			},
			{
				Username: "carla.dias",
				Password: "senha-carla",
				Attributes: map[string][]string{
					"displayName":        {"Carla Dias"},
					"userAccountControl": {"514"},
				},
				Groups: []string{"ZC_DEPT_JURIDICO"},
			},
		},
	})
}
