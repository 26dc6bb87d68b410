package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/zerocore/portal/internal/config"
	"github.com/zerocore/portal/internal/database"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"

	"github.com/jackc/pgx/v5/pgxpool"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("portal_test"),
		postgres.WithUsername("portal"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("PORTAL_DB_HOST", host)
	t.Setenv("PORTAL_DB_PORT", port.Port())
	t.Setenv("PORTAL_DB_NAME", "portal_test")
	t.Setenv("PORTAL_DB_USER", "portal")
	t.Setenv("PORTAL_DB_PASSWORD", "test-password")
	t.Setenv("PORTAL_DB_SSL_MODE", "disable")
	t.Setenv("PORTAL_LDAP_BASE_DN", "DC=zerocore,DC=local")
	t.Setenv("PORTAL_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createIdentity создаёт пользователя с карточкой в одной транзакции.
func createIdentity(t *testing.T, store IdentityStore, username, fullName string, depts []string, active bool) *model.UserProfile {
	t.Helper()

	now := time.Now().UTC()
	p := &model.UserProfile{
		User: model.User{
			ID:        uuid.New().String(),
			Username:  username,
			Role:      rbac.RoleUser,
			IsActive:  active,
			LastLogin: &now,
		},
	}
	p.Employee = model.Employee{
		ID:         uuid.New().String(),
		UserID:     p.User.ID,
		FullName:   fullName,
		Department: depts[0],
		Title:      "Colaborador",
		Meta:       model.Meta{}.WithDepts(depts),
	}

	err := store.RunInTx(context.Background(), func(repos IdentityTx) error {
		if err := repos.Users.Create(context.Background(), &p.User); err != nil {
			return err
		}
		return repos.Employees.Create(context.Background(), &p.Employee)
	})
	if err != nil {
		t.Fatalf("Ошибка создания %s: %v", username, err)
	}
	return p
}

// --- Тесты UserRepository / EmployeeRepository ---

func TestIdentityLifecycle(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewIdentityStore(NewTxRunner(pool))
	users := NewUserRepository(pool)
	employees := NewEmployeeRepository(pool)

	p := createIdentity(t, store, "ana.souza", "Ana Souza", []string{"TI", "RH"}, true)
	if p.User.CreatedAt.IsZero() || p.Employee.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// Поиск без учёта регистра
	got, err := users.GetByUsername(ctx, "ANA.SOUZA")
	if err != nil {
		t.Fatalf("GetByUsername() ошибка: %v", err)
	}
	if got.ID != p.User.ID || got.Role != rbac.RoleUser {
		t.Errorf("GetByUsername() = %+v", got)
	}

	// Дубликат логина — ErrConflict
	dup := &model.User{ID: uuid.New().String(), Username: "Ana.Souza", Role: rbac.RoleUser, IsActive: true}
	if err := users.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Errorf("Create(дубликат) = %v, ожидали ErrConflict", err)
	}

	// Поля каталога перезаписываются
	email := "ana@zerocore.local"
	got.Email = &email
	got.Role = rbac.RoleSupervisor
	got.IsActive = false
	if err := users.UpdateDirectoryFields(ctx, got); err != nil {
		t.Fatalf("UpdateDirectoryFields() ошибка: %v", err)
	}
	byID, err := users.GetByID(ctx, p.User.ID)
	if err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if byID.Role != rbac.RoleSupervisor || byID.IsActive || byID.Email == nil || *byID.Email != email {
		t.Errorf("после обновления = %+v", byID)
	}

	// meta.depts обновляется, прочие ключи meta сохраняются
	emp, err := employees.GetByUserID(ctx, p.User.ID)
	if err != nil {
		t.Fatalf("GetByUserID() ошибка: %v", err)
	}
	if err := employees.UpdateProfile(ctx, emp, ProfilePatch{
		Meta: model.Meta{}.WithString(model.MetaKeyPhone, "+55 11 9999-0000"),
	}); err != nil {
		t.Fatalf("UpdateProfile() ошибка: %v", err)
	}
	emp.FullName = "Ana S. Souza"
	emp.Department = "Marketing"
	emp.Meta = emp.Meta.WithDepts([]string{"Marketing"})
	if err := employees.UpdateDirectoryFields(ctx, emp); err != nil {
		t.Fatalf("UpdateDirectoryFields() ошибка: %v", err)
	}

	profile, err := employees.GetProfile(ctx, "ana.souza")
	if err != nil {
		t.Fatalf("GetProfile() ошибка: %v", err)
	}
	if profile.Employee.FullName != "Ana S. Souza" {
		t.Errorf("FullName = %q", profile.Employee.FullName)
	}
	if depts := profile.Employee.Meta.Depts(); len(depts) != 1 || depts[0] != "Marketing" {
		t.Errorf("meta.depts = %v, ожидали [Marketing]", depts)
	}
	if phone := profile.Employee.Meta.Phone(); phone != "+55 11 9999-0000" {
		t.Errorf("meta.phone = %q, ключ потерян при обновлении отделов", phone)
	}
	if profile.Employee.Meta.Version() != model.MetaVersion {
		t.Errorf("meta._v = %d", profile.Employee.Meta.Version())
	}

	if _, err := employees.GetProfile(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProfile(ghost) = %v, ожидали ErrNotFound", err)
	}
}

func TestUserEmailUnique(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	users := NewUserRepository(pool)

	email := "rh@zerocore.local"
	upper := "RH@ZeroCore.local"
	ana := &model.User{ID: uuid.New().String(), Username: "ana", Email: &email, Role: rbac.RoleUser, IsActive: true}
	if err := users.Create(ctx, ana); err != nil {
		t.Fatalf("Create(ana) ошибка: %v", err)
	}

	// Та же почта в другом регистре у другого логина
	bia := &model.User{ID: uuid.New().String(), Username: "bia", Email: &upper, Role: rbac.RoleUser, IsActive: true}
	err := users.Create(ctx, bia)
	if !errors.Is(err, ErrEmailTaken) || !errors.Is(err, ErrConflict) {
		t.Fatalf("Create(bia) = %v, ожидали ErrEmailTaken", err)
	}

	// Без почты запись создаётся, NULL не конфликтует
	bia.Email = nil
	if err := users.Create(ctx, bia); err != nil {
		t.Fatalf("Create(bia без почты) ошибка: %v", err)
	}
	caio := &model.User{ID: uuid.New().String(), Username: "caio", Role: rbac.RoleUser, IsActive: true}
	if err := users.Create(ctx, caio); err != nil {
		t.Fatalf("Create(caio без почты) ошибка: %v", err)
	}

	// Обновление на занятую почту
	bia.Email = &email
	if err := users.UpdateDirectoryFields(ctx, bia); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("UpdateDirectoryFields(bia) = %v, ожидали ErrEmailTaken", err)
	}

	// Повторное сохранение своей же почты — не конфликт
	if err := users.UpdateDirectoryFields(ctx, ana); err != nil {
		t.Errorf("UpdateDirectoryFields(ana) ошибка: %v", err)
	}
}

// TestEmployeeUpdateProfile_MergesMeta проверяет, что сохранение карточки
// по устаревшей копии не затирает ключи, записанные после чтения.
func TestEmployeeUpdateProfile_MergesMeta(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewIdentityStore(NewTxRunner(pool))
	employees := NewEmployeeRepository(pool)

	p := createIdentity(t, store, "ana.souza", "Ana Souza", []string{"TI"}, true)
	stale, err := employees.GetByUserID(ctx, p.User.ID)
	if err != nil {
		t.Fatalf("GetByUserID() ошибка: %v", err)
	}

	// После чтения: синхронизация каталога меняет отделы
	fresh, err := employees.GetByUserID(ctx, p.User.ID)
	if err != nil {
		t.Fatalf("GetByUserID() ошибка: %v", err)
	}
	fresh.Department = "Marketing"
	fresh.Meta = fresh.Meta.WithDepts([]string{"Marketing", "TI"})
	if err := employees.UpdateDirectoryFields(ctx, fresh); err != nil {
		t.Fatalf("UpdateDirectoryFields() ошибка: %v", err)
	}

	// Сохранение телефона по устаревшей копии
	stale.Location = "Campinas"
	if err := employees.UpdateProfile(ctx, stale, ProfilePatch{
		Meta: model.Meta{}.WithString(model.MetaKeyPhone, "+55 19 3333-0000"),
	}); err != nil {
		t.Fatalf("UpdateProfile() ошибка: %v", err)
	}

	got, err := employees.GetByUserID(ctx, p.User.ID)
	if err != nil {
		t.Fatalf("GetByUserID() ошибка: %v", err)
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"отдел каталога", got.Department, "Marketing"},
		{"отделы каталога", fmt.Sprint(got.Meta.Depts()), "[Marketing TI]"},
		{"телефон", got.Meta.Phone(), "+55 19 3333-0000"},
		{"место работы", got.Location, "Campinas"},
		{"возврат meta в копию", stale.Meta.Phone(), "+55 19 3333-0000"},
		{"возврат отдела в копию", stale.Department, "Marketing"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, ожидали %q", tt.name, tt.got, tt.want)
		}
	}

	// Явная смена основного отдела
	dept := "TI"
	if err := employees.UpdateProfile(ctx, got, ProfilePatch{Department: &dept}); err != nil {
		t.Fatalf("UpdateProfile(отдел) ошибка: %v", err)
	}
	if got.Department != "TI" || got.Meta.Phone() != "+55 19 3333-0000" {
		t.Errorf("после смены отдела: department=%q, phone=%q", got.Department, got.Meta.Phone())
	}
}

func TestIdentityStore_Rollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewIdentityStore(NewTxRunner(pool))

	boom := errors.New("сбой")
	err := store.RunInTx(ctx, func(repos IdentityTx) error {
		u := &model.User{ID: uuid.New().String(), Username: "rollback", Role: rbac.RoleUser, IsActive: true}
		if err := repos.Users.Create(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() = %v, ожидали исходную ошибку", err)
	}

	if _, err := NewUserRepository(pool).GetByUsername(ctx, "rollback"); !errors.Is(err, ErrNotFound) {
		t.Errorf("запись осталась после отката: %v", err)
	}
}

func TestEmployeeListAndRoster(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewIdentityStore(NewTxRunner(pool))
	employees := NewEmployeeRepository(pool)

	createIdentity(t, store, "bruno", "Bruno Lima", []string{"Vendas"}, true)
	createIdentity(t, store, "carla", "Carla Dias", []string{"RH", "Marketing"}, true)
	createIdentity(t, store, "diego", "Diego 100%", []string{"TI"}, false)

	tests := []struct {
		name   string
		filter model.EmployeeFilter
		want   []string
	}{
		{"все", model.EmployeeFilter{Status: model.EmployeeStatusAll}, []string{"bruno", "carla", "diego"}},
		{"активные", model.EmployeeFilter{Status: model.EmployeeStatusActive}, []string{"bruno", "carla"}},
		{"неактивные", model.EmployeeFilter{Status: model.EmployeeStatusInactive}, []string{"diego"}},
		{"поиск по имени", model.EmployeeFilter{Search: "dias"}, []string{"carla"}},
		{"символ % ищется буквально", model.EmployeeFilter{Search: "100%"}, []string{"diego"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := employees.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() ошибка: %v", err)
			}
			var got []string
			for _, it := range items {
				got = append(got, it.Username)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() = %v, ожидали %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("List()[%d] = %s, ожидали %s", i, got[i], tt.want[i])
				}
			}
		})
	}

	roster, err := employees.ActiveRoster(ctx)
	if err != nil {
		t.Fatalf("ActiveRoster() ошибка: %v", err)
	}
	if len(roster) != 2 {
		t.Fatalf("ActiveRoster() = %d записей, ожидали 2", len(roster))
	}
	if roster[1].Username != "carla" || roster[1].Department != "RH, Marketing" {
		t.Errorf("ActiveRoster()[1] = %+v", roster[1])
	}
}

// --- Тесты AnnouncementRepository ---

func TestAnnouncementVisibilityAndAcks(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewIdentityStore(NewTxRunner(pool))
	repo := NewAnnouncementRepository(pool)

	author := createIdentity(t, store, "rh.ana", "Ana RH", []string{"RH"}, true)
	reader := createIdentity(t, store, "bruno", "Bruno Vendas", []string{"Vendas"}, true)

	sales := "Vendas"
	hr := "RH"
	mk := func(title string, c model.Category, target *string) *model.Announcement {
		a := &model.Announcement{
			ID:         uuid.New().String(),
			Title:      title,
			Content:    "texto",
			Category:   c,
			TargetDept: target,
			CreatedBy:  &author.User.ID,
		}
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create(%s) ошибка: %v", title, err)
		}
		return a
	}
	general := mk("geral", model.CategoryGeneral, nil)
	mk("tech", model.CategoryTech, nil)
	mk("vendas", model.CategorySector, &sales)
	mk("rh", model.CategorySector, &hr)

	// SECTOR без target_dept отклоняется ограничением таблицы
	bad := &model.Announcement{ID: uuid.New().String(), Title: "x", Content: "x", Category: model.CategorySector}
	if err := repo.Create(ctx, bad); err == nil {
		t.Error("Create(SECTOR без отдела) — ожидали ошибку")
	}

	created, err := repo.Acknowledge(ctx, general.ID, reader.User.ID)
	if err != nil || !created {
		t.Fatalf("Acknowledge() = %v, %v", created, err)
	}
	created, err = repo.Acknowledge(ctx, general.ID, reader.User.ID)
	if err != nil || created {
		t.Errorf("повторный Acknowledge() = %v, %v; ожидали false, nil", created, err)
	}
	if _, err := repo.Acknowledge(ctx, uuid.New().String(), reader.User.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Acknowledge(нет объявления) = %v, ожидали ErrNotFound", err)
	}

	views, err := repo.List(ctx, model.AnnouncementQuery{
		Categories:        []model.Category{model.CategoryGeneral},
		SectorDepartments: []string{"VENDAS"},
		ViewerID:          reader.User.ID,
	})
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("List() = %d объявлений, ожидали 2 (geral + vendas)", len(views))
	}
	// Новые первыми
	if views[0].Title != "vendas" || views[1].Title != "geral" {
		t.Errorf("порядок = %s, %s", views[0].Title, views[1].Title)
	}
	if !views[1].HasAcknowledged || views[1].AckCount != 1 || views[1].AuthorName != "Ana RH" {
		t.Errorf("geral = %+v", views[1])
	}

	if err := repo.SetArchived(ctx, general.ID, true); err != nil {
		t.Fatalf("SetArchived() ошибка: %v", err)
	}
	archived, err := repo.List(ctx, model.AnnouncementQuery{
		Categories: []model.Category{model.CategoryGeneral},
		Archived:   true,
		ViewerID:   reader.User.ID,
	})
	if err != nil || len(archived) != 1 {
		t.Errorf("List(архив) = %v, %v", archived, err)
	}
	if err := repo.SetArchived(ctx, uuid.New().String(), true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetArchived(нет объявления) = %v", err)
	}

	acks, err := repo.Acknowledgments(ctx, general.ID)
	if err != nil || len(acks) != 1 || acks[0].FullName != "Bruno Vendas" {
		t.Errorf("Acknowledgments() = %+v, %v", acks, err)
	}
	if n, err := repo.AckCount(ctx, general.ID); err != nil || n != 1 {
		t.Errorf("AckCount() = %d, %v", n, err)
	}
}

// --- Тесты SyncStateRepository ---

func TestSyncState(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewSyncStateRepository(pool)

	s, err := repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.LastDirectorySyncAt != nil {
		t.Error("LastDirectorySyncAt должен быть nil до первой синхронизации")
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := repo.UpdateDirectorySync(ctx, at, 42); err != nil {
		t.Fatalf("UpdateDirectorySync() ошибка: %v", err)
	}
	s, err = repo.Get(ctx)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if s.LastDirectorySyncAt == nil || !s.LastDirectorySyncAt.Equal(at) || s.LastDirectorySyncCount != 42 {
		t.Errorf("sync_state = %+v", s)
	}
}
