// reconciler.go — сверка нормализованной личности каталога с БД.
//
// Поля каталога (роль, активность, имя, почта, должность, отделы)
// перезаписываются при каждой сверке. Поля HR и личные поля meta
// не затрагиваются. users и employees пишутся в одной транзакции.
//
// Prometheus-метрики:
//   - portal_reconcile_duration_seconds — длительность сверки по исходу
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/repository"
)

var reconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "portal_reconcile_duration_seconds",
	Help:    "Длительность сверки личности каталога с БД",
	Buckets: prometheus.DefBuckets,
}, []string{"outcome"})

// Reconciler — сверка личности каталога с users/employees.
type Reconciler struct {
	store  repository.IdentityStore
	now    func() time.Time
	logger *slog.Logger
}

// NewReconciler создаёт сервис сверки.
func NewReconciler(store repository.IdentityStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile создаёт или обновляет пользователя и карточку по данным каталога.
// Конфликт уникальности при создании (параллельный первый вход) повторяется
// один раз как обновление. Если почта каталога уже принадлежит другому
// логину, запись сохраняется без новой почты (прежняя остаётся).
func (r *Reconciler) Reconcile(ctx context.Context, id model.DirectoryIdentity) (*model.UserProfile, error) {
	start := time.Now()
	id.Username = strings.ToLower(strings.TrimSpace(id.Username))
	if id.Username == "" {
		return nil, fmt.Errorf("%w: пустой логин", ErrValidation)
	}

	profile, created, err := r.reconcileOnce(ctx, id)
	if errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrEmailTaken) {
		r.logger.Debug("Конфликт при создании, повтор как обновление",
			slog.String("username", id.Username),
		)
		profile, created, err = r.reconcileOnce(ctx, id)
	}
	if errors.Is(err, repository.ErrEmailTaken) && id.Email != nil {
		r.logger.Warn("Почта из каталога занята другим пользователем, сохраняем без неё",
			slog.String("username", id.Username),
			slog.String("email", *id.Email),
		)
		id.Email = nil
		profile, created, err = r.reconcileOnce(ctx, id)
	}
	if err != nil {
		reconcileDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("сверка %s: %w", id.Username, err)
	}

	outcome := "updated"
	if created {
		outcome = "created"
		r.logger.Info("Пользователь создан по данным каталога",
			slog.String("username", id.Username),
			slog.String("role", id.Role.String()),
			slog.Any("departments", id.Departments),
		)
	}
	reconcileDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return profile, nil
}

// BulkReconcile сверяет каждую личность независимо. Ошибки собираются
// и не прерывают обработку; возвращается число успешных сверок.
func (r *Reconciler) BulkReconcile(ctx context.Context, ids []model.DirectoryIdentity) (int, error) {
	var (
		ok   int
		errs *multierror.Error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if _, err := r.Reconcile(ctx, id); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		ok++
	}
	return ok, errs.ErrorOrNil()
}

func (r *Reconciler) reconcileOnce(ctx context.Context, id model.DirectoryIdentity) (*model.UserProfile, bool, error) {
	var (
		profile *model.UserProfile
		created bool
	)
	now := r.now()

	err := r.store.RunInTx(ctx, func(repos repository.IdentityTx) error {
		user, err := repos.Users.GetByUsername(ctx, id.Username)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			profile, err = r.create(ctx, repos, id, now)
			created = err == nil
			return err
		case err != nil:
			return err
		}

		profile, err = r.update(ctx, repos, user, id, now)
		return err
	})
	return profile, created, err
}

func (r *Reconciler) create(ctx context.Context, repos repository.IdentityTx, id model.DirectoryIdentity, now time.Time) (*model.UserProfile, error) {
	p := &model.UserProfile{
		User: model.User{
			ID:        uuid.New().String(),
			Username:  id.Username,
			Email:     id.Email,
			Role:      id.Role,
			IsActive:  id.IsActive,
			LastLogin: &now,
		},
	}
	p.Employee = model.Employee{
		ID:         uuid.New().String(),
		UserID:     p.User.ID,
		FullName:   id.FullName,
		Department: id.PrimaryDepartment,
		Title:      id.Title,
		Meta:       model.Meta{}.WithDepts(id.Departments),
	}

	if err := repos.Users.Create(ctx, &p.User); err != nil {
		return nil, err
	}
	if err := repos.Employees.Create(ctx, &p.Employee); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reconciler) update(ctx context.Context, repos repository.IdentityTx, user *model.User, id model.DirectoryIdentity, now time.Time) (*model.UserProfile, error) {
	user.Role = id.Role
	user.IsActive = id.IsActive
	user.LastLogin = &now
	if id.Email != nil {
		user.Email = id.Email
	}
	if err := repos.Users.UpdateDirectoryFields(ctx, user); err != nil {
		return nil, err
	}

	emp, err := repos.Employees.GetByUserID(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		// Карточка могла быть удалена вручную: восстанавливаем.
		emp = &model.Employee{
			ID:         uuid.New().String(),
			UserID:     user.ID,
			FullName:   id.FullName,
			Department: id.PrimaryDepartment,
			Title:      id.Title,
			Meta:       model.Meta{}.WithDepts(id.Departments),
		}
		if err := repos.Employees.Create(ctx, emp); err != nil {
			return nil, err
		}
		return &model.UserProfile{User: *user, Employee: *emp}, nil
	}
	if err != nil {
		return nil, err
	}

	emp.FullName = id.FullName
	emp.Title = id.Title
	emp.Department = id.PrimaryDepartment
	emp.Meta = emp.Meta.WithDepts(id.Departments)
	if err := repos.Employees.UpdateDirectoryFields(ctx, emp); err != nil {
		return nil, err
	}
	return &model.UserProfile{User: *user, Employee: *emp}, nil
}
