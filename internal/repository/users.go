package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/domain/rbac"
)

// UserRepository — интерфейс для таблицы users.
type UserRepository interface {
	// Create создаёт учётную запись. Дубликат логина — ErrConflict,
	// дубликат почты — ErrEmailTaken.
	Create(ctx context.Context, u *model.User) error
	// GetByUsername ищет запись по логину без учёта регистра.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// GetByID возвращает запись по UUID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// UpdateDirectoryFields перезаписывает поля, принадлежащие каталогу:
	// email, role, is_active, last_login. Почта другой записи — ErrEmailTaken.
	UpdateDirectoryFields(ctx context.Context, u *model.User) error
}

// userColumns — список колонок для SELECT.
const userColumns = `id, username, email, role, is_active, last_login, created_at, updated_at`

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий учётных записей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, username, email, role, is_active, last_login)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Username, u.Email, string(u.Role), u.IsActive, u.LastLogin,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if violatedConstraint(err) == emailConstraint {
			return fmt.Errorf("%w: %s", ErrEmailTaken, u.Username)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь %s", ErrConflict, u.Username)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`
	return r.scanOne(ctx, query, username)
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(ctx, query, id)
}

func (r *userRepo) UpdateDirectoryFields(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET email = $2, role = $3, is_active = $4, last_login = $5
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Email, string(u.Role), u.IsActive, u.LastLogin,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if violatedConstraint(err) == emailConstraint {
			return fmt.Errorf("%w: %s", ErrEmailTaken, u.Username)
		}
		return fmt.Errorf("ошибка обновления пользователя %s: %w", u.Username, err)
	}
	return nil
}

func (r *userRepo) scanOne(ctx context.Context, query string, arg any) (*model.User, error) {
	u := &model.User{}
	var role string
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &role, &u.IsActive, &u.LastLogin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	u.Role = rbacRole(role)
	return u, nil
}

// rbacRole восстанавливает роль из БД; неизвестное значение читается как user.
func rbacRole(s string) rbac.Role {
	role, err := rbac.ParseRole(s)
	if err != nil {
		return rbac.RoleUser
	}
	return role
}
