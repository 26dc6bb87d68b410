// Пакет repository — слой доступа к данным портала в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrEmailTaken — почта занята другой учётной записью. Является ErrConflict.
	ErrEmailTaken = fmt.Errorf("%w: почта занята другим пользователем", ErrConflict)
)

// emailConstraint — уникальный индекс users.email.
const emailConstraint = "users_email_lower_idx"

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// IdentityTx — репозитории идентичности, привязанные к одной транзакции.
type IdentityTx struct {
	Users     UserRepository
	Employees EmployeeRepository
}

// IdentityStore — атомарная запись пары users + employees.
type IdentityStore interface {
	// RunInTx выполняет fn в транзакции; ошибка fn откатывает обе таблицы.
	RunInTx(ctx context.Context, fn func(repos IdentityTx) error) error
}

type identityStore struct {
	runner *TxRunner
}

// NewIdentityStore создаёт IdentityStore поверх TxRunner.
func NewIdentityStore(runner *TxRunner) IdentityStore {
	return &identityStore{runner: runner}
}

func (s *identityStore) RunInTx(ctx context.Context, fn func(repos IdentityTx) error) error {
	return s.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(IdentityTx{
			Users:     NewUserRepository(tx),
			Employees: NewEmployeeRepository(tx),
		})
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// violatedConstraint возвращает имя нарушенного ограничения уникальности.
func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

// isForeignKeyViolation проверяет нарушение внешнего ключа (ссылка на несуществующую запись).
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
