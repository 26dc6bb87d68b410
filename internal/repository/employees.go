package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/zerocore/portal/internal/domain/model"
)

// EmployeeRepository — интерфейс для таблицы employees.
type EmployeeRepository interface {
	// Create создаёт карточку сотрудника.
	Create(ctx context.Context, e *model.Employee) error
	// GetByUserID возвращает карточку по UUID пользователя.
	GetByUserID(ctx context.Context, userID string) (*model.Employee, error)
	// UpdateDirectoryFields перезаписывает поля каталога: full_name, title,
	// department и meta.depts. Прочие ключи meta не затрагиваются.
	UpdateDirectoryFields(ctx context.Context, e *model.Employee) error
	// UpdateProfile сохраняет поля HR из e. Ключи patch.Meta сливаются
	// с сохранённой meta в том же UPDATE, прочие ключи не затрагиваются.
	// В e возвращаются итоговые department и meta.
	UpdateProfile(ctx context.Context, e *model.Employee, patch ProfilePatch) error
	// GetProfile возвращает пользователя с карточкой по логину.
	GetProfile(ctx context.Context, username string) (*model.UserProfile, error)
	// List возвращает список сотрудников по фильтру, упорядоченный по имени.
	List(ctx context.Context, filter model.EmployeeFilter) ([]model.EmployeeListItem, error)
	// ActiveRoster возвращает активных сотрудников с отделами.
	ActiveRoster(ctx context.Context) ([]model.RosterEntry, error)
}

// ProfilePatch — изменения meta и основного отдела для UpdateProfile.
type ProfilePatch struct {
	// Meta — изменённые ключи; _v проставляется всегда
	Meta model.Meta
	// Department — новый основной отдел; nil оставляет сохранённый
	Department *string
}

// employeeColumns — список колонок для SELECT (с префиксом e.).
const employeeColumns = `e.id, e.user_id, e.full_name, e.cpf, e.department, e.location, e.title,
	e.admission_date, e.termination_date, e.birth_date, e.meta, e.created_at, e.updated_at`

type employeeRepo struct {
	db DBTX
}

// NewEmployeeRepository создаёт репозиторий карточек сотрудников.
func NewEmployeeRepository(db DBTX) EmployeeRepository {
	return &employeeRepo{db: db}
}

func (r *employeeRepo) Create(ctx context.Context, e *model.Employee) error {
	meta, err := encodeMeta(e.Meta)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO employees (id, user_id, full_name, cpf, department, location, title,
			admission_date, termination_date, birth_date, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err = r.db.QueryRow(ctx, query,
		e.ID, e.UserID, e.FullName, e.CPF, e.Department, e.Location, e.Title,
		e.AdmissionDate, e.TerminationDate, e.BirthDate, meta,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: карточка пользователя %s", ErrConflict, e.UserID)
		}
		return fmt.Errorf("ошибка создания карточки сотрудника: %w", err)
	}
	return nil
}

func (r *employeeRepo) GetByUserID(ctx context.Context, userID string) (*model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees e WHERE e.user_id = $1`

	e, err := scanEmployee(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения карточки сотрудника: %w", err)
	}
	return e, nil
}

func (r *employeeRepo) UpdateDirectoryFields(ctx context.Context, e *model.Employee) error {
	depts, err := json.Marshal(e.Departments())
	if err != nil {
		return fmt.Errorf("ошибка сериализации отделов: %w", err)
	}

	query := `
		UPDATE employees
		SET full_name = $2, title = $3, department = $4,
			meta = meta || jsonb_build_object('depts', $5::jsonb, '_v', $6::int)
		WHERE user_id = $1
		RETURNING meta, updated_at`

	var raw []byte
	err = r.db.QueryRow(ctx, query,
		e.UserID, e.FullName, e.Title, e.Department, string(depts), model.MetaVersion,
	).Scan(&raw, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления карточки сотрудника: %w", err)
	}
	e.Meta, err = decodeMeta(raw)
	return err
}

func (r *employeeRepo) UpdateProfile(ctx context.Context, e *model.Employee, patch ProfilePatch) error {
	meta, err := encodeMeta(patch.Meta)
	if err != nil {
		return err
	}

	// Слияние в одном UPDATE: ключи, записанные параллельно
	// (синхронизация каталога, другой редактор), не теряются.
	query := `
		UPDATE employees
		SET cpf = $2, department = COALESCE($3::text, department), location = $4,
			admission_date = $5, termination_date = $6, birth_date = $7,
			meta = meta || $8::jsonb
		WHERE user_id = $1
		RETURNING department, meta, updated_at`

	var raw []byte
	err = r.db.QueryRow(ctx, query,
		e.UserID, e.CPF, patch.Department, e.Location,
		e.AdmissionDate, e.TerminationDate, e.BirthDate, meta,
	).Scan(&e.Department, &raw, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления профиля: %w", err)
	}
	e.Meta, err = decodeMeta(raw)
	return err
}

func (r *employeeRepo) GetProfile(ctx context.Context, username string) (*model.UserProfile, error) {
	query := `
		SELECT u.id, u.username, u.email, u.role, u.is_active, u.last_login, u.created_at, u.updated_at,
			` + employeeColumns + `
		FROM users u
		JOIN employees e ON e.user_id = u.id
		WHERE lower(u.username) = lower($1)`

	p := &model.UserProfile{}
	var role string
	var raw []byte
	err := r.db.QueryRow(ctx, query, username).Scan(
		&p.User.ID, &p.User.Username, &p.User.Email, &role, &p.User.IsActive,
		&p.User.LastLogin, &p.User.CreatedAt, &p.User.UpdatedAt,
		&p.Employee.ID, &p.Employee.UserID, &p.Employee.FullName, &p.Employee.CPF,
		&p.Employee.Department, &p.Employee.Location, &p.Employee.Title,
		&p.Employee.AdmissionDate, &p.Employee.TerminationDate, &p.Employee.BirthDate,
		&raw, &p.Employee.CreatedAt, &p.Employee.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения профиля %s: %w", username, err)
	}
	p.User.Role = rbacRole(role)
	if p.Employee.Meta, err = decodeMeta(raw); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *employeeRepo) List(ctx context.Context, filter model.EmployeeFilter) ([]model.EmployeeListItem, error) {
	status := filter.Status
	if status == "" {
		status = model.EmployeeStatusAll
	}

	query := `
		SELECT u.id, u.username, u.email, u.role, u.is_active,
			COALESCE(e.full_name, u.username), COALESCE(e.department, ''),
			COALESCE(e.title, ''), COALESCE(e.location, '')
		FROM users u
		LEFT JOIN employees e ON e.user_id = u.id
		WHERE ($1 = 'all' OR ($1 = 'active' AND u.is_active) OR ($1 = 'inactive' AND NOT u.is_active))
		  AND ($2 = '' OR e.full_name ILIKE '%' || $2 || '%' OR u.username ILIKE '%' || $2 || '%')
		ORDER BY lower(COALESCE(e.full_name, u.username)), u.username`

	rows, err := r.db.Query(ctx, query, string(status), escapeLike(filter.Search))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка сотрудников: %w", err)
	}
	defer rows.Close()

	items := []model.EmployeeListItem{}
	for rows.Next() {
		var it model.EmployeeListItem
		var role string
		if err := rows.Scan(
			&it.UserID, &it.Username, &it.Email, &role, &it.IsActive,
			&it.FullName, &it.Department, &it.Title, &it.Location,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сотрудника: %w", err)
		}
		it.Role = rbacRole(role)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *employeeRepo) ActiveRoster(ctx context.Context) ([]model.RosterEntry, error) {
	// Отдел для сверки: отделы из meta.depts через запятую, иначе основной отдел.
	query := `
		SELECT u.id, u.username, COALESCE(e.full_name, u.username),
			COALESCE(
				(SELECT string_agg(d, ', ')
				 FROM jsonb_array_elements_text(
					CASE WHEN jsonb_typeof(e.meta -> 'depts') = 'array'
						THEN e.meta -> 'depts' ELSE '[]'::jsonb END) AS d),
				e.department, '')
		FROM users u
		LEFT JOIN employees e ON e.user_id = u.id
		WHERE u.is_active
		ORDER BY lower(COALESCE(e.full_name, u.username))`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активных сотрудников: %w", err)
	}
	defer rows.Close()

	roster := []model.RosterEntry{}
	for rows.Next() {
		var re model.RosterEntry
		if err := rows.Scan(&re.UserID, &re.Username, &re.FullName, &re.Department); err != nil {
			return nil, fmt.Errorf("ошибка сканирования сотрудника: %w", err)
		}
		roster = append(roster, re)
	}
	return roster, rows.Err()
}

func scanEmployee(row pgx.Row) (*model.Employee, error) {
	e := &model.Employee{}
	var raw []byte
	if err := row.Scan(
		&e.ID, &e.UserID, &e.FullName, &e.CPF, &e.Department, &e.Location, &e.Title,
		&e.AdmissionDate, &e.TerminationDate, &e.BirthDate, &raw, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	meta, err := decodeMeta(raw)
	if err != nil {
		return nil, err
	}
	e.Meta = meta
	return e, nil
}

// encodeMeta сериализует meta с текущей версией схемы.
func encodeMeta(m model.Meta) (string, error) {
	data, err := json.Marshal(m.Clone())
	if err != nil {
		return "", fmt.Errorf("ошибка сериализации meta: %w", err)
	}
	return string(data), nil
}

// decodeMeta читает jsonb; не-объект (null, массив) даёт пустую meta.
func decodeMeta(raw []byte) (model.Meta, error) {
	m := model.Meta{}
	if len(raw) == 0 {
		return m, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("ошибка разбора meta: %w", err)
	}
	if obj, ok := v.(map[string]any); ok {
		m = obj
	}
	return m, nil
}
