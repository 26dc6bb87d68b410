package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/zerocore/portal/internal/domain/model"
)

// AnnouncementRepository — интерфейс для таблиц announcements
// и announcement_acknowledgments.
type AnnouncementRepository interface {
	// Create сохраняет объявление.
	Create(ctx context.Context, a *model.Announcement) error
	// GetByID возвращает объявление по UUID.
	GetByID(ctx context.Context, id string) (*model.Announcement, error)
	// List возвращает объявления в пределах уже вычисленной области видимости,
	// от новых к старым.
	List(ctx context.Context, q model.AnnouncementQuery) ([]model.AnnouncementView, error)
	// SetArchived меняет флаг архива.
	SetArchived(ctx context.Context, id string, archived bool) error
	// Acknowledge отмечает ознакомление. Повторная отметка не создаёт
	// новую запись; created сообщает, была ли запись добавлена.
	Acknowledge(ctx context.Context, announcementID, userID string) (created bool, err error)
	// Acknowledgments возвращает отметки по объявлению в порядке времени.
	Acknowledgments(ctx context.Context, announcementID string) ([]model.Acknowledgment, error)
	// AckCount возвращает число отметок.
	AckCount(ctx context.Context, announcementID string) (int, error)
}

// announcementColumns — список колонок для SELECT (с префиксом a.).
const announcementColumns = `a.id, a.title, a.content, a.category, a.target_dept,
	a.attachment_url, a.attachment_name, a.is_archived, a.created_at, a.created_by`

type announcementRepo struct {
	db DBTX
}

// NewAnnouncementRepository создаёт репозиторий объявлений.
func NewAnnouncementRepository(db DBTX) AnnouncementRepository {
	return &announcementRepo{db: db}
}

func (r *announcementRepo) Create(ctx context.Context, a *model.Announcement) error {
	query := `
		INSERT INTO announcements (id, title, content, category, target_dept,
			attachment_url, attachment_name, is_archived, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		a.ID, a.Title, a.Content, string(a.Category), a.TargetDept,
		a.AttachmentURL, a.AttachmentName, a.IsArchived, a.CreatedBy,
	).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: объявление %s", ErrConflict, a.ID)
		}
		return fmt.Errorf("ошибка создания объявления: %w", err)
	}
	return nil
}

func (r *announcementRepo) GetByID(ctx context.Context, id string) (*model.Announcement, error) {
	query := `SELECT ` + announcementColumns + ` FROM announcements a WHERE a.id = $1`

	a := &model.Announcement{}
	var category string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Title, &a.Content, &category, &a.TargetDept,
		&a.AttachmentURL, &a.AttachmentName, &a.IsArchived, &a.CreatedAt, &a.CreatedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения объявления: %w", err)
	}
	a.Category = model.Category(category)
	return a, nil
}

func (r *announcementRepo) List(ctx context.Context, q model.AnnouncementQuery) ([]model.AnnouncementView, error) {
	categories := make([]string, 0, len(q.Categories))
	for _, c := range q.Categories {
		categories = append(categories, string(c))
	}
	sectors := make([]string, 0, len(q.SectorDepartments))
	for _, d := range q.SectorDepartments {
		sectors = append(sectors, strings.ToLower(d))
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + announcementColumns + `,
			COALESCE(e.full_name, u.username, ''),
			(SELECT count(*) FROM announcement_acknowledgments k WHERE k.announcement_id = a.id),
			EXISTS (SELECT 1 FROM announcement_acknowledgments k
				WHERE k.announcement_id = a.id AND k.user_id = $4)
		FROM announcements a
		LEFT JOIN users u ON u.id = a.created_by
		LEFT JOIN employees e ON e.user_id = a.created_by
		WHERE a.is_archived = $3
		  AND (a.category = ANY($1::text[])
			OR (a.category = 'SECTOR' AND lower(a.target_dept) = ANY($2::text[])))`)
	args := []any{categories, sectors, q.Archived, q.ViewerID}
	if q.Category != nil {
		args = append(args, string(*q.Category))
		fmt.Fprintf(&sb, "\n\t\t  AND a.category = $%d", len(args))
	}
	sb.WriteString("\n\t\tORDER BY a.created_at DESC, a.id")

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка объявлений: %w", err)
	}
	defer rows.Close()

	views := []model.AnnouncementView{}
	for rows.Next() {
		var v model.AnnouncementView
		var category string
		if err := rows.Scan(
			&v.ID, &v.Title, &v.Content, &category, &v.TargetDept,
			&v.AttachmentURL, &v.AttachmentName, &v.IsArchived, &v.CreatedAt, &v.CreatedBy,
			&v.AuthorName, &v.AckCount, &v.HasAcknowledged,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования объявления: %w", err)
		}
		v.Category = model.Category(category)
		views = append(views, v)
	}
	return views, rows.Err()
}

func (r *announcementRepo) SetArchived(ctx context.Context, id string, archived bool) error {
	query := `UPDATE announcements SET is_archived = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, id, archived)
	if err != nil {
		return fmt.Errorf("ошибка изменения архива объявления: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *announcementRepo) Acknowledge(ctx context.Context, announcementID, userID string) (bool, error) {
	query := `
		INSERT INTO announcement_acknowledgments (announcement_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (announcement_id, user_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, announcementID, userID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("ошибка отметки ознакомления: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *announcementRepo) Acknowledgments(ctx context.Context, announcementID string) ([]model.Acknowledgment, error) {
	query := `
		SELECT k.user_id, COALESCE(e.full_name, u.username), COALESCE(e.department, ''), k.acknowledged_at
		FROM announcement_acknowledgments k
		JOIN users u ON u.id = k.user_id
		LEFT JOIN employees e ON e.user_id = k.user_id
		WHERE k.announcement_id = $1
		ORDER BY k.acknowledged_at, u.username`

	rows, err := r.db.Query(ctx, query, announcementID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения отметок ознакомления: %w", err)
	}
	defer rows.Close()

	acks := []model.Acknowledgment{}
	for rows.Next() {
		var a model.Acknowledgment
		if err := rows.Scan(&a.UserID, &a.FullName, &a.Department, &a.AcknowledgedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования отметки: %w", err)
		}
		acks = append(acks, a)
	}
	return acks, rows.Err()
}

func (r *announcementRepo) AckCount(ctx context.Context, announcementID string) (int, error) {
	query := `SELECT count(*) FROM announcement_acknowledgments WHERE announcement_id = $1`
	var n int
	if err := r.db.QueryRow(ctx, query, announcementID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта отметок: %w", err)
	}
	return n, nil
}
