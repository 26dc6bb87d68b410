// announcements.go — бизнес-логика доски объявлений.
//
// Решения о доступе принимает пакет access; сервис загружает данные,
// применяет решение и сохраняет результат.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zerocore/portal/internal/domain/access"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/filestore"
	"github.com/zerocore/portal/internal/repository"
)

// AttachmentSink — хранилище вложений.
type AttachmentSink interface {
	Save(r io.Reader, originalName string) (*filestore.SaveResult, error)
	Delete(name string) error
}

// Attachment — загружаемый файл.
type Attachment struct {
	Name   string
	Reader io.Reader
}

// NewAnnouncement — данные для публикации.
type NewAnnouncement struct {
	Title      string
	Content    string
	Category   model.Category
	TargetDept *string
	Attachment *Attachment
}

// AnnouncementService — бизнес-логика объявлений.
type AnnouncementService struct {
	announcements repository.AnnouncementRepository
	employees     repository.EmployeeRepository
	files         AttachmentSink
	now           func() time.Time
	logger        *slog.Logger
}

// NewAnnouncementService создаёт сервис объявлений.
func NewAnnouncementService(
	announcements repository.AnnouncementRepository,
	employees repository.EmployeeRepository,
	files AttachmentSink,
	logger *slog.Logger,
) *AnnouncementService {
	return &AnnouncementService{
		announcements: announcements,
		employees:     employees,
		files:         files,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "announcements")),
	}
}

// List возвращает видимые объявления. Запрос архива без права на него
// молча заменяется списком действующих.
func (s *AnnouncementService) List(ctx context.Context, p access.Principal, category *model.Category, showArchived bool) ([]model.AnnouncementView, error) {
	q := access.ListScope(p, showArchived)
	q.Category = category
	return s.announcements.List(ctx, q)
}

// Create публикует объявление от имени пользователя.
func (s *AnnouncementService) Create(ctx context.Context, p access.Principal, in NewAnnouncement) (*model.Announcement, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if in.Title == "" || in.Content == "" {
		return nil, fmt.Errorf("%w: заголовок и текст обязательны", ErrValidation)
	}
	if _, err := model.ParseCategory(string(in.Category)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.TargetDept != nil {
		in.TargetDept = optionalString(*in.TargetDept)
	}

	if err := access.CanWrite(p, in.Category, in.TargetDept); err != nil {
		if errors.Is(err, access.ErrTargetRequired) || errors.Is(err, access.ErrTargetForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		s.logger.Warn("Публикация отклонена",
			slog.String("username", p.Username),
			slog.String("category", string(in.Category)),
			slog.String("reason", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}

	a := &model.Announcement{
		ID:         uuid.New().String(),
		Title:      in.Title,
		Content:    in.Content,
		Category:   in.Category,
		TargetDept: in.TargetDept,
		CreatedAt:  s.now(),
		CreatedBy:  &p.UserID,
	}

	var stored *filestore.SaveResult
	if in.Attachment != nil {
		res, err := s.files.Save(in.Attachment.Reader, in.Attachment.Name)
		if err != nil {
			if errors.Is(err, filestore.ErrTooLarge) {
				return nil, fmt.Errorf("%w: %w", ErrValidation, err)
			}
			return nil, fmt.Errorf("сохранение вложения: %w", err)
		}
		stored = res
		a.AttachmentURL = &res.URL
		a.AttachmentName = &res.OriginalName
		s.logger.Info("Вложение сохранено",
			slog.String("name", res.Name),
			slog.Int64("size", res.Size),
			slog.String("sha256", res.Checksum),
		)
	}

	if err := s.announcements.Create(ctx, a); err != nil {
		if stored != nil {
			if derr := s.files.Delete(stored.Name); derr != nil {
				s.logger.Warn("Не удалось удалить вложение после ошибки",
					slog.String("name", stored.Name),
					slog.String("error", derr.Error()),
				)
			}
		}
		return nil, err
	}

	s.logger.Info("Объявление опубликовано",
		slog.String("id", a.ID),
		slog.String("category", string(a.Category)),
		slog.String("username", p.Username),
	)
	return a, nil
}

// Acknowledge отмечает ознакомление. Повторная отметка не ошибка.
// Отметить можно только видимое пользователю объявление. Невидимое
// (чужой сектор, недоступная категория, архив без права на архив)
// отклоняется как ErrNotFound (404) и неотличимо от отсутствующего.
func (s *AnnouncementService) Acknowledge(ctx context.Context, p access.Principal, id string) error {
	a, err := s.readable(ctx, p, id)
	if err != nil {
		return err
	}
	created, err := s.announcements.Acknowledge(ctx, a.ID, p.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: объявление %s", ErrNotFound, id)
		}
		return err
	}
	if created {
		s.logger.Debug("Ознакомление отмечено",
			slog.String("id", a.ID),
			slog.String("username", p.Username),
		)
	}
	return nil
}

// SetArchived архивирует или возвращает объявление из архива.
func (s *AnnouncementService) SetArchived(ctx context.Context, p access.Principal, id string, archived bool) error {
	a, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if err := access.CanArchive(p, a); err != nil {
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	if err := s.announcements.SetArchived(ctx, a.ID, archived); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: объявление %s", ErrNotFound, id)
		}
		return err
	}

	s.logger.Info("Флаг архива изменён",
		slog.String("id", a.ID),
		slog.Bool("archived", archived),
		slog.String("username", p.Username),
	)
	return nil
}

// Logs возвращает журнал ознакомления: ознакомившихся и ожидающих.
func (s *AnnouncementService) Logs(ctx context.Context, p access.Principal, id string) (*model.AnnouncementLogs, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.CanViewLogs(p, a); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}

	acked, err := s.announcements.Acknowledgments(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	roster, err := s.employees.ActiveRoster(ctx)
	if err != nil {
		return nil, err
	}
	return &model.AnnouncementLogs{
		Acknowledged: acked,
		Pending:      access.PendingRoster(a, roster, acked),
	}, nil
}

// readable загружает объявление и проверяет право чтения. Невидимое
// объявление неотличимо от отсутствующего.
func (s *AnnouncementService) readable(ctx context.Context, p access.Principal, id string) (*model.Announcement, error) {
	a, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(p, a, a.IsArchived) {
		return nil, fmt.Errorf("%w: объявление %s", ErrNotFound, id)
	}
	return a, nil
}

func (s *AnnouncementService) get(ctx context.Context, id string) (*model.Announcement, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: объявление %s", ErrNotFound, id)
	}
	a, err := s.announcements.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: объявление %s", ErrNotFound, id)
		}
		return nil, err
	}
	return a, nil
}
