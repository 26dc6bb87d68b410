package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/zerocore/portal/internal/domain/model"
)

// SyncStateRepository — интерфейс для таблицы sync_state (одна строка).
type SyncStateRepository interface {
	// Get возвращает текущее состояние синхронизации.
	Get(ctx context.Context) (*model.SyncState, error)
	// UpdateDirectorySync фиксирует время и объём последней синхронизации с каталогом.
	UpdateDirectorySync(ctx context.Context, t time.Time, count int) error
}

// syncStateRepo — реализация SyncStateRepository.
type syncStateRepo struct {
	db DBTX
}

// NewSyncStateRepository создаёт репозиторий состояния синхронизации.
func NewSyncStateRepository(db DBTX) SyncStateRepository {
	return &syncStateRepo{db: db}
}

func (r *syncStateRepo) Get(ctx context.Context) (*model.SyncState, error) {
	query := `
		SELECT id, last_directory_sync_at, last_directory_sync_count, created_at, updated_at
		FROM sync_state
		WHERE id = 1`

	s := &model.SyncState{}
	err := r.db.QueryRow(ctx, query).Scan(
		&s.ID, &s.LastDirectorySyncAt, &s.LastDirectorySyncCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	return s, nil
}

func (r *syncStateRepo) UpdateDirectorySync(ctx context.Context, t time.Time, count int) error {
	query := `
		UPDATE sync_state
		SET last_directory_sync_at = $1, last_directory_sync_count = $2
		WHERE id = 1`
	_, err := r.db.Exec(ctx, query, t, count)
	if err != nil {
		return fmt.Errorf("ошибка обновления last_directory_sync_at: %w", err)
	}
	return nil
}
