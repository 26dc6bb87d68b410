// directory_sync.go — периодическая массовая синхронизация с каталогом.
//
// DirectorySyncService запускает фоновую горутину с ticker
// (PORTAL_DIRECTORY_SYNC_INTERVAL), которая сверяет всех пользователей
// каталога с БД. Тот же проход запускается вручную через POST /employees/sync.
//
// Синхронизация:
//  1. Получить учётные записи пользователей из каталога
//  2. Нормализовать каждую запись (ошибки нормализации — в Failed)
//  3. Сверить с users/employees (ошибка одной записи не прерывает проход)
//  4. Зафиксировать время и объём в sync_state
//
// Prometheus-метрики:
//   - portal_directory_sync_duration_seconds — длительность синхронизации
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/identity"
	"github.com/zerocore/portal/internal/domain/model"
	"github.com/zerocore/portal/internal/repository"
)

var directorySyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "portal_directory_sync_duration_seconds",
	Help:    "Длительность массовой синхронизации с каталогом",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
})

// DirectorySyncService — фоновая синхронизация пользователей каталога.
type DirectorySyncService struct {
	dir        directory.Directory
	normalizer *identity.Normalizer
	reconciler *Reconciler
	syncState  repository.SyncStateRepository
	interval   time.Duration
	logger     *slog.Logger

	running sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDirectorySyncService создаёт сервис синхронизации.
func NewDirectorySyncService(
	dir directory.Directory,
	normalizer *identity.Normalizer,
	reconciler *Reconciler,
	syncState repository.SyncStateRepository,
	interval time.Duration,
	logger *slog.Logger,
) *DirectorySyncService {
	return &DirectorySyncService{
		dir:        dir,
		normalizer: normalizer,
		reconciler: reconciler,
		syncState:  syncState,
		interval:   interval,
		logger:     logger.With(slog.String("component", "directory_sync")),
	}
}

// Start запускает фоновую горутину. Нулевой интервал — без периодической
// синхронизации.
func (s *DirectorySyncService) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Периодическая синхронизация с каталогом отключена")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Периодическая синхронизация с каталогом запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Периодическая синхронизация с каталогом остановлена")
				return
			case <-ticker.C:
				result, err := s.SyncNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка периодической синхронизации с каталогом",
						slog.String("error", err.Error()),
					)
					continue
				}
				s.logger.Info("Периодическая синхронизация с каталогом завершена",
					slog.Int("total_directory", result.TotalDirectory),
					slog.Int("processed", result.Processed),
					slog.Int("failed", result.Failed),
				)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *DirectorySyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SyncNow выполняет синхронизацию немедленно. Параллельный запуск
// отклоняется с ErrConflict.
func (s *DirectorySyncService) SyncNow(ctx context.Context) (*model.DirectorySyncResult, error) {
	if !s.running.TryLock() {
		return nil, fmt.Errorf("%w: синхронизация уже выполняется", ErrConflict)
	}
	defer s.running.Unlock()

	start := time.Now()
	defer func() { directorySyncDuration.Observe(time.Since(start).Seconds()) }()

	if !s.dir.Configured() {
		return nil, fmt.Errorf("получение пользователей каталога: %w", directory.ErrNotConfigured)
	}
	entries, err := s.dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение пользователей каталога: %w", err)
	}

	var (
		ids  = make([]model.DirectoryIdentity, 0, len(entries))
		errs *multierror.Error
	)
	for _, e := range entries {
		id, err := s.normalizer.Normalize(e)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", e.DN, err))
			continue
		}
		ids = append(ids, id)
	}

	processed, err := s.reconciler.BulkReconcile(ctx, ids)
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	result := &model.DirectorySyncResult{
		TotalDirectory: len(entries),
		Processed:      processed,
		Failed:         len(entries) - processed,
		SyncedAt:       time.Now().UTC(),
	}
	if errs != nil {
		s.logger.Warn("Часть учётных записей не синхронизирована",
			slog.Int("failed", result.Failed),
			slog.String("error", errs.Error()),
		)
	}

	if err := s.syncState.UpdateDirectorySync(ctx, result.SyncedAt, result.Processed); err != nil {
		s.logger.Warn("Ошибка обновления sync_state",
			slog.String("error", err.Error()),
		)
	}
	return result, nil
}
