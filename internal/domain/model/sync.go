package model

import "time"

// SyncState — состояние синхронизации (одна строка в БД).
// Хранится в таблице sync_state (id = 1, всегда одна запись).
type SyncState struct {
	// ID — всегда 1
	ID int
	// LastDirectorySyncAt — время последней массовой синхронизации с каталогом
	LastDirectorySyncAt *time.Time
	// LastDirectorySyncCount — сколько учётных записей обработано
	LastDirectorySyncCount int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DirectorySyncResult — результат массовой синхронизации с каталогом.
type DirectorySyncResult struct {
	// TotalDirectory — учётных записей в каталоге
	TotalDirectory int
	// Processed — успешно сверено
	Processed int
	// Failed — ошибок сверки
	Failed int
	// SyncedAt — время завершения
	SyncedAt time.Time
}
