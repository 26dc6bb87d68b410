package service

import (
	"context"
	"errors"
	"testing"

	"github.com/zerocore/portal/internal/directory"
	"github.com/zerocore/portal/internal/domain/identity"
)

func newDirectorySync() (*DirectorySyncService, *directory.Memory, *memDB, *memSyncState) {
	dir := testDirectory()
	db := newMemDB()
	state := &memSyncState{}
	logger := testLogger()
	svc := NewDirectorySyncService(dir, identity.NewNormalizer(nil), NewReconciler(db, logger), state, 0, logger)
	return svc, dir, db, state
}

// TestSyncNow проверяет массовую сверку и запись sync_state.
func TestSyncNow(t *testing.T) {
	svc, _, db, state := newDirectorySync()

	res, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.TotalDirectory != 3 || res.Processed != 3 || res.Failed != 0 {
		t.Errorf("результат: %+v", res)
	}
	if len(db.users) != 3 {
		t.Errorf("ожидалось 3 пользователя в БД, получено %d", len(db.users))
	}
	if state.at == nil || state.count != 3 {
		t.Errorf("sync_state не обновлён: %v %d", state.at, state.count)
	}

	inactive := 0
	for _, u := range db.users {
		if !u.IsActive {
			inactive++
		}
	}
	if inactive != 1 {
		t.Errorf("ожидался один неактивный пользователь, получено %d", inactive)
	}
}

// TestSyncNow_DirectoryErrors проверяет отказ без служебной записи и при недоступности.
func TestSyncNow_DirectoryErrors(t *testing.T) {
	svc, dir, _, state := newDirectorySync()

	dir.SetConfigured(false)
	if _, err := svc.SyncNow(context.Background()); !errors.Is(err, directory.ErrNotConfigured) {
		t.Errorf("ожидалась ErrNotConfigured, получено %v", err)
	}

	dir.SetConfigured(true)
	dir.SetUnavailable(true)
	if _, err := svc.SyncNow(context.Background()); !errors.Is(err, directory.ErrUnavailable) {
		t.Errorf("ожидалась ErrUnavailable, получено %v", err)
	}
	if state.at != nil {
		t.Error("sync_state не должен обновляться при ошибке каталога")
	}
}

// TestSyncNow_Concurrent проверяет отказ параллельного запуска.
func TestSyncNow_Concurrent(t *testing.T) {
	svc, _, _, _ := newDirectorySync()

	svc.running.Lock()
	defer svc.running.Unlock()
	if _, err := svc.SyncNow(context.Background()); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получено %v", err)
	}
}

// TestStartStop_Disabled проверяет, что нулевой интервал не запускает горутину.
func TestStartStop_Disabled(t *testing.T) {
	svc, _, _, _ := newDirectorySync()
	svc.Start(context.Background())
	svc.Stop()
}
