// Пакет filestore — хранение вложений объявлений на диске.
// Запись потоковая с подсчётом SHA-256 на лету: temp файл → fsync → rename.
// Имя хранения — <uuid><ext>, исходное имя файла хранится отдельно в БД.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix — префикс URL, по которому отдаются вложения.
const URLPrefix = "/uploads/"

var (
	// ErrTooLarge — вложение превышает допустимый размер.
	ErrTooLarge = errors.New("файл превышает допустимый размер")
	// ErrNotFound — вложение не найдено.
	ErrNotFound = errors.New("файл не найден")
	// ErrInvalidName — имя не является именем хранения.
	ErrInvalidName = errors.New("недопустимое имя файла")
)

// FileStore — вложения в директории PORTAL_UPLOAD_DIR.
type FileStore struct {
	dir      string
	maxBytes int64
}

// SaveResult — результат сохранения вложения.
type SaveResult struct {
	// Name — имя хранения <uuid><ext>
	Name string
	// URL — путь для скачивания
	URL string
	// OriginalName — исходное имя файла без пути
	OriginalName string
	// Size — размер в байтах
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// New создаёт FileStore и директорию при её отсутствии.
// maxBytes <= 0 — без ограничения размера.
func New(dir string, maxBytes int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию вложений %s: %w", dir, err)
	}
	return &FileStore{dir: dir, maxBytes: maxBytes}, nil
}

// Dir возвращает директорию вложений.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// Save записывает вложение. При ошибке временный файл удаляется.
func (fs *FileStore) Save(r io.Reader, originalName string) (*SaveResult, error) {
	name := uuid.New().String() + safeExt(originalName)
	fullPath := filepath.Join(fs.dir, name)
	tmpPath := fullPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if fs.maxBytes > 0 {
		r = io.LimitReader(r, fs.maxBytes+1)
	}
	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(r, hasher))
	if err == nil && fs.maxBytes > 0 && size > fs.maxBytes {
		err = ErrTooLarge
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		if errors.Is(err, ErrTooLarge) {
			return nil, fmt.Errorf("%w: больше %d байт", ErrTooLarge, fs.maxBytes)
		}
		return nil, fmt.Errorf("ошибка записи вложения: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &SaveResult{
		Name:         name,
		URL:          URLPrefix + name,
		OriginalName: filepath.Base(filepath.Clean("/" + strings.ReplaceAll(originalName, `\`, "/"))),
		Size:         size,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает вложение по имени хранения. Вызывающий закрывает файл.
func (fs *FileStore) Open(name string) (*os.File, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	f, err := os.Open(filepath.Join(fs.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия вложения %s: %w", name, err)
	}
	return f, nil
}

// Delete удаляет вложение. Отсутствие файла ошибкой не считается.
func (fs *FileStore) Delete(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	err := os.Remove(filepath.Join(fs.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления вложения %s: %w", name, err)
	}
	return nil
}

// ValidName проверяет, что имя имеет вид <uuid><ext>.
func ValidName(name string) bool {
	ext := filepath.Ext(name)
	if ext != safeExt(name) {
		return false
	}
	base := strings.TrimSuffix(name, ext)
	if len(base) != 36 {
		return false
	}
	_, err := uuid.Parse(base)
	return err == nil
}

// safeExt возвращает расширение в нижнем регистре из букв и цифр
// (не длиннее 10 символов) или "".
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 11 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
