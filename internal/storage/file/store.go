package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const (
	ordersFile   = "orders.json"
	settingsFile = "settings.json"
	menuFile     = "menu.json"
)

// Store хранит данные витрины в JSON-файлах одного каталога.
// Все операции сериализуются одним мьютексом процесса.
type Store struct {
	dir      string
	readOnly bool
	now      func() time.Time

	mu sync.Mutex
}

// Open подготавливает каталог данных. В режиме readOnly (serverless-окружение без
// записываемого диска) чтение работает, а любая запись возвращает ErrStorageUnavailable.
func Open(dir string, readOnly bool) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: data dir is required")
	}
	if !readOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return &Store{dir: dir, readOnly: readOnly, now: time.Now}, nil
}

// Dir возвращает каталог данных.
func (s *Store) Dir() string {
	return s.dir
}

// ReadOnly сообщает, запрещена ли запись.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Ping проверяет, что каталог данных доступен.
func (s *Store) Ping() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrStorageUnavailable, s.dir)
	}
	return nil
}

// readJSON читает документ; отсутствующий файл оставляет dst нетронутым и возвращает false.
func (s *Store) readJSON(name string, dst any) (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: read %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	return true, nil
}

// writeJSON атомарно заменяет документ через временный файл и rename.
func (s *Store) writeJSON(name string, src any) error {
	if s.readOnly {
		return fmt.Errorf("%w: %s is read-only in this deployment, configure DATABASE_URL or DynamoDB", domain.ErrStorageUnavailable, name)
	}

	payload, err := json.MarshalIndent(src, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("%w: replace %s: %v", domain.ErrStorageUnavailable, name, err)
	}
	return nil
}
