package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store владеет пулом подключений к PostgreSQL.
// Пул создаётся лениво при первой операции; неудачная попытка не кешируется.
type Store struct {
	dsn       string
	opTimeout time.Duration

	mu sync.Mutex
	db *sql.DB
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithOperationTimeout ограничивает длительность одного обращения к базе.
func WithOperationTimeout(timeout time.Duration) StoreOption {
	return func(s *Store) {
		if timeout > 0 {
			s.opTimeout = timeout
		}
	}
}

// NewStore создаёт хранилище без подключения к базе.
func NewStore(dsn string, opts ...StoreOption) *Store {
	s := &Store{dsn: dsn, opTimeout: defaultConnTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open создаёт хранилище и сразу проверяет доступность базы.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	s := NewStore(dsn, opts...)
	if _, err := s.handle(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB возвращает raw SQL DB, если пул уже открыт.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return errStoreNotInitialized
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return unavailable("ping postgres", err)
	}
	return nil
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул, если он был открыт.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	if s == nil {
		return nil, errStoreNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.dsn == "" {
		return nil, fmt.Errorf("%w: DATABASE_URL is not configured", domain.ErrStorageUnavailable)
	}

	db, err := sql.Open("pgx", s.dsn)
	if err != nil {
		return nil, unavailable("open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping postgres", err)
	}

	s.db = db
	return db, nil
}

// acquire выдаёт выделенное подключение на одну операцию вместе с контекстом,
// ограниченным opTimeout. release обязательно вызывать.
func (s *Store) acquire(ctx context.Context) (conn *sql.Conn, opCtx context.Context, release func(), err error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	conn, err = db.Conn(opCtx)
	if err != nil {
		cancel()
		return nil, nil, nil, unavailable("acquire postgres connection", err)
	}

	return conn, opCtx, func() {
		_ = conn.Close()
		cancel()
	}, nil
}

// unavailable помечает ошибки транспорта и контекста как ErrStorageUnavailable,
// ошибки самого запроса оставляет как есть.
func unavailable(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

// isUniqueViolation сообщает о нарушении уникальности; пустой constraint совпадает с любым.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}
