package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Схема витрины описывается парами NNNN_name.up.sql / NNNN_name.down.sql.
const (
	migrationsDir = "sql/migrations"
	// "dorm" в ASCII: один ключ advisory lock на все экземпляры витрины.
	schemaLockKey      = int64(0x646f726d)
	schemaLockTimeout  = 5 * time.Second
	schemaStatusQuery  = 5 * time.Second
	schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// SchemaStatus — состояние схемы: последняя версия, число применённых и ещё не применённые миграции.
type SchemaStatus struct {
	Version int64
	Applied int
	Pending []string
}

type schemaMigration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m schemaMigration) label() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// schemaPlan — все известные миграции по возрастанию версии.
type schemaPlan []schemaMigration

// forward возвращает неприменённые миграции; steps=0 — все.
func (p schemaPlan) forward(applied map[int64]bool, steps int) []schemaMigration {
	var out []schemaMigration
	for _, m := range p {
		if applied[m.version] {
			continue
		}
		out = append(out, m)
		if steps > 0 && len(out) == steps {
			break
		}
	}
	return out
}

// backward возвращает steps последних применённых миграций, начиная с самой новой.
func (p schemaPlan) backward(applied []int64, steps int) ([]schemaMigration, error) {
	byVersion := make(map[int64]schemaMigration, len(p))
	for _, m := range p {
		byVersion[m.version] = m
	}

	newest := append([]int64(nil), applied...)
	sort.Slice(newest, func(i, j int) bool { return newest[i] > newest[j] })
	if steps > 0 && len(newest) > steps {
		newest = newest[:steps]
	}

	out := make([]schemaMigration, 0, len(newest))
	for _, version := range newest {
		m, ok := byVersion[version]
		if !ok {
			return nil, fmt.Errorf("cannot roll back unknown schema version %d", version)
		}
		out = append(out, m)
	}
	return out, nil
}

// MigrateUp применяет up-миграции; steps=0 — все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		versions, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		applied := make(map[int64]bool, len(versions))
		for _, v := range versions {
			applied[v] = true
		}

		for _, m := range plan.forward(applied, steps) {
			err := inMigrationTx(ctx, conn, m, "up", func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, m.up); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
					m.version, m.name)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrateDown откатывает steps последних миграций; steps<=0 — одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withSchemaLock(ctx, func(conn *sql.Conn, plan schemaPlan) error {
		versions, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		rollback, err := plan.backward(versions, steps)
		if err != nil {
			return err
		}

		for _, m := range rollback {
			err := inMigrationTx(ctx, conn, m, "down", func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, m.down); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.version)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// MigrationStatus сообщает, какие миграции применены и какие ещё ждут.
func (s *Store) MigrationStatus(ctx context.Context) (SchemaStatus, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return SchemaStatus{}, err
	}
	plan, err := loadSchemaPlan(migrationsFS)
	if err != nil {
		return SchemaStatus{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, schemaStatusQuery)
	defer cancel()

	if _, err := db.ExecContext(queryCtx, schemaVersionTable); err != nil {
		return SchemaStatus{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	versions, err := appliedVersions(queryCtx, db)
	if err != nil {
		return SchemaStatus{}, err
	}
	return summarize(plan, versions), nil
}

func summarize(plan schemaPlan, versions []int64) SchemaStatus {
	status := SchemaStatus{Applied: len(versions)}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
		if v > status.Version {
			status.Version = v
		}
	}
	for _, m := range plan.forward(applied, 0) {
		status.Pending = append(status.Pending, m.label())
	}
	return status
}

// withSchemaLock выполняет fn на выделенном подключении под advisory lock.
func (s *Store) withSchemaLock(ctx context.Context, fn func(conn *sql.Conn, plan schemaPlan) error) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	plan, err := loadSchemaPlan(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, schemaLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return fn(conn, plan)
}

func inMigrationTx(ctx context.Context, conn *sql.Conn, m schemaMigration, direction string, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s %s: %w", direction, m.label(), err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s %s: %w", direction, m.label(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s %s: %w", direction, m.label(), err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func appliedVersions(ctx context.Context, q queryer) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return versions, nil
}

// parseMigrationFile разбирает имя вида 0002_store_settings.up.sql.
func parseMigrationFile(base string) (version int64, name, direction string, err error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", fmt.Errorf("migration %s has no direction", base)
	}
	stem, direction = stem[:dot], stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", fmt.Errorf("migration %s: direction must be up or down", base)
	}

	rawVersion, name, ok := strings.Cut(stem, "_")
	if !ok || name == "" {
		return 0, "", "", fmt.Errorf("invalid migration file name: %s", base)
	}
	version, err = strconv.ParseInt(rawVersion, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", fmt.Errorf("invalid migration version in %s", base)
	}
	return version, name, direction, nil
}

func loadSchemaPlan(fsys fs.FS) (schemaPlan, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*schemaMigration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, direction, err := parseMigrationFile(entry.Name())
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &schemaMigration{version: version, name: name}
			byVersion[version] = m
		} else if m.name != name {
			return nil, fmt.Errorf("schema version %d has two names: %s and %s", version, m.name, name)
		}

		target := &m.up
		if direction == "down" {
			target = &m.down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	plan := make(schemaPlan, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.label())
		}
		plan = append(plan, *m)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].version < plan[j].version })
	return plan, nil
}
