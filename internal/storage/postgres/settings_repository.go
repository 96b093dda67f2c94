package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type settingsRepository struct {
	store *Store
}

// NewSettingsRepository создаёт PostgreSQL-реализацию SettingsRepository
// поверх однострочной таблицы store_settings.
func NewSettingsRepository(store *Store) domain.SettingsRepository {
	return &settingsRepository{store: store}
}

func (r *settingsRepository) Get(ctx context.Context) (domain.StoreSettings, error) {
	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	defer release()

	var isOpen bool
	err = conn.QueryRowContext(opCtx, `SELECT is_open FROM store_settings WHERE id = TRUE`).Scan(&isOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DefaultStoreSettings(), nil
		}
		return domain.StoreSettings{}, unavailable("select store settings", err)
	}
	return domain.StoreSettings{IsOpen: isOpen}, nil
}

func (r *settingsRepository) Update(ctx context.Context, settings domain.StoreSettings) (domain.StoreSettings, error) {
	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	defer release()

	var isOpen bool
	err = conn.QueryRowContext(opCtx, `
		INSERT INTO store_settings (id, is_open, updated_at)
		VALUES (TRUE, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET is_open = EXCLUDED.is_open,
		    updated_at = EXCLUDED.updated_at
		RETURNING is_open
	`, settings.IsOpen).Scan(&isOpen)
	if err != nil {
		return domain.StoreSettings{}, unavailable("upsert store settings", err)
	}
	return domain.StoreSettings{IsOpen: isOpen}, nil
}

type menuRepository struct {
	store *Store
}

// NewMenuRepository создаёт PostgreSQL-реализацию MenuRepository.
func NewMenuRepository(store *Store) domain.MenuRepository {
	return &menuRepository{store: store}
}

func (r *menuRepository) Get(ctx context.Context) ([]domain.MenuItem, error) {
	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(opCtx, `
		SELECT name, description, price
		FROM menu_items
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, unavailable("select menu", err)
	}
	defer rows.Close()

	items := make([]domain.MenuItem, 0)
	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.Name, &item.Description, &item.Price); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate menu rows", err)
	}
	return items, nil
}

// Replace целиком перезаписывает меню в одной транзакции.
func (r *menuRepository) Replace(ctx context.Context, items []domain.MenuItem) ([]domain.MenuItem, error) {
	sanitized := domain.SanitizeMenu(items)

	conn, opCtx, release, err := r.store.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := conn.BeginTx(opCtx, nil)
	if err != nil {
		return nil, unavailable("begin menu tx", err)
	}

	if _, err := tx.ExecContext(opCtx, `DELETE FROM menu_items`); err != nil {
		_ = tx.Rollback()
		return nil, unavailable("clear menu", err)
	}
	for i, item := range sanitized {
		if _, err := tx.ExecContext(opCtx, `
			INSERT INTO menu_items (position, name, description, price)
			VALUES ($1,$2,$3,$4)
		`, i, item.Name, item.Description, item.Price); err != nil {
			_ = tx.Rollback()
			return nil, unavailable("insert menu item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("commit menu", err)
	}
	return sanitized, nil
}

var (
	_ domain.SettingsRepository = (*settingsRepository)(nil)
	_ domain.MenuRepository     = (*menuRepository)(nil)
)
