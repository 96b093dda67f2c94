package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type settingsRepositoryInMemory struct {
	mu       sync.RWMutex
	settings domain.StoreSettings
}

// NewSettingsRepository создаёт in-memory хранилище настроек; магазин открыт по умолчанию.
func NewSettingsRepository() domain.SettingsRepository {
	return &settingsRepositoryInMemory{settings: domain.DefaultStoreSettings()}
}

func (r *settingsRepositoryInMemory) Get(ctx context.Context) (domain.StoreSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoreSettings{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings, nil
}

func (r *settingsRepositoryInMemory) Update(ctx context.Context, settings domain.StoreSettings) (domain.StoreSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoreSettings{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = settings
	return settings, nil
}

type menuRepositoryInMemory struct {
	mu    sync.RWMutex
	items []domain.MenuItem
}

// NewMenuRepository создаёт in-memory хранилище меню с начальными позициями.
func NewMenuRepository(initial ...domain.MenuItem) domain.MenuRepository {
	return &menuRepositoryInMemory{items: domain.SanitizeMenu(initial)}
}

func (r *menuRepositoryInMemory) Get(ctx context.Context) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.MenuItem(nil), r.items...), nil
}

func (r *menuRepositoryInMemory) Replace(ctx context.Context, items []domain.MenuItem) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sanitized := domain.SanitizeMenu(items)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = sanitized
	return append([]domain.MenuItem(nil), sanitized...), nil
}

var (
	_ domain.SettingsRepository = (*settingsRepositoryInMemory)(nil)
	_ domain.MenuRepository     = (*menuRepositoryInMemory)(nil)
)
