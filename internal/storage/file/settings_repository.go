package file

import (
	"context"

	"github.com/vladislavdragonenkov/dormside/internal/domain"
)

type settingsDocument struct {
	IsOpen bool `json:"isOpen"`
}

type settingsRepository struct {
	store *Store
}

// NewSettingsRepository создаёт файловое хранилище настроек (settings.json).
func NewSettingsRepository(store *Store) domain.SettingsRepository {
	return &settingsRepository{store: store}
}

func (r *settingsRepository) Get(ctx context.Context) (domain.StoreSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoreSettings{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var doc settingsDocument
	found, err := r.store.readJSON(settingsFile, &doc)
	if err != nil {
		return domain.StoreSettings{}, err
	}
	if !found {
		return domain.DefaultStoreSettings(), nil
	}
	return domain.StoreSettings{IsOpen: doc.IsOpen}, nil
}

func (r *settingsRepository) Update(ctx context.Context, settings domain.StoreSettings) (domain.StoreSettings, error) {
	if err := ctx.Err(); err != nil {
		return domain.StoreSettings{}, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.writeJSON(settingsFile, settingsDocument{IsOpen: settings.IsOpen}); err != nil {
		return domain.StoreSettings{}, err
	}
	return settings, nil
}

type menuItemRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
}

type menuDocument struct {
	Items []menuItemRecord `json:"items"`
}

type menuRepository struct {
	store *Store
}

// NewMenuRepository создаёт файловое хранилище меню (menu.json).
func NewMenuRepository(store *Store) domain.MenuRepository {
	return &menuRepository{store: store}
}

func (r *menuRepository) Get(ctx context.Context) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var doc menuDocument
	if _, err := r.store.readJSON(menuFile, &doc); err != nil {
		return nil, err
	}

	items := make([]domain.MenuItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.MenuItem{Name: item.Name, Description: item.Description, Price: item.Price})
	}
	return items, nil
}

func (r *menuRepository) Replace(ctx context.Context, items []domain.MenuItem) ([]domain.MenuItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sanitized := domain.SanitizeMenu(items)
	doc := menuDocument{Items: make([]menuItemRecord, 0, len(sanitized))}
	for _, item := range sanitized {
		doc.Items = append(doc.Items, menuItemRecord{Name: item.Name, Description: item.Description, Price: item.Price})
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if err := r.store.writeJSON(menuFile, doc); err != nil {
		return nil, err
	}
	return sanitized, nil
}

var (
	_ domain.SettingsRepository = (*settingsRepository)(nil)
	_ domain.MenuRepository     = (*menuRepository)(nil)
)
