package domain

import "strings"

// StoreSettings — настройки витрины.
type StoreSettings struct {
	IsOpen bool
}

// DefaultStoreSettings — магазин открыт, пока не сохранено иное.
func DefaultStoreSettings() StoreSettings {
	return StoreSettings{IsOpen: true}
}

// MenuItem — позиция меню.
type MenuItem struct {
	Name        string
	Description string
	Price       string
}

// SanitizeMenu обрезает пробелы и отбрасывает позиции с пустыми полями.
func SanitizeMenu(items []MenuItem) []MenuItem {
	result := make([]MenuItem, 0, len(items))
	for _, item := range items {
		item.Name = strings.TrimSpace(item.Name)
		item.Description = strings.TrimSpace(item.Description)
		item.Price = strings.TrimSpace(item.Price)
		if item.Name == "" || item.Description == "" || item.Price == "" {
			continue
		}
		result = append(result, item)
	}
	return result
}
