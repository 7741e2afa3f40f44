package prefs

import (
	"context"
	"sync"

	"dealstream/internal/domain"
)

// MemoryPrefs хранит настройки в памяти. Используется, когда Redis не
// сконфигурирован: настройки живут до перезапуска процесса.
type MemoryPrefs struct {
	mu    sync.Mutex
	items map[string]domain.Prefs
}

// NewMemory создаёт хранилище в памяти.
func NewMemory() *MemoryPrefs {
	return &MemoryPrefs{items: make(map[string]domain.Prefs)}
}

// Load возвращает сохранённые настройки или значения по умолчанию.
func (m *MemoryPrefs) Load(ctx context.Context, userID string) (domain.Prefs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prefs, ok := m.items[userID]; ok {
		return prefs, nil
	}
	return domain.DefaultPrefs(), nil
}

// Save записывает настройки пользователя.
func (m *MemoryPrefs) Save(ctx context.Context, userID string, prefs domain.Prefs) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[userID] = prefs
	return nil
}

var _ domain.PrefsRepo = (*MemoryPrefs)(nil)
