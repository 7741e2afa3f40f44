package store

import (
	"sort"
	"sync"

	"dealstream/internal/domain"
)

// Order задаёт направление выдачи List.
type Order int

const (
	// OldestFirst — хронологический порядок чата.
	OldestFirst Order = iota
	// NewestFirst — порядок ленты уведомлений.
	NewestFirst
)

// Store — локальное упорядоченное хранилище элементов одного канала.
// Дедуплицирует по id, сводит оптимистичную отправку и серверное эхо
// по clientRef, никогда не хранит два элемента с одним id.
type Store struct {
	mu    sync.Mutex
	order Order
	cap   int
	items []domain.Item     // всегда по возрастанию CreatedAt
	byID  map[string]int    // id -> позиция в items
	byRef map[string]string // clientRef -> id неподтверждённого элемента
}

// New создаёт хранилище. cap = 0 означает отсутствие ограничения;
// при превышении вытесняется самый старый элемент.
func New(order Order, cap int) *Store {
	return &Store{
		order: order,
		cap:   cap,
		byID:  make(map[string]int),
		byRef: make(map[string]string),
	}
}

// Upsert вставляет новый элемент или сливает изменяемые поля уже
// известного. Возвращает true только для действительно нового элемента:
// по этому признаку решается, увеличивать ли счётчик непрочитанного.
func (s *Store) Upsert(item domain.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byID[item.ID]; ok {
		s.mergeAt(idx, item)
		return false
	}

	// Серверное эхо оптимистичной отправки приходит с новым id, но с тем же
	// clientRef. Временный элемент заменяется подтверждённым независимо от
	// того, кто пришёл раньше — ответ POST или событие потока.
	if item.ClientRef != "" {
		if tempID, ok := s.byRef[item.ClientRef]; ok && tempID != item.ID {
			s.removeByID(tempID)
			s.insert(item)
			delete(s.byRef, item.ClientRef)
			return false
		}
	}

	s.insert(item)
	if item.Pending && item.ClientRef != "" {
		s.byRef[item.ClientRef] = item.ID
	}
	if s.cap > 0 && len(s.items) > s.cap {
		s.removeAt(0)
	}
	return true
}

// UpdateDeliveryStatus продвигает статус доставки строго вперёд:
// sent -> delivered -> read. Переход назад — no-op.
func (s *Store) UpdateDeliveryStatus(itemID string, next domain.DeliveryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[itemID]
	if !ok {
		return
	}
	if s.items[idx].Delivery.Advances(next) {
		s.items[idx].Delivery = next
	}
}

// MarkRead помечает элемент прочитанным.
func (s *Store) MarkRead(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.byID[itemID]; ok {
		s.items[idx].Read = true
	}
}

// MarkAllRead помечает все элементы прочитанными.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		s.items[i].Read = true
	}
}

// MarkFailed помечает неподтверждённый элемент как неотправленный,
// чтобы пользователь мог повторить или удалить его.
func (s *Store) MarkFailed(clientRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[clientRef]
	if !ok {
		return
	}
	if idx, ok := s.byID[id]; ok {
		s.items[idx].Pending = false
		s.items[idx].Failed = true
	}
}

// Remove удаляет элемент, например отброшенную неудачную отправку.
func (s *Store) Remove(itemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeByID(itemID)
}

// Get возвращает элемент по id.
func (s *Store) Get(itemID string) (domain.Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[itemID]
	if !ok {
		return domain.Item{}, false
	}
	return s.items[idx], true
}

// Len возвращает количество элементов.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// List возвращает срез элементов в порядке отображения: чат читается
// сверху вниз хронологически, лента уведомлений — от свежих к старым.
// limit = 0 означает "все", offset отсчитывается от начала выдачи.
func (s *Store) List(limit, offset int) []domain.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Item, len(s.items))
	copy(out, s.items)
	if s.order == NewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if offset >= len(out) {
		return nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *Store) mergeAt(idx int, incoming domain.Item) {
	current := &s.items[idx]
	if current.Delivery.Advances(incoming.Delivery) {
		current.Delivery = incoming.Delivery
	}
	if incoming.Read {
		current.Read = true
	}
	if !incoming.Pending {
		current.Pending = false
		current.Failed = false
		if current.ClientRef != "" {
			delete(s.byRef, current.ClientRef)
		}
	}
}

func (s *Store) insert(item domain.Item) {
	pos := sort.Search(len(s.items), func(i int) bool {
		return s.items[i].CreatedAt.After(item.CreatedAt)
	})
	s.items = append(s.items, domain.Item{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = item
	for i := pos; i < len(s.items); i++ {
		s.byID[s.items[i].ID] = i
	}
}

func (s *Store) removeByID(itemID string) {
	if idx, ok := s.byID[itemID]; ok {
		s.removeAt(idx)
	}
}

func (s *Store) removeAt(idx int) {
	removed := s.items[idx]
	delete(s.byID, removed.ID)
	if removed.ClientRef != "" {
		if id, ok := s.byRef[removed.ClientRef]; ok && id == removed.ID {
			delete(s.byRef, removed.ClientRef)
		}
	}
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	for i := idx; i < len(s.items); i++ {
		s.byID[s.items[i].ID] = i
	}
}
