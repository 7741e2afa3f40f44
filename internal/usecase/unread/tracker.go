package unread

import (
	"sync"

	"dealstream/internal/domain"
)

// Tracker ведёт счётчики непрочитанного по каналам и глобальный агрегат.
// Чат и лента уведомлений используют отдельные экземпляры: у чата агрегат —
// сумма локальных счётчиков, у ленты его периодически перезаписывает
// серверное абсолютное значение. Эти источники не смешиваются в одном
// экземпляре.
type Tracker struct {
	mu       sync.Mutex
	channels map[string]int
	total    int
	onChange func(total int)
}

// New создаёт трекер. onChange вызывается после каждой мутации —
// трекер сообщает, отрисовка бейджа остаётся за подписчиком.
func New(onChange func(total int)) *Tracker {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Tracker{channels: make(map[string]int), onChange: onChange}
}

// OnItemArrived учитывает новый элемент: счётчик растёт только для чужих
// элементов в неактивном канале.
func (t *Tracker) OnItemArrived(item domain.Item, isOwn, channelActive bool) {
	if isOwn || channelActive {
		return
	}
	t.mu.Lock()
	t.channels[item.ChannelID]++
	t.total++
	total := t.total
	t.mu.Unlock()
	t.onChange(total)
}

// MarkChannelRead обнуляет счётчик канала и уменьшает агрегат на
// прежнее значение.
func (t *Tracker) MarkChannelRead(channelID string) {
	t.mu.Lock()
	prev := t.channels[channelID]
	if prev == 0 {
		t.mu.Unlock()
		return
	}
	t.channels[channelID] = 0
	t.total -= prev
	total := t.total
	t.mu.Unlock()
	t.onChange(total)
}

// ItemRead списывает один прочитанный элемент канала.
func (t *Tracker) ItemRead(channelID string) {
	t.mu.Lock()
	if t.channels[channelID] == 0 {
		t.mu.Unlock()
		return
	}
	t.channels[channelID]--
	t.total--
	total := t.total
	t.mu.Unlock()
	t.onChange(total)
}

// SetServerCount перезаписывает агрегат серверным абсолютным значением.
// Используется лентой уведомлений и фоновым опросом-страховкой: пропущенные
// или подавленные дубликатами события не уводят бейдж навсегда.
func (t *Tracker) SetServerCount(channelID string, total int) {
	if total < 0 {
		total = 0
	}
	t.mu.Lock()
	delta := total - t.channels[channelID]
	t.channels[channelID] = total
	t.total += delta
	changed := delta != 0
	current := t.total
	t.mu.Unlock()
	if changed {
		t.onChange(current)
	}
}

// ChannelCount возвращает счётчик одного канала.
func (t *Tracker) ChannelCount(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[channelID]
}

// GlobalCount возвращает глобальный агрегат.
func (t *Tracker) GlobalCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
