package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
	"dealstream/internal/usecase/store"
	"dealstream/internal/usecase/typing"
	"dealstream/internal/usecase/unread"
)

// ErrNoActiveChannel возвращается при действии без открытого канала.
var ErrNoActiveChannel = errors.New("канал не открыт")

// State — состояние канала в контроллере.
type State string

const (
	StateIdle    State = "idle"
	StateOpening State = "opening"
	StateActive  State = "active"
	StateClosing State = "closing"
)

// Snapshot — срез состояния для подписчика. Контроллер сообщает об
// изменениях, отображение остаётся за подписчиком.
type Snapshot struct {
	ChannelID   string
	State       State
	Conn        domain.ConnState
	Items       []domain.Item
	TypingUsers []string
	Unread      int
}

// Controller — фасад одного открытого чат-канала: владеет потоком,
// локальным хранилищем и координатором набора. Глобальный трекер
// непрочитанного передаётся снаружи и переживает закрытие канала.
type Controller struct {
	api     domain.MessageAPI
	dialer  domain.StreamDialer
	tracker *unread.Tracker
	log     zerolog.Logger

	token  string
	selfID string

	typingIdle   time.Duration
	typingExpiry time.Duration

	mu         sync.Mutex
	state      State
	channelID  string
	generation int
	focused    bool
	conn       domain.ConnState
	store      *store.Store
	stream     domain.Stream
	typing     *typing.Coordinator
	onChange   func(Snapshot)
}

// Config — зависимости контроллера.
type Config struct {
	API          domain.MessageAPI
	Dialer       domain.StreamDialer
	Tracker      *unread.Tracker
	Token        string
	SelfID       string
	TypingIdle   time.Duration
	TypingExpiry time.Duration
	Logger       zerolog.Logger
}

// NewController создаёт контроллер чата.
func NewController(cfg Config) *Controller {
	return &Controller{
		api:          cfg.API,
		dialer:       cfg.Dialer,
		tracker:      cfg.Tracker,
		log:          cfg.Logger.With().Str("component", "chat").Logger(),
		token:        cfg.Token,
		selfID:       cfg.SelfID,
		typingIdle:   cfg.TypingIdle,
		typingExpiry: cfg.TypingExpiry,
		state:        StateIdle,
	}
}

// OnChange регистрирует подписчика изменений состояния.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Open активирует канал: idle -> opening, поток подключается, история
// подтягивается REST-запросом и сливается с живыми событиями по id.
// Неудача загрузки истории всё равно переводит канал в active — канал
// никогда не застревает в opening.
func (c *Controller) Open(ctx context.Context, channelID string) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("канал %s уже открыт", c.channelID)
	}
	c.state = StateOpening
	c.channelID = channelID
	c.focused = true
	c.generation++
	generation := c.generation
	c.store = store.New(store.OldestFirst, 0)
	c.typing = typing.New(c.typingIdle, c.typingExpiry, c.emitTyping, func([]string) { c.notify() })
	c.stream = c.dialer.DialChat(channelID, c.token)
	c.stream.OnEvent(c.handleEvent)
	c.stream.OnState(func(st domain.ConnState) {
		c.mu.Lock()
		c.conn = st
		c.mu.Unlock()
		c.notify()
	})
	c.mu.Unlock()

	c.stream.Open()
	c.notify()

	go c.seedHistory(ctx, channelID, generation)
	return nil
}

// seedHistory грузит историю и применяет её, только если канал всё ещё тот
// же: опоздавший ответ закрытого канала отбрасывается.
func (c *Controller) seedHistory(ctx context.Context, channelID string, generation int) {
	items, err := c.api.ListMessages(ctx, channelID, 50, 0)

	c.mu.Lock()
	if c.generation != generation || c.channelID != channelID {
		c.mu.Unlock()
		return
	}
	st := c.store
	c.state = StateActive
	c.mu.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Str("channel", channelID).Msg("chat: история не загрузилась, канал открыт пустым")
		c.notify()
		return
	}
	for _, item := range items {
		st.Upsert(item)
	}
	c.notify()
}

// Close закрывает канал и сбрасывает его состояние. Глобальный агрегат
// непрочитанного не сбрасывается.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	stream := c.stream
	coord := c.typing
	c.generation++
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	if coord != nil {
		coord.Close()
	}

	c.mu.Lock()
	c.state = StateIdle
	c.channelID = ""
	c.store = nil
	c.stream = nil
	c.typing = nil
	c.conn = ""
	c.mu.Unlock()
	c.notify()
}

// Send отправляет сообщение с оптимистичной вставкой: временный элемент
// появляется сразу, подтверждение или эхо потока заменяет его по clientRef.
// При ошибке элемент помечается failed и остаётся для повтора.
func (c *Controller) Send(ctx context.Context, body string, attachments []domain.Upload) (domain.Item, error) {
	c.mu.Lock()
	if c.state != StateActive && c.state != StateOpening {
		c.mu.Unlock()
		return domain.Item{}, ErrNoActiveChannel
	}
	channelID := c.channelID
	st := c.store
	coord := c.typing
	c.mu.Unlock()

	ref := uuid.NewString()
	temp := domain.Item{
		ID:        ref,
		ChannelID: channelID,
		ClientRef: ref,
		SenderID:  c.selfID,
		Body:      body,
		CreatedAt: time.Now().UTC(),
		Delivery:  domain.DeliverySent,
		Pending:   true,
	}
	st.Upsert(temp)
	coord.LocalStopped()
	c.notify()

	sent, err := c.api.SendMessage(ctx, channelID, domain.Draft{
		Body:        body,
		ClientRef:   ref,
		Attachments: attachments,
	})
	if err != nil {
		metrics.SendFailures.Inc()
		st.MarkFailed(ref)
		c.notify()
		return domain.Item{}, fmt.Errorf("отправка сообщения: %w", err)
	}
	st.Upsert(sent)
	c.notify()
	return sent, nil
}

// Retry повторяет неудачную отправку с тем же clientRef.
func (c *Controller) Retry(ctx context.Context, itemID string) (domain.Item, error) {
	c.mu.Lock()
	st := c.store
	channelID := c.channelID
	c.mu.Unlock()
	if st == nil {
		return domain.Item{}, ErrNoActiveChannel
	}
	item, ok := st.Get(itemID)
	if !ok || !item.Failed {
		return domain.Item{}, fmt.Errorf("элемент %s не ожидает повтора", itemID)
	}

	sent, err := c.api.SendMessage(ctx, channelID, domain.Draft{Body: item.Body, ClientRef: item.ClientRef})
	if err != nil {
		metrics.SendFailures.Inc()
		return domain.Item{}, fmt.Errorf("повторная отправка: %w", err)
	}
	st.Upsert(sent)
	c.notify()
	return sent, nil
}

// Discard удаляет неудачную отправку по решению пользователя.
func (c *Controller) Discard(itemID string) {
	c.mu.Lock()
	st := c.store
	c.mu.Unlock()
	if st == nil {
		return
	}
	if item, ok := st.Get(itemID); ok && item.Failed {
		st.Remove(itemID)
		c.notify()
	}
}

// Typing регистрирует нажатие клавиши локальным пользователем.
func (c *Controller) Typing() {
	c.mu.Lock()
	coord := c.typing
	c.mu.Unlock()
	if coord != nil {
		coord.LocalTyping()
	}
}

// SetFocused отмечает, смотрит ли пользователь на канал. Возврат фокуса
// гасит счётчик непрочитанного канала.
func (c *Controller) SetFocused(focused bool) {
	c.mu.Lock()
	c.focused = focused
	channelID := c.channelID
	c.mu.Unlock()
	if focused && channelID != "" {
		c.tracker.MarkChannelRead(channelID)
		c.notify()
	}
}

// MarkChannelRead помечает канал прочитанным локально и на сервере.
func (c *Controller) MarkChannelRead(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return ErrNoActiveChannel
	}
	channelID := c.channelID
	st := c.store
	c.mu.Unlock()

	c.tracker.MarkChannelRead(channelID)
	st.MarkAllRead()
	c.notify()

	if err := c.api.MarkChannelRead(ctx, channelID); err != nil {
		return fmt.Errorf("mark-read канала: %w", err)
	}
	return nil
}

// Snapshot возвращает срез текущего состояния.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		ChannelID: c.channelID,
		State:     c.state,
		Conn:      c.conn,
	}
	st := c.store
	coord := c.typing
	c.mu.Unlock()

	if st != nil {
		snap.Items = st.List(0, 0)
	}
	if coord != nil {
		snap.TypingUsers = coord.TypingUsers()
	}
	if snap.ChannelID != "" {
		snap.Unread = c.tracker.ChannelCount(snap.ChannelID)
	}
	return snap
}

func (c *Controller) handleEvent(ev domain.StreamEvent) {
	c.mu.Lock()
	st := c.store
	coord := c.typing
	focused := c.focused
	c.mu.Unlock()
	if st == nil {
		return
	}

	switch ev.Type {
	case domain.EventMessage:
		item, err := ev.Item()
		if err != nil {
			c.log.Warn().Err(err).Msg("chat: событие message пропущено")
			return
		}
		isOwn := item.SenderID == c.selfID
		if st.Upsert(item) {
			c.tracker.OnItemArrived(item, isOwn, focused)
		}
		c.notify()
	case domain.EventTyping:
		p, err := ev.Typing()
		if err != nil {
			c.log.Warn().Err(err).Msg("chat: событие typing пропущено")
			return
		}
		if p.UserID != c.selfID {
			coord.RemoteTyping(p.UserID, p.IsTyping)
		}
	case domain.EventDelivered:
		if p, err := ev.Receipt(); err == nil {
			st.UpdateDeliveryStatus(p.ItemID, domain.DeliveryDelivered)
			c.notify()
		}
	case domain.EventRead:
		if p, err := ev.Receipt(); err == nil {
			st.UpdateDeliveryStatus(p.ItemID, domain.DeliveryRead)
			c.notify()
		}
	default:
		// Неизвестные типы событий допустимы и молча пропускаются.
	}
}

// emitTyping шлёт фронт набора на сервер. Ошибка не мешает набору.
func (c *Controller) emitTyping(isTyping bool) {
	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if channelID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.api.SetTyping(ctx, channelID, isTyping); err != nil {
			c.log.Debug().Err(err).Msg("chat: не удалось передать статус набора")
		}
	}()
}

func (c *Controller) notify() {
	c.mu.Lock()
	handler := c.onChange
	c.mu.Unlock()
	if handler != nil {
		handler(c.Snapshot())
	}
}
