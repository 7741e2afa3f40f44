package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
	"dealstream/internal/usecase/store"
	"dealstream/internal/usecase/unread"
)

// feedCapacity — лента хранит не более 100 уведомлений, старые вытесняются.
const feedCapacity = 100

// DefaultPollInterval — период фонового опроса серверного счётчика.
const DefaultPollInterval = 30 * time.Second

// ErrNotOpen возвращается при действии с незапущенной лентой.
var ErrNotOpen = errors.New("лента уведомлений не открыта")

// State — состояние ленты.
type State string

const (
	StateIdle    State = "idle"
	StateOpening State = "opening"
	StateActive  State = "active"
)

// Snapshot — срез состояния ленты для подписчика.
type Snapshot struct {
	State  State
	Conn   domain.ConnState
	Items  []domain.Item
	Unread int
	Prefs  domain.Prefs
}

// Controller — фасад глобальной ленты уведомлений: один поток, хранилище
// на 100 элементов свежими вперёд, серверный счётчик непрочитанного и
// настройки доставки.
type Controller struct {
	api    domain.NotificationAPI
	dialer domain.StreamDialer
	prefs  domain.PrefsRepo
	log    zerolog.Logger

	token        string
	userID       string
	pollInterval time.Duration

	tracker *unread.Tracker

	mu       sync.Mutex
	state    State
	conn     domain.ConnState
	store    *store.Store
	stream   domain.Stream
	current  domain.Prefs
	onChange func(Snapshot)
	onItem   func(domain.Item)
}

// Config — зависимости контроллера ленты.
type Config struct {
	API          domain.NotificationAPI
	Dialer       domain.StreamDialer
	Prefs        domain.PrefsRepo
	Token        string
	UserID       string
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// NewController создаёт контроллер ленты уведомлений.
func NewController(cfg Config) *Controller {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	c := &Controller{
		api:          cfg.API,
		dialer:       cfg.Dialer,
		prefs:        cfg.Prefs,
		log:          cfg.Logger.With().Str("component", "notify").Logger(),
		token:        cfg.Token,
		userID:       cfg.UserID,
		pollInterval: interval,
		state:        StateIdle,
		current:      domain.DefaultPrefs(),
	}
	c.tracker = unread.New(func(total int) {
		metrics.UnreadTotal.WithLabelValues("notifications").Set(float64(total))
	})
	return c
}

// OnChange регистрирует подписчика изменений состояния.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// OnItem регистрирует подписчика новых уведомлений: так внешние приёмники
// (Telegram, AMQP) получают элементы без связи с отрисовкой.
func (c *Controller) OnItem(fn func(domain.Item)) {
	c.mu.Lock()
	c.onItem = fn
	c.mu.Unlock()
}

// Open запускает ленту: настройки, история, серверный счётчик, поток.
// Любой из начальных запросов может упасть — лента всё равно переходит в
// active и дальше живёт на событиях и фоновом опросе.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("лента уже открыта")
	}
	c.state = StateOpening
	c.store = store.New(store.NewestFirst, feedCapacity)
	c.stream = c.dialer.DialNotifications(c.token)
	c.stream.OnEvent(c.handleEvent)
	c.stream.OnState(func(st domain.ConnState) {
		c.mu.Lock()
		c.conn = st
		c.mu.Unlock()
		c.notify()
	})
	st := c.store
	c.mu.Unlock()

	if c.prefs != nil {
		if loaded, err := c.prefs.Load(ctx, c.userID); err != nil {
			c.log.Warn().Err(err).Msg("notify: настройки не загрузились, используются значения по умолчанию")
		} else {
			c.mu.Lock()
			c.current = loaded
			c.mu.Unlock()
		}
	}

	if items, err := c.api.ListNotifications(ctx, feedCapacity, 0); err != nil {
		c.log.Warn().Err(err).Msg("notify: история не загрузилась, лента открыта пустой")
	} else {
		for _, item := range items {
			st.Upsert(item)
		}
	}

	if count, err := c.api.UnreadCount(ctx); err != nil {
		c.log.Warn().Err(err).Msg("notify: серверный счётчик недоступен")
	} else {
		c.tracker.SetServerCount(domain.GlobalNotificationChannel, count)
	}

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()

	c.stream.Open()
	c.notify()
	return nil
}

// Run ведёт фоновый опрос серверного счётчика — страховку от пропущенных
// событий. Блокируется до отмены контекста.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := c.api.UnreadCount(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				c.log.Debug().Err(err).Msg("notify: опрос счётчика не удался")
				continue
			}
			c.tracker.SetServerCount(domain.GlobalNotificationChannel, count)
			c.notify()
		}
	}
}

// Close останавливает поток и сбрасывает состояние ленты.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	stream := c.stream
	c.state = StateIdle
	c.store = nil
	c.stream = nil
	c.conn = ""
	c.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	c.notify()
}

// MarkRead помечает уведомление прочитанным локально и на сервере.
func (c *Controller) MarkRead(ctx context.Context, itemID string) error {
	c.mu.Lock()
	st := c.store
	c.mu.Unlock()
	if st == nil {
		return ErrNotOpen
	}
	if item, ok := st.Get(itemID); !ok || item.Read {
		return nil
	}

	st.MarkRead(itemID)
	c.tracker.ItemRead(domain.GlobalNotificationChannel)
	c.notify()

	if err := c.api.MarkNotificationRead(ctx, itemID); err != nil {
		return fmt.Errorf("mark-read уведомления: %w", err)
	}
	return nil
}

// MarkAllRead помечает прочитанной всю ленту.
func (c *Controller) MarkAllRead(ctx context.Context) error {
	c.mu.Lock()
	st := c.store
	c.mu.Unlock()
	if st == nil {
		return ErrNotOpen
	}

	st.MarkAllRead()
	c.tracker.MarkChannelRead(domain.GlobalNotificationChannel)
	c.notify()

	if err := c.api.MarkAllNotificationsRead(ctx); err != nil {
		return fmt.Errorf("mark-read ленты: %w", err)
	}
	return nil
}

// Prefs возвращает текущие настройки доставки.
func (c *Controller) Prefs() domain.Prefs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// UpdatePrefs сохраняет настройки доставки.
func (c *Controller) UpdatePrefs(ctx context.Context, prefs domain.Prefs) error {
	c.mu.Lock()
	c.current = prefs
	c.mu.Unlock()
	c.notify()

	if c.prefs == nil {
		return nil
	}
	if err := c.prefs.Save(ctx, c.userID, prefs); err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	return nil
}

// Unread возвращает глобальный счётчик ленты.
func (c *Controller) Unread() int {
	return c.tracker.GlobalCount()
}

// Snapshot возвращает срез текущего состояния.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{State: c.state, Conn: c.conn, Prefs: c.current}
	st := c.store
	c.mu.Unlock()

	if st != nil {
		snap.Items = st.List(0, 0)
	}
	snap.Unread = c.tracker.GlobalCount()
	return snap
}

func (c *Controller) handleEvent(ev domain.StreamEvent) {
	switch ev.Type {
	case domain.EventMessage, domain.EventOffer, domain.EventPayment, domain.EventMilestone:
	default:
		// Неизвестные типы событий допустимы и молча пропускаются.
		return
	}

	item, err := ev.Item()
	if err != nil {
		c.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("notify: событие пропущено")
		return
	}
	if item.Kind == "" {
		item.Kind = domain.NotificationKind(ev.Type)
	}

	c.mu.Lock()
	st := c.store
	onItem := c.onItem
	c.mu.Unlock()
	if st == nil {
		return
	}

	tracked := item
	tracked.ChannelID = domain.GlobalNotificationChannel
	if st.Upsert(item) {
		if !item.Read {
			c.tracker.OnItemArrived(tracked, false, false)
		}
		if onItem != nil {
			onItem(item)
		}
	}
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	handler := c.onChange
	c.mu.Unlock()
	if handler != nil {
		handler(c.Snapshot())
	}
}
