package typing

import (
	"sort"
	"sync"
	"time"
)

// DefaultIdle — пауза набора, после которой уходит typing=false.
const DefaultIdle = 2 * time.Second

// DefaultExpiry — авто-скрытие чужого индикатора, если событие
// "перестал печатать" так и не пришло (потеря сети).
const DefaultExpiry = 3 * time.Second

// Coordinator сводит локальный набор текста к переходам typing=true/false
// на проводе и ведёт авто-гаснущие индикаторы удалённых собеседников.
// В сеть уходят только фронты: повторные нажатия продлевают таймер,
// не порождая повторных событий.
type Coordinator struct {
	mu     sync.Mutex
	idle   time.Duration
	expiry time.Duration

	emit     func(isTyping bool)
	onChange func(users []string)

	localActive bool
	idleTimer   *time.Timer
	remote      map[string]*time.Timer
	closed      bool
}

// New создаёт координатор. emit вызывается на каждом фронте локального
// набора, onChange — при каждом изменении набора удалённых печатающих.
func New(idle, expiry time.Duration, emit func(bool), onChange func([]string)) *Coordinator {
	if idle <= 0 {
		idle = DefaultIdle
	}
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if emit == nil {
		emit = func(bool) {}
	}
	if onChange == nil {
		onChange = func([]string) {}
	}
	return &Coordinator{
		idle:     idle,
		expiry:   expiry,
		emit:     emit,
		onChange: onChange,
		remote:   make(map[string]*time.Timer),
	}
}

// LocalTyping регистрирует нажатие клавиши. Первый вызов шлёт typing=true,
// последующие лишь продлевают таймер простоя.
func (c *Coordinator) LocalTyping() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	fire := !c.localActive
	c.localActive = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idle, c.idleExpired)
	c.mu.Unlock()

	if fire {
		c.emit(true)
	}
}

// LocalStopped немедленно завершает локальный набор, например при отправке
// сообщения.
func (c *Coordinator) LocalStopped() {
	c.mu.Lock()
	fire := c.localActive
	c.localActive = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	c.mu.Unlock()

	if fire {
		c.emit(false)
	}
}

func (c *Coordinator) idleExpired() {
	c.mu.Lock()
	fire := c.localActive && !c.closed
	c.localActive = false
	c.idleTimer = nil
	c.mu.Unlock()

	if fire {
		c.emit(false)
	}
}

// RemoteTyping обрабатывает событие набора от удалённого пользователя.
// typing=true показывает индикатор и взводит таймер авто-скрытия,
// typing=false гасит его сразу.
func (c *Coordinator) RemoteTyping(userID string, isTyping bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if isTyping {
		if timer, ok := c.remote[userID]; ok {
			timer.Stop()
		}
		c.remote[userID] = time.AfterFunc(c.expiry, func() { c.expireRemote(userID) })
	} else {
		if timer, ok := c.remote[userID]; ok {
			timer.Stop()
			delete(c.remote, userID)
		}
	}
	users := c.usersLocked()
	c.mu.Unlock()

	c.onChange(users)
}

func (c *Coordinator) expireRemote(userID string) {
	c.mu.Lock()
	if _, ok := c.remote[userID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.remote, userID)
	users := c.usersLocked()
	c.mu.Unlock()

	c.onChange(users)
}

// TypingUsers возвращает отсортированный список печатающих сейчас.
func (c *Coordinator) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersLocked()
}

// Close останавливает все таймеры. Дальнейшие вызовы игнорируются.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	for id, timer := range c.remote {
		timer.Stop()
		delete(c.remote, id)
	}
	c.localActive = false
	c.mu.Unlock()
}

func (c *Coordinator) usersLocked() []string {
	users := make([]string, 0, len(c.remote))
	for id := range c.remote {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}
