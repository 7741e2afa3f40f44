package domain

import (
	"context"
	"errors"
	"io"
)

// ErrUnauthorized возвращается при недействительном токене.
var ErrUnauthorized = errors.New("нет авторизации")

// ErrForbidden возвращается при попытке открыть чужой канал.
var ErrForbidden = errors.New("доступ к каналу запрещён")

// ErrNotFound возвращается, если канал или сообщение не существует.
var ErrNotFound = errors.New("объект не найден")

// ErrStreamGaveUp возвращается, когда переподключение потока исчерпало попытки.
var ErrStreamGaveUp = errors.New("поток: исчерпаны попытки переподключения")

// ConnState — состояние соединения потока.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosed     ConnState = "closed"
	// ConnGaveUp — терминальное состояние: ретраи исчерпаны, поток больше
	// не будет переоткрываться без явного Open.
	ConnGaveUp ConnState = "gave_up"
)

// Stream — долгоживущее server-push соединение одного канала.
// Open не возвращает ошибку: сетевые сбои наблюдаются только через
// переходы состояния, переподключение выполняется внутри.
type Stream interface {
	OnEvent(fn func(StreamEvent))
	OnState(fn func(ConnState))
	Open()
	// Close идемпотентен и отменяет запланированное переподключение.
	Close()
}

// StreamDialer создаёт поток для канала. Контроллеры не знают про транспорт.
type StreamDialer interface {
	DialChat(channelID, token string) Stream
	DialNotifications(token string) Stream
}

// Upload описывает файл для отправки multipart-запросом.
type Upload struct {
	Name     string
	MIMEType string
	Reader   io.Reader
}

// Draft — черновик исходящего сообщения.
type Draft struct {
	Body        string
	ClientRef   string
	Attachments []Upload
}

// MessageAPI — REST-операции чата.
type MessageAPI interface {
	ListMessages(ctx context.Context, channelID string, limit, offset int) ([]Item, error)
	SendMessage(ctx context.Context, channelID string, draft Draft) (Item, error)
	MarkRead(ctx context.Context, channelID, itemID string) error
	MarkChannelRead(ctx context.Context, channelID string) error
	SetTyping(ctx context.Context, channelID string, isTyping bool) error
}

// NotificationAPI — REST-операции ленты уведомлений.
type NotificationAPI interface {
	ListNotifications(ctx context.Context, limit, offset int) ([]Item, error)
	MarkNotificationRead(ctx context.Context, itemID string) error
	MarkAllNotificationsRead(ctx context.Context) error
	UnreadCount(ctx context.Context) (int, error)
}

// PrefsRepo хранит настройки уведомлений пользователя.
// Отсутствующие ключи дополняются значениями по умолчанию.
type PrefsRepo interface {
	Load(ctx context.Context, userID string) (Prefs, error)
	Save(ctx context.Context, userID string, prefs Prefs) error
}

// Sink доставляет элементы подписчику вне процесса (Telegram, AMQP и т.п.).
type Sink interface {
	Deliver(ctx context.Context, item Item) error
}
