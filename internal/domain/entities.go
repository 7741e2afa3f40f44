package domain

import (
	"encoding/json"
	"time"
)

// ChannelKind различает чат-комнаты и глобальную ленту уведомлений.
type ChannelKind string

const (
	// ChannelChat — диалог между участниками сделки.
	ChannelChat ChannelKind = "chat"
	// ChannelNotification — единая лента уведомлений пользователя.
	ChannelNotification ChannelKind = "notification"
)

// Channel описывает логический поток событий.
type Channel struct {
	ID   string
	Kind ChannelKind
}

// GlobalNotificationChannel — идентификатор единственного канала уведомлений.
const GlobalNotificationChannel = "global-notifications"

// DeliveryState описывает жизненный цикл отправленного сообщения.
type DeliveryState string

const (
	DeliverySent      DeliveryState = "sent"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case DeliverySent:
		return 1
	case DeliveryDelivered:
		return 2
	case DeliveryRead:
		return 3
	}
	return 0
}

// Advances сообщает, является ли next продвижением статуса вперёд.
// Переход назад (read -> delivered) игнорируется.
func (s DeliveryState) Advances(next DeliveryState) bool {
	return next.rank() > s.rank()
}

// NotificationKind классифицирует уведомления ленты.
type NotificationKind string

const (
	NotifyMessage   NotificationKind = "message"
	NotifyOffer     NotificationKind = "offer"
	NotifyPayment   NotificationKind = "payment"
	NotifyMilestone NotificationKind = "milestone"
	NotifySystem    NotificationKind = "system"
)

// Attachment описывает файл, прикреплённый к сообщению.
type Attachment struct {
	URL          string `json:"url"`
	MIMEType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	OriginalName string `json:"originalName"`
}

// Item — единица доставки потока: сообщение чата или уведомление.
type Item struct {
	ID        string `json:"id"`
	ChannelID string `json:"channelId"`
	// ClientRef проставляется клиентом при оптимистичной отправке и
	// возвращается сервером в эхо, чтобы оба источника сошлись в один Item.
	ClientRef   string           `json:"clientRef,omitempty"`
	SenderID    string           `json:"senderId,omitempty"`
	Body        string           `json:"body"`
	Payload     json.RawMessage  `json:"payload,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	Attachments []Attachment     `json:"attachments,omitempty"`
	Delivery    DeliveryState    `json:"deliveryState,omitempty"`
	Read        bool             `json:"read,omitempty"`
	Kind        NotificationKind `json:"kind,omitempty"`

	// Pending — оптимистично добавленный Item, ещё не подтверждённый сервером.
	Pending bool `json:"-"`
	// Failed — отправка завершилась ошибкой, Item остаётся для повтора.
	Failed bool `json:"-"`
}

// Prefs хранит пользовательские настройки доставки уведомлений.
type Prefs struct {
	Sound   bool `json:"sound"`
	Desktop bool `json:"desktop"`
	Email   bool `json:"email"`
	Push    bool `json:"push"`
}

// DefaultPrefs возвращает настройки по умолчанию для отсутствующих ключей.
func DefaultPrefs() Prefs {
	return Prefs{Sound: true, Desktop: true, Email: false, Push: true}
}
