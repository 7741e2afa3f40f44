package telegramsink

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
)

// Sink доставляет уведомления маркетплейса в Telegram-чат оператора.
type Sink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

// New создаёт приёмник для указанного чата.
func New(bot *tgbotapi.BotAPI, chatID int64, log zerolog.Logger) *Sink {
	return &Sink{bot: bot, chatID: chatID, log: log.With().Str("component", "telegram-sink").Logger()}
}

// Deliver отправляет уведомление сообщением в чат.
func (s *Sink) Deliver(ctx context.Context, item domain.Item) error {
	msg := tgbotapi.NewMessage(s.chatID, formatItem(item))
	_, err := s.bot.Send(msg)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SinkDeliveries.WithLabelValues("telegram", status).Inc()
	if err != nil {
		return fmt.Errorf("telegram: отправка уведомления: %w", err)
	}
	return nil
}

func formatItem(item domain.Item) string {
	var b strings.Builder
	b.WriteString(kindTitle(item.Kind))
	if item.Body != "" {
		b.WriteString("\n")
		b.WriteString(item.Body)
	}
	if len(item.Attachments) > 0 {
		b.WriteString(fmt.Sprintf("\nВложений: %d", len(item.Attachments)))
	}
	if !item.CreatedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(item.CreatedAt.Format("02.01.2006 15:04"))
	}
	return b.String()
}

func kindTitle(kind domain.NotificationKind) string {
	switch kind {
	case domain.NotifyOffer:
		return "Новое предложение"
	case domain.NotifyPayment:
		return "Платёж"
	case domain.NotifyMilestone:
		return "Этап сделки"
	case domain.NotifyMessage:
		return "Новое сообщение"
	default:
		return "Уведомление"
	}
}

var _ domain.Sink = (*Sink)(nil)
