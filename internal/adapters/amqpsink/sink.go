package amqpsink

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"dealstream/internal/domain"
	"dealstream/internal/infra/metrics"
)

// Sink публикует уведомления в AMQP-обменник для внутренних потребителей:
// CRM, почтовой рассылки и прочих подписчиков событий сделки.
type Sink struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// New подключается к брокеру и объявляет topic-обменник.
func New(url, exchange string) (*Sink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: подключение: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: открытие канала: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp: объявление обменника: %w", err)
	}
	return &Sink{conn: conn, channel: channel, exchange: exchange}, nil
}

// Deliver публикует уведомление с ключом маршрутизации по его типу.
func (s *Sink) Deliver(ctx context.Context, item domain.Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("amqp: marshal уведомления: %w", err)
	}
	err = s.channel.PublishWithContext(ctx, s.exchange, RoutingKey(item), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.SinkDeliveries.WithLabelValues("amqp", status).Inc()
	if err != nil {
		return fmt.Errorf("amqp: публикация уведомления: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (s *Sink) Close() error {
	if err := s.channel.Close(); err != nil {
		s.conn.Close()
		return fmt.Errorf("amqp: закрытие канала: %w", err)
	}
	return s.conn.Close()
}

// RoutingKey возвращает ключ маршрутизации уведомления.
func RoutingKey(item domain.Item) string {
	kind := item.Kind
	if kind == "" {
		kind = domain.NotifySystem
	}
	return "notification." + string(kind)
}

var _ domain.Sink = (*Sink)(nil)
