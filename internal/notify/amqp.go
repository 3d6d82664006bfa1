// Package notify carries the engine's best-effort side channels: user
// notifications over RabbitMQ and durable audit records. Neither may
// ever fail a money movement.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPDispatcher publishes wallet notifications to a topic exchange.
// Publishing is fire-and-forget on a short timeout; a broker outage
// costs notifications, not transfers.
type AMQPDispatcher struct {
	channel  *amqp.Channel
	exchange string
	log      *slog.Logger
}

// NewAMQPDispatcher declares the exchange and returns a dispatcher
// bound to it.
func NewAMQPDispatcher(conn *amqp.Connection, exchange string, log *slog.Logger) (*AMQPDispatcher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &AMQPDispatcher{channel: ch, exchange: exchange, log: log}, nil
}

type notification struct {
	UserID  string    `json:"user_id"`
	Channel string    `json:"channel"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

func (d *AMQPDispatcher) Notify(ctx context.Context, userID, channel, message string) {
	body, err := json.Marshal(notification{
		UserID:  userID,
		Channel: channel,
		Message: message,
		SentAt:  time.Now(),
	})
	if err != nil {
		d.log.Error("notification marshal failed", "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = d.channel.PublishWithContext(pubCtx, d.exchange, "notify."+channel, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
	if err != nil {
		d.log.Warn("notification publish failed", "user_id", userID, "error", err)
	}
}

// NopDispatcher satisfies the dispatcher contract when no broker is
// configured.
type NopDispatcher struct{}

func (NopDispatcher) Notify(ctx context.Context, userID, channel, message string) {}
