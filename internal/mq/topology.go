package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

// Exchanges.
const (
	ExchangeRuns Exchange = "pipeflow.runs"
	ExchangeDLQ  Exchange = "pipeflow.dlq"
)

// Queues.
const (
	QueueRunsPending   Queue = "runs.pending"
	QueueRunsCompleted Queue = "runs.completed"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQRuns   RoutingKey = "runs"
)

// binding — очередь, её аргументы и привязка к exchange.
type binding struct {
	queue      Queue
	exchange   Exchange
	routingKey RoutingKey
	args       amqp.Table
}

// topology — полное описание очередей pipeflow.
func topology() []binding {
	return []binding{
		// runs.pending — отвергнутые сообщения уходят в dlq.runs
		{
			queue:      QueueRunsPending,
			exchange:   ExchangeRuns,
			routingKey: RoutingKeyPending,
			args: amqp.Table{
				"x-dead-letter-exchange":    string(ExchangeDLQ),
				"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
			},
		},
		// runs.completed — события для внешних подписчиков
		{queue: QueueRunsCompleted, exchange: ExchangeRuns, routingKey: RoutingKeyCompleted},
		// dlq.runs — ручной разбор
		{queue: QueueDLQRuns, exchange: ExchangeDLQ, routingKey: RoutingKeyDLQRuns},
	}
}

// SetupTopology объявляет exchanges, очереди и привязки.
// Идемпотентна: каждый сервис вызывает её при старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeRuns, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology() {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
