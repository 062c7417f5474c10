package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/motorlog/livelink/internal/domain"
)

// routingKeys is the closed set of event kinds this service emits. The
// notification collaborator binds one queue per kind it cares about.
var routingKeys = map[domain.AlertKind]string{
	domain.AlertDeviceNew:     "livelink.alert.device_new",
	domain.AlertDeviceOffline: "livelink.alert.device_offline",
	domain.AlertThresholdLow:  "livelink.alert.threshold_low",
	domain.AlertThresholdHigh: "livelink.alert.threshold_high",
}

// AMQPNotifier publishes alert events to a topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewAMQPNotifier connects to RabbitMQ and declares the event exchange
func NewAMQPNotifier(lc fx.Lifecycle, logger *zap.Logger, url, exchange string) (*AMQPNotifier, error) {
	logger.Info("attempting to connect to RabbitMQ...")

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("[RABBITMQ CONNECTION FAILED] cannot connect to RabbitMQ. Please check: 1) RabbitMQ is running, 2) NOTIFY_AMQP_URL is correct, 3) Credentials are valid. Error: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("rabbitmq connection established successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := ch.Close(); err != nil {
				logger.Error("failed to close publisher channel", zap.Error(err))
			}
			if err := conn.Close(); err != nil {
				logger.Error("failed to close rabbitmq connection", zap.Error(err))
				return err
			}
			logger.Info("rabbitmq connection closed")
			return nil
		},
	})

	return &AMQPNotifier{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends the event to the exchange. Failures are logged and dropped;
// the alert engine never blocks on delivery.
func (p *AMQPNotifier) Publish(ctx context.Context, event domain.AlertEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal alert event", zap.Error(err))
		return
	}

	key, ok := routingKeys[event.Kind]
	if !ok {
		p.logger.Error("unknown alert kind", zap.String("kind", string(event.Kind)))
		return
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish alert event",
			zap.Error(err),
			zap.String("routing_key", key),
			zap.String("device_id", event.DeviceID),
		)
		return
	}

	p.logger.Debug("published alert event",
		zap.String("routing_key", key),
		zap.String("device_id", event.DeviceID),
	)
}
