package rabbitmq

import (
	"context"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Handler processes one delivery. A returned error is logged by the consumer.
type Handler func(topic string, message mqtt.Message) error

// IConsumer subscribes and dispatches deliveries to a handler until ctx is done.
type IConsumer interface {
	ConsumeMessage(ctx context.Context)
	SetHandler(handler Handler)
}

// Consumer holds the client and the topic filters it subscribes to.
type Consumer struct {
	client  mqtt.Client
	topics  []string
	qos     byte
	handler Handler
	logger  *slog.Logger
}

var _ IConsumer = (*Consumer)(nil)

// NewConsumer creates a Consumer for one or more topic filters sharing a QoS level.
func NewConsumer(client mqtt.Client, qos byte, handler Handler, topics ...string) *Consumer {
	return &Consumer{
		client:  client,
		topics:  topics,
		qos:     qos,
		handler: handler,
		logger:  slog.Default().With("component", "mqtt-consumer"),
	}
}

func (c *Consumer) SetHandler(handler Handler) {
	c.handler = handler
}

// WithLogger replaces the consumer logger.
func (c *Consumer) WithLogger(lg *slog.Logger) *Consumer {
	if lg != nil {
		c.logger = lg.With("component", "mqtt-consumer")
	}
	return c
}

// ConsumeMessage subscribes to every topic and blocks until ctx is cancelled, then unsubscribes.
// paho runs callbacks on its own goroutines, so the handler must be safe for concurrent use.
func (c *Consumer) ConsumeMessage(ctx context.Context) {
	subscribed := make([]string, 0, len(c.topics))
	for _, topic := range c.topics {
		topic := topic
		token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
			c.deliver(topic, msg)
		})
		token.Wait()
		if err := token.Error(); err != nil {
			c.logger.Error("subscribe.failed", "topic", topic, "error", err)
			continue
		}
		subscribed = append(subscribed, topic)
		c.logger.Info("subscribe.ok", "topic", topic, "qos", c.qos)
	}

	<-ctx.Done()

	if len(subscribed) > 0 && c.client.IsConnectionOpen() {
		c.client.Unsubscribe(subscribed...).Wait()
	}
}

func (c *Consumer) deliver(filter string, msg mqtt.Message) {
	if c.handler == nil {
		c.logger.Warn("handler.missing", "topic", filter)
		return
	}
	if err := c.handler(msg.Topic(), msg); err != nil {
		c.logger.Warn("handler.error", "topic", msg.Topic(), "error", err)
	}
}
