package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when publishing on a client whose connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// IPublisher publishes a payload on a topic. Implementations must honour ctx deadlines.
type IPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Publisher publishes on the shared MQTT client.
type Publisher struct {
	client   mqtt.Client
	qos      byte
	retained bool
	// used when the caller's ctx has no deadline
	timeout time.Duration
}

var _ IPublisher = (*Publisher)(nil)

// NewPublisher creates a Publisher. QoS 1 is the default for commands and alerts.
func NewPublisher(client mqtt.Client, qos byte, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Publisher{client: client, qos: qos, timeout: timeout}
}

// Publish waits for the broker acknowledgement or the context deadline, whichever comes first.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	token := p.client.Publish(topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
}

// Close gracefully closes the MQTT connection for the publisher
func (p *Publisher) Close() {
	CloseRabbitMQConn(p.client)
}
