package rabbitmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the publish circuit breaker.
type BreakerSettings struct {
	Name string
	// consecutive failures that open the breaker
	Failures uint32
	// how long the breaker stays open before a half-open probe
	OpenFor time.Duration
	// cyclic period of the closed state used to clear counts; 0 never clears
	Interval time.Duration
}

// BreakerPublisher fails fast while the transport keeps failing, instead of
// waiting the full publish timeout on every attempt.
type BreakerPublisher struct {
	next IPublisher
	cb   *gobreaker.CircuitBreaker
}

var _ IPublisher = (*BreakerPublisher)(nil)

func NewBreakerPublisher(next IPublisher, s BreakerSettings, lg *slog.Logger) *BreakerPublisher {
	if s.Failures == 0 {
		s.Failures = 3
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 10 * time.Second
	}
	if s.Name == "" {
		s.Name = "mqtt-publish"
	}
	if lg == nil {
		lg = slog.Default()
	}
	failures := s.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     s.Name,
		Interval: s.Interval,
		Timeout:  s.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("breaker.state", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &BreakerPublisher{next: next, cb: cb}
}

// Publish returns gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests while the breaker rejects calls.
func (b *BreakerPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, topic, payload)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerPublisher) State() string {
	return b.cb.State().String()
}
