package controller

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type publishCall struct {
	topic   string
	payload []byte
}

// fakePublisher records publishes. hook, when set, runs first and its error fails the publish.
type fakePublisher struct {
	mu    sync.Mutex
	calls []publishCall
	hook  func(ctx context.Context, topic string) error
}

func (p *fakePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.hook != nil {
		if err := p.hook(ctx, topic); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, publishCall{topic: topic, payload: append([]byte(nil), payload...)})
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.topic
	}
	return out
}

func (p *fakePublisher) commands(t *testing.T) []messages.ValveCommand {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []messages.ValveCommand
	for _, c := range p.calls {
		if strings.HasSuffix(c.topic, "/command") {
			var cmd messages.ValveCommand
			require.NoError(t, json.Unmarshal(c.payload, &cmd))
			out = append(out, cmd)
		}
	}
	return out
}

func (p *fakePublisher) alerts(t *testing.T) []messages.Alert {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []messages.Alert
	for _, c := range p.calls {
		if c.topic == "iot/alerts" {
			var a messages.Alert
			require.NoError(t, json.Unmarshal(c.payload, &a))
			out = append(out, a)
		}
	}
	return out
}

type recordingAudit struct {
	mu       sync.Mutex
	commands []messages.ValveCommand
	alerts   []messages.Alert
}

func (a *recordingAudit) RecordCommand(cmd messages.ValveCommand) {
	a.mu.Lock()
	a.commands = append(a.commands, cmd)
	a.mu.Unlock()
}

func (a *recordingAudit) RecordAlert(al messages.Alert) {
	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()
}

// fakeMessage satisfies mqtt.Message for handler tests.
type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultCooldown = time.Minute
	return cfg
}

type harness struct {
	ctrl  *Controller
	pub   *fakePublisher
	audit *recordingAudit
	clock *fakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{pub: &fakePublisher{}, audit: &recordingAudit{}, clock: newFakeClock()}
	ctrl, err := NewController(cfg, Deps{
		Publisher: h.pub,
		Audit:     h.audit,
		Logger:    quietLogger(),
		Clock:     h.clock.Now,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func sensorPayload(device, sector string, readings map[string]float64) []byte {
	msg := map[string]any{"device_id": device}
	if sector != "" {
		msg["sector_id"] = sector
	}
	r := map[string]any{}
	for k, v := range readings {
		r[k] = map[string]any{"value": v}
	}
	msg["readings"] = r
	b, _ := json.Marshal(msg)
	return b
}

// fakeConsumer records its handler and blocks in ConsumeMessage until ctx is done.
type fakeConsumer struct {
	mu      sync.Mutex
	handler rabbitmq.Handler
	started chan struct{}
}

func newFakeConsumer() *fakeConsumer { return &fakeConsumer{started: make(chan struct{})} }

func (f *fakeConsumer) SetHandler(h rabbitmq.Handler) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeConsumer) ConsumeMessage(ctx context.Context) {
	close(f.started)
	<-ctx.Done()
}

func (f *fakeConsumer) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	return h(topic, fakeMessage{topic: topic, payload: payload})
}
