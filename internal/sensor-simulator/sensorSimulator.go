package sensor_simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
	"github.com/LeonardoBeccarini/smartbolt/pkg/dedup"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

// Topics used by the simulator. {device} and {sector} are replaced per message.
type Topics struct {
	Telemetry string // iot/sensors/{device}
	Status    string // iot/actuators/{sector}/status
}

func DefaultTopics() Topics {
	return Topics{
		Telemetry: "iot/sensors/{device}",
		Status:    "iot/actuators/{sector}/status",
	}
}

// SensorSimulator plays a set of bolts and the valves of their sectors: it publishes telemetry
// on every tick and answers valve commands with a status report.
type SensorSimulator struct {
	gens      []*DataGenerator
	bySector  map[string][]*DataGenerator
	publisher rabbitmq.IPublisher
	consumer  rabbitmq.IConsumer
	deduper   *dedup.Deduper
	limiter   *rate.Limiter
	topics    Topics
	logger    *slog.Logger
	now       func() time.Time
}

// NewSensorSimulator caps publishing at perSecond messages (0 means unlimited).
func NewSensorSimulator(consumer rabbitmq.IConsumer, publisher rabbitmq.IPublisher, topics Topics,
	perSecond float64, logger *slog.Logger, gens ...*DataGenerator) *SensorSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	s := &SensorSimulator{
		gens:      gens,
		bySector:  make(map[string][]*DataGenerator),
		publisher: publisher,
		consumer:  consumer,
		deduper:   dedup.New(2*time.Minute, 10000),
		limiter:   rate.NewLimiter(limit, len(gens)+1),
		topics:    topics,
		logger:    logger.With("component", "simulator"),
		now:       time.Now,
	}
	for _, g := range gens {
		sec := g.Device().SectorID
		s.bySector[sec] = append(s.bySector[sec], g)
	}
	return s
}

// Start consumes valve commands and publishes telemetry every interval until ctx is done.
func (s *SensorSimulator) Start(ctx context.Context, interval time.Duration) {
	if s.consumer != nil {
		s.consumer.SetHandler(s.handleMessage)
		go s.consumer.ConsumeMessage(ctx)
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := s.PublishTick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("telemetry.publish_failed", "error", err)
			}
		}
	}
}

// PublishTick publishes one reading per device.
func (s *SensorSimulator) PublishTick(ctx context.Context) error {
	var errs []error
	for _, g := range s.gens {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		sd := g.Next(s.now())
		payload, err := json.Marshal(sd)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		topic := formatTopic(s.topics.Telemetry, sd.DeviceID, sd.SectorID)
		if err := s.publisher.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sd.DeviceID, err))
			continue
		}
		s.logger.Debug("telemetry.published", "device_id", sd.DeviceID, "sector_id", sd.SectorID, "topic", topic)
	}
	return errors.Join(errs...)
}

func (s *SensorSimulator) handleMessage(topic string, msg mqtt.Message) error {
	// QoS1 redelivery carries the same payload
	if !s.deduper.ShouldProcessPayload(msg.Payload()) {
		return nil
	}
	return s.HandleCommand(context.Background(), topic, msg.Payload())
}

// HandleCommand applies a valve command to the sector's bolts and reports the new valve state.
func (s *SensorSimulator) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	var cmd model.ValveCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid ValveCommand: %w", err)
	}
	sector := cmd.SectorID
	if sector == "" {
		if parts := strings.Split(topic, "/"); len(parts) >= 2 {
			sector = parts[len(parts)-2]
		}
	}
	gens, ok := s.bySector[sector]
	if !ok {
		// another simulator owns it
		return nil
	}

	var (
		state   model.ValveState
		percent float64
	)
	switch cmd.Action {
	case messages.CommandOpen:
		state, percent = model.ValveOpen, 100
	case messages.CommandClose:
		state, percent = model.ValveClosed, 0
	default:
		return fmt.Errorf("unknown valve action %q", cmd.Action)
	}
	for _, g := range gens {
		g.SetValve(state)
	}
	s.logger.Info("valve.applied", "sector_id", sector, "state", state, "rule_id", cmd.RuleID)

	status := model.ActuatorStatusMessage{
		SectorID:    sector,
		ValveState:  string(state),
		OpenPercent: &percent,
		Timestamp:   messages.Timestamp{Time: s.now().UTC()},
	}
	b, err := json.Marshal(status)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.publisher.Publish(ctx, formatTopic(s.topics.Status, "", sector), b)
}

func formatTopic(tmpl, deviceID, sectorID string) string {
	return strings.NewReplacer("{device}", deviceID, "{sector}", sectorID).Replace(tmpl)
}
