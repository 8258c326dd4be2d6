package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller/condition"
	"github.com/LeonardoBeccarini/smartbolt/pkg/dedup"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

// Deps are the collaborators of a Controller. A nil Publisher runs the controller with control
// disabled: readings and statuses are still cached and served, rules are not evaluated.
type Deps struct {
	Publisher rabbitmq.IPublisher
	Audit     AuditSink
	Metrics   *Metrics
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Controller wires ingest, rule store, evaluator, dispatcher and state cache into one pipeline.
type Controller struct {
	cfg        Config
	ingest     *Ingest
	store      *RuleStore
	evaluator  *Evaluator
	dispatcher *Dispatcher
	cache      *StateCache

	// one evaluate+dispatch pass per device at a time
	devices keyedMutex

	deduper *dedup.Deduper

	mu        sync.Mutex
	consumers []rabbitmq.IConsumer
	runCtx    context.Context // set by Start

	control atomic.Bool
	metrics *Metrics
	logger    *slog.Logger
}

// Status is the answer to get_status.
type Status struct {
	ControlEnabled bool                              `json:"control_enabled"`
	ValveStates    map[string]entities.ActuatorState `json:"valve_states"`
	LastReadings   map[string]entities.Reading       `json:"last_readings"`
	ActiveRules    []RuleSnapshot                    `json:"active_rules"`
	Thresholds     map[string]float64                `json:"thresholds"`
}

// NewController builds the pipeline and loads the startup rules: RulesPath when set, DefaultRules otherwise.
// Invalid startup rules are logged and skipped; an unreadable rules file is an error.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	startup := DefaultRules()
	if cfg.RulesPath != "" {
		loaded, err := LoadRuleFile(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		startup = loaded
	}

	store := NewRuleStore(condition.Options{Fields: cfg.Sensors, Thresholds: cfg.Thresholds}, cfg.DefaultCooldown, logger)
	store.metrics = deps.Metrics
	if err := store.LoadDefaultRules(startup); err != nil {
		logger.Warn("rules.partial_load", "loaded", store.Len(), "error", err)
	}

	cache := NewStateCache()
	c := &Controller{
		cfg:       cfg,
		ingest:    NewIngest(cfg.Sensors, cfg.DefaultSector, now),
		store:     store,
		evaluator: NewEvaluator(store, now, deps.Metrics, logger),
		dispatcher: NewDispatcher(DispatcherConfig{
			DefaultSector:  cfg.DefaultSector,
			CommandTopic:   cfg.CommandTopic,
			AlertTopic:     cfg.AlertTopic,
			Source:         cfg.Source,
			PublishTimeout: cfg.PublishTimeout,
		}, cache, deps.Publisher, deps.Audit, deps.Metrics, logger, now),
		cache:   cache,
		deduper: dedup.New(cfg.DedupTTL, cfg.DedupMax).WithClock(now),
		metrics: deps.Metrics,
		logger:  logger.With("component", "controller"),
	}
	c.control.Store(deps.Publisher != nil)
	if !c.control.Load() {
		c.logger.Warn("control.disabled", "reason", ErrNoTransport)
	}
	c.logger.Info("controller.ready", "rules", store.Len(), "sensors", cfg.Sensors, "default_sector", cfg.DefaultSector)
	return c, nil
}

// AttachConsumers sets the controller handlers on the sensor-data and actuator-status consumers.
// Consumers attached after Start begin consuming right away.
func (c *Controller) AttachConsumers(sensorData, actuatorStatus rabbitmq.IConsumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range []struct {
		cons    rabbitmq.IConsumer
		handler rabbitmq.Handler
	}{
		{sensorData, c.HandleSensorData},
		{actuatorStatus, c.HandleActuatorStatus},
	} {
		if a.cons == nil {
			continue
		}
		a.cons.SetHandler(a.handler)
		c.consumers = append(c.consumers, a.cons)
		if c.runCtx != nil {
			go a.cons.ConsumeMessage(c.runCtx)
		}
	}
}

// EnableControl turns control on once a transport is available, for a controller that started
// in limited mode.
func (c *Controller) EnableControl(publisher rabbitmq.IPublisher, sensorData, actuatorStatus rabbitmq.IConsumer) error {
	if publisher == nil {
		return ErrNoTransport
	}
	c.dispatcher.SetPublisher(publisher)
	c.AttachConsumers(sensorData, actuatorStatus)
	if !c.control.Swap(true) {
		c.logger.Info("control.enabled")
	}
	return nil
}

// Start consumes until ctx is done.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	for _, cons := range c.consumers {
		go cons.ConsumeMessage(ctx)
	}
	c.mu.Unlock()
	<-ctx.Done()
}

func (c *Controller) ControlEnabled() bool { return c.control.Load() }

// HandleSensorData is the transport callback for sensor-data messages.
// QoS1 redeliveries of timestamped payloads are dropped before decoding.
func (c *Controller) HandleSensorData(topic string, msg mqtt.Message) error {
	if !c.deduper.ShouldProcess(redeliveryKey(topic, msg.Payload())) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.passTimeout())
	defer cancel()
	_, err := c.ProcessSensorData(ctx, topic, msg.Payload())
	if errors.Is(err, ErrMissingData) {
		// already logged
		return nil
	}
	return err
}

// HandleActuatorStatus is the transport callback for valve feedback. Only timestamped
// reports are deduplicated; ordering in the state cache handles older replays.
func (c *Controller) HandleActuatorStatus(topic string, msg mqtt.Message) error {
	if !c.deduper.ShouldProcess(redeliveryKey(topic, msg.Payload())) {
		return nil
	}
	return c.ProcessActuatorStatus(topic, msg.Payload())
}

// passTimeout bounds one pipeline pass: every triggered rule may publish a command and an alert.
func (c *Controller) passTimeout() time.Duration {
	n := c.store.Len()
	if n < 1 {
		n = 1
	}
	return time.Duration(2*n) * c.dispatcher.cfg.PublishTimeout
}

// ProcessSensorData decodes a sensor-data payload and runs it through the pipeline.
func (c *Controller) ProcessSensorData(ctx context.Context, topic string, payload []byte) ([]DispatchResult, error) {
	c.metrics.received("sensor_data")
	r, err := c.ingest.DecodeReading(topic, payload)
	if err != nil {
		if errors.Is(err, ErrMissingData) {
			c.metrics.decodeError("sensor_data", "missing_data")
			c.logger.Warn("reading.discarded", "topic", topic, "error", err)
		} else {
			c.metrics.decodeError("sensor_data", "malformed")
			c.logger.Warn("reading.malformed", "topic", topic, "error", err)
		}
		return nil, err
	}
	return c.Process(ctx, r), nil
}

// Process caches r and, with control enabled, evaluates and dispatches it. Passes for the
// same device never interleave; passes for different devices run in parallel.
func (c *Controller) Process(ctx context.Context, r entities.Reading) []DispatchResult {
	if len(r.Values) == 0 {
		c.logger.Warn("reading.discarded", "device_id", r.DeviceID, "error", ErrMissingData)
		return nil
	}

	unlock := c.devices.Lock(r.DeviceID)
	defer unlock()

	c.cache.PutReading(r)
	if !c.control.Load() {
		return nil
	}

	triggered := c.evaluator.Evaluate(r.DeviceID, r.Values)
	if len(triggered) == 0 {
		return nil
	}
	results := c.dispatcher.Handle(ctx, triggered)
	for _, res := range results {
		if res.Err != nil && res.Outcome == OutcomeFailed {
			c.logger.Warn("pipeline.dispatch_failed", "device_id", r.DeviceID, "rule_id", res.RuleID, "error", res.Err)
		}
	}
	return results
}

// ProcessActuatorStatus writes valve feedback straight into the state cache. Feedback older
// than the state already cached is ignored.
func (c *Controller) ProcessActuatorStatus(topic string, payload []byte) error {
	c.metrics.received("actuator_status")
	s, err := c.ingest.DecodeActuatorStatus(topic, payload)
	if err != nil {
		c.metrics.decodeError("actuator_status", "malformed")
		c.logger.Warn("status.malformed", "topic", topic, "error", err)
		return err
	}
	if prev, ok := c.cache.ActuatorState(s.SectorID); ok && prev.State != s.State && prev.Source == entities.SourceCommand {
		c.logger.Info("status.reconciled", "sector_id", s.SectorID, "commanded", prev.State, "reported", s.State)
	}
	if !c.cache.ApplyActuatorState(s) {
		c.logger.Debug("status.stale", "sector_id", s.SectorID, "at", s.LastActionAt)
	}
	return nil
}

// Status returns valve states, last readings and rules. It reads the cache, so it reflects the
// latest write regardless of which path made it.
func (c *Controller) Status() Status {
	snap := c.cache.Snapshot()
	return Status{
		ControlEnabled: c.control.Load(),
		ValveStates:    snap.Actuators,
		LastReadings:   snap.Readings,
		ActiveRules:    c.store.List(),
		Thresholds:     c.store.Thresholds(),
	}
}

func (c *Controller) AddRule(cfg RuleConfig) (string, error) { return c.store.Add(cfg) }
func (c *Controller) RemoveRule(id string) bool              { return c.store.Remove(id) }
func (c *Controller) ListRules() []RuleSnapshot              { return c.store.List() }

// Rule returns one rule snapshot.
func (c *Controller) Rule(id string) (RuleSnapshot, bool) { return c.store.Get(id) }
