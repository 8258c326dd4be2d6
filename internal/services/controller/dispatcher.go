package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
	"github.com/LeonardoBeccarini/smartbolt/internal/services/controller/condition"
	"github.com/LeonardoBeccarini/smartbolt/pkg/rabbitmq"
)

// Outcome of dispatching one triggered rule.
type Outcome string

const (
	OutcomePublished     Outcome = "published"
	OutcomeNoop          Outcome = "noop"
	OutcomeUnknownAction Outcome = "unknown_action"
	OutcomeFailed        Outcome = "failed"
)

// DispatchResult reports what happened to one triggered rule.
type DispatchResult struct {
	RuleID   string                 `json:"rule_id"`
	SectorID string                 `json:"sector_id"`
	Action   Action                 `json:"action"`
	Outcome  Outcome                `json:"outcome"`
	Command  *messages.ValveCommand `json:"command,omitempty"`
	Alert    *messages.Alert        `json:"alert,omitempty"`
	// Err is set for failed and unknown_action outcomes.
	Err error `json:"-"`
	// AlertErr is set when the command went out but its alert did not.
	AlertErr error `json:"-"`
}

// OK reports whether the valve is now in the state the rule asked for.
func (r DispatchResult) OK() bool {
	return r.Outcome == OutcomePublished || r.Outcome == OutcomeNoop
}

// AuditSink records every command and alert the dispatcher publishes.
type AuditSink interface {
	RecordCommand(cmd messages.ValveCommand)
	RecordAlert(a messages.Alert)
}

// DispatcherConfig holds topics and identity of the dispatcher.
type DispatcherConfig struct {
	DefaultSector string
	// CommandTopic may contain {sector}.
	CommandTopic   string
	AlertTopic     string
	Source         string
	PublishTimeout time.Duration
}

// Dispatcher turns fired rules into valve commands and alerts. Commands are idempotent:
// a sector already in the requested state gets no command.
type Dispatcher struct {
	cfg       DispatcherConfig
	cache     *StateCache
	pubMu     sync.RWMutex
	publisher rabbitmq.IPublisher
	audit     AuditSink
	sectors   keyedMutex
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, cache *StateCache, publisher rabbitmq.IPublisher,
	audit AuditSink, metrics *Metrics, logger *slog.Logger, now func() time.Time) *Dispatcher {
	if cfg.DefaultSector == "" {
		cfg.DefaultSector = "default"
	}
	if cfg.CommandTopic == "" {
		cfg.CommandTopic = "iot/actuators/{sector}/command"
	}
	if cfg.AlertTopic == "" {
		cfg.AlertTopic = "iot/alerts"
	}
	if cfg.Source == "" {
		cfg.Source = "control-logic"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		cfg:       cfg,
		cache:     cache,
		publisher: publisher,
		audit:     audit,
		metrics:   metrics,
		logger:    logger.With("component", "dispatcher"),
		now:       now,
	}
}

// Handle dispatches the triggered rules in order. Failures are reported per rule; nothing is retried.
func (d *Dispatcher) Handle(ctx context.Context, triggered []TriggeredRule) []DispatchResult {
	results := make([]DispatchResult, 0, len(triggered))
	for _, tr := range triggered {
		res := d.dispatch(ctx, tr)
		d.metrics.dispatched(tr.Action, res.Outcome)
		results = append(results, res)
	}
	return results
}

type valveIntent struct {
	state    entities.ValveState
	percent  float64
	command  string
	severity string
	verb     string
}

func intentFor(a Action) (valveIntent, bool) {
	switch a {
	case ActionCloseValve:
		return valveIntent{entities.ValveClosed, 0, messages.CommandClose, messages.SeverityWarning, "closing"}, true
	case ActionOpenValve:
		return valveIntent{entities.ValveOpen, 100, messages.CommandOpen, messages.SeverityInfo, "opening"}, true
	}
	return valveIntent{}, false
}

// SectorFor resolves the sector of a device from its cached reading.
func (d *Dispatcher) SectorFor(deviceID string) string {
	if r, ok := d.cache.Reading(deviceID); ok && r.SectorID != "" {
		return r.SectorID
	}
	return d.cfg.DefaultSector
}

func (d *Dispatcher) dispatch(ctx context.Context, tr TriggeredRule) DispatchResult {
	sector := d.SectorFor(tr.DeviceID)
	res := DispatchResult{RuleID: tr.RuleID, SectorID: sector, Action: tr.Action}

	intent, ok := intentFor(tr.Action)
	if !ok {
		res.Outcome = OutcomeUnknownAction
		res.Err = &UnknownActionError{RuleID: tr.RuleID, Action: string(tr.Action)}
		d.logger.Warn("dispatch.unknown_action", "rule_id", tr.RuleID, "action", tr.Action, "sector_id", sector)
		return res
	}

	// check, publish and update are one step per sector
	unlock := d.sectors.Lock(sector)
	defer unlock()

	if cur, ok := d.cache.ActuatorState(sector); ok && cur.State == intent.state {
		res.Outcome = OutcomeNoop
		d.logger.Info("dispatch.noop", "rule_id", tr.RuleID, "sector_id", sector, "state", cur.State,
			"device_id", tr.DeviceID)
		return res
	}

	now := d.now()
	cmd := messages.ValveCommand{
		CommandID: uuid.NewString(),
		SectorID:  sector,
		Action:    intent.command,
		RuleID:    tr.RuleID,
		DeviceID:  tr.DeviceID,
		Timestamp: now.UTC(),
		Source:    d.cfg.Source,
	}
	topic := strings.ReplaceAll(d.cfg.CommandTopic, "{sector}", sector)
	if err := d.publish(ctx, topic, cmd); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		d.metrics.publishFailed("command")
		d.logger.Error("dispatch.command_failed", "rule_id", tr.RuleID, "sector_id", sector,
			"action", cmd.Action, "error", err)
		return res
	}
	res.Command = &cmd

	d.cache.PutActuatorState(entities.ActuatorState{
		SectorID:     sector,
		State:        intent.state,
		OpenPercent:  intent.percent,
		LastActionAt: now,
		Source:       entities.SourceCommand,
	})
	if d.audit != nil {
		d.audit.RecordCommand(cmd)
	}
	d.logger.Info("dispatch.command", "rule_id", tr.RuleID, "sector_id", sector, "action", cmd.Action,
		"command_id", cmd.CommandID)

	alert := messages.Alert{
		Timestamp: now.UTC(),
		Source:    d.cfg.Source,
		Severity:  intent.severity,
		Message:   alertText(tr, sector, intent.verb),
		RuleID:    tr.RuleID,
		SectorID:  sector,
		DeviceID:  tr.DeviceID,
	}
	res.Outcome = OutcomePublished
	res.Alert = &alert
	if err := d.publish(ctx, d.cfg.AlertTopic, alert); err != nil {
		res.AlertErr = err
		d.metrics.publishFailed("alert")
		d.logger.Warn("dispatch.alert_failed", "rule_id", tr.RuleID, "sector_id", sector, "error", err)
		return res
	}
	if d.audit != nil {
		d.audit.RecordAlert(alert)
	}
	return res
}

// SetPublisher swaps the transport used for commands and alerts.
func (d *Dispatcher) SetPublisher(p rabbitmq.IPublisher) {
	d.pubMu.Lock()
	d.publisher = p
	d.pubMu.Unlock()
}

func (d *Dispatcher) publish(ctx context.Context, topic string, v any) error {
	d.pubMu.RLock()
	publisher := d.publisher
	d.pubMu.RUnlock()
	if publisher == nil {
		return &PublishError{Topic: topic, Err: ErrNoTransport}
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PublishTimeout)
	defer cancel()
	if err := publisher.Publish(ctx, topic, payload); err != nil {
		return &PublishError{Topic: topic, Err: err}
	}
	return nil
}

// alertText reads like
// "rule high_temperature: closing valve on sector s1, temperature=90 > max_temperature=80 (device bolt-1)".
func alertText(tr TriggeredRule, sector, verb string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rule %s: %s valve on sector %s", tr.RuleID, verb, sector)
	if len(tr.Matches) > 0 {
		b.WriteString(", ")
		b.WriteString(condition.Describe(tr.Matches))
	} else if len(tr.Values) > 0 {
		b.WriteString(", ")
		b.WriteString(formatValues(tr.Values))
	}
	fmt.Fprintf(&b, " (device %s)", tr.DeviceID)
	if tr.Description != "" {
		fmt.Fprintf(&b, ": %s", tr.Description)
	}
	return b.String()
}

func formatValues(values map[string]float64) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat(values[k], 'g', -1, 64)
	}
	return strings.Join(parts, ", ")
}
