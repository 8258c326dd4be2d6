package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
)

// Event types recorded in the audit trail.
const (
	TypeValveCommand   = "valve.command"
	TypeAlert          = "alert"
	TypeActuatorStatus = "actuator.status"
)

type CommonEvent struct {
	EventType     string // valve.command | alert | actuator.status
	SourceService string
	SectorID      string
	DeviceID      string
	RuleID        string
	Severity      string // info|warning
	Summary       string
	Fields        map[string]interface{}
	Timestamp     time.Time
}

// Topics holds the MQTT filters the handler recognises.
type Topics struct {
	Command string // iot/actuators/+/command
	Status  string // iot/actuators/+/status
	Alert   string // iot/alerts
}

func DefaultTopics() Topics {
	return Topics{
		Command: "iot/actuators/+/command",
		Status:  "iot/actuators/+/status",
		Alert:   "iot/alerts",
	}
}

// Filters returns the non-empty filters to subscribe to.
func (t Topics) Filters() []string {
	out := make([]string, 0, 3)
	for _, f := range []string{t.Command, t.Status, t.Alert} {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}

// MQTTHandler turns MQTT deliveries into CommonEvent and hands them to sink.
type MQTTHandler struct {
	topics Topics
	sink   func(CommonEvent)
	now    func() time.Time
}

func NewMQTTHandler(topics Topics, sink func(CommonEvent)) *MQTTHandler {
	return &MQTTHandler{topics: topics, sink: sink, now: time.Now}
}

func (h *MQTTHandler) Handle(_ string, m mqtt.Message) error {
	evt, ok, err := h.Decode(m.Topic(), m.Payload())
	if err != nil || !ok {
		return err
	}
	if h.sink != nil {
		h.sink(evt)
	}
	return nil
}

// Decode reports ok=false for topics outside the configured filters.
func (h *MQTTHandler) Decode(topic string, payload []byte) (CommonEvent, bool, error) {
	var (
		evt CommonEvent
		err error
	)
	switch {
	case MatchTopic(h.topics.Command, topic):
		evt, err = decodeCommand(topic, payload)
	case MatchTopic(h.topics.Status, topic):
		evt, err = decodeStatus(topic, payload)
	case MatchTopic(h.topics.Alert, topic):
		evt, err = decodeAlert(payload)
	default:
		return CommonEvent{}, false, nil
	}
	if err != nil {
		return CommonEvent{}, false, fmt.Errorf("%s: %w", topic, err)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = h.now().UTC()
	}
	return evt, true, nil
}

func decodeCommand(topic string, payload []byte) (CommonEvent, error) {
	var c model.ValveCommand
	if err := json.Unmarshal(payload, &c); err != nil {
		return CommonEvent{}, err
	}
	if c.SectorID == "" {
		c.SectorID = sectorFromTopic(topic)
	}
	if c.SectorID == "" || c.Action == "" {
		return CommonEvent{}, errors.New("command: missing sector/action")
	}
	return CommandEvent(c), nil
}

func decodeAlert(payload []byte) (CommonEvent, error) {
	var a model.Alert
	if err := json.Unmarshal(payload, &a); err != nil {
		return CommonEvent{}, err
	}
	if strings.TrimSpace(a.Message) == "" {
		return CommonEvent{}, errors.New("alert: empty message")
	}
	return AlertEvent(a), nil
}

func decodeStatus(topic string, payload []byte) (CommonEvent, error) {
	var s model.ActuatorStatusMessage
	if err := json.Unmarshal(payload, &s); err != nil {
		return CommonEvent{}, err
	}
	if s.SectorID == "" {
		s.SectorID = sectorFromTopic(topic)
	}
	if s.SectorID == "" || s.ValveState == "" {
		return CommonEvent{}, errors.New("status: missing sector/valve_state")
	}
	fields := map[string]interface{}{"valve_state": s.ValveState}
	if s.OpenPercent != nil {
		fields["open_percent"] = *s.OpenPercent
	}
	return CommonEvent{
		EventType:     TypeActuatorStatus,
		SourceService: "actuator",
		SectorID:      s.SectorID,
		Severity:      messages.SeverityInfo,
		Summary:       fmt.Sprintf("valve %s reports %s", s.SectorID, s.ValveState),
		Fields:        fields,
		Timestamp:     s.Timestamp.Time,
	}, nil
}

// CommandEvent converts a published valve command.
func CommandEvent(c model.ValveCommand) CommonEvent {
	return CommonEvent{
		EventType:     TypeValveCommand,
		SourceService: c.Source,
		SectorID:      c.SectorID,
		DeviceID:      c.DeviceID,
		RuleID:        c.RuleID,
		Severity:      messages.SeverityInfo,
		Summary:       fmt.Sprintf("%s valve %s", c.Action, c.SectorID),
		Fields: map[string]interface{}{
			"action":     c.Action,
			"command_id": c.CommandID,
		},
		Timestamp: c.Timestamp,
	}
}

// AlertEvent converts a published alert.
func AlertEvent(a model.Alert) CommonEvent {
	sev := a.Severity
	if sev == "" {
		sev = messages.SeverityInfo
	}
	return CommonEvent{
		EventType:     TypeAlert,
		SourceService: a.Source,
		SectorID:      a.SectorID,
		DeviceID:      a.DeviceID,
		RuleID:        a.RuleID,
		Severity:      sev,
		Summary:       a.Message,
		Timestamp:     a.Timestamp,
	}
}

// sectorFromTopic reads iot/actuators/{sector}/<leaf>.
func sectorFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return ""
}

// MatchTopic reports whether topic matches an MQTT filter with + and # wildcards.
func MatchTopic(filter, topic string) bool {
	if filter == "" {
		return false
	}
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
