package controller

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartbolt/internal/model/entities"
	"github.com/LeonardoBeccarini/smartbolt/internal/model/messages"
)

// Ingest decodes inbound transport payloads into normalized records.
type Ingest struct {
	sensors       []string
	defaultSector string
	now           func() time.Time
}

// NewIngest keeps only the given sensor kinds of each reading.
func NewIngest(sensors []string, defaultSector string, now func() time.Time) *Ingest {
	if len(sensors) == 0 {
		sensors = entities.DefaultSensors
	}
	if defaultSector == "" {
		defaultSector = "default"
	}
	if now == nil {
		now = time.Now
	}
	return &Ingest{sensors: sensors, defaultSector: defaultSector, now: now}
}

// DecodeReading decodes a sensor-data payload. The device id falls back to the last topic
// segment (iot/sensors/{device}) and the sector to the default sector. A payload without any
// recognized sensor value returns ErrMissingData; partial readings are fine.
func (in *Ingest) DecodeReading(topic string, payload []byte) (entities.Reading, error) {
	var msg messages.SensorDataMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return entities.Reading{}, &DecodeError{Topic: topic, Err: err}
	}

	deviceID := strings.TrimSpace(msg.DeviceID)
	if deviceID == "" {
		deviceID = topicSegment(topic, 1)
	}
	if deviceID == "" {
		return entities.Reading{}, &DecodeError{Topic: topic, Err: errors.New("missing device_id")}
	}

	values := make(map[string]float64, len(in.sensors))
	for _, s := range in.sensors {
		m, ok := msg.Readings[s]
		if !ok || m.Value == nil || math.IsNaN(*m.Value) || math.IsInf(*m.Value, 0) {
			continue
		}
		values[s] = *m.Value
	}
	if len(values) == 0 {
		return entities.Reading{}, fmt.Errorf("device %s: %w", deviceID, ErrMissingData)
	}

	sector := strings.TrimSpace(msg.SectorID)
	if sector == "" {
		sector = in.defaultSector
	}
	return entities.Reading{
		DeviceID:  deviceID,
		SectorID:  sector,
		Timestamp: msg.Timestamp.Or(in.now()),
		Values:    values,
	}, nil
}

// DecodeActuatorStatus decodes valve feedback. The sector falls back to the topic
// (iot/actuators/{sector}/status).
func (in *Ingest) DecodeActuatorStatus(topic string, payload []byte) (entities.ActuatorState, error) {
	var msg messages.ActuatorStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return entities.ActuatorState{}, &DecodeError{Topic: topic, Err: err}
	}

	sector := strings.TrimSpace(msg.SectorID)
	if sector == "" {
		sector = topicSegment(topic, 2)
	}
	if sector == "" {
		return entities.ActuatorState{}, &DecodeError{Topic: topic, Err: errors.New("missing sector_id")}
	}

	state, err := entities.ParseValveState(msg.ValveState)
	if err != nil {
		return entities.ActuatorState{}, &DecodeError{Topic: topic, Err: err}
	}

	var pct float64
	switch {
	case msg.OpenPercent != nil:
		pct = *msg.OpenPercent
		if pct < 0 || pct > 100 || math.IsNaN(pct) {
			return entities.ActuatorState{}, &DecodeError{Topic: topic, Err: fmt.Errorf("open_percent %v out of range", pct)}
		}
	case state == entities.ValveOpen:
		pct = 100
	}

	return entities.ActuatorState{
		SectorID:     sector,
		State:        state,
		OpenPercent:  pct,
		LastActionAt: msg.Timestamp.Or(in.now()),
		Source:       entities.SourceStatus,
	}, nil
}

// topicSegment returns the n-th segment from the end, 1 being the last.
// Wildcards and an empty result return "".
func topicSegment(topic string, n int) string {
	parts := strings.Split(strings.Trim(topic, "/"), "/")
	if len(parts) < n+1 {
		return ""
	}
	seg := parts[len(parts)-n]
	if seg == "+" || seg == "#" {
		return ""
	}
	return seg
}

// redeliveryKey identifies a payload that can be recognized as a broker redelivery: one that
// carries the sender timestamp. Without it two identical payloads may be two real samples,
// so the key is empty and the message is always processed.
func redeliveryKey(topic string, payload []byte) string {
	var head struct {
		Timestamp messages.Timestamp `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Timestamp.IsZero() {
		return ""
	}
	h := sha256.Sum256(payload)
	return topic + "|" + hex.EncodeToString(h[:])
}
