package entities

import (
	"fmt"
	"strings"
	"time"
)

// ValveState is the position of the valve controlling a sector.
type ValveState string

const (
	ValveUnknown       ValveState = ""
	ValveOpen          ValveState = "open"
	ValveClosed        ValveState = "closed"
	ValvePartiallyOpen ValveState = "partially_open"
)

// ParseValveState accepts the spellings actuators report in the field.
func ParseValveState(s string) (ValveState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "opened", "on":
		return ValveOpen, nil
	case "closed", "close", "off":
		return ValveClosed, nil
	case "partially_open", "partially-open", "partial":
		return ValvePartiallyOpen, nil
	}
	return ValveUnknown, fmt.Errorf("unknown valve state %q", s)
}

// Where an ActuatorState came from.
const (
	SourceCommand = "command" // optimistic, after a confirmed command publish
	SourceStatus  = "status"  // reported by the actuator itself
)

// ActuatorState is the last known valve position of one sector.
type ActuatorState struct {
	SectorID     string     `json:"sector_id"`
	State        ValveState `json:"state"`
	OpenPercent  float64    `json:"open_percent,omitempty"`
	LastActionAt time.Time  `json:"last_action_timestamp"`
	Source       string     `json:"source,omitempty"`
}
