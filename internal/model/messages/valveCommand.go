package messages

import "time"

// Valve command actions on the wire.
const (
	CommandOpen  = "open"
	CommandClose = "close"
)

// ValveCommand is published on iot/actuators/{sector}/command when a rule changes a valve.
type ValveCommand struct {
	CommandID string    `json:"command_id"`
	SectorID  string    `json:"sector_id"`
	Action    string    `json:"action"` // "open" | "close"
	RuleID    string    `json:"rule_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}
