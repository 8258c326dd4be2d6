package messages

// ActuatorStatusMessage is the feedback a valve publishes on iot/actuators/{sector}/status.
type ActuatorStatusMessage struct {
	SectorID    string    `json:"sector_id"`
	ValveState  string    `json:"valve_state"`
	OpenPercent *float64  `json:"open_percent,omitempty"`
	Timestamp   Timestamp `json:"timestamp"`
}
