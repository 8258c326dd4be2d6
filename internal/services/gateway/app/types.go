package app

import (
	"github.com/LeonardoBeccarini/smartbolt/internal/model"
)

// ---------- Upstream payloads ----------

// controllerStatus is the subset of the controller /status document the dashboard needs.
type controllerStatus struct {
	ControlEnabled bool                           `json:"control_enabled"`
	ValveStates    map[string]model.ActuatorState `json:"valve_states"`
	LastReadings   map[string]model.Reading       `json:"last_readings"`
}

// Event mirrors one entry of the event service /events/latest.
type Event struct {
	Time      string `json:"time"`
	EventType string `json:"event_type"`
	SectorID  string `json:"sector_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	RuleID    string `json:"rule_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Summary   string `json:"summary"`
}

// ---------- Dashboard ----------

type Valve struct {
	SectorID string `json:"sector_id"`
	State    string `json:"state"`
	Since    string `json:"since,omitempty"` // RFC3339
}

type Device struct {
	DeviceID string             `json:"device_id"`
	SectorID string             `json:"sector_id"`
	Values   map[string]float64 `json:"values"`
	Time     string             `json:"time"` // RFC3339
}

// Stats summarises one sensor kind across the latest readings.
type Stats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

type DashboardData struct {
	ControlEnabled bool             `json:"control_enabled"`
	Devices        []Device         `json:"devices"`
	Valves         []Valve          `json:"valves"`
	Events         []Event          `json:"events"`
	Stats          map[string]Stats `json:"stats"`
	// upstreams that failed for this response
	Degraded []string `json:"degraded,omitempty"`
}
