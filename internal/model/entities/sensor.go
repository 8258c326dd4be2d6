package entities

// Sensor kinds understood by the default rules and the simulator.
const (
	SensorTemperature = "temperature"
	SensorPressure    = "pressure"
)

// DefaultSensors is the recognized sensor set when none is configured.
var DefaultSensors = []string{SensorTemperature, SensorPressure}

// Device represents a single smart bolt installed on a sector.
type Device struct {
	ID       string `json:"id"`        // unique device identifier
	SectorID string `json:"sector_id"` // pipeline segment the bolt sits on

	// baseline values the simulator drifts around
	Temperature float64 `json:"temperature,omitempty"` // °C
	Pressure    float64 `json:"pressure,omitempty"`    // bar
}
