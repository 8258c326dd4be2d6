package messages

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SensorDataMessage is what a bolt publishes on iot/sensors/{device}.
// Every reading is optional; a message with none of them carries no data.
type SensorDataMessage struct {
	DeviceID  string                 `json:"device_id"`
	SectorID  string                 `json:"sector_id,omitempty"`
	Timestamp Timestamp              `json:"timestamp"`
	Readings  map[string]Measurement `json:"readings"`
}

// Measurement is one sensor value. Bolts with older firmware send a bare number.
type Measurement struct {
	Value *float64 `json:"value"`
	Unit  string   `json:"unit,omitempty"`
}

func (m *Measurement) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '{' {
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return fmt.Errorf("measurement: %w", err)
		}
		m.Value = &v
		return nil
	}
	type plain Measurement
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*m = Measurement(p)
	return nil
}
