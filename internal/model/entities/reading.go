package entities

import "time"

// Reading is one normalized telemetry sample. Values is keyed by sensor kind.
type Reading struct {
	DeviceID  string             `json:"device_id"`
	SectorID  string             `json:"sector_id"`
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

func (r Reading) Value(sensor string) (float64, bool) {
	v, ok := r.Values[sensor]
	return v, ok
}

// Clone returns a copy that shares no map with r.
func (r Reading) Clone() Reading {
	out := r
	out.Values = make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		out.Values[k] = v
	}
	return out
}
