package event

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type healthHandler struct {
	mqtt   mqtt.Client
	writer *Writer
	grace  time.Duration
}

// NewHealthHandler reports ok, degraded or down; it always answers 200.
func NewHealthHandler(m mqtt.Client, w *Writer, grace time.Duration) http.Handler {
	return &healthHandler{mqtt: m, writer: w, grace: grace}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string           `json:"status"`
		MQTTConnected   bool             `json:"mqtt_connected"`
		InfluxOK        bool             `json:"influx_ok"`
		LastWriteErrorS float64          `json:"last_write_error_age_sec"`
		Recorded        map[string]int64 `json:"recorded"`
	}
	st := status{
		MQTTConnected:   h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		InfluxOK:        h.writer.Healthy(h.grace) == nil,
		LastWriteErrorS: h.writer.LastErrorAge().Seconds(),
		Recorded: map[string]int64{
			TypeValveCommand:   h.writer.Count(TypeValveCommand),
			TypeAlert:          h.writer.Count(TypeAlert),
			TypeActuatorStatus: h.writer.Count(TypeActuatorStatus),
		},
	}

	switch {
	case st.MQTTConnected && st.InfluxOK:
		st.Status = "ok"
	case st.MQTTConnected || st.InfluxOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	mqtt   mqtt.Client
	writer *Writer
	grace  time.Duration
}

// NewReadyHandler answers 200 only when every dependency is ok.
func NewReadyHandler(m mqtt.Client, w *Writer, grace time.Duration) http.Handler {
	return &readyHandler{mqtt: m, writer: w, grace: grace}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() && h.writer.Healthy(h.grace) == nil
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]bool{"ready": ready})
}
