package event

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartbolt/internal/model"
)

var ts = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type capture struct {
	mu     sync.Mutex
	points []*write.Point
}

func (c *capture) write(p *write.Point) {
	c.mu.Lock()
	c.points = append(c.points, p)
	c.mu.Unlock()
}

func (c *capture) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, write.PointToLineProtocol(p, time.Second))
	}
	return out
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"iot/actuators/+/command", "iot/actuators/s1/command", true},
		{"iot/actuators/+/command", "iot/actuators/s1/status", false},
		{"iot/actuators/+/command", "iot/actuators/s1/command/extra", false},
		{"iot/alerts", "iot/alerts", true},
		{"iot/#", "iot/actuators/s1/status", true},
		{"iot/alerts", "iot", false},
		{"", "iot/alerts", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTopic(tt.filter, tt.topic), "%s ~ %s", tt.filter, tt.topic)
	}
}

func TestMQTTHandler_Decode(t *testing.T) {
	h := NewMQTTHandler(DefaultTopics(), nil)
	h.now = func() time.Time { return ts }

	evt, ok, err := h.Decode("iot/actuators/s1/command",
		[]byte(`{"command_id":"c-1","sector_id":"s1","action":"close","rule_id":"high_temperature","device_id":"bolt-1","timestamp":"2024-05-01T12:00:00Z","source":"control-logic"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeValveCommand, evt.EventType)
	assert.Equal(t, "high_temperature", evt.RuleID)
	assert.Equal(t, "close valve s1", evt.Summary)
	assert.Equal(t, "control-logic", evt.SourceService)

	evt, ok, err = h.Decode("iot/actuators/s9/status", []byte(`{"valve_state":"open","open_percent":40,"timestamp":1714564800}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeActuatorStatus, evt.EventType)
	assert.Equal(t, "s9", evt.SectorID, "sector falls back to the topic")
	assert.Equal(t, 40.0, evt.Fields["open_percent"])
	assert.Equal(t, ts, evt.Timestamp.UTC())

	evt, ok, err = h.Decode("iot/alerts", []byte(`{"severity":"warning","message":"rule high_pressure: closing valve","source":"control-logic"}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "warning", evt.Severity)
	assert.Equal(t, ts, evt.Timestamp, "missing timestamp uses the clock")

	_, ok, err = h.Decode("iot/sensors/bolt-1", []byte(`{}`))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = h.Decode("iot/alerts", []byte(`{"message":""}`))
	assert.Error(t, err)
	_, _, err = h.Decode("iot/actuators/s1/command", []byte(`not json`))
	assert.Error(t, err)
}

func TestEventToPoint(t *testing.T) {
	p := EventToPoint(CommandEvent(model.ValveCommand{
		CommandID: "c-1", SectorID: "s1", Action: "close", RuleID: "high_temperature",
		DeviceID: "bolt-1", Timestamp: ts, Source: "control-logic",
	}))
	line := write.PointToLineProtocol(p, time.Second)

	assert.True(t, strings.HasPrefix(line, Measurement+","), line)
	for _, want := range []string{
		"event_type=valve.command", "sector_id=s1", "device_id=bolt-1", "rule_id=high_temperature",
		`summary="close valve s1"`, `action="close"`, "count=1i", "1714564800",
	} {
		assert.Contains(t, line, want)
	}
}

func TestWriter_RecordsAndTracksErrors(t *testing.T) {
	c := &capture{}
	flushed := false
	w := newWriter(c.write, func() { flushed = true }, quiet())

	w.RecordCommand(model.ValveCommand{SectorID: "s1", Action: "open", Timestamp: ts, Source: "control-logic"})
	w.RecordAlert(model.Alert{Message: "rule low_pressure: opening valve", Severity: "warning", Timestamp: ts})
	w.Flush()

	assert.True(t, flushed)
	assert.Len(t, c.lines(), 2)
	assert.Equal(t, int64(1), w.Count(TypeValveCommand))
	assert.Equal(t, int64(1), w.Count(TypeAlert))
	assert.NoError(t, w.Healthy(30*time.Second))

	w.markError(errors.New("401 unauthorized"))
	err := w.Healthy(30 * time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401 unauthorized")

	var nilWriter *Writer
	nilWriter.Record(CommonEvent{})
	assert.Error(t, nilWriter.Healthy(time.Second))
}

func TestBuildFlux(t *testing.T) {
	q := buildFlux("events", latestQuery{Minutes: 60, Limit: 5, EventType: "alert", SectorID: "s1"})
	assert.Contains(t, q, `from(bucket: "events")`)
	assert.Contains(t, q, "range(start: -60m)")
	assert.Contains(t, q, `r._measurement == "control_event" and r._field == "summary"`)
	assert.Contains(t, q, `r.event_type == "alert"`)
	assert.Contains(t, q, `r.sector_id == "s1"`)
	assert.Contains(t, q, "limit(n: 5)")

	q = buildFlux("events", latestQuery{Minutes: 1, Limit: 1})
	assert.NotContains(t, q, "event_type ==")
	assert.NotContains(t, q, "sector_id ==")
}

func TestParseLatest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events/latest?limit=9000&minutes=0&type=alert&sector=%20s2%20", nil)
	p := parseLatest(r, 1440, 20, 2000)
	assert.Equal(t, 500, p.Limit)
	assert.Equal(t, 1, p.Minutes)
	assert.Equal(t, 2000, p.TimeoutMS)
	assert.Equal(t, "alert", p.EventType)
	assert.Equal(t, "s2", p.SectorID)

	p = parseLatest(httptest.NewRequest(http.MethodGet, "/events/latest?limit=abc", nil), 1440, 20, 2000)
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, 1440, p.Minutes)
}

func TestHealth_WithoutBroker(t *testing.T) {
	w := newWriter((&capture{}).write, nil, quiet())

	rec := httptest.NewRecorder()
	NewHealthHandler(nil, w, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)

	rec = httptest.NewRecorder()
	NewReadyHandler(nil, w, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false}`, rec.Body.String())
}
