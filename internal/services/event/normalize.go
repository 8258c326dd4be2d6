package event

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const Measurement = "control_event"

// EventToPoint normalizes a CommonEvent into an InfluxDB point.
func EventToPoint(evt CommonEvent) *write.Point {
	tags := map[string]string{
		"event_type": evt.EventType,
		"severity":   evt.Severity,
	}
	if evt.SourceService != "" {
		tags["source_service"] = evt.SourceService
	}
	if evt.SectorID != "" {
		tags["sector_id"] = evt.SectorID
	}
	if evt.DeviceID != "" {
		tags["device_id"] = evt.DeviceID
	}
	if evt.RuleID != "" {
		tags["rule_id"] = evt.RuleID
	}

	fields := make(map[string]interface{}, len(evt.Fields)+2)
	for k, v := range evt.Fields {
		fields[k] = v
	}
	// /events/latest reads this field back
	fields["summary"] = evt.Summary
	if _, ok := fields["count"]; !ok {
		fields["count"] = int64(1)
	}

	return influxdb2.NewPoint(Measurement, tags, fields, evt.Timestamp)
}
