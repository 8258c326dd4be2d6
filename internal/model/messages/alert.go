package messages

import "time"

const (
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Alert is the human readable companion of every valve command, published on iot/alerts.
type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Severity  string    `json:"severity"` // "warning" | "info"
	Message   string    `json:"message"`
	RuleID    string    `json:"rule_id,omitempty"`
	SectorID  string    `json:"sector_id,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
}
